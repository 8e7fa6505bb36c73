package backend

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/glow-audio/internal/probe"
)

// ErrSimulatedStart is returned by scripted start failures.
var ErrSimulatedStart = errors.New("simulated start failure")

// Mock is a Backend that plays nothing. Tests script start failures and
// drive the ended and error events by hand.
type Mock struct {
	mu            sync.Mutex
	supported     map[probe.Format]bool
	startFailures int // remaining failures, negative means always
	startErr      error
	openErr       error
	duration      time.Duration
	autoFinish    bool
	handles       []*MockHandle

	opens  atomic.Int32
	closed atomic.Bool
}

// NewMock creates a mock supporting mp3, wav and pcm.
func NewMock() *Mock {
	return &Mock{
		supported: map[probe.Format]bool{
			probe.FormatMP3: true,
			probe.FormatWAV: true,
			probe.FormatPCM: true,
		},
		startErr: ErrSimulatedStart,
	}
}

// SetSupported replaces the supported format set.
func (m *Mock) SetSupported(formats ...probe.Format) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.supported = make(map[probe.Format]bool, len(formats))
	for _, f := range formats {
		m.supported[f] = true
	}
}

// FailStarts makes the next n Start calls fail with err. A negative n fails
// every call.
func (m *Mock) FailStarts(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startFailures = n
	if err != nil {
		m.startErr = err
	}
}

// FailOpen makes Open fail with err until called again with nil.
func (m *Mock) FailOpen(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// SetDuration overrides the duration reported by new handles.
func (m *Mock) SetDuration(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duration = d
}

// SetAutoFinish makes started handles end on their own once their duration
// has passed in wall time.
func (m *Mock) SetAutoFinish(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoFinish = on
}

// Supports implements FormatSupport.
func (m *Mock) Supports(format probe.Format) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.supported[format]
}

// Open implements Opener.
func (m *Mock) Open(payload []byte, format probe.Format) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openErr != nil {
		return nil, m.openErr
	}

	duration := m.duration
	if duration == 0 {
		duration = probe.PCMDuration(len(payload), probe.DefaultSampleRate, probe.DefaultChannels)
	}

	h := &MockHandle{
		mock:     m,
		format:   format,
		size:     len(payload),
		duration: duration,
		auto:     m.autoFinish,
		volume:   1.0,
		rate:     1.0,
		events:   make(chan Event, 1),
	}
	m.handles = append(m.handles, h)
	m.opens.Add(1)
	return h, nil
}

// Close implements Backend.
func (m *Mock) Close() error {
	m.closed.Store(true)
	return nil
}

// IsClosed reports whether Close was called.
func (m *Mock) IsClosed() bool {
	return m.closed.Load()
}

// Opens returns how many handles were opened.
func (m *Mock) Opens() int {
	return int(m.opens.Load())
}

// Closes returns the total number of handle Close calls.
func (m *Mock) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, h := range m.handles {
		total += h.Closes()
	}
	return total
}

// Handles returns every handle opened so far.
func (m *Mock) Handles() []*MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockHandle, len(m.handles))
	copy(out, m.handles)
	return out
}

// Last returns the most recently opened handle.
func (m *Mock) Last() *MockHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.handles) == 0 {
		return nil
	}
	return m.handles[len(m.handles)-1]
}

// nextStartErr consumes one scripted failure.
func (m *Mock) nextStartErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.startFailures < 0:
		return m.startErr
	case m.startFailures > 0:
		m.startFailures--
		return m.startErr
	}
	return nil
}

// MockHandle is a Handle returned by Mock.
type MockHandle struct {
	mock     *Mock
	format   probe.Format
	size     int
	duration time.Duration
	auto     bool

	mu       sync.Mutex
	timer    *time.Timer
	playing  bool
	paused   bool
	position time.Duration
	volume   float64
	rate     float64
	volumes  []float64

	starts    atomic.Int32
	closes    atomic.Int32
	events    chan Event
	eventOnce sync.Once
}

// Start implements Handle.
func (h *MockHandle) Start() error {
	h.starts.Add(1)
	if err := h.mock.nextStartErr(); err != nil {
		return err
	}
	h.mu.Lock()
	if h.closes.Load() > 0 {
		h.mu.Unlock()
		return errors.New("handle is closed")
	}
	h.playing = true
	if h.auto && h.timer == nil {
		h.timer = time.AfterFunc(h.duration, h.Finish)
	}
	h.mu.Unlock()
	return nil
}

// Pause implements Handle.
func (h *MockHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
	return nil
}

// Resume implements Handle.
func (h *MockHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = false
	return nil
}

// Seek implements Handle.
func (h *MockHandle) Seek(pos time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.position = pos
	return nil
}

// SetVolume implements Handle and records every value set.
func (h *MockHandle) SetVolume(volume float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.volume = volume
	h.volumes = append(h.volumes, volume)
}

// SetRate implements Handle.
func (h *MockHandle) SetRate(rate float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rate = rate
}

// Position implements Handle.
func (h *MockHandle) Position() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.position
}

// Duration implements Handle.
func (h *MockHandle) Duration() time.Duration {
	return h.duration
}

// Buffered implements Handle. The whole payload is in memory.
func (h *MockHandle) Buffered() []Range {
	if h.duration <= 0 {
		return nil
	}
	return []Range{{Start: 0, End: h.duration}}
}

// Events implements Handle.
func (h *MockHandle) Events() <-chan Event {
	return h.events
}

// Close implements Handle.
func (h *MockHandle) Close() error {
	h.closes.Add(1)
	h.mu.Lock()
	h.playing = false
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()
	return nil
}

// Finish simulates the stream reaching its end.
func (h *MockHandle) Finish() {
	h.mu.Lock()
	h.position = h.duration
	h.playing = false
	h.mu.Unlock()
	h.emit(Event{Type: EventEnded})
}

// Fail simulates a playback error after start.
func (h *MockHandle) Fail(err error) {
	h.emit(Event{Type: EventError, Err: err})
}

// EmitEnded sends an ended event even if one was already delivered; used to
// check that duplicate events are ignored.
func (h *MockHandle) EmitEnded() {
	select {
	case h.events <- Event{Type: EventEnded}:
	default:
	}
}

func (h *MockHandle) emit(ev Event) {
	h.eventOnce.Do(func() {
		h.events <- ev
	})
}

// Format returns the format the handle was opened with.
func (h *MockHandle) Format() probe.Format { return h.format }

// Size returns the payload size.
func (h *MockHandle) Size() int { return h.size }

// Starts returns how many times Start was called.
func (h *MockHandle) Starts() int { return int(h.starts.Load()) }

// Closes returns how many times Close was called.
func (h *MockHandle) Closes() int { return int(h.closes.Load()) }

// IsPlaying reports whether the handle was started and not closed or paused.
func (h *MockHandle) IsPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playing && !h.paused
}

// IsPaused reports whether the handle is paused.
func (h *MockHandle) IsPaused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.paused
}

// Volume returns the current volume.
func (h *MockHandle) Volume() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.volume
}

// Volumes returns every volume set on the handle, in order.
func (h *MockHandle) Volumes() []float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]float64, len(h.volumes))
	copy(out, h.volumes)
	return out
}

// Rate returns the current rate.
func (h *MockHandle) Rate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rate
}
