//go:build !nocgo
// +build !nocgo

package backend

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
	"github.com/dgnsrekt/glow-audio/internal/probe"
)

// endPollInterval is how often a playing handle checks for end of stream.
const endPollInterval = 50 * time.Millisecond

// Oto plays through the system audio device. Only one oto context may
// exist per process, so a single Oto should be shared.
type Oto struct {
	context    *oto.Context
	sampleRate int
	channels   int
	mu         sync.Mutex
	closed     bool
}

// NewOto initializes the audio device.
func NewOto(sampleRate, channels int) (*Oto, error) {
	if sampleRate <= 0 {
		sampleRate = probe.DefaultSampleRate
	}
	if channels <= 0 {
		channels = probe.DefaultChannels
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}

	// Wait for context to be ready
	<-readyChan

	log.Debug("Audio device ready", "sampleRate", sampleRate, "channels", channels)
	return &Oto{context: ctx, sampleRate: sampleRate, channels: channels}, nil
}

// Supports implements FormatSupport.
func (o *Oto) Supports(format probe.Format) bool {
	switch format {
	case probe.FormatMP3, probe.FormatWAV, probe.FormatPCM:
		return true
	default:
		return false
	}
}

// Open implements Opener. The decoded layout must match the device layout.
func (o *Oto) Open(payload []byte, format probe.Format) (Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, errors.New("audio device is closed")
	}

	stream, err := Decode(payload, format, o.sampleRate, o.channels)
	if err != nil {
		return nil, err
	}
	if stream.SampleRate != o.sampleRate || stream.Channels != o.channels {
		return nil, fmt.Errorf("%w: stream is %dHz/%dch, device is %dHz/%dch",
			audioerr.ErrUnsupportedFormat, stream.SampleRate, stream.Channels, o.sampleRate, o.channels)
	}

	reader := &countingReader{r: stream.Reader}
	h := &otoHandle{
		player: o.context.NewPlayer(reader),
		reader: reader,
		stream: stream,
		events: make(chan Event, 1),
		done:   make(chan struct{}),
	}
	return h, nil
}

// Close implements Backend. The oto context itself lives until exit.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

type otoHandle struct {
	player *oto.Player
	reader *countingReader
	stream *Stream

	mu      sync.Mutex
	started bool
	paused  bool
	closed  bool
	rate    float64

	events    chan Event
	eventOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func (h *otoHandle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return errors.New("handle is closed")
	}
	if h.started {
		return nil
	}

	h.player.Play()
	if err := h.player.Err(); err != nil {
		h.player.Pause()
		return fmt.Errorf("failed to start player: %w", err)
	}
	h.started = true

	h.wg.Add(1)
	go h.watch()
	return nil
}

// watch emits the ended or error event once the player drains.
func (h *otoHandle) watch() {
	defer h.wg.Done()

	ticker := time.NewTicker(endPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.player.Err(); err != nil {
				h.emit(Event{Type: EventError, Err: err})
				return
			}
			h.mu.Lock()
			paused := h.paused
			h.mu.Unlock()
			if !paused && !h.player.IsPlaying() {
				h.emit(Event{Type: EventEnded})
				return
			}
		}
	}
}

func (h *otoHandle) emit(ev Event) {
	h.eventOnce.Do(func() {
		h.events <- ev
	})
}

func (h *otoHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = true
	h.player.Pause()
	return nil
}

func (h *otoHandle) Resume() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.paused = false
	h.player.Play()
	return nil
}

func (h *otoHandle) Seek(pos time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.player.Seek(h.stream.BytesAt(pos), io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	return nil
}

func (h *otoHandle) SetVolume(volume float64) {
	h.player.SetVolume(volume)
}

// SetRate records the rate. oto has no resampler, so playback speed is
// unchanged.
func (h *otoHandle) SetRate(rate float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rate != 1.0 && h.rate != rate {
		log.Debug("Playback rate is not supported by the oto backend", "rate", rate)
	}
	h.rate = rate
}

func (h *otoHandle) Position() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()

	played := h.reader.Offset() - int64(h.player.BufferedSize())
	if played < 0 {
		played = 0
	}
	frames := played / int64(h.stream.FrameSize())
	return time.Duration(frames) * time.Second / time.Duration(h.stream.SampleRate)
}

func (h *otoHandle) Duration() time.Duration {
	return h.stream.Duration()
}

func (h *otoHandle) Buffered() []Range {
	d := h.stream.Duration()
	if d <= 0 {
		return nil
	}
	return []Range{{Start: 0, End: d}}
}

func (h *otoHandle) Events() <-chan Event {
	return h.events
}

func (h *otoHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		h.mu.Lock()
		h.closed = true
		h.player.Pause()
		err = h.player.Close()
		h.mu.Unlock()
	})
	return err
}
