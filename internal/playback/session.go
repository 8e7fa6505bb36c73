// Package playback implements the single playback session: a state machine
// that owns at most one playing handle at a time.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
	"github.com/dgnsrekt/glow-audio/internal/backend"
	"github.com/dgnsrekt/glow-audio/internal/clock"
	"github.com/dgnsrekt/glow-audio/internal/lifecycle"
	"github.com/dgnsrekt/glow-audio/internal/metrics"
	"github.com/dgnsrekt/glow-audio/internal/probe"
	"github.com/dgnsrekt/glow-audio/internal/retry"
)

// HandleKind is the registry kind used for playback handles.
const HandleKind = "playback"

// Volume and rate ranges.
const (
	MinVolume = 0.0
	MaxVolume = 1.0
	MinRate   = 0.25
	MaxRate   = 4.0
)

// Config holds the session defaults.
type Config struct {
	Volume          float64
	Rate            float64
	FadeEnabled     bool
	FadeDuration    time.Duration
	PreferredFormat probe.Format
	Fallbacks       []probe.Format
	Retry           retry.Policy
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		Volume:          1.0,
		Rate:            1.0,
		FadeEnabled:     true,
		FadeDuration:    DefaultFadeDuration,
		PreferredFormat: probe.FormatMP3,
		Fallbacks:       []probe.Format{probe.FormatWAV, probe.FormatOGG, probe.FormatPCM},
		Retry:           retry.DefaultPolicy(),
	}
}

// Session is the playback state machine. Operations are serialized, except
// that a Play does not hold the session while it loads: the session reports
// Loading meanwhile, and a new Play, Stop or Close takes over and releases
// the loading handle.
type Session struct {
	backend   backend.Backend
	registry  *lifecycle.Registry
	clock     clock.Clock
	scheduler *retry.Scheduler
	fader     *Fader
	config    Config

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closing   atomic.Bool

	loadMu     sync.Mutex
	loadCancel context.CancelFunc
	loadGen    uint64

	mu         sync.Mutex
	closed     bool
	state      State
	gen        uint64
	handle     *lifecycle.Handle
	stream     backend.Handle
	watchStop  chan struct{}

	// Acquired by a play that is still loading.
	pending       *lifecycle.Handle
	pendingStream backend.Handle

	volume     float64
	rate       float64
	position   time.Duration
	duration   time.Duration
	format     probe.Format
	retryCount int
	lastErr    *audioerr.Error
	onEnded    EndedFunc
	done       chan Result
}

// NewSession creates an idle session.
func NewSession(b backend.Backend, registry *lifecycle.Registry, clk clock.Clock, config Config) *Session {
	if clk == nil {
		clk = clock.New()
	}
	if config.Rate == 0 {
		config.Rate = 1.0
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		backend:   b,
		registry:  registry,
		clock:     clk,
		scheduler: retry.New(config.Retry, clk),
		fader:     NewFader(clk, config.FadeDuration),
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		volume:    clampVolume(config.Volume),
		rate:      clampRate(config.Rate),
	}
	s.scheduler.OnFailure = func(attempt int, err error) {
		metrics.RecordStartRetry()
	}
	return s
}

// Play stops any active playback and starts payload. onEnded, if not nil,
// is called once when this play ends or fails on its own.
func (s *Session) Play(ctx context.Context, payload []byte, onEnded EndedFunc) error {
	_, err := s.start(ctx, payload, onEnded)
	return err
}

// PlayAsync is Play with a completion channel. The channel receives exactly
// one Result, including when the play is stopped or replaced.
func (s *Session) PlayAsync(ctx context.Context, payload []byte) (<-chan Result, error) {
	return s.start(ctx, payload, nil)
}

func (s *Session) start(ctx context.Context, payload []byte, onEnded EndedFunc) (<-chan Result, error) {
	if s.closing.Load() {
		return nil, audioerr.ErrDestroyed
	}
	if len(payload) == 0 {
		return nil, audioerr.New(audioerr.ErrInvalidInput, audioerr.KindInput, "play")
	}

	s.cancelLoad()

	loadCtx, cancel := context.WithCancel(ctx)
	stopAfter := context.AfterFunc(s.ctx, cancel)
	defer func() {
		stopAfter()
		cancel()
	}()

	gen, format, done, err := s.begin(payload, onEnded, cancel)
	if err != nil {
		return nil, err
	}
	defer s.clearLoad(gen)

	// Loading runs without the session lock. A newer Play, Stop or Close
	// takes the session over and releases whatever this play holds.
	h, err := s.registry.Acquire(HandleKind, func() (io.Closer, error) {
		return s.backend.Open(payload, format)
	})
	stream, err := s.attach(gen, h, err)
	if err != nil {
		return nil, err
	}

	failed, err := s.scheduler.Attempt(loadCtx, func(context.Context, int) error {
		return stream.Start()
	})
	if err := s.commit(gen, format, failed, err); err != nil {
		return nil, err
	}
	return done, nil
}

// begin stops the active play and moves to Loading under a new generation.
func (s *Session) begin(payload []byte, onEnded EndedFunc, cancel context.CancelFunc) (uint64, probe.Format, <-chan Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, "", nil, audioerr.ErrDestroyed
	}
	if s.state.IsActive() {
		s.stopLocked()
	}

	format := s.resolveFormat(payload)

	s.gen++
	gen := s.gen
	s.setLoad(gen, cancel)

	s.position = 0
	s.duration = 0
	s.format = format
	s.retryCount = 0
	s.lastErr = nil
	s.onEnded = onEnded
	s.done = make(chan Result, 1)
	s.setStateLocked(StateLoading)
	return gen, format, s.done, nil
}

// attach parks the freshly acquired handle as the pending one. A handle
// acquired for a play that was taken over meanwhile is released here.
func (s *Session) attach(gen uint64, h *lifecycle.Handle, acquireErr error) (backend.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.takenOverLocked(gen) {
		if err := s.registry.Release(h); err != nil {
			log.Warn("Failed to release playback handle", "error", err)
		}
		metrics.RecordPlaybackStart("canceled")
		return nil, fmt.Errorf("%w: play taken over while opening", audioerr.ErrCanceled)
	}
	if acquireErr != nil {
		metrics.RecordPlaybackStart("failed")
		return nil, s.failLocked(audioerr.New(fmt.Errorf("%w: %w", audioerr.ErrPlaybackFailed, acquireErr),
			audioerr.KindPlayback, "open playback handle"))
	}
	stream, ok := h.Resource().(backend.Handle)
	if !ok {
		_ = s.registry.Release(h)
		metrics.RecordPlaybackStart("failed")
		return nil, s.failLocked(audioerr.New(audioerr.ErrPlaybackFailed, audioerr.KindPlayback, "resource is not a playback handle"))
	}

	s.pending, s.pendingStream = h, stream
	stream.SetVolume(s.volume)
	stream.SetRate(s.rate)
	return stream, nil
}

// commit applies the outcome of the start attempts for play gen.
func (s *Session) commit(gen uint64, format probe.Format, failed int, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.takenOverLocked(gen) {
		// Whoever took over already released the pending handle.
		metrics.RecordPlaybackStart("canceled")
		log.Debug("Play superseded while loading", "attempts", failed)
		if !errors.Is(err, audioerr.ErrCanceled) {
			err = fmt.Errorf("%w: play taken over while loading", audioerr.ErrCanceled)
		}
		return err
	}

	s.retryCount = failed
	if err != nil {
		if errors.Is(err, audioerr.ErrCanceled) {
			metrics.RecordPlaybackStart("canceled")
			log.Debug("Play canceled while loading", "attempts", failed)
			s.releaseLocked()
			s.onEnded = nil
			s.finishLocked(Result{State: StateIdle, Err: err})
			s.setStateLocked(StateIdle)
			return err
		}
		metrics.RecordPlaybackStart("failed")
		return s.failLocked(audioerr.New(fmt.Errorf("%w: %w", audioerr.ErrPlaybackFailed, err),
			audioerr.KindPlayback, "start playback").
			WithContext("attempts", failed).
			WithContext("format", format.String()))
	}

	s.handle, s.stream = s.pending, s.pendingStream
	s.pending, s.pendingStream = nil, nil

	s.duration = s.stream.Duration()
	s.setStateLocked(StatePlaying)
	metrics.RecordPlaybackStart("success")
	s.watchLocked(gen, s.stream)

	log.Debug("Playback started", "format", format, "duration", s.duration, "retries", failed)
	return nil
}

// takenOverLocked reports whether play gen was replaced, stopped or closed
// while it was loading (must be called with lock held).
func (s *Session) takenOverLocked(gen uint64) bool {
	return s.closed || s.gen != gen || s.state != StateLoading
}

// resolveFormat picks the payload's own format when the backend supports
// it, then the preferred format, then each fallback. When nothing is
// supported the detected format is used anyway.
func (s *Session) resolveFormat(payload []byte) probe.Format {
	detected := probe.DetectFormat(payload)

	chain := make([]probe.Format, 0, len(s.config.Fallbacks)+2)
	chain = append(chain, detected)
	if s.config.PreferredFormat != "" {
		chain = append(chain, s.config.PreferredFormat)
	}
	chain = append(chain, s.config.Fallbacks...)

	for _, f := range chain {
		if f != "" && s.backend.Supports(f) {
			if f != detected {
				log.Debug("Using fallback format", "detected", detected, "format", f)
			}
			return f
		}
	}

	log.Warn("No supported audio format, playing anyway",
		"detected", detected,
		"error", audioerr.ErrUnsupportedFormat)
	return detected
}

// watchLocked waits for the handle's single event in the background.
func (s *Session) watchLocked(gen uint64, stream backend.Handle) {
	stop := make(chan struct{})
	s.watchStop = stop

	go func() {
		select {
		case ev := <-stream.Events():
			s.handleEvent(gen, ev)
		case <-stop:
		}
	}()
}

// handleEvent applies an ended or error event for play gen. Events for a
// handle that was already released are ignored.
func (s *Session) handleEvent(gen uint64, ev backend.Event) {
	s.mu.Lock()
	if s.closed || s.gen != gen || s.handle == nil {
		s.mu.Unlock()
		log.Debug("Ignoring stale playback event", "event", ev.Type)
		return
	}

	var cbErr error
	switch ev.Type {
	case backend.EventEnded:
		if s.state != StatePlaying && s.state != StatePaused {
			s.mu.Unlock()
			return
		}
		s.releaseLocked()
		s.position = s.duration
		s.setStateLocked(StateEnded)
		s.finishLocked(Result{State: StateEnded})

	case backend.EventError:
		cause := ev.Err
		if cause == nil {
			cause = errors.New("unknown playback error")
		}
		cbErr = s.failLocked(audioerr.New(fmt.Errorf("%w: %w", audioerr.ErrPlaybackFailed, cause),
			audioerr.KindPlayback, "playback error"))

	default:
		s.mu.Unlock()
		return
	}

	cb := s.onEnded
	s.onEnded = nil
	s.mu.Unlock()

	if cb != nil {
		cb(cbErr)
	}
}

// Pause pauses playback. It is a no-op unless playing.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audioerr.ErrDestroyed
	}
	if s.state != StatePlaying {
		return nil
	}
	if err := s.stream.Pause(); err != nil {
		return fmt.Errorf("failed to pause: %w", err)
	}
	s.setStateLocked(StatePaused)
	return nil
}

// Resume continues paused playback. Outside Paused it fails with
// ErrInvalidState, which is also recorded as the last error; the state is
// left unchanged.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audioerr.ErrDestroyed
	}
	if s.state != StatePaused {
		e := audioerr.New(audioerr.ErrInvalidState, audioerr.KindState, "resume").
			WithContext("state", s.state.String()).
			WithTimestamp(s.clock.Now())
		s.lastErr = e
		return e
	}
	if err := s.stream.Resume(); err != nil {
		return fmt.Errorf("failed to resume: %w", err)
	}
	s.setStateLocked(StatePlaying)
	return nil
}

// Stop returns the session to idle, fading out first when enabled. A play
// still loading is aborted.
func (s *Session) Stop() error {
	s.cancelLoad()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audioerr.ErrDestroyed
	}
	s.stopLocked()
	return nil
}

// stopLocked fades and releases the active handle (must be called with lock
// held). Fade failures never skip the release.
func (s *Session) stopLocked() {
	if s.state == StateIdle {
		return
	}

	if s.stream != nil && s.state == StatePlaying && s.config.FadeEnabled && s.ctx.Err() == nil {
		if err := s.fader.FadeOut(s.ctx, s.stream, s.volume); err != nil {
			log.Debug("Fade out interrupted", "error", err)
		}
	}

	r := Result{State: StateIdle}
	if s.state == StateLoading {
		r.Err = fmt.Errorf("%w: play taken over while loading", audioerr.ErrCanceled)
	}

	s.releaseLocked()
	s.onEnded = nil
	s.position = 0
	s.finishLocked(r)
	s.setStateLocked(StateIdle)
}

// Seek moves the playhead, clamped to [0, duration]. It is a no-op without
// an active handle.
func (s *Session) Seek(pos time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audioerr.ErrDestroyed
	}
	if s.stream == nil {
		return nil
	}

	if pos < 0 {
		pos = 0
	}
	if s.duration > 0 && pos > s.duration {
		pos = s.duration
	}
	if err := s.stream.Seek(pos); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}
	s.position = pos
	return nil
}

// SetVolume clamps v to [0, 1] and applies it to the active or loading
// handle. Without one it becomes the volume of the next play.
func (s *Session) SetVolume(v float64) error {
	if math.IsNaN(v) {
		return audioerr.New(audioerr.ErrInvalidInput, audioerr.KindInput, "volume is NaN")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audioerr.ErrDestroyed
	}
	s.volume = clampVolume(v)
	if st := s.outputLocked(); st != nil {
		st.SetVolume(s.volume)
	}
	return nil
}

// SetPlaybackRate clamps r to [0.25, 4] and applies it like SetVolume.
func (s *Session) SetPlaybackRate(r float64) error {
	if math.IsNaN(r) {
		return audioerr.New(audioerr.ErrInvalidInput, audioerr.KindInput, "rate is NaN")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return audioerr.ErrDestroyed
	}
	s.rate = clampRate(r)
	if st := s.outputLocked(); st != nil {
		st.SetRate(s.rate)
	}
	return nil
}

// outputLocked returns the active stream, or the one still loading.
func (s *Session) outputLocked() backend.Handle {
	if s.stream != nil {
		return s.stream
	}
	return s.pendingStream
}

// Snapshot returns the current playback state.
func (s *Session) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Snapshot{}, audioerr.ErrDestroyed
	}

	snap := Snapshot{
		State:      s.state,
		Position:   s.position,
		Duration:   s.duration,
		Volume:     s.volume,
		Rate:       s.rate,
		Format:     s.format,
		RetryCount: s.retryCount,
		Error:      s.lastErr,
	}
	if s.stream != nil {
		snap.Position = s.stream.Position()
		snap.Buffered = s.stream.Buffered()
	}
	return snap, nil
}

// Close aborts any load or fade, releases the active handle and makes every
// later operation fail with ErrDestroyed. Calling it again does nothing.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		s.cancel()
		s.cancelLoad()

		s.mu.Lock()
		defer s.mu.Unlock()

		s.stopLocked()
		s.closed = true
	})
	return nil
}

// failLocked records e, releases the handle and moves to Error (must be
// called with lock held).
func (s *Session) failLocked(e *audioerr.Error) *audioerr.Error {
	e.WithTimestamp(s.clock.Now())
	s.lastErr = e
	s.releaseLocked()
	s.setStateLocked(StateError)
	s.finishLocked(Result{State: StateError, Err: e})

	log.Error("Playback failed", "code", e.Code, "error", e)
	return e
}

// releaseLocked stops the watcher and hands the active and pending handles
// back to the registry (must be called with lock held).
func (s *Session) releaseLocked() {
	if s.watchStop != nil {
		close(s.watchStop)
		s.watchStop = nil
	}
	for _, h := range []*lifecycle.Handle{s.handle, s.pending} {
		if h == nil {
			continue
		}
		if err := s.registry.Release(h); err != nil {
			log.Warn("Failed to release playback handle", "error", err)
		}
	}
	s.handle, s.stream = nil, nil
	s.pending, s.pendingStream = nil, nil
}

// finishLocked delivers the play's single result (must be called with lock
// held).
func (s *Session) finishLocked(r Result) {
	if s.done != nil {
		s.done <- r
		s.done = nil
	}
}

func (s *Session) setStateLocked(to State) {
	if s.state == to {
		return
	}
	log.Debug("Playback state changed", "from", s.state, "to", to)
	metrics.RecordTransition(s.state.String(), to.String())
	s.state = to
}

func (s *Session) cancelLoad() {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.loadCancel != nil {
		s.loadCancel()
	}
}

func (s *Session) setLoad(gen uint64, cancel context.CancelFunc) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	s.loadGen = gen
	s.loadCancel = cancel
}

func (s *Session) clearLoad(gen uint64) {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()
	if s.loadGen == gen {
		s.loadCancel = nil
	}
}

func clampVolume(v float64) float64 {
	return math.Min(MaxVolume, math.Max(MinVolume, v))
}

func clampRate(r float64) float64 {
	return math.Min(MaxRate, math.Max(MinRate, r))
}
