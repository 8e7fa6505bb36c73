// Package audio is the facade over the audio cache and the playback
// session. It is the only entry point callers need.
package audio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
	"github.com/dgnsrekt/glow-audio/internal/backend"
	"github.com/dgnsrekt/glow-audio/internal/cache"
	"github.com/dgnsrekt/glow-audio/internal/clock"
	"github.com/dgnsrekt/glow-audio/internal/config"
	"github.com/dgnsrekt/glow-audio/internal/lifecycle"
	"github.com/dgnsrekt/glow-audio/internal/playback"
	"github.com/dgnsrekt/glow-audio/internal/probe"
)

// Re-exported so callers do not import internal packages.
type (
	// Stats is a cache snapshot.
	Stats = cache.Stats
	// PlaybackState is a playback snapshot.
	PlaybackState = playback.Snapshot
	// Metadata describes a cached payload.
	Metadata = probe.Metadata
	// Result reports how a play finished.
	Result = playback.Result
	// EndedFunc is called once when a play ends or fails on its own.
	EndedFunc = playback.EndedFunc
)

// ErrDestroyed is returned by every operation after Destroy.
var ErrDestroyed = audioerr.ErrDestroyed

// Option configures a Manager.
type Option func(*options)

type options struct {
	clock       clock.Clock
	backend     backend.Backend
	probeOpener probe.Opener
}

// WithClock injects the time source.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithBackend injects the playback backend. Without it the system audio
// device is opened.
func WithBackend(b backend.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithProbeOpener replaces the decoder used to probe metadata.
func WithProbeOpener(op probe.Opener) Option {
	return func(o *options) { o.probeOpener = op }
}

// Manager owns the cache, the playback session and the resource registry.
type Manager struct {
	config   config.Config
	clock    clock.Clock
	backend  backend.Backend
	registry *lifecycle.Registry
	store    *cache.Store
	sweeper  *cache.Sweeper

	mu          sync.Mutex
	session     *playback.Session
	destroyed   bool
	destroyOnce sync.Once
}

// New creates a Manager and starts its periodic cache sweep.
func New(cfg config.Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio configuration: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if o.probeOpener == nil {
		o.probeOpener = &probe.DecoderOpener{
			SampleRate: cfg.Probe.SampleRate,
			Channels:   cfg.Probe.Channels,
		}
	}
	if o.backend == nil {
		b, err := backend.NewOto(cfg.Probe.SampleRate, cfg.Probe.Channels)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio device: %w", err)
		}
		o.backend = b
	}

	registry := lifecycle.NewRegistry()
	prober := probe.New(registry, o.probeOpener, o.clock, cfg.Prober())
	store := cache.NewStore(cfg.CacheStore(), o.clock, prober)

	m := &Manager{
		config:   cfg,
		clock:    o.clock,
		backend:  o.backend,
		registry: registry,
		store:    store,
		sweeper:  cache.StartSweeper(store, o.clock, cfg.Cache.SweepInterval),
	}

	log.Debug("Audio manager ready",
		"maxEntries", cfg.Cache.MaxEntries,
		"maxBytes", cfg.Cache.MaxBytes,
		"sweep", cfg.Cache.SweepInterval)
	return m, nil
}

func (m *Manager) checkDestroyed() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return ErrDestroyed
	}
	return nil
}

// playbackSession returns the session, creating it on first use.
func (m *Manager) playbackSession() (*playback.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.destroyed {
		return nil, ErrDestroyed
	}
	if m.session == nil {
		m.session = playback.NewSession(m.backend, m.registry, m.clock, m.config.Session())
	}
	return m.session, nil
}

// Put caches payload under key.
func (m *Manager) Put(ctx context.Context, key string, payload []byte) error {
	if err := m.checkDestroyed(); err != nil {
		return err
	}
	return m.store.Put(ctx, key, payload)
}

// Get returns the cached payload for key.
func (m *Manager) Get(key string) ([]byte, bool, error) {
	if err := m.checkDestroyed(); err != nil {
		return nil, false, err
	}
	payload, ok := m.store.Get(key)
	return payload, ok, nil
}

// Contains reports whether key is cached without counting an access.
func (m *Manager) Contains(key string) (bool, error) {
	if err := m.checkDestroyed(); err != nil {
		return false, err
	}
	return m.store.Contains(key), nil
}

// Metadata returns the probed metadata of a cached payload.
func (m *Manager) Metadata(key string) (Metadata, bool, error) {
	if err := m.checkDestroyed(); err != nil {
		return Metadata{}, false, err
	}
	meta, ok := m.store.Metadata(key)
	return meta, ok, nil
}

// Delete removes key from the cache.
func (m *Manager) Delete(key string) (bool, error) {
	if err := m.checkDestroyed(); err != nil {
		return false, err
	}
	return m.store.Delete(key), nil
}

// Keys returns the cached keys in sorted order.
func (m *Manager) Keys() ([]string, error) {
	if err := m.checkDestroyed(); err != nil {
		return nil, err
	}
	return m.store.Keys(), nil
}

// Clear empties the cache.
func (m *Manager) Clear() error {
	if err := m.checkDestroyed(); err != nil {
		return err
	}
	m.store.Clear()
	return nil
}

// Stats returns cache statistics.
func (m *Manager) Stats() (Stats, error) {
	if err := m.checkDestroyed(); err != nil {
		return Stats{}, err
	}
	return m.store.Stats(), nil
}

// Play stops any active playback and plays payload.
func (m *Manager) Play(ctx context.Context, payload []byte, onEnded EndedFunc) error {
	s, err := m.playbackSession()
	if err != nil {
		return err
	}
	return s.Play(ctx, payload, onEnded)
}

// PlayAsync plays payload and returns a channel that receives the play's
// single Result.
func (m *Manager) PlayAsync(ctx context.Context, payload []byte) (<-chan Result, error) {
	s, err := m.playbackSession()
	if err != nil {
		return nil, err
	}
	return s.PlayAsync(ctx, payload)
}

// PlayKey plays a cached payload. A miss fails with ErrInvalidInput.
func (m *Manager) PlayKey(ctx context.Context, key string, onEnded EndedFunc) error {
	payload, ok, err := m.Get(key)
	if err != nil {
		return err
	}
	if !ok {
		return audioerr.New(audioerr.ErrInvalidInput, audioerr.KindInput, "no cached payload").
			WithContext("key", key)
	}
	return m.Play(ctx, payload, onEnded)
}

// Pause pauses playback.
func (m *Manager) Pause() error {
	s, err := m.playbackSession()
	if err != nil {
		return err
	}
	return s.Pause()
}

// Resume resumes paused playback.
func (m *Manager) Resume() error {
	s, err := m.playbackSession()
	if err != nil {
		return err
	}
	return s.Resume()
}

// Stop stops playback.
func (m *Manager) Stop() error {
	s, err := m.playbackSession()
	if err != nil {
		return err
	}
	return s.Stop()
}

// Seek moves the playhead.
func (m *Manager) Seek(pos time.Duration) error {
	s, err := m.playbackSession()
	if err != nil {
		return err
	}
	return s.Seek(pos)
}

// SetVolume sets the playback volume.
func (m *Manager) SetVolume(v float64) error {
	s, err := m.playbackSession()
	if err != nil {
		return err
	}
	return s.SetVolume(v)
}

// SetPlaybackRate sets the playback rate.
func (m *Manager) SetPlaybackRate(r float64) error {
	s, err := m.playbackSession()
	if err != nil {
		return err
	}
	return s.SetPlaybackRate(r)
}

// PlaybackState returns the playback snapshot.
func (m *Manager) PlaybackState() (PlaybackState, error) {
	s, err := m.playbackSession()
	if err != nil {
		return PlaybackState{}, err
	}
	return s.Snapshot()
}

// LiveHandles returns the number of unreleased resource handles.
func (m *Manager) LiveHandles() int {
	return m.registry.Live()
}

// Destroy stops the sweep, aborts any fade or load, releases every handle
// and empties the cache. Later calls do nothing; every other operation
// fails with ErrDestroyed afterwards.
func (m *Manager) Destroy() error {
	m.destroyOnce.Do(func() {
		m.mu.Lock()
		m.destroyed = true
		session := m.session
		m.mu.Unlock()

		m.sweeper.Stop()

		if session != nil {
			if err := session.Close(); err != nil {
				log.Warn("Failed to close playback session", "error", err)
			}
		}
		if err := m.registry.Close(); err != nil {
			log.Warn("Failed to release handles", "error", err)
		}
		m.store.Clear()
		if err := m.backend.Close(); err != nil {
			log.Warn("Failed to close audio backend", "error", err)
		}

		log.Debug("Audio manager destroyed")
	})
	return nil
}
