package audio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
	"github.com/dgnsrekt/glow-audio/internal/backend"
	"github.com/dgnsrekt/glow-audio/internal/clock"
	"github.com/dgnsrekt/glow-audio/internal/config"
	"github.com/dgnsrekt/glow-audio/internal/playback"
	"github.com/dgnsrekt/glow-audio/internal/probe"
)

func newTestManager(t *testing.T, cfg config.Config) (*Manager, *backend.Mock) {
	t.Helper()
	mock := backend.NewMock()
	m, err := New(cfg,
		WithBackend(mock),
		WithClock(clock.NewFake(time.Unix(1000, 0))),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Destroy() })
	return m, mock
}

func quietConfig() config.Config {
	cfg := config.Default()
	cfg.Playback.FadeEnabled = false
	return cfg
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.MaxEntries = 0
	if _, err := New(cfg, WithBackend(backend.NewMock())); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestManager_CacheRoundTrip(t *testing.T) {
	m, _ := newTestManager(t, quietConfig())
	ctx := context.Background()

	payload := make([]byte, 176400) // one second of 16-bit stereo PCM
	if err := m.Put(ctx, "intro", payload); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := m.Get("intro")
	if err != nil || !ok {
		t.Fatalf("Get = ok:%v err:%v", ok, err)
	}
	if len(got) != len(payload) {
		t.Errorf("len = %d, want %d", len(got), len(payload))
	}

	meta, ok, err := m.Metadata("intro")
	if err != nil || !ok {
		t.Fatalf("Metadata = ok:%v err:%v", ok, err)
	}
	if meta.Format != probe.FormatPCM {
		t.Errorf("format = %q, want pcm", meta.Format)
	}
	if !meta.Valid || meta.Duration != time.Second {
		t.Errorf("metadata = %+v, want valid 1s", meta)
	}

	stats, err := m.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.EntryCount != 1 || stats.TotalBytes != int64(len(payload)) {
		t.Errorf("stats = %+v", stats)
	}

	if _, ok, _ := m.Get("missing"); ok {
		t.Error("Get(missing) should miss")
	}

	if err := m.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if keys, _ := m.Keys(); len(keys) != 0 {
		t.Errorf("keys after Clear = %v", keys)
	}
}

func TestManager_PlayKey(t *testing.T) {
	m, mock := newTestManager(t, quietConfig())
	ctx := context.Background()

	err := m.PlayKey(ctx, "nope", nil)
	if !errors.Is(err, audioerr.ErrInvalidInput) {
		t.Fatalf("PlayKey(miss) = %v, want ErrInvalidInput", err)
	}

	if err := m.Put(ctx, "greeting", make([]byte, 4000)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ended := make(chan error, 1)
	if err := m.PlayKey(ctx, "greeting", func(err error) { ended <- err }); err != nil {
		t.Fatalf("PlayKey failed: %v", err)
	}

	state, err := m.PlaybackState()
	if err != nil {
		t.Fatalf("PlaybackState failed: %v", err)
	}
	if state.State != playback.StatePlaying {
		t.Fatalf("state = %s, want playing", state.State)
	}
	if mock.Last().Size() != 4000 {
		t.Errorf("backend got %d bytes, want 4000", mock.Last().Size())
	}

	mock.Last().Finish()
	select {
	case err := <-ended:
		if err != nil {
			t.Errorf("onEnded got %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onEnded was not called")
	}
}

func TestManager_PlaybackControls(t *testing.T) {
	m, mock := newTestManager(t, quietConfig())

	if err := m.Play(context.Background(), make([]byte, 176400), nil); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if err := m.SetVolume(0.5); err != nil {
		t.Fatalf("SetVolume failed: %v", err)
	}
	if err := m.SetPlaybackRate(2); err != nil {
		t.Fatalf("SetPlaybackRate failed: %v", err)
	}
	if err := m.Pause(); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := m.Seek(500 * time.Millisecond); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}

	h := mock.Last()
	if !h.IsPaused() {
		t.Error("handle should be paused")
	}
	if h.Volume() != 0.5 || h.Rate() != 2 {
		t.Errorf("volume=%v rate=%v, want 0.5/2", h.Volume(), h.Rate())
	}

	if err := m.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	state, _ := m.PlaybackState()
	if state.State != playback.StateIdle {
		t.Errorf("state = %s, want idle", state.State)
	}
	if h.Closes() != 1 || m.LiveHandles() != 0 {
		t.Errorf("closes=%d live=%d, want 1/0", h.Closes(), m.LiveHandles())
	}
}

func TestManager_PlayAsync(t *testing.T) {
	m, mock := newTestManager(t, quietConfig())

	results, err := m.PlayAsync(context.Background(), make([]byte, 1000))
	if err != nil {
		t.Fatalf("PlayAsync failed: %v", err)
	}
	mock.Last().Finish()

	select {
	case r := <-results:
		if r.Err != nil || r.State != playback.StateEnded {
			t.Errorf("result = %+v, want ended", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no result")
	}
}

func TestManager_DestroyIsIdempotent(t *testing.T) {
	// Fade stays enabled: Destroy must not wait on it.
	m, mock := newTestManager(t, config.Default())
	ctx := context.Background()

	if err := m.Put(ctx, "a", make([]byte, 1000)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := m.Play(ctx, make([]byte, 1000), nil); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	h := mock.Last()

	done := make(chan struct{})
	go func() {
		_ = m.Destroy()
		_ = m.Destroy()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Destroy blocked")
	}

	if h.Closes() != 1 {
		t.Errorf("handle closed %d times, want 1", h.Closes())
	}
	if m.LiveHandles() != 0 {
		t.Errorf("live handles = %d, want 0", m.LiveHandles())
	}
	if !mock.IsClosed() {
		t.Error("backend should be closed")
	}
}

func TestManager_OperationsAfterDestroy(t *testing.T) {
	m, _ := newTestManager(t, quietConfig())
	if err := m.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	ctx := context.Background()
	payload := make([]byte, 100)

	ops := []struct {
		name string
		fn   func() error
	}{
		{"Put", func() error { return m.Put(ctx, "k", payload) }},
		{"Get", func() error { _, _, err := m.Get("k"); return err }},
		{"Contains", func() error { _, err := m.Contains("k"); return err }},
		{"Metadata", func() error { _, _, err := m.Metadata("k"); return err }},
		{"Delete", func() error { _, err := m.Delete("k"); return err }},
		{"Keys", func() error { _, err := m.Keys(); return err }},
		{"Clear", m.Clear},
		{"Stats", func() error { _, err := m.Stats(); return err }},
		{"Play", func() error { return m.Play(ctx, payload, nil) }},
		{"PlayAsync", func() error { _, err := m.PlayAsync(ctx, payload); return err }},
		{"PlayKey", func() error { return m.PlayKey(ctx, "k", nil) }},
		{"Pause", m.Pause},
		{"Resume", m.Resume},
		{"Stop", m.Stop},
		{"Seek", func() error { return m.Seek(time.Second) }},
		{"SetVolume", func() error { return m.SetVolume(0.5) }},
		{"SetPlaybackRate", func() error { return m.SetPlaybackRate(1) }},
		{"PlaybackState", func() error { _, err := m.PlaybackState(); return err }},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			if err := op.fn(); !errors.Is(err, ErrDestroyed) {
				t.Errorf("%s after Destroy = %v, want ErrDestroyed", op.name, err)
			}
		})
	}
}
