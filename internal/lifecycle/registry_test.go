package lifecycle

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
)

type countingCloser struct {
	closes atomic.Int32
	err    error
}

func (c *countingCloser) Close() error {
	c.closes.Add(1)
	return c.err
}

func opener(c io.Closer) func() (io.Closer, error) {
	return func() (io.Closer, error) { return c, nil }
}

func TestRegistry_AcquireRelease(t *testing.T) {
	reg := NewRegistry()
	res := &countingCloser{}

	h, err := reg.Acquire("playback", opener(res))
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if h.ID == "" {
		t.Error("handle should have an ID")
	}
	if reg.Live() != 1 || !reg.Contains(h) {
		t.Fatalf("handle not registered, live=%d", reg.Live())
	}
	if h.Resource() != res {
		t.Error("Resource should return the opened resource")
	}

	if err := reg.Release(h); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := reg.Release(h); err != nil {
		t.Fatalf("second Release should be a no-op, got %v", err)
	}
	if got := res.closes.Load(); got != 1 {
		t.Errorf("Close called %d times, want 1", got)
	}
	if reg.Live() != 0 {
		t.Errorf("Live = %d, want 0", reg.Live())
	}
}

func TestRegistry_ReleaseUnknownIsNoop(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Release(nil); err != nil {
		t.Errorf("Release(nil) = %v", err)
	}
	stranger := &Handle{ID: "not-registered", resource: &countingCloser{}}
	if err := reg.Release(stranger); err != nil {
		t.Errorf("Release(unregistered) = %v", err)
	}
	if stranger.resource.(*countingCloser).closes.Load() != 0 {
		t.Error("unregistered handle must not be closed")
	}
}

func TestRegistry_OpenFailure(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("device busy")

	_, err := reg.Acquire("probe", func() (io.Closer, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
	if reg.Live() != 0 {
		t.Errorf("failed open must not register, live=%d", reg.Live())
	}
}

func TestRegistry_ReleaseAllOnce(t *testing.T) {
	reg := NewRegistry()
	resources := make([]*countingCloser, 5)
	for i := range resources {
		resources[i] = &countingCloser{}
		if _, err := reg.Acquire("playback", opener(resources[i])); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}

	if err := reg.ReleaseAll(); err != nil {
		t.Fatalf("ReleaseAll failed: %v", err)
	}
	if err := reg.ReleaseAll(); err != nil {
		t.Fatalf("second ReleaseAll failed: %v", err)
	}

	for i, r := range resources {
		if got := r.closes.Load(); got != 1 {
			t.Errorf("resource %d closed %d times, want 1", i, got)
		}
	}
}

func TestRegistry_ReleaseErrorStillForgets(t *testing.T) {
	reg := NewRegistry()
	res := &countingCloser{err: errors.New("close failed")}
	h, _ := reg.Acquire("playback", opener(res))

	if err := reg.Release(h); err == nil {
		t.Fatal("expected release error")
	}
	if reg.Contains(h) {
		t.Error("handle should be forgotten even when close fails")
	}
	_ = reg.Release(h)
	if res.closes.Load() != 1 {
		t.Errorf("Close called %d times, want 1", res.closes.Load())
	}
}

func TestRegistry_CloseRefusesAcquire(t *testing.T) {
	reg := NewRegistry()
	res := &countingCloser{}
	_, _ = reg.Acquire("playback", opener(res))

	if err := reg.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if res.closes.Load() != 1 {
		t.Error("Close should release outstanding handles")
	}

	_, err := reg.Acquire("playback", opener(&countingCloser{}))
	if !errors.Is(err, audioerr.ErrDestroyed) {
		t.Errorf("Acquire after Close = %v, want ErrDestroyed", err)
	}
}

func TestRegistry_ConcurrentRelease(t *testing.T) {
	reg := NewRegistry()
	res := &countingCloser{}
	h, _ := reg.Acquire("playback", opener(res))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = reg.Release(h)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = reg.ReleaseAll()
	}()
	wg.Wait()

	if got := res.closes.Load(); got != 1 {
		t.Errorf("Close called %d times under contention, want 1", got)
	}
}
