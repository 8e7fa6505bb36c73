// Package clock provides the time source injected into the cache, the probe
// and the retry scheduler so tests can drive time by hand.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package the audio core depends on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real is the wall clock.
type Real struct{}

// New returns the wall clock.
func New() Clock { return Real{} }

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// After returns time.After(d).
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Fake is a manually driven clock. Timers fire when Advance moves time past
// their deadline. With auto-advance enabled, every After call moves time
// forward by its duration and fires immediately.
type Fake struct {
	mu          sync.Mutex
	now         time.Time
	timers      []*fakeTimer
	waits       []time.Duration
	autoAdvance bool
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFake creates a fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// SetAutoAdvance toggles auto-advance mode.
func (f *Fake) SetAutoAdvance(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoAdvance = enabled
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After registers a timer and records the requested wait.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.waits = append(f.waits, d)
	ch := make(chan time.Time, 1)

	if f.autoAdvance || d <= 0 {
		if d > 0 {
			f.now = f.now.Add(d)
		}
		ch <- f.now
		f.fireLocked()
		return ch
	}

	f.timers = append(f.timers, &fakeTimer{deadline: f.now.Add(d), ch: ch})
	return ch
}

// Advance moves time forward and fires due timers.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	f.fireLocked()
}

// Waits returns every duration passed to After, in call order.
func (f *Fake) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.waits))
	copy(out, f.waits)
	return out
}

// PendingTimers returns the number of timers that have not fired.
func (f *Fake) PendingTimers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// fireLocked fires due timers in deadline order (must be called with lock held).
func (f *Fake) fireLocked() {
	sort.SliceStable(f.timers, func(i, j int) bool {
		return f.timers[i].deadline.Before(f.timers[j].deadline)
	})

	remaining := f.timers[:0]
	for _, t := range f.timers {
		if !t.deadline.After(f.now) {
			t.ch <- f.now
			continue
		}
		remaining = append(remaining, t)
	}
	f.timers = remaining
}
