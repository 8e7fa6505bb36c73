package retry

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
	"github.com/dgnsrekt/glow-audio/internal/clock"
)

func newFakeClock() *clock.Fake {
	clk := clock.NewFake(time.Unix(0, 0))
	clk.SetAutoAdvance(true)
	return clk
}

func TestAttempt_AlwaysFails(t *testing.T) {
	clk := newFakeClock()
	s := New(DefaultPolicy(), clk)
	boom := errors.New("device busy")

	calls := 0
	var failures []int
	s.OnFailure = func(attempt int, err error) { failures = append(failures, attempt) }

	failed, err := s.Attempt(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected last error to be wrapped, got %v", err)
	}
	if calls != 3 || failed != 3 {
		t.Errorf("calls=%d failed=%d, want 3/3", calls, failed)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	if got := clk.Waits(); !reflect.DeepEqual(got, want) {
		t.Errorf("backoff = %v, want %v", got, want)
	}
	if !reflect.DeepEqual(failures, []int{1, 2, 3}) {
		t.Errorf("OnFailure attempts = %v", failures)
	}
	if elapsed := clk.Now().Sub(time.Unix(0, 0)); elapsed != s.Policy().MaxWait() {
		t.Errorf("elapsed %v, want %v", elapsed, s.Policy().MaxWait())
	}
}

func TestAttempt_SucceedsAfterRetry(t *testing.T) {
	clk := newFakeClock()
	s := New(DefaultPolicy(), clk)

	failed, err := s.Attempt(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt < 2 {
			return errors.New("not yet")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}
	if got := clk.Waits(); !reflect.DeepEqual(got, []time.Duration{100 * time.Millisecond}) {
		t.Errorf("backoff = %v", got)
	}
}

func TestAttempt_FirstTry(t *testing.T) {
	clk := newFakeClock()
	s := New(DefaultPolicy(), clk)

	failed, err := s.Attempt(context.Background(), func(context.Context, int) error { return nil })
	if err != nil || failed != 0 {
		t.Errorf("got failed=%d err=%v", failed, err)
	}
	if len(clk.Waits()) != 0 {
		t.Error("no backoff expected on success")
	}
}

func TestAttempt_CanceledDuringBackoff(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0)) // timers never fire on their own
	s := New(DefaultPolicy(), clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Attempt(ctx, func(context.Context, int) error { return errors.New("fail") })
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for clk.PendingTimers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never started backing off")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, audioerr.ErrCanceled) {
			t.Errorf("expected ErrCanceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Attempt did not return after cancel")
	}
}

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{MaxAttempts: 4, BaseDelay: 50 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 50 * time.Millisecond},
		{2, 100 * time.Millisecond},
		{4, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
	if p.MaxWait() != 500*time.Millisecond {
		t.Errorf("MaxWait = %v, want 500ms", p.MaxWait())
	}
}
