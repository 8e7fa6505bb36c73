package cache

import (
	"fmt"
	"testing"
	"time"
)

// waitForTimer blocks until the sweeper is waiting on the fake clock.
func waitForTimer(t *testing.T, pending func() int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper never armed its timer")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSweeper_EnforcesLimits(t *testing.T) {
	s, clk := newTestStore(t, 10, 100)
	for i := 0; i < 4; i++ {
		mustPut(t, s, fmt.Sprintf("k%d", i), 25)
	}
	s.SetLimits(2, 100)

	sw := StartSweeper(s, clk, time.Minute)
	defer sw.Stop()

	waitForTimer(t, clk.PendingTimers)
	clk.Advance(59 * time.Second)
	if sw.Runs() != 0 || s.Stats().EntryCount != 4 {
		t.Fatalf("swept before the interval elapsed: runs=%d entries=%d", sw.Runs(), s.Stats().EntryCount)
	}

	clk.Advance(time.Second)
	deadline := time.Now().Add(2 * time.Second)
	for sw.Runs() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not run after the interval")
		}
		time.Sleep(time.Millisecond)
	}

	if got := s.Stats().EntryCount; got != 2 {
		t.Errorf("entries = %d, want 2", got)
	}
	if !sw.LastRun().Equal(clk.Now()) {
		t.Errorf("LastRun = %v, want %v", sw.LastRun(), clk.Now())
	}
}

func TestSweeper_RunsEveryInterval(t *testing.T) {
	s, clk := newTestStore(t, 10, 100)
	sw := StartSweeper(s, clk, time.Minute)
	defer sw.Stop()

	for want := int64(1); want <= 3; want++ {
		waitForTimer(t, clk.PendingTimers)
		clk.Advance(time.Minute)

		deadline := time.Now().Add(2 * time.Second)
		for sw.Runs() < want {
			if time.Now().After(deadline) {
				t.Fatalf("Runs = %d, want %d", sw.Runs(), want)
			}
			time.Sleep(time.Millisecond)
		}
	}
}

func TestSweeper_StopIsIdempotent(t *testing.T) {
	s, clk := newTestStore(t, 10, 100)
	sw := StartSweeper(s, clk, time.Hour)

	sw.Stop()
	sw.Stop()

	if sw.Runs() != 0 {
		t.Errorf("Runs = %d, want 0", sw.Runs())
	}
	if !sw.LastRun().IsZero() {
		t.Error("LastRun should be zero before any sweep")
	}
}
