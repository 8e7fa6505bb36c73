package cache

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/glow-audio/internal/clock"
)

// DefaultSweepInterval is how often the sweeper enforces store limits.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically calls Store.Sweep in a background goroutine.
type Sweeper struct {
	store    *Store
	clock    clock.Clock
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu   sync.Mutex
	runs int64
	last time.Time
}

// StartSweeper starts sweeping store every interval of clk.
func StartSweeper(store *Store, clk clock.Clock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	sw := &Sweeper{
		store:    store,
		clock:    clk,
		interval: interval,
		stop:     make(chan struct{}),
	}

	sw.wg.Add(1)
	go func() {
		defer sw.wg.Done()

		for {
			select {
			case <-sw.clock.After(sw.interval):
				sw.sweep()
			case <-sw.stop:
				return
			}
		}
	}()

	return sw
}

func (sw *Sweeper) sweep() {
	evicted := sw.store.Sweep()

	sw.mu.Lock()
	sw.runs++
	sw.last = sw.clock.Now()
	sw.mu.Unlock()

	if evicted > 0 {
		log.Info("Cache sweep evicted entries", "count", evicted)
	}
}

// Runs returns how many sweeps have completed.
func (sw *Sweeper) Runs() int64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.runs
}

// LastRun returns when the last sweep completed.
func (sw *Sweeper) LastRun() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.last
}

// Stop cancels the sweeper and waits for it to exit. It is safe to call
// more than once.
func (sw *Sweeper) Stop() {
	sw.stopOnce.Do(func() {
		close(sw.stop)
		sw.wg.Wait()
	})
}
