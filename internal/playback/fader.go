package playback

import (
	"context"
	"fmt"
	"time"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
	"github.com/dgnsrekt/glow-audio/internal/backend"
	"github.com/dgnsrekt/glow-audio/internal/clock"
)

// DefaultFadeDuration is the length of the stop fade.
const DefaultFadeDuration = 150 * time.Millisecond

const defaultFadeSteps = 10

// Fader ramps a handle's gain linearly to zero.
type Fader struct {
	clock    clock.Clock
	duration time.Duration
	steps    int
}

// NewFader creates a fader over duration.
func NewFader(clk clock.Clock, duration time.Duration) *Fader {
	if duration <= 0 {
		duration = DefaultFadeDuration
	}
	return &Fader{clock: clk, duration: duration, steps: defaultFadeSteps}
}

// FadeOut lowers the volume from `from` to zero in equal steps. It stops
// early when ctx is done.
func (f *Fader) FadeOut(ctx context.Context, h backend.Handle, from float64) error {
	interval := f.duration / time.Duration(f.steps)

	for i := 1; i <= f.steps; i++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: fade interrupted at step %d", audioerr.ErrCanceled, i)
		case <-f.clock.After(interval):
		}
		h.SetVolume(from * float64(f.steps-i) / float64(f.steps))
	}
	return nil
}
