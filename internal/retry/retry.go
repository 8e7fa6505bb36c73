// Package retry runs an operation a bounded number of times with linear
// backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/glow-audio/internal/audioerr"
	"github.com/dgnsrekt/glow-audio/internal/clock"
)

// Policy configures attempts and backoff.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy returns 3 attempts with 100ms linear backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

// MaxWait is the longest an always failing operation can spend backing off.
func (p Policy) MaxWait() time.Duration {
	var total time.Duration
	for i := 1; i <= p.MaxAttempts; i++ {
		total += p.Backoff(i)
	}
	return total
}

// Op is a single attempt. attempt is 1-based.
type Op func(ctx context.Context, attempt int) error

// Scheduler runs operations under a Policy.
type Scheduler struct {
	policy Policy
	clock  clock.Clock

	// OnFailure, if set, is called after each failed attempt.
	OnFailure func(attempt int, err error)
}

// New creates a Scheduler.
func New(policy Policy, clk clock.Clock) *Scheduler {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy().MaxAttempts
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{policy: policy, clock: clk}
}

// Policy returns the scheduler's policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Attempt calls op until it succeeds or MaxAttempts calls have failed. Every
// failure is followed by Backoff(attempt), the last one included, so an
// exhausted run takes MaxWait in total. It returns the number of failed
// attempts and, when all failed, the last error.
func (s *Scheduler) Attempt(ctx context.Context, op Op) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, fmt.Errorf("%w: %w", audioerr.ErrCanceled, err)
		}

		err := op(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				log.Debug("Operation succeeded after retry", "attempt", attempt)
			}
			return attempt - 1, nil
		}
		if errors.Is(err, audioerr.ErrCanceled) || errors.Is(err, context.Canceled) {
			return attempt - 1, err
		}
		lastErr = err

		if s.OnFailure != nil {
			s.OnFailure(attempt, err)
		}

		delay := s.policy.Backoff(attempt)
		log.Warn("Attempt failed", "attempt", attempt, "of", s.policy.MaxAttempts, "backoff", delay, "error", err)

		select {
		case <-s.clock.After(delay):
		case <-ctx.Done():
			return attempt, fmt.Errorf("%w: %w", audioerr.ErrCanceled, ctx.Err())
		}
	}

	return s.policy.MaxAttempts, fmt.Errorf("failed after %d attempts: %w", s.policy.MaxAttempts, lastErr)
}
