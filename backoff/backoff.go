// Package backoff provides delay strategies for polling job status and
// for re-dialing event streams, plus a context-aware Poll loop.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant always waits Interval.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration { return c.Interval }

// Exponential doubles the delay each attempt up to Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration

	// Jitter draws each delay uniformly from [delay/2, delay] so that
	// many pollers started together spread out.
	Jitter bool
}

// NewExponential creates an exponential strategy without jitter.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// NewExponentialWithJitter creates an exponential strategy with jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Jitter: true}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && d > float64(e.Max) {
		d = float64(e.Max)
	}
	if e.Jitter {
		d = d/2 + rand.Float64()*d/2 //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(d)
}

// DefaultPolling is the strategy the client polls job status with:
// 250ms doubling to 5s, jittered.
func DefaultPolling() Strategy {
	return NewExponentialWithJitter(250*time.Millisecond, 5*time.Second)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Poll calls check until it reports done or returns an error, sleeping
// between calls according to s. It returns ctx.Err() if ctx ends first.
func Poll(ctx context.Context, s Strategy, check func(ctx context.Context) (done bool, err error)) error {
	for attempt := 1; ; attempt++ {
		done, err := check(ctx)
		if err != nil || done {
			return err
		}
		if err := Sleep(ctx, s.Delay(attempt)); err != nil {
			return err
		}
	}
}
