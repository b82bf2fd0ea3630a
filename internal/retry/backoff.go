package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff computes the wait before a retry.
type Backoff struct {
	// Base is multiplied by 2^retry.
	Base time.Duration
	// Floor is the minimum computed delay.
	Floor time.Duration
	// Ceiling caps the exponential schedule. Suggested delays are not capped.
	Ceiling time.Duration
	// Margin is added to a provider-suggested delay.
	Margin time.Duration
	// Jitter is the exclusive upper bound of the random addition.
	Jitter time.Duration
	// Rand returns a value in [0, n). Nil uses math/rand/v2.
	Rand func(n time.Duration) time.Duration
}

// DefaultBackoff is 2s * 2^retry clamped to [4s, 65s], plus up to 1s of jitter.
var DefaultBackoff = Backoff{
	Base:    2 * time.Second,
	Floor:   4 * time.Second,
	Ceiling: 65 * time.Second,
	Margin:  time.Second,
	Jitter:  time.Second,
}

// Delay returns the wait before retry number retry (1-based). A positive
// suggested delay from the provider replaces the exponential schedule.
func (b Backoff) Delay(retry int, suggested time.Duration) time.Duration {
	var d time.Duration
	if suggested > 0 {
		d = suggested + b.Margin
	} else {
		if retry < 1 {
			retry = 1
		}
		d = b.Base
		for i := 0; i < retry && d < b.Ceiling; i++ {
			d *= 2
		}
		if d < b.Floor {
			d = b.Floor
		}
		if b.Ceiling > 0 && d > b.Ceiling {
			d = b.Ceiling
		}
	}
	return d + b.jitter()
}

func (b Backoff) jitter() time.Duration {
	if b.Jitter <= 0 {
		return 0
	}
	if b.Rand != nil {
		return b.Rand(b.Jitter)
	}
	return rand.N(b.Jitter)
}

// Sleeper waits for d or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// RealSleeper sleeps on a timer.
var RealSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
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
})
