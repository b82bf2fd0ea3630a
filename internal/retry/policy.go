package retry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/lynx-studio/internal/apperr"
)

// DefaultMaxRetries is the number of additional calls after the first.
const DefaultMaxRetries = 3

// Policy configures Do.
type Policy struct {
	MaxRetries int
	Backoff    Backoff
	Sleeper    Sleeper

	// RetryContentRejected retries safety rejections like empty responses.
	// When false they fail immediately.
	RetryContentRejected bool

	// OnRetry, if set, is called before each backoff wait.
	OnRetry func(retry int, delay time.Duration, err error)
}

// DefaultPolicy returns the production policy.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultBackoff,
		Sleeper:    RealSleeper,
	}
}

// Transient reports whether err should be retried under p.
func (p *Policy) Transient(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindRateLimited, apperr.KindOverloaded, apperr.KindNoImage:
		return true
	case apperr.KindContentRejected:
		return p.RetryContentRejected
	}
	return false
}

// Result describes how an attempt ended.
type Result struct {
	Calls int
	State State
}

// Do runs op under p. op receives the 0-based call number. On exhaustion the
// last observed error is returned. Context cancellation during a backoff
// wait returns a Cancelled error wrapping the last provider error.
func Do[T any](ctx context.Context, p *Policy, op func(ctx context.Context, call int) (T, error)) (T, Result, error) {
	var (
		zero    T
		value   T
		lastErr error
	)
	sleeper := p.Sleeper
	if sleeper == nil {
		sleeper = RealSleeper
	}

	m, action := NewMachine(p.MaxRetries).Next(EventStart)
	for {
		switch action {
		case ActionCall:
			v, err := op(ctx, m.Calls-1)
			switch {
			case err == nil:
				value = v
				m, action = m.Next(EventSuccess)
			case p.Transient(err):
				lastErr = err
				m, action = m.Next(EventTransientFailure)
			default:
				lastErr = err
				m, action = m.Next(EventPermanentFailure)
			}

		case ActionWait:
			retry := m.Calls
			var suggested time.Duration
			if e := apperr.As(lastErr); e != nil {
				suggested = e.RetryAfter
			}
			delay := p.Backoff.Delay(retry, suggested)
			log.Warn().
				Err(lastErr).
				Str("kind", apperr.KindOf(lastErr).String()).
				Int("retry", retry).
				Int("maxRetries", m.MaxRetries).
				Dur("delay", delay).
				Msg("Transient provider error, backing off")
			if p.OnRetry != nil {
				p.OnRetry(retry, delay, lastErr)
			}
			if err := sleeper.Sleep(ctx, delay); err != nil {
				m, action = m.Next(EventCancelled)
				lastErr = &apperr.Error{Kind: apperr.KindCancelled, Message: "cancelled during backoff", Err: errors.Join(err, lastErr)}
				continue
			}
			m, action = m.Next(EventWaitElapsed)

		case ActionReturnResult:
			return value, Result{Calls: m.Calls, State: m.State}, nil

		case ActionReturnError:
			if m.Calls > 1 && m.Retries() >= m.MaxRetries {
				log.Warn().
					Err(lastErr).
					Int("calls", m.Calls).
					Msg("Retries exhausted")
			}
			return zero, Result{Calls: m.Calls, State: m.State}, lastErr

		default:
			// Unreachable with a well-formed machine.
			return zero, Result{Calls: m.Calls, State: m.State}, apperr.New(apperr.KindUnknown, "retry machine stalled in %s", m.State)
		}
	}
}
