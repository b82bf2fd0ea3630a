// Package dispatch runs the variant attempts of one request against a single
// provider and aggregates the successes in index order.
//
// Each attempt goes through the retry policy on its own. Attempts are serial
// with a fixed spacing by default; a positive Parallelism switches to bounded
// parallel dispatch paced by a token bucket. Either way the result list is
// ordered by variant index, never by completion order.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/provider"
	"github.com/fpang/lynx-studio/internal/retry"
	"github.com/fpang/lynx-studio/internal/usage"
)

// DefaultDelay separates the start of consecutive serial attempts.
const DefaultDelay = 2 * time.Second

// CallFunc performs one provider call for the given variant index.
type CallFunc func(ctx context.Context, variant int) (*provider.Image, error)

// CancelFlag is a cooperative cancellation flag checked between attempts.
// The zero value is ready to use; a nil *CancelFlag is never cancelled.
type CancelFlag struct {
	set atomic.Bool
}

// Cancel sets the flag.
func (f *CancelFlag) Cancel() {
	if f != nil {
		f.set.Store(true)
	}
}

// Cancelled reports whether Cancel has been called.
func (f *CancelFlag) Cancelled() bool {
	return f != nil && f.set.Load()
}

// Attempt records how one variant ended.
type Attempt struct {
	Index int
	Calls int
	Err   error
}

// Succeeded reports whether the attempt produced an image.
func (a Attempt) Succeeded() bool { return a.Err == nil && a.Calls > 0 }

// Outcome is the aggregate of a Run.
type Outcome struct {
	// Images holds successful results ordered by variant index.
	Images []*provider.Image
	// Attempts has one entry per started variant, in index order.
	Attempts []Attempt
}

// Calls returns the total provider calls made across all attempts.
func (o *Outcome) Calls() int {
	n := 0
	for _, a := range o.Attempts {
		n += a.Calls
	}
	return n
}

// Options configures an Orchestrator.
type Options struct {
	// Policy retries each attempt. Nil uses retry.DefaultPolicy.
	Policy *retry.Policy
	// Usage is incremented once per successful attempt. Nil disables counting.
	Usage usage.Store
	// Delay is the serial spacing and the parallel pacing interval.
	Delay time.Duration
	// Parallelism > 1 dispatches that many attempts concurrently.
	Parallelism int
	// Sleeper waits out the serial delay. Nil uses the policy's sleeper.
	Sleeper retry.Sleeper
	// OnAttempt, if set, is called as each attempt ends. Parallel dispatch
	// calls it from several goroutines.
	OnAttempt func(Attempt)
}

// Orchestrator realizes N variant attempts.
type Orchestrator struct {
	opts Options
}

// New returns an orchestrator. Zero-valued options take their defaults.
func New(opts Options) *Orchestrator {
	if opts.Policy == nil {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.Sleeper == nil {
		opts.Sleeper = opts.Policy.Sleeper
	}
	if opts.Sleeper == nil {
		opts.Sleeper = retry.RealSleeper
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	return &Orchestrator{opts: opts}
}

// Run dispatches n attempts of call. With n == 1 the attempt's error is
// returned as is. With n > 1 failed attempts are dropped and an
// AllVariantsFailed error is returned only when none succeeded. If cancel is
// set before Run returns, results are discarded and a Cancelled error is
// returned.
func (o *Orchestrator) Run(ctx context.Context, n int, call CallFunc, cancel *CancelFlag) (*Outcome, error) {
	if n < 1 {
		n = 1
	}
	var (
		attempts []Attempt
		images   []*provider.Image
		err      error
	)
	if o.opts.Parallelism > 1 && n > 1 {
		attempts, images, err = o.runParallel(ctx, n, call, cancel)
	} else {
		attempts, images, err = o.runSerial(ctx, n, call, cancel)
	}
	if err != nil {
		return nil, err
	}
	if cancel.Cancelled() {
		log.Info().Int("variants", n).Msg("Request cancelled, discarding results")
		return nil, apperr.Cancelled()
	}

	out := &Outcome{Attempts: attempts}
	for _, img := range images {
		if img != nil {
			out.Images = append(out.Images, img)
		}
	}

	if len(out.Images) == 0 {
		last := lastError(attempts)
		if n == 1 {
			return nil, last
		}
		return nil, apperr.Wrap(apperr.KindAllVariantsFailed, last, fmt.Sprintf("all %d variations failed", n))
	}
	if len(out.Images) < n {
		log.Warn().
			Int("requested", n).
			Int("succeeded", len(out.Images)).
			Msg("Some variations failed")
	}
	return out, nil
}

func (o *Orchestrator) runSerial(ctx context.Context, n int, call CallFunc, cancel *CancelFlag) ([]Attempt, []*provider.Image, error) {
	attempts := make([]Attempt, 0, n)
	images := make([]*provider.Image, n)
	for i := 0; i < n; i++ {
		if cancel.Cancelled() {
			return nil, nil, apperr.Cancelled()
		}
		if i > 0 && o.opts.Delay > 0 {
			if err := o.opts.Sleeper.Sleep(ctx, o.opts.Delay); err != nil {
				return nil, nil, apperr.Wrap(apperr.KindCancelled, err, "cancelled between variations")
			}
			if cancel.Cancelled() {
				return nil, nil, apperr.Cancelled()
			}
		}

		img, a := o.attempt(ctx, i, call)
		attempts = append(attempts, a)
		images[i] = img
		if apperr.KindOf(a.Err) == apperr.KindCancelled {
			return nil, nil, a.Err
		}
	}
	return attempts, images, nil
}

func (o *Orchestrator) runParallel(ctx context.Context, n int, call CallFunc, cancel *CancelFlag) ([]Attempt, []*provider.Image, error) {
	limit := rate.Inf
	if o.opts.Delay > 0 {
		limit = rate.Every(o.opts.Delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	var (
		mu       sync.Mutex
		attempts = make([]Attempt, n)
		images   = make([]*provider.Image, n)
		started  = make([]bool, n)
	)
	g := new(errgroup.Group)
	g.SetLimit(o.opts.Parallelism)
	for i := 0; i < n; i++ {
		if cancel.Cancelled() {
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			g.Wait()
			return nil, nil, apperr.Wrap(apperr.KindCancelled, err, "cancelled between variations")
		}
		g.Go(func() error {
			if cancel.Cancelled() {
				return nil
			}
			img, a := o.attempt(ctx, i, call)
			mu.Lock()
			attempts[i], images[i], started[i] = a, img, true
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if cancel.Cancelled() {
		return nil, nil, apperr.Cancelled()
	}
	ordered := make([]Attempt, 0, n)
	for i := range attempts {
		if started[i] {
			ordered = append(ordered, attempts[i])
		}
	}
	return ordered, images, nil
}

// attempt runs one variant through the retry policy and counts a success.
func (o *Orchestrator) attempt(ctx context.Context, i int, call CallFunc) (*provider.Image, Attempt) {
	img, res, err := retry.Do(ctx, o.opts.Policy, func(ctx context.Context, _ int) (*provider.Image, error) {
		return call(ctx, i)
	})
	a := Attempt{Index: i, Calls: res.Calls, Err: err}
	if err != nil {
		log.Warn().
			Err(err).
			Int("variant", i).
			Int("calls", res.Calls).
			Str("kind", apperr.KindOf(err).String()).
			Msg("Variation failed")
		img = nil
	} else if o.opts.Usage != nil {
		if uerr := o.opts.Usage.Increment(ctx); uerr != nil {
			log.Warn().Err(uerr).Int("variant", i).Msg("Failed to record usage")
		}
	}
	if o.opts.OnAttempt != nil {
		o.opts.OnAttempt(a)
	}
	return img, a
}

// lastError returns the error of the highest-indexed failed attempt.
func lastError(attempts []Attempt) error {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Err != nil {
			return attempts[i].Err
		}
	}
	return apperr.New(apperr.KindNoImage, "no image produced")
}
