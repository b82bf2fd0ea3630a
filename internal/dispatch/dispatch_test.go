package dispatch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fpang/lynx-studio/internal/apperr"
	"github.com/fpang/lynx-studio/internal/provider"
	"github.com/fpang/lynx-studio/internal/retry"
	"github.com/fpang/lynx-studio/internal/usage"
)

// recordingSleeper records requested waits without sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testPolicy(s retry.Sleeper) *retry.Policy {
	b := retry.DefaultBackoff
	b.Jitter = 0
	return &retry.Policy{MaxRetries: retry.DefaultMaxRetries, Backoff: b, Sleeper: s}
}

func image(i int) *provider.Image {
	return &provider.Image{Data: []byte("img-" + strconv.Itoa(i)), MIMEType: "image/png"}
}

var rateLimited = &apperr.Error{Kind: apperr.KindRateLimited, Message: "429 RESOURCE_EXHAUSTED: quota", StatusCode: 429}

func newOrchestrator(store usage.Store) (*Orchestrator, *recordingSleeper) {
	s := &recordingSleeper{}
	return New(Options{Policy: testPolicy(s), Usage: store, Delay: DefaultDelay, Sleeper: s}), s
}

func TestRun_SingleVariantSuccess(t *testing.T) {
	store := usage.NewMemoryStore(nil)
	o, _ := newOrchestrator(store)
	var calls atomic.Int32

	out, err := o.Run(context.Background(), 1, func(ctx context.Context, i int) (*provider.Image, error) {
		calls.Add(1)
		return image(i), nil
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.Images) != 1 || calls.Load() != 1 {
		t.Errorf("images = %d, calls = %d; want 1, 1", len(out.Images), calls.Load())
	}
	if n, _ := store.Read(context.Background()); n != 1 {
		t.Errorf("usage = %d, want 1", n)
	}
}

func TestRun_SingleVariantPropagatesError(t *testing.T) {
	o, _ := newOrchestrator(nil)
	notFound := &apperr.Error{Kind: apperr.KindProviderClientError, Message: "404 NOT_FOUND", StatusCode: 404}

	_, err := o.Run(context.Background(), 1, func(context.Context, int) (*provider.Image, error) {
		return nil, notFound
	}, nil)
	if err != notFound {
		t.Errorf("Run() error = %v, want the attempt's error unchanged", err)
	}
}

func TestRun_PartialSuccessKeepsOrder(t *testing.T) {
	store := usage.NewMemoryStore(nil)
	o, sleeper := newOrchestrator(store)
	calls := make([]int, 3)

	out, err := o.Run(context.Background(), 3, func(_ context.Context, i int) (*provider.Image, error) {
		calls[i]++
		if i == 1 {
			return nil, rateLimited
		}
		return image(i), nil
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.Images) != 2 || string(out.Images[0].Data) != "img-0" || string(out.Images[1].Data) != "img-2" {
		t.Fatalf("images = %v, want [img-0 img-2]", out.Images)
	}
	if calls[1] != 4 {
		t.Errorf("calls for variant 1 = %d, want 4", calls[1])
	}
	if out.Attempts[1].Err == nil || out.Attempts[1].Calls != 4 {
		t.Errorf("attempt 1 = %+v, want recorded failure", out.Attempts[1])
	}
	if out.Calls() != 6 {
		t.Errorf("Calls() = %d, want 6", out.Calls())
	}
	if n, _ := store.Read(context.Background()); n != 2 {
		t.Errorf("usage = %d, want 2", n)
	}

	// Two inter-variant delays plus three backoff waits for variant 1.
	want := []time.Duration{DefaultDelay, 4 * time.Second, 8 * time.Second, 16 * time.Second, DefaultDelay}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", sleeper.delays, want)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Errorf("delays[%d] = %v, want %v", i, sleeper.delays[i], want[i])
		}
	}
}

func TestRun_AllVariantsFailed(t *testing.T) {
	store := usage.NewMemoryStore(nil)
	o, _ := newOrchestrator(store)

	_, err := o.Run(context.Background(), 3, func(context.Context, int) (*provider.Image, error) {
		return nil, rateLimited
	}, nil)
	if apperr.KindOf(err) != apperr.KindAllVariantsFailed {
		t.Fatalf("KindOf() = %v, want AllVariantsFailed", apperr.KindOf(err))
	}
	if !errors.Is(err, rateLimited) {
		t.Errorf("error does not wrap the last provider error: %v", err)
	}
	if got := apperr.UserMessage(err); got != "Rate limit exceeded. Please wait a moment before trying again." {
		t.Errorf("UserMessage() = %q", got)
	}
	if n, _ := store.Read(context.Background()); n != 0 {
		t.Errorf("usage = %d, want 0", n)
	}
}

func TestRun_CancelBetweenVariants(t *testing.T) {
	store := usage.NewMemoryStore(nil)
	o, _ := newOrchestrator(store)
	cancel := &CancelFlag{}
	var calls atomic.Int32

	_, err := o.Run(context.Background(), 3, func(_ context.Context, i int) (*provider.Image, error) {
		calls.Add(1)
		cancel.Cancel()
		return image(i), nil
	}, cancel)
	if apperr.KindOf(err) != apperr.KindCancelled {
		t.Fatalf("KindOf() = %v, want Cancelled", apperr.KindOf(err))
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no attempt after cancel)", calls.Load())
	}
	// The in-flight attempt finished and was counted; its result is discarded.
	if n, _ := store.Read(context.Background()); n != 1 {
		t.Errorf("usage = %d, want 1", n)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	o, _ := newOrchestrator(nil)
	cancel := &CancelFlag{}
	cancel.Cancel()

	_, err := o.Run(context.Background(), 2, func(context.Context, int) (*provider.Image, error) {
		t.Fatal("call made after cancel")
		return nil, nil
	}, cancel)
	if !errors.Is(err, apperr.ErrCancelled) {
		t.Errorf("Run() error = %v, want Cancelled", err)
	}
}

func TestRun_ContextCancelledDuringDelay(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	o := New(Options{
		Policy: testPolicy(nil),
		Delay:  time.Hour,
		Sleeper: retry.SleeperFunc(func(ctx context.Context, d time.Duration) error {
			stop()
			return ctx.Err()
		}),
	})

	_, err := o.Run(ctx, 2, func(_ context.Context, i int) (*provider.Image, error) {
		return image(i), nil
	}, nil)
	if apperr.KindOf(err) != apperr.KindCancelled {
		t.Errorf("KindOf() = %v, want Cancelled", apperr.KindOf(err))
	}
}

func TestRun_ParallelOrdersByIndex(t *testing.T) {
	store := usage.NewMemoryStore(nil)
	o := New(Options{
		Policy:      testPolicy(&recordingSleeper{}),
		Usage:       store,
		Parallelism: 4,
	})
	release := make(chan struct{})
	var started atomic.Int32

	out, err := o.Run(context.Background(), 4, func(_ context.Context, i int) (*provider.Image, error) {
		if started.Add(1) == 4 {
			close(release)
		}
		<-release
		// Finish in reverse index order.
		time.Sleep(time.Duration(4-i) * 5 * time.Millisecond)
		return image(i), nil
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i, img := range out.Images {
		if string(img.Data) != "img-"+strconv.Itoa(i) {
			t.Errorf("Images[%d] = %s", i, img.Data)
		}
	}
	if n, _ := store.Read(context.Background()); n != 4 {
		t.Errorf("usage = %d, want 4", n)
	}
}

func TestRun_ParallelPartialFailure(t *testing.T) {
	o := New(Options{Policy: testPolicy(&recordingSleeper{}), Parallelism: 3})

	out, err := o.Run(context.Background(), 3, func(_ context.Context, i int) (*provider.Image, error) {
		if i == 1 {
			return nil, &apperr.Error{Kind: apperr.KindProviderClientError, Message: "400"}
		}
		return image(i), nil
	}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(out.Images) != 2 || string(out.Images[1].Data) != "img-2" {
		t.Errorf("images = %v", out.Images)
	}
	if len(out.Attempts) != 3 || out.Attempts[1].Succeeded() {
		t.Errorf("attempts = %+v", out.Attempts)
	}
}

func TestCancelFlagNil(t *testing.T) {
	var f *CancelFlag
	f.Cancel()
	if f.Cancelled() {
		t.Error("nil flag reports cancelled")
	}
}
