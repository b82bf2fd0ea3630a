package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fpang/lynx-studio/internal/apperr"
)

// fakeSleeper records requested delays without sleeping.
type fakeSleeper struct {
	delays []time.Duration
	err    error
}

func (f *fakeSleeper) Sleep(_ context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return f.err
}

func noJitter(time.Duration) time.Duration { return 0 }

func testPolicy(s *fakeSleeper) *Policy {
	b := DefaultBackoff
	b.Rand = noJitter
	return &Policy{MaxRetries: DefaultMaxRetries, Backoff: b, Sleeper: s}
}

func TestMachineTransitions(t *testing.T) {
	tests := []struct {
		name       string
		from       Machine
		ev         Event
		wantState  State
		wantAction Action
		wantCalls  int
	}{
		{"start", Machine{State: StateIdle, MaxRetries: 3}, EventStart, StateCalling, ActionCall, 1},
		{"success", Machine{State: StateCalling, Calls: 1, MaxRetries: 3}, EventSuccess, StateSucceeded, ActionReturnResult, 1},
		{"permanent", Machine{State: StateCalling, Calls: 1, MaxRetries: 3}, EventPermanentFailure, StateFailed, ActionReturnError, 1},
		{"transient with budget", Machine{State: StateCalling, Calls: 3, MaxRetries: 3}, EventTransientFailure, StateBackoffWait, ActionWait, 3},
		{"transient exhausted", Machine{State: StateCalling, Calls: 4, MaxRetries: 3}, EventTransientFailure, StateFailed, ActionReturnError, 4},
		{"wait elapsed", Machine{State: StateBackoffWait, Calls: 2, MaxRetries: 3}, EventWaitElapsed, StateCalling, ActionCall, 3},
		{"cancel while waiting", Machine{State: StateBackoffWait, Calls: 2, MaxRetries: 3}, EventCancelled, StateFailed, ActionReturnError, 2},
		{"no retries allowed", Machine{State: StateCalling, Calls: 1, MaxRetries: 0}, EventTransientFailure, StateFailed, ActionReturnError, 1},
		{"ignored event", Machine{State: StateIdle, MaxRetries: 3}, EventSuccess, StateIdle, ActionNone, 0},
		{"terminal ignores cancel", Machine{State: StateSucceeded, Calls: 1}, EventCancelled, StateSucceeded, ActionNone, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, action := tt.from.Next(tt.ev)
			if got.State != tt.wantState || action != tt.wantAction || got.Calls != tt.wantCalls {
				t.Errorf("Next(%v) = (%v, %v, calls=%d), want (%v, %v, calls=%d)",
					tt.ev, got.State, action, got.Calls, tt.wantState, tt.wantAction, tt.wantCalls)
			}
		})
	}
}

func TestMachineIsPure(t *testing.T) {
	m := Machine{State: StateCalling, Calls: 1, MaxRetries: 3}
	m.Next(EventTransientFailure)
	if m.State != StateCalling || m.Calls != 1 {
		t.Errorf("Next mutated receiver: %+v", m)
	}
}

func TestDo_RateLimitedMakesFourCalls(t *testing.T) {
	s := &fakeSleeper{}
	calls := 0
	_, res, err := Do(context.Background(), testPolicy(s), func(context.Context, int) (string, error) {
		calls++
		return "", &apperr.Error{Kind: apperr.KindRateLimited, Message: "429", StatusCode: 429}
	})

	if calls != 4 || res.Calls != 4 {
		t.Errorf("calls = %d (result %d), want 4", calls, res.Calls)
	}
	if apperr.KindOf(err) != apperr.KindRateLimited {
		t.Errorf("KindOf(err) = %v, want RateLimited", apperr.KindOf(err))
	}
	want := []time.Duration{4 * time.Second, 8 * time.Second, 16 * time.Second}
	if len(s.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", s.delays, want)
	}
	for i := range want {
		if s.delays[i] != want[i] {
			t.Errorf("delays[%d] = %v, want %v", i, s.delays[i], want[i])
		}
	}
}

func TestDo_ClientErrorShortCircuits(t *testing.T) {
	s := &fakeSleeper{}
	calls := 0
	_, res, err := Do(context.Background(), testPolicy(s), func(context.Context, int) (int, error) {
		calls++
		return 0, &apperr.Error{Kind: apperr.KindProviderClientError, Message: "404 NOT_FOUND", StatusCode: 404}
	})

	if calls != 1 || res.Calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if apperr.KindOf(err) != apperr.KindProviderClientError {
		t.Errorf("KindOf(err) = %v, want ProviderClientError", apperr.KindOf(err))
	}
	if len(s.delays) != 0 {
		t.Errorf("slept %v, want no sleeps", s.delays)
	}
}

func TestDo_SucceedsAfterOverload(t *testing.T) {
	s := &fakeSleeper{}
	got, res, err := Do(context.Background(), testPolicy(s), func(_ context.Context, call int) (string, error) {
		if call < 2 {
			return "", &apperr.Error{Kind: apperr.KindOverloaded, Message: "503", StatusCode: 503}
		}
		return "image", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got != "image" || res.Calls != 3 || res.State != StateSucceeded {
		t.Errorf("Do() = (%q, %+v)", got, res)
	}
}

func TestDo_HonoursSuggestedDelay(t *testing.T) {
	s := &fakeSleeper{}
	Do(context.Background(), testPolicy(s), func(_ context.Context, call int) (int, error) {
		if call == 0 {
			return 0, &apperr.Error{Kind: apperr.KindRateLimited, RetryAfter: 31 * time.Second}
		}
		return 1, nil
	})
	if len(s.delays) != 1 || s.delays[0] != 32*time.Second {
		t.Errorf("delays = %v, want [32s]", s.delays)
	}
}

func TestDo_EmptyResponseRetried(t *testing.T) {
	s := &fakeSleeper{}
	calls := 0
	Do(context.Background(), testPolicy(s), func(context.Context, int) (int, error) {
		calls++
		return 0, apperr.New(apperr.KindNoImage, "no image produced")
	})
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDo_ContentRejected(t *testing.T) {
	rejected := func(context.Context, int) (int, error) {
		return 0, &apperr.Error{Kind: apperr.KindContentRejected, FinishReason: "SAFETY"}
	}

	p := testPolicy(&fakeSleeper{})
	if _, res, _ := Do(context.Background(), p, rejected); res.Calls != 1 {
		t.Errorf("default policy calls = %d, want 1", res.Calls)
	}

	p.RetryContentRejected = true
	if _, res, _ := Do(context.Background(), p, rejected); res.Calls != 4 {
		t.Errorf("RetryContentRejected calls = %d, want 4", res.Calls)
	}
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	s := &fakeSleeper{err: context.Canceled}
	calls := 0
	_, res, err := Do(context.Background(), testPolicy(s), func(context.Context, int) (int, error) {
		calls++
		return 0, apperr.New(apperr.KindOverloaded, "busy")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, apperr.ErrCancelled) {
		t.Errorf("err = %v, want Cancelled", err)
	}
	if res.State != StateFailed {
		t.Errorf("State = %v, want Failed", res.State)
	}
}

func TestDo_OnRetryHook(t *testing.T) {
	p := testPolicy(&fakeSleeper{})
	var retries []int
	p.OnRetry = func(retry int, _ time.Duration, _ error) { retries = append(retries, retry) }
	Do(context.Background(), p, func(context.Context, int) (int, error) {
		return 0, apperr.New(apperr.KindRateLimited, "quota")
	})
	if len(retries) != 3 || retries[0] != 1 || retries[2] != 3 {
		t.Errorf("retries = %v, want [1 2 3]", retries)
	}
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Floor: 5 * time.Second, Ceiling: 65 * time.Second, Margin: time.Second, Rand: noJitter}

	tests := []struct {
		retry     int
		suggested time.Duration
		want      time.Duration
	}{
		{1, 0, 5 * time.Second},
		{2, 0, 8 * time.Second},
		{3, 0, 16 * time.Second},
		{10, 0, 65 * time.Second},
		{1, 10 * time.Second, 11 * time.Second},
		{1, 90 * time.Second, 91 * time.Second},
		{3, 120 * time.Second, 121 * time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.retry, tt.suggested); got != tt.want {
			t.Errorf("Delay(%d, %v) = %v, want %v", tt.retry, tt.suggested, got, tt.want)
		}
	}
}

func TestBackoffDefaultHonoursLongSuggestion(t *testing.T) {
	b := DefaultBackoff
	b.Jitter = 0
	if got := b.Delay(1, 120*time.Second); got < 121*time.Second {
		t.Errorf("Delay(1, 120s) = %v, want >= 121s", got)
	}
}

func TestBackoffJitterBounded(t *testing.T) {
	b := DefaultBackoff
	for i := 0; i < 200; i++ {
		d := b.Delay(1, 0)
		if d < 4*time.Second || d >= 5*time.Second {
			t.Fatalf("Delay() = %v, want [4s, 5s)", d)
		}
	}
}

func TestRealSleeperHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := RealSleeper.Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() = %v, want context.Canceled", err)
	}
}
