package providers

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hazyhaar/radar/intel/schema"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	inner := func(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("flaky")
		}
		return []schema.Datum{{Provider: "x"}}, nil
	}

	wrapped := Retry(3, time.Millisecond, discard())(inner)
	data, err := wrapped(context.Background(), &schema.Request{})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 3 || len(data) != 1 {
		t.Fatalf("calls=%d data=%d", calls, len(data))
	}
}

func TestRetry_GivesUp(t *testing.T) {
	calls := 0
	inner := func(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
		calls++
		return nil, errors.New("always down")
	}

	_, err := Retry(2, time.Millisecond, discard())(inner)(context.Background(), &schema.Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (initial + 2 retries)", calls)
	}
}

func TestRecovery_ConvertsPanic(t *testing.T) {
	inner := func(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
		panic("vendor sdk exploded")
	}

	_, err := Recovery("x", discard())(inner)(context.Background(), &schema.Request{})
	if err == nil {
		t.Fatal("panic must surface as error")
	}
}

func TestBreaker_TripsAndRecovers(t *testing.T) {
	now := time.Now()
	clock := now
	cb := NewCircuitBreaker(
		WithBreakerThreshold(2),
		WithBreakerResetTimeout(10*time.Second),
		WithBreakerHalfOpenMax(1),
		WithBreakerClock(func() time.Time { return clock }),
	)

	cb.RecordFailure()
	if cb.State() != BreakerClosed {
		t.Fatal("tripped below threshold")
	}
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatal("not open after threshold failures")
	}
	if cb.Allow() {
		t.Fatal("open breaker allowed a call")
	}

	clock = now.Add(11 * time.Second)
	if !cb.Allow() {
		t.Fatal("half-open breaker should allow a probe")
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatal("breaker did not close after half-open success")
	}
}

func TestWithBreaker_OpenShortCircuits(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(1))
	calls := 0
	inner := func(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
		calls++
		return nil, errors.New("down")
	}
	wrapped := WithBreaker(cb, "x")(inner)

	wrapped(context.Background(), &schema.Request{})
	_, err := wrapped(context.Background(), &schema.Request{})

	var open *ErrCircuitOpen
	if !errors.As(err, &open) || open.Provider != "x" {
		t.Fatalf("got %v, want ErrCircuitOpen", err)
	}
	if calls != 1 {
		t.Fatalf("inner called %d times, want 1", calls)
	}
}

func TestRetry_StopsOnOpenCircuit(t *testing.T) {
	calls := 0
	inner := func(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
		calls++
		return nil, &ErrCircuitOpen{Provider: "x"}
	}

	Retry(5, time.Millisecond, discard())(inner)(context.Background(), &schema.Request{})
	if calls != 1 {
		t.Fatalf("retried an open circuit: %d calls", calls)
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Fetch) Fetch {
			return func(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	inner := func(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
		order = append(order, "inner")
		return nil, nil
	}

	Chain(tag("outer"), tag("middle"))(inner)(context.Background(), &schema.Request{})
	if len(order) != 3 || order[0] != "outer" || order[1] != "middle" || order[2] != "inner" {
		t.Fatalf("chain order: %v", order)
	}
}
