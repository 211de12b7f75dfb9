package provider

import (
	"context"
	"testing"

	"github.com/UnlikeOtherAI/steroids/internal/ratelimit"
)

type fakeAdapter struct {
	result *Result
	err    error
	class  *Classification
	calls  int
}

func (f *fakeAdapter) Invoke(ctx context.Context, prompt string, opts InvokeOptions) (*Result, error) {
	f.calls++
	return f.result, f.err
}
func (f *fakeAdapter) IsAvailable(ctx context.Context) bool      { return true }
func (f *fakeAdapter) ClassifyResult(res *Result) *Classification { return f.class }
func (f *fakeAdapter) ListModels() []string                      { return nil }
func (f *fakeAdapter) GetDefaultInvocationTemplate() string      { return "" }

func TestGuardedAdapterPassesThroughOnSuccess(t *testing.T) {
	inner := &fakeAdapter{result: &Result{Success: true}}
	g := NewGuardedAdapter(inner, nil, ratelimit.New(100, 10), "acme", "big-model")

	res, err := g.Invoke(context.Background(), "prompt", InvokeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatal("expected the inner adapter's successful result to pass through")
	}
	if inner.calls != 1 {
		t.Fatalf("inner.calls = %d, want 1", inner.calls)
	}
}

func TestGuardedAdapterTripsBreakerOnRepeatedCreditExhaustion(t *testing.T) {
	inner := &fakeAdapter{
		result: &Result{Success: false},
		class:  &Classification{Type: ClassCreditExhaustion},
	}
	g := NewGuardedAdapter(inner, nil, ratelimit.New(1000, 1000), "acme", "big-model")

	for i := 0; i < breakerStrikeThreshold; i++ {
		if _, err := g.Invoke(context.Background(), "prompt", InvokeOptions{}); err != nil {
			t.Fatalf("strike %d: unexpected error: %v", i, err)
		}
	}

	res, err := g.Invoke(context.Background(), "prompt", InvokeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected an admission-refused result once the breaker trips")
	}
	if inner.calls != breakerStrikeThreshold {
		t.Fatalf("inner.calls = %d, want %d (the tripped call must not reach the inner adapter)", inner.calls, breakerStrikeThreshold)
	}
}

func TestGuardedAdapterRateLimitsWithoutCallingInner(t *testing.T) {
	inner := &fakeAdapter{result: &Result{Success: true}}
	g := NewGuardedAdapter(inner, nil, ratelimit.New(1, 1), "acme", "big-model")

	if _, err := g.Invoke(context.Background(), "prompt", InvokeOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := g.Invoke(context.Background(), "prompt", InvokeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected the second immediate call to be rate limited")
	}
	if inner.calls != 1 {
		t.Fatalf("inner.calls = %d, want 1 (rate-limited call must not reach the inner adapter)", inner.calls)
	}
}
