package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/UnlikeOtherAI/steroids/internal/circuit"
	"github.com/UnlikeOtherAI/steroids/internal/ratelimit"
	"github.com/UnlikeOtherAI/steroids/internal/store"
)

const (
	breakerStrikeThreshold = 3
	breakerCooldown        = 5 * time.Minute
)

// GuardedAdapter wraps an Adapter with the ProviderBackoff admission guard
// named in §3/§6: a circuit breaker that escalates under repeated
// rate_limit/credit_exhaustion classifications, and a token-bucket rate
// limiter, both consulted before the child process ever starts. Every
// rate_limit/credit_exhaustion strike is recorded in ProviderBackoff (strike
// count, reason, breaker cooldown); a new GuardedAdapter starts with a closed
// breaker and does not read that row back.
type GuardedAdapter struct {
	Adapter
	Provider string
	Model    string

	global  *store.GlobalStore
	breaker *circuit.Breaker
	limiter *ratelimit.TokenBucketLimiter
}

// NewGuardedAdapter wraps inner for providerName/model, sharing limiter
// across every adapter built from the same call site (it keys internally by
// provider+model, matching the per-tenant token buckets it's grounded on).
func NewGuardedAdapter(inner Adapter, global *store.GlobalStore, limiter *ratelimit.TokenBucketLimiter, providerName, model string) *GuardedAdapter {
	return &GuardedAdapter{
		Adapter:  inner,
		Provider: providerName,
		Model:    model,
		global:   global,
		breaker:  circuit.NewBreaker(breakerStrikeThreshold, breakerCooldown),
		limiter:  limiter,
	}
}

func (g *GuardedAdapter) key() string { return g.Provider + ":" + g.Model }

// Invoke enforces admission (breaker, then rate limiter) before delegating
// to the wrapped Adapter, and feeds the result's classification back into
// the breaker and ProviderBackoff.
func (g *GuardedAdapter) Invoke(ctx context.Context, prompt string, opts InvokeOptions) (*Result, error) {
	if !g.breaker.Allow() {
		return &Result{
			Success:  false,
			ExitCode: -1,
			Stderr:   fmt.Sprintf("provider %s circuit open until %s", g.key(), g.breaker.CooldownUntil().Format(time.RFC3339)),
		}, nil
	}
	if !g.limiter.Allow(g.key()) {
		return &Result{Success: false, ExitCode: -1, Stderr: fmt.Sprintf("provider %s rate limited", g.key())}, nil
	}

	res, err := g.Adapter.Invoke(ctx, prompt, opts)
	if err != nil || res == nil {
		return res, err
	}

	class := g.Adapter.ClassifyResult(res)
	switch {
	case class != nil && (class.Type == ClassCreditExhaustion || class.Type == ClassRateLimit):
		g.breaker.Strike()
		g.recordBackoff(ctx, class)
	case res.Success:
		g.breaker.Success()
	}
	return res, nil
}

func (g *GuardedAdapter) recordBackoff(ctx context.Context, class *Classification) {
	if g.global == nil {
		return
	}
	existing, _ := g.global.GetProviderBackoff(ctx, g.Provider, g.Model)
	strikes := 1
	if existing != nil {
		strikes = existing.StrikeCount + 1
	}
	_ = g.global.UpsertProviderBackoff(ctx, store.ProviderBackoff{
		Provider:      g.Provider,
		Model:         g.Model,
		CooldownUntil: g.breaker.CooldownUntil(),
		StrikeCount:   strikes,
		LastReason:    string(class.Type),
	})
}
