package main

import (
	"github.com/UnlikeOtherAI/steroids/internal/config"
	"github.com/UnlikeOtherAI/steroids/internal/provider"
	"github.com/UnlikeOtherAI/steroids/internal/ratelimit"
	"github.com/UnlikeOtherAI/steroids/internal/store"
)

// genericPatterns are the classifyResult substrings shared across actor
// CLIs regardless of which provider backs them (§4.3): each provider's own
// wrapper would normally refine these, but the wrapper itself is the
// external, operator-supplied part of C3 (§1).
var (
	creditPatterns        = []string{"credit balance", "insufficient credit", "quota exceeded", "out of credits"}
	ratePatterns          = []string{"rate limit", "too many requests", "retry-after", "429"}
	authPatterns          = []string{"unauthorized", "invalid api key", "authentication failed", "401"}
	modelNotFoundPatterns = []string{"model not found", "unknown model", "no such model"}
)

// buildAdapter constructs the CLIAdapter for one configured role, wrapped in
// the ProviderBackoff admission guard (circuit breaker + rate limiter). The
// binary invoked is the role's configured provider name, resolved on PATH
// exactly as FluxForge's agent/executor.go resolves its task command.
func buildAdapter(role config.RoleConfig, global *store.GlobalStore, limiter *ratelimit.TokenBucketLimiter) provider.Adapter {
	inner := &provider.CLIAdapter{
		Name:                  role.Provider,
		BinaryPath:            role.Provider,
		CreditPatterns:        creditPatterns,
		RatePatterns:          ratePatterns,
		AuthPatterns:          authPatterns,
		ModelNotFoundPatterns: modelNotFoundPatterns,
	}
	return provider.NewGuardedAdapter(inner, global, limiter, role.Provider, role.Model)
}

// buildAdapters resolves every role an AIConfig names into its guarded
// adapter, all sharing one rate limiter instance so the configured
// providerPerMinute budget is per-provider/model rather than per-role.
// coordinator is nil when unconfigured, matching Driver's nil-tolerant
// coordinator gate.
func buildAdapters(ai config.AIConfig, global *store.GlobalStore, rl config.RateLimitConfig) (coder provider.Adapter, reviewers []provider.Adapter, orchestrator, coordinator provider.Adapter) {
	limiter := ratelimit.New(float64(rl.ProviderPerMinute)/60.0, rl.ProviderBurst)

	coder = buildAdapter(ai.Coder, global, limiter)
	orchestrator = buildAdapter(ai.Orchestrator, global, limiter)

	if len(ai.Reviewers) > 0 {
		for _, r := range ai.Reviewers {
			reviewers = append(reviewers, buildAdapter(r, global, limiter))
		}
	} else {
		reviewers = []provider.Adapter{buildAdapter(ai.Reviewer, global, limiter)}
	}

	if ai.Coordinator.Provider != "" {
		coordinator = buildAdapter(ai.Coordinator, global, limiter)
	}
	return
}
