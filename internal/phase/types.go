// Package phase implements the Phase Driver (C6): one Coder phase and one
// Reviewer phase per scheduler iteration, including Coordinator escalation,
// the credit-exhaustion short-circuit, parse-fallback counting, and
// follow-up task creation. Grounded on fluxforge/control_plane/reconciler.go
// (a sequential per-resource reconcile loop driving external calls through a
// narrow store interface) and fluxforge's scheduler circuit breaker for the
// credit/rate-limit admission guard, per §4.6 and §9.
package phase

import (
	"github.com/UnlikeOtherAI/steroids/internal/provider"
)

// CreditExhaustion is the typed short-circuit value named in §4.6 and §9
// ("a typed return value, not an exception"). Returned by RunCoderPhase/
// RunReviewerPhase in place of a normal nil result.
type CreditExhaustion struct {
	Provider string
	Model    string
	Role     string // "coder" or "reviewer"
	Message  string
}

func (c *CreditExhaustion) Error() string {
	return "credit exhaustion: " + c.Provider + "/" + c.Model + " (" + c.Role + "): " + c.Message
}

// gitState is the structured context gathered before the Coder's
// Orchestrator call (§4.6 step 5).
type gitState struct {
	RecentCommits          []string
	ChangedFiles           []string
	HasUncommittedChanges  bool
	DiffSummary            string
}

// reviewGitContext is the structured context gathered before the Reviewer's
// Orchestrator call (§4.6 step 5, reviewer variant).
type reviewGitContext struct {
	CommitSHA    string
	ChangedFiles []string
	Additions    int
	Deletions    int
}

// coordinatorCache is the cached (decision, guidance) blob persisted on a
// Task between threshold crossings (§4.6 step 2).
type coordinatorCache struct {
	Decision  string `json:"decision"`
	Guidance  string `json:"guidance"`
	AtRejects int    `json:"at_rejects"`
}

// reviewerOutcome pairs one reviewer's raw invocation with its result, used
// to build the multi-review consolidation step (§4.6 reviewer step 6).
type reviewerOutcome struct {
	Index  int
	Result *provider.Result
	Class  *provider.Classification
}
