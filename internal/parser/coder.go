package parser

import (
	"regexp"
	"strings"
)

var validCoderActions = map[CoderAction]bool{
	CoderSubmit: true, CoderStageCommitSubmit: true, CoderRetry: true, CoderError: true,
}
var validCoderNextStatus = map[CoderNextStatus]bool{
	CoderNextReview: true, CoderNextInProgress: true, CoderNextFailed: true,
}

// ParseCoderReply runs the five-layer waterfall against a Coder-phase
// Orchestrator reply (§4.4).
func ParseCoderReply(raw string) (CoderDecision, candidateSource) {
	if m, source, ok := decodeLayers(raw); ok {
		if d, ok := validateCoderMap(m); ok {
			return d, source
		}
	}
	return coderFallback(raw), sourceFallback
}

// validateCoderMap converts a generic decoded map into a CoderDecision,
// enforcing enum membership, numeric >= 0, and bounded string lengths
// (§4.4). A validation failure means this layer did not match.
func validateCoderMap(m map[string]interface{}) (CoderDecision, bool) {
	action := CoderAction(str(m, "action"))
	if !validCoderActions[action] {
		return CoderDecision{}, false
	}
	nextStatus := CoderNextStatus(str(m, "next_status"))
	if !validCoderNextStatus[nextStatus] {
		return CoderDecision{}, false
	}
	reasoning := str(m, "reasoning")
	if len(reasoning) > 8000 {
		reasoning = reasoning[:8000]
	}

	meta := nestedMap(m, "metadata")
	filesChanged := num(meta, "files_changed")
	if filesChanged < 0 {
		return CoderDecision{}, false
	}
	confidence := foldConfidenceCase(str(meta, "confidence"))
	if confidence != ConfidenceHigh && confidence != ConfidenceMedium && confidence != ConfidenceLow {
		return CoderDecision{}, false
	}

	return CoderDecision{
		Action:        action,
		Reasoning:     reasoning,
		Commits:       strSlice(m, "commits"),
		CommitMessage: str(m, "commit_message"),
		NextStatus:    nextStatus,
		Metadata: CoderMetadata{
			FilesChanged: filesChanged,
			Confidence:   confidence,
			ExitClean:    coerceBool(meta["exit_clean"]),
			HasCommits:   coerceBool(meta["has_commits"]),
		},
	}, true
}

var (
	coderTimeoutRe  = regexp.MustCompile(`(?i)\btimeout\b|\btimed out\b`)
	coderErrorRe    = regexp.MustCompile(`(?i)\berror\b|\bfail(ed|ure)?\b`)
	coderCommitRe   = regexp.MustCompile(`(?i)\bcommit(ted)?\b`)
	coderCompleteRe = regexp.MustCompile(`(?i)\bcomplete|\bdone\b|\bsubmit(ted)?\b`)
)

// coderFallback is the heuristic keyword/explicit-token layer 5 for a Coder
// reply (§4.4). Every fallback result has metadata.confidence=low and a
// reasoning string prefixed FALLBACK: so it is distinguishable in the audit
// trail.
func coderFallback(raw string) CoderDecision {
	trimmed := strings.TrimSpace(raw)
	action := CoderRetry
	next := CoderNextInProgress
	switch {
	case coderTimeoutRe.MatchString(trimmed):
		action, next = CoderRetry, CoderNextInProgress
	case coderErrorRe.MatchString(trimmed):
		action, next = CoderError, CoderNextFailed
	case coderCommitRe.MatchString(trimmed) || coderCompleteRe.MatchString(trimmed):
		action, next = CoderSubmit, CoderNextReview
	}
	return CoderDecision{
		Action:     action,
		Reasoning:  FallbackSentinel + " Orchestrator failed to produce a structured decision",
		NextStatus: next,
		Metadata: CoderMetadata{
			Confidence: ConfidenceLow,
		},
	}
}
