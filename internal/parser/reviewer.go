package parser

import (
	"regexp"
	"strings"
)

var validReviewerDecisions = map[ReviewerDecisionKind]bool{
	ReviewerApprove: true, ReviewerReject: true, ReviewerDispute: true, ReviewerSkip: true, ReviewerUnclear: true,
}
var validReviewerNextStatus = map[ReviewerNextStatus]bool{
	ReviewerNextCompleted: true, ReviewerNextInProgress: true, ReviewerNextDisputed: true,
	ReviewerNextSkipped: true, ReviewerNextReview: true,
}

// ParseReviewerReply runs the five-layer waterfall against a Reviewer-phase
// Orchestrator reply (§4.4).
func ParseReviewerReply(raw string) (ReviewerDecision, candidateSource) {
	if m, source, ok := decodeLayers(raw); ok {
		if d, ok := validateReviewerMap(m); ok {
			return d, source
		}
	}
	return reviewerFallback(raw), sourceFallback
}

func validateReviewerMap(m map[string]interface{}) (ReviewerDecision, bool) {
	decision := ReviewerDecisionKind(str(m, "decision"))
	if !validReviewerDecisions[decision] {
		return ReviewerDecision{}, false
	}
	nextStatus := ReviewerNextStatus(str(m, "next_status"))
	if !validReviewerNextStatus[nextStatus] {
		return ReviewerDecision{}, false
	}
	reasoning := str(m, "reasoning")
	if len(reasoning) > 8000 {
		reasoning = reasoning[:8000]
	}

	meta := nestedMap(m, "metadata")
	rejectionCount := num(meta, "rejection_count")
	if rejectionCount < 0 {
		return ReviewerDecision{}, false
	}
	confidence := foldConfidenceCase(str(meta, "confidence"))
	if confidence != ConfidenceHigh && confidence != ConfidenceMedium && confidence != ConfidenceLow {
		return ReviewerDecision{}, false
	}

	var followUps []FollowUpTask
	if raw, ok := m["follow_up_tasks"].([]interface{}); ok {
		for _, item := range raw {
			fm, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			followUps = append(followUps, FollowUpTask{
				Title:     str(fm, "title"),
				SectionID: str(fm, "section_id"),
			})
		}
	}

	return ReviewerDecision{
		Decision:   decision,
		Reasoning:  reasoning,
		Notes:      str(m, "notes"),
		NextStatus: nextStatus,
		Metadata: ReviewerMetadata{
			RejectionCount: rejectionCount,
			Confidence:     confidence,
			PushToRemote:   coerceBool(meta["push_to_remote"]),
			RepeatedIssue:  coerceBool(meta["repeated_issue"]),
		},
		FollowUpTasks: followUps,
	}, true
}

var decisionTokenRe = regexp.MustCompile(`(?i)DECISION:\s*(APPROVE|REJECT|DISPUTE|SKIP)`)

// reviewerFallback is the heuristic keyword/explicit-token layer 5 for a
// Reviewer reply (§4.4): scans for the LAST explicit "DECISION: X" token
// (prior sessions may be replayed into the transcript, so only the last
// match counts), or a bare leading token on the last non-empty line;
// absent that, unclear.
func reviewerFallback(raw string) ReviewerDecision {
	decision := ReviewerUnclear
	next := ReviewerNextReview

	if matches := decisionTokenRe.FindAllStringSubmatch(raw, -1); len(matches) > 0 {
		last := matches[len(matches)-1][1]
		decision, next = reviewerDecisionFromToken(strings.ToUpper(last))
	} else if lastLine := lastNonEmptyLine(raw); lastLine != "" {
		token := strings.ToUpper(strings.Fields(lastLine)[0])
		switch token {
		case "APPROVE", "REJECT", "DISPUTE", "SKIP":
			decision, next = reviewerDecisionFromToken(token)
		}
	}

	return ReviewerDecision{
		Decision:   decision,
		Reasoning:  FallbackSentinel + " Orchestrator failed to produce a structured decision",
		NextStatus: next,
		Metadata: ReviewerMetadata{
			Confidence: ConfidenceLow,
		},
	}
}

func reviewerDecisionFromToken(token string) (ReviewerDecisionKind, ReviewerNextStatus) {
	switch token {
	case "APPROVE":
		return ReviewerApprove, ReviewerNextCompleted
	case "REJECT":
		return ReviewerReject, ReviewerNextInProgress
	case "DISPUTE":
		return ReviewerDispute, ReviewerNextDisputed
	case "SKIP":
		return ReviewerSkip, ReviewerNextSkipped
	default:
		return ReviewerUnclear, ReviewerNextReview
	}
}

func lastNonEmptyLine(raw string) string {
	lines := strings.Split(raw, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}
