package parser

import "testing"

func TestParseReviewerReply(t *testing.T) {
	cases := []struct {
		name         string
		raw          string
		wantDecision ReviewerDecisionKind
		wantSource   candidateSource
	}{
		{
			name:         "direct json approve",
			raw:          `{"decision":"approve","reasoning":"looks good","next_status":"completed","metadata":{"confidence":"high"}}`,
			wantDecision: ReviewerApprove,
			wantSource:   sourceDirect,
		},
		{
			name:         "explicit decision token, last one wins",
			raw:          "Earlier session:\nDECISION: REJECT\n\nAfter re-review:\nDECISION: APPROVE",
			wantDecision: ReviewerApprove,
			wantSource:   sourceFallback,
		},
		{
			name:         "bare trailing token",
			raw:          "I reviewed the diff carefully.\nSKIP",
			wantDecision: ReviewerSkip,
			wantSource:   sourceFallback,
		},
		{
			name:         "no recognizable token is unclear",
			raw:          "I'm not sure what to make of this.",
			wantDecision: ReviewerUnclear,
			wantSource:   sourceFallback,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			decision, source := ParseReviewerReply(c.raw)
			if decision.Decision != c.wantDecision {
				t.Errorf("decision = %q, want %q", decision.Decision, c.wantDecision)
			}
			if source != c.wantSource {
				t.Errorf("source = %q, want %q", source, c.wantSource)
			}
		})
	}
}

func TestParseReviewerReplyFollowUpTasks(t *testing.T) {
	raw := `{"decision":"approve","reasoning":"ok","next_status":"completed","metadata":{"confidence":"high"},` +
		`"follow_up_tasks":[{"title":"add tests","section_id":"sec-2"},{"title":"update docs"}]}`
	decision, _ := ParseReviewerReply(raw)
	if len(decision.FollowUpTasks) != 2 {
		t.Fatalf("got %d follow-up tasks, want 2", len(decision.FollowUpTasks))
	}
	if decision.FollowUpTasks[0].SectionID != "sec-2" {
		t.Errorf("first follow-up section_id = %q, want sec-2", decision.FollowUpTasks[0].SectionID)
	}
	if decision.FollowUpTasks[1].SectionID != "" {
		t.Errorf("second follow-up section_id = %q, want empty", decision.FollowUpTasks[1].SectionID)
	}
}

func TestParseReviewerReplyRejectsNegativeRejectionCount(t *testing.T) {
	raw := `{"decision":"approve","reasoning":"x","next_status":"completed","metadata":{"rejection_count":-1,"confidence":"high"}}`
	_, source := ParseReviewerReply(raw)
	if source != sourceFallback {
		t.Errorf("source = %q, want fallback for a negative rejection_count", source)
	}
}
