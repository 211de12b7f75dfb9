package phase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/UnlikeOtherAI/steroids/internal/hooks"
	"github.com/UnlikeOtherAI/steroids/internal/metrics"
	"github.com/UnlikeOtherAI/steroids/internal/parser"
	"github.com/UnlikeOtherAI/steroids/internal/provider"
	"github.com/UnlikeOtherAI/steroids/internal/store"
)

// RunReviewerPhase drives one Reviewer→Orchestrator cycle for task,
// including multi-reviewer consolidation, follow-up task creation, and the
// approve/reject/dispute/skip/unclear execution (§4.6 Reviewer phase
// contract).
func (d *Driver) RunReviewerPhase(ctx context.Context, task *store.Task, claimGeneration int64) (*CreditExhaustion, error) {
	if err := d.refreshFence(ctx, task.ID, claimGeneration); err != nil {
		return nil, err
	}

	outcomes := d.invokeReviewers(ctx, task)

	if d.cfg.StrictReview {
		for _, o := range outcomes {
			if o.Result == nil {
				d.logger.Info("phase: strict review, a reviewer failed; retrying next iteration", zap.String("task_id", task.ID))
				return nil, nil
			}
		}
	}

	var successful []reviewerOutcome
	for _, o := range outcomes {
		if o.Result != nil {
			successful = append(successful, o)
		}
	}
	if len(successful) == 0 {
		d.logger.Info("phase: no reviewer produced a result; retrying next iteration", zap.String("task_id", task.ID))
		return nil, nil
	}

	for _, o := range successful {
		role := d.reviewerRole(o.Index)
		metrics.InvocationDuration.WithLabelValues("reviewer", role.Provider).Observe(o.Result.Duration.Seconds())
		if ce := classifyCredit("reviewer", o.Result, o.Class); ce != nil {
			ce.Provider, ce.Model = role.Provider, role.Model
			metrics.CreditPaused.WithLabelValues(ce.Provider, ce.Model, ce.Role).Set(1)
			d.emitCredit(hooks.CreditExhausted, ce)
			return ce, nil
		}
	}

	git := d.gatherReviewGitContext(ctx)

	decisions := make([]parser.ReviewerDecision, 0, len(successful))
	sources := make([]string, 0, len(successful))
	for _, o := range successful {
		dec, src := d.reviewerDecisionFor(ctx, task, o.Result, git)
		decisions = append(decisions, dec)
		sources = append(sources, string(src))
	}

	var final parser.ReviewerDecision
	var finalSource string
	if len(decisions) == 1 {
		final, finalSource = decisions[0], sources[0]
	} else if unanimous(decisions) {
		final = decisions[0]
		final.Metadata.Confidence = parser.ConfidenceHigh
		finalSource = sources[0]
	} else {
		reply, err := invokeOrchestrator(ctx, d.orchestrator, d.cfg.ActivityResetTimeout, map[string]interface{}{
			"task":      task.ID,
			"decisions": decisions,
			"git_state": git,
		})
		if err != nil {
			reply = defaultReviewerRetryReply
		}
		dec, src := parser.ParseReviewerReply(reply)
		final, finalSource = dec, string(src)
	}
	metrics.ParseFallbacks.WithLabelValues(finalSource, "reviewer").Inc()

	notes := fmt.Sprintf("[%s] %s (confidence: %s)", final.Decision, final.Reasoning, final.Metadata.Confidence)
	if finalSource == "fallback" {
		streak, err := d.consecutiveFallbacks(ctx, task.ID)
		if err != nil {
			d.logger.Warn("phase: count consecutive fallbacks", zap.Error(err))
		}
		streak++
		if streak >= 3 {
			final.Decision = parser.ReviewerDispute
			final.NextStatus = parser.ReviewerNextDisputed
			final.Reasoning = "escalating to disputed to stop retry loop"
			notes = fmt.Sprintf("[%s] %s", final.Decision, final.Reasoning)
			metrics.ParseEscalations.WithLabelValues("reviewer").Inc()
		} else {
			notes = fmt.Sprintf("%s (parse_retry %d/3)", notes, streak)
		}
	}

	from := task.Status
	d.writeAudit(ctx, task.ID, nil, task.Status, "orchestrator", store.ActorOrchestrator, nil, strPtr(notes))

	if final.Decision == parser.ReviewerApprove && len(final.FollowUpTasks) > 0 {
		d.createFollowUps(ctx, task, final.FollowUpTasks)
	}

	switch final.Decision {
	case parser.ReviewerApprove:
		sha, _ := d.git.CurrentCommitSHA(ctx)
		if err := d.project.ApproveTask(ctx, task.ID, "orchestrator", strPtr(sha), strPtr(notes)); err != nil {
			d.logger.Warn("phase: approve task failed", zap.Error(err))
		} else {
			metricsTransition(from, store.TaskCompleted)
			completed := *task
			completed.Status = store.TaskCompleted
			d.emitTask(hooks.TaskCompleted, &completed)
			if err := d.refreshFence(ctx, task.ID, claimGeneration); err == nil {
				if err := d.git.Push(ctx, d.cfg.PushBranch); err != nil {
					d.logger.Warn("phase: push failed, will retry at next completion boundary", zap.Error(err))
				}
			}
		}

	case parser.ReviewerReject:
		if err := d.project.RejectTask(ctx, task.ID, "orchestrator", strPtr(notes)); err != nil {
			d.logger.Warn("phase: reject task failed", zap.Error(err))
		} else {
			metricsTransition(from, store.TaskInProgress)
		}

	case parser.ReviewerDispute:
		if err := d.project.UpdateTaskStatus(ctx, task.ID, store.TaskDisputed, "orchestrator", store.ActorOrchestrator, strPtr(notes), nil); err != nil {
			d.logger.Warn("phase: update status to disputed failed", zap.Error(err))
		} else {
			metricsTransition(from, store.TaskDisputed)
			d.emitDispute(task)
			if err := d.refreshFence(ctx, task.ID, claimGeneration); err == nil {
				if err := d.git.Push(ctx, d.cfg.PushBranch); err != nil {
					d.logger.Warn("phase: push failed, will retry at next completion boundary", zap.Error(err))
				}
			}
		}

	case parser.ReviewerSkip:
		if err := d.project.UpdateTaskStatus(ctx, task.ID, store.TaskSkipped, "orchestrator", store.ActorOrchestrator, strPtr(notes), nil); err != nil {
			d.logger.Warn("phase: update status to skipped failed", zap.Error(err))
		} else {
			metricsTransition(from, store.TaskSkipped)
		}

	case parser.ReviewerUnclear:
		// status remains review; the loop retries.
	}

	return nil, nil
}

// invokeReviewers runs every configured reviewer in parallel, matching §5's
// "multi-review within one phase launches N parallel reviewer child
// processes". A reviewer invocation error, nil result or timeout surfaces as
// a nil Result in that slot rather than aborting the others; a reviewer that
// exits non-zero keeps its Result and classification.
func (d *Driver) invokeReviewers(ctx context.Context, task *store.Task) []reviewerOutcome {
	prompt := reviewerPrompt(task)
	outcomes := make([]reviewerOutcome, len(d.reviewers))
	var wg sync.WaitGroup
	for i, r := range d.reviewers {
		wg.Add(1)
		go func(i int, r provider.Adapter) {
			defer wg.Done()
			res, err := r.Invoke(ctx, prompt, provider.InvokeOptions{Timeout: d.cfg.ActivityResetTimeout})
			if err != nil || res == nil || res.TimedOut {
				outcomes[i] = reviewerOutcome{Index: i}
				return
			}
			outcomes[i] = reviewerOutcome{Index: i, Result: res, Class: r.ClassifyResult(res)}
		}(i, r)
	}
	wg.Wait()
	return outcomes
}

func (d *Driver) reviewerDecisionFor(ctx context.Context, task *store.Task, res *provider.Result, git reviewGitContext) (parser.ReviewerDecision, string) {
	reply, err := invokeOrchestrator(ctx, d.orchestrator, d.cfg.ActivityResetTimeout, map[string]interface{}{
		"task_id":       task.ID,
		"reviewer_output": res.Stdout,
		"git_state":      git,
	})
	if err != nil {
		reply = defaultReviewerRetryReply
	}
	dec, src := parser.ParseReviewerReply(reply)
	return dec, string(src)
}

func unanimous(decisions []parser.ReviewerDecision) bool {
	if len(decisions) == 0 {
		return true
	}
	first := decisions[0].Decision
	for _, d := range decisions[1:] {
		if d.Decision != first {
			return false
		}
	}
	return true
}

func (d *Driver) createFollowUps(ctx context.Context, task *store.Task, followUps []parser.FollowUpTask) {
	depth, err := d.project.GetFollowUpDepth(ctx, task.ID)
	if err != nil {
		d.logger.Warn("phase: get follow-up depth failed", zap.Error(err))
		return
	}
	if depth >= d.cfg.MaxFollowUpDepth {
		d.logger.Info("phase: follow-up depth limit reached, skipping creation", zap.String("task_id", task.ID), zap.Int("depth", depth))
		return
	}
	for _, fu := range followUps {
		var sectionID *string
		if fu.SectionID != "" {
			sectionID = strPtr(fu.SectionID)
		}
		if _, err := d.project.CreateFollowUpTask(ctx, task.ID, fu.Title, sectionID); err != nil {
			d.logger.Warn("phase: create follow-up task failed", zap.Error(err))
		}
	}
}

func reviewerPrompt(task *store.Task) string {
	return fmt.Sprintf("Review task %q (id=%s).", task.Title, task.ID)
}
