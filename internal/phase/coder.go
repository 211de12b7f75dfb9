package phase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/UnlikeOtherAI/steroids/internal/hooks"
	"github.com/UnlikeOtherAI/steroids/internal/metrics"
	"github.com/UnlikeOtherAI/steroids/internal/parser"
	"github.com/UnlikeOtherAI/steroids/internal/provider"
	"github.com/UnlikeOtherAI/steroids/internal/store"
)

// RunCoderPhase drives one Coder→Orchestrator cycle for task and returns a
// non-nil CreditExhaustion if the Coder's provider reports exhausted
// credits; a non-nil error is a fatal lease loss that the caller must not
// recover from within this phase (§4.6 Coder phase contract).
func (d *Driver) RunCoderPhase(ctx context.Context, task *store.Task, claimGeneration int64) (*CreditExhaustion, error) {
	if err := d.refreshFence(ctx, task.ID, claimGeneration); err != nil {
		return nil, err
	}

	guidance := d.coordinatorGate(ctx, task)

	prompt := coderPrompt(task, guidance)
	res, err := d.coder.Invoke(ctx, prompt, provider.InvokeOptions{Timeout: d.cfg.ActivityResetTimeout})
	if err != nil {
		d.logger.Warn("phase: coder invocation error", zap.String("task_id", task.ID), zap.Error(err))
		return nil, nil
	}
	if res.TimedOut {
		d.logger.Info("phase: coder invocation timed out, will resume", zap.String("task_id", task.ID))
		return nil, nil
	}

	metrics.InvocationDuration.WithLabelValues("coder", d.roles.Coder.Provider).Observe(res.Duration.Seconds())

	class := d.coder.ClassifyResult(res)
	if ce := classifyCredit("coder", res, class); ce != nil {
		ce.Provider, ce.Model = d.coderProviderModel()
		metrics.CreditPaused.WithLabelValues(ce.Provider, ce.Model, ce.Role).Set(1)
		d.emitCredit(hooks.CreditExhausted, ce)
		return ce, nil
	}

	git := d.gatherGitState(ctx)

	orchestratorContext := map[string]interface{}{
		"task": map[string]interface{}{
			"id":              task.ID,
			"title":           task.Title,
			"rejection_count": task.RejectionCount,
		},
		"coder_output": map[string]interface{}{
			"stdout":    res.Stdout,
			"stderr":    res.Stderr,
			"exit_code": res.ExitCode,
			"success":   res.Success,
		},
		"git_state": git,
	}
	reply, err := invokeOrchestrator(ctx, d.orchestrator, d.cfg.ActivityResetTimeout, orchestratorContext)
	if err != nil {
		reply = defaultCoderRetryReply
	}

	decision, source := parser.ParseCoderReply(reply)
	metrics.ParseFallbacks.WithLabelValues(string(source), "coder").Inc()

	notes := fmt.Sprintf("[%s] %s (confidence: %s)", decision.Action, decision.Reasoning, decision.Metadata.Confidence)

	if source == "fallback" {
		streak, err := d.consecutiveFallbacks(ctx, task.ID)
		if err != nil {
			d.logger.Warn("phase: count consecutive fallbacks", zap.Error(err))
		}
		streak++ // this reply, once written, will be the (streak)th consecutive fallback
		if streak >= 3 {
			decision.Action = parser.CoderError
			decision.NextStatus = parser.CoderNextFailed
			decision.Reasoning = "escalating to failed to stop retry loop"
			notes = fmt.Sprintf("[%s] %s", decision.Action, decision.Reasoning)
			metrics.ParseEscalations.WithLabelValues("coder").Inc()
		} else {
			notes = fmt.Sprintf("%s (parse_retry %d/3)", notes, streak)
		}
	}

	from := task.Status
	d.writeAudit(ctx, task.ID, nil, task.Status, "orchestrator", store.ActorOrchestrator, nil, strPtr(notes))

	switch decision.Action {
	case parser.CoderSubmit:
		if err := d.project.UpdateTaskStatus(ctx, task.ID, store.TaskReview, "orchestrator", store.ActorOrchestrator, strPtr(notes), nil); err != nil {
			d.logger.Warn("phase: update status to review failed", zap.Error(err))
		} else {
			metricsTransition(from, store.TaskReview)
		}

	case parser.CoderStageCommitSubmit:
		if err := d.refreshFence(ctx, task.ID, claimGeneration); err != nil {
			return nil, err
		}
		if err := d.git.StageAll(ctx); err != nil {
			d.logger.Warn("phase: stage all failed, will retry", zap.Error(err))
			break
		}
		if err := d.git.Commit(ctx, decision.CommitMessage); err != nil {
			d.logger.Warn("phase: commit failed, will retry", zap.Error(err))
			break
		}
		sha, _ := d.git.CurrentCommitSHA(ctx)
		if err := d.project.UpdateTaskStatus(ctx, task.ID, store.TaskReview, "orchestrator", store.ActorOrchestrator, strPtr(notes), strPtr(sha)); err != nil {
			d.logger.Warn("phase: update status to review failed", zap.Error(err))
		} else {
			metricsTransition(from, store.TaskReview)
		}

	case parser.CoderRetry:
		// status remains in_progress.

	case parser.CoderError:
		if err := d.project.UpdateTaskStatus(ctx, task.ID, store.TaskFailed, "orchestrator", store.ActorOrchestrator, strPtr(notes), nil); err != nil {
			d.logger.Warn("phase: update status to failed failed", zap.Error(err))
		} else {
			metricsTransition(from, store.TaskFailed)
		}
	}

	return nil, nil
}

func (d *Driver) coderProviderModel() (string, string) {
	return d.roles.Coder.Provider, d.roles.Coder.Model
}

func coderPrompt(task *store.Task, guidance string) string {
	prompt := fmt.Sprintf("Task: %s\nRejection count: %d\n", task.Title, task.RejectionCount)
	if guidance != "" {
		prompt += "Coordinator guidance: " + guidance + "\n"
	}
	return prompt
}
