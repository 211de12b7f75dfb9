package phase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/UnlikeOtherAI/steroids/internal/config"
	"github.com/UnlikeOtherAI/steroids/internal/gitops"
	"github.com/UnlikeOtherAI/steroids/internal/hooks"
	"github.com/UnlikeOtherAI/steroids/internal/lease"
	"github.com/UnlikeOtherAI/steroids/internal/metrics"
	"github.com/UnlikeOtherAI/steroids/internal/parser"
	"github.com/UnlikeOtherAI/steroids/internal/provider"
	"github.com/UnlikeOtherAI/steroids/internal/store"
)

// Driver runs the Coder and Reviewer phases for one runner against one
// task at a time (§5: "strictly sequential per Task").
type Driver struct {
	project      *store.ProjectStore
	lease        *lease.Manager
	git          *gitops.Git
	coder        provider.Adapter
	reviewers    []provider.Adapter
	orchestrator provider.Adapter
	coordinator  provider.Adapter
	roles        config.AIConfig
	cfg          config.PhaseConfig
	runnerID     string
	workstreamID string
	projectRef   hooks.ProjectRef
	dispatcher   hooks.Dispatcher
	logger       *zap.Logger
}

// New builds a Driver for one runner/workstream pair. reviewers must align
// index-for-index with roles.Reviewers when multi-review is configured
// (falling back to a single-element slice built from roles.Reviewer
// otherwise).
func New(
	project *store.ProjectStore,
	leaseMgr *lease.Manager,
	git *gitops.Git,
	coder provider.Adapter,
	reviewers []provider.Adapter,
	orchestrator provider.Adapter,
	coordinator provider.Adapter,
	roles config.AIConfig,
	cfg config.PhaseConfig,
	runnerID, workstreamID string,
	projectRef hooks.ProjectRef,
	dispatcher hooks.Dispatcher,
	logger *zap.Logger,
) *Driver {
	if dispatcher == nil {
		dispatcher = hooks.NopDispatcher{}
	}
	return &Driver{
		project:      project,
		lease:        leaseMgr,
		git:          git,
		coder:        coder,
		reviewers:    reviewers,
		orchestrator: orchestrator,
		coordinator:  coordinator,
		roles:        roles,
		cfg:          cfg,
		runnerID:     runnerID,
		workstreamID: workstreamID,
		projectRef:   projectRef,
		dispatcher:   dispatcher,
		logger:       logger,
	}
}

// reviewerRole returns the configured provider/model for the i-th reviewer
// adapter, falling back to the single-reviewer role when no reviewers array
// is configured.
func (d *Driver) reviewerRole(i int) config.RoleConfig {
	if i < len(d.roles.Reviewers) {
		return d.roles.Reviewers[i]
	}
	return d.roles.Reviewer
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// writeAudit inserts a standalone audit row (used for coordinator and
// orchestrator decisions that are logged independent of a status write).
func (d *Driver) writeAudit(ctx context.Context, taskID string, from *store.TaskStatus, to store.TaskStatus, actor string, actorType store.ActorType, model, notes *string) {
	if err := d.project.AddAuditEntry(ctx, store.Audit{
		TaskID:     taskID,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		ActorType:  actorType,
		Model:      model,
		Notes:      notes,
	}); err != nil {
		d.logger.Warn("phase: audit write failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

// refreshFence refreshes both the task lock and the workstream lease,
// returning an error if either fence has been lost (§4.2, §4.6 step 1).
func (d *Driver) refreshFence(ctx context.Context, taskID string, claimGeneration int64) error {
	if err := d.lease.RefreshTask(ctx, taskID); err != nil {
		return fmt.Errorf("phase: refresh task lease: %w", err)
	}
	if err := d.lease.RefreshWorkstream(ctx, d.workstreamID, claimGeneration); err != nil {
		return fmt.Errorf("phase: refresh workstream lease: %w", err)
	}
	return nil
}

// consecutiveFallbacks counts how many of the most recent audit rows for
// task, scanning back from the most recent, have actor_type=orchestrator and
// a FALLBACK-prefixed notes field, stopping at the first non-matching row
// (§4.6 step 7, I-Escalation).
func (d *Driver) consecutiveFallbacks(ctx context.Context, taskID string) (int, error) {
	trail, err := d.project.GetAuditTrail(ctx, taskID, 10)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := len(trail) - 1; i >= 0; i-- {
		a := trail[i]
		if a.ActorType != store.ActorOrchestrator || a.Notes == nil || !strings.Contains(*a.Notes, parser.FallbackSentinel) {
			break
		}
		count++
	}
	return count, nil
}

// coordinatorGate invokes the Coordinator when rejection_count crosses one
// of cfg.CoordinatorThresholds, caching (decision, guidance) on the task
// between crossings (§4.6 step 2). Coordinator failure is non-fatal.
func (d *Driver) coordinatorGate(ctx context.Context, task *store.Task) string {
	rejections, err := d.project.GetTaskRejections(ctx, task.ID)
	if err != nil {
		d.logger.Warn("phase: coordinator gate, read rejections", zap.Error(err))
		return ""
	}

	atThreshold := false
	for _, th := range d.cfg.CoordinatorThresholds {
		if rejections == th {
			atThreshold = true
			break
		}
	}
	if !atThreshold {
		if task.CoordinatorJSON != nil {
			var cached coordinatorCache
			if json.Unmarshal([]byte(*task.CoordinatorJSON), &cached) == nil {
				return cached.Guidance
			}
		}
		return ""
	}

	if d.coordinator == nil {
		return ""
	}

	notes, _ := d.project.GetLatestSubmissionNotes(ctx, task.ID)
	siblings, _ := d.project.ListTasks(ctx, store.ListTaskFilter{SectionID: task.SectionID})
	prompt := coordinatorPrompt(task, rejections, siblings, notes)

	res, err := d.coordinator.Invoke(ctx, prompt, provider.InvokeOptions{Timeout: d.cfg.ActivityResetTimeout})
	if err != nil || res == nil || !res.Success {
		d.logger.Warn("phase: coordinator invocation failed, continuing without guidance", zap.Error(err))
		return ""
	}

	guidance := strings.TrimSpace(res.Stdout)
	cache := coordinatorCache{Decision: "guidance", Guidance: guidance, AtRejects: rejections}
	if err := d.project.SetCoordinatorCache(ctx, task.ID, cache); err != nil {
		d.logger.Warn("phase: set coordinator cache failed", zap.Error(err))
	}
	d.writeAudit(ctx, task.ID, nil, task.Status, "coordinator", store.ActorCoordinator, strPtr(d.coordinatorModel()), strPtr(guidance))
	return guidance
}

func (d *Driver) coordinatorModel() string {
	return d.roles.Coordinator.Model
}

func coordinatorPrompt(task *store.Task, rejections int, siblings []store.Task, latestNotes *string) string {
	type siblingProjection struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Status string `json:"status"`
	}
	projected := make([]siblingProjection, 0, len(siblings))
	for _, s := range siblings {
		if s.ID == task.ID {
			continue
		}
		projected = append(projected, siblingProjection{ID: s.ID, Title: s.Title, Status: string(s.Status)})
	}
	notes := ""
	if latestNotes != nil {
		notes = *latestNotes
	}
	payload := map[string]interface{}{
		"task_id":            task.ID,
		"title":               task.Title,
		"rejection_count":     rejections,
		"other_section_tasks": projected,
		"latest_notes":        notes,
	}
	data, _ := json.Marshal(payload)
	return "A task has been rejected repeatedly and needs coordinator guidance to break the loop.\n" + string(data)
}

// gatherGitState assembles the Coder-phase git context (§4.6 step 5).
func (d *Driver) gatherGitState(ctx context.Context) gitState {
	commits, _ := d.git.RecentCommits(ctx, 5)
	changed, _ := d.git.ChangedFiles(ctx)
	uncommitted, _ := d.git.HasUncommittedChanges(ctx)
	summary, _ := d.git.DiffSummary(ctx)
	return gitState{
		RecentCommits:         commits,
		ChangedFiles:          changed,
		HasUncommittedChanges: uncommitted,
		DiffSummary:           summary,
	}
}

// gatherReviewGitContext assembles the Reviewer-phase git context (§4.6
// reviewer step 5).
func (d *Driver) gatherReviewGitContext(ctx context.Context) reviewGitContext {
	sha, _ := d.git.CurrentCommitSHA(ctx)
	changed, _ := d.git.ChangedFiles(ctx)
	add, del, _ := d.git.DiffShortStat(ctx)
	return reviewGitContext{CommitSHA: sha, ChangedFiles: changed, Additions: add, Deletions: del}
}

func classifyCredit(role string, res *provider.Result, class *provider.Classification) *CreditExhaustion {
	if class == nil || class.Type != provider.ClassCreditExhaustion {
		return nil
	}
	return &CreditExhaustion{Role: role, Message: class.Message}
}

var errOrchestratorUnavailable = errors.New("phase: orchestrator invocation failed")

// invokeOrchestrator invokes the Orchestrator actor with structured JSON
// context. On any invocation failure it returns errOrchestratorUnavailable;
// callers then parse a default "retry" reply in its place (§4.6 step 6).
func invokeOrchestrator(ctx context.Context, adapter provider.Adapter, timeout time.Duration, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("phase: marshal orchestrator context: %w", err)
	}
	res, err := adapter.Invoke(ctx, string(data), provider.InvokeOptions{Timeout: timeout})
	if err != nil || res == nil || !res.Success {
		return "", errOrchestratorUnavailable
	}
	return res.Stdout, nil
}

var defaultCoderRetryReply = `{"action":"retry","reasoning":"orchestrator unavailable, retrying","next_status":"in_progress","metadata":{"files_changed":0,"confidence":"low","exit_clean":false,"has_commits":false}}`

var defaultReviewerRetryReply = `{"decision":"unclear","reasoning":"orchestrator unavailable, retrying","next_status":"review","metadata":{"rejection_count":0,"confidence":"low","push_to_remote":false,"repeated_issue":false}}`

func metricsTransition(from, to store.TaskStatus) {
	metrics.TaskTransitions.WithLabelValues(string(from), string(to)).Inc()
}

// emitTask dispatches a task.* hook payload.
func (d *Driver) emitTask(event hooks.Event, task *store.Task) {
	d.dispatcher.Dispatch(hooks.Payload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Project:   d.projectRef,
		Task:      &hooks.TaskRef{ID: task.ID, Title: task.Title, Status: string(task.Status)},
	})
}

// emitCredit dispatches a credit.* hook payload.
func (d *Driver) emitCredit(event hooks.Event, ce *CreditExhaustion) {
	d.dispatcher.Dispatch(hooks.Payload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Project:   d.projectRef,
		Credit:    &hooks.Credit{Provider: ce.Provider, Model: ce.Model, Role: ce.Role, Message: ce.Message},
	})
}

// emitDispute dispatches a dispute.created hook payload.
func (d *Driver) emitDispute(task *store.Task) {
	d.dispatcher.Dispatch(hooks.Payload{
		Event:     hooks.DisputeCreated,
		Timestamp: time.Now().UTC(),
		Project:   d.projectRef,
		Dispute:   &hooks.Dispute{ID: task.ID, TaskID: task.ID, Type: "reviewer_dispute", Status: string(store.TaskDisputed)},
	})
}
