package lease

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/UnlikeOtherAI/steroids/internal/incident"
	"github.com/UnlikeOtherAI/steroids/internal/metrics"
	"github.com/UnlikeOtherAI/steroids/internal/store"
)

// StuckThreshold is how long a task may sit in in_progress/review before the
// sweep considers it a recovery candidate (§4.2 step 1).
const StuckThreshold = 10 * time.Minute

// HeartbeatStaleAfter is the runner staleness threshold named in §3 ("a
// runner is stale iff heartbeat_at is older than 5 minutes").
const HeartbeatStaleAfter = 5 * time.Minute

// Intent is one planned mutation produced by PlanSweep. §9's design note
// asks for a pure function from snapshot to intended mutations, then a
// separate applier — PlanSweep is that pure function.
type Intent struct {
	TaskID       string
	FailureMode  store.FailureMode
	RunnerID     string // empty if the task had no resolvable owning runner
	PIDToKill    *int
	DeleteRunner bool
}

// PlanSweep classifies each stuck task by inspecting its lock and the
// claimed owning runner, with no side effects (§9).
func PlanSweep(stuckTasks []store.Task, locks map[string]*store.TaskLock, runners map[string]*store.Runner, now time.Time, isPidAlive func(pid int) bool) []Intent {
	var intents []Intent
	for _, t := range stuckTasks {
		lock, hasLock := locks[t.ID]
		if !hasLock || lock == nil {
			// No lock at all on a task claimed to be in_progress/review: the
			// task is orphaned with no resolvable owner.
			intents = append(intents, Intent{TaskID: t.ID, FailureMode: store.FailureOrphanedTask})
			continue
		}
		runner, hasRunner := runners[lock.RunnerID]
		switch {
		case !hasRunner || runner == nil:
			intents = append(intents, Intent{TaskID: t.ID, FailureMode: store.FailureOrphanedTask, RunnerID: lock.RunnerID})
		case runner.PID != nil && !isPidAlive(*runner.PID):
			intents = append(intents, Intent{TaskID: t.ID, FailureMode: store.FailureDeadRunner, RunnerID: lock.RunnerID, PIDToKill: runner.PID, DeleteRunner: true})
		case now.Sub(runner.HeartbeatAt) > HeartbeatStaleAfter:
			intents = append(intents, Intent{TaskID: t.ID, FailureMode: store.FailureZombieRunner, RunnerID: lock.RunnerID, PIDToKill: runner.PID, DeleteRunner: true})
		default:
			intents = append(intents, Intent{TaskID: t.ID, FailureMode: store.FailureHangingInvocation, RunnerID: lock.RunnerID})
		}
	}
	return intents
}

// Sweeper applies PlanSweep's intents against the project and global
// databases (§4.2).
type Sweeper struct {
	global              *store.GlobalStore
	project             *store.ProjectStore
	autoRecover         bool
	maxRecoveryAttempts int
	maxIncidentsPerHour int
}

func NewSweeper(global *store.GlobalStore, project *store.ProjectStore, autoRecover bool, maxRecoveryAttempts, maxIncidentsPerHour int) *Sweeper {
	return &Sweeper{
		global:              global,
		project:             project,
		autoRecover:         autoRecover,
		maxRecoveryAttempts: maxRecoveryAttempts,
		maxIncidentsPerHour: maxIncidentsPerHour,
	}
}

// Run executes the sweep. If autoRecover is false it is a strict no-op
// (§4.2 Cancellation). If the recent incident rate exceeds
// maxIncidentsPerHour it short-circuits with no rows modified (§4.2 step 5).
func (sw *Sweeper) Run(ctx context.Context) (int, error) {
	if !sw.autoRecover {
		return 0, nil
	}

	recent, err := sw.global.CountRecentIncidents(ctx, time.Hour)
	if err != nil {
		return 0, fmt.Errorf("lease: count recent incidents: %w", err)
	}
	if recent > sw.maxIncidentsPerHour {
		return 0, nil
	}

	stuck, err := sw.project.ListStuckTasks(ctx, StuckThreshold)
	if err != nil {
		return 0, fmt.Errorf("lease: list stuck tasks: %w", err)
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	locks := make(map[string]*store.TaskLock, len(stuck))
	for _, t := range stuck {
		l, err := sw.project.GetTaskLock(ctx, t.ID)
		if err != nil {
			return 0, fmt.Errorf("lease: get task lock %s: %w", t.ID, err)
		}
		locks[t.ID] = l
	}

	allRunners, err := sw.global.ListRunners(ctx)
	if err != nil {
		return 0, fmt.Errorf("lease: list runners: %w", err)
	}
	runners := make(map[string]*store.Runner, len(allRunners))
	for i := range allRunners {
		runners[allRunners[i].ID] = &allRunners[i]
	}

	intents := PlanSweep(stuck, locks, runners, time.Now().UTC(), isPidAlive)

	applied := 0
	for _, in := range intents {
		if err := sw.apply(ctx, in); err != nil {
			return applied, fmt.Errorf("lease: apply intent for task %s: %w", in.TaskID, err)
		}
		applied++
	}
	return applied, nil
}

func (sw *Sweeper) apply(ctx context.Context, in Intent) error {
	if in.PIDToKill != nil {
		_ = syscall.Kill(*in.PIDToKill, syscall.SIGKILL) // best-effort
	}
	if in.DeleteRunner && in.RunnerID != "" {
		if err := sw.global.DeleteRunner(ctx, in.RunnerID); err != nil {
			return err
		}
	}

	details, err := incident.Capture(ctx, sw.project, in.TaskID, string(in.FailureMode))
	if err != nil {
		details = incident.CaptureRunner(string(in.FailureMode))
	}

	switch in.FailureMode {
	case store.FailureZombieRunner, store.FailureDeadRunner:
		if in.RunnerID != "" {
			if _, err := sw.global.RecordRunnerIncident(ctx, in.FailureMode, in.RunnerID, details); err != nil {
				return err
			}
		}
	default:
		if _, err := sw.project.RecordRecoveryIncident(ctx, in.FailureMode, details); err != nil {
			return err
		}
	}
	metrics.IncidentsRecorded.WithLabelValues(string(in.FailureMode)).Inc()

	if err := sw.project.ResetTaskForRecovery(ctx, in.TaskID, in.RunnerID, sw.maxRecoveryAttempts); err != nil {
		return err
	}
	metrics.RecoverySweepResets.WithLabelValues(string(in.FailureMode)).Inc()
	return nil
}

func isPidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 performs existence/permission checks only (standard Unix
	// liveness probe), mirroring the pattern FluxForge's janitor implies
	// for pid verification.
	err := syscall.Kill(pid, 0)
	return err == nil
}
