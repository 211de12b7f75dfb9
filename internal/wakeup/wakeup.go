// Package wakeup implements the Wakeup Controller (C7): a single-shot
// discovery pass that cleans stale runners and spawns a detached runner
// process for each registered project that has pending work and no active
// runner. Grounded on fluxforge/control_plane/coordination/janitor.go's
// stale-row sweep and control_plane/scheduler's admission pattern, adapted
// from per-job dispatch to per-project runner spawning (§4.7).
package wakeup

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/UnlikeOtherAI/steroids/internal/dbsql"
	"github.com/UnlikeOtherAI/steroids/internal/lease"
	"github.com/UnlikeOtherAI/steroids/internal/metrics"
	"github.com/UnlikeOtherAI/steroids/internal/ratelimit"
	"github.com/UnlikeOtherAI/steroids/internal/store"
)

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// StaleAfter is the 5-minute heartbeat staleness threshold named in §3/§4.7.
const StaleAfter = 5 * time.Minute

// ResultKind enumerates one project's outcome in a wakeup pass.
type ResultKind string

const (
	ResultCleaned     ResultKind = "cleaned"
	ResultNone        ResultKind = "none"
	ResultWouldStart  ResultKind = "would_start"
	ResultStarted     ResultKind = "started"
)

// Result is one entry of a wakeup pass's output (§4.7).
type Result struct {
	Kind        ResultKind
	ProjectPath string
	Reason      string
	PID         int
	Count       int
}

// Options configures one Run call.
type Options struct {
	DryRun bool
	Quiet  bool
}

// isPidAlive is a package variable so it can be replaced; it defaults to a
// signal-0 liveness probe.
var isPidAlive = func(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// SweepConfig carries the recovery-sweep tuning knobs from the global
// config's `health` section (§4.2 step 5), so a wakeup pass can run the
// sweep for every project it visits ("Recovery sweep runs when wakeup
// fires or periodically").
type SweepConfig struct {
	AutoRecover         bool
	MaxRecoveryAttempts int
	MaxIncidentsPerHour int
}

// Controller runs wakeup passes against the global database.
type Controller struct {
	global *store.GlobalStore
	sweep  SweepConfig
	spawns *ratelimit.TokenBucketLimiter
}

// New builds a Controller. spawnPerSecond bounds how often a single project
// may have a runner spawned for it across consecutive wakeup passes,
// guarding the gap between listing a project as runner-less and that
// runner registering its own heartbeat row (§4.7 spawn-rate guard).
func New(global *store.GlobalStore, sweep SweepConfig, spawnPerSecond float64) *Controller {
	return &Controller{global: global, sweep: sweep, spawns: ratelimit.New(spawnPerSecond, 1)}
}

// Run executes one wakeup pass (§4.7 steps 1-3). The results slice is
// always non-nil and carries at least one "cleaned" or synthetic "no
// registered projects" entry.
func (c *Controller) Run(ctx context.Context, opts Options) ([]Result, error) {
	var results []Result

	staleCount, err := c.cleanStaleRunners(ctx)
	if err != nil {
		return nil, fmt.Errorf("wakeup: clean stale runners: %w", err)
	}
	results = append(results, Result{Kind: ResultCleaned, Count: staleCount})

	projects, err := c.global.ListEnabledProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("wakeup: list enabled projects: %w", err)
	}
	if len(projects) == 0 {
		return append(results, Result{Kind: ResultNone, Reason: "No registered projects"}), nil
	}

	for _, p := range projects {
		results = append(results, c.evaluateProject(ctx, p, opts))
	}
	return results, nil
}

func (c *Controller) cleanStaleRunners(ctx context.Context) (int, error) {
	stale, err := c.global.ListStaleRunners(ctx, StaleAfter)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range stale {
		if r.PID != nil && isPidAlive(*r.PID) {
			continue
		}
		if err := c.global.DeleteRunner(ctx, r.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (c *Controller) evaluateProject(ctx context.Context, p store.Project, opts Options) Result {
	if !pathExists(p.Path) {
		return Result{Kind: ResultNone, ProjectPath: p.Path, Reason: "not found"}
	}

	active, err := c.global.ActiveNonParallelRunner(ctx, p.Path, StaleAfter)
	if err != nil {
		return Result{Kind: ResultNone, ProjectPath: p.Path, Reason: fmt.Sprintf("error: %v", err)}
	}
	if active != nil {
		return Result{Kind: ResultNone, ProjectPath: p.Path, Reason: "already active"}
	}

	db, err := dbsql.OpenProject(p.Path)
	if err != nil {
		return Result{Kind: ResultNone, ProjectPath: p.Path, Reason: fmt.Sprintf("error: %v", err)}
	}
	defer db.Close()
	ps := store.NewProjectStore(db)

	if !opts.DryRun {
		sweeper := lease.NewSweeper(c.global, ps, c.sweep.AutoRecover, c.sweep.MaxRecoveryAttempts, c.sweep.MaxIncidentsPerHour)
		if _, err := sweeper.Run(ctx); err != nil {
			return Result{Kind: ResultNone, ProjectPath: p.Path, Reason: fmt.Sprintf("recovery sweep error: %v", err)}
		}
	}

	pending, err := ps.CountTasksByStatuses(ctx, []store.TaskStatus{store.TaskPending, store.TaskInProgress, store.TaskReview})
	if err != nil {
		return Result{Kind: ResultNone, ProjectPath: p.Path, Reason: fmt.Sprintf("error: %v", err)}
	}
	if pending == 0 {
		return Result{Kind: ResultNone, ProjectPath: p.Path, Reason: "No pending tasks"}
	}

	if opts.DryRun {
		return Result{Kind: ResultWouldStart, ProjectPath: p.Path, Count: pending}
	}

	if !c.spawns.Allow(p.Path) {
		return Result{Kind: ResultNone, ProjectPath: p.Path, Reason: "spawn rate limited"}
	}

	pid, err := spawnRunner(p.Path)
	if err != nil {
		return Result{Kind: ResultNone, ProjectPath: p.Path, Reason: fmt.Sprintf("spawn failed: %v", err)}
	}
	metrics.WakeupRunnersSpawned.WithLabelValues(p.Name).Inc()
	return Result{Kind: ResultStarted, ProjectPath: p.Path, PID: pid, Count: pending}
}

// spawnRunner launches a detached runner process for path, per the CLI
// contract named in §4.7 ("steroids runners start --parallel --project
// <path>"), and returns its pid.
func spawnRunner(path string) (int, error) {
	cmd := exec.Command("steroids", "runners", "start", "--parallel", "--project", path)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return cmd.Process.Pid, nil
}
