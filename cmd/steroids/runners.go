package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/UnlikeOtherAI/steroids/internal/config"
	"github.com/UnlikeOtherAI/steroids/internal/dbsql"
	"github.com/UnlikeOtherAI/steroids/internal/gitops"
	"github.com/UnlikeOtherAI/steroids/internal/hooks"
	"github.com/UnlikeOtherAI/steroids/internal/incident"
	"github.com/UnlikeOtherAI/steroids/internal/lease"
	"github.com/UnlikeOtherAI/steroids/internal/logging"
	"github.com/UnlikeOtherAI/steroids/internal/phase"
	"github.com/UnlikeOtherAI/steroids/internal/selector"
	"github.com/UnlikeOtherAI/steroids/internal/store"
)

func cmdRunners(args []string) int {
	if len(args) == 0 || args[0] != "start" {
		fmt.Println("usage: steroids runners start --project <path> [--parallel] [--json]")
		return exitGeneralError
	}
	return cmdRunnersStart(args[1:])
}

func cmdRunnersStart(args []string) int {
	fs := flag.NewFlagSet("runners start", flag.ContinueOnError)
	projectPath := fs.String("project", "", "path to the project repository")
	parallel := fs.Bool("parallel", false, "run as a parallel workstream rather than the sole runner for this project")
	debug := fs.Bool("debug", false, "verbose development logging")
	asJSON := fs.Bool("json", false, "emit a single JSON result object on exit")
	if err := fs.Parse(args); err != nil {
		return exitGeneralError
	}
	if *projectPath == "" {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids runners start: --project is required")))
	}
	abs, err := filepath.Abs(*projectPath)
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids runners start: %w", err)))
	}
	if !projectInitialized(abs) {
		return emit(*asJSON, nil, nil, errNotInitialized(abs))
	}

	logger, err := logging.New(*debug)
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids runners start: %w", err)))
	}
	defer logger.Sync() //nolint:errcheck

	home, err := defaultHomeDir()
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(err))
	}
	cfg, err := config.Load(filepath.Join(home, "config.yaml"))
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids runners start: load config: %w", err)))
	}

	gdb, err := dbsql.OpenGlobal(home)
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids runners start: %w", err)))
	}
	defer gdb.Close()
	global := store.NewGlobalStore(gdb)

	pdb, err := dbsql.OpenProject(abs)
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids runners start: %w", err)))
	}
	defer pdb.Close()
	proj := store.NewProjectStore(pdb)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("runners: received shutdown signal")
		cancel()
	}()

	processed, err := runScheduleLoop(ctx, logger, global, proj, abs, cfg, *parallel)

	result := map[string]interface{}{"project": abs, "tasks_processed": processed}
	if err != nil {
		return emit(*asJSON, nil, nil, err)
	}
	return emit(*asJSON, func(interface{}) { fmt.Printf("processed %d task(s) in %s\n", processed, abs) }, result, nil)
}

// runScheduleLoop runs Selector(C5) -> Phase Driver(C6) repeatedly until no
// eligible task remains, the context is cancelled, or a fatal lease loss
// occurs, refreshing the lease at every boundary (§5 control flow).
func runScheduleLoop(
	ctx context.Context,
	logger *zap.Logger,
	global *store.GlobalStore,
	proj *store.ProjectStore,
	projectPath string,
	cfg *config.GlobalConfig,
	parallel bool,
) (int, error) {
	runnerID := uuid.NewString()

	if !parallel {
		active, err := global.ActiveNonParallelRunner(ctx, projectPath, lease.HeartbeatStaleAfter)
		if err != nil {
			return 0, errGeneral(fmt.Errorf("runners: check active runner: %w", err))
		}
		if active != nil {
			return 0, errResourceLocked(fmt.Sprintf("project %s already has an active runner (id=%s)", projectPath, active.ID))
		}
	}

	pid := os.Getpid()
	runner := store.Runner{ID: runnerID, PID: &pid, Status: store.RunnerRunning, ProjectPath: projectPath, HeartbeatAt: time.Now().UTC()}
	if parallel {
		sessionID := uuid.NewString()
		runner.ParallelSessionID = &sessionID
	}
	if err := global.UpsertRunner(ctx, runner); err != nil {
		return 0, errGeneral(fmt.Errorf("runners: register runner: %w", err))
	}
	defer func() {
		if err := global.DeleteRunner(context.Background(), runnerID); err != nil {
			logger.Warn("runners: deregister runner failed", zap.Error(err))
		}
	}()

	workstream, err := global.CreateWorkstream(ctx, projectPath, runnerID, lease.DefaultTTL)
	if err != nil {
		return 0, errGeneral(fmt.Errorf("runners: create workstream: %w", err))
	}
	defer func() {
		if err := global.StopWorkstream(context.Background(), workstream.ID); err != nil {
			logger.Warn("runners: stop workstream failed", zap.Error(err))
		}
	}()

	go startHeartbeatLoop(ctx, logger, global, runnerID)

	leaseMgr := lease.NewManager(global, proj, runnerID)
	git := gitops.New(projectPath)
	coder, reviewers, orchestrator, coordinator := buildAdapters(cfg.AI, global, cfg.RateLimit)
	phaseCfg := config.DefaultPhaseConfig(cfg)
	projectRef := hooks.ProjectRef{Name: filepath.Base(projectPath), Path: projectPath}

	driver := phase.New(proj, leaseMgr, git, coder, reviewers, orchestrator, coordinator, cfg.AI, phaseCfg, runnerID, workstream.ID, projectRef, hooks.NopDispatcher{}, logger)
	sel := selector.New(proj)

	processed := 0
	for {
		if ctx.Err() != nil {
			return processed, nil
		}

		selection, err := sel.Select(ctx, runnerID)
		if err != nil {
			return processed, errGeneral(fmt.Errorf("runners: select task: %w", err))
		}
		if selection == nil {
			return processed, nil
		}
		task := selection.Task

		ok, err := leaseMgr.AcquireTask(ctx, task.ID)
		if err != nil {
			return processed, errGeneral(fmt.Errorf("runners: acquire task lock %s: %w", task.ID, err))
		}
		if !ok {
			continue // another runner won the race; retry selection
		}

		if err := global.Heartbeat(ctx, runnerID); err != nil {
			logger.Warn("runners: heartbeat failed", zap.Error(err))
		}
		runner.CurrentTaskID = &task.ID
		if err := global.UpsertRunner(ctx, runner); err != nil {
			logger.Warn("runners: update current task failed", zap.Error(err))
		}

		if selection.Action == "start" {
			if err := proj.StartTask(ctx, task.ID, runnerID); err != nil {
				logger.Warn("runners: start task failed", zap.Error(err))
				_ = leaseMgr.ReleaseTask(ctx, task.ID)
				continue
			}
			task.Status = store.TaskInProgress
		}

		var credit *phase.CreditExhaustion
		switch task.Status {
		case store.TaskReview:
			credit, err = driver.RunReviewerPhase(ctx, task, workstream.ClaimGeneration)
		default:
			credit, err = driver.RunCoderPhase(ctx, task, workstream.ClaimGeneration)
		}
		processed++

		_ = leaseMgr.ReleaseTask(ctx, task.ID)

		if credit != nil {
			logger.Warn("runners: pausing on credit exhaustion", zap.String("provider", credit.Provider), zap.String("role", credit.Role))
			if _, err := global.RecordCreditIncident(ctx, runnerID, credit.Provider, credit.Model, credit.Role, incident.CaptureRunner(credit.Message)); err != nil {
				logger.Warn("runners: record credit incident failed", zap.Error(err))
			}
			return processed, nil
		}
		if err != nil {
			if errors.Is(err, store.ErrLeaseLost) {
				logger.Warn("runners: lease lost, stopping", zap.Error(err))
				return processed, nil
			}
			logger.Warn("runners: phase error", zap.Error(err))
			return processed, nil
		}
	}
}
