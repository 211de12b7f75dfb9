package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"

	"github.com/UnlikeOtherAI/steroids/internal/config"
	"github.com/UnlikeOtherAI/steroids/internal/dbsql"
	"github.com/UnlikeOtherAI/steroids/internal/store"
	"github.com/UnlikeOtherAI/steroids/internal/wakeup"
)

func cmdWakeup(args []string) int {
	fs := flag.NewFlagSet("wakeup", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "report what would start without spawning runners")
	quiet := fs.Bool("quiet", false, "suppress none/cleaned result lines in human output")
	asJSON := fs.Bool("json", false, "emit a single JSON result object")
	if err := fs.Parse(args); err != nil {
		return exitGeneralError
	}

	home, err := defaultHomeDir()
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(err))
	}

	cfg, err := config.Load(filepath.Join(home, "config.yaml"))
	if err != nil {
		// No global config yet is not fatal to a discovery pass; fall back
		// to zero-config defaults (autoRecover=false, default rate limits).
		cfg = config.Default()
	}

	gdb, err := dbsql.OpenGlobal(home)
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids wakeup: %w", err)))
	}
	defer gdb.Close()
	global := store.NewGlobalStore(gdb)

	controller := wakeup.New(global, wakeup.SweepConfig{
		AutoRecover:         cfg.Health.AutoRecover,
		MaxRecoveryAttempts: cfg.Health.MaxRecoveryAttempts,
		MaxIncidentsPerHour: cfg.Health.MaxIncidentsPerHour,
	}, float64(cfg.RateLimit.SpawnPerMinute)/60.0)

	results, err := controller.Run(context.Background(), wakeup.Options{DryRun: *dryRun, Quiet: *quiet})
	if err != nil {
		return emit(*asJSON, nil, nil, errGeneral(fmt.Errorf("steroids wakeup: %w", err)))
	}

	return emit(*asJSON, func(interface{}) { printWakeupResults(results, *quiet) }, results, nil)
}

func printWakeupResults(results []wakeup.Result, quiet bool) {
	for _, r := range results {
		if quiet && (r.Kind == wakeup.ResultCleaned || r.Kind == wakeup.ResultNone) {
			continue
		}
		switch r.Kind {
		case wakeup.ResultCleaned:
			fmt.Printf("cleaned %d stale runner(s)\n", r.Count)
		case wakeup.ResultNone:
			fmt.Printf("%s: none (%s)\n", r.ProjectPath, r.Reason)
		case wakeup.ResultWouldStart:
			fmt.Printf("%s: would_start (%d pending)\n", r.ProjectPath, r.Count)
		case wakeup.ResultStarted:
			fmt.Printf("%s: started pid=%d (%d pending)\n", r.ProjectPath, r.PID, r.Count)
		}
	}
}
