// Package logging builds the structured logger every component threads
// through instead of the teacher's bare log.Printf calls (see SPEC_FULL.md's
// AMBIENT STACK section).
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production zap logger unless debug is set, in which case it
// uses the more verbose, console-encoded development config.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	return zap.NewProduction()
}

// TaskFields are the structured fields attached to every audit-relevant log
// line, mirroring FluxForge's "event=X key=val" convention (control_plane/scheduler/scheduler.go
// logDecision) expressed as zap fields instead of a formatted string.
func TaskFields(taskID string, from, to string, actor string) []zap.Field {
	return []zap.Field{
		zap.String("task_id", taskID),
		zap.String("from_status", from),
		zap.String("to_status", to),
		zap.String("actor", actor),
	}
}
