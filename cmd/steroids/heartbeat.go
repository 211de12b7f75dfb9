package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/UnlikeOtherAI/steroids/internal/store"
)

const heartbeatInterval = 30 * time.Second

// startHeartbeatLoop refreshes the runner's heartbeat on a fixed interval,
// adapted from fluxforge/agent/heartbeat.go's ticker-driven loop (HTTP POST
// there, a direct store write here). Without it a runner sitting inside one
// long phase invocation would only refresh its heartbeat at the phase
// boundary, risking going stale mid-task relative to the 5-minute
// threshold wakeup and recovery sweeps use to reclaim it.
func startHeartbeatLoop(ctx context.Context, logger *zap.Logger, global *store.GlobalStore, runnerID string) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := global.Heartbeat(ctx, runnerID); err != nil {
				logger.Warn("runners: background heartbeat failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
