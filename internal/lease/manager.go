// Package lease implements the Lease & Lifecycle Manager (C2): lease
// acquire/refresh on (runner, task) and (runner, workstream), stale/zombie/
// dead runner detection, and the recovery sweep. Grounded on FluxForge's
// control_plane/coordination/leader.go (fencing via an incrementing
// generation), janitor.go (stale/fenced lock sweep), and agent_monitor.go
// (heartbeat staleness), adapted from Redis-backed distributed locks to
// SQL-UPDATE-based optimistic fencing entirely within the shared on-disk
// database (§5: "All such writes use optimistic fencing with
// claim_generation rather than pessimistic locks").
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/UnlikeOtherAI/steroids/internal/metrics"
	"github.com/UnlikeOtherAI/steroids/internal/store"
)

// DefaultTTL is the coarse-grained lease TTL named in §4.2.
const DefaultTTL = 120 * time.Second

// Manager refreshes and checks leases for one runner process.
type Manager struct {
	global   *store.GlobalStore
	project  *store.ProjectStore
	runnerID string
}

func NewManager(global *store.GlobalStore, project *store.ProjectStore, runnerID string) *Manager {
	return &Manager{global: global, project: project, runnerID: runnerID}
}

// RefreshWorkstream refreshes the (runner, workstream) lease fence. A
// failure here is fatal to the current phase; the caller must abort rather
// than continue mutating state (§4.2, §5).
func (m *Manager) RefreshWorkstream(ctx context.Context, workstreamID string, claimGeneration int64) error {
	err := m.global.RefreshWorkstreamLease(ctx, workstreamID, claimGeneration, DefaultTTL)
	if errors.Is(err, store.ErrLeaseLost) {
		metrics.LeaseFenceFailures.WithLabelValues("workstream").Inc()
		return fmt.Errorf("lease: workstream %s fence lost at generation %d: %w", workstreamID, claimGeneration, err)
	}
	return err
}

// AcquireTask claims the per-task lock for this runner.
func (m *Manager) AcquireTask(ctx context.Context, taskID string) (bool, error) {
	return m.project.AcquireTaskLock(ctx, taskID, m.runnerID, DefaultTTL)
}

// RefreshTask refreshes the per-task lock. A failure is fatal to the current
// phase (§4.2).
func (m *Manager) RefreshTask(ctx context.Context, taskID string) error {
	err := m.project.RefreshLock(ctx, taskID, m.runnerID, DefaultTTL)
	if errors.Is(err, store.ErrLeaseLost) {
		metrics.LeaseFenceFailures.WithLabelValues("task").Inc()
		return fmt.Errorf("lease: task %s fence lost for runner %s: %w", taskID, m.runnerID, err)
	}
	return err
}

// ReleaseTask releases the per-task lock held by this runner.
func (m *Manager) ReleaseTask(ctx context.Context, taskID string) error {
	return m.project.ReleaseLock(ctx, taskID, m.runnerID)
}
