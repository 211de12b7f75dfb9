package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// GlobalStore is the DAO for the shared, host-wide database
// (~/.steroids/steroids.db): projects, runners, workstreams,
// provider_backoffs, and runner/provider-scoped incidents (§3 Ownership).
type GlobalStore struct {
	db *sqlx.DB
}

func NewGlobalStore(db *sqlx.DB) *GlobalStore { return &GlobalStore{db: db} }

func (s *GlobalStore) Close() error { return s.db.Close() }

// -- Projects --

func (s *GlobalStore) UpsertProject(ctx context.Context, p Project) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO projects (name, path, enabled) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET path = excluded.path, enabled = excluded.enabled`),
		p.Name, p.Path, p.Enabled)
	if err != nil {
		return fmt.Errorf("store: upsert project: %w", err)
	}
	return nil
}

func (s *GlobalStore) ListEnabledProjects(ctx context.Context) ([]Project, error) {
	var out []Project
	err := s.db.SelectContext(ctx, &out, `SELECT * FROM projects WHERE enabled = 1 ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list enabled projects: %w", err)
	}
	return out, nil
}

// -- Runners --

func (s *GlobalStore) UpsertRunner(ctx context.Context, r Runner) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO runners (id, pid, status, project_path, current_task_id, heartbeat_at, parallel_session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pid = excluded.pid, status = excluded.status, current_task_id = excluded.current_task_id,
			heartbeat_at = excluded.heartbeat_at, parallel_session_id = excluded.parallel_session_id`),
		r.ID, r.PID, r.Status, r.ProjectPath, r.CurrentTaskID, r.HeartbeatAt, r.ParallelSessionID)
	if err != nil {
		return fmt.Errorf("store: upsert runner: %w", err)
	}
	return nil
}

func (s *GlobalStore) Heartbeat(ctx context.Context, runnerID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE runners SET heartbeat_at = ? WHERE id = ?`), time.Now().UTC(), runnerID)
	if err != nil {
		return fmt.Errorf("store: heartbeat: %w", err)
	}
	return nil
}

func (s *GlobalStore) DeleteRunner(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM runners WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("store: delete runner: %w", err)
	}
	return nil
}

func (s *GlobalStore) ListRunners(ctx context.Context) ([]Runner, error) {
	var out []Runner
	if err := s.db.SelectContext(ctx, &out, `SELECT * FROM runners`); err != nil {
		return nil, fmt.Errorf("store: list runners: %w", err)
	}
	return out, nil
}

// ActiveNonParallelRunner returns the active, non-parallel runner for a
// project path, if any (§4.7 step 3, I-Wakeup).
func (s *GlobalStore) ActiveNonParallelRunner(ctx context.Context, projectPath string, staleAfter time.Duration) (*Runner, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	var r Runner
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`
		SELECT * FROM runners
		WHERE project_path = ? AND status != 'stopped' AND heartbeat_at > ? AND parallel_session_id IS NULL
		LIMIT 1`), projectPath, cutoff)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: active runner: %w", err)
	}
	return &r, nil
}

// ListStaleRunners returns runners whose heartbeat is older than staleAfter
// (pid liveness is checked by the caller, which has OS process access).
func (s *GlobalStore) ListStaleRunners(ctx context.Context, staleAfter time.Duration) ([]Runner, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	var out []Runner
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT * FROM runners WHERE heartbeat_at < ?`), cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: list stale runners: %w", err)
	}
	return out, nil
}

// -- Workstreams (lease fencing, §4.2) --

func (s *GlobalStore) CreateWorkstream(ctx context.Context, projectPath, runnerID string, ttl time.Duration) (*Workstream, error) {
	w := Workstream{
		ID:              uuid.NewString(),
		ProjectPath:     projectPath,
		Status:          "running",
		RunnerID:        &runnerID,
		ClaimGeneration: 1,
		LeaseExpiresAt:  time.Now().UTC().Add(ttl),
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO workstreams (id, project_path, status, runner_id, claim_generation, lease_expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		w.ID, w.ProjectPath, w.Status, w.RunnerID, w.ClaimGeneration, w.LeaseExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("store: create workstream: %w", err)
	}
	return &w, nil
}

// RefreshWorkstreamLease is the fenced lease refresh from §4.2:
//
//	UPDATE workstreams SET lease_expires_at = now+ttl
//	WHERE id = ? AND status = 'running' AND claim_generation = ?
//
// If rows_affected != 1 the caller has lost the lease (ErrLeaseLost).
func (s *GlobalStore) RefreshWorkstreamLease(ctx context.Context, workstreamID string, claimGeneration int64, ttl time.Duration) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE workstreams SET lease_expires_at = ?
		WHERE id = ? AND status = 'running' AND claim_generation = ?`),
		time.Now().UTC().Add(ttl), workstreamID, claimGeneration)
	if err != nil {
		return fmt.Errorf("store: refresh workstream lease: %w", err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return ErrLeaseLost
	}
	return nil
}

// GetWorkstream fetches a workstream by id.
func (s *GlobalStore) GetWorkstream(ctx context.Context, id string) (*Workstream, error) {
	var w Workstream
	err := s.db.GetContext(ctx, &w, s.db.Rebind(`SELECT * FROM workstreams WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get workstream: %w", err)
	}
	return &w, nil
}

// StopWorkstream marks a workstream stopped, bumping claim_generation so any
// late writer using the old generation loses its fence.
func (s *GlobalStore) StopWorkstream(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE workstreams SET status = 'stopped', claim_generation = claim_generation + 1 WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("store: stop workstream: %w", err)
	}
	return nil
}

// -- Provider backoff (§3 ProviderBackoff) --

func (s *GlobalStore) GetProviderBackoff(ctx context.Context, provider, model string) (*ProviderBackoff, error) {
	var b ProviderBackoff
	err := s.db.GetContext(ctx, &b, s.db.Rebind(`SELECT * FROM provider_backoffs WHERE provider = ? AND model = ?`), provider, model)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get provider backoff: %w", err)
	}
	return &b, nil
}

func (s *GlobalStore) UpsertProviderBackoff(ctx context.Context, b ProviderBackoff) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO provider_backoffs (provider, model, cooldown_until, strike_count, last_reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider, model) DO UPDATE SET
			cooldown_until = excluded.cooldown_until,
			strike_count = excluded.strike_count,
			last_reason = excluded.last_reason`),
		b.Provider, b.Model, b.CooldownUntil, b.StrikeCount, b.LastReason)
	if err != nil {
		return fmt.Errorf("store: upsert provider backoff: %w", err)
	}
	return nil
}

// -- Runner/provider-scoped incidents (credit_exhaustion, rate_limit,
// zombie_runner, dead_runner — all tied to a Runner, a global-only concept) --

// RecordCreditIncident is idempotent on (failure_mode='credit_exhaustion',
// runner_id, provider, model, role): if a matching unresolved incident
// exists, its id is returned and no row is inserted (§4.1 contract, I-IncidentDedup).
func (s *GlobalStore) RecordCreditIncident(ctx context.Context, runnerID, provider, model, role, details string) (string, error) {
	var existing string
	err := s.db.GetContext(ctx, &existing, s.db.Rebind(`
		SELECT id FROM incidents
		WHERE failure_mode = ? AND runner_id = ? AND provider = ? AND model = ? AND role = ? AND resolved_at IS NULL
		LIMIT 1`), FailureCreditExhaustion, runnerID, provider, model, role)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("store: record credit incident, dedup check: %w", err)
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO incidents (id, failure_mode, runner_id, provider, model, role, detected_at, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		id, FailureCreditExhaustion, runnerID, provider, model, role, time.Now().UTC(), details)
	if err != nil {
		return "", fmt.Errorf("store: record credit incident: %w", err)
	}
	return id, nil
}

// RecordRunnerIncident records a zombie_runner/dead_runner incident. It
// always inserts a new row; there is no unresolved-row dedup check.
func (s *GlobalStore) RecordRunnerIncident(ctx context.Context, mode FailureMode, runnerID, details string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO incidents (id, failure_mode, runner_id, detected_at, details)
		VALUES (?, ?, ?, ?, ?)`),
		id, mode, runnerID, time.Now().UTC(), details)
	if err != nil {
		return "", fmt.Errorf("store: record runner incident: %w", err)
	}
	return id, nil
}

// ResolveIncident sets resolved_at/resolution only if the row is currently
// unresolved; otherwise it is a no-op (§4.1 contract).
func (s *GlobalStore) ResolveIncident(ctx context.Context, id string, resolution Resolution) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE incidents SET resolved_at = ?, resolution = ? WHERE id = ? AND resolved_at IS NULL`),
		time.Now().UTC(), resolution, id)
	if err != nil {
		return false, fmt.Errorf("store: resolve incident: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// GetActiveCreditIncidents lists unresolved credit_exhaustion incidents,
// optionally filtered to runners belonging to projectPath (§4.1 contract).
func (s *GlobalStore) GetActiveCreditIncidents(ctx context.Context, projectPath *string) ([]Incident, error) {
	q := `SELECT i.* FROM incidents i`
	var args []interface{}
	if projectPath != nil {
		q += ` JOIN runners r ON r.id = i.runner_id WHERE i.failure_mode = ? AND i.resolved_at IS NULL AND r.project_path = ?`
		args = []interface{}{FailureCreditExhaustion, *projectPath}
	} else {
		q += ` WHERE i.failure_mode = ? AND i.resolved_at IS NULL`
		args = []interface{}{FailureCreditExhaustion}
	}
	var out []Incident
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("store: active credit incidents: %w", err)
	}
	return out, nil
}

// CountRecentIncidents counts all incidents detected within window, used by
// the recovery sweep's maxIncidentsPerHour safety limit (§4.2 step 5).
func (s *GlobalStore) CountRecentIncidents(ctx context.Context, window time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-window)
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT COUNT(*) FROM incidents WHERE detected_at > ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: count recent incidents: %w", err)
	}
	return n, nil
}
