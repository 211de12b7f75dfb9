package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrLeaseLost is returned when an optimistic-fenced update affects zero
// rows: the caller has lost its claim and must abort the current phase
// rather than continue mutating state (§4.2, §5).
var ErrLeaseLost = errors.New("store: lease lost")

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// ProjectStore is the DAO for a single project's SQLite database. It is the
// only thing in the core that issues SQL against that file (§9: "the Store
// is a narrow DAO consumed via an interface").
type ProjectStore struct {
	db *sqlx.DB
}

// NewProjectStore wraps an already-opened, already-migrated project database.
func NewProjectStore(db *sqlx.DB) *ProjectStore { return &ProjectStore{db: db} }

func (s *ProjectStore) Close() error { return s.db.Close() }

// GetTask fetches a single task by id.
func (s *ProjectStore) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tasks WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task %s: %w", id, err)
	}
	return &t, nil
}

// ListTaskFilter narrows ListTasks.
type ListTaskFilter struct {
	Status    *TaskStatus
	SectionID *string
}

func (s *ProjectStore) ListTasks(ctx context.Context, filter ListTaskFilter) ([]Task, error) {
	q := `SELECT * FROM tasks WHERE 1=1`
	var args []interface{}
	if filter.Status != nil {
		q += ` AND status = ?`
		args = append(args, *filter.Status)
	}
	if filter.SectionID != nil {
		q += ` AND section_id = ?`
		args = append(args, *filter.SectionID)
	}
	q += ` ORDER BY created_at ASC`
	var out []Task
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	return out, nil
}

// addAuditLocked inserts one audit row inside an existing transaction. Every
// mutating operation that changes tasks.status or rejection_count calls this
// in the same transaction as the row update (§4.1 contract, I-Audit).
func addAuditLocked(ctx context.Context, tx *sqlx.Tx, taskID string, from *TaskStatus, to TaskStatus, actor string, actorType ActorType, model, notes, commitSHA *string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO audit (task_id, from_status, to_status, actor, actor_type, model, notes, commit_sha, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		taskID, from, to, actor, actorType, model, notes, commitSHA, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: insert audit: %w", err)
	}
	return nil
}

// UpdateTaskStatus transitions a task's status, writing the audit row in the
// same transaction.
func (s *ProjectStore) UpdateTaskStatus(ctx context.Context, id string, newStatus TaskStatus, actor string, actorType ActorType, notes, commitSHA *string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var cur Task
		if err := tx.GetContext(ctx, &cur, tx.Rebind(`SELECT * FROM tasks WHERE id = ?`), id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		from := cur.Status
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`), newStatus, time.Now().UTC(), id); err != nil {
			return err
		}
		return addAuditLocked(ctx, tx, id, &from, newStatus, actor, actorType, nil, notes, commitSHA)
	})
}

// withTx runs fn inside a transaction, committing on success.
func (s *ProjectStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// ApproveTask sets status=completed and records the commit sha (§4.6 step 9).
func (s *ProjectStore) ApproveTask(ctx context.Context, id, actor string, commitSHA, notes *string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var cur Task
		if err := tx.GetContext(ctx, &cur, tx.Rebind(`SELECT * FROM tasks WHERE id = ?`), id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`), TaskCompleted, time.Now().UTC(), id); err != nil {
			return err
		}
		from := cur.Status
		return addAuditLocked(ctx, tx, id, &from, TaskCompleted, actor, ActorOrchestrator, nil, notes, commitSHA)
	})
}

// RejectTask increments rejection_count and reverts to in_progress (§4.6 step 9).
func (s *ProjectStore) RejectTask(ctx context.Context, id, actor string, notes *string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var cur Task
		if err := tx.GetContext(ctx, &cur, tx.Rebind(`SELECT * FROM tasks WHERE id = ?`), id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE tasks SET status = ?, rejection_count = rejection_count + 1, updated_at = ? WHERE id = ?`), TaskInProgress, time.Now().UTC(), id); err != nil {
			return err
		}
		from := cur.Status
		return addAuditLocked(ctx, tx, id, &from, TaskInProgress, actor, ActorOrchestrator, nil, notes, nil)
	})
}

// StartTask transitions pending -> in_progress when the scheduler claims it.
func (s *ProjectStore) StartTask(ctx context.Context, id, actor string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`), TaskInProgress, time.Now().UTC(), id); err != nil {
			return err
		}
		from := TaskPending
		return addAuditLocked(ctx, tx, id, &from, TaskInProgress, actor, ActorAutomation, nil, nil, nil)
	})
}

// AddAuditEntry inserts a standalone audit row not tied to a status change
// in the same call (e.g. a coordinator invocation that doesn't itself
// transition the task).
func (s *ProjectStore) AddAuditEntry(ctx context.Context, a Audit) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO audit (task_id, from_status, to_status, actor, actor_type, model, notes, commit_sha, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.TaskID, a.FromStatus, a.ToStatus, a.Actor, a.ActorType, a.Model, a.Notes, a.CommitSHA, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: add audit entry: %w", err)
	}
	return nil
}

// GetAuditTrail returns a task's most recent limit audit rows ordered oldest-first.
func (s *ProjectStore) GetAuditTrail(ctx context.Context, taskID string, limit int) ([]Audit, error) {
	var out []Audit
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT * FROM (SELECT * FROM audit WHERE task_id = ? ORDER BY created_at DESC, id DESC LIMIT ?) ORDER BY created_at ASC, id ASC`), taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: audit trail: %w", err)
	}
	return out, nil
}

// FindNextTask implements the Task Selector (C5): the first pending or
// resumable task ordered by (section priority DESC NULLS LAST, section name
// ASC, task created_at ASC), excluding sections with an unmet dependency
// (§4.1, I-Dependencies).
func (s *ProjectStore) FindNextTask(ctx context.Context, excludeIDs []string) (*Task, string, error) {
	q := `
		SELECT t.* FROM tasks t
		LEFT JOIN sections sec ON sec.id = t.section_id
		WHERE t.status IN ('pending', 'in_progress')
		  AND (t.section_id IS NULL OR NOT EXISTS (
			SELECT 1 FROM section_dependencies sd
			JOIN tasks dt ON dt.section_id = sd.depends_on_section_id
			WHERE sd.section_id = t.section_id
			  AND dt.status NOT IN ('completed', 'skipped')
		  ))`
	args := []interface{}{}
	if len(excludeIDs) > 0 {
		in, inArgs, err := sqlx.In("AND t.id NOT IN (?)", excludeIDs)
		if err != nil {
			return nil, "", fmt.Errorf("store: find next task: %w", err)
		}
		q += " " + in
		args = append(args, inArgs...)
	}
	q += `
		ORDER BY
		  CASE WHEN t.section_id IS NULL THEN 1 ELSE 0 END,
		  sec.priority DESC,
		  sec.name ASC,
		  t.created_at ASC
		LIMIT 1`
	q = s.db.Rebind(q)

	var t Task
	err := s.db.GetContext(ctx, &t, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("store: find next task: %w", err)
	}
	action := "start"
	if t.Status == TaskInProgress {
		action = "resume"
	}
	return &t, action, nil
}

// CreateFollowUpTask creates a child task and returns it, per §4.6 step 8 and
// the SPEC_FULL.md depth-convention decision (depth = parent.depth + 1).
func (s *ProjectStore) CreateFollowUpTask(ctx context.Context, parentID, title string, sectionID *string) (*Task, error) {
	var parent Task
	if err := s.db.GetContext(ctx, &parent, s.db.Rebind(`SELECT * FROM tasks WHERE id = ?`), parentID); err != nil {
		return nil, fmt.Errorf("store: create follow-up, load parent: %w", err)
	}
	t := Task{
		ID:           uuid.NewString(),
		Title:        title,
		Status:       TaskPending,
		SectionID:    sectionID,
		Depth:        parent.Depth + 1,
		ParentTaskID: &parentID,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO tasks (id, title, status, section_id, depth, parent_task_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Title, t.Status, t.SectionID, t.Depth, t.ParentTaskID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create follow-up: %w", err)
	}
	return &t, nil
}

// GetFollowUpDepth returns a task's depth (root tasks are depth 0).
func (s *ProjectStore) GetFollowUpDepth(ctx context.Context, id string) (int, error) {
	var depth int
	err := s.db.GetContext(ctx, &depth, s.db.Rebind(`SELECT depth FROM tasks WHERE id = ?`), id)
	if err != nil {
		return 0, fmt.Errorf("store: get depth: %w", err)
	}
	return depth, nil
}

// GetTaskRejections returns a task's current rejection_count.
func (s *ProjectStore) GetTaskRejections(ctx context.Context, id string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, s.db.Rebind(`SELECT rejection_count FROM tasks WHERE id = ?`), id)
	if err != nil {
		return 0, fmt.Errorf("store: get rejections: %w", err)
	}
	return n, nil
}

// GetLatestSubmissionNotes returns the notes of the most recent audit row
// for the task with to_status='review', if any.
func (s *ProjectStore) GetLatestSubmissionNotes(ctx context.Context, id string) (*string, error) {
	var notes sql.NullString
	err := s.db.GetContext(ctx, &notes, s.db.Rebind(`
		SELECT notes FROM audit WHERE task_id = ? AND to_status = 'review'
		ORDER BY created_at DESC, id DESC LIMIT 1`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest submission notes: %w", err)
	}
	if !notes.Valid {
		return nil, nil
	}
	return &notes.String, nil
}

// SetCoordinatorCache persists the cached (decision, guidance) blob on a task
// between coordinator threshold crossings (§4.6 step 2).
func (s *ProjectStore) SetCoordinatorCache(ctx context.Context, id string, blob interface{}) error {
	data, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("store: marshal coordinator cache: %w", err)
	}
	str := string(data)
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`UPDATE tasks SET coordinator_json = ? WHERE id = ?`), str, id)
	if err != nil {
		return fmt.Errorf("store: set coordinator cache: %w", err)
	}
	return nil
}

// -- Lease primitives (project-local lock on a task; §3 TaskLock, §4.2) --

// AcquireTaskLock inserts a lock row for the task if none exists or the
// existing one has expired. Returns false if another runner holds a live lock.
func (s *ProjectStore) AcquireTaskLock(ctx context.Context, taskID, runnerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO task_locks (task_id, runner_id, acquired_at, expires_at, heartbeat_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			runner_id = excluded.runner_id,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at,
			heartbeat_at = excluded.heartbeat_at
		WHERE task_locks.expires_at < ?`),
		taskID, runnerID, now, now.Add(ttl), now, now)
	if err != nil {
		return false, fmt.Errorf("store: acquire task lock: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return true, nil
	}
	// Row existed and was not expired; check whether we already own it.
	var owner string
	if err := s.db.GetContext(ctx, &owner, s.db.Rebind(`SELECT runner_id FROM task_locks WHERE task_id = ?`), taskID); err != nil {
		return false, fmt.Errorf("store: acquire task lock, check owner: %w", err)
	}
	return owner == runnerID, nil
}

// RefreshLock extends a held lock's expires_at/heartbeat_at, fenced on the
// caller actually owning it (§4.2 refresh fence).
func (s *ProjectStore) RefreshLock(ctx context.Context, taskID, runnerID string, ttl time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE task_locks SET expires_at = ?, heartbeat_at = ?
		WHERE task_id = ? AND runner_id = ?`),
		now.Add(ttl), now, taskID, runnerID)
	if err != nil {
		return fmt.Errorf("store: refresh lock: %w", err)
	}
	n, _ := res.RowsAffected()
	if n != 1 {
		return ErrLeaseLost
	}
	return nil
}

// ReleaseLock deletes a lock row owned by runnerID.
func (s *ProjectStore) ReleaseLock(ctx context.Context, taskID, runnerID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM task_locks WHERE task_id = ? AND runner_id = ?`), taskID, runnerID)
	if err != nil {
		return fmt.Errorf("store: release lock: %w", err)
	}
	return nil
}

// GetTaskLock fetches the current lock row for a task, if any.
func (s *ProjectStore) GetTaskLock(ctx context.Context, taskID string) (*TaskLock, error) {
	var l TaskLock
	err := s.db.GetContext(ctx, &l, s.db.Rebind(`SELECT * FROM task_locks WHERE task_id = ?`), taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task lock: %w", err)
	}
	return &l, nil
}

// -- Sections --

func (s *ProjectStore) CreateSection(ctx context.Context, sec Section) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO sections (id, name, priority) VALUES (?, ?, ?)`), sec.ID, sec.Name, sec.Priority)
	if err != nil {
		return fmt.Errorf("store: create section: %w", err)
	}
	return nil
}

func (s *ProjectStore) AddSectionDependency(ctx context.Context, sectionID, dependsOnID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO section_dependencies (section_id, depends_on_section_id) VALUES (?, ?)`), sectionID, dependsOnID)
	if err != nil {
		return fmt.Errorf("store: add section dependency: %w", err)
	}
	return nil
}

func (s *ProjectStore) CreateTask(ctx context.Context, t Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = TaskPending
	}
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO tasks (id, title, status, section_id, source_file, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Title, t.Status, t.SectionID, t.SourceFile, now, now)
	if err != nil {
		return fmt.Errorf("store: create task: %w", err)
	}
	return nil
}

// -- Project-local recovery incidents (orphaned_task, hanging_invocation) --

func (s *ProjectStore) RecordRecoveryIncident(ctx context.Context, mode FailureMode, details string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO incidents (id, failure_mode, detected_at, resolution, details) VALUES (?, ?, ?, ?, ?)`),
		id, mode, time.Now().UTC(), ResolutionAutoRestart, details)
	if err != nil {
		return "", fmt.Errorf("store: record recovery incident: %w", err)
	}
	return id, nil
}

// CountTasksByStatuses reports how many tasks are in the given set of
// statuses, used by the Wakeup Controller's pending-work check (§4.7).
func (s *ProjectStore) CountTasksByStatuses(ctx context.Context, statuses []TaskStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	q, args, err := sqlx.In(`SELECT COUNT(*) FROM tasks WHERE status IN (?)`, statuses)
	if err != nil {
		return 0, fmt.Errorf("store: count tasks query: %w", err)
	}
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(q), args...); err != nil {
		return 0, fmt.Errorf("store: count tasks: %w", err)
	}
	return n, nil
}

// ListStuckTasks returns tasks whose status is in_progress/review and whose
// updated_at is older than threshold — candidates for the recovery sweep (§4.2).
func (s *ProjectStore) ListStuckTasks(ctx context.Context, threshold time.Duration) ([]Task, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	var out []Task
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT * FROM tasks WHERE status IN ('in_progress', 'review') AND updated_at < ?`), cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: list stuck tasks: %w", err)
	}
	return out, nil
}

// ResetTaskForRecovery resets a stuck task to pending (or skipped once
// maxRecoveryAttempts is reached), incrementing failure_count, within the
// same transaction as the audit row and lock release (§4.2 step 3-4).
func (s *ProjectStore) ResetTaskForRecovery(ctx context.Context, taskID, runnerID string, maxRecoveryAttempts int) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		var cur Task
		if err := tx.GetContext(ctx, &cur, tx.Rebind(`SELECT * FROM tasks WHERE id = ?`), taskID); err != nil {
			return err
		}
		newFailures := cur.FailureCount + 1
		target := TaskPending
		if newFailures >= maxRecoveryAttempts {
			target = TaskSkipped
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE tasks SET status = ?, failure_count = ?, last_failure_at = ?, updated_at = ? WHERE id = ?`),
			target, newFailures, now, now, taskID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM task_locks WHERE task_id = ?`), taskID); err != nil {
			return err
		}
		from := cur.Status
		return addAuditLocked(ctx, tx, taskID, &from, target, "recovery-sweep", ActorAutomation, nil, nil, nil)
	})
}
