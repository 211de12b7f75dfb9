// Package store implements the State Store (C1): the two SQL schemas — one
// per project, one global — and the narrow DAO layer everything else in the
// core talks to. Nothing outside this package issues SQL.
package store

import "time"

// TaskStatus enumerates the lifecycle states a Task can occupy.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskCompleted  TaskStatus = "completed"
	TaskDisputed   TaskStatus = "disputed"
	TaskSkipped    TaskStatus = "skipped"
	TaskFailed     TaskStatus = "failed"
)

// Task is the unit of work the scheduler drives through its lifecycle.
type Task struct {
	ID             string     `db:"id" json:"id"`
	Title          string     `db:"title" json:"title"`
	Status         TaskStatus `db:"status" json:"status"`
	SectionID      *string    `db:"section_id" json:"section_id,omitempty"`
	SourceFile     *string    `db:"source_file" json:"source_file,omitempty"`
	RejectionCount int        `db:"rejection_count" json:"rejection_count"`
	FailureCount   int        `db:"failure_count" json:"failure_count"`
	Depth          int        `db:"depth" json:"depth"`
	ParentTaskID   *string    `db:"parent_task_id" json:"parent_task_id,omitempty"`
	CoordinatorJSON *string   `db:"coordinator_json" json:"-"` // cached (decision, guidance) blob
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	LastFailureAt  *time.Time `db:"last_failure_at" json:"last_failure_at,omitempty"`
}

// Section groups Tasks under a numeric priority.
type Section struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Priority int    `db:"priority" json:"priority"`
}

// SectionDependency records that Section depends on DependsOn.
type SectionDependency struct {
	SectionID   string `db:"section_id" json:"section_id"`
	DependsOnID string `db:"depends_on_section_id" json:"depends_on_section_id"`
}

// ActorType enumerates who produced an Audit row.
type ActorType string

const (
	ActorHuman       ActorType = "human"
	ActorOrchestrator ActorType = "orchestrator"
	ActorCoordinator ActorType = "coordinator"
	ActorAutomation  ActorType = "automation"
)

// Audit is one append-only transition record. I-Audit requires exactly one
// row per observed tasks.status change.
type Audit struct {
	ID         int64      `db:"id" json:"id"`
	TaskID     string     `db:"task_id" json:"task_id"`
	FromStatus *TaskStatus `db:"from_status" json:"from_status,omitempty"`
	ToStatus   TaskStatus `db:"to_status" json:"to_status"`
	Actor      string     `db:"actor" json:"actor"`
	ActorType  ActorType  `db:"actor_type" json:"actor_type"`
	Model      *string    `db:"model" json:"model,omitempty"`
	Notes      *string    `db:"notes" json:"notes,omitempty"`
	CommitSHA  *string    `db:"commit_sha" json:"commit_sha,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// FailureMode enumerates Incident classifications.
type FailureMode string

const (
	FailureCreditExhaustion FailureMode = "credit_exhaustion"
	FailureOrphanedTask     FailureMode = "orphaned_task"
	FailureHangingInvocation FailureMode = "hanging_invocation"
	FailureZombieRunner     FailureMode = "zombie_runner"
	FailureDeadRunner       FailureMode = "dead_runner"
	FailureRateLimit        FailureMode = "rate_limit"
)

// Resolution enumerates how an Incident was closed.
type Resolution string

const (
	ResolutionConfigChanged Resolution = "config_changed"
	ResolutionDismissed     Resolution = "dismissed"
	ResolutionManual        Resolution = "manual"
	ResolutionRetry         Resolution = "retry"
	ResolutionAutoRestart   Resolution = "auto_restart"
)

// Incident records a recoverable or surfaced failure. I-IncidentDedup bounds
// unresolved credit_exhaustion rows to one per (runner, provider, model, role).
type Incident struct {
	ID         string      `db:"id" json:"id"`
	FailureMode FailureMode `db:"failure_mode" json:"failure_mode"`
	RunnerID   *string     `db:"runner_id" json:"runner_id,omitempty"`
	Provider   *string     `db:"provider" json:"provider,omitempty"`
	Model      *string     `db:"model" json:"model,omitempty"`
	Role       *string     `db:"role" json:"role,omitempty"`
	DetectedAt time.Time   `db:"detected_at" json:"detected_at"`
	ResolvedAt *time.Time  `db:"resolved_at" json:"resolved_at,omitempty"`
	Resolution *Resolution `db:"resolution" json:"resolution,omitempty"`
	Details    string      `db:"details" json:"details"` // structured JSON blob
}

// InvocationRole enumerates who a TaskInvocation was run as.
type InvocationRole string

const (
	RoleCoder        InvocationRole = "coder"
	RoleReviewer     InvocationRole = "reviewer"
	RoleOrchestrator InvocationRole = "orchestrator"
	RoleCoordinator  InvocationRole = "coordinator"
)

// InvocationStatus enumerates TaskInvocation.Status.
type InvocationStatus string

const (
	InvocationRunning   InvocationStatus = "running"
	InvocationCompleted InvocationStatus = "completed"
	InvocationFailed    InvocationStatus = "failed"
)

// TaskInvocation is one actor run.
type TaskInvocation struct {
	ID              string           `db:"id" json:"id"`
	TaskID          string           `db:"task_id" json:"task_id"`
	Role            InvocationRole   `db:"role" json:"role"`
	Provider        string           `db:"provider" json:"provider"`
	Model           string           `db:"model" json:"model"`
	StartedAt       time.Time        `db:"started_at" json:"started_at"`
	CompletedAt     *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
	ExitCode        *int             `db:"exit_code" json:"exit_code,omitempty"`
	DurationMS      *int64           `db:"duration_ms" json:"duration_ms,omitempty"`
	Success         bool             `db:"success" json:"success"`
	TimedOut        bool             `db:"timed_out" json:"timed_out"`
	RejectionNumber *int             `db:"rejection_number" json:"rejection_number,omitempty"`
	Status          InvocationStatus `db:"status" json:"status"`
}

// TaskLock is the exclusive per-task lease row.
type TaskLock struct {
	TaskID      string    `db:"task_id" json:"task_id"`
	RunnerID    string    `db:"runner_id" json:"runner_id"`
	AcquiredAt  time.Time `db:"acquired_at" json:"acquired_at"`
	ExpiresAt   time.Time `db:"expires_at" json:"expires_at"`
	HeartbeatAt time.Time `db:"heartbeat_at" json:"heartbeat_at"`
}

// RunnerStatus enumerates Runner.Status.
type RunnerStatus string

const (
	RunnerRunning RunnerStatus = "running"
	RunnerStopped RunnerStatus = "stopped"
)

// Runner is a supervised loop process, tracked in the global database.
type Runner struct {
	ID                string       `db:"id" json:"id"`
	PID               *int         `db:"pid" json:"pid,omitempty"`
	Status            RunnerStatus `db:"status" json:"status"`
	ProjectPath       string       `db:"project_path" json:"project_path"`
	CurrentTaskID     *string      `db:"current_task_id" json:"current_task_id,omitempty"`
	HeartbeatAt       time.Time    `db:"heartbeat_at" json:"heartbeat_at"`
	ParallelSessionID *string      `db:"parallel_session_id" json:"parallel_session_id,omitempty"`
}

// Workstream is a parallel execution channel carrying the lease fencing
// generation (§5).
type Workstream struct {
	ID              string    `db:"id" json:"id"`
	ProjectPath     string    `db:"project_path" json:"project_path"`
	Status          string    `db:"status" json:"status"` // running, stopped
	RunnerID        *string   `db:"runner_id" json:"runner_id,omitempty"`
	ClaimGeneration int64     `db:"claim_generation" json:"claim_generation"`
	LeaseExpiresAt  time.Time `db:"lease_expires_at" json:"lease_expires_at"`
}

// ProviderBackoff is a per-provider cooldown used to suppress immediate
// re-entry after a rate_limit or credit_exhaustion classification.
type ProviderBackoff struct {
	Provider    string    `db:"provider" json:"provider"`
	Model       string    `db:"model" json:"model"`
	CooldownUntil time.Time `db:"cooldown_until" json:"cooldown_until"`
	StrikeCount int       `db:"strike_count" json:"strike_count"`
	LastReason  string    `db:"last_reason" json:"last_reason"`
}

// Project is a registered project in the global database.
type Project struct {
	Name    string `db:"name" json:"name"`
	Path    string `db:"path" json:"path"`
	Enabled bool   `db:"enabled" json:"enabled"`
}
