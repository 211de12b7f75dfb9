// Package hooks defines the event payload shapes the core emits (§6); C8
// itself — fire-and-forget delivery — is external and out of scope (§1).
// This package exists so the core has a typed value to construct and hand
// off, not a delivery mechanism.
package hooks

import "time"

// Event names the fixed set of hook events named in §6.
type Event string

const (
	TaskCreated      Event = "task.created"
	TaskCompleted    Event = "task.completed"
	SectionCompleted Event = "section.completed"
	HealthChanged    Event = "health.changed"
	HealthCritical   Event = "health.critical"
	DisputeCreated   Event = "dispute.created"
	DisputeResolved  Event = "dispute.resolved"
	CreditExhausted  Event = "credit.exhausted"
	CreditResolved   Event = "credit.resolved"
	ProjectCompleted Event = "project.completed"
)

// ProjectRef identifies the project a payload belongs to.
type ProjectRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// TaskRef is the task projection carried by task.* and dispute.* payloads.
type TaskRef struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// SectionRef is the section projection carried by section.completed.
type SectionRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Health is the score/status projection carried by health.* payloads.
type Health struct {
	Score         float64 `json:"score"`
	PreviousScore float64 `json:"previous_score"`
	Status        string  `json:"status"`
}

// Dispute is the payload carried by dispute.* events.
type Dispute struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Credit is the payload carried by credit.* events.
type Credit struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Role     string `json:"role"`
	Message  string `json:"message"`
}

// Payload is the envelope every hook event carries (§6): a fixed header
// plus whichever event-specific field applies.
type Payload struct {
	Event     Event      `json:"event"`
	Timestamp time.Time  `json:"timestamp"`
	Project   ProjectRef `json:"project"`

	Task    *TaskRef    `json:"task,omitempty"`
	Section *SectionRef `json:"section,omitempty"`
	Health  *Health     `json:"health,omitempty"`
	Dispute *Dispute    `json:"dispute,omitempty"`
	Credit  *Credit     `json:"credit,omitempty"`
}

// Dispatcher is the narrow contract the core depends on to emit payloads;
// the real delivery mechanism (webhooks, queues, …) lives outside the core
// per §1 and is supplied by the embedding application.
type Dispatcher interface {
	Dispatch(Payload)
}

// NopDispatcher discards every payload; it is the default when no external
// dispatcher is wired in, so the core never has to nil-check.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(Payload) {}
