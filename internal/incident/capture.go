// Package incident assembles the structured details blob attached to an
// Incident row. Grounded on FluxForge's control_plane/incident/capture.go
// (IncidentReport/CaptureIncident), generalized from its Agent/Job/timeline
// shape to Steroids' Task/Audit shape (SPEC_FULL.md's
// "Incident capture snapshots" supplemented feature).
package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/UnlikeOtherAI/steroids/internal/store"
)

// Report is the structured snapshot captured alongside an Incident, encoded
// into Incident.Details.
type Report struct {
	TaskID     string         `json:"task_id,omitempty"`
	Task       *store.Task    `json:"task,omitempty"`
	Audit      []store.Audit  `json:"recent_audit,omitempty"`
	CapturedAt time.Time      `json:"captured_at"`
	Message    string         `json:"message,omitempty"`
}

// auditSource is the narrow dependency capture needs from ProjectStore,
// matching FluxForge's pattern of a small local interface rather than taking
// the concrete store type (control_plane/incident/capture.go StoreInterface).
type auditSource interface {
	GetTask(ctx context.Context, id string) (*store.Task, error)
	GetAuditTrail(ctx context.Context, taskID string, limit int) ([]store.Audit, error)
}

// Capture gathers a Report for a task failure and serializes it for storage
// in Incident.Details.
func Capture(ctx context.Context, s auditSource, taskID, message string) (string, error) {
	report := Report{TaskID: taskID, CapturedAt: time.Now().UTC(), Message: message}

	if taskID != "" {
		if t, err := s.GetTask(ctx, taskID); err == nil {
			report.Task = t
		}
		if trail, err := s.GetAuditTrail(ctx, taskID, 10); err == nil {
			report.Audit = trail
		}
	}

	data, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("incident: marshal report: %w", err)
	}
	return string(data), nil
}

// CaptureRunner gathers a Report for a runner/provider-scoped failure
// (credit_exhaustion, rate_limit, zombie_runner, dead_runner) which has no
// associated task.
func CaptureRunner(message string) string {
	report := Report{CapturedAt: time.Now().UTC(), Message: message}
	data, _ := json.Marshal(report)
	return string(data)
}
