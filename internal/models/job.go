package models

import (
	"encoding/json"
	"time"
)

type JobKind string

const (
	JobKindMigration    JobKind = "migration"
	JobKindDistribution JobKind = "distribution"
	JobKindRotation     JobKind = "rotation"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

type TargetStatus string

const (
	TargetStatusPending TargetStatus = "pending"
	TargetStatusSuccess TargetStatus = "success"
	TargetStatusFailed  TargetStatus = "failed"
	TargetStatusSkipped TargetStatus = "skipped"
)

// TargetResult is the outcome of one target within a job. For migration jobs
// the target is one source VM; for distribution and rotation jobs it is one
// destination host.
type TargetResult struct {
	TargetID           string       `json:"target_id"`
	Status             TargetStatus `json:"status"`
	Message            string       `json:"message,omitempty"`
	ProducedResourceID string       `json:"produced_resource_id,omitempty"`
}

// Job is one long-running multi-target operation. Params carries the
// kind-specific submission payload verbatim; the registered pipeline decodes it.
type Job struct {
	ID          string          `json:"id" db:"id"`
	TenantID    string          `json:"tenant_id" db:"tenant_id"`
	Kind        JobKind         `json:"kind" db:"kind"`
	Status      JobStatus       `json:"status" db:"status"`
	Progress    int             `json:"progress" db:"progress"`
	Params      json.RawMessage `json:"params" db:"params"`
	Targets     []TargetResult  `json:"targets" db:"targets"`
	Error       *string         `json:"error,omitempty" db:"error"`
	StartedAt   *time.Time      `json:"started_at" db:"started_at"`
	CompletedAt *time.Time      `json:"completed_at" db:"completed_at"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}
