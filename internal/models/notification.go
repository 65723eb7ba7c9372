package models

import (
	"encoding/json"
	"time"
)

type NotificationSeverity string

const (
	NotificationSeverityInfo    NotificationSeverity = "info"
	NotificationSeverityWarning NotificationSeverity = "warning"
	NotificationSeverityError   NotificationSeverity = "error"
)

type NotificationEvent string

const (
	NotificationEventJobStarted        NotificationEvent = "job_started"
	NotificationEventJobSucceeded      NotificationEvent = "job_succeeded"
	NotificationEventJobFailed         NotificationEvent = "job_failed"
	NotificationEventJobCancelled      NotificationEvent = "job_cancelled"
	NotificationEventDiscoveryComplete NotificationEvent = "discovery_complete"
)

type Notification struct {
	ID        string               `json:"id" db:"id"`
	TenantID  *string              `json:"tenant_id,omitempty" db:"tenant_id"`
	EventType NotificationEvent    `json:"event_type" db:"event_type"`
	Severity  NotificationSeverity `json:"severity" db:"severity"`
	Title     string               `json:"title" db:"title"`
	Message   string               `json:"message" db:"message"`
	Metadata  json.RawMessage      `json:"metadata,omitempty" db:"metadata"`
	ReadAt    *time.Time           `json:"read_at,omitempty" db:"read_at"`
	CreatedAt time.Time            `json:"created_at" db:"created_at"`
}
