// Package notification records job and discovery lifecycle events as
// in-panel notifications. Publishing is fire-and-forget from the caller's
// point of view; a failed insert is the caller's to log, never to act on.
package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/virtshift/virtshift-api/internal/models"
	"github.com/virtshift/virtshift-api/internal/repository"
)

type Service struct {
	repo   repository.NotificationRepository
	logger zerolog.Logger
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "notifications").Logger(),
	}
}

// JobStarted implements the orchestrator's notifier.
func (s *Service) JobStarted(ctx context.Context, job models.Job) error {
	return s.publish(ctx, repository.CreateNotificationParams{
		TenantID: &job.TenantID,
		Event:    models.NotificationEventJobStarted,
		Severity: models.NotificationSeverityInfo,
		Title:    fmt.Sprintf("%s job started", job.Kind),
		Message:  fmt.Sprintf("Job %s started with %d target(s).", job.ID, len(job.Targets)),
		Metadata: jobMetadata(job),
	})
}

// JobFinished maps the terminal status onto an event and severity: a failure
// or cancellation is more than informational.
func (s *Service) JobFinished(ctx context.Context, job models.Job) error {
	event := models.NotificationEventJobSucceeded
	severity := models.NotificationSeverityInfo
	message := fmt.Sprintf("Job %s completed.", job.ID)
	switch job.Status {
	case models.JobStatusFailed:
		event = models.NotificationEventJobFailed
		severity = models.NotificationSeverityError
		message = fmt.Sprintf("Job %s failed: %d of %d target(s) did not complete.",
			job.ID, countFailed(job), len(job.Targets))
	case models.JobStatusCancelled:
		event = models.NotificationEventJobCancelled
		severity = models.NotificationSeverityWarning
		message = fmt.Sprintf("Job %s was cancelled.", job.ID)
	}
	return s.publish(ctx, repository.CreateNotificationParams{
		TenantID: &job.TenantID,
		Event:    event,
		Severity: severity,
		Title:    fmt.Sprintf("%s job %s", job.Kind, job.Status),
		Message:  message,
		Metadata: jobMetadata(job),
	})
}

// DiscoveryComplete implements the discovery service's notifier.
func (s *Service) DiscoveryComplete(ctx context.Context, tenantID, hostID, hostName string, vmCount int) error {
	return s.publish(ctx, repository.CreateNotificationParams{
		TenantID: &tenantID,
		Event:    models.NotificationEventDiscoveryComplete,
		Severity: models.NotificationSeverityInfo,
		Title:    "Inventory refreshed",
		Message:  fmt.Sprintf("Discovered %d VM(s) on %s.", vmCount, hostName),
		Metadata: map[string]interface{}{"host_id": hostID, "vm_count": vmCount},
	})
}

func (s *Service) ListRecent(ctx context.Context, tenantID string, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListRecent(ctx, tenantID, limit)
}

func (s *Service) MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error) {
	return s.repo.MarkRead(ctx, tenantID, notificationID)
}

func (s *Service) publish(ctx context.Context, params repository.CreateNotificationParams) error {
	notif, err := s.repo.Create(ctx, params)
	if err != nil {
		return err
	}
	s.logger.Debug().
		Str("event", string(notif.EventType)).
		Str("notification_id", notif.ID).
		Msg("notification published")
	return nil
}

func jobMetadata(job models.Job) map[string]interface{} {
	return map[string]interface{}{
		"job_id":   job.ID,
		"kind":     job.Kind,
		"status":   job.Status,
		"progress": job.Progress,
	}
}

func countFailed(job models.Job) int {
	failed := 0
	for _, target := range job.Targets {
		if target.Status == models.TargetStatusFailed {
			failed++
		}
	}
	return failed
}
