package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/virtshift/virtshift-api/internal/models"
)

type CreateNotificationParams struct {
	TenantID *string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	ListRecent(ctx context.Context, tenantID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error)
}

type notificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

const notificationColumns = `id, tenant_id, event_type, severity, title, message, metadata, read_at, created_at`

func scanNotification(row interface{ Scan(...interface{}) error }) (models.Notification, error) {
	var (
		notif    models.Notification
		tenantID sql.NullString
		metadata []byte
		readAt   sql.NullTime
	)
	err := row.Scan(
		&notif.ID,
		&tenantID,
		&notif.EventType,
		&notif.Severity,
		&notif.Title,
		&notif.Message,
		&metadata,
		&readAt,
		&notif.CreatedAt,
	)
	if err != nil {
		return notif, err
	}
	if tenantID.Valid {
		notif.TenantID = &tenantID.String
	}
	if readAt.Valid {
		notif.ReadAt = &readAt.Time
	}
	notif.Metadata = json.RawMessage(metadata)
	return notif, nil
}

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return models.Notification{}, err
	}
	query := `
		INSERT INTO panel.notifications (tenant_id, event_type, severity, title, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + notificationColumns
	return scanNotification(r.db.QueryRowContext(ctx, query,
		params.TenantID, params.Event, params.Severity, params.Title, params.Message, encoded,
	))
}

func (r *notificationRepository) ListRecent(ctx context.Context, tenantID string, limit int) ([]models.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM panel.notifications
		WHERE tenant_id = $1 OR tenant_id IS NULL
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notif)
	}
	return notifications, rows.Err()
}

func (r *notificationRepository) MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error) {
	query := `
		UPDATE panel.notifications
		SET read_at = COALESCE(read_at, now())
		WHERE id = $1 AND tenant_id = $2
		RETURNING ` + notificationColumns
	notif, err := scanNotification(r.db.QueryRowContext(ctx, query, notificationID, tenantID))
	if err == sql.ErrNoRows {
		return notif, ErrNotFound
	}
	return notif, err
}
