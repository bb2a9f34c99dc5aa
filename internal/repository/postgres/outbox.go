package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/DongNguyen06/lib-v2/internal/model"
)

// NotificationRepo stores user notifications for in-app delivery.
type NotificationRepo struct{ db *DB }

// NewNotificationRepo constructs a notification repository.
func NewNotificationRepo(db *DB) *NotificationRepo { return &NotificationRepo{db: db} }

// InsertNotification appends a notification row.
func (r *NotificationRepo) InsertNotification(ctx context.Context, n model.Notification) error {
	const q = `INSERT INTO notifications (user_id, type, title, message) VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, n.UserID, n.Type, n.Title, n.Message)
	return err
}

// ListNotifications returns the most recent notifications of a user.
func (r *NotificationRepo) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]model.Notification, error) {
	const q = `
SELECT user_id, type, title, message
FROM notifications WHERE user_id=$1
ORDER BY created_at DESC, id DESC
LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.UserID, &n.Type, &n.Title, &n.Message); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// AuditRepo persists audit events.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// InsertAuditEvent appends an audit_log row.
func (r *AuditRepo) InsertAuditEvent(ctx context.Context, ev model.AuditEvent) error {
	const q = `INSERT INTO audit_log (action, details, severity, user_id, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.db.Pool.Exec(ctx, q, ev.Action, ev.Details, ev.Severity, ev.UserID, ev.At)
	return err
}
