package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// NotificationType classifies user notifications.
type NotificationType string

const (
	NotifySuccess  NotificationType = "success"
	NotifyAlert    NotificationType = "alert"
	NotifyReminder NotificationType = "reminder"
	NotifyInfo     NotificationType = "info"
)

// Notification is a request for the external sender.
type Notification struct {
	UserID  uuid.UUID        `json:"user_id"`
	Type    NotificationType `json:"type"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
}

// Severity of an audit event.
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeveritySystem Severity = "system"
	SeverityError  Severity = "error"
)

// AuditEvent is a structured log entry for the external audit logger.
type AuditEvent struct {
	Action   string
	Details  string
	Severity Severity
	UserID   *uuid.UUID
	At       time.Time
}

// Effects are side effects produced inside a transaction and delivered after
// it commits. Nothing here is sent when the transaction rolls back.
type Effects struct {
	Notifications []Notification
	Audit         []AuditEvent
}

// Notify queues a notification.
func (e *Effects) Notify(userID uuid.UUID, typ NotificationType, title, msg string) {
	e.Notifications = append(e.Notifications, Notification{UserID: userID, Type: typ, Title: title, Message: msg})
}

// Log queues an audit event attributed to userID (uuid.Nil for system events).
func (e *Effects) Log(at time.Time, action, details string, sev Severity, userID uuid.UUID) {
	ev := AuditEvent{Action: action, Details: details, Severity: sev, At: at}
	if userID != uuid.Nil {
		id := userID
		ev.UserID = &id
	}
	e.Audit = append(e.Audit, ev)
}

// Merge appends other's effects after e's.
func (e *Effects) Merge(other Effects) {
	e.Notifications = append(e.Notifications, other.Notifications...)
	e.Audit = append(e.Audit, other.Audit...)
}

// Empty reports whether there is nothing to deliver.
func (e Effects) Empty() bool { return len(e.Notifications) == 0 && len(e.Audit) == 0 }
