package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/DongNguyen06/lib-v2/internal/model"
)

// Notifier delivers user notifications.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// AuditLogger records audit events.
type AuditLogger interface {
	LogEvent(ctx context.Context, ev model.AuditEvent) error
}

// Dispatcher hands committed effects to the outbound collaborators.
// Delivery failures are logged and never reach the caller.
type Dispatcher struct {
	notifier Notifier
	audit    AuditLogger
	log      *zap.Logger
}

// NewDispatcher constructs a Dispatcher. Nil collaborators are skipped.
func NewDispatcher(n Notifier, a AuditLogger, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{notifier: n, audit: a, log: log}
}

// Dispatch sends every notification and audit event in order.
func (d *Dispatcher) Dispatch(ctx context.Context, eff model.Effects) {
	if d.notifier != nil {
		for _, n := range eff.Notifications {
			if err := d.notifier.Notify(ctx, n); err != nil {
				d.log.Warn("notify failed",
					zap.String("user_id", n.UserID.String()),
					zap.String("title", n.Title),
					zap.Error(err))
			}
		}
	}
	if d.audit != nil {
		for _, ev := range eff.Audit {
			if err := d.audit.LogEvent(ctx, ev); err != nil {
				d.log.Warn("audit log failed", zap.String("action", ev.Action), zap.Error(err))
			}
		}
	}
}
