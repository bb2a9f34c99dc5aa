// Package audit records lending events.
package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DongNguyen06/lib-v2/internal/model"
)

// Logger records one audit event.
type Logger interface {
	LogEvent(ctx context.Context, ev model.AuditEvent) error
}

// Zap writes audit events as structured log lines. Error events are logged
// at error level, everything else at info.
type Zap struct{ log *zap.Logger }

func NewZap(log *zap.Logger) *Zap {
	if log == nil {
		log = zap.NewNop()
	}
	return &Zap{log: log.Named("audit")}
}

func (z *Zap) LogEvent(_ context.Context, ev model.AuditEvent) error {
	fields := []zap.Field{
		zap.String("action", ev.Action),
		zap.String("details", ev.Details),
		zap.String("severity", string(ev.Severity)),
		zap.Time("at", ev.At),
	}
	if ev.UserID != nil {
		fields = append(fields, zap.String("user_id", ev.UserID.String()))
	}
	lvl := zapcore.InfoLevel
	if ev.Severity == model.SeverityError {
		lvl = zapcore.ErrorLevel
	}
	z.log.Log(lvl, "audit", fields...)
	return nil
}

// Inserter persists audit events.
type Inserter interface {
	InsertAuditEvent(ctx context.Context, ev model.AuditEvent) error
}

// Store appends events to the audit_log table.
type Store struct{ repo Inserter }

func NewStore(repo Inserter) *Store { return &Store{repo: repo} }

func (s *Store) LogEvent(ctx context.Context, ev model.AuditEvent) error {
	if err := s.repo.InsertAuditEvent(ctx, ev); err != nil {
		return fmt.Errorf("store audit event %q: %w", ev.Action, err)
	}
	return nil
}

// Multi writes to every logger.
type Multi []Logger

func (m Multi) LogEvent(ctx context.Context, ev model.AuditEvent) error {
	var errs []error
	for _, l := range m {
		if err := l.LogEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
