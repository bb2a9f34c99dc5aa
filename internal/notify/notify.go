// Package notify delivers user notifications produced by the lending engine.
// Every sender is called after the transaction that produced the
// notification has committed; errors are reported to the caller, which
// logs them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/DongNguyen06/lib-v2/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Sender delivers a single notification.
type Sender interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Envelope is the wire form published to brokers.
type Envelope struct {
	Source string `json:"source"`
	model.Notification
	SentAt time.Time `json:"sent_at"`
}

func encode(n model.Notification, at time.Time) ([]byte, error) {
	b, err := json.Marshal(Envelope{Source: "lending", Notification: n, SentAt: at.UTC()})
	if err != nil {
		return nil, fmt.Errorf("encode notification: %w", err)
	}
	return b, nil
}

// Log writes notifications to a zap logger. It is the fallback sender when
// no broker is configured.
type Log struct{ log *zap.Logger }

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{log: log}
}

func (s *Log) Notify(_ context.Context, n model.Notification) error {
	s.log.Info("notification",
		zap.String("user_id", n.UserID.String()),
		zap.String("type", string(n.Type)),
		zap.String("title", n.Title),
		zap.String("message", n.Message))
	return nil
}

// Inserter persists notifications for in-app reading.
type Inserter interface {
	InsertNotification(ctx context.Context, n model.Notification) error
}

// Store keeps notifications in the database inbox.
type Store struct{ repo Inserter }

func NewStore(repo Inserter) *Store { return &Store{repo: repo} }

func (s *Store) Notify(ctx context.Context, n model.Notification) error {
	if err := s.repo.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

// Multi fans a notification out to every sender. All senders are tried.
type Multi []Sender

func (m Multi) Notify(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
