package notify

import (
	"context"
	"slices"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/DongNguyen06/lib-v2/internal/model"
)

// Inbox keeps the latest notifications of each user in memory. It backs
// ListNotifications when the server runs without a database.
type Inbox struct {
	mu      sync.Mutex
	perUser int
	byUser  map[uuid.UUID][]model.Notification
}

// NewInbox keeps at most perUser notifications per user (minimum 1).
func NewInbox(perUser int) *Inbox {
	return &Inbox{perUser: max(perUser, 1), byUser: map[uuid.UUID][]model.Notification{}}
}

func (b *Inbox) Notify(_ context.Context, n model.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := append(b.byUser[n.UserID], n)
	if len(list) > b.perUser {
		list = slices.Clone(list[len(list)-b.perUser:])
	}
	b.byUser[n.UserID] = list
	return nil
}

// ListNotifications returns up to limit notifications, newest first.
func (b *Inbox) ListNotifications(_ context.Context, userID uuid.UUID, limit int) ([]model.Notification, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.byUser[userID]
	out := make([]model.Notification, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}
