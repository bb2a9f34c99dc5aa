package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DongNguyen06/lib-v2/internal/fee"
	"github.com/DongNguyen06/lib-v2/internal/model"
	"github.com/DongNguyen06/lib-v2/internal/repository/memory"
)

type recorder struct {
	mu     sync.Mutex
	notes  []model.Notification
	events []model.AuditEvent
}

func (r *recorder) Notify(_ context.Context, n model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return nil
}

func (r *recorder) LogEvent(_ context.Context, ev model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) notesFor(userID uuid.UUID) []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Notification
	for _, n := range r.notes {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (r *recorder) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Action)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes, r.events = nil, nil
}

// clock advances by a microsecond on every read so records created in one
// test keep a strict order.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Microsecond)
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	st  *memory.Store
	svc *Lending
	clk *clock
	rec *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		st:  memory.New(),
		clk: &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
		rec: &recorder{},
	}
	h.svc = NewLending(Deps{
		Store:    h.st,
		Rules:    DefaultRules(),
		Policy:   fee.DefaultPolicy(),
		Notifier: h.rec,
		Audit:    h.rec,
		Log:      zaptest.NewLogger(t),
		Now:      h.clk.Now,
	})
	return h
}

func (h *harness) book(t *testing.T, copies int) model.Book {
	t.Helper()
	isbn := "978-" + uuid.Must(uuid.NewV4()).String()[:8]
	b, err := h.svc.Inventory.RegisterBook(context.Background(), isbn, "Book "+isbn, copies)
	require.NoError(t, err)
	return *b
}

func (h *harness) available(t *testing.T, id uuid.UUID) int {
	t.Helper()
	b, ok := h.st.Book(id)
	require.True(t, ok)
	return b.AvailableCopies
}

// loan creates and picks up a borrow.
func (h *harness) loan(t *testing.T, userID, bookID uuid.UUID) model.Borrow {
	t.Helper()
	ctx := context.Background()
	res, err := h.svc.Borrows.Create(ctx, userID, bookID)
	require.NoError(t, err)
	picked, err := h.svc.Borrows.ConfirmPickup(ctx, res.Borrow.ID)
	require.NoError(t, err)
	return picked.Borrow
}

func (h *harness) reserve(t *testing.T, userID, bookID uuid.UUID) model.Reservation {
	t.Helper()
	res, err := h.svc.Reservations.Create(context.Background(), userID, bookID)
	require.NoError(t, err)
	return res.Reservation
}

func (h *harness) returnGood(t *testing.T, borrowID uuid.UUID) *ReturnResult {
	t.Helper()
	res, err := h.svc.Borrows.Return(context.Background(), ReturnRequest{BorrowID: borrowID, Condition: model.ConditionGood})
	require.NoError(t, err)
	return res
}

func newUser() uuid.UUID { return uuid.Must(uuid.NewV4()) }

func owner(id uuid.UUID) *model.Principal { return &model.Principal{UserID: id, Role: model.RoleUser} }

var staff = &model.Principal{UserID: uuid.Must(uuid.NewV4()), Role: model.RoleStaff}

func vnd(n int64) decimal.Decimal { return decimal.NewFromInt(n) }
