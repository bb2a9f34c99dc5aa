// Package service implements the lending lifecycle: inventory, the
// reservation queue, the borrow state machine, fines and sweeps.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/fee"
	"github.com/DongNguyen06/lib-v2/internal/model"
	"github.com/DongNguyen06/lib-v2/internal/repository"
)

// Rules are the lending limits applied by the state machine.
type Rules struct {
	MaxActiveBorrows int
	MaxRenewals      int
	LoanPeriod       time.Duration
	RenewalExtension time.Duration
	PickupWindow     time.Duration
	HoldWindow       time.Duration
	DueSoonWindow    time.Duration
}

// DefaultRules returns the library's standard limits.
func DefaultRules() Rules {
	return Rules{
		MaxActiveBorrows: 5,
		MaxRenewals:      1,
		LoanPeriod:       14 * 24 * time.Hour,
		RenewalExtension: 7 * 24 * time.Hour,
		PickupWindow:     48 * time.Hour,
		HoldWindow:       48 * time.Hour,
		DueSoonWindow:    3 * 24 * time.Hour,
	}
}

// Deps are the collaborators of the lending services.
type Deps struct {
	Store    repository.Store
	Rules    Rules
	Policy   fee.Policy
	Notifier Notifier
	Audit    AuditLogger
	Log      *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Lending groups the services sharing one store and clock.
type Lending struct {
	Inventory    *InventoryServiceImpl
	Reservations *ReservationServiceImpl
	Borrows      *BorrowServiceImpl
	Fines        *FineServiceImpl
	Sweeps       *SweepServiceImpl
}

// NewLending wires the services.
func NewLending(d Deps) *Lending {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	c := &core{
		store: d.Store,
		rules: d.Rules,
		fees:  d.Policy,
		now:   d.Now,
		out:   NewDispatcher(d.Notifier, d.Audit, d.Log),
		log:   d.Log,
	}
	return &Lending{
		Inventory:    &InventoryServiceImpl{c},
		Reservations: &ReservationServiceImpl{c},
		Borrows:      &BorrowServiceImpl{c},
		Fines:        &FineServiceImpl{c},
		Sweeps:       &SweepServiceImpl{c},
	}
}

type core struct {
	store repository.Store
	rules Rules
	fees  fee.Policy
	now   func() time.Time
	out   *Dispatcher
	log   *zap.Logger
}

type txFunc func(ctx context.Context, tx repository.Tx, eff *model.Effects) error

// run executes fn in one transaction and dispatches its effects after commit.
func (c *core) run(ctx context.Context, fn txFunc) error {
	var eff model.Effects
	err := c.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		eff = model.Effects{}
		return fn(ctx, tx, &eff)
	})
	if err != nil {
		return err
	}
	c.out.Dispatch(ctx, eff)
	return nil
}

func newID() (uuid.UUID, error) { return uuid.NewV4() }

// lockBook wraps LockBook with the user-facing not-found message.
func lockBook(ctx context.Context, tx repository.Tx, id uuid.UUID) (*model.Book, error) {
	b, err := tx.LockBook(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errs.New(errs.ErrNotFound, "Book not found")
		}
		return nil, err
	}
	return b, nil
}

// freeCopies returns copies on the shelf not set aside for ready holds.
func freeCopies(ctx context.Context, tx repository.Tx, b *model.Book) (int, error) {
	held, err := tx.CountReady(ctx, b.ID)
	if err != nil {
		return 0, err
	}
	return max(b.AvailableCopies-held, 0), nil
}

// promoteNext hands a free copy of book to the head of its queue.
// It is a no-op when the queue is empty or no copy is free.
func (c *core) promoteNext(ctx context.Context, tx repository.Tx, book *model.Book, now time.Time, eff *model.Effects) error {
	cur, err := tx.LockBook(ctx, book.ID)
	if err != nil {
		return err
	}
	free, err := freeCopies(ctx, tx, cur)
	if err != nil || free == 0 {
		return err
	}
	next, err := tx.NextWaiting(ctx, book.ID)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pos := next.QueuePosition
	holdUntil := now.Add(c.rules.HoldWindow)
	notified := now
	next.Status = model.ReservationReady
	next.NotifiedDate = &notified
	next.HoldUntil = &holdUntil
	next.QueuePosition = 0
	if err := tx.UpdateReservation(ctx, next); err != nil {
		return err
	}
	if err := tx.ShiftWaitingAfter(ctx, book.ID, pos); err != nil {
		return err
	}
	eff.Notify(next.UserID, model.NotifySuccess, "Reserved Book Available",
		"Your reserved book \""+book.Title+"\" is now available! Please pick it up before "+fmtTime(holdUntil)+".")
	eff.Log(now, "Reservation Ready", "Hold placed on \""+book.Title+"\" until "+fmtTime(holdUntil), model.SeverityInfo, next.UserID)
	return nil
}

// expireHold moves a ready reservation to expired and passes the copy on.
func (c *core) expireHold(ctx context.Context, tx repository.Tx, book *model.Book, r *model.Reservation, now time.Time, eff *model.Effects) error {
	if r.Status != model.ReservationReady {
		return errs.New(errs.ErrInvalidTransition, "Only ready reservations can expire")
	}
	r.Status = model.ReservationExpired
	if err := tx.UpdateReservation(ctx, r); err != nil {
		return err
	}
	eff.Notify(r.UserID, model.NotifyAlert, "Reservation Expired",
		"Your hold on \""+book.Title+"\" has expired because it was not picked up in time.")
	eff.Log(now, "Reservation Expired", "Hold on \""+book.Title+"\" lapsed", model.SeverityInfo, r.UserID)
	return c.promoteNext(ctx, tx, book, now, eff)
}

// expireLapsedHolds expires the book's ready holds whose window has passed.
func (c *core) expireLapsedHolds(ctx context.Context, tx repository.Tx, book *model.Book, now time.Time, eff *model.Effects) error {
	lapsed, err := tx.ListLapsedHolds(ctx, book.ID, now)
	if err != nil {
		return err
	}
	for i := range lapsed {
		if err := c.expireHold(ctx, tx, book, &lapsed[i], now, eff); err != nil {
			return err
		}
	}
	return nil
}

// authorizeOwner allows the owner of a record and counter staff.
func authorizeOwner(by *model.Principal, owner uuid.UUID) error {
	if !by.IsAuthenticated() {
		return errs.New(errs.ErrUnauthorized, "Authentication required")
	}
	if by.Owns(owner) || by.Role.CanApproveBorrows() {
		return nil
	}
	return errs.New(errs.ErrForbidden, "You can only manage your own records")
}

const timeLayout = "2006-01-02 15:04:05"

func fmtTime(t time.Time) string { return t.Format(timeLayout) }

// formatVND renders a whole-dong amount with thousands separators.
func formatVND(d decimal.Decimal) string {
	s := d.Round(0).StringFixed(0)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
