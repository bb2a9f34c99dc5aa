package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/DongNguyen06/lib-v2/internal/model"
	"github.com/DongNguyen06/lib-v2/internal/repository"
)

// SweepReport summarizes one pass of every sweep.
type SweepReport struct {
	ExpiredPickups int
	DueSoon        int
	Overdue        int
	ExpiredHolds   int
	Errors         []error
}

// SweepService reconciles time-based state. Every sweep is safe to re-run.
type SweepService interface {
	// SweepExpiredPickups cancels pending pickups past their deadline.
	SweepExpiredPickups(ctx context.Context) (int, error)
	// SweepUpcomingDue reminds borrowers whose loans fall due within window;
	// zero means the configured window.
	SweepUpcomingDue(ctx context.Context, window time.Duration) (int, error)
	// SweepOverdue alerts borrowers of loans already past due.
	SweepOverdue(ctx context.Context) (int, error)
	// SweepExpiredHolds expires ready reservations that were not collected.
	SweepExpiredHolds(ctx context.Context) (int, error)
	// RunAll runs every sweep and never fails.
	RunAll(ctx context.Context) SweepReport
}

type SweepServiceImpl struct{ *core }

var _ SweepService = (*SweepServiceImpl)(nil)

// SweepExpiredPickups re-checks each candidate under lock; records that
// already moved on are skipped.
func (s *SweepServiceImpl) SweepExpiredPickups(ctx context.Context) (int, error) {
	var due []model.Borrow
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) (err error) {
		due, err = tx.ListExpiredPickups(ctx, s.now())
		return err
	})
	if err != nil {
		return s.finish(ctx, "Expired Pickups", 0, err)
	}

	var (
		n    int
		errs []error
	)
	for _, cand := range due {
		cancelled := false
		err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
			now := s.now()
			cancelled = false
			book, b, err := lockBorrow(ctx, tx, cand.ID)
			if err != nil {
				return err
			}
			if b.Status != model.BorrowPendingPickup || !now.After(b.PendingUntil) {
				return nil
			}
			if err := s.cancelTx(ctx, tx, book, b, now, eff); err != nil {
				return err
			}
			eff.Notify(b.UserID, model.NotifyAlert, "Reservation Cancelled",
				fmt.Sprintf("Your reservation for \"%s\" has been cancelled because it was not picked up within %d hours.",
					book.Title, int(s.rules.PickupWindow.Hours())))
			cancelled = true
			return nil
		})
		if err != nil {
			s.log.Warn("expire pickup failed", zap.String("borrow_id", cand.ID.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("borrow %s: %w", cand.ID, err))
			continue
		}
		if cancelled {
			n++
		}
	}
	return s.finish(ctx, "Expired Pickups", n, errors.Join(errs...))
}

// SweepUpcomingDue sends one reminder per borrowed loan due within window.
func (s *SweepServiceImpl) SweepUpcomingDue(ctx context.Context, window time.Duration) (int, error) {
	if window <= 0 {
		window = s.rules.DueSoonWindow
	}
	var n int
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		now := s.now()
		n = 0
		loans, err := tx.ListDueBetween(ctx, now, now.Add(window))
		if err != nil {
			return err
		}
		titles := titleCache{tx: tx}
		for _, b := range loans {
			title, err := titles.get(ctx, b.BookID)
			if err != nil {
				return err
			}
			days := int(math.Ceil(b.DueDate.Sub(now).Hours() / 24))
			eff.Notify(b.UserID, model.NotifyReminder, "Book Due Date Reminder",
				fmt.Sprintf("\"%s\" is due in %d day(s), on %s. Please return or renew it on time.",
					title, days, fmtTime(b.DueDate)))
			n++
		}
		return nil
	})
	return s.finish(ctx, "Due Date Reminders", n, err)
}

// SweepOverdue sends one alert per overdue loan.
func (s *SweepServiceImpl) SweepOverdue(ctx context.Context) (int, error) {
	var n int
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		now := s.now()
		n = 0
		loans, err := tx.ListOverdue(ctx, now)
		if err != nil {
			return err
		}
		titles := titleCache{tx: tx}
		for _, b := range loans {
			title, err := titles.get(ctx, b.BookID)
			if err != nil {
				return err
			}
			days := max(int(now.Sub(b.DueDate)/(24*time.Hour)), 1)
			eff.Notify(b.UserID, model.NotifyAlert, "Overdue Book Alert",
				fmt.Sprintf("\"%s\" was due on %s and is %d day(s) overdue. Please return it as soon as possible to limit late fees.",
					title, fmtTime(b.DueDate), days))
			n++
		}
		return nil
	})
	return s.finish(ctx, "Overdue Alerts", n, err)
}

// SweepExpiredHolds expires uncollected ready holds and promotes the next in line.
func (s *SweepServiceImpl) SweepExpiredHolds(ctx context.Context) (int, error) {
	var lapsed []model.Reservation
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) (err error) {
		lapsed, err = tx.ListExpiredHolds(ctx, s.now())
		return err
	})
	if err != nil {
		return s.finish(ctx, "Expired Holds", 0, err)
	}

	var (
		n    int
		errs []error
	)
	for _, cand := range lapsed {
		expired := false
		err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
			now := s.now()
			expired = false
			book, r, err := lockReservation(ctx, tx, cand.ID)
			if err != nil {
				return err
			}
			if r.Status != model.ReservationReady || r.HoldUntil == nil || !r.HoldUntil.Before(now) {
				return nil
			}
			if err := s.expireHold(ctx, tx, book, r, now, eff); err != nil {
				return err
			}
			expired = true
			return nil
		})
		if err != nil {
			s.log.Warn("expire hold failed", zap.String("reservation_id", cand.ID.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("reservation %s: %w", cand.ID, err))
			continue
		}
		if expired {
			n++
		}
	}
	return s.finish(ctx, "Expired Holds", n, errors.Join(errs...))
}

// RunAll runs the sweeps in order, collecting failures.
func (s *SweepServiceImpl) RunAll(ctx context.Context) SweepReport {
	var rep SweepReport
	steps := []struct {
		dst *int
		fn  func(context.Context) (int, error)
	}{
		{&rep.ExpiredPickups, s.SweepExpiredPickups},
		{&rep.ExpiredHolds, s.SweepExpiredHolds},
		{&rep.DueSoon, func(ctx context.Context) (int, error) { return s.SweepUpcomingDue(ctx, 0) }},
		{&rep.Overdue, s.SweepOverdue},
	}
	for _, st := range steps {
		if ctx.Err() != nil {
			rep.Errors = append(rep.Errors, ctx.Err())
			break
		}
		n, err := st.fn(ctx)
		*st.dst = n
		if err != nil {
			rep.Errors = append(rep.Errors, err)
		}
	}
	return rep
}

// finish records the outcome of a sweep in the audit trail.
func (s *SweepServiceImpl) finish(ctx context.Context, task string, n int, err error) (int, error) {
	var eff model.Effects
	now := s.now()
	if err != nil {
		s.log.Error("sweep failed", zap.String("task", task), zap.Int("processed", n), zap.Error(err))
		eff.Log(now, "Scheduled Task Error", fmt.Sprintf("%s: %v", task, err), model.SeverityError, uuid.Nil)
	} else {
		eff.Log(now, "Scheduled Task: "+task, fmt.Sprintf("Processed %d record(s)", n), model.SeveritySystem, uuid.Nil)
	}
	s.out.Dispatch(ctx, eff)
	return n, err
}

// titleCache avoids re-reading a book shared by several loans.
type titleCache struct {
	tx     repository.Tx
	titles map[uuid.UUID]string
}

func (c *titleCache) get(ctx context.Context, id uuid.UUID) (string, error) {
	if t, ok := c.titles[id]; ok {
		return t, nil
	}
	b, err := c.tx.GetBook(ctx, id)
	if err != nil {
		return "", err
	}
	if c.titles == nil {
		c.titles = make(map[uuid.UUID]string)
	}
	c.titles[id] = b.Title
	return b.Title, nil
}
