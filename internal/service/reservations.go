package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/model"
	"github.com/DongNguyen06/lib-v2/internal/repository"
)

// ReservationResult is the outcome of a queue operation.
type ReservationResult struct {
	Reservation model.Reservation
	Message     string
}

// ReservationService manages the per-book FIFO waitlists.
type ReservationService interface {
	// Create appends the user to the book's queue. Only out-of-stock books can be reserved.
	Create(ctx context.Context, userID, bookID uuid.UUID) (*ReservationResult, error)
	// Cancel withdraws a waiting or ready reservation.
	Cancel(ctx context.Context, by *model.Principal, reservationID uuid.UUID) (*ReservationResult, error)
	// Expire ends a ready hold and passes the copy to the next in line.
	Expire(ctx context.Context, reservationID uuid.UUID) (*ReservationResult, error)
	// PromoteNext offers a free copy of the book to the head of its queue.
	PromoteNext(ctx context.Context, bookID uuid.UUID) error
}

type ReservationServiceImpl struct{ *core }

var _ ReservationService = (*ReservationServiceImpl)(nil)

// Create validates availability and queues the user at the tail.
func (s *ReservationServiceImpl) Create(ctx context.Context, userID, bookID uuid.UUID) (*ReservationResult, error) {
	if userID == uuid.Nil || bookID == uuid.Nil {
		return nil, errs.New(errs.ErrValidation, "User and book are required")
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	var out ReservationResult
	err = s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		now := s.now()
		book, err := lockBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if err := s.expireLapsedHolds(ctx, tx, book, now, eff); err != nil {
			return err
		}
		if book, err = tx.LockBook(ctx, bookID); err != nil {
			return err
		}
		free, err := freeCopies(ctx, tx, book)
		if err != nil {
			return err
		}
		if free > 0 {
			return errs.New(errs.ErrConflict, "Book is available for immediate borrowing")
		}
		open, err := tx.HasOpenReservation(ctx, userID, bookID)
		if err != nil {
			return err
		}
		if open {
			return errs.New(errs.ErrConflict, "You already have a reservation for this book")
		}
		if _, err := tx.LockUser(ctx, userID); err != nil {
			return err
		}
		tail, err := tx.MaxWaitingPosition(ctx, bookID)
		if err != nil {
			return err
		}
		r := &model.Reservation{
			ID:              id,
			UserID:          userID,
			BookID:          bookID,
			ReservationDate: now,
			Status:          model.ReservationWaiting,
			QueuePosition:   tail + 1,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		eff.Log(now, "Book Reservation",
			fmt.Sprintf("Reserved \"%s\" (Position: %d)", book.Title, r.QueuePosition), model.SeverityInfo, userID)
		out = ReservationResult{
			Reservation: *r,
			Message:     fmt.Sprintf("Book reserved successfully (Queue position: %d)", r.QueuePosition),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// lockReservation locks the book of a reservation before the reservation itself.
func lockReservation(ctx context.Context, tx repository.Tx, id uuid.UUID) (*model.Book, *model.Reservation, error) {
	r, err := tx.GetReservation(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil, errs.New(errs.ErrNotFound, "Reservation not found")
		}
		return nil, nil, err
	}
	book, err := lockBook(ctx, tx, r.BookID)
	if err != nil {
		return nil, nil, err
	}
	if r, err = tx.LockReservation(ctx, id); err != nil {
		return nil, nil, err
	}
	return book, r, nil
}

// Cancel withdraws a reservation. A cancelled waiting entry closes its gap in
// the queue; a cancelled ready hold frees the copy for the next in line.
func (s *ReservationServiceImpl) Cancel(ctx context.Context, by *model.Principal, reservationID uuid.UUID) (*ReservationResult, error) {
	var out ReservationResult
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		now := s.now()
		book, r, err := lockReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if err := authorizeOwner(by, r.UserID); err != nil {
			return err
		}
		prev := r.Status
		if prev != model.ReservationWaiting && prev != model.ReservationReady {
			return errs.New(errs.ErrInvalidTransition, "Only waiting or ready reservations can be cancelled")
		}
		pos := r.QueuePosition
		r.Status = model.ReservationCancelled
		r.QueuePosition = 0
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		if prev == model.ReservationWaiting {
			if err := tx.ShiftWaitingAfter(ctx, book.ID, pos); err != nil {
				return err
			}
		} else if err := s.promoteNext(ctx, tx, book, now, eff); err != nil {
			return err
		}
		eff.Log(now, "Reservation Cancelled", "Cancelled reservation for \""+book.Title+"\"", model.SeverityInfo, r.UserID)
		out = ReservationResult{Reservation: *r, Message: "Reservation cancelled successfully"}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Expire ends a ready hold.
func (s *ReservationServiceImpl) Expire(ctx context.Context, reservationID uuid.UUID) (*ReservationResult, error) {
	var out ReservationResult
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		book, r, err := lockReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if err := s.expireHold(ctx, tx, book, r, s.now(), eff); err != nil {
			return err
		}
		out = ReservationResult{Reservation: *r, Message: "Reservation marked as expired"}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PromoteNext runs a standalone promotion for the book.
func (s *ReservationServiceImpl) PromoteNext(ctx context.Context, bookID uuid.UUID) error {
	return s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		book, err := lockBook(ctx, tx, bookID)
		if err != nil {
			return err
		}
		return s.promoteNext(ctx, tx, book, s.now(), eff)
	})
}

// complete consumes a ready hold inside the borrow that uses it.
func complete(ctx context.Context, tx repository.Tx, r *model.Reservation) error {
	if r.Status != model.ReservationReady {
		return errs.New(errs.ErrInvalidTransition, "Only ready reservations can be completed")
	}
	r.Status = model.ReservationCompleted
	return tx.UpdateReservation(ctx, r)
}
