package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/fee"
	"github.com/DongNguyen06/lib-v2/internal/model"
	"github.com/DongNguyen06/lib-v2/internal/repository"
)

// BorrowResult is the outcome of a loan transition.
type BorrowResult struct {
	Borrow  model.Borrow
	Message string
}

// ReturnRequest identifies a loan by id, or by book ISBN at the counter.
type ReturnRequest struct {
	BorrowID    uuid.UUID
	ISBN        string
	Condition   model.Condition
	BookValue   decimal.Decimal
	FinePaidNow decimal.Decimal
}

// ReturnResult reports the fees charged on return.
type ReturnResult struct {
	Borrow    model.Borrow
	LateFee   decimal.Decimal
	DamageFee decimal.Decimal
	Total     decimal.Decimal
	Paid      decimal.Decimal
	Message   string
}

// BorrowService drives the loan state machine.
type BorrowService interface {
	// Create places a pending pickup hold on a free copy.
	Create(ctx context.Context, userID, bookID uuid.UUID) (*BorrowResult, error)
	// ConfirmPickup hands the copy over; past the deadline the request is cancelled instead.
	ConfirmPickup(ctx context.Context, borrowID uuid.UUID) (*BorrowResult, error)
	// DirectBorrow creates a loan and confirms pickup at once.
	DirectBorrow(ctx context.Context, userID, bookID uuid.UUID) (*BorrowResult, error)
	// Renew extends the due date once; zero days means the default extension.
	Renew(ctx context.Context, by *model.Principal, borrowID uuid.UUID, extensionDays int) (*BorrowResult, error)
	// Cancel withdraws a pending pickup.
	Cancel(ctx context.Context, by *model.Principal, borrowID uuid.UUID) (*BorrowResult, error)
	// Reject is Cancel performed by staff.
	Reject(ctx context.Context, borrowID uuid.UUID) (*BorrowResult, error)
	// Return closes a loan and charges fees.
	Return(ctx context.Context, req ReturnRequest) (*ReturnResult, error)
}

type BorrowServiceImpl struct{ *core }

var _ BorrowService = (*BorrowServiceImpl)(nil)

// lockBorrow locks the loan's book, then the loan.
func lockBorrow(ctx context.Context, tx repository.Tx, id uuid.UUID) (*model.Book, *model.Borrow, error) {
	b, err := tx.GetBorrow(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil, errs.New(errs.ErrNotFound, "Borrow record not found")
		}
		return nil, nil, err
	}
	book, err := lockBook(ctx, tx, b.BookID)
	if err != nil {
		return nil, nil, err
	}
	if b, err = tx.LockBorrow(ctx, id); err != nil {
		return nil, nil, err
	}
	return book, b, nil
}

// Create validates the request in a fixed order and takes one copy.
func (s *BorrowServiceImpl) Create(ctx context.Context, userID, bookID uuid.UUID) (*BorrowResult, error) {
	if userID == uuid.Nil || bookID == uuid.Nil {
		return nil, errs.New(errs.ErrValidation, "User and book are required")
	}
	var out BorrowResult
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		now := s.now()
		book, b, err := s.createTx(ctx, tx, userID, bookID, now, eff)
		if err != nil {
			return err
		}
		eff.Log(now, "Book Hold Created",
			fmt.Sprintf("Created pending pickup for \"%s\" (Must pickup by %s)", book.Title, fmtTime(b.PendingUntil)),
			model.SeverityInfo, userID)
		out = BorrowResult{
			Borrow: *b,
			Message: fmt.Sprintf("Book reserved! Please pick it up within %d hours (by %s)",
				int(s.rules.PickupWindow.Hours()), fmtTime(b.PendingUntil)),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.bumpPopularity(ctx, bookID)
	return &out, nil
}

func (s *BorrowServiceImpl) bumpPopularity(ctx context.Context, bookID uuid.UUID) {
	(&InventoryServiceImpl{s.core}).IncrementBorrowCount(ctx, bookID)
}

func (s *BorrowServiceImpl) createTx(
	ctx context.Context, tx repository.Tx, userID, bookID uuid.UUID, now time.Time, eff *model.Effects,
) (*model.Book, *model.Borrow, error) {
	book, err := lockBook(ctx, tx, bookID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.expireLapsedHolds(ctx, tx, book, now, eff); err != nil {
		return nil, nil, err
	}
	if book, err = tx.LockBook(ctx, bookID); err != nil {
		return nil, nil, err
	}

	hold, err := tx.ReadyFor(ctx, userID, bookID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, nil, err
	}
	free, err := freeCopies(ctx, tx, book)
	if err != nil {
		return nil, nil, err
	}
	if (hold == nil && free <= 0) || book.AvailableCopies <= 0 {
		return nil, nil, errs.New(errs.ErrUnavailable, "Book is not available. Please reserve it instead.")
	}

	user, err := tx.LockUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	active, err := tx.CountActiveBorrows(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if active >= s.rules.MaxActiveBorrows {
		return nil, nil, errs.New(errs.ErrLimitExceeded,
			"You have reached the maximum borrow limit of %d books", s.rules.MaxActiveBorrows)
	}
	dup, err := tx.HasActiveBorrow(ctx, userID, bookID)
	if err != nil {
		return nil, nil, err
	}
	if dup {
		return nil, nil, errs.New(errs.ErrDuplicate, "You have already borrowed or requested this book")
	}
	if user.Fines.IsPositive() {
		return nil, nil, errs.New(errs.ErrOutstandingFine,
			"Please pay your outstanding fine of %s VND before borrowing", formatVND(user.Fines))
	}

	id, err := newID()
	if err != nil {
		return nil, nil, err
	}
	if book.AvailableCopies, err = tx.AdjustAvailable(ctx, bookID, -1); err != nil {
		return nil, nil, err
	}
	b := &model.Borrow{
		ID:           id,
		UserID:       userID,
		BookID:       bookID,
		BorrowDate:   now,
		DueDate:      now.Add(s.rules.LoanPeriod),
		Status:       model.BorrowPendingPickup,
		PendingUntil: now.Add(s.rules.PickupWindow),
		DamageFee:    decimal.Zero,
		LateFee:      decimal.Zero,
	}
	if err := tx.InsertBorrow(ctx, b); err != nil {
		return nil, nil, err
	}
	if hold != nil {
		if err := complete(ctx, tx, hold); err != nil {
			return nil, nil, err
		}
	}
	return book, b, nil
}

// ConfirmPickup moves a pending loan to borrowed and starts the loan period.
// A request past its deadline is cancelled and ErrPickupExpired is returned
// after the cancellation has been committed.
func (s *BorrowServiceImpl) ConfirmPickup(ctx context.Context, borrowID uuid.UUID) (*BorrowResult, error) {
	var (
		out     BorrowResult
		expired bool
	)
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		now := s.now()
		expired = false
		book, b, err := lockBorrow(ctx, tx, borrowID)
		if err != nil {
			return err
		}
		if b.Status != model.BorrowPendingPickup {
			return errs.New(errs.ErrInvalidTransition, "Only pending pickup requests can be approved")
		}
		if now.After(b.PendingUntil) {
			expired = true
			if err := s.cancelTx(ctx, tx, book, b, now, eff); err != nil {
				return err
			}
			eff.Notify(b.UserID, model.NotifyAlert, "Reservation Cancelled",
				fmt.Sprintf("Your reservation for \"%s\" has been cancelled because it was not picked up within %d hours.",
					book.Title, int(s.rules.PickupWindow.Hours())))
			eff.Log(now, "Borrow Request Cancelled", "Pickup deadline passed for \""+book.Title+"\"", model.SeverityInfo, b.UserID)
			return nil
		}
		if err := s.pickupTx(ctx, tx, b, now); err != nil {
			return err
		}
		eff.Log(now, "Book Pickup Confirmed",
			fmt.Sprintf("Picked up \"%s\" (Due: %s)", book.Title, fmtTime(b.DueDate)), model.SeverityInfo, b.UserID)
		out = BorrowResult{Borrow: *b, Message: "Book pickup confirmed! Please return by " + fmtTime(b.DueDate)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, errs.New(errs.ErrPickupExpired, "Pickup deadline has passed. Request has been cancelled.")
	}
	return &out, nil
}

func (s *BorrowServiceImpl) pickupTx(ctx context.Context, tx repository.Tx, b *model.Borrow, now time.Time) error {
	b.Status = model.BorrowBorrowed
	b.DueDate = now.Add(s.rules.LoanPeriod)
	return tx.UpdateBorrow(ctx, b)
}

// DirectBorrow issues a copy at the counter.
func (s *BorrowServiceImpl) DirectBorrow(ctx context.Context, userID, bookID uuid.UUID) (*BorrowResult, error) {
	if userID == uuid.Nil || bookID == uuid.Nil {
		return nil, errs.New(errs.ErrValidation, "User and book are required")
	}
	var out BorrowResult
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		now := s.now()
		book, b, err := s.createTx(ctx, tx, userID, bookID, now, eff)
		if err != nil {
			return err
		}
		if err := s.pickupTx(ctx, tx, b, now); err != nil {
			return err
		}
		eff.Notify(userID, model.NotifySuccess, "Book Borrowed",
			fmt.Sprintf("You borrowed \"%s\". Please return it by %s.", book.Title, fmtTime(b.DueDate)))
		eff.Log(now, "Direct Borrow",
			fmt.Sprintf("Issued \"%s\" at the counter (Due: %s)", book.Title, fmtTime(b.DueDate)), model.SeverityInfo, userID)
		out = BorrowResult{Borrow: *b, Message: "Book issued successfully. Please return by " + fmtTime(b.DueDate)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.bumpPopularity(ctx, bookID)
	return &out, nil
}

// Renew extends a borrowed loan by extensionDays, or by the renewal period
// when extensionDays is zero.
func (s *BorrowServiceImpl) Renew(
	ctx context.Context, by *model.Principal, borrowID uuid.UUID, extensionDays int,
) (*BorrowResult, error) {
	if extensionDays < 0 {
		return nil, errs.New(errs.ErrValidation, "Extension days must be positive")
	}
	extension := s.rules.RenewalExtension
	if extensionDays > 0 {
		extension = time.Duration(extensionDays) * 24 * time.Hour
	}
	var out BorrowResult
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		now := s.now()
		book, b, err := lockBorrow(ctx, tx, borrowID)
		if err != nil {
			return err
		}
		if err := authorizeOwner(by, b.UserID); err != nil {
			return err
		}
		if b.Status != model.BorrowBorrowed {
			return errs.New(errs.ErrInvalidTransition, "Only borrowed books can be renewed")
		}
		if b.RenewedCount >= s.rules.MaxRenewals {
			return errs.New(errs.ErrRenewalBlocked,
				"Maximum renewal limit (%d time) has been reached", s.rules.MaxRenewals)
		}
		if now.After(b.DueDate) {
			return errs.New(errs.ErrRenewalBlocked, "Overdue books cannot be renewed")
		}
		waiting, err := tx.CountWaiting(ctx, book.ID)
		if err != nil {
			return err
		}
		if waiting > 0 {
			return errs.New(errs.ErrRenewalBlocked, "Cannot renew: Someone has reserved this book")
		}
		b.DueDate = b.DueDate.Add(extension)
		b.RenewedCount++
		if err := tx.UpdateBorrow(ctx, b); err != nil {
			return err
		}
		eff.Log(now, "Book Renewal",
			fmt.Sprintf("Renewed \"%s\" (New due: %s)", book.Title, fmtTime(b.DueDate)), model.SeverityInfo, b.UserID)
		out = BorrowResult{Borrow: *b, Message: "Book renewed successfully. New due date: " + fmtTime(b.DueDate)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// cancelTx cancels a pending loan, restores the copy, renumbers the queue
// and offers the copy to its head.
func (s *core) cancelTx(
	ctx context.Context, tx repository.Tx, book *model.Book, b *model.Borrow, now time.Time, eff *model.Effects,
) error {
	if b.Status != model.BorrowPendingPickup {
		return errs.New(errs.ErrInvalidTransition, "Only pending pickup requests can be cancelled")
	}
	b.Status = model.BorrowCancelled
	if err := tx.UpdateBorrow(ctx, b); err != nil {
		return err
	}
	if _, err := tx.AdjustAvailable(ctx, book.ID, 1); err != nil {
		return err
	}
	if err := tx.RenumberWaiting(ctx, book.ID); err != nil {
		return err
	}
	return s.promoteNext(ctx, tx, book, now, eff)
}

// Cancel withdraws the caller's pending pickup.
func (s *BorrowServiceImpl) Cancel(ctx context.Context, by *model.Principal, borrowID uuid.UUID) (*BorrowResult, error) {
	var out BorrowResult
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		now := s.now()
		book, b, err := lockBorrow(ctx, tx, borrowID)
		if err != nil {
			return err
		}
		if err := authorizeOwner(by, b.UserID); err != nil {
			return err
		}
		if err := s.cancelTx(ctx, tx, book, b, now, eff); err != nil {
			return err
		}
		eff.Log(now, "Borrow Request Cancelled", "Cancelled pending pickup for \""+book.Title+"\"", model.SeverityInfo, b.UserID)
		out = BorrowResult{Borrow: *b, Message: "Borrow request cancelled successfully"}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Reject declines a pending pickup at the counter.
func (s *BorrowServiceImpl) Reject(ctx context.Context, borrowID uuid.UUID) (*BorrowResult, error) {
	var out BorrowResult
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		now := s.now()
		book, b, err := lockBorrow(ctx, tx, borrowID)
		if err != nil {
			return err
		}
		if b.Status != model.BorrowPendingPickup {
			return errs.New(errs.ErrInvalidTransition, "Only pending pickup requests can be rejected")
		}
		if err := s.cancelTx(ctx, tx, book, b, now, eff); err != nil {
			return err
		}
		eff.Notify(b.UserID, model.NotifyAlert, "Borrow Request Rejected",
			"Your request to borrow \""+book.Title+"\" has been rejected by the library.")
		eff.Log(now, "Reject Borrow", "Rejected pending pickup for \""+book.Title+"\"", model.SeverityInfo, b.UserID)
		out = BorrowResult{Borrow: *b, Message: "Borrow request rejected"}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// resolveLoan finds the loan a return refers to and locks book then loan.
func resolveLoan(ctx context.Context, tx repository.Tx, req ReturnRequest) (*model.Book, *model.Borrow, error) {
	if req.BorrowID != uuid.Nil {
		return lockBorrow(ctx, tx, req.BorrowID)
	}
	book, err := tx.LockBookByISBN(ctx, req.ISBN)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil, errs.New(errs.ErrNotFound, "Book not found")
		}
		return nil, nil, err
	}
	b, err := tx.LockBorrowedByBook(ctx, book.ID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil, errs.New(errs.ErrNotFound, "No active loan found for ISBN %s", req.ISBN)
		}
		return nil, nil, err
	}
	return book, b, nil
}

// Return closes a borrowed loan, charges late and damage fees, restores the
// copy and offers it to the reservation queue.
func (s *BorrowServiceImpl) Return(ctx context.Context, req ReturnRequest) (*ReturnResult, error) {
	req.ISBN = strings.TrimSpace(req.ISBN)
	if req.BorrowID == uuid.Nil && req.ISBN == "" {
		return nil, errs.New(errs.ErrValidation, "A borrow id or ISBN is required")
	}
	if req.Condition == "" {
		req.Condition = model.ConditionGood
	}
	if req.FinePaidNow.IsNegative() {
		return nil, errs.New(errs.ErrValidation, "Payment amount must not be negative")
	}
	var out ReturnResult
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		now := s.now()
		book, b, err := resolveLoan(ctx, tx, req)
		if err != nil {
			return err
		}
		if b.Status != model.BorrowBorrowed {
			return errs.New(errs.ErrInvalidTransition, "Only borrowed books can be returned")
		}
		damage, err := fee.DamageFee(req.Condition, req.BookValue, s.fees)
		if err != nil {
			return err
		}
		late := fee.LateFee(b.DueDate, now, s.fees)
		total := late.Add(damage)

		cond := req.Condition
		returned := now
		b.Status = model.BorrowReturned
		b.ReturnDate = &returned
		b.Condition = &cond
		b.LateFee = late
		b.DamageFee = damage
		if err := tx.UpdateBorrow(ctx, b); err != nil {
			return err
		}
		if _, err := tx.AdjustAvailable(ctx, book.ID, 1); err != nil {
			return err
		}

		paid := decimal.Zero
		if total.IsPositive() || req.FinePaidNow.IsPositive() {
			user, err := tx.LockUser(ctx, b.UserID)
			if err != nil {
				return err
			}
			if total.IsPositive() {
				if err := s.chargeTx(ctx, tx, user, b, late, damage, now); err != nil {
					return err
				}
			}
			if req.FinePaidNow.IsPositive() && user.Fines.IsPositive() {
				if paid, err = s.payTx(ctx, tx, user, req.FinePaidNow); err != nil {
					return err
				}
			}
		}

		if err := s.promoteNext(ctx, tx, book, now, eff); err != nil {
			return err
		}

		details := fmt.Sprintf("Returned \"%s\" (Condition: %s", book.Title, cond)
		msg := "Book returned successfully"
		if total.IsPositive() {
			details += fmt.Sprintf(", Total Fine: %s VND", formatVND(total))
			msg += fmt.Sprintf(". Late fee: %s VND, Damage fee: %s VND", formatVND(late), formatVND(damage))
			eff.Notify(b.UserID, model.NotifyAlert, "Fine Issued",
				fmt.Sprintf("A fine of %s VND was charged for \"%s\".", formatVND(total), book.Title))
		}
		if paid.IsPositive() {
			msg += fmt.Sprintf(". Paid now: %s VND", formatVND(paid))
		}
		eff.Log(now, "Book Returned", details+")", model.SeverityInfo, b.UserID)
		out = ReturnResult{Borrow: *b, LateFee: late, DamageFee: damage, Total: total, Paid: paid, Message: msg}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// chargeTx adds the return fees to the user's balance and the fine ledger.
func (s *BorrowServiceImpl) chargeTx(
	ctx context.Context, tx repository.Tx, user *model.User, b *model.Borrow, late, damage decimal.Decimal, now time.Time,
) error {
	total := late.Add(damage)
	user.Fines = user.Fines.Add(total)
	user.Violations++
	if err := tx.SaveUserFines(ctx, user); err != nil {
		return err
	}
	id, err := newID()
	if err != nil {
		return err
	}
	borrowID := b.ID
	return tx.InsertFine(ctx, &model.Fine{
		ID:            id,
		UserID:        user.ID,
		BorrowID:      &borrowID,
		Amount:        total,
		Reason:        fmt.Sprintf("Return fees (Late: %s VND, Damage: %s VND)", formatVND(late), formatVND(damage)),
		PaymentStatus: model.PaymentUnpaid,
		CreatedAt:     now,
	})
}
