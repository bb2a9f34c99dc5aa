package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/model"
	"github.com/DongNguyen06/lib-v2/internal/repository"
)

// PaymentResult reports a fine payment.
type PaymentResult struct {
	Paid      decimal.Decimal
	Remaining decimal.Decimal
	Settled   int
	Message   string
}

// FineService settles outstanding balances.
type FineService interface {
	// PayFine pays up to amount off the user's balance.
	PayFine(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*PaymentResult, error)
}

type FineServiceImpl struct{ *core }

var _ FineService = (*FineServiceImpl)(nil)

func (s *FineServiceImpl) PayFine(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*PaymentResult, error) {
	if userID == uuid.Nil {
		return nil, errs.New(errs.ErrValidation, "User is required")
	}
	if !amount.IsPositive() {
		return nil, errs.New(errs.ErrValidation, "Payment amount must be positive")
	}
	var out PaymentResult
	err := s.run(ctx, func(ctx context.Context, tx repository.Tx, eff *model.Effects) error {
		now := s.now()
		user, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if !user.Fines.IsPositive() {
			return errs.New(errs.ErrValidation, "You have no outstanding fines")
		}
		before, err := tx.UnpaidFines(ctx, userID)
		if err != nil {
			return err
		}
		paid, err := s.payTx(ctx, tx, user, amount)
		if err != nil {
			return err
		}
		after, err := tx.UnpaidFines(ctx, userID)
		if err != nil {
			return err
		}
		eff.Notify(userID, model.NotifySuccess, "Fine Payment Received",
			fmt.Sprintf("We received your payment of %s VND. Remaining balance: %s VND.", formatVND(paid), formatVND(user.Fines)))
		eff.Log(now, "Fine Payment", fmt.Sprintf("Paid %s VND (Remaining: %s VND)", formatVND(paid), formatVND(user.Fines)),
			model.SeverityInfo, userID)
		out = PaymentResult{
			Paid:      paid,
			Remaining: user.Fines,
			Settled:   len(before) - len(after),
			Message:   fmt.Sprintf("Payment of %s VND received. Remaining balance: %s VND", formatVND(paid), formatVND(user.Fines)),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// payTx takes up to amount off a locked user's balance and marks fine
// records paid, oldest first, as far as the total paid so far covers them
// in full. It returns the amount actually applied.
func (c *core) payTx(ctx context.Context, tx repository.Tx, user *model.User, amount decimal.Decimal) (decimal.Decimal, error) {
	paid := decimal.Min(amount, user.Fines)
	if !paid.IsPositive() {
		return decimal.Zero, nil
	}
	user.Fines = user.Fines.Sub(paid)
	if err := tx.SaveUserFines(ctx, user); err != nil {
		return decimal.Zero, err
	}

	unpaid, err := tx.UnpaidFines(ctx, user.ID)
	if err != nil {
		return decimal.Zero, err
	}
	owed := decimal.Zero
	for _, f := range unpaid {
		owed = owed.Add(f.Amount)
	}
	// Records whose sum exceeds the remaining balance have been paid off.
	covered := owed.Sub(user.Fines)
	for _, f := range unpaid {
		if f.Amount.GreaterThan(covered) {
			break
		}
		if err := tx.MarkFinePaid(ctx, f.ID); err != nil {
			return decimal.Zero, err
		}
		covered = covered.Sub(f.Amount)
	}
	return paid, nil
}
