package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/model"
)

// InsertFine appends a record to the fine ledger.
func (r *queries) InsertFine(ctx context.Context, f *model.Fine) error {
	const q = `
INSERT INTO fines (id, user_id, borrow_id, amount, reason, payment_status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.q.Exec(ctx, q, f.ID, f.UserID, f.BorrowID, f.Amount, f.Reason, f.PaymentStatus, f.CreatedAt)
	return err
}

// UnpaidFines lists unpaid records, oldest first.
func (r *queries) UnpaidFines(ctx context.Context, userID uuid.UUID) ([]model.Fine, error) {
	const q = `
SELECT id, user_id, borrow_id, amount, reason, payment_status, created_at
FROM fines WHERE user_id=$1 AND payment_status='unpaid'
ORDER BY created_at ASC
FOR UPDATE`
	rows, err := r.q.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Fine
	for rows.Next() {
		var f model.Fine
		if err := rows.Scan(&f.ID, &f.UserID, &f.BorrowID, &f.Amount, &f.Reason, &f.PaymentStatus, &f.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// MarkFinePaid flips the payment status; the amount is never touched.
func (r *queries) MarkFinePaid(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE fines SET payment_status='paid' WHERE id=$1 AND payment_status='unpaid'`
	tag, err := r.q.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
