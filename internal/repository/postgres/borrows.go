package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/model"
)

const borrowCols = `id, user_id, book_id, borrow_date, due_date, return_date, status, renewed_count, pending_until, condition, damage_fee, late_fee`

func scanBorrow(row pgx.Row) (*model.Borrow, error) {
	var b model.Borrow
	err := row.Scan(&b.ID, &b.UserID, &b.BookID, &b.BorrowDate, &b.DueDate, &b.ReturnDate,
		&b.Status, &b.RenewedCount, &b.PendingUntil, &b.Condition, &b.DamageFee, &b.LateFee)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *queries) listBorrows(ctx context.Context, q string, args ...any) ([]model.Borrow, error) {
	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Borrow
	for rows.Next() {
		b, err := scanBorrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// InsertBorrow stores a new loan.
func (r *queries) InsertBorrow(ctx context.Context, b *model.Borrow) error {
	const q = `
INSERT INTO borrows (id, user_id, book_id, borrow_date, due_date, status, renewed_count, pending_until, damage_fee, late_fee)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.q.Exec(ctx, q, b.ID, b.UserID, b.BookID, b.BorrowDate, b.DueDate, b.Status,
		b.RenewedCount, b.PendingUntil, b.DamageFee, b.LateFee)
	if isUniqueViolation(err) {
		return errs.New(errs.ErrDuplicate, "You have already borrowed or requested this book")
	}
	return err
}

// GetBorrow selects a loan without a row lock.
func (r *queries) GetBorrow(ctx context.Context, id uuid.UUID) (*model.Borrow, error) {
	const q = `SELECT ` + borrowCols + ` FROM borrows WHERE id=$1`
	return scanBorrow(r.q.QueryRow(ctx, q, id))
}

// LockBorrow selects a loan FOR UPDATE.
func (r *queries) LockBorrow(ctx context.Context, id uuid.UUID) (*model.Borrow, error) {
	const q = `SELECT ` + borrowCols + ` FROM borrows WHERE id=$1 FOR UPDATE`
	return scanBorrow(r.q.QueryRow(ctx, q, id))
}

// LockBorrowedByBook selects the oldest borrowed loan of the book FOR UPDATE.
func (r *queries) LockBorrowedByBook(ctx context.Context, bookID uuid.UUID) (*model.Borrow, error) {
	const q = `SELECT ` + borrowCols + ` FROM borrows
WHERE book_id=$1 AND status='borrowed'
ORDER BY borrow_date ASC LIMIT 1 FOR UPDATE`
	return scanBorrow(r.q.QueryRow(ctx, q, bookID))
}

// UpdateBorrow writes the mutable columns of a loan.
func (r *queries) UpdateBorrow(ctx context.Context, b *model.Borrow) error {
	const q = `
UPDATE borrows SET due_date=$2, return_date=$3, status=$4, renewed_count=$5, condition=$6, damage_fee=$7, late_fee=$8
WHERE id=$1`
	tag, err := r.q.Exec(ctx, q, b.ID, b.DueDate, b.ReturnDate, b.Status, b.RenewedCount,
		b.Condition, b.DamageFee, b.LateFee)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// CountActiveBorrows counts pending and borrowed loans of a user.
func (r *queries) CountActiveBorrows(ctx context.Context, userID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM borrows WHERE user_id=$1 AND status IN ('pending_pickup','borrowed')`
	var n int
	if err := r.q.QueryRow(ctx, q, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// HasActiveBorrow reports a pending or borrowed loan of (user, book).
func (r *queries) HasActiveBorrow(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM borrows WHERE user_id=$1 AND book_id=$2 AND status IN ('pending_pickup','borrowed'))`
	var ok bool
	if err := r.q.QueryRow(ctx, q, userID, bookID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// ListExpiredPickups returns pending loans past their pickup deadline.
func (r *queries) ListExpiredPickups(ctx context.Context, now time.Time) ([]model.Borrow, error) {
	const q = `SELECT ` + borrowCols + ` FROM borrows
WHERE status='pending_pickup' AND pending_until < $1
ORDER BY pending_until ASC`
	return r.listBorrows(ctx, q, now)
}

// ListDueBetween returns borrowed loans due within [from, to].
func (r *queries) ListDueBetween(ctx context.Context, from, to time.Time) ([]model.Borrow, error) {
	const q = `SELECT ` + borrowCols + ` FROM borrows
WHERE status='borrowed' AND due_date BETWEEN $1 AND $2
ORDER BY due_date ASC`
	return r.listBorrows(ctx, q, from, to)
}

// ListOverdue returns borrowed loans already past due.
func (r *queries) ListOverdue(ctx context.Context, now time.Time) ([]model.Borrow, error) {
	const q = `SELECT ` + borrowCols + ` FROM borrows
WHERE status='borrowed' AND due_date < $1
ORDER BY due_date ASC`
	return r.listBorrows(ctx, q, now)
}
