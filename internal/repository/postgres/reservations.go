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

const reservationCols = `id, user_id, book_id, reservation_date, status, notified_date, hold_until, queue_position`

func scanReservation(row pgx.Row) (*model.Reservation, error) {
	var r model.Reservation
	err := row.Scan(&r.ID, &r.UserID, &r.BookID, &r.ReservationDate, &r.Status,
		&r.NotifiedDate, &r.HoldUntil, &r.QueuePosition)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (r *queries) listReservations(ctx context.Context, q string, args ...any) ([]model.Reservation, error) {
	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *res)
	}
	return out, rows.Err()
}

// InsertReservation stores a queue entry.
func (r *queries) InsertReservation(ctx context.Context, res *model.Reservation) error {
	const q = `
INSERT INTO reservations (id, user_id, book_id, reservation_date, status, queue_position)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.Exec(ctx, q, res.ID, res.UserID, res.BookID, res.ReservationDate, res.Status, res.QueuePosition)
	if isUniqueViolation(err) {
		return errs.New(errs.ErrConflict, "You already have a reservation for this book")
	}
	return err
}

// GetReservation selects a queue entry without a row lock.
func (r *queries) GetReservation(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations WHERE id=$1`
	return scanReservation(r.q.QueryRow(ctx, q, id))
}

// LockReservation selects a queue entry FOR UPDATE.
func (r *queries) LockReservation(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations WHERE id=$1 FOR UPDATE`
	return scanReservation(r.q.QueryRow(ctx, q, id))
}

// UpdateReservation writes the mutable columns of a queue entry.
func (r *queries) UpdateReservation(ctx context.Context, res *model.Reservation) error {
	const q = `
UPDATE reservations SET status=$2, notified_date=$3, hold_until=$4, queue_position=$5
WHERE id=$1`
	tag, err := r.q.Exec(ctx, q, res.ID, res.Status, res.NotifiedDate, res.HoldUntil, res.QueuePosition)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// HasOpenReservation reports a waiting or ready entry of (user, book).
func (r *queries) HasOpenReservation(ctx context.Context, userID, bookID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM reservations WHERE user_id=$1 AND book_id=$2 AND status IN ('waiting','ready'))`
	var ok bool
	if err := r.q.QueryRow(ctx, q, userID, bookID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// MaxWaitingPosition returns the tail position of the queue, 0 when empty.
func (r *queries) MaxWaitingPosition(ctx context.Context, bookID uuid.UUID) (int, error) {
	const q = `SELECT COALESCE(MAX(queue_position),0) FROM reservations WHERE book_id=$1 AND status='waiting'`
	var n int
	if err := r.q.QueryRow(ctx, q, bookID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountWaiting returns the queue length.
func (r *queries) CountWaiting(ctx context.Context, bookID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM reservations WHERE book_id=$1 AND status='waiting'`
	var n int
	if err := r.q.QueryRow(ctx, q, bookID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountReady returns the number of held copies.
func (r *queries) CountReady(ctx context.Context, bookID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM reservations WHERE book_id=$1 AND status='ready'`
	var n int
	if err := r.q.QueryRow(ctx, q, bookID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// NextWaiting locks the queue head.
func (r *queries) NextWaiting(ctx context.Context, bookID uuid.UUID) (*model.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations
WHERE book_id=$1 AND status='waiting'
ORDER BY queue_position ASC, reservation_date ASC LIMIT 1 FOR UPDATE`
	return scanReservation(r.q.QueryRow(ctx, q, bookID))
}

// ReadyFor locks the user's ready hold on the book.
func (r *queries) ReadyFor(ctx context.Context, userID, bookID uuid.UUID) (*model.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations
WHERE user_id=$1 AND book_id=$2 AND status='ready' FOR UPDATE`
	return scanReservation(r.q.QueryRow(ctx, q, userID, bookID))
}

// ShiftWaitingAfter closes the gap left at pos.
func (r *queries) ShiftWaitingAfter(ctx context.Context, bookID uuid.UUID, pos int) error {
	const q = `
UPDATE reservations SET queue_position = queue_position - 1
WHERE book_id=$1 AND status='waiting' AND queue_position > $2`
	_, err := r.q.Exec(ctx, q, bookID, pos)
	return err
}

// RenumberWaiting rewrites the waiting positions of a book to 1..n.
func (r *queries) RenumberWaiting(ctx context.Context, bookID uuid.UUID) error {
	const q = `
UPDATE reservations AS r SET queue_position = o.rn
FROM (
  SELECT id, ROW_NUMBER() OVER (ORDER BY queue_position ASC, reservation_date ASC) AS rn
  FROM reservations WHERE book_id=$1 AND status='waiting'
) AS o
WHERE r.id = o.id`
	_, err := r.q.Exec(ctx, q, bookID)
	return err
}

// ListLapsedHolds returns ready entries of a book past their hold.
func (r *queries) ListLapsedHolds(ctx context.Context, bookID uuid.UUID, now time.Time) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations
WHERE book_id=$1 AND status='ready' AND hold_until < $2
ORDER BY hold_until ASC`
	return r.listReservations(ctx, q, bookID, now)
}

// ListExpiredHolds returns ready entries past their hold across all books.
func (r *queries) ListExpiredHolds(ctx context.Context, now time.Time) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations
WHERE status='ready' AND hold_until < $1
ORDER BY hold_until ASC`
	return r.listReservations(ctx, q, now)
}
