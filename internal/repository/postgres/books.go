package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/model"
)

const bookCols = `id, isbn, title, total_copies, available_copies, borrow_count`

func scanBook(row pgx.Row) (*model.Book, error) {
	var b model.Book
	if err := row.Scan(&b.ID, &b.ISBN, &b.Title, &b.TotalCopies, &b.AvailableCopies, &b.BorrowCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// InsertBook stores a new title.
func (r *queries) InsertBook(ctx context.Context, b *model.Book) error {
	const q = `
INSERT INTO books (id, isbn, title, total_copies, available_copies, borrow_count)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.Exec(ctx, q, b.ID, b.ISBN, b.Title, b.TotalCopies, b.AvailableCopies, b.BorrowCount)
	if isUniqueViolation(err) {
		return errs.New(errs.ErrDuplicate, "A book with ISBN %s already exists", b.ISBN)
	}
	return err
}

// GetBook selects a book without a row lock.
func (r *queries) GetBook(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	const q = `SELECT ` + bookCols + ` FROM books WHERE id=$1`
	return scanBook(r.q.QueryRow(ctx, q, id))
}

// LockBook selects the book row FOR UPDATE.
func (r *queries) LockBook(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	const q = `SELECT ` + bookCols + ` FROM books WHERE id=$1 FOR UPDATE`
	return scanBook(r.q.QueryRow(ctx, q, id))
}

// LockBookByISBN selects the book row by ISBN FOR UPDATE.
func (r *queries) LockBookByISBN(ctx context.Context, isbn string) (*model.Book, error) {
	const q = `SELECT ` + bookCols + ` FROM books WHERE isbn=$1 FOR UPDATE`
	return scanBook(r.q.QueryRow(ctx, q, isbn))
}

// AdjustAvailable applies a clamped delta and returns the new count.
func (r *queries) AdjustAvailable(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	const q = `
UPDATE books SET available_copies = LEAST(GREATEST(available_copies + $2, 0), total_copies)
WHERE id=$1
RETURNING available_copies`
	var n int
	if err := r.q.QueryRow(ctx, q, id, delta).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errs.ErrNotFound
		}
		return 0, err
	}
	return n, nil
}

// IncrementBorrowCount bumps the popularity counter.
func (r *queries) IncrementBorrowCount(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE books SET borrow_count = borrow_count + 1 WHERE id=$1`
	tag, err := r.q.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
