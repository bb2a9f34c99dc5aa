// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/DongNguyen06/lib-v2/internal/model"
)

// Store runs units of work. fn receives a Tx valid only for the duration of
// the call; a nil return commits, any error rolls everything back.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of queries available inside a transaction.
type Tx interface {
	BookQueries
	UserQueries
	BorrowQueries
	ReservationQueries
	FineQueries
}

// BookQueries access the inventory ledger.
type BookQueries interface {
	// InsertBook stores a new title; ErrDuplicate on an existing ISBN.
	InsertBook(ctx context.Context, b *model.Book) error
	// GetBook reads a book without locking it.
	GetBook(ctx context.Context, id uuid.UUID) (*model.Book, error)
	// LockBook returns the book row locked for the rest of the transaction.
	LockBook(ctx context.Context, id uuid.UUID) (*model.Book, error)
	// LockBookByISBN is LockBook keyed by ISBN.
	LockBookByISBN(ctx context.Context, isbn string) (*model.Book, error)
	// AdjustAvailable adds delta to available copies clamped to [0,total] and
	// returns the new value.
	AdjustAvailable(ctx context.Context, id uuid.UUID, delta int) (int, error)
	// IncrementBorrowCount bumps the popularity counter.
	IncrementBorrowCount(ctx context.Context, id uuid.UUID) error
}

// UserQueries access per-user fine state.
type UserQueries interface {
	// LockUser locks the user's fine state, creating an empty one on first use.
	LockUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	// SaveUserFines persists Fines and Violations of u.
	SaveUserFines(ctx context.Context, u *model.User) error
}

// BorrowQueries access loans.
type BorrowQueries interface {
	// InsertBorrow stores a new loan; ErrDuplicate if (user, book) already has an active one.
	InsertBorrow(ctx context.Context, b *model.Borrow) error
	// GetBorrow reads a loan without locking it.
	GetBorrow(ctx context.Context, id uuid.UUID) (*model.Borrow, error)
	LockBorrow(ctx context.Context, id uuid.UUID) (*model.Borrow, error)
	// LockBorrowedByBook returns the oldest borrowed loan of a book.
	LockBorrowedByBook(ctx context.Context, bookID uuid.UUID) (*model.Borrow, error)
	UpdateBorrow(ctx context.Context, b *model.Borrow) error
	CountActiveBorrows(ctx context.Context, userID uuid.UUID) (int, error)
	HasActiveBorrow(ctx context.Context, userID, bookID uuid.UUID) (bool, error)
	// ListExpiredPickups returns pending loans whose pickup deadline is before now.
	ListExpiredPickups(ctx context.Context, now time.Time) ([]model.Borrow, error)
	// ListDueBetween returns borrowed loans with due date in [from, to].
	ListDueBetween(ctx context.Context, from, to time.Time) ([]model.Borrow, error)
	// ListOverdue returns borrowed loans due before now.
	ListOverdue(ctx context.Context, now time.Time) ([]model.Borrow, error)
}

// ReservationQueries access the per-book waitlists.
type ReservationQueries interface {
	// InsertReservation stores a queue entry; ErrConflict if the user already has an open one.
	InsertReservation(ctx context.Context, r *model.Reservation) error
	// GetReservation reads a queue entry without locking it.
	GetReservation(ctx context.Context, id uuid.UUID) (*model.Reservation, error)
	LockReservation(ctx context.Context, id uuid.UUID) (*model.Reservation, error)
	UpdateReservation(ctx context.Context, r *model.Reservation) error
	// HasOpenReservation reports a waiting or ready entry of the user for the book.
	HasOpenReservation(ctx context.Context, userID, bookID uuid.UUID) (bool, error)
	MaxWaitingPosition(ctx context.Context, bookID uuid.UUID) (int, error)
	CountWaiting(ctx context.Context, bookID uuid.UUID) (int, error)
	// CountReady returns the number of copies currently held for ready reservations.
	CountReady(ctx context.Context, bookID uuid.UUID) (int, error)
	// NextWaiting locks the waiting entry with the lowest position.
	NextWaiting(ctx context.Context, bookID uuid.UUID) (*model.Reservation, error)
	// ReadyFor locks the user's ready reservation for the book.
	ReadyFor(ctx context.Context, userID, bookID uuid.UUID) (*model.Reservation, error)
	// ShiftWaitingAfter moves every waiting entry behind pos one place forward.
	ShiftWaitingAfter(ctx context.Context, bookID uuid.UUID, pos int) error
	// RenumberWaiting rewrites waiting positions to 1..n preserving order.
	RenumberWaiting(ctx context.Context, bookID uuid.UUID) error
	// ListLapsedHolds returns ready entries of a book whose hold ended before now.
	ListLapsedHolds(ctx context.Context, bookID uuid.UUID, now time.Time) ([]model.Reservation, error)
	// ListExpiredHolds is ListLapsedHolds across all books.
	ListExpiredHolds(ctx context.Context, now time.Time) ([]model.Reservation, error)
}

// FineQueries access the fine ledger.
type FineQueries interface {
	InsertFine(ctx context.Context, f *model.Fine) error
	// UnpaidFines returns the user's unpaid records, oldest first.
	UnpaidFines(ctx context.Context, userID uuid.UUID) ([]model.Fine, error)
	MarkFinePaid(ctx context.Context, id uuid.UUID) error
}
