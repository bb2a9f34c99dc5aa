// Package memory is an in-process implementation of repository.Store.
// Transactions are serialized by a single mutex and applied to a copy of
// the state, which replaces the live state only when fn succeeds.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/shopspring/decimal"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/model"
	"github.com/DongNguyen06/lib-v2/internal/repository"
)

type state struct {
	books        map[uuid.UUID]model.Book
	users        map[uuid.UUID]model.User
	borrows      map[uuid.UUID]model.Borrow
	reservations map[uuid.UUID]model.Reservation
	fines        map[uuid.UUID]model.Fine
}

func (s *state) clone() *state {
	return &state{
		books:        maps.Clone(s.books),
		users:        maps.Clone(s.users),
		borrows:      maps.Clone(s.borrows),
		reservations: maps.Clone(s.reservations),
		fines:        maps.Clone(s.fines),
	}
}

// Store keeps all lending state in memory.
type Store struct {
	mu  sync.Mutex
	cur *state
}

var _ repository.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{cur: &state{
		books:        map[uuid.UUID]model.Book{},
		users:        map[uuid.UUID]model.User{},
		borrows:      map[uuid.UUID]model.Borrow{},
		reservations: map[uuid.UUID]model.Reservation{},
		fines:        map[uuid.UUID]model.Fine{},
	}}
}

// InTx runs fn against a private copy of the state and publishes it on success.
func (s *Store) InTx(ctx context.Context, fn func(context.Context, repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.clone()
	if err := fn(ctx, &tx{st: next}); err != nil {
		return err
	}
	s.cur = next
	return nil
}

// Book returns a committed book row.
func (s *Store) Book(id uuid.UUID) (model.Book, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.cur.books[id]
	return b, ok
}

// Borrow returns a committed loan.
func (s *Store) Borrow(id uuid.UUID) (model.Borrow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.cur.borrows[id]
	return b, ok
}

// Reservation returns a committed queue entry.
func (s *Store) Reservation(id uuid.UUID) (model.Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.cur.reservations[id]
	return r, ok
}

// User returns committed fine state.
func (s *Store) User(id uuid.UUID) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.cur.users[id]
	return u, ok
}

// Fines returns the committed fine records of a user, oldest first.
func (s *Store) Fines(userID uuid.UUID) []model.Fine {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Fine
	for _, f := range s.cur.fines {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b model.Fine) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Waiting returns the committed waiting entries of a book ordered by position.
func (s *Store) Waiting(bookID uuid.UUID) []model.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{st: s.cur}).waiting(bookID)
}

// SetUser seeds fine state.
func (s *Store) SetUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.users[u.ID] = u
}

// PutBorrow seeds or overwrites a loan.
func (s *Store) PutBorrow(b model.Borrow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.borrows[b.ID] = b
}

type tx struct{ st *state }

var _ repository.Tx = (*tx)(nil)

func (t *tx) InsertBook(_ context.Context, b *model.Book) error {
	for _, cur := range t.st.books {
		if cur.ISBN == b.ISBN {
			return errs.New(errs.ErrDuplicate, "A book with ISBN %s already exists", b.ISBN)
		}
	}
	t.st.books[b.ID] = *b
	return nil
}

func (t *tx) GetBook(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	return t.LockBook(ctx, id)
}

func (t *tx) LockBook(_ context.Context, id uuid.UUID) (*model.Book, error) {
	b, ok := t.st.books[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &b, nil
}

func (t *tx) LockBookByISBN(_ context.Context, isbn string) (*model.Book, error) {
	for _, b := range t.st.books {
		if b.ISBN == isbn {
			return &b, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (t *tx) AdjustAvailable(_ context.Context, id uuid.UUID, delta int) (int, error) {
	b, ok := t.st.books[id]
	if !ok {
		return 0, errs.ErrNotFound
	}
	b.AvailableCopies = min(max(b.AvailableCopies+delta, 0), b.TotalCopies)
	t.st.books[id] = b
	return b.AvailableCopies, nil
}

func (t *tx) IncrementBorrowCount(_ context.Context, id uuid.UUID) error {
	b, ok := t.st.books[id]
	if !ok {
		return errs.ErrNotFound
	}
	b.BorrowCount++
	t.st.books[id] = b
	return nil
}

func (t *tx) LockUser(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		u = model.User{ID: id, Role: model.RoleUser, Fines: decimal.Zero}
		t.st.users[id] = u
	}
	return &u, nil
}

func (t *tx) SaveUserFines(_ context.Context, u *model.User) error {
	cur, ok := t.st.users[u.ID]
	if !ok {
		return errs.ErrNotFound
	}
	cur.Fines, cur.Violations = u.Fines, u.Violations
	t.st.users[u.ID] = cur
	return nil
}

func (t *tx) InsertBorrow(_ context.Context, b *model.Borrow) error {
	for _, cur := range t.st.borrows {
		if cur.UserID == b.UserID && cur.BookID == b.BookID && cur.Status.Active() {
			return errs.New(errs.ErrDuplicate, "You have already borrowed or requested this book")
		}
	}
	t.st.borrows[b.ID] = *b
	return nil
}

func (t *tx) GetBorrow(ctx context.Context, id uuid.UUID) (*model.Borrow, error) {
	return t.LockBorrow(ctx, id)
}

func (t *tx) LockBorrow(_ context.Context, id uuid.UUID) (*model.Borrow, error) {
	b, ok := t.st.borrows[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &b, nil
}

func (t *tx) LockBorrowedByBook(_ context.Context, bookID uuid.UUID) (*model.Borrow, error) {
	var found *model.Borrow
	for _, b := range t.st.borrows {
		if b.BookID != bookID || b.Status != model.BorrowBorrowed {
			continue
		}
		if found == nil || b.BorrowDate.Before(found.BorrowDate) {
			c := b
			found = &c
		}
	}
	if found == nil {
		return nil, errs.ErrNotFound
	}
	return found, nil
}

func (t *tx) UpdateBorrow(_ context.Context, b *model.Borrow) error {
	if _, ok := t.st.borrows[b.ID]; !ok {
		return errs.ErrNotFound
	}
	t.st.borrows[b.ID] = *b
	return nil
}

func (t *tx) CountActiveBorrows(_ context.Context, userID uuid.UUID) (int, error) {
	n := 0
	for _, b := range t.st.borrows {
		if b.UserID == userID && b.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (t *tx) HasActiveBorrow(_ context.Context, userID, bookID uuid.UUID) (bool, error) {
	for _, b := range t.st.borrows {
		if b.UserID == userID && b.BookID == bookID && b.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) listBorrows(keep func(model.Borrow) bool, key func(model.Borrow) time.Time) []model.Borrow {
	var out []model.Borrow
	for _, b := range t.st.borrows {
		if keep(b) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b model.Borrow) int { return key(a).Compare(key(b)) })
	return out
}

func (t *tx) ListExpiredPickups(_ context.Context, now time.Time) ([]model.Borrow, error) {
	return t.listBorrows(func(b model.Borrow) bool {
		return b.Status == model.BorrowPendingPickup && b.PendingUntil.Before(now)
	}, func(b model.Borrow) time.Time { return b.PendingUntil }), nil
}

func (t *tx) ListDueBetween(_ context.Context, from, to time.Time) ([]model.Borrow, error) {
	return t.listBorrows(func(b model.Borrow) bool {
		return b.Status == model.BorrowBorrowed && !b.DueDate.Before(from) && !b.DueDate.After(to)
	}, func(b model.Borrow) time.Time { return b.DueDate }), nil
}

func (t *tx) ListOverdue(_ context.Context, now time.Time) ([]model.Borrow, error) {
	return t.listBorrows(func(b model.Borrow) bool {
		return b.Status == model.BorrowBorrowed && b.DueDate.Before(now)
	}, func(b model.Borrow) time.Time { return b.DueDate }), nil
}

func (t *tx) InsertReservation(_ context.Context, r *model.Reservation) error {
	for _, cur := range t.st.reservations {
		if cur.UserID == r.UserID && cur.BookID == r.BookID &&
			(cur.Status == model.ReservationWaiting || cur.Status == model.ReservationReady) {
			return errs.New(errs.ErrConflict, "You already have a reservation for this book")
		}
	}
	t.st.reservations[r.ID] = *r
	return nil
}

func (t *tx) GetReservation(ctx context.Context, id uuid.UUID) (*model.Reservation, error) {
	return t.LockReservation(ctx, id)
}

func (t *tx) LockReservation(_ context.Context, id uuid.UUID) (*model.Reservation, error) {
	r, ok := t.st.reservations[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &r, nil
}

func (t *tx) UpdateReservation(_ context.Context, r *model.Reservation) error {
	if _, ok := t.st.reservations[r.ID]; !ok {
		return errs.ErrNotFound
	}
	t.st.reservations[r.ID] = *r
	return nil
}

func (t *tx) HasOpenReservation(_ context.Context, userID, bookID uuid.UUID) (bool, error) {
	for _, r := range t.st.reservations {
		if r.UserID == userID && r.BookID == bookID &&
			(r.Status == model.ReservationWaiting || r.Status == model.ReservationReady) {
			return true, nil
		}
	}
	return false, nil
}

// waiting returns the book's waiting entries ordered as the queue is served.
func (t *tx) waiting(bookID uuid.UUID) []model.Reservation {
	var out []model.Reservation
	for _, r := range t.st.reservations {
		if r.BookID == bookID && r.Status == model.ReservationWaiting {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b model.Reservation) int {
		if a.QueuePosition != b.QueuePosition {
			return a.QueuePosition - b.QueuePosition
		}
		return a.ReservationDate.Compare(b.ReservationDate)
	})
	return out
}

func (t *tx) MaxWaitingPosition(_ context.Context, bookID uuid.UUID) (int, error) {
	n := 0
	for _, r := range t.waiting(bookID) {
		n = max(n, r.QueuePosition)
	}
	return n, nil
}

func (t *tx) CountWaiting(_ context.Context, bookID uuid.UUID) (int, error) {
	return len(t.waiting(bookID)), nil
}

func (t *tx) CountReady(_ context.Context, bookID uuid.UUID) (int, error) {
	n := 0
	for _, r := range t.st.reservations {
		if r.BookID == bookID && r.Status == model.ReservationReady {
			n++
		}
	}
	return n, nil
}

func (t *tx) NextWaiting(_ context.Context, bookID uuid.UUID) (*model.Reservation, error) {
	w := t.waiting(bookID)
	if len(w) == 0 {
		return nil, errs.ErrNotFound
	}
	return &w[0], nil
}

func (t *tx) ReadyFor(_ context.Context, userID, bookID uuid.UUID) (*model.Reservation, error) {
	for _, r := range t.st.reservations {
		if r.UserID == userID && r.BookID == bookID && r.Status == model.ReservationReady {
			return &r, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (t *tx) ShiftWaitingAfter(_ context.Context, bookID uuid.UUID, pos int) error {
	for _, r := range t.waiting(bookID) {
		if r.QueuePosition > pos {
			r.QueuePosition--
			t.st.reservations[r.ID] = r
		}
	}
	return nil
}

func (t *tx) RenumberWaiting(_ context.Context, bookID uuid.UUID) error {
	for i, r := range t.waiting(bookID) {
		r.QueuePosition = i + 1
		t.st.reservations[r.ID] = r
	}
	return nil
}

func (t *tx) listHolds(keep func(model.Reservation) bool) []model.Reservation {
	var out []model.Reservation
	for _, r := range t.st.reservations {
		if r.Status == model.ReservationReady && r.HoldUntil != nil && keep(r) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b model.Reservation) int { return a.HoldUntil.Compare(*b.HoldUntil) })
	return out
}

func (t *tx) ListLapsedHolds(_ context.Context, bookID uuid.UUID, now time.Time) ([]model.Reservation, error) {
	return t.listHolds(func(r model.Reservation) bool {
		return r.BookID == bookID && r.HoldUntil.Before(now)
	}), nil
}

func (t *tx) ListExpiredHolds(_ context.Context, now time.Time) ([]model.Reservation, error) {
	return t.listHolds(func(r model.Reservation) bool { return r.HoldUntil.Before(now) }), nil
}

func (t *tx) InsertFine(_ context.Context, f *model.Fine) error {
	t.st.fines[f.ID] = *f
	return nil
}

func (t *tx) UnpaidFines(_ context.Context, userID uuid.UUID) ([]model.Fine, error) {
	var out []model.Fine
	for _, f := range t.st.fines {
		if f.UserID == userID && f.PaymentStatus == model.PaymentUnpaid {
			out = append(out, f)
		}
	}
	slices.SortFunc(out, func(a, b model.Fine) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (t *tx) MarkFinePaid(_ context.Context, id uuid.UUID) error {
	f, ok := t.st.fines[id]
	if !ok || f.PaymentStatus != model.PaymentUnpaid {
		return errs.ErrNotFound
	}
	f.PaymentStatus = model.PaymentPaid
	t.st.fines[id] = f
	return nil
}
