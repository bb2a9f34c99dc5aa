package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/model"
	"github.com/DongNguyen06/lib-v2/internal/repository"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var bookColumns = []string{"id", "isbn", "title", "total_copies", "available_copies", "borrow_count"}

var borrowColumns = []string{
	"id", "user_id", "book_id", "borrow_date", "due_date", "return_date", "status",
	"renewed_count", "pending_until", "condition", "damage_fee", "late_fee",
}

var reservationColumns = []string{
	"id", "user_id", "book_id", "reservation_date", "status", "notified_date", "hold_until", "queue_position",
}

func TestStore_InTx_CommitsOnSuccess(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)
	bookID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, isbn, title, total_copies, available_copies, borrow_count FROM books WHERE id=\$1 FOR UPDATE`).
		WithArgs(bookID).
		WillReturnRows(pgxmock.NewRows(bookColumns).AddRow(bookID, "978-0", "Dune", 3, 1, int64(7)))
	mock.ExpectQuery(`UPDATE books SET available_copies = LEAST\(GREATEST\(available_copies \+ \$2, 0\), total_copies\) WHERE id=\$1 RETURNING available_copies`).
		WithArgs(bookID, -1).
		WillReturnRows(pgxmock.NewRows([]string{"available_copies"}).AddRow(0))
	mock.ExpectCommit()

	var got int
	err := s.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		b, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		require.Equal(t, "Dune", b.Title)
		require.Equal(t, 1, b.AvailableCopies)
		got, err = tx.AdjustAvailable(ctx, bookID, -1)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 0, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InTx_RollsBackOnError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)
	bookID := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, isbn, title, total_copies, available_copies, borrow_count FROM books WHERE id=\$1 FOR UPDATE`).
		WithArgs(bookID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		_, err := tx.LockBook(ctx, bookID)
		return err
	})
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_InTx_BeginError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := NewStore(db)

	mock.ExpectBegin().WillReturnError(errors.New("down"))

	called := false
	err := s.InTx(context.Background(), func(context.Context, repository.Tx) error {
		called = true
		return nil
	})
	require.Error(t, err)
	require.False(t, called)
}

func TestQueries_InsertBook_Duplicate(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	q := &queries{q: db.Pool}
	b := &model.Book{ID: uuid.Must(uuid.NewV4()), ISBN: "978-1", Title: "Emma", TotalCopies: 2, AvailableCopies: 2}

	mock.ExpectExec(`INSERT INTO books \(id, isbn, title, total_copies, available_copies, borrow_count\)`).
		WithArgs(b.ID, b.ISBN, b.Title, 2, 2, int64(0)).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := q.InsertBook(context.Background(), b)
	require.ErrorIs(t, err, errs.ErrDuplicate)
}

func TestQueries_LockUser_ProvisionsRow(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	q := &queries{q: db.Pool}
	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`INSERT INTO users \(id\) VALUES \(\$1\) ON CONFLICT \(id\) DO NOTHING`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT id, role, fines, violations FROM users WHERE id=\$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "role", "fines", "violations"}).
			AddRow(id, model.RoleUser, decimal.NewFromInt(50000), 2))

	u, err := q.LockUser(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.RoleUser, u.Role)
	require.True(t, decimal.NewFromInt(50000).Equal(u.Fines))
	require.Equal(t, 2, u.Violations)
}

func TestQueries_SaveUserFines_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	q := &queries{q: db.Pool}
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Fines: decimal.Zero}

	mock.ExpectExec(`UPDATE users SET fines=\$2, violations=\$3 WHERE id=\$1`).
		WithArgs(u.ID, pgxmock.AnyArg(), 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.ErrorIs(t, q.SaveUserFines(context.Background(), u), errs.ErrNotFound)
}

func TestQueries_InsertBorrow_Duplicate(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	q := &queries{q: db.Pool}
	now := time.Now().UTC()
	b := &model.Borrow{
		ID: uuid.Must(uuid.NewV4()), UserID: uuid.Must(uuid.NewV4()), BookID: uuid.Must(uuid.NewV4()),
		BorrowDate: now, DueDate: now.Add(14 * 24 * time.Hour), PendingUntil: now.Add(48 * time.Hour),
		Status: model.BorrowPendingPickup,
	}

	mock.ExpectExec(`INSERT INTO borrows`).
		WithArgs(b.ID, b.UserID, b.BookID, b.BorrowDate, b.DueDate, b.Status, 0, b.PendingUntil,
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := q.InsertBorrow(context.Background(), b)
	require.ErrorIs(t, err, errs.ErrDuplicate)
	require.Equal(t, "You have already borrowed or requested this book", errs.Message(err))
}

func TestQueries_LockBorrow(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	q := &queries{q: db.Pool}
	now := time.Now().UTC()
	id, user, book := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	cond := model.ConditionGood

	mock.ExpectQuery(`SELECT id, user_id, book_id, borrow_date, due_date, return_date, status, renewed_count, pending_until, condition, damage_fee, late_fee FROM borrows WHERE id=\$1 FOR UPDATE`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(borrowColumns).AddRow(
			id, user, book, now, now.Add(time.Hour), &now, model.BorrowReturned,
			1, now, &cond, decimal.Zero, decimal.NewFromInt(2000)))

	b, err := q.LockBorrow(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, model.BorrowReturned, b.Status)
	require.NotNil(t, b.ReturnDate)
	require.Equal(t, model.ConditionGood, *b.Condition)
	require.True(t, decimal.NewFromInt(2000).Equal(b.LateFee))
}

func TestQueries_UpdateBorrow_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	q := &queries{q: db.Pool}
	b := &model.Borrow{ID: uuid.Must(uuid.NewV4()), Status: model.BorrowCancelled}

	mock.ExpectExec(`UPDATE borrows SET due_date=\$2, return_date=\$3, status=\$4`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.ErrorIs(t, q.UpdateBorrow(context.Background(), b), errs.ErrNotFound)
}

func TestQueries_ListOverdue(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	q := &queries{q: db.Pool}
	now := time.Now().UTC()
	user, book := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())

	rows := pgxmock.NewRows(borrowColumns).
		AddRow(uuid.Must(uuid.NewV4()), user, book, now, now.Add(-48*time.Hour), (*time.Time)(nil),
			model.BorrowBorrowed, 0, now, (*model.Condition)(nil), decimal.Zero, decimal.Zero).
		AddRow(uuid.Must(uuid.NewV4()), user, book, now, now.Add(-time.Hour), (*time.Time)(nil),
			model.BorrowBorrowed, 1, now, (*model.Condition)(nil), decimal.Zero, decimal.Zero)

	mock.ExpectQuery(`FROM borrows WHERE status='borrowed' AND due_date < \$1 ORDER BY due_date ASC`).
		WithArgs(now).
		WillReturnRows(rows)

	out, err := q.ListOverdue(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Nil(t, out[0].ReturnDate)
	require.Nil(t, out[1].Condition)
}

func TestQueries_InsertReservation_Conflict(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	q := &queries{q: db.Pool}
	r := &model.Reservation{
		ID: uuid.Must(uuid.NewV4()), UserID: uuid.Must(uuid.NewV4()), BookID: uuid.Must(uuid.NewV4()),
		ReservationDate: time.Now().UTC(), Status: model.ReservationWaiting, QueuePosition: 1,
	}

	mock.ExpectExec(`INSERT INTO reservations`).
		WithArgs(r.ID, r.UserID, r.BookID, r.ReservationDate, r.Status, 1).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	require.ErrorIs(t, q.InsertReservation(context.Background(), r), errs.ErrConflict)
}

func TestQueries_NextWaiting(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	q := &queries{q: db.Pool}
	book := uuid.Must(uuid.NewV4())
	now := time.Now().UTC()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`FROM reservations WHERE book_id=\$1 AND status='waiting' ORDER BY queue_position ASC, reservation_date ASC LIMIT 1 FOR UPDATE`).
		WithArgs(book).
		WillReturnRows(pgxmock.NewRows(reservationColumns).
			AddRow(id, uuid.Must(uuid.NewV4()), book, now, model.ReservationWaiting, (*time.Time)(nil), (*time.Time)(nil), 1))

	r, err := q.NextWaiting(context.Background(), book)
	require.NoError(t, err)
	require.Equal(t, id, r.ID)
	require.Equal(t, 1, r.QueuePosition)

	mock.ExpectQuery(`FROM reservations WHERE book_id=\$1 AND status='waiting'`).
		WithArgs(book).
		WillReturnError(pgx.ErrNoRows)
	_, err = q.NextWaiting(context.Background(), book)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestQueries_QueueMaintenance(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	q := &queries{q: db.Pool}
	book := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`UPDATE reservations SET queue_position = queue_position - 1 WHERE book_id=\$1 AND status='waiting' AND queue_position > \$2`).
		WithArgs(book, 2).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec(`UPDATE reservations AS r SET queue_position = o.rn FROM \( SELECT id, ROW_NUMBER\(\) OVER`).
		WithArgs(book).
		WillReturnResult(pgxmock.NewResult("UPDATE", 4))

	require.NoError(t, q.ShiftWaitingAfter(context.Background(), book, 2))
	require.NoError(t, q.RenumberWaiting(context.Background(), book))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueries_UnpaidFines_AndMarkPaid(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	q := &queries{q: db.Pool}
	user := uuid.Must(uuid.NewV4())
	f1, f2 := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM fines WHERE user_id=\$1 AND payment_status='unpaid' ORDER BY created_at ASC FOR UPDATE`).
		WithArgs(user).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "borrow_id", "amount", "reason", "payment_status", "created_at"}).
			AddRow(f1, user, (*uuid.UUID)(nil), decimal.NewFromInt(4000), "Late return", model.PaymentUnpaid, t0).
			AddRow(f2, user, (*uuid.UUID)(nil), decimal.NewFromInt(20000), "Damage", model.PaymentUnpaid, t0.Add(time.Hour)))

	out, err := q.UnpaidFines(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, f1, out[0].ID)

	mock.ExpectExec(`UPDATE fines SET payment_status='paid' WHERE id=\$1 AND payment_status='unpaid'`).
		WithArgs(f1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, q.MarkFinePaid(context.Background(), f1))

	mock.ExpectExec(`UPDATE fines SET payment_status='paid'`).
		WithArgs(f1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, q.MarkFinePaid(context.Background(), f1), errs.ErrNotFound)
}

func TestOutboxRepos(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	user := uuid.Must(uuid.NewV4())
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO notifications \(user_id, type, title, message\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs(user, model.NotifySuccess, "Book Returned", "ok").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, NewNotificationRepo(db).InsertNotification(context.Background(),
		model.Notification{UserID: user, Type: model.NotifySuccess, Title: "Book Returned", Message: "ok"}))

	mock.ExpectExec(`INSERT INTO audit_log \(action, details, severity, user_id, created_at\)`).
		WithArgs("Book Returned", "details", model.SeverityInfo, &user, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, NewAuditRepo(db).InsertAuditEvent(context.Background(),
		model.AuditEvent{Action: "Book Returned", Details: "details", Severity: model.SeverityInfo, UserID: &user, At: now}))

	mock.ExpectQuery(`SELECT user_id, type, title, message FROM notifications WHERE user_id=\$1`).
		WithArgs(user, 10).
		WillReturnRows(pgxmock.NewRows([]string{"user_id", "type", "title", "message"}).
			AddRow(user, model.NotifyAlert, "Overdue", "return it"))
	ns, err := NewNotificationRepo(db).ListNotifications(context.Background(), user, 10)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	require.Equal(t, model.NotifyAlert, ns[0].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}
