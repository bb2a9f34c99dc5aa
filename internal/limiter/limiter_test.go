package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

var (
	policy = Policy{Max: 2, Window: time.Minute, BlockFor: 5 * time.Minute}
	t0     = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
)

const (
	selectBlocked = `SELECT blocked_until FROM request_throttle WHERE user_id=\$1 AND op=\$2`
	upsertHits    = `INSERT INTO request_throttle .* ON CONFLICT \(user_id, op\) DO UPDATE .* RETURNING hits`
	updateBlocked = `UPDATE request_throttle SET blocked_until=\$3 WHERE user_id=\$1 AND op=\$2`
)

func newPG(t *testing.T) (*PG, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	l := NewPG(mock, policy)
	l.now = func() time.Time { return t0 }
	return l, mock
}

func TestPG_FirstHitAllowed(t *testing.T) {
	l, mock := newPG(t)
	defer mock.Close()
	user := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(selectBlocked).WithArgs(user, "borrow").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(upsertHits).WithArgs(user, "borrow", t0, time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"hits"}).AddRow(1))

	ok, retry, err := l.Hit(context.Background(), user, "borrow")
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, retry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_BlockedUntilFuture(t *testing.T) {
	l, mock := newPG(t)
	defer mock.Close()
	user := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(selectBlocked).WithArgs(user, "borrow").
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(t0.Add(3 * time.Minute)))

	ok, retry, err := l.Hit(context.Background(), user, "borrow")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 3*time.Minute, retry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_BlocksOverBudget(t *testing.T) {
	l, mock := newPG(t)
	defer mock.Close()
	user := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(selectBlocked).WithArgs(user, "reserve").
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(time.Unix(0, 0)))
	mock.ExpectQuery(upsertHits).WithArgs(user, "reserve", t0, time.Minute).
		WillReturnRows(pgxmock.NewRows([]string{"hits"}).AddRow(3))
	mock.ExpectExec(updateBlocked).WithArgs(user, "reserve", t0.Add(5*time.Minute)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, retry, err := l.Hit(context.Background(), user, "reserve")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 5*time.Minute, retry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPG_Errors(t *testing.T) {
	l, mock := newPG(t)
	defer mock.Close()
	user := uuid.Must(uuid.NewV4())
	boom := errors.New("db boom")

	mock.ExpectQuery(selectBlocked).WithArgs(user, "pay").WillReturnError(boom)
	_, _, err := l.Hit(context.Background(), user, "pay")
	require.ErrorIs(t, err, boom)

	mock.ExpectQuery(selectBlocked).WithArgs(user, "pay").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(upsertHits).WithArgs(user, "pay", t0, time.Minute).WillReturnError(boom)
	ok, _, err := l.Hit(context.Background(), user, "pay")
	require.ErrorIs(t, err, boom)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemory_WindowAndBlock(t *testing.T) {
	l := NewMemory(policy)
	now := t0
	l.now = func() time.Time { return now }
	ctx := context.Background()
	user := uuid.Must(uuid.NewV4())

	for range 2 {
		ok, _, err := l.Hit(ctx, user, "borrow")
		require.NoError(t, err)
		require.True(t, ok)
	}
	// Other operations have their own budget.
	ok, _, _ := l.Hit(ctx, user, "renew")
	require.True(t, ok)

	ok, retry, _ := l.Hit(ctx, user, "borrow")
	require.False(t, ok)
	require.Equal(t, 5*time.Minute, retry)

	now = now.Add(2 * time.Minute)
	ok, retry, _ = l.Hit(ctx, user, "borrow")
	require.False(t, ok)
	require.Equal(t, 3*time.Minute, retry)

	now = now.Add(4 * time.Minute)
	ok, _, _ = l.Hit(ctx, user, "borrow")
	require.True(t, ok)
}
