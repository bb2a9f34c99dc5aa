package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter shared by every server instance.
type PG struct {
	pool pgxQuerier
	p    Policy
	now  func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over a pool or a single connection.
func NewPG(q pgxQuerier, p Policy) *PG {
	return &PG{pool: q, p: p, now: time.Now}
}

// Hit reports whether the request is allowed and the retry-after when it is not.
func (l *PG) Hit(ctx context.Context, userID uuid.UUID, op string) (bool, time.Duration, error) {
	now := l.now()

	const sel = `SELECT blocked_until FROM request_throttle WHERE user_id=$1 AND op=$2`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, sel, userID, op).Scan(&blockedUntil)
	switch {
	case err == nil:
		if blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
	case errors.Is(err, pgx.ErrNoRows):
	default:
		return false, 0, err
	}

	const q = `
INSERT INTO request_throttle (user_id, op, hits, window_start, blocked_until)
VALUES ($1, $2, 1, $3, 'epoch')
ON CONFLICT (user_id, op) DO UPDATE
SET
  hits = CASE WHEN $3 - request_throttle.window_start > $4::interval THEN 1 ELSE request_throttle.hits + 1 END,
  window_start = CASE WHEN $3 - request_throttle.window_start > $4::interval THEN $3 ELSE request_throttle.window_start END
RETURNING hits`
	var hits int
	if err := l.pool.QueryRow(ctx, q, userID, op, now, l.p.Window).Scan(&hits); err != nil {
		return false, 0, err
	}
	if hits > l.p.Max {
		const upd = `UPDATE request_throttle SET blocked_until=$3 WHERE user_id=$1 AND op=$2`
		if _, err := l.pool.Exec(ctx, upd, userID, op, now.Add(l.p.BlockFor)); err != nil {
			return false, 0, err
		}
		return false, l.p.BlockFor, nil
	}
	return true, 0, nil
}
