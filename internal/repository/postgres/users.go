package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/DongNguyen06/lib-v2/internal/errs"
	"github.com/DongNguyen06/lib-v2/internal/model"
)

// LockUser provisions the fine state row if missing and locks it.
func (r *queries) LockUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const ins = `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`
	const sel = `SELECT id, role, fines, violations FROM users WHERE id=$1 FOR UPDATE`

	if _, err := r.q.Exec(ctx, ins, id); err != nil {
		return nil, err
	}
	var u model.User
	if err := r.q.QueryRow(ctx, sel, id).Scan(&u.ID, &u.Role, &u.Fines, &u.Violations); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// SaveUserFines writes the fine balance and violation count.
func (r *queries) SaveUserFines(ctx context.Context, u *model.User) error {
	const q = `UPDATE users SET fines=$2, violations=$3 WHERE id=$1`
	tag, err := r.q.Exec(ctx, q, u.ID, u.Fines, u.Violations)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
