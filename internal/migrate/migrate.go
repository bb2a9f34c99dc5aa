// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/DongNguyen06/lib-v2/migrations"
)

// Up applies pending migrations and returns the resulting schema version
// together with the number of migrations applied by this call.
func Up(ctx context.Context, dsn string) (version int64, applied int, err error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return 0, 0, err
	}
	defer db.Close()

	p, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return 0, 0, fmt.Errorf("migrate: %w", err)
	}
	res, err := p.Up(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("migrate up: %w", err)
	}
	version, err = p.GetDBVersion(ctx)
	if err != nil {
		return 0, len(res), err
	}
	return version, len(res), nil
}
