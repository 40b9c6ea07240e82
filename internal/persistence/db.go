// Package persistence implements the Persistence layer (C5): a
// transaction executor running caller-supplied functions against a
// transactional handle, typed operations validated against a fixed
// table allow-list, and the goose-migrated schema backing them, per
// spec §4.5.
package persistence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/vietddude/roundkeeper/internal/core/config"
)

// DB wraps the Postgres connection pool.
type DB struct {
	*sqlx.DB
}

// Open connects to Postgres via the pgx stdlib driver and applies the
// resource policy from spec §5 (bounded pool size, statement timeout).
func Open(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	connCfg, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.StatementTimeout > 0 {
		connCfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	db := sqlx.NewDb(stdlib.OpenDB(*connCfg), "pgx")

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{DB: db}, nil
}

// Migrate applies every migration under dir, grounded on the teacher's
// goose.SetDialect + goose.Up wiring in internal/control.
func Migrate(db *DB, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db.DB.DB, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Health reports whether the pool can still reach Postgres.
func (db *DB) Health(ctx context.Context) error {
	return db.PingContext(ctx)
}

// StatementDeadline derives a per-call context honoring the configured
// statement timeout.
func StatementDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}
