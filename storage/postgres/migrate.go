package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrFailedToApplyMigrations wraps any goose failure during Migrate.
var ErrFailedToApplyMigrations = errors.New("postgres: failed to apply migrations")

// Migrate applies the embedded outbox/inbox/scheduled-message/saga schema
// using goose, going through database/sql via pgx's stdlib adapter since
// goose doesn't speak pgxpool natively — the same pgx-to-database/sql
// conversion integration/database/pg.Migrate performs, applied to
// HeroMessaging's own embedded migration set instead of a host app's.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if cfg.MigrationsTable != "" {
		goose.SetTableName(cfg.MigrationsTable)
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToApplyMigrations, err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToApplyMigrations, err)
	}
	logger.InfoContext(ctx, "heromessaging: postgres migrations applied")
	return nil
}
