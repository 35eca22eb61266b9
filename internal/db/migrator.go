package db

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the embedded goose migrations against the pool.
//
// The pgx pool is bridged to the database/sql interface goose expects via
// stdlib.OpenDBFromPool. The returned *sql.DB shares the underlying pool
// connections, so it is not closed here; closing it would disrupt the pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	sqlDB := stdlib.OpenDBFromPool(pool)

	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLoggerAdapter{logger})

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("db: setting goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("db: applying migrations: %w", err)
	}

	return nil
}

// gooseLoggerAdapter routes goose output through slog.
type gooseLoggerAdapter struct {
	log *slog.Logger
}

func (g *gooseLoggerAdapter) Printf(format string, args ...any) {
	g.log.Info(fmt.Sprintf(format, args...))
}

func (g *gooseLoggerAdapter) Fatalf(format string, args ...any) {
	// Error level only; goose returns an error that propagates up, and
	// os.Exit here would skip deferred cleanup.
	g.log.Error(fmt.Sprintf(format, args...))
}
