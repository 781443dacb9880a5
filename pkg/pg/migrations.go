package pg

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// slogGooseLogger adapts slog.Logger to the goose.Logger interface.
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// MigrateUp runs all pending migrations.
func MigrateUp(ctx context.Context, log *slog.Logger, connStr string) error {
	log.Info("pg: running migrations (up)")

	db, err := openSQLDB(connStr)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := prepareGoose(log); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("pg: migrations completed")
	return nil
}

// MigrateDown rolls back the last migration.
func MigrateDown(ctx context.Context, log *slog.Logger, connStr string) error {
	log.Info("pg: rolling back migration (down)")

	db, err := openSQLDB(connStr)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := prepareGoose(log); err != nil {
		return err
	}
	if err := goose.DownContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	log.Info("pg: migration rollback completed")
	return nil
}

// MigrateStatus logs the status of all migrations.
func MigrateStatus(ctx context.Context, log *slog.Logger, connStr string) error {
	db, err := openSQLDB(connStr)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := prepareGoose(log); err != nil {
		return err
	}
	if err := goose.StatusContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	return nil
}

func prepareGoose(log *slog.Logger) error {
	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return nil
}

func openSQLDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database for migrations: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
