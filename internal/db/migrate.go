// Package db applies the SQL migrations under migrations/ and waits for the
// database to accept connections.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/OFFIS-RIT/talentgraph/backend/internal/util"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

const DefaultMigrationsDir = "migrations"

// SourceURL turns a migrations directory into a file:// source URL.
func SourceURL(dir string) (string, error) {
	if dir == "" {
		dir = DefaultMigrationsDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve migrations dir: %w", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// WaitForDatabase pings dsn until it answers or attempts run out. Containers
// usually start the app before PostgreSQL is ready.
func WaitForDatabase(ctx context.Context, dsn string, attempts int) error {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	backoff := util.Backoff{MaxAttempts: max(attempts, 1), InitialDelay: 500 * time.Millisecond, Factor: 2, MaxDelay: 5 * time.Second}
	_, tries, err := util.RetryWithBackoff(ctx, backoff, nil, func(ctx context.Context, attempt int) (struct{}, error) {
		err := conn.PingContext(ctx)
		if err != nil {
			logger.Debug("[DB] Database not ready", "attempt", attempt, "err", err)
		}
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("database not reachable after %d attempts: %w", tries, err)
	}
	return nil
}

// Migrate applies every pending up migration. An up-to-date schema is not an
// error.
func Migrate(dsn, dir string) (uint, error) {
	m, err := open(dsn, dir)
	if err != nil {
		return 0, err
	}
	defer closeMigrate(m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	logger.Info("[DB] Schema up to date", "version", version)
	return version, nil
}

// Rollback reverts the given number of migrations.
func Rollback(dsn, dir string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be positive")
	}
	m, err := open(dsn, dir)
	if err != nil {
		return err
	}
	defer closeMigrate(m)
	if err := m.Steps(-steps); err != nil {
		return fmt.Errorf("failed to roll back %d migrations: %w", steps, err)
	}
	return nil
}

func open(dsn, dir string) (*migrate.Migrate, error) {
	source, err := SourceURL(dir)
	if err != nil {
		return nil, err
	}
	m, err := migrate.New(source, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to init migrations: %w", err)
	}
	return m, nil
}

func closeMigrate(m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if srcErr != nil || dbErr != nil {
		logger.Warn("[DB] Failed to close migrate", "source_err", srcErr, "db_err", dbErr)
	}
}
