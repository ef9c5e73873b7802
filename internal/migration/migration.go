// Package migration prepares the PostgreSQL schema before the server starts.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	internalerrors "github.com/Schera-ole/vmwatch/internal/errors"
)

// Startup connection attempts back off from one second up to five.
const (
	pingAttempts = 4
	pingDelay    = time.Second
	pingMaxDelay = 5 * time.Second
)

// Pinger is anything whose connection can be checked.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// IsRetryableError reports whether a connection failure may clear up on its
// own: a PostgreSQL connection exception or a network error.
func IsRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgErr.Code == pgerrcode.CannotConnectNow ||
			pgErr.Code == pgerrcode.TooManyConnections
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "no such host")
}

// WaitForDatabase pings db until it answers, retrying transient failures.
func WaitForDatabase(ctx context.Context, db Pinger, logger *zap.SugaredLogger) error {
	return waitForDatabase(ctx, db, pingDelay, logger)
}

func waitForDatabase(ctx context.Context, db Pinger, delay time.Duration, logger *zap.SugaredLogger) error {
	err := retry.Do(func() error {
		return db.PingContext(ctx)
	},
		retry.Context(ctx),
		retry.Attempts(pingAttempts),
		retry.Delay(delay),
		retry.MaxDelay(pingMaxDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryableError),
		retry.OnRetry(func(n uint, err error) {
			logger.Warnw("database not ready, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", internalerrors.ErrDatabaseConnection, err)
	}
	return nil
}

// sourceURL turns a migrations directory into a golang-migrate source URL.
func sourceURL(path string) (string, error) {
	if path == "" {
		path = "migrations"
	}
	if strings.Contains(path, "://") {
		return path, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: migrations path %s: %v", internalerrors.ErrConfiguration, path, err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// RunMigrations applies every pending migration found under path.
func RunMigrations(ctx context.Context, dsn, path string, logger *zap.SugaredLogger) error {
	logger.Info("Running database migrations...")

	source, err := sourceURL(path)
	if err != nil {
		return err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	if err := WaitForDatabase(ctx, db, logger); err != nil {
		return err
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance from %s: %w", source, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logger.Warnf("Failed to get current migration version: %v", err)
	} else {
		logger.Infof("Current migration version: %d, dirty: %t", version, dirty)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("No new migrations to apply")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Migrations applied successfully")
	return nil
}

// PingFunc adapts a function to the Pinger interface.
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }
