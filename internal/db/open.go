package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Open connects with the named driver, applies pending migrations and wraps
// the connection in a SQLStore. The driver must already be registered by
// the caller's imports.
func Open(ctx context.Context, dialect Dialect, dsn, migrationsDir string, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect != DialectPostgres {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetConnMaxIdleTime(5 * time.Minute)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	applied, err := RunMigrations(ctx, conn, migrationsDir)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	for _, name := range applied {
		logger.Info("migration applied", "name", name)
	}
	store, err := NewSQLStore(conn, dialect, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

// Empty reports whether the database holds no templates, submissions or
// schedules yet.
func (s *SQLStore) Empty(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT
		(SELECT COUNT(*) FROM templates) +
		(SELECT COUNT(*) FROM submissions) +
		(SELECT COUNT(*) FROM schedules)`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count rows: %w", err)
	}
	return n == 0, nil
}
