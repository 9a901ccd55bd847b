package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/soaringjerry/Pulse/internal/api"
	"github.com/soaringjerry/Pulse/internal/config"
)

// OpenStore builds the store cfg asks for. For SQL drivers a configured
// snapshot is imported on first start. The returned close func is never nil.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (api.Store, func() error, error) {
	noop := func() error { return nil }
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DBDriver == config.DriverMemory {
		mem, err := api.NewMemoryStoreFromPath(cfg.SnapshotPath)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("using memory store", "snapshot", cfg.SnapshotPath)
		return mem, noop, nil
	}
	store, err := Open(ctx, Dialect(cfg.DBDriver), cfg.DBDSN, cfg.MigrationsDir, logger)
	if err != nil {
		return nil, noop, err
	}
	if cfg.SnapshotPath != "" {
		if _, err := ImportSnapshot(ctx, cfg.SnapshotPath, store, logger); err != nil {
			_ = store.Close()
			return nil, noop, err
		}
	}
	return store, store.Close, nil
}

// ImportSnapshot copies a memory-store snapshot into an empty SQL store. It
// does nothing when the file is absent or the database already holds data,
// and reports whether an import happened.
func ImportSnapshot(ctx context.Context, snapshotPath string, dst *SQLStore, logger *slog.Logger) (bool, error) {
	if _, err := os.Stat(snapshotPath); errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("check snapshot: %w", err)
	}
	empty, err := dst.Empty(ctx)
	if err != nil {
		return false, err
	}
	if !empty {
		return false, nil
	}
	src, err := api.NewMemoryStoreFromPath(snapshotPath)
	if err != nil {
		return false, fmt.Errorf("load snapshot: %w", err)
	}
	logger.Info("first start, importing snapshot", "path", snapshotPath)
	if err := src.CopyTo(ctx, dst); err != nil {
		return false, fmt.Errorf("copy snapshot: %w", err)
	}
	logger.Info("snapshot import finished")
	return true, nil
}
