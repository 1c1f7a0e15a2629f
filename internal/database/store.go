// Package database implements the class store on SQLite or Postgres
// and the asynchronous chat archiver in front of it.
package database

import (
	"context"
	"fmt"
	"log/slog"

	dbconfig "liveclass/pkg/database"
	"liveclass/pkg/interfaces"
)

var (
	_ interfaces.ClassStore = (*SQLiteStore)(nil)
	_ interfaces.ClassStore = (*PostgresStore)(nil)
)

// Open returns the store selected by cfg.Driver
func Open(ctx context.Context, cfg *dbconfig.Config, log *slog.Logger) (interfaces.ClassStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	switch cfg.Driver {
	case dbconfig.DriverPostgres:
		return OpenPostgres(ctx, cfg, log)
	default:
		return OpenSQLite(ctx, cfg, log)
	}
}
