package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var embedded embed.FS

// Migrations returns the embedded migration files for driver
func Migrations(driver string) (fs.FS, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
		return fs.Sub(embedded, path.Join("migrations", driver))
	default:
		return nil, fmt.Errorf("no migrations for driver %q", driver)
	}
}

// Migration is one versioned schema change
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// MigrationManager applies versioned .sql files exactly once each,
// tracking them in schema_migrations
type MigrationManager struct {
	db     *sql.DB
	files  fs.FS
	driver string
}

// NewMigrationManager creates a migration manager over files
func NewMigrationManager(db *sql.DB, files fs.FS, driver string) *MigrationManager {
	return &MigrationManager{db: db, files: files, driver: driver}
}

// ApplyMigrations applies every pending migration in version order; each
// migration runs in its own transaction
func (m *MigrationManager) ApplyMigrations(ctx context.Context) ([]string, error) {
	if err := m.createMigrationTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.AppliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	var ran []string
	for _, mig := range migrations {
		if done[mig.Version] {
			continue
		}
		if err := m.applyMigration(ctx, mig); err != nil {
			return ran, fmt.Errorf("failed to apply migration %s: %w", mig.Version, err)
		}
		ran = append(ran, mig.Version)
	}
	return ran, nil
}

func (m *MigrationManager) createMigrationTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// LoadMigrations reads migrations sorted by version
// "001_initial_schema.sql" has version "001", description "initial_schema"
func (m *MigrationManager) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(m.files, e.Name())
		if err != nil {
			return nil, err
		}
		version, desc, _ := strings.Cut(strings.TrimSuffix(e.Name(), ".sql"), "_")
		migrations = append(migrations, Migration{Version: version, Description: desc, SQL: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// AppliedMigrations returns the recorded versions in order
func (m *MigrationManager) AppliedMigrations(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (m *MigrationManager) applyMigration(ctx context.Context, mig Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, mig.SQL); err != nil {
		return err
	}

	insert := "INSERT INTO schema_migrations (version) VALUES (?)"
	if m.driver == DriverPostgres {
		insert = "INSERT INTO schema_migrations (version) VALUES ($1)"
	}
	if _, err := tx.ExecContext(ctx, insert, mig.Version); err != nil {
		return err
	}
	return tx.Commit()
}
