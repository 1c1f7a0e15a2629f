package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, ApplySQLiteOptimizations(db))
	return db
}

func TestConfig_Defaults(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, DriverSQLite, c.Driver)
	assert.Equal(t, "./data/liveclass.db", c.DatabasePath)
	assert.Equal(t, 10, c.MaxConnections)
	assert.Equal(t, time.Hour, c.ConnMaxLifetime)
	assert.NoError(t, c.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"empty path", func(c *Config) { c.DatabasePath = "" }, false},
		{"postgres without url", func(c *Config) { c.Driver = DriverPostgres }, false},
		{"postgres with url", func(c *Config) { c.Driver = DriverPostgres; c.URL = "postgres://x" }, true},
		{"unknown driver", func(c *Config) { c.Driver = "mysql" }, false},
		{"zero pool", func(c *Config) { c.MaxConnections = 0 }, false},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }, false},
		{"zero idle", func(c *Config) { c.ConnMaxIdleTime = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			if tt.ok {
				assert.NoError(t, c.Validate())
			} else {
				assert.Error(t, c.Validate())
			}
		})
	}
}

func TestMigrations_EmbeddedPerDriver(t *testing.T) {
	for _, driver := range []string{DriverSQLite, DriverPostgres} {
		files, err := Migrations(driver)
		require.NoError(t, err)
		migs, err := NewMigrationManager(nil, files, driver).LoadMigrations()
		require.NoError(t, err)
		require.NotEmpty(t, migs)
		assert.Equal(t, "001", migs[0].Version)
		assert.Equal(t, "initial_schema", migs[0].Description)
	}
	_, err := Migrations("oracle")
	assert.Error(t, err)
}

func TestApplyMigrations_SQLiteIsIdempotent(t *testing.T) {
	db := openSQLite(t)
	files, err := Migrations(DriverSQLite)
	require.NoError(t, err)
	mm := NewMigrationManager(db, files, DriverSQLite)

	ran, err := mm.ApplyMigrations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, ran)

	ran, err = mm.ApplyMigrations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ran)

	applied, err := mm.AppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, applied)

	assert.NoError(t, NewSchemaValidator(db).Validate())
}

func TestApplyMigrations_OrderAndFailure(t *testing.T) {
	db := openSQLite(t)
	files := fstest.MapFS{
		"002_second.sql": {Data: []byte("CREATE TABLE b (id TEXT);")},
		"001_first.sql":  {Data: []byte("CREATE TABLE a (id TEXT);")},
		"003_broken.sql": {Data: []byte("CREATE TABLE nonsense (")},
		"README.md":      {Data: []byte("ignored")},
	}
	mm := NewMigrationManager(db, files, DriverSQLite)

	ran, err := mm.ApplyMigrations(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"001", "002"}, ran)

	applied, err := mm.AppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, applied)
}

func TestSchemaValidator_DetectsMissingPieces(t *testing.T) {
	db := openSQLite(t)
	v := NewSchemaValidator(db)
	assert.ErrorContains(t, v.ValidateTablesExist(), "live_classes")

	_, err := db.Exec(`
		CREATE TABLE live_classes (id TEXT, title TEXT, host_id TEXT, audience_ids TEXT, status TEXT, started_at TEXT, ended_at DATETIME);
		CREATE TABLE chat_messages (id TEXT);
		CREATE TABLE schema_migrations (version TEXT);
	`)
	require.NoError(t, err)
	require.NoError(t, v.ValidateTablesExist())
	assert.ErrorContains(t, v.ValidateTableStructure(), "started_at")
	assert.ErrorContains(t, v.ValidateIndexes(), "idx_live_classes_status")
}
