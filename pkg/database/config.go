package database

import (
	"database/sql"
	"errors"
	"time"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds database configuration
type Config struct {
	Driver          string        `json:"driver" mapstructure:"driver"`
	DatabasePath    string        `json:"database_path" mapstructure:"path"`
	URL             string        `json:"url" mapstructure:"url"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// DefaultConfig returns an embedded SQLite setup
// SQLite performs best with a small pool; writes are serialized anyway
func DefaultConfig() *Config {
	return &Config{
		Driver:          DriverSQLite,
		DatabasePath:    "./data/liveclass.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Validate ensures the configuration is usable for its driver
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite:
		if c.DatabasePath == "" {
			return errors.New("database path cannot be empty")
		}
	case DriverPostgres:
		if c.URL == "" {
			return errors.New("database url cannot be empty for postgres")
		}
	default:
		return errors.New("database driver must be 'sqlite' or 'postgres'")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	return nil
}

var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// ApplySQLiteOptimizations sets the pragmas the single-writer store relies on
// WAL keeps reads concurrent with the one writer
func ApplySQLiteOptimizations(db *sql.DB) error {
	for _, p := range sqlitePragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}
