package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	_ "github.com/mattn/go-sqlite3"
)

// Config holds database configuration
type Config struct {
	DatabasePath    string        `json:"database_path" validate:"required"`
	MaxConnections  int           `json:"max_connections" validate:"gt=0"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" validate:"gt=0"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" validate:"gt=0"`
	// WriteTimeout bounds how long a write waits for the single writer.
	WriteTimeout time.Duration `json:"write_timeout" validate:"gt=0"`
}

// DefaultConfig returns the database configuration used when nothing is set.
// SQLite serves concurrent readers well up to about 10 pooled connections.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/chatrelay.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		WriteTimeout:    30 * time.Second,
	}
}

var validate = validator.New()

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid database config: %w", err)
	}
	return nil
}

// DSN returns the go-sqlite3 connection string for the configured path.
func (c *Config) DSN() string {
	return c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// sqliteOptimizations are applied once per pool. WAL lets history reads run
// while the single writer appends.
const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA cache_size = -64000;
	PRAGMA temp_store = MEMORY;
	PRAGMA foreign_keys = ON;
	PRAGMA busy_timeout = 5000;
`

// ApplySQLiteOptimizations applies performance pragmas to the database.
func ApplySQLiteOptimizations(db *sql.DB) error {
	if _, err := db.Exec(sqliteOptimizations); err != nil {
		return fmt.Errorf("failed to apply sqlite pragmas: %w", err)
	}
	return nil
}
