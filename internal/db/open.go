// Package db opens the SQL connection pools behind the chat store.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kandev/acpchat/internal/common/logger"
)

// sqlx driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

const (
	sqliteBusyTimeout = 5 * time.Second
	sqliteReaderConns = 4
	postgresMaxConns  = 10
	postgresIdleConns = 2
)

// Config selects and configures the database.
type Config struct {
	Driver   string `mapstructure:"driver"` // sqlite or postgres
	Path     string `mapstructure:"path"`   // sqlite file
	DSN      string `mapstructure:"dsn"`    // postgres connection string
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// IsPostgres reports whether driver is the PostgreSQL driver.
func IsPostgres(driver string) bool {
	return driver == DriverPostgres
}

// Open opens the pool described by cfg.
func Open(cfg Config, log *logger.Logger) (*Pool, error) {
	switch cfg.Driver {
	case "", "sqlite":
		pool, err := openSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		log.Info("database opened", zap.String("driver", "sqlite"), zap.String("path", cfg.Path))
		return pool, nil
	case "postgres":
		pool, err := openPostgres(cfg)
		if err != nil {
			return nil, err
		}
		log.Info("database opened", zap.String("driver", "postgres"))
		return pool, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// openSQLite opens a single-connection writer in WAL mode and a read-only
// pool over the same file, creating the file and its directory if needed.
func openSQLite(path string) (*Pool, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	busy := int(sqliteBusyTimeout / time.Millisecond)
	writer, err := sqlx.Open(DriverSQLite, fmt.Sprintf(
		"file:%s?_mode=rwc&_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL&_cache=shared", abs, busy))
	if err != nil {
		return nil, fmt.Errorf("open sqlite writer: %w", err)
	}
	writer.SetMaxOpenConns(1)
	writer.SetMaxIdleConns(1)
	// The read-only pool needs the file and WAL journal to exist.
	if err := writer.Ping(); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open sqlite writer: %w", err)
	}

	reader, err := sqlx.Open(DriverSQLite, fmt.Sprintf(
		"file:%s?_mode=ro&_busy_timeout=%d&_cache=shared", abs, busy))
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("open sqlite reader: %w", err)
	}
	reader.SetMaxOpenConns(sqliteReaderConns)
	reader.SetMaxIdleConns(sqliteReaderConns)

	return NewPool(writer, reader), nil
}

// openPostgres connects through the pgx stdlib driver. Non-positive pool
// sizes fall back to the package defaults.
func openPostgres(cfg Config) (*Pool, error) {
	conn, err := sqlx.Connect(DriverPostgres, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	maxConns, idle := cfg.MaxConns, cfg.MinConns
	if maxConns <= 0 {
		maxConns = postgresMaxConns
	}
	if idle <= 0 {
		idle = postgresIdleConns
	}
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(idle)
	return NewPool(conn, conn), nil
}
