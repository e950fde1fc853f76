package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Config selects and parameterizes the storage backend.
type Config struct {
	// Driver picks the backend explicitly. Empty or "auto" infers it
	// from URL.
	Driver Driver

	// URL is the Postgres DSN.
	URL string

	// SQLitePath locates the database file in local mode. Empty means
	// DefaultSQLitePath.
	SQLitePath string

	// MaxConns caps the Postgres pool. Ignored by SQLite.
	MaxConns int
}

// NewConnection opens a connection for the configured backend. The
// driver packages register themselves on import, so callers must
// blank-import the ones they want available.
func NewConnection(ctx context.Context, cfg Config) (Connection, error) {
	driver := cfg.Driver
	if driver == "" || driver == "auto" {
		driver = DetectDriver(cfg.URL)
	}

	switch driver {
	case DriverPostgres:
		if openPostgres == nil {
			return nil, fmt.Errorf("postgres driver not linked into this binary")
		}
		return openPostgres(ctx, cfg)
	case DriverSQLite:
		if openSQLite == nil {
			return nil, fmt.Errorf("sqlite driver not linked into this binary")
		}
		return openSQLite(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// DefaultSQLitePath is where local mode keeps its data when no path
// is configured.
func DefaultSQLitePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".raylink", "data.db")
}

// EnsureDirectory creates the parent directory of path so opening a
// fresh SQLite file cannot fail on a missing directory.
func EnsureDirectory(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0755)
}

var (
	openPostgres func(ctx context.Context, cfg Config) (Connection, error)
	openSQLite   func(ctx context.Context, cfg Config) (Connection, error)
)

// RegisterPostgresDriver is called from the postgres package's init.
func RegisterPostgresDriver(fn func(ctx context.Context, cfg Config) (Connection, error)) {
	openPostgres = fn
}

// RegisterSQLiteDriver is called from the sqlite package's init.
func RegisterSQLiteDriver(fn func(ctx context.Context, cfg Config) (Connection, error)) {
	openSQLite = fn
}
