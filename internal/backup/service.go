// Package backup snapshots the SQLite store and ships the snapshot to
// S3-compatible object storage.
package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/crypto"
	"github.com/pavelzhukov/raylink/internal/shared/infrastructure/database"
)

// snapshotPrefix starts every backup object key. The timestamp that follows
// sorts lexicographically in upload order, which is what Prune relies on.
const snapshotPrefix = "raylink-"

// ErrUnsupportedDriver is returned when the store is not SQLite. Postgres
// deployments take base backups with their own tooling.
var ErrUnsupportedDriver = errors.New("backup requires the sqlite driver")

// Uploader ships snapshot files to object storage.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
	// Prune removes all but the newest keep snapshots. Returns how many
	// objects were removed.
	Prune(ctx context.Context, keep int) (int, error)
}

// Service produces consistent database snapshots on a schedule.
type Service struct {
	conn      database.Connection
	uploader  Uploader
	encrypter crypto.Encrypter
	keep      int
	logger    *slog.Logger
}

// ServiceConfig holds the dependencies for Service.
type ServiceConfig struct {
	Connection database.Connection
	Uploader   Uploader
	// Encrypter, when set, seals snapshots before upload. Keys then carry
	// a .enc suffix and restoring requires the same key.
	Encrypter crypto.Encrypter
	// Keep is how many snapshots to retain remotely. Zero keeps everything.
	Keep   int
	Logger *slog.Logger
}

// NewService creates a backup service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		conn:      cfg.Connection,
		uploader:  cfg.Uploader,
		encrypter: cfg.Encrypter,
		keep:      cfg.Keep,
		logger:    cfg.Logger,
	}
}

// Snapshot writes a consistent copy of the live database to a temp file,
// uploads it, and prunes old snapshots. VACUUM INTO produces a compacted
// copy of the committed state without taking the database offline. A failed
// prune does not fail the snapshot; the copy is already safe.
func (s *Service) Snapshot(ctx context.Context, now time.Time) (string, error) {
	if s.conn.Driver() != database.DriverSQLite {
		return "", ErrUnsupportedDriver
	}

	dir, err := os.MkdirTemp("", "raylink-backup-")
	if err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "snapshot.db")

	// VACUUM INTO takes a string literal, not a bound parameter.
	quoted := strings.ReplaceAll(path, "'", "''")
	if _, err := s.conn.Exec(ctx, "VACUUM INTO '"+quoted+"'"); err != nil {
		return "", fmt.Errorf("snapshot database: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat snapshot: %w", err)
	}

	key := snapshotPrefix + now.UTC().Format("20060102T150405Z") + ".db"
	var body io.Reader = f
	size := info.Size()
	if s.encrypter != nil {
		// Snapshots stay small (one row per account and window), so
		// sealing in memory is fine.
		plain, err := io.ReadAll(f)
		if err != nil {
			return "", fmt.Errorf("read snapshot: %w", err)
		}
		sealed, err := s.encrypter.Encrypt(plain)
		if err != nil {
			return "", fmt.Errorf("encrypt snapshot: %w", err)
		}
		body = bytes.NewReader(sealed)
		size = int64(len(sealed))
		key += ".enc"
	}

	if err := s.uploader.Upload(ctx, key, body, size); err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	s.logger.Info("database snapshot uploaded", "key", key, "bytes", size)

	if s.keep > 0 {
		removed, err := s.uploader.Prune(ctx, s.keep)
		if err != nil {
			s.logger.Warn("pruning old snapshots failed", "error", err)
		} else if removed > 0 {
			s.logger.Info("old snapshots pruned", "removed", removed, "kept", s.keep)
		}
	}

	return key, nil
}
