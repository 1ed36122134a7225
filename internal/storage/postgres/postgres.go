package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/storefront/internal/storage"
	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DB is the subset of *pgxpool.Pool the storage needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const (
	getQuery = `SELECT value FROM storage_snapshots
		WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())`

	upsertQuery = `INSERT INTO storage_snapshots (key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = NOW()`

	deleteQuery = `DELETE FROM storage_snapshots WHERE key = $1`

	purgeQuery = `DELETE FROM storage_snapshots WHERE expires_at IS NOT NULL AND expires_at <= NOW()`
)

// Storage implements storage.Storage on the storage_snapshots table.
type Storage struct {
	db     DB
	ttl    time.Duration
	now    func() time.Time
	tracer database.QueryTracer
}

var _ storage.Storage = (*Storage)(nil)

// New creates a PostgreSQL-backed storage. ttl is the default expiry for
// Set calls with a zero ttl.
func New(db DB, ttl time.Duration) *Storage {
	return &Storage{
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		tracer: database.QueryTracer{System: database.SystemPostgres},
	}
}

// WithSlowLog logs calls slower than threshold as warnings.
func (s *Storage) WithSlowLog(threshold time.Duration, logger *slog.Logger) *Storage {
	s.tracer.SlowThreshold = threshold
	s.tracer.Logger = logger
	return s
}

// Migrate creates the storage_snapshots table.
func Migrate(ctx context.Context, db database.DBTX, logger *slog.Logger) error {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	return database.RunMigrations(ctx, db, sub, logger)
}

// Get retrieves the unexpired value stored under key.
func (s *Storage) Get(ctx context.Context, key string) (_ []byte, err error) {
	ctx, end := s.tracer.Trace(ctx, "get", getQuery)
	defer func() { end(err) }()

	var value []byte
	err = s.db.QueryRow(ctx, getQuery, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("key", key)
		}
		return nil, fmt.Errorf("select snapshot %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value under key.
func (s *Storage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	ctx, end := s.tracer.Trace(ctx, "upsert", upsertQuery)
	defer func() { end(err) }()

	var expiresAt *time.Time
	if d := storage.ResolveTTL(ttl, s.ttl); d > 0 {
		t := s.now().Add(d).UTC()
		expiresAt = &t
	}

	if _, err = s.db.Exec(ctx, upsertQuery, key, value, expiresAt); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Storage) Delete(ctx context.Context, key string) (err error) {
	ctx, end := s.tracer.Trace(ctx, "delete", deleteQuery)
	defer func() { end(err) }()

	if _, err = s.db.Exec(ctx, deleteQuery, key); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// PurgeExpired deletes expired rows and returns how many were removed.
// Expired rows are already invisible to Get.
func (s *Storage) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, purgeQuery)
	if err != nil {
		return 0, fmt.Errorf("purge expired snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RunJanitor calls PurgeExpired every interval until ctx is done.
func (s *Storage) RunJanitor(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				logger.WarnContext(ctx, "snapshot purge failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.InfoContext(ctx, "purged expired snapshots", slog.Int64("count", n))
			}
		}
	}
}
