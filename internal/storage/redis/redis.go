package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/internal/storage"
	"github.com/utafrali/storefront/pkg/database"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Storage implements storage.Storage on Redis string keys.
type Storage struct {
	client redis.UniversalClient
	ttl    time.Duration
	tracer database.QueryTracer
}

var _ storage.Storage = (*Storage)(nil)

// New creates a Redis-backed storage. ttl is the default expiry applied when
// Set is called with a zero ttl; zero means no expiry.
func New(client redis.UniversalClient, ttl time.Duration) *Storage {
	return &Storage{
		client: client,
		ttl:    ttl,
		tracer: database.QueryTracer{System: database.SystemRedis},
	}
}

// WithSlowLog logs calls slower than threshold as warnings.
func (s *Storage) WithSlowLog(threshold time.Duration, logger *slog.Logger) *Storage {
	s.tracer.SlowThreshold = threshold
	s.tracer.Logger = logger
	return s
}

// Get retrieves the value stored under key.
func (s *Storage) Get(ctx context.Context, key string) (_ []byte, err error) {
	ctx, end := s.tracer.Trace(ctx, "get", "GET")
	defer func() { end(err) }()

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("key", key)
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Set writes value under key with SET ... EX.
func (s *Storage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) (err error) {
	ctx, end := s.tracer.Trace(ctx, "set", "SET")
	defer func() { end(err) }()

	if err = s.client.Set(ctx, key, value, storage.ResolveTTL(ttl, s.ttl)).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Storage) Delete(ctx context.Context, key string) (err error) {
	ctx, end := s.tracer.Trace(ctx, "delete", "DEL")
	defer func() { end(err) }()

	if err = s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Ping checks the connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
