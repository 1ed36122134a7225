package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/utafrali/storefront/internal/storage"
	apperrors "github.com/utafrali/storefront/pkg/errors"
)

// Storage keeps snapshots in process memory. It is meant for development
// and tests; contents are lost on restart.
type Storage struct {
	store *gocache.Cache
	ttl   time.Duration
}

var _ storage.Storage = (*Storage)(nil)

// New creates an in-memory storage. ttl is the default expiry for Set calls
// with a zero ttl; cleanupInterval is how often expired keys are swept.
func New(ttl, cleanupInterval time.Duration) *Storage {
	return &Storage{
		store: gocache.New(gocache.NoExpiration, cleanupInterval),
		ttl:   ttl,
	}
}

// Get returns a copy of the value stored under key.
func (s *Storage) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.store.Get(key)
	if !ok {
		return nil, apperrors.NotFound("key", key)
	}
	return clone(v.([]byte)), nil
}

// Set stores a copy of value under key.
func (s *Storage) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	d := storage.ResolveTTL(ttl, s.ttl)
	if d == 0 {
		d = gocache.NoExpiration
	}
	s.store.Set(key, clone(value), d)
	return nil
}

// Delete removes key.
func (s *Storage) Delete(_ context.Context, key string) error {
	s.store.Delete(key)
	return nil
}

// Ping always succeeds.
func (s *Storage) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored keys, including expired ones not yet swept.
func (s *Storage) Len() int {
	return s.store.ItemCount()
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
