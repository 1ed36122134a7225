package cartstore

import (
	"context"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/utafrali/storefront/internal/storage"
)

// Registry owns the open stores of all sessions on this instance. A store
// unused for the idle TTL is dropped from memory; its snapshot stays in
// storage and is hydrated again on the next access.
type Registry struct {
	storage storage.Storage
	logger  *slog.Logger
	idleTTL time.Duration
	opts    []Option

	stores  *gocache.Cache
	opening singleflight.Group
}

// NewRegistry creates a registry. opts are applied to every store it opens.
func NewRegistry(st storage.Storage, l *slog.Logger, idleTTL time.Duration, opts ...Option) *Registry {
	r := &Registry{
		storage: st,
		logger:  l,
		idleTTL: idleTTL,
		opts:    opts,
		stores:  gocache.New(idleTTL, cleanupInterval(idleTTL)),
	}
	r.stores.OnEvicted(func(sessionID string, _ any) {
		openStores.Set(float64(r.stores.ItemCount()))
		r.logger.Debug("cart store evicted", slog.String("session_id", sessionID))
	})
	return r
}

func cleanupInterval(idle time.Duration) time.Duration {
	if d := idle / 2; d > time.Second {
		return d
	}
	return time.Second
}

// Store returns the open store of sessionID, opening and hydrating it on
// first use. Each access restarts the idle timer. Concurrent first accesses
// to one session share a single hydration; other sessions never wait on it.
func (r *Registry) Store(ctx context.Context, sessionID string) *Store {
	if s, ok := r.lookup(sessionID); ok {
		return s
	}

	v, _, _ := r.opening.Do(sessionID, func() (any, error) {
		if s, ok := r.lookup(sessionID); ok {
			return s, nil
		}
		opts := append([]Option{WithSessionID(sessionID)}, r.opts...)
		// Hydration is shared, so one caller giving up must not fail it.
		s := Open(context.WithoutCancel(ctx), r.storage, storage.CartKey(sessionID), r.logger, opts...)
		r.stores.SetDefault(sessionID, s)
		openStores.Set(float64(r.stores.ItemCount()))
		return s, nil
	})
	return v.(*Store)
}

func (r *Registry) lookup(sessionID string) (*Store, bool) {
	v, ok := r.stores.Get(sessionID)
	if !ok {
		return nil, false
	}
	s := v.(*Store)
	r.stores.SetDefault(sessionID, s)
	return s, true
}

// Evict drops the in-memory store of sessionID.
func (r *Registry) Evict(sessionID string) {
	r.stores.Delete(sessionID)
}

// Len returns the number of stores held in memory.
func (r *Registry) Len() int {
	return r.stores.ItemCount()
}

// Close drops every store. Snapshots are already in storage.
func (r *Registry) Close() {
	r.stores.Flush()
	openStores.Set(0)
}
