// Package cartstore holds the per-session cart state container. A Store
// hydrates once from snapshot storage, writes the full cart back after every
// mutation and notifies its observers in commit order.
package cartstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/storage"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
)

// Op names the mutation that produced a Snapshot.
type Op string

const (
	OpAdd      Op = "add"
	OpIncrease Op = "increase"
	OpDecrease Op = "decrease"
	OpRemove   Op = "remove"
	OpClear    Op = "clear"
)

// Snapshot is an immutable view of a cart after a committed mutation.
type Snapshot struct {
	SessionID     string      `json:"session_id,omitempty"`
	Key           string      `json:"-"`
	Op            Op          `json:"op,omitempty"`
	Items         domain.Cart `json:"items"`
	TotalPrice    float64     `json:"total_price"`
	TotalQuantity int         `json:"total_quantity"`

	// Persisted is false when the write-through of this mutation failed.
	Persisted bool `json:"-"`
}

// Observer is notified after each committed mutation. Observers run while
// the store is locked and must not call its mutating methods.
type Observer func(ctx context.Context, snap Snapshot)

// Option configures a Store.
type Option func(*Store)

// WithSessionID tags snapshots and log lines with the owning session.
func WithSessionID(id string) Option {
	return func(s *Store) { s.sessionID = id }
}

// WithTTL sets the storage TTL of written snapshots. Zero uses the storage
// driver's default.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithObserver subscribes o from the start.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.subscribe(o) }
}

type subscription struct {
	id uint64
	fn Observer
}

// Store owns the cart of one browsing session.
type Store struct {
	storage   storage.Storage
	key       string
	sessionID string
	ttl       time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	cart      domain.Cart
	observers []subscription
	nextSubID uint64
}

// Open creates a store for key and hydrates it from st. A missing snapshot
// yields an empty cart. Read and parse failures are logged and also yield an
// empty cart; Open never fails.
func Open(ctx context.Context, st storage.Storage, key string, l *slog.Logger, opts ...Option) *Store {
	s := &Store{
		storage: st,
		key:     key,
		logger:  l,
		cart:    domain.Cart{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sessionID != "" {
		s.logger = s.logger.With(slog.String("session_id", s.sessionID))
	}

	s.cart = s.hydrate(ctx)
	return s
}

func (s *Store) hydrate(ctx context.Context) domain.Cart {
	log := logger.WithContext(ctx, s.logger)

	data, err := s.storage.Get(ctx, s.key)
	if err != nil {
		if apperrors.IsNotFound(err) {
			hydrationsTotal.WithLabelValues("miss").Inc()
			return domain.Cart{}
		}
		hydrationsTotal.WithLabelValues("read_error").Inc()
		log.WarnContext(ctx, "failed to read cart snapshot, starting empty",
			slog.String("key", s.key),
			slog.String("error", err.Error()),
		)
		return domain.Cart{}
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		hydrationsTotal.WithLabelValues("corrupt").Inc()
		log.WarnContext(ctx, "cart snapshot is not valid, starting empty",
			slog.String("key", s.key),
			slog.String("error", err.Error()),
		)
		return domain.Cart{}
	}

	hydrationsTotal.WithLabelValues("hit").Inc()
	cart = domain.Normalize(cart)
	log.DebugContext(ctx, "cart hydrated",
		slog.String("key", s.key),
		slog.Int("lines", len(cart)),
	)
	return cart
}

// Key returns the storage key the store persists under.
func (s *Store) Key() string {
	return s.key
}

// SessionID returns the owning session, if any.
func (s *Store) SessionID() string {
	return s.sessionID
}

// AddItem adds one unit of line.Name. An existing line has its quantity
// incremented and keeps its other fields; otherwise line is appended with
// quantity 1. Negative prices are stored as 0. A line without a name is
// ignored.
func (s *Store) AddItem(ctx context.Context, line domain.CartLine) Snapshot {
	return s.commit(ctx, OpAdd, func(c domain.Cart) (domain.Cart, bool) {
		if line.Name == "" {
			return c, false
		}
		if i := c.IndexOf(line.Name); i >= 0 {
			c[i].Quantity++
			return c, true
		}
		line.Price = domain.SanitizePrice(line.Price)
		line.Quantity = 1
		return append(c, line), true
	})
}

// IncreaseQuantity adds one to the named line. Unknown names are a no-op.
func (s *Store) IncreaseQuantity(ctx context.Context, name string) Snapshot {
	return s.commit(ctx, OpIncrease, func(c domain.Cart) (domain.Cart, bool) {
		i := c.IndexOf(name)
		if i < 0 {
			return c, false
		}
		c[i].Quantity++
		return c, true
	})
}

// DecreaseQuantity subtracts one from the named line, never going below 1.
// Unknown names and lines already at 1 are a no-op; use RemoveItem to drop a
// line.
func (s *Store) DecreaseQuantity(ctx context.Context, name string) Snapshot {
	return s.commit(ctx, OpDecrease, func(c domain.Cart) (domain.Cart, bool) {
		i := c.IndexOf(name)
		if i < 0 || c[i].Quantity <= 1 {
			return c, false
		}
		c[i].Quantity--
		return c, true
	})
}

// RemoveItem drops the named line. Unknown names are a no-op.
func (s *Store) RemoveItem(ctx context.Context, name string) Snapshot {
	return s.commit(ctx, OpRemove, func(c domain.Cart) (domain.Cart, bool) {
		i := c.IndexOf(name)
		if i < 0 {
			return c, false
		}
		return append(c[:i], c[i+1:]...), true
	})
}

// Clear empties the cart and persists the empty snapshot.
func (s *Store) Clear(ctx context.Context) Snapshot {
	return s.commit(ctx, OpClear, func(domain.Cart) (domain.Cart, bool) {
		return domain.Cart{}, true
	})
}

// Items returns a copy of the current lines.
func (s *Store) Items() domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Clone()
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked("")
}

// TotalPrice is Σ price × quantity over the current lines.
func (s *Store) TotalPrice() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.TotalPrice()
}

// TotalQuantity is Σ quantity over the current lines.
func (s *Store) TotalQuantity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.TotalQuantity()
}

// Subscribe registers o and returns a func that unregisters it.
func (s *Store) Subscribe(o Observer) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.subscribe(o)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.observers {
				if sub.id == id {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *Store) subscribe(o Observer) uint64 {
	s.nextSubID++
	s.observers = append(s.observers, subscription{id: s.nextSubID, fn: o})
	return s.nextSubID
}

// commit applies fn to a copy of the cart. When fn reports a change the copy
// becomes the cart, is written to storage and observers are notified, all
// under the store lock so mutations never interleave.
func (s *Store) commit(ctx context.Context, op Op, fn func(domain.Cart) (domain.Cart, bool)) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, changed := fn(s.cart.Clone())
	if !changed {
		return s.snapshotLocked("")
	}
	s.cart = next
	mutationsTotal.WithLabelValues(string(op)).Inc()

	snap := s.snapshotLocked(op)
	snap.Persisted = s.persistLocked(ctx, op)

	for _, sub := range s.observers {
		s.notify(ctx, sub.fn, snap)
	}
	return snap
}

func (s *Store) persistLocked(ctx context.Context, op Op) bool {
	data, err := json.Marshal(s.cart)
	if err == nil {
		err = s.storage.Set(ctx, s.key, data, s.ttl)
	}
	if err != nil {
		persistFailuresTotal.Inc()
		logger.WithContext(ctx, s.logger).ErrorContext(ctx, "failed to persist cart snapshot",
			slog.String("key", s.key),
			slog.String("op", string(op)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (s *Store) notify(ctx context.Context, fn Observer, snap Snapshot) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.WithContext(ctx, s.logger).ErrorContext(ctx, "cart observer panicked",
				slog.String("op", string(snap.Op)),
				slog.String("panic", fmt.Sprint(rec)),
			)
		}
	}()
	// Each observer gets its own copy of the lines.
	snap.Items = snap.Items.Clone()
	fn(ctx, snap)
}

func (s *Store) snapshotLocked(op Op) Snapshot {
	return Snapshot{
		SessionID:     s.sessionID,
		Key:           s.key,
		Op:            op,
		Items:         s.cart.Clone(),
		TotalPrice:    s.cart.TotalPrice(),
		TotalQuantity: s.cart.TotalQuantity(),
		Persisted:     true,
	}
}
