// Package storage defines the key-value snapshot boundary the cart store and
// the sign-in flow persist through.
package storage

import (
	"context"
	"time"
)

// Storage is a durable key-value store of opaque byte snapshots.
type Storage interface {
	// Get returns the value stored under key. A missing or expired key yields
	// an error satisfying errors.Is(err, apperrors.ErrNotFound).
	Get(ctx context.Context, key string) ([]byte, error)

	// Set overwrites the value under key. A zero ttl applies the driver's
	// default TTL; a negative ttl stores the value without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// CartItemsKey is the fixed per-session key a cart snapshot lives under.
const CartItemsKey = "cartItems"

// CartKey returns the storage key of a session's cart snapshot.
func CartKey(sessionID string) string {
	return "cart:" + sessionID + ":" + CartItemsKey
}

// OAuthStateKey returns the storage key of a pending sign-in.
func OAuthStateKey(state string) string {
	return "oauth:state:" + state
}

// ResolveTTL applies the Set ttl convention against a driver default. The
// result is zero when the value must not expire.
func ResolveTTL(ttl, def time.Duration) time.Duration {
	switch {
	case ttl > 0:
		return ttl
	case ttl < 0:
		return 0
	default:
		return def
	}
}
