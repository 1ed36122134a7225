package cartstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrOutsideScope reports cart access from code that runs outside the
// session scope, which is a wiring defect rather than a runtime condition.
var ErrOutsideScope = errors.New("cart store used outside of its session scope")

type contextKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s *Store) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the store carried by ctx.
func FromContext(ctx context.Context) (*Store, bool) {
	s, ok := ctx.Value(contextKey{}).(*Store)
	return s, ok && s != nil
}

// MustFromContext returns the store carried by ctx and panics with an error
// wrapping ErrOutsideScope when there is none.
func MustFromContext(ctx context.Context) *Store {
	s, ok := FromContext(ctx)
	if !ok {
		panic(fmt.Errorf("%w: no cart store in request context, route is not behind the session middleware", ErrOutsideScope))
	}
	return s
}
