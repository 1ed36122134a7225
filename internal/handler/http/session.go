package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/storefront/internal/cartstore"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/middleware"
)

// SessionCookieName is the cookie carrying the browsing session ID.
const SessionCookieName = "storefront_session"

// SessionConfig controls the session cookie.
type SessionConfig struct {
	Secure bool
	// MaxAge of the cookie. Zero issues a browser-session cookie.
	MaxAge time.Duration
}

// SessionScope resolves the browsing session from its cookie, issuing a new
// one when the cookie is missing or malformed, and installs the session's
// cart store in the request context.
func SessionScope(registry *cartstore.Registry, cfg SessionConfig, base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, ok := sessionFromCookie(r)
			if !ok {
				sessionID = uuid.NewString()
				http.SetCookie(w, newSessionCookie(sessionID, cfg))
			}

			ctx := logger.WithSessionID(r.Context(), sessionID)
			r = middleware.Enrich(r.WithContext(ctx), base)

			store := registry.Store(r.Context(), sessionID)
			next.ServeHTTP(w, r.WithContext(cartstore.NewContext(r.Context(), store)))
		})
	}
}

func sessionFromCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", false
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func newSessionCookie(id string, cfg SessionConfig) *http.Cookie {
	c := &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if cfg.MaxAge > 0 {
		c.MaxAge = int(cfg.MaxAge / time.Second)
	}
	return c
}
