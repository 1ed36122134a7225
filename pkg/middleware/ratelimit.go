package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/logger"
)

// RateLimitConfig sets the per-client token bucket. A non-positive RPS
// disables limiting.
type RateLimitConfig struct {
	RPS   float64
	Burst int
	// IdleTTL drops the limiter of a client not seen for this long.
	IdleTTL time.Duration
}

// Enabled reports whether the config limits anything.
func (c RateLimitConfig) Enabled() bool {
	return c.RPS > 0
}

// visitors hands out one limiter per client IP. Entries expire after the
// idle TTL.
type visitors struct {
	cfg     RateLimitConfig
	clients *gocache.Cache
}

func newVisitors(cfg RateLimitConfig) *visitors {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 3 * time.Minute
	}
	return &visitors{
		cfg:     cfg,
		clients: gocache.New(cfg.IdleTTL, cfg.IdleTTL),
	}
}

func (v *visitors) limiter(ip string) *rate.Limiter {
	if l, ok := v.clients.Get(ip); ok {
		v.clients.SetDefault(ip, l)
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Limit(v.cfg.RPS), v.cfg.Burst)
	if err := v.clients.Add(ip, l, gocache.DefaultExpiration); err != nil {
		// Lost the race; use the limiter that won.
		if existing, ok := v.clients.Get(ip); ok {
			return existing.(*rate.Limiter)
		}
	}
	return l
}

// RateLimit enforces a per-IP token bucket and answers 429 when a client
// exceeds it.
func RateLimit(cfg RateLimitConfig, l *slog.Logger) func(http.Handler) http.Handler {
	if !cfg.Enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	store := newVisitors(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !store.limiter(ip).Allow() {
				l.WarnContext(r.Context(), "rate limit exceeded",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				w.Header().Set("Retry-After", "1")
				httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:      "RATE_LIMITED",
						Message:   "too many requests",
						RequestID: logger.CorrelationIDFromContext(r.Context()),
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers the first valid address of X-Forwarded-For, then
// X-Real-IP, then RemoteAddr without its port.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
				return ip.String()
			}
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
