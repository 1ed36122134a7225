package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront/internal/auth"
	"github.com/utafrali/storefront/internal/cartstore"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/middleware"
)

// RouterDeps are the collaborators the router wires into handlers.
type RouterDeps struct {
	ServiceName string
	Registry    *cartstore.Registry
	Auth        *auth.Service
	Tokens      *auth.JWTManager
	Health      *health.Handler
	Logger      *slog.Logger
	CORSOrigins []string
	Session     SessionConfig
	RateLimit   middleware.RateLimitConfig
}

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogging(d.Logger))
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(d.CORSOrigins)))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.PrometheusMetrics(d.ServiceName))
	r.Use(middleware.Tracing(d.ServiceName))
	r.Use(middleware.RequestLogger(d.Logger))

	// Health check endpoints
	r.Get("/health/live", d.Health.LivenessHandler())
	r.Get("/health/ready", d.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	// One limiter per client across every route that writes to storage.
	limit := middleware.RateLimit(d.RateLimit, d.Logger)

	cartHandler := NewCartHandler(d.Logger)
	authHandler := NewAuthHandler(d.Auth, d.Session.Secure, d.Logger)

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(middleware.CacheControl(middleware.NoStore))
		r.Use(limit)
		r.Use(ContentTypeJSON)
		r.Use(SessionScope(d.Registry, d.Session, d.Logger))

		r.Get("/", cartHandler.GetCart)
		r.Delete("/", cartHandler.ClearCart)

		r.Post("/items", cartHandler.AddItem)
		r.Post("/items/{name}/increase", cartHandler.IncreaseQuantity)
		r.Post("/items/{name}/decrease", cartHandler.DecreaseQuantity)
		r.Delete("/items/{name}", cartHandler.RemoveItem)
	})

	r.Route(authPathPrefix, func(r chi.Router) {
		r.Use(middleware.CacheControl(middleware.NoStore))

		r.Get("/providers", authHandler.ListProviders)
		r.With(limit).Get("/{provider}/begin", authHandler.Begin)
		r.Get("/{provider}/callback", authHandler.Callback)
		r.With(middleware.Auth(d.Tokens.TokenValidator())).Get("/me", authHandler.Me)
	})

	return r
}
