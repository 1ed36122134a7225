package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/internal/auth"
	"github.com/utafrali/storefront/internal/cartstore"
	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/internal/event"
	handler "github.com/utafrali/storefront/internal/handler/http"
	"github.com/utafrali/storefront/internal/storage"
	"github.com/utafrali/storefront/internal/storage/memory"
	pgstorage "github.com/utafrali/storefront/internal/storage/postgres"
	redisstorage "github.com/utafrali/storefront/internal/storage/redis"
	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/health"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/tracing"
)

// ServiceName identifies the service in logs, metrics and traces.
const ServiceName = "storefront"

const (
	janitorInterval   = 10 * time.Minute
	slowStorageCall   = 100 * time.Millisecond
	memoryCleanup     = time.Minute
	shutdownTimeout   = 10 * time.Second
	dependencyTimeout = 10 * time.Second
)

// App wires together all dependencies and runs the storefront service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	rdb       *redis.Client
	pool      *pgxpool.Pool
	producer  *pkgkafka.Producer
	publisher *event.Publisher
	registry  *cartstore.Registry

	stopJanitor    context.CancelFunc
	shutdownTracer func(context.Context) error

	httpServer *http.Server
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dependencyTimeout)
	defer cancel()

	a := &App{
		cfg:         cfg,
		logger:      logger,
		stopJanitor: func() {},
	}

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing(ServiceName))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.shutdownTracer = shutdownTracer

	healthHandler := health.NewHandler()

	st, err := a.openStorage(ctx, healthHandler)
	if err != nil {
		a.closeDependencies(context.Background())
		return nil, err
	}

	// Cart events are optional; without them mutations only reach storage.
	var storeOpts []cartstore.Option
	storeOpts = append(storeOpts, cartstore.WithTTL(cfg.CartSnapshotTTL()))
	if cfg.EventsEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		a.publisher = event.NewPublisher(event.NewProducer(a.producer, logger), logger, cfg.EventBufferSize)
		storeOpts = append(storeOpts, cartstore.WithObserver(a.publisher.Observe))
		healthHandler.Register("kafka", a.producer.Ping)
		logger.Info("cart events enabled", slog.Any("brokers", cfg.KafkaBrokers))
	}

	a.registry = cartstore.NewRegistry(st, logger, cfg.SessionIdleTTL(), storeOpts...)

	tokens := auth.NewJWTManager(a.jwtSecret(), cfg.JWTExpiry())
	var authOpts []auth.Option
	if cfg.TwitterEnabled() {
		authOpts = append(authOpts, auth.WithProvider(auth.NewTwitterProvider(auth.TwitterConfig{
			ClientID:     cfg.TwitterClientID,
			ClientSecret: cfg.TwitterClientSecret,
			CallbackURL:  cfg.TwitterCallbackURL,
		})))
	}
	authService := auth.NewService(st, tokens, logger, authOpts...)
	logger.Info("sign-in providers", slog.Any("providers", authService.Providers()))

	router := handler.NewRouter(handler.RouterDeps{
		ServiceName: ServiceName,
		Registry:    a.registry,
		Auth:        authService,
		Tokens:      tokens,
		Health:      healthHandler,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   cfg.RateLimit(),
		Session: handler.SessionConfig{
			Secure: cfg.CookieSecure,
			MaxAge: cfg.CartSnapshotTTL(),
		},
	})

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a, nil
}

// openStorage connects the configured snapshot storage driver and registers
// its readiness check.
func (a *App) openStorage(ctx context.Context, h *health.Handler) (storage.Storage, error) {
	ttl := a.cfg.CartSnapshotTTL()

	switch a.cfg.StorageDriver {
	case config.DriverRedis:
		rcfg := database.DefaultRedisConfig()
		rcfg.Addr = a.cfg.RedisAddr
		rcfg.Password = a.cfg.RedisPass
		rcfg.DB = a.cfg.RedisDB

		rdb, err := database.NewRedisClient(ctx, rcfg)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.rdb = rdb
		a.logger.Info("connected to Redis",
			slog.String("addr", a.cfg.RedisAddr),
			slog.Int("db", a.cfg.RedisDB),
		)
		st := redisstorage.New(rdb, ttl).WithSlowLog(slowStorageCall, a.logger)
		h.Register("redis", st.Ping)
		return st, nil

	case config.DriverPostgres:
		pcfg := database.DefaultPostgresConfig(a.cfg.PostgresURL)
		pcfg.MaxConns = a.cfg.PostgresMaxConns

		pool, err := database.NewPostgresPool(ctx, pcfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		a.pool = pool
		if err := pgstorage.Migrate(ctx, pool, a.logger); err != nil {
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, ServiceName); err != nil {
			return nil, fmt.Errorf("register pool metrics: %w", err)
		}
		st := pgstorage.New(pool, ttl).WithSlowLog(slowStorageCall, a.logger)

		janitorCtx, stop := context.WithCancel(context.Background())
		a.stopJanitor = stop
		go st.RunJanitor(janitorCtx, janitorInterval, a.logger)

		h.Register("postgres", st.Ping)
		return st, nil

	case config.DriverMemory:
		a.logger.Warn("using in-memory snapshot storage; carts are lost on restart")
		st := memory.New(ttl, memoryCleanup)
		h.Register("memory", st.Ping)
		return st, nil
	}

	return nil, fmt.Errorf("unknown storage driver %q", a.cfg.StorageDriver)
}

// jwtSecret returns the configured secret. Development runs without one get
// a random per-process secret, so tokens do not survive a restart.
func (a *App) jwtSecret() string {
	if a.cfg.JWTSecret != "" {
		return a.cfg.JWTSecret
	}
	a.logger.Warn("JWT_SECRET not set; using an ephemeral development secret")
	return uuid.NewString()
}

// Handler returns the HTTP handler serving the storefront API.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	// No request can mutate a cart past this point.
	a.registry.Close()

	a.closeDependencies(shutdownCtx)

	a.logger.Info("application shutdown complete")
	return nil
}

func (a *App) closeDependencies(ctx context.Context) {
	a.stopJanitor()

	if a.publisher != nil {
		if err := a.publisher.Close(ctx); err != nil {
			a.logger.Error("event publisher close error", slog.String("error", err.Error()))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}
}
