package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httpclient"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/pkg/tracing"
	"github.com/utafrali/storefront/services/account/internal/auth"
	"github.com/utafrali/storefront/services/account/internal/config"
	"github.com/utafrali/storefront/services/account/internal/event"
	handler "github.com/utafrali/storefront/services/account/internal/handler/http"
	"github.com/utafrali/storefront/services/account/internal/metrics"
	"github.com/utafrali/storefront/services/account/internal/notifier"
	"github.com/utafrali/storefront/services/account/internal/ratelimit"
	"github.com/utafrali/storefront/services/account/internal/repository/postgres"
	"github.com/utafrali/storefront/services/account/internal/service"
	"github.com/utafrali/storefront/services/account/internal/token"
	"github.com/utafrali/storefront/services/account/migrations"
)

// ServiceName identifies the account service in logs, metrics and traces.
const ServiceName = "account-service"

// App wires together all dependencies and runs the account service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeClients()
		}
	}()

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.InitTracer(ctx, cfg.TracingConfig(ServiceName))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize PostgreSQL connection pool.
	pgCfg := cfg.PostgresConfig()
	a.pool, err = database.NewPostgresPool(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(registry, a.pool, ServiceName); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, a.pool, migrations.FS, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThreshold > 0 {
		database.SetSlowQueryLogging(cfg.SlowQueryThreshold, logger)
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", a.pool.Ping)

	// Initialize Kafka producer. The event producer needs an untyped nil when
	// Kafka is off so that it drops events.
	var eventPublisher event.Publisher
	var mailPublisher notifier.Publisher
	if cfg.KafkaEnabled {
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		eventPublisher, mailPublisher = a.producer, a.producer
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}

	// Request limiter: Redis when available, otherwise per replica.
	proxies, err := ratelimit.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse TRUSTED_PROXIES: %w", err)
	}
	var limiter ratelimit.Limiter = ratelimit.NewLocalLimiter()
	if cfg.RedisEnabled {
		a.redis, err = database.NewRedisClient(ctx, cfg.RedisConfig())
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		limiter = ratelimit.NewRedisLimiter(a.redis)
		healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
		logger.Info("connected to Redis", slog.String("addr", cfg.RedisConfig().Addr()))
	}

	mailer, err := notifier.New(ctx, cfg, notifier.Deps{
		Publisher:      mailPublisher,
		BreakerMetrics: httpclient.NewBreakerMetrics(registry),
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create notifier: %w", err)
	}
	logger.Info("notifier initialized", slog.String("transport", mailer.Name()))

	// Build the dependency graph.
	sessions := auth.NewSessionManager(cfg.SessionSigningKey, cfg.SessionTTL, cfg.SessionIssuer)
	accountRepo := postgres.NewAccountRepository(a.pool)
	accountService := service.NewAccountService(
		accountRepo,
		mailer,
		event.NewProducer(eventPublisher, logger),
		service.NewBcryptHasher(cfg.BcryptCost),
		sessions,
		token.NewHasher(cfg.TokenPepper),
		service.Config{
			VerificationTTL: cfg.VerificationTokenTTL,
			ResetTTL:        cfg.ResetTokenTTL,
		},
		metrics.New(registry),
		logger,
	)

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		ServiceName: ServiceName,
		Service:     accountService,
		Sessions:    sessions,
		Guard:       ratelimit.NewGuard(limiter, logger).WithTrustedProxies(proxies),
		Limits: handler.Limits{
			PerIP:         ratelimit.Rule{Name: "auth-ip", Limit: cfg.LoginAttemptsLimit, Window: cfg.RateLimitWindow},
			PerEmail:      ratelimit.Rule{Name: "auth-email", Limit: cfg.EmailRequestsLimit, Window: cfg.RateLimitWindow},
			LoginPerEmail: ratelimit.Rule{Name: "auth-login-email", Limit: cfg.LoginEmailAttemptsLimit, Window: cfg.RateLimitWindow},
		},
		Health:   healthHandler,
		Metrics:  middleware.NewHTTPMetrics(registry, ServiceName),
		Gatherer: registry,
		CORS:     cors,
		Logger:   logger,

		MaskedResponseFloor: cfg.MaskedResponseFloor,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
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
		return errors.Join(err, a.Shutdown())
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3-5. Close clients.
	if err := a.closeClients(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeClients() error {
	var errs []error

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.pool != nil {
		a.pool.Close()
	}

	return errors.Join(errs...)
}
