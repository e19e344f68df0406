package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/services/account/internal/auth"
	"github.com/utafrali/storefront/services/account/internal/ratelimit"
	"github.com/utafrali/storefront/services/account/internal/service"
)

// Limits are the throttling rules of the public auth endpoints.
type Limits struct {
	// PerIP applies to every credential or token submitting endpoint.
	PerIP ratelimit.Rule
	// PerEmail applies to endpoints that send an email to the given address.
	PerEmail ratelimit.Rule
	// LoginPerEmail caps login attempts against one address from any number
	// of client addresses.
	LoginPerEmail ratelimit.Rule
}

// RouterConfig carries the router dependencies. Metrics and Gatherer may be nil.
type RouterConfig struct {
	ServiceName string
	Service     *service.AccountService
	Sessions    *auth.SessionManager
	Guard       *ratelimit.Guard
	Limits      Limits
	Health      *health.Handler
	Metrics     *middleware.HTTPMetrics
	Gatherer    prometheus.Gatherer
	CORS        middleware.CORSConfig
	Logger      *slog.Logger

	// MaskedResponseFloor is the minimum latency of resend-verification and
	// forgot-password. Zero disables it.
	MaskedResponseFloor time.Duration
}

// NewRouter creates a chi router with all account service routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	perIP := cfg.Guard.PerIP(cfg.Limits.PerIP)

	// Auth endpoints (public)
	authHandler := NewAuthHandler(cfg.Service, cfg.Guard, cfg.Limits, cfg.Logger)
	authHandler.maskFloor = cfg.MaskedResponseFloor
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Get("/verify-email", authHandler.VerifyEmailLink)

		r.Group(func(r chi.Router) {
			r.Use(ContentTypeJSON)
			r.Use(perIP)

			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/verify-email", authHandler.VerifyEmail)
			r.Post("/resend-verification", authHandler.ResendVerification)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
		})
	})

	// Account endpoints (auth required)
	accountHandler := NewAccountHandler(cfg.Service, cfg.Logger)
	r.Route("/api/v1/accounts", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(cfg.Sessions.Validate))

		r.Get("/me", accountHandler.GetMe)
		r.Put("/me/password", accountHandler.ChangePassword)
	})

	return r
}
