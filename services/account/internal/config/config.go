package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	pkgconfig "github.com/utafrali/storefront/pkg/config"
	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/tracing"
)

const defaultSigningKey = "change-this-to-a-secure-secret"

// Notifier transports.
const (
	NotifierLog   = "log"
	NotifierKafka = "kafka"
	NotifierSES   = "ses"
	NotifierHTTP  = "http"
)

// Config holds all configuration for the account service.
type Config struct {
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	HTTPPort        int           `env:"ACCOUNT_HTTP_PORT" envDefault:"8006"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// PostgreSQL
	PostgresHost       string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort       int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser       string        `env:"POSTGRES_USER" envDefault:"storefront"`
	PostgresPass       string        `env:"POSTGRES_PASSWORD" envDefault:"storefront_secret"`
	PostgresDB         string        `env:"ACCOUNT_DB_NAME" envDefault:"account_db"`
	PostgresSSL        string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	PostgresMaxConns   int32         `env:"POSTGRES_MAX_CONNS" envDefault:"20"`
	SlowQueryThreshold time.Duration `env:"SLOW_QUERY_THRESHOLD" envDefault:"200ms"`

	// Redis backs the request limiter. Disabled falls back to a per-replica limiter.
	RedisEnabled  bool   `env:"REDIS_ENABLED" envDefault:"false"`
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka carries domain events and, with NOTIFIER_TYPE=kafka, outbound mail.
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// One-time tokens
	VerificationTokenTTL time.Duration `env:"VERIFICATION_TOKEN_TTL" envDefault:"24h"`
	ResetTokenTTL        time.Duration `env:"RESET_TOKEN_TTL" envDefault:"10m"`
	AppBaseURL           string        `env:"APP_BASE_URL" envDefault:"http://localhost:3000"`
	TokenPepper          string        `env:"TOKEN_PEPPER"`

	// Session credential
	SessionSigningKey string        `env:"SESSION_SIGNING_KEY" envDefault:"change-this-to-a-secure-secret"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	SessionIssuer     string        `env:"SESSION_ISSUER" envDefault:"account-service"`

	BcryptCost int `env:"BCRYPT_COST" envDefault:"12"`

	// Notifier
	NotifierType       string        `env:"NOTIFIER_TYPE" envDefault:"log"`
	MailFrom           string        `env:"MAIL_FROM" envDefault:"no-reply@storefront.local"`
	MailTopic          string        `env:"MAIL_TOPIC" envDefault:"ecommerce.notification.email"`
	SESRegion          string        `env:"SES_REGION" envDefault:"eu-west-1"`
	SESAccessKeyID     string        `env:"SES_ACCESS_KEY_ID"`
	SESSecretAccessKey string        `env:"SES_SECRET_ACCESS_KEY"`
	SESEndpoint        string        `env:"SES_ENDPOINT"`
	MailGatewayURL     string        `env:"MAIL_GATEWAY_URL"`
	MailGatewayTimeout time.Duration `env:"MAIL_GATEWAY_TIMEOUT" envDefault:"5s"`
	MailGatewayRetries int           `env:"MAIL_GATEWAY_RETRIES" envDefault:"1"`

	// Abuse limiting, applied per client IP and per email address.
	RateLimitWindow         time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
	LoginAttemptsLimit      int           `env:"LOGIN_ATTEMPTS_LIMIT" envDefault:"10"`
	LoginEmailAttemptsLimit int           `env:"LOGIN_EMAIL_ATTEMPTS_LIMIT" envDefault:"5"`
	EmailRequestsLimit      int           `env:"EMAIL_REQUESTS_LIMIT" envDefault:"3"`

	// MaskedResponseFloor is the minimum latency of the endpoints that must
	// not reveal whether an address is registered.
	MaskedResponseFloor time.Duration `env:"MASKED_RESPONSE_FLOOR" envDefault:"750ms"`

	// TrustedProxies lists the CIDRs or addresses of load balancers whose
	// X-Forwarded-For is believed. Empty means the socket peer is the client.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load account config: %w", err)
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP port: %d", c.HTTPPort))
	}
	if c.VerificationTokenTTL <= 0 || c.ResetTokenTTL <= 0 || c.SessionTTL <= 0 {
		errs = append(errs, errors.New("token and session lifetimes must be positive"))
	}
	if c.LoginAttemptsLimit < 0 || c.LoginEmailAttemptsLimit < 0 || c.EmailRequestsLimit < 0 {
		errs = append(errs, errors.New("rate limits must not be negative"))
	}
	if c.MaskedResponseFloor < 0 {
		errs = append(errs, errors.New("MASKED_RESPONSE_FLOOR must not be negative"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}

	base, err := url.Parse(c.AppBaseURL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		errs = append(errs, fmt.Errorf("APP_BASE_URL must be an absolute http(s) URL, got %q", c.AppBaseURL))
	}

	if !slices.Contains([]string{NotifierLog, NotifierKafka, NotifierSES, NotifierHTTP}, c.NotifierType) {
		errs = append(errs, fmt.Errorf("unknown NOTIFIER_TYPE %q", c.NotifierType))
	}
	if c.NotifierType == NotifierKafka && !c.KafkaEnabled {
		errs = append(errs, errors.New("NOTIFIER_TYPE=kafka requires KAFKA_ENABLED=true"))
	}
	if c.NotifierType == NotifierHTTP && c.MailGatewayURL == "" {
		errs = append(errs, errors.New("NOTIFIER_TYPE=http requires MAIL_GATEWAY_URL"))
	}

	if !c.IsDevelopment() {
		if c.SessionSigningKey == defaultSigningKey {
			errs = append(errs, fmt.Errorf("SESSION_SIGNING_KEY must be explicitly set via environment variable in %q mode", c.Environment))
		} else if len(c.SessionSigningKey) < 32 {
			errs = append(errs, fmt.Errorf("SESSION_SIGNING_KEY must be at least 32 characters long, got %d", len(c.SessionSigningKey)))
		}
		if base != nil && base.Scheme != "https" {
			errs = append(errs, fmt.Errorf("APP_BASE_URL must use https in %q mode", c.Environment))
		}
		if c.NotifierType == NotifierLog {
			errs = append(errs, fmt.Errorf("NOTIFIER_TYPE=log is only allowed in development"))
		}
	}

	return errors.Join(errs...)
}

// PostgresConfig returns the pool settings for pkg/database.
func (c *Config) PostgresConfig() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.Host = c.PostgresHost
	pg.Port = c.PostgresPort
	pg.User = c.PostgresUser
	pg.Password = c.PostgresPass
	pg.DBName = c.PostgresDB
	pg.SSLMode = c.PostgresSSL
	pg.MaxConns = c.PostgresMaxConns
	return pg
}

// RedisConfig returns the client settings for pkg/database.
func (c *Config) RedisConfig() database.RedisConfig {
	rc := database.DefaultRedisConfig()
	rc.Host = c.RedisHost
	rc.Port = c.RedisPort
	rc.Password = c.RedisPassword
	rc.DB = c.RedisDB
	return rc
}

// TracingConfig returns the OpenTelemetry settings for pkg/tracing.
func (c *Config) TracingConfig(serviceName string) tracing.Config {
	tc := tracing.DefaultConfig(serviceName)
	tc.Environment = c.Environment
	tc.OTLPEndpoint = c.OTELEndpoint
	tc.SampleRate = c.OTELSampleRate
	tc.Enabled = c.OTELEnabled
	return tc
}
