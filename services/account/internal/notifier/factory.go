package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/services/account/internal/config"
)

// Deps are the shared clients a transport may need.
type Deps struct {
	// Publisher is required for the kafka transport.
	Publisher Publisher
	// BreakerMetrics may be nil.
	BreakerMetrics *httpclient.BreakerMetrics
	Logger         *slog.Logger
}

// New builds the Notifier selected by cfg.NotifierType.
func New(ctx context.Context, cfg *config.Config, deps Deps) (Notifier, error) {
	renderer, err := NewRenderer(cfg.AppBaseURL)
	if err != nil {
		return nil, err
	}

	switch cfg.NotifierType {
	case config.NotifierLog:
		return NewLogNotifier(renderer, deps.Logger), nil

	case config.NotifierKafka:
		if deps.Publisher == nil {
			return nil, errors.New("kafka notifier requires a publisher")
		}
		return NewKafkaNotifier(deps.Publisher, renderer, cfg.MailTopic, cfg.MailFrom), nil

	case config.NotifierSES:
		client, err := NewSESClient(ctx, SESConfig{
			Region:          cfg.SESRegion,
			AccessKeyID:     cfg.SESAccessKeyID,
			SecretAccessKey: cfg.SESSecretAccessKey,
			Endpoint:        cfg.SESEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("create ses client: %w", err)
		}
		return NewSESNotifier(client, renderer, cfg.MailFrom), nil

	case config.NotifierHTTP:
		clientCfg := httpclient.DefaultConfig()
		clientCfg.Timeout = cfg.MailGatewayTimeout
		clientCfg.MaxRetries = cfg.MailGatewayRetries
		client := httpclient.NewCircuitBreakerClient(
			httpclient.New(clientCfg),
			httpclient.DefaultCircuitBreakerConfig("mail-gateway"),
			deps.BreakerMetrics,
			deps.Logger,
		)
		return NewHTTPNotifier(client, renderer, cfg.MailGatewayURL, cfg.MailFrom), nil

	default:
		return nil, fmt.Errorf("unknown notifier type %q", cfg.NotifierType)
	}
}
