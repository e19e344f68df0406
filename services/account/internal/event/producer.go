package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/services/account/internal/domain"
)

// Kafka topic constants for account domain events.
const (
	TopicAccountRegistered    = "ecommerce.account.registered"
	TopicAccountVerified      = "ecommerce.account.verified"
	TopicAccountPasswordReset = "ecommerce.account.password_reset"
)

// Aggregate type constant.
const AggregateTypeAccount = "account"

// Source identifier for events originating from the account service.
const SourceAccountService = "account-service"

// AccountRegisteredData is the payload for an account.registered event.
type AccountRegisteredData struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// AccountVerifiedData is the payload for an account.verified event.
type AccountVerifiedData struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	VerifiedAt time.Time `json:"verified_at"`
}

// AccountPasswordResetData is the payload for an account.password_reset event.
// It never carries the token.
type AccountPasswordResetData struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	ResetAt   time.Time `json:"reset_at"`
}

// Publisher publishes an event to a topic. *pkgkafka.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes account domain events. A Producer without a publisher
// drops every event, which is how the service runs with Kafka disabled.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the account service. kafka may be nil.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishAccountRegistered publishes an account.registered event.
func (p *Producer) PublishAccountRegistered(ctx context.Context, a *domain.Account) error {
	return p.publish(ctx, TopicAccountRegistered, a.ID, AccountRegisteredData{
		ID:        a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
	})
}

// PublishAccountVerified publishes an account.verified event.
func (p *Producer) PublishAccountVerified(ctx context.Context, a *domain.Account) error {
	return p.publish(ctx, TopicAccountVerified, a.ID, AccountVerifiedData{
		ID:         a.ID,
		Email:      a.Email,
		VerifiedAt: a.UpdatedAt,
	})
}

// PublishAccountPasswordReset publishes an account.password_reset event.
func (p *Producer) PublishAccountPasswordReset(ctx context.Context, a *domain.Account) error {
	return p.publish(ctx, TopicAccountPasswordReset, a.ID, AccountPasswordResetData{
		AccountID: a.ID,
		Email:     a.Email,
		ResetAt:   a.UpdatedAt,
	})
}

func (p *Producer) publish(ctx context.Context, topic, accountID string, data any) error {
	if p.kafka == nil {
		return nil
	}

	event, err := pkgkafka.NewEvent(ctx, topic, accountID, AggregateTypeAccount, SourceAccountService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("event_id", event.EventID),
		slog.String("account_id", accountID),
	)
	return nil
}
