package notifier

import (
	"context"
	"fmt"

	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
)

// EmailRequestedEvent is the event type consumed by the notification service.
const EmailRequestedEvent = "notification.email.requested"

// Publisher publishes an event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// EmailRequestedData is the payload of an EmailRequestedEvent.
type EmailRequestedData struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Template string `json:"template"`
	Subject  string `json:"subject"`
	Text     string `json:"text"`
	HTML     string `json:"html"`
}

// KafkaNotifier hands rendered emails to the notification service over Kafka.
// Send succeeds once the broker acknowledged the write.
type KafkaNotifier struct {
	publisher Publisher
	renderer  *Renderer
	topic     string
	from      string
}

// NewKafkaNotifier creates a KafkaNotifier.
func NewKafkaNotifier(publisher Publisher, renderer *Renderer, topic, from string) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, renderer: renderer, topic: topic, from: from}
}

// Name returns the transport name.
func (n *KafkaNotifier) Name() string {
	return "kafka"
}

// Send renders msg and publishes it keyed by recipient.
func (n *KafkaNotifier) Send(ctx context.Context, msg Message) error {
	email, err := n.renderer.Render(msg)
	if err != nil {
		return err
	}

	evt, err := pkgkafka.NewEvent(ctx, EmailRequestedEvent, email.To, "email", "account-service", EmailRequestedData{
		From:     n.from,
		To:       email.To,
		Template: string(msg.Kind),
		Subject:  email.Subject,
		Text:     email.Text,
		HTML:     email.HTML,
	})
	if err != nil {
		return fmt.Errorf("build email event: %w", err)
	}

	if err := n.publisher.Publish(ctx, n.topic, evt); err != nil {
		return fmt.Errorf("publish email event: %w", err)
	}
	return nil
}
