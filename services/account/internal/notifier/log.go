package notifier

import (
	"context"
	"log/slog"

	"github.com/utafrali/storefront/pkg/logger"
)

// LogNotifier records messages in the log instead of delivering them. It is
// meant for local development and never writes the link or the token.
type LogNotifier struct {
	renderer *Renderer
	logger   *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(renderer *Renderer, logger *slog.Logger) *LogNotifier {
	return &LogNotifier{renderer: renderer, logger: logger}
}

// Name returns the transport name.
func (n *LogNotifier) Name() string {
	return "log"
}

// Send renders msg and logs its envelope.
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	email, err := n.renderer.Render(msg)
	if err != nil {
		return err
	}

	logger.WithContext(ctx, n.logger).InfoContext(ctx, "email suppressed by log notifier",
		slog.String("to", email.To),
		slog.String("template", string(msg.Kind)),
		slog.String("subject", email.Subject),
	)
	return nil
}
