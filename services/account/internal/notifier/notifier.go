// Package notifier delivers account emails. Every transport renders the same
// templates and reports delivery failures to the caller; none of them retries
// on its own behalf except where the underlying transport client does.
package notifier

import (
	"context"
	"errors"

	"github.com/utafrali/storefront/services/account/internal/domain"
)

// Message is one email to an account holder.
type Message struct {
	To        string
	Kind      domain.TemplateKind
	FirstName string
	// Token is the raw one-time token for verification and reset messages.
	Token string
}

// Notifier sends a Message.
type Notifier interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

var (
	errNoRecipient  = errors.New("message has no recipient")
	errMissingToken = errors.New("message kind requires a token")
)

func (m Message) validate() error {
	if m.To == "" {
		return errNoRecipient
	}
	if !m.Kind.IsValid() {
		return errors.New("unknown template kind " + string(m.Kind))
	}
	if m.Kind.CarriesToken() && m.Token == "" {
		return errMissingToken
	}
	return nil
}
