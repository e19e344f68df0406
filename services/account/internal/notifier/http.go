package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/utafrali/storefront/pkg/httpclient"
)

// HTTPNotifier posts rendered emails to a mail gateway as JSON. The gateway
// must deduplicate on the Idempotency-Key header, since the transport client
// may replay a request.
type HTTPNotifier struct {
	client   httpclient.Doer
	renderer *Renderer
	url      string
	from     string
}

// NewHTTPNotifier creates an HTTPNotifier.
func NewHTTPNotifier(client httpclient.Doer, renderer *Renderer, url, from string) *HTTPNotifier {
	return &HTTPNotifier{client: client, renderer: renderer, url: url, from: from}
}

// Name returns the transport name.
func (n *HTTPNotifier) Name() string {
	return "http"
}

type gatewayRequest struct {
	From     string `json:"from"`
	Template string `json:"template"`
	Email
}

// Send renders msg and posts it to the gateway. Any non-2xx answer is a failure.
func (n *HTTPNotifier) Send(ctx context.Context, msg Message) error {
	email, err := n.renderer.Render(msg)
	if err != nil {
		return err
	}

	body, err := json.Marshal(gatewayRequest{From: n.from, Template: string(msg.Kind), Email: email})
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := n.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("mail gateway: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return httpclient.ParseResponseError(resp, "mail gateway")
	}
	_ = resp.Body.Close()
	return nil
}
