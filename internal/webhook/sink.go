// Package webhook delivers order payloads to the configured execution
// endpoint. Delivery is best-effort: strategy state is already committed
// by the time a payload is sent, failures are logged by the caller and
// never rolled back.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/quantpulse-lab/pulse-trading/internal/types"
	"github.com/quantpulse-lab/pulse-trading/pkg/errors"
)

const requestTimeout = 10 * time.Second

// Sink sends one order payload to an execution endpoint.
type Sink interface {
	Send(ctx context.Context, url string, payload types.WebhookPayload) error
}

// HTTPSink posts payloads as JSON.
type HTTPSink struct {
	client *http.Client
}

var _ Sink = (*HTTPSink)(nil)

func NewHTTPSink() *HTTPSink {
	return &HTTPSink{
		client: &http.Client{Timeout: requestTimeout},
	}
}

// Send posts the payload. A strategy without a webhook URL is valid; the
// send is silently skipped.
func (s *HTTPSink) Send(ctx context.Context, url string, payload types.WebhookPayload) error {
	if url == "" {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(errors.ErrCodeWebhookFailed, "failed to encode payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.ErrCodeWebhookFailed, "failed to build request", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrCodeWebhookFailed, "failed to deliver payload", err)
	}

	defer resp.Body.Close()

	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		return errors.Newf(errors.ErrCodeWebhookFailed, "webhook returned status %d", resp.StatusCode)
	}

	return nil
}
