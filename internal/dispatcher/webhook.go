package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/weqory/backend/internal/model"
)

// WebhookHandler POSTs {"alert": <alert>} to a configured URL. Non-2xx
// responses are logged and dropped (best-effort); a retry policy is out of
// scope but the Handler interface is the seam a future one would plug into.
type WebhookHandler struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler posting to url.
func NewWebhookHandler(url string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		url:    url,
		client: &http.Client{Timeout: 20 * time.Second},
		logger: logger,
	}
}

type webhookPayload struct {
	Alert *model.Alert `json:"alert"`
}

func (h *WebhookHandler) Handle(ctx context.Context, alert *model.Alert, update model.ChangeUpdate) error {
	body, err := json.Marshal(webhookPayload{Alert: alert})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		h.logger.Warn("webhook handler got non-2xx response",
			slog.Int64("alert_id", alert.ID),
			slog.Int("status", resp.StatusCode),
		)
	}
	return nil
}
