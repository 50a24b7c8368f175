package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weqory/backend/internal/model"
)

// triggeredChannel is the pub/sub channel any notification microservice
// (see cmd/notification) subscribes to for fired alerts.
const triggeredChannel = "alerts:triggered"

// RedisFanoutHandler republishes triggered alerts to Redis so an
// out-of-process notifier can consume them independently of the webhook
// sink.
type RedisFanoutHandler struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisFanoutHandler creates a RedisFanoutHandler.
func NewRedisFanoutHandler(client *redis.Client, logger *slog.Logger) *RedisFanoutHandler {
	return &RedisFanoutHandler{client: client, logger: logger}
}

type triggeredPayload struct {
	Alert       *model.Alert `json:"alert"`
	TriggeredAt time.Time    `json:"triggered_at"`
	Price       float64      `json:"price"`
}

func (h *RedisFanoutHandler) Handle(ctx context.Context, alert *model.Alert, update model.ChangeUpdate) error {
	payload, err := json.Marshal(triggeredPayload{
		Alert:       alert,
		TriggeredAt: time.Now(),
		Price:       update.LTP,
	})
	if err != nil {
		return fmt.Errorf("marshal triggered payload: %w", err)
	}

	if err := h.client.Publish(ctx, triggeredChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish triggered alert: %w", err)
	}
	return nil
}
