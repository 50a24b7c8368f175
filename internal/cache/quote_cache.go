// Package cache keeps the latest quote per ticker in Redis so downstream
// consumers (dashboards, the notification service) can read prices without
// holding their own upstream subscription.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weqory/backend/internal/model"
)

const (
	quoteKeyPrefix     = "quote:"
	quoteHistoryPrefix = "quote_history:"
	quoteTTL           = 5 * time.Minute
	historyTTL         = 24 * time.Hour
	historyMaxLen      = 1440 // 24 hours of minute data
)

// QuoteCache handles quote caching in Redis
type QuoteCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewQuoteCache creates a new QuoteCache
func NewQuoteCache(client *redis.Client, logger *slog.Logger) *QuoteCache {
	return &QuoteCache{
		client: client,
		logger: logger,
	}
}

// Set stores the latest tick for its ticker
func (c *QuoteCache) Set(ctx context.Context, update model.ChangeUpdate) error {
	key := quoteKeyPrefix + string(update.Symbol)

	jsonData, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}

	if err := c.client.Set(ctx, key, jsonData, quoteTTL).Err(); err != nil {
		return fmt.Errorf("failed to set quote in cache: %w", err)
	}

	return nil
}

// Get retrieves the latest cached tick for ticker
func (c *QuoteCache) Get(ctx context.Context, ticker model.Ticker) (*model.ChangeUpdate, error) {
	key := quoteKeyPrefix + string(ticker)

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get quote from cache: %w", err)
	}

	var update model.ChangeUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return nil, fmt.Errorf("failed to unmarshal quote: %w", err)
	}
	return &update, nil
}

// Delete clears the stored quote for ticker, e.g. when its subscription is
// dropped.
func (c *QuoteCache) Delete(ctx context.Context, ticker model.Ticker) error {
	pipe := c.client.Pipeline()
	pipe.Del(ctx, quoteKeyPrefix+string(ticker))
	pipe.Del(ctx, quoteHistoryPrefix+string(ticker))
	_, err := pipe.Exec(ctx)
	return err
}

// AppendHistory pushes a tick onto the ticker's bounded price history list
func (c *QuoteCache) AppendHistory(ctx context.Context, update model.ChangeUpdate) error {
	key := quoteHistoryPrefix + string(update.Symbol)

	entry, err := json.Marshal(map[string]any{
		"price": update.LTP,
		"time":  update.LTT.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, historyMaxLen-1)
	pipe.Expire(ctx, key, historyTTL)
	_, err = pipe.Exec(ctx)
	return err
}
