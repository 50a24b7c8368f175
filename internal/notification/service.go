// Package notification is the out-of-process trigger notifier: it consumes
// fired alerts from the dispatcher's Redis fan-out channel and delivers
// webhook notifications with rate limiting and bounded retries.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weqory/backend/internal/model"
)

const (
	// Rate limiting
	userRateLimitWindow  = 1 * time.Minute
	userMaxNotifications = 10 // per minute per user

	// Global rate limiting for the downstream webhook endpoint
	globalRateLimitWindow  = 1 * time.Second
	globalMaxNotifications = 30 // per second

	// Retry settings
	maxRetries     = 3
	retryBaseDelay = 1 * time.Second

	// Redis keys
	userRateLimitKey   = "notification:rate:user:"
	globalRateLimitKey = "notification:rate:global"

	webhookTimeout = 20 * time.Second
)

// TriggerEvent is the payload the dispatcher publishes for a fired alert.
type TriggerEvent struct {
	Alert       *model.Alert `json:"alert"`
	TriggeredAt time.Time    `json:"triggered_at"`
	Price       float64      `json:"price"`
}

// Service delivers trigger notifications to the configured webhook with
// per-user and global rate limiting.
type Service struct {
	redis      *redis.Client
	httpClient *http.Client
	webhookURL string
	logger     *slog.Logger

	// Metrics
	sentCount   int64
	failedCount int64
	rateLimited int64
	mu          sync.RWMutex

	done chan struct{}
}

// NewService creates a notification Service posting to webhookURL.
func NewService(redisClient *redis.Client, webhookURL string, logger *slog.Logger) *Service {
	return &Service{
		redis:      redisClient,
		httpClient: &http.Client{Timeout: webhookTimeout},
		webhookURL: webhookURL,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// SendNotification delivers one trigger event, honoring the per-user and
// global rate limits and retrying transient failures with exponential
// backoff.
func (s *Service) SendNotification(ctx context.Context, event TriggerEvent) error {
	allowed, err := s.checkUserRateLimit(ctx, event.Alert.UserID)
	if err != nil {
		s.logger.Error("rate limit check failed",
			slog.Int64("user_id", event.Alert.UserID),
			slog.String("error", err.Error()),
		)
		// Continue anyway - better to send than to fail silently
	} else if !allowed {
		s.mu.Lock()
		s.rateLimited++
		s.mu.Unlock()

		s.logger.Warn("user rate limited", slog.Int64("user_id", event.Alert.UserID))
		return fmt.Errorf("user rate limited")
	}

	globalAllowed, err := s.checkGlobalRateLimit(ctx)
	if err != nil {
		s.logger.Error("global rate limit check failed", slog.String("error", err.Error()))
	} else if !globalAllowed {
		// Over the global limit: pause briefly, then send without re-checking
		time.Sleep(100 * time.Millisecond)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return fmt.Errorf("service stopped")
		default:
		}

		err := s.postWebhook(ctx, event)
		if err == nil {
			s.mu.Lock()
			s.sentCount++
			s.mu.Unlock()
			return nil
		}
		lastErr = err

		delay := retryBaseDelay * time.Duration(1<<attempt)
		s.logger.Warn("notification failed, retrying",
			slog.Int64("alert_id", event.Alert.ID),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		time.Sleep(delay)
	}

	s.mu.Lock()
	s.failedCount++
	s.mu.Unlock()

	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

// postWebhook delivers the event payload. A non-2xx status is an error so
// the retry loop engages.
func (s *Service) postWebhook(ctx context.Context, event TriggerEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal trigger event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// checkUserRateLimit checks if user is within rate limit
func (s *Service) checkUserRateLimit(ctx context.Context, userID int64) (bool, error) {
	key := fmt.Sprintf("%s%d", userRateLimitKey, userID)
	now := time.Now().UnixMilli()
	windowStart := now - userRateLimitWindow.Milliseconds()

	pipe := s.redis.Pipeline()

	// Remove old entries
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))

	// Count current entries
	countCmd := pipe.ZCard(ctx, key)

	// Set expiry with extended TTL to prevent premature deletion
	pipe.Expire(ctx, key, 2*userRateLimitWindow)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, err
	}

	count := countCmd.Val()
	if count >= userMaxNotifications {
		return false, nil
	}

	// Add current request with unique member to handle concurrent requests
	member := fmt.Sprintf("%d:%d", now, time.Now().UnixNano())
	if err := s.redis.ZAdd(ctx, key, redis.Z{
		Score:  float64(now),
		Member: member,
	}).Err(); err != nil {
		return false, fmt.Errorf("failed to add to user rate limit: %w", err)
	}

	return true, nil
}

// checkGlobalRateLimit checks the webhook-wide rate limit
func (s *Service) checkGlobalRateLimit(ctx context.Context) (bool, error) {
	key := globalRateLimitKey
	now := time.Now().UnixMilli()
	windowStart := now - globalRateLimitWindow.Milliseconds()

	pipe := s.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, 2*globalRateLimitWindow)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, err
	}

	count := countCmd.Val()
	if count >= globalMaxNotifications {
		return false, nil
	}

	if err := s.redis.ZAdd(ctx, key, redis.Z{
		Score:  float64(now),
		Member: fmt.Sprintf("%d:%d", now, time.Now().UnixNano()),
	}).Err(); err != nil {
		return false, fmt.Errorf("failed to add to global rate limit: %w", err)
	}

	return true, nil
}

// GetStats returns notification statistics
func (s *Service) GetStats() (sent, failed, rateLimited int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sentCount, s.failedCount, s.rateLimited
}

// Stop stops the notification service
func (s *Service) Stop() {
	close(s.done)
}
