package notification

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weqory/backend/internal/model"
)

// setupTestRedis creates a miniredis instance and returns a client connected to it
func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	return mr, client
}

func testEvent(alertID, userID int64) TriggerEvent {
	return TriggerEvent{
		Alert: &model.Alert{
			ID:       alertID,
			UserID:   userID,
			Symbol:   "NSE:RELIANCE",
			IsActive: false,
			Operator: model.OpGT,
		},
		TriggeredAt: time.Now(),
		Price:       2500.5,
	}
}

// TestCheckGlobalRateLimit_Sequential tests sequential rate limit requests
func TestCheckGlobalRateLimit_Sequential(t *testing.T) {
	_, redisClient := setupTestRedis(t)
	ctx := context.Background()

	service := &Service{
		redis: redisClient,
	}

	// Make requests up to the limit
	for i := 0; i < int(globalMaxNotifications); i++ {
		allowed, err := service.checkGlobalRateLimit(ctx)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i)
		// Small delay to ensure unique timestamps
		time.Sleep(time.Millisecond)
	}

	// Next request should be denied
	allowed, err := service.checkGlobalRateLimit(ctx)
	require.NoError(t, err)
	assert.False(t, allowed, "request should be denied after limit reached")
}

// TestCheckUserRateLimit enforces the per-user window independently per user
func TestCheckUserRateLimit(t *testing.T) {
	_, redisClient := setupTestRedis(t)
	ctx := context.Background()

	service := &Service{
		redis: redisClient,
	}

	for i := 0; i < userMaxNotifications; i++ {
		allowed, err := service.checkUserRateLimit(ctx, 42)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i)
		time.Sleep(time.Millisecond)
	}

	allowed, err := service.checkUserRateLimit(ctx, 42)
	require.NoError(t, err)
	assert.False(t, allowed, "user 42 should be rate limited")

	// A different user still has a fresh window
	allowed, err = service.checkUserRateLimit(ctx, 43)
	require.NoError(t, err)
	assert.True(t, allowed, "user 43 should not be affected")
}

// TestSendNotificationDeliversWebhook verifies the happy delivery path
func TestSendNotificationDeliversWebhook(t *testing.T) {
	_, redisClient := setupTestRedis(t)

	var received atomic.Int64
	var mu sync.Mutex
	var lastBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		mu.Lock()
		lastBody = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	service := NewService(redisClient, server.URL, slog.Default())
	defer service.Stop()

	err := service.SendNotification(context.Background(), testEvent(7, 42))
	require.NoError(t, err)
	assert.Equal(t, int64(1), received.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, string(lastBody), `"alert"`)
	assert.Contains(t, string(lastBody), `"NSE:RELIANCE"`)

	sent, failed, limited := service.GetStats()
	assert.Equal(t, int64(1), sent)
	assert.Equal(t, int64(0), failed)
	assert.Equal(t, int64(0), limited)
}

// TestSendNotificationRetriesOn5xx verifies the retry loop engages and
// eventually succeeds
func TestSendNotificationRetriesOn5xx(t *testing.T) {
	_, redisClient := setupTestRedis(t)

	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	service := NewService(redisClient, server.URL, slog.Default())
	defer service.Stop()

	err := service.SendNotification(context.Background(), testEvent(8, 42))
	require.NoError(t, err)
	assert.Equal(t, int64(2), attempts.Load())
}

// TestSendNotificationRateLimitedUser verifies the per-user limit blocks
// delivery entirely
func TestSendNotificationRateLimitedUser(t *testing.T) {
	_, redisClient := setupTestRedis(t)

	var received atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	service := NewService(redisClient, server.URL, slog.Default())
	defer service.Stop()

	ctx := context.Background()
	for i := 0; i < userMaxNotifications; i++ {
		require.NoError(t, service.SendNotification(ctx, testEvent(int64(i), 99)))
		time.Sleep(time.Millisecond)
	}

	err := service.SendNotification(ctx, testEvent(100, 99))
	assert.Error(t, err)
	assert.Equal(t, int64(userMaxNotifications), received.Load())

	_, _, limited := service.GetStats()
	assert.Equal(t, int64(1), limited)
}
