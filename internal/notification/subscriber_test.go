package notification

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weqory/backend/internal/model"
)

// TestTryMarkProcessed_ConcurrentRequests verifies atomic check-and-mark
// prevents duplicate processing
func TestTryMarkProcessed_ConcurrentRequests(t *testing.T) {
	subscriber := &Subscriber{
		processedIDs: make(map[string]time.Time),
	}

	key := "7:1700000000000000000"
	const goroutines = 100

	// Track how many goroutines successfully marked the event
	successCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup

	// All goroutines try to mark the same event
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if subscriber.tryMarkProcessed(key) {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	// Only ONE goroutine should have succeeded
	assert.Equal(t, 1, successCount,
		"exactly one goroutine should mark event as processed")

	// Event should be in the map
	subscriber.processedMu.RLock()
	_, exists := subscriber.processedIDs[key]
	subscriber.processedMu.RUnlock()
	assert.True(t, exists, "event should be marked as processed")
}

// TestEventKey distinguishes re-deliveries of distinct firings while
// deduplicating the same firing
func TestEventKey(t *testing.T) {
	now := time.Now()
	a := TriggerEvent{Alert: &model.Alert{ID: 7}, TriggeredAt: now}
	b := TriggerEvent{Alert: &model.Alert{ID: 7}, TriggeredAt: now}
	c := TriggerEvent{Alert: &model.Alert{ID: 7}, TriggeredAt: now.Add(time.Second)}

	assert.Equal(t, eventKey(a), eventKey(b))
	assert.NotEqual(t, eventKey(a), eventKey(c))
}

// TestRemoveProcessed allows a dropped event to be re-queued later
func TestRemoveProcessed(t *testing.T) {
	subscriber := &Subscriber{
		processedIDs: make(map[string]time.Time),
	}

	key := "9:1700000000000000000"
	require.True(t, subscriber.tryMarkProcessed(key))
	require.False(t, subscriber.tryMarkProcessed(key))

	subscriber.removeProcessed(key)
	assert.True(t, subscriber.tryMarkProcessed(key))
}

// TestCleanupProcessedIDs drops only entries older than the retention
// window
func TestCleanupProcessedIDs(t *testing.T) {
	subscriber := &Subscriber{
		processedIDs: make(map[string]time.Time),
		logger:       slog.Default(),
	}

	subscriber.processedIDs["old"] = time.Now().Add(-2 * time.Hour)
	subscriber.processedIDs["fresh"] = time.Now()

	subscriber.cleanupProcessedIDs()

	_, oldExists := subscriber.processedIDs["old"]
	_, freshExists := subscriber.processedIDs["fresh"]
	assert.False(t, oldExists)
	assert.True(t, freshExists)
}
