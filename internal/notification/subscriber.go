package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis channel the dispatcher's fan-out handler publishes to
	triggeredChannel = "alerts:triggered"

	// Worker pool size
	workerCount = 5

	// Buffer size for notification queue
	queueBufferSize = 100

	// Maximum size of processedIDs map to prevent unbounded growth
	maxProcessedIDsSize = 10000
)

// Subscriber listens for trigger events from Redis and feeds a worker pool.
type Subscriber struct {
	redis        *redis.Client
	service      *Service
	logger       *slog.Logger
	queue        chan TriggerEvent
	processedIDs map[string]time.Time // For deduplication
	processedMu  sync.RWMutex
	wg           sync.WaitGroup
	done         chan struct{}
}

// NewSubscriber creates a trigger-event subscriber.
func NewSubscriber(redisClient *redis.Client, service *Service, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		redis:        redisClient,
		service:      service,
		logger:       logger,
		queue:        make(chan TriggerEvent, queueBufferSize),
		processedIDs: make(map[string]time.Time),
		done:         make(chan struct{}),
	}
}

// eventKey identifies one firing: alerts fire at most once, but the
// publisher may redeliver, so the triggered-at instant joins the key.
func eventKey(event TriggerEvent) string {
	return fmt.Sprintf("%d:%d", event.Alert.ID, event.TriggeredAt.UnixNano())
}

// Run starts the subscriber
func (s *Subscriber) Run(ctx context.Context) error {
	s.logger.Info("starting notification subscriber")

	// Start worker pool
	for i := 0; i < workerCount; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	// Start cleanup goroutine for processed IDs
	s.wg.Add(1)
	go s.cleanupLoop(ctx)

	// Subscribe to Redis channel
	pubsub := s.redis.Subscribe(ctx, triggeredChannel)
	defer pubsub.Close()

	s.logger.Info("subscribed to triggered alerts channel")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		default:
		}

		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("failed to receive message", slog.String("error", err.Error()))
			time.Sleep(time.Second)
			continue
		}

		var event TriggerEvent
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			s.logger.Error("failed to unmarshal trigger event",
				slog.String("error", err.Error()),
			)
			continue
		}
		if event.Alert == nil {
			s.logger.Error("trigger event missing alert payload")
			continue
		}

		// Check for duplicate with atomic mark to prevent race condition
		key := eventKey(event)
		if !s.tryMarkProcessed(key) {
			s.logger.Debug("skipping duplicate trigger event",
				slog.String("event_key", key),
			)
			continue
		}

		// Queue for processing
		select {
		case s.queue <- event:
		default:
			s.logger.Warn("notification queue full, dropping message",
				slog.String("event_key", key),
			)
			// Remove from processed since we're not processing it
			s.removeProcessed(key)
		}
	}
}

// worker processes trigger events from the queue
func (s *Subscriber) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	s.logger.Debug("notification worker started", slog.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("worker stopped: context cancelled", slog.Int("worker_id", id))
			return
		case <-s.done:
			// Don't return immediately - drain the queue first
			s.logger.Debug("worker draining queue", slog.Int("worker_id", id))
			s.drainQueue(ctx)
			return
		case event, ok := <-s.queue:
			if !ok {
				s.logger.Debug("worker stopped: queue closed", slog.Int("worker_id", id))
				return
			}
			s.processEvent(ctx, event)
		}
	}
}

// drainQueue processes remaining items in the queue during shutdown
func (s *Subscriber) drainQueue(ctx context.Context) {
	for {
		select {
		case event, ok := <-s.queue:
			if !ok {
				return
			}
			s.processEvent(ctx, event)
		case <-time.After(100 * time.Millisecond):
			// No more items, exit
			return
		}
	}
}

// processEvent handles a single trigger event
func (s *Subscriber) processEvent(ctx context.Context, event TriggerEvent) {
	if err := s.service.SendNotification(ctx, event); err != nil {
		s.logger.Error("failed to send notification",
			slog.Int64("alert_id", event.Alert.ID),
			slog.Int64("user_id", event.Alert.UserID),
			slog.String("error", err.Error()),
		)
	}
}

// tryMarkProcessed atomically checks and marks an event as processed.
// Returns true if this is the first time seeing this event, false if duplicate
func (s *Subscriber) tryMarkProcessed(key string) bool {
	s.processedMu.Lock()
	defer s.processedMu.Unlock()

	if _, exists := s.processedIDs[key]; exists {
		return false
	}

	// Enforce max size to prevent unbounded growth
	if len(s.processedIDs) >= maxProcessedIDsSize {
		s.logger.Warn("processedIDs map at max capacity, forcing cleanup",
			slog.Int("size", len(s.processedIDs)),
		)

		cutoff := time.Now().Add(-10 * time.Minute)
		for id, processedAt := range s.processedIDs {
			if processedAt.Before(cutoff) {
				delete(s.processedIDs, id)
			}
		}
	}

	s.processedIDs[key] = time.Now()
	return true
}

// removeProcessed removes an event from processed map
func (s *Subscriber) removeProcessed(key string) {
	s.processedMu.Lock()
	delete(s.processedIDs, key)
	s.processedMu.Unlock()
}

// cleanupLoop removes old processed IDs
func (s *Subscriber) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanupProcessedIDs()
		}
	}
}

// cleanupProcessedIDs removes processed IDs older than 1 hour
func (s *Subscriber) cleanupProcessedIDs() {
	cutoff := time.Now().Add(-1 * time.Hour)

	s.processedMu.Lock()
	defer s.processedMu.Unlock()

	for id, processedAt := range s.processedIDs {
		if processedAt.Before(cutoff) {
			delete(s.processedIDs, id)
		}
	}

	s.logger.Debug("cleaned up processed IDs", slog.Int("remaining", len(s.processedIDs)))
}

// Stop stops the subscriber gracefully, draining the queue
func (s *Subscriber) Stop() {
	s.logger.Info("stopping notification subscriber")

	close(s.done)

	queueLen := len(s.queue)
	if queueLen > 0 {
		s.logger.Info("draining notification queue",
			slog.Int("pending_notifications", queueLen),
		)
	}

	// Close the queue after giving workers time to drain it
	time.Sleep(100 * time.Millisecond)
	close(s.queue)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all workers stopped gracefully")
	case <-time.After(30 * time.Second):
		s.logger.Warn("timeout waiting for workers to stop",
			slog.Int("remaining_queue", len(s.queue)),
		)
	}
}

// GetQueueLength returns the current queue length
func (s *Subscriber) GetQueueLength() int {
	return len(s.queue)
}
