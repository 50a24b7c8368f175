// Package dispatcher implements the alert engine's trigger fan-out: an
// unbounded queue, drained by a single goroutine in FIFO order, invoking
// every registered handler for each alert with per-handler failure
// isolation.
package dispatcher

import (
	"context"
	"log/slog"

	"github.com/weqory/backend/internal/model"
)

// Handler is invoked once per triggered alert. A handler that returns an
// error is logged and does not stop subsequent handlers from running.
type Handler interface {
	Handle(ctx context.Context, alert *model.Alert, update model.ChangeUpdate) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, alert *model.Alert, update model.ChangeUpdate) error

func (f HandlerFunc) Handle(ctx context.Context, alert *model.Alert, update model.ChangeUpdate) error {
	return f(ctx, alert, update)
}

type job struct {
	alert  *model.Alert
	update model.ChangeUpdate
}

// Dispatcher owns an unbounded FIFO queue of triggered alerts and a list of
// handlers invoked, in registration order, for each one.
type Dispatcher struct {
	handlers []Handler
	queue    chan job
	logger   *slog.Logger
	done     chan struct{}
}

// New creates a Dispatcher. The queue is large but bounded at the Go channel
// level purely to avoid an unbounded goroutine-visible allocation; in
// practice it never blocks a producer because Enqueue never blocks (see
// below) — a full channel causes Enqueue to hand the send to a detached
// goroutine rather than stall the caller; alerts handed off that way are
// not ordered relative to each other.
func New(logger *slog.Logger, handlers ...Handler) *Dispatcher {
	return &Dispatcher{
		handlers: handlers,
		queue:    make(chan job, 4096),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Register appends a handler. Handlers are invoked in registration order.
func (d *Dispatcher) Register(h Handler) {
	d.handlers = append(d.handlers, h)
}

// Enqueue is non-blocking: it queues the alert for dispatch without waiting
// for any handler to run.
func (d *Dispatcher) Enqueue(alert *model.Alert, update model.ChangeUpdate) {
	select {
	case d.queue <- job{alert: alert, update: update}:
	default:
		// Queue is saturated; spawn a detached send so Enqueue never blocks
		// the alert engine's hot path. Alerts are not replaceable like
		// quote ticks, so they are never dropped.
		go func() {
			select {
			case d.queue <- job{alert: alert, update: update}:
			case <-d.done:
			}
		}()
	}
}

// Run drains the queue in FIFO order until ctx is cancelled. It is meant to
// run on its own goroutine for the lifetime of the engine.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(d.done)
			return
		case j := <-d.queue:
			d.dispatch(ctx, j)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, j job) {
	for _, h := range d.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("dispatcher handler panicked",
						slog.Int64("alert_id", j.alert.ID),
						slog.Any("recovered", r),
					)
				}
			}()
			if err := h.Handle(ctx, j.alert, j.update); err != nil {
				d.logger.Error("dispatcher handler failed",
					slog.Int64("alert_id", j.alert.ID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}
}
