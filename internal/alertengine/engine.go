// Package alertengine wires the alert manager, evaluator, store and
// dispatcher together into the running alert engine: load active alerts,
// subscribe their symbols on the quote provider, evaluate every tick, and
// fire the dispatcher at most once per alert.
package alertengine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/weqory/backend/internal/alertmanager"
	"github.com/weqory/backend/internal/alertstore"
	"github.com/weqory/backend/internal/dispatcher"
	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/internal/provider"
)

// Store is the persistence seam the engine depends on.
type Store interface {
	FetchActiveAlerts(ctx context.Context) ([]*model.Alert, error)
	MarkTriggered(ctx context.Context, id int64, price float64) error
	SubscribeToChanges(ctx context.Context, onInsert alertstore.OnInsert, onUpdate alertstore.OnUpdate, onDelete alertstore.OnDelete) error
}

// Evaluator decides whether an alert fires against a tick.
type Evaluator interface {
	Evaluate(alert *model.Alert, update model.ChangeUpdate) bool
}

// Engine is the alert processing loop.
type Engine struct {
	store      Store
	provider   provider.Provider
	evaluator  Evaluator
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger

	manager *alertmanager.Manager
	mu      sync.RWMutex // guards manager mutation across the tick/change-feed goroutines

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates an Engine.
func New(store Store, prov provider.Provider, evaluator Evaluator, disp *dispatcher.Dispatcher, logger *slog.Logger) *Engine {
	return &Engine{
		store:      store,
		provider:   prov,
		evaluator:  evaluator,
		dispatcher: disp,
		logger:     logger,
		manager:    alertmanager.New(),
		done:       make(chan struct{}),
	}
}

// Run loads active alerts, subscribes their symbols, and starts the tick and
// change-feed loops. It returns once startup completes; the loops continue
// on background goroutines until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting alert engine")

	alerts, err := e.store.FetchActiveAlerts(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for _, alert := range alerts {
		e.manager.Add(alert)
	}
	e.mu.Unlock()

	for _, symbol := range e.symbols() {
		if err := e.provider.Subscribe(symbol); err != nil {
			e.logger.Error("failed to subscribe symbol", slog.String("symbol", string(symbol)), slog.String("error", err.Error()))
		}
	}

	if err := e.store.SubscribeToChanges(ctx, e.onInsert, e.onUpdate, e.onDelete); err != nil {
		return err
	}

	if err := e.provider.Start(ctx); err != nil {
		return err
	}

	e.wg.Add(1)
	go e.tickLoop(ctx)

	e.logger.Info("alert engine started", slog.Int("alerts", len(alerts)), slog.Int("symbols", len(e.symbols())))
	return nil
}

func (e *Engine) symbols() []model.Ticker {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.manager.Symbols()
}

// tickLoop consumes the provider's tick channel and evaluates every alert
// registered for that symbol.
func (e *Engine) tickLoop(ctx context.Context) {
	defer e.wg.Done()

	ticks := e.provider.Ticks()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case update, ok := <-ticks:
			if !ok {
				return
			}
			e.handleTick(ctx, update)
		}
	}
}

// handleTick evaluates every alert on update's symbol. Firing alerts are
// removed from the in-memory index before the store acknowledges the
// trigger write, so a tick that arrives while the write is in flight never
// sees the alert again: at-most-once-per-firing holds even if the database
// write itself is retried or slow.
func (e *Engine) handleTick(ctx context.Context, update model.ChangeUpdate) {
	e.mu.RLock()
	alerts := e.manager.Get(update.Symbol)
	e.mu.RUnlock()
	if len(alerts) == 0 {
		return
	}

	for _, alert := range alerts {
		if !alert.IsLive() {
			continue
		}
		if !e.evaluator.Evaluate(alert, update) {
			continue
		}

		e.mu.Lock()
		e.manager.Remove(alert)
		e.mu.Unlock()

		e.logger.Info("alert triggered",
			slog.Int64("alert_id", alert.ID),
			slog.String("symbol", string(alert.Symbol)),
			slog.Float64("price", update.LTP),
		)

		if err := e.store.MarkTriggered(ctx, alert.ID, update.LTP); err != nil {
			e.logger.Error("failed to mark alert triggered",
				slog.Int64("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}

		e.dispatcher.Enqueue(alert, update)
	}

	// Firing can drain the symbol's bucket entirely; when it does, the
	// provider subscription no longer has a consumer.
	e.mu.RLock()
	stillWatched := e.manager.Has(update.Symbol)
	e.mu.RUnlock()
	if !stillWatched {
		if err := e.provider.Unsubscribe(update.Symbol); err != nil {
			e.logger.Error("failed to unsubscribe symbol",
				slog.String("symbol", string(update.Symbol)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// onInsert registers a newly created alert and subscribes its symbol if it
// wasn't already being watched.
func (e *Engine) onInsert(alert *model.Alert) {
	if !alert.IsLive() {
		return
	}

	e.mu.Lock()
	alreadySubscribed := e.manager.Has(alert.Symbol)
	e.manager.Add(alert)
	e.mu.Unlock()

	if !alreadySubscribed {
		if err := e.provider.Subscribe(alert.Symbol); err != nil {
			e.logger.Error("failed to subscribe symbol", slog.String("symbol", string(alert.Symbol)), slog.String("error", err.Error()))
		}
	}
}

// onUpdate reconciles an alert row change: live alerts are (re)added, and an
// alert that is no longer live is removed, unsubscribing its symbol if it
// was the last alert watching it.
func (e *Engine) onUpdate(alert *model.Alert) {
	if alert.IsLive() {
		e.mu.Lock()
		e.manager.Update(alert)
		e.mu.Unlock()
		return
	}
	e.removeAlert(alert.ID, alert.Symbol)
}

func (e *Engine) onDelete(id int64) {
	e.mu.Lock()
	removed := e.manager.RemoveByID(id)
	stillWatched := removed != nil && e.manager.Has(removed.Symbol)
	e.mu.Unlock()

	if removed != nil && !stillWatched {
		if err := e.provider.Unsubscribe(removed.Symbol); err != nil {
			e.logger.Error("failed to unsubscribe symbol", slog.String("symbol", string(removed.Symbol)), slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) removeAlert(id int64, symbol model.Ticker) {
	e.mu.Lock()
	e.manager.RemoveByID(id)
	stillWatched := e.manager.Has(symbol)
	e.mu.Unlock()

	if !stillWatched {
		if err := e.provider.Unsubscribe(symbol); err != nil {
			e.logger.Error("failed to unsubscribe symbol", slog.String("symbol", string(symbol)), slog.String("error", err.Error()))
		}
	}
}

// AlertCount returns the number of live alerts currently tracked.
func (e *Engine) AlertCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.manager.Count()
}

// SymbolCount returns the number of distinct symbols currently subscribed.
func (e *Engine) SymbolCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.manager.Symbols())
}

// Stop signals all background loops to exit and waits, with a timeout, for
// them to finish before tearing down the provider.
func (e *Engine) Stop(ctx context.Context) {
	e.logger.Info("stopping alert engine")
	close(e.done)

	stopped := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		e.logger.Warn("timeout waiting for alert engine background tasks to stop")
	}

	if err := e.provider.Stop(ctx); err != nil {
		e.logger.Error("failed to stop provider", slog.String("error", err.Error()))
	}
}
