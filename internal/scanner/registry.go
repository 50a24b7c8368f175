package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/weqory/backend/internal/model"
)

// Registry holds one Engine per market. Scan requests name a market and are
// routed to that market's engine; refresh is per market too, matching the
// /v2/scan/refresh/{market} surface.
type Registry struct {
	mu      sync.RWMutex
	engines map[model.Market]*Engine
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{engines: make(map[model.Market]*Engine), logger: logger}
}

// Add constructs and registers an Engine for market.
func (r *Registry) Add(ctx context.Context, market model.Market, candles CandleProvider, metadata MetadataProvider, cacheEnabled bool) error {
	engine, err := New(ctx, candles, metadata, cacheEnabled, r.logger.With(slog.String("market", string(market))))
	if err != nil {
		return fmt.Errorf("build %s scanner engine: %w", market, err)
	}
	r.mu.Lock()
	r.engines[market] = engine
	r.mu.Unlock()
	return nil
}

// Get returns the engine for market.
func (r *Registry) Get(market model.Market) (*Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	engine, ok := r.engines[market]
	if !ok {
		return nil, fmt.Errorf("no scanner engine for market %q", market)
	}
	return engine, nil
}

// Scan routes req to its market's engine. An empty market falls back to
// india, the default universe.
func (r *Registry) Scan(ctx context.Context, req Request) (Result, error) {
	market := req.Market
	if market == "" {
		market = model.MarketIndia
	}
	engine, err := r.Get(market)
	if err != nil {
		return Result{}, err
	}
	return engine.Scan(ctx, req)
}

// Refresh force-reloads candles and metadata for market.
func (r *Registry) Refresh(ctx context.Context, market model.Market) error {
	engine, err := r.Get(market)
	if err != nil {
		return err
	}
	return engine.RefreshData(ctx)
}
