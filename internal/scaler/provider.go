package scaler

import (
	"context"

	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/internal/provider"
)

// providerAdapter exposes a Scaler through the single-symbol
// provider.Provider seam the alert engine depends on.
type providerAdapter struct {
	scaler *Scaler
	ctx    context.Context
}

// AsProvider adapts the scaler to provider.Provider. ctx scopes the node
// goroutines spawned by subscribe calls. Ticks returns the scaler's
// aggregate channel, which Stop does not close; a later Subscribe starts the
// scaler again on the same channel.
func (s *Scaler) AsProvider(ctx context.Context) provider.Provider {
	return &providerAdapter{scaler: s, ctx: ctx}
}

func (a *providerAdapter) Start(ctx context.Context) error { return a.scaler.Start(ctx) }
func (a *providerAdapter) Stop(ctx context.Context) error  { return a.scaler.Stop(ctx) }

func (a *providerAdapter) Subscribe(symbol model.Ticker) error {
	return a.scaler.AddTickers(a.ctx, []model.Ticker{symbol})
}

func (a *providerAdapter) Unsubscribe(symbol model.Ticker) error {
	return a.scaler.RemoveTickers(a.ctx, []model.Ticker{symbol})
}

func (a *providerAdapter) Ticks() <-chan model.ChangeUpdate {
	return a.scaler.QuoteEvents()
}
