// Package provider defines the quote-data-provider seam the alert engine
// depends on: a flat interface rather than a provider base type with
// vendor subclasses, so mock and live sources swap freely.
package provider

import (
	"context"

	"github.com/weqory/backend/internal/model"
)

// Provider is the quote data source the alert engine subscribes symbols
// against and receives ticks from.
type Provider interface {
	// Start begins streaming. It must return promptly; streaming happens on
	// goroutines owned by the provider.
	Start(ctx context.Context) error
	// Stop tears down all connections and blocks until they are closed.
	Stop(ctx context.Context) error
	// Subscribe requests ticks for symbol. Subscribing to an
	// already-subscribed symbol is a no-op (idempotent).
	Subscribe(symbol model.Ticker) error
	// Unsubscribe stops ticks for symbol.
	Unsubscribe(symbol model.Ticker) error
	// Ticks returns the channel ticks are delivered on. The channel is
	// closed when Stop completes.
	Ticks() <-chan model.ChangeUpdate
}
