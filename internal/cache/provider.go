package cache

import (
	"context"
	"log/slog"

	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/internal/provider"
)

// CachingProvider decorates a provider.Provider, teeing every tick into the
// quote cache before handing it to the consumer. Cache failures never block
// or drop ticks.
type CachingProvider struct {
	inner  provider.Provider
	cache  *QuoteCache
	logger *slog.Logger

	out  chan model.ChangeUpdate
	base context.Context
}

// NewCachingProvider wraps inner. ctx scopes the tee goroutine and the
// cache writes.
func NewCachingProvider(ctx context.Context, inner provider.Provider, cache *QuoteCache, logger *slog.Logger) *CachingProvider {
	return &CachingProvider{
		inner:  inner,
		cache:  cache,
		logger: logger,
		out:    make(chan model.ChangeUpdate, 1024),
		base:   ctx,
	}
}

// Start starts the inner provider and the tee loop.
func (p *CachingProvider) Start(ctx context.Context) error {
	if err := p.inner.Start(ctx); err != nil {
		return err
	}
	go p.tee(ctx)
	return nil
}

// Stop stops the inner provider; the tee loop exits when the inner tick
// channel closes.
func (p *CachingProvider) Stop(ctx context.Context) error {
	return p.inner.Stop(ctx)
}

// Subscribe forwards to the inner provider.
func (p *CachingProvider) Subscribe(symbol model.Ticker) error {
	return p.inner.Subscribe(symbol)
}

// Unsubscribe forwards to the inner provider and clears the symbol's cached
// quote.
func (p *CachingProvider) Unsubscribe(symbol model.Ticker) error {
	if err := p.cache.Delete(p.base, symbol); err != nil {
		p.logger.Debug("failed to clear cached quote",
			slog.String("symbol", string(symbol)),
			slog.String("error", err.Error()),
		)
	}
	return p.inner.Unsubscribe(symbol)
}

// Ticks returns the teed tick channel.
func (p *CachingProvider) Ticks() <-chan model.ChangeUpdate {
	return p.out
}

func (p *CachingProvider) tee(ctx context.Context) {
	defer close(p.out)

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-p.inner.Ticks():
			if !ok {
				return
			}
			if err := p.cache.Set(ctx, update); err != nil {
				p.logger.Debug("failed to cache quote",
					slog.String("symbol", string(update.Symbol)),
					slog.String("error", err.Error()),
				)
			}
			if err := p.cache.AppendHistory(ctx, update); err != nil {
				p.logger.Debug("failed to append quote history",
					slog.String("symbol", string(update.Symbol)),
					slog.String("error", err.Error()),
				)
			}
			select {
			case p.out <- update:
			case <-ctx.Done():
				return
			}
		}
	}
}
