package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/internal/scanner"
)

// RefreshService re-loads scanner candle and metadata snapshots on a fixed
// interval, mirroring the upstream's 5-minute background refresh job.
type RefreshService struct {
	registry *scanner.Registry
	markets  []model.Market
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
}

// NewRefreshService creates a RefreshService.
func NewRefreshService(registry *scanner.Registry, markets []model.Market, interval time.Duration, logger *slog.Logger) *RefreshService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &RefreshService{
		registry: registry,
		markets:  markets,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the background refresh loop.
func (s *RefreshService) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop stops the refresh loop.
func (s *RefreshService) Stop() {
	close(s.done)
}

func (s *RefreshService) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.refreshAll(ctx)
		}
	}
}

func (s *RefreshService) refreshAll(ctx context.Context) {
	for _, market := range s.markets {
		if err := s.registry.Refresh(ctx, market); err != nil {
			s.logger.Error("scheduled scanner refresh failed",
				slog.String("market", string(market)),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Debug("scheduled scanner refresh completed", slog.String("market", string(market)))
	}
}
