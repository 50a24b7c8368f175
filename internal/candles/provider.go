// Package candles supplies per-symbol OHLCV history to the scanner engine
// from a local snapshot file, refreshed through a pluggable downloader:
// load from the snapshot when present, download and cache otherwise.
package candles

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/internal/scanner"
)

// Downloader fetches fresh candle history for a symbol universe. The
// production implementation wraps the chart session of
// internal/quotecodec; tests supply fakes.
type Downloader interface {
	DownloadCandles(ctx context.Context, symbols []string) (map[string]scanner.Candles, error)
}

// SymbolLister names the universe a market downloads.
type SymbolLister interface {
	ListSymbols(ctx context.Context) ([]string, error)
}

// FileProvider implements scanner.CandleProvider over a JSON snapshot at a
// path derived from the base directory, one file per market.
type FileProvider struct {
	path       string
	market     model.Market
	downloader Downloader
	symbols    SymbolLister
	logger     *slog.Logger

	mu   sync.RWMutex
	data map[string]scanner.Candles
}

// NewFileProvider creates a FileProvider caching under baseDir (the
// current directory when empty).
func NewFileProvider(baseDir string, market model.Market, downloader Downloader, symbols SymbolLister, logger *slog.Logger) *FileProvider {
	if baseDir == "" {
		baseDir = "."
	}
	return &FileProvider{
		path:       filepath.Join(baseDir, fmt.Sprintf("ohlcv_%s.json", market)),
		market:     market,
		downloader: downloader,
		symbols:    symbols,
		logger:     logger,
	}
}

// LoadData returns the cached snapshot, downloading and caching when no
// snapshot exists yet.
func (p *FileProvider) LoadData(ctx context.Context) (map[string]scanner.Candles, error) {
	if data, err := p.loadSnapshot(); err == nil {
		p.mu.Lock()
		p.data = data
		p.mu.Unlock()
		p.logger.Info("loaded candle snapshot",
			slog.String("market", string(p.market)),
			slog.Int("symbols", len(data)),
		)
		return data, nil
	} else if !os.IsNotExist(err) {
		p.logger.Warn("candle snapshot unreadable, re-downloading",
			slog.String("path", p.path),
			slog.String("error", err.Error()),
		)
	}
	return p.RefreshData(ctx)
}

// RefreshData re-downloads the full universe and rewrites the snapshot.
func (p *FileProvider) RefreshData(ctx context.Context) (map[string]scanner.Candles, error) {
	if p.downloader == nil || p.symbols == nil {
		// No download path configured: serve whatever the snapshot holds.
		p.mu.RLock()
		defer p.mu.RUnlock()
		if p.data == nil {
			return nil, fmt.Errorf("no candle snapshot at %s and no downloader configured", p.path)
		}
		return p.data, nil
	}

	universe, err := p.symbols.ListSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s symbols: %w", p.market, err)
	}

	data, err := p.downloader.DownloadCandles(ctx, universe)
	if err != nil {
		return nil, fmt.Errorf("download %s candles: %w", p.market, err)
	}

	if err := p.writeSnapshot(data); err != nil {
		p.logger.Error("failed to write candle snapshot",
			slog.String("path", p.path),
			slog.String("error", err.Error()),
		)
	}

	p.mu.Lock()
	p.data = data
	p.mu.Unlock()
	p.logger.Info("downloaded candle data",
		slog.String("market", string(p.market)),
		slog.Int("symbols", len(data)),
	)
	return data, nil
}

// GetSymbolData returns one symbol's history.
func (p *FileProvider) GetSymbolData(ctx context.Context, symbol string) (scanner.Candles, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.data[symbol]
	return c, ok, nil
}

// AvailableSymbols lists the symbols currently loaded.
func (p *FileProvider) AvailableSymbols(ctx context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.data))
	for s := range p.data {
		out = append(out, s)
	}
	return out, nil
}

func (p *FileProvider) loadSnapshot() (map[string]scanner.Candles, error) {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return nil, err
	}
	var data map[string]scanner.Candles
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode candle snapshot: %w", err)
	}
	return data, nil
}

func (p *FileProvider) writeSnapshot(data map[string]scanner.Candles) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}
