package candles

import (
	"context"
	"time"

	"github.com/weqory/backend/internal/quotecodec"
	"github.com/weqory/backend/internal/scanner"
)

// defaultBarCount is roughly ten years of daily bars.
const defaultBarCount = 2600

// ChartDownloader implements Downloader over the framed chart session.
type ChartDownloader struct {
	client   *quotecodec.ChartClient
	barCount int
}

// NewChartDownloader creates a ChartDownloader.
func NewChartDownloader(client *quotecodec.ChartClient) *ChartDownloader {
	return &ChartDownloader{client: client, barCount: defaultBarCount}
}

// DownloadCandles fetches history for symbols and converts the bar lists
// into the scanner's columnar shape.
func (d *ChartDownloader) DownloadCandles(ctx context.Context, symbols []string) (map[string]scanner.Candles, error) {
	bars, err := d.client.DownloadCandles(ctx, symbols, d.barCount)
	if err != nil {
		return nil, err
	}

	out := make(map[string]scanner.Candles, len(bars))
	for symbol, series := range bars {
		c := scanner.Candles{
			Timestamps: make([]time.Time, len(series)),
			Open:       make([]float64, len(series)),
			High:       make([]float64, len(series)),
			Low:        make([]float64, len(series)),
			Close:      make([]float64, len(series)),
			Volume:     make([]float64, len(series)),
		}
		for i, bar := range series {
			c.Timestamps[i] = bar.Time
			c.Open[i] = bar.Open
			c.High[i] = bar.High
			c.Low[i] = bar.Low
			c.Close[i] = bar.Close
			c.Volume[i] = bar.Volume
		}
		out[symbol] = c
	}
	return out, nil
}
