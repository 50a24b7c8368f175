package upstox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/weqory/backend/internal/screener"
)

const (
	baseURL        = "https://api.upstox.com/v3"
	defaultTimeout = 20 * time.Second
)

// Client fetches OHLC market quotes. It implements screener.QuoteFetcher.
type Client struct {
	httpClient *http.Client
	keys       *InstrumentKeyMap
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		keys:       NewInstrumentKeyMap(),
		logger:     logger,
	}
}

// ohlcResponse is the upstream response envelope: data maps an opaque key
// per instrument to its quote.
type ohlcResponse struct {
	Data map[string]ohlcEntry `json:"data"`
}

type ohlcEntry struct {
	InstrumentToken string         `json:"instrument_token"`
	LastPrice       float64        `json:"last_price"`
	PrevOHLC        map[string]any `json:"prev_ohlc"`
	LiveOHLC        map[string]any `json:"live_ohlc"`
}

// FetchQuotes fetches daily OHLC quotes for one batch of symbols using the
// caller's bearer token. Symbols that cannot be translated to an
// instrument key are skipped.
func (c *Client) FetchQuotes(ctx context.Context, token string, symbols []screener.LiveSymbol) ([]map[string]any, error) {
	instrumentKeys := make([]string, 0, len(symbols))
	for _, s := range symbols {
		key, err := c.keys.ToInstrumentKey(Instrument{
			Ticker:   s.Ticker,
			Type:     s.Type,
			Exchange: s.Exchange,
			ISIN:     s.ISIN,
		})
		if err != nil {
			c.logger.Debug("skipping untranslatable symbol",
				slog.String("ticker", s.Ticker),
				slog.String("error", err.Error()),
			)
			continue
		}
		if key == "" {
			continue
		}
		instrumentKeys = append(instrumentKeys, key)
	}
	if len(instrumentKeys) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("instrument_key", strings.Join(instrumentKeys, ","))
	params.Set("interval", "1d")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/market-quote/ohlc?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("quote API returned %d: %s", resp.StatusCode, string(body))
	}

	var decoded ohlcResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode quote response: %w", err)
	}

	rows := make([]map[string]any, 0, len(decoded.Data))
	for _, entry := range decoded.Data {
		ticker, ok := c.keys.FromInstrumentKey(entry.InstrumentToken)
		if !ok {
			continue
		}
		rows = append(rows, map[string]any{
			"ticker":    ticker,
			"prev_ohlc": entry.PrevOHLC,
			"live_ohlc": entry.LiveOHLC,
			"lp":        entry.LastPrice,
		})
	}
	return rows, nil
}
