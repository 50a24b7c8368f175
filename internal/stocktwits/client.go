// Package stocktwits fetches community idea feeds for the /ideas REST
// surface.
package stocktwits

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	baseURL        = "https://api.stocktwits.com/api/2"
	defaultTimeout = 20 * time.Second
)

// GlobalFeed names a site-wide idea feed.
type GlobalFeed string

const (
	GlobalTrending  GlobalFeed = "trending"
	GlobalSuggested GlobalFeed = "suggested"
	GlobalPopular   GlobalFeed = "popular"
)

// SymbolFeed names a per-symbol idea feed.
type SymbolFeed string

const (
	SymbolTrending SymbolFeed = "trending"
	SymbolPopular  SymbolFeed = "popular"
)

// Client is the idea-feed API client.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client.
func NewClient(logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}
}

// FetchGlobal fetches a site-wide feed.
func (c *Client) FetchGlobal(ctx context.Context, feed GlobalFeed, limit int) (map[string]any, error) {
	var endpoint string
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	switch feed {
	case GlobalTrending:
		endpoint = "/streams/trending.json"
		query.Set("filter", "all")
	case GlobalSuggested:
		endpoint = "/streams/suggested.json"
		query.Set("filter", "top")
	case GlobalPopular:
		endpoint = "/trending_messages/symbol_trending"
		query.Set("filter", "all")
	default:
		return nil, fmt.Errorf("unknown global feed %q", feed)
	}

	return c.get(ctx, endpoint, query)
}

// FetchSymbol fetches a per-symbol feed. Tickers are translated from
// EXCHANGE:SYMBOL to the upstream's SYMBOL.EXCHANGE form, defaulting to
// NSE when no exchange is given.
func (c *Client) FetchSymbol(ctx context.Context, symbol string, feed SymbolFeed, limit int) (map[string]any, error) {
	parts := strings.SplitN(symbol, ":", 2)
	var upstream string
	if len(parts) == 2 {
		upstream = parts[1] + "." + parts[0]
	} else {
		upstream = parts[0] + ".NSE"
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	var endpoint string
	switch feed {
	case SymbolTrending:
		endpoint = "/streams/symbol/" + upstream + ".json"
		query.Set("filter", "all")
	case SymbolPopular:
		endpoint = "/trending_messages/symbol/" + upstream + ".json"
		query.Set("filter", "top")
	default:
		return nil, fmt.Errorf("unknown symbol feed %q", feed)
	}

	return c.get(ctx, endpoint, query)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("feed API returned %d: %s", resp.StatusCode, string(body))
	}

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode feed response: %w", err)
	}
	return decoded, nil
}
