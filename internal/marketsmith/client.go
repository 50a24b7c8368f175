// Package marketsmith proxies symbol-detail payloads from the upstream
// research provider for the /symbols/{symbol} REST surface.
package marketsmith

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	baseURL        = "https://marketsmithindia.com/gateway/simple-api/ms-india"
	defaultTimeout = 20 * time.Second
	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
)

// Client fetches instrument research details.
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

type searchResponse struct {
	Results []struct {
		InstrumentID json.Number `json:"instrumentId"`
		Symbol       string      `json:"symbol"`
	} `json:"results"`
}

// All resolves name to an instrument and returns its combined detail
// payload: header, symbol and finance details keyed by section.
func (c *Client) All(ctx context.Context, name string) (map[string]any, error) {
	instrumentID, err := c.search(ctx, name)
	if err != nil {
		return nil, err
	}

	sections := map[string]string{
		"header":  fmt.Sprintf("/instr/0/%s/eHeaderDetails.json", instrumentID),
		"symbol":  fmt.Sprintf("/instr/0/%s/symboldetails.json", instrumentID),
		"finance": fmt.Sprintf("/instr/0/%s/financeDetails.json", instrumentID),
	}

	out := make(map[string]any, len(sections))
	for section, endpoint := range sections {
		payload, err := c.getJSON(ctx, endpoint, nil)
		if err != nil {
			// A missing section degrades the payload, not the request.
			c.logger.Warn("symbol detail section failed",
				slog.String("section", section),
				slog.String("error", err.Error()),
			)
			out[section] = nil
			continue
		}
		out[section] = payload
	}
	return out, nil
}

// search resolves a symbol name to its instrument id.
func (c *Client) search(ctx context.Context, name string) (string, error) {
	query := url.Values{}
	query.Set("srchStr", name)

	var decoded searchResponse
	if err := c.getInto(ctx, "/instr/srch.json", query, &decoded); err != nil {
		return "", err
	}
	if len(decoded.Results) == 0 {
		return "", fmt.Errorf("symbol %q not found", name)
	}
	return decoded.Results[0].InstrumentID.String(), nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, query url.Values) (any, error) {
	var decoded any
	if err := c.getInto(ctx, endpoint, query, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

// getInto performs a GET with bounded retries and exponential backoff.
func (c *Client) getInto(ctx context.Context, endpoint string, query url.Values, target any) error {
	fullURL := baseURL + endpoint
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return fmt.Errorf("build detail request: %w", err)
		}
		req.Header.Set("Accept", "*/*")
		req.Header.Set("X-Requested-With", "XMLHttpRequest")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			lastErr = fmt.Errorf("detail API returned %d: %s", resp.StatusCode, string(body))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("detail API returned %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(target)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode detail response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("detail request failed after %d attempts: %w", maxRetries, lastErr)
}
