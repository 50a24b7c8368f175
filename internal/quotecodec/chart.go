package quotecodec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// Candle is one OHLCV bar from a timescale_update event.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// ChartClient downloads candle history over the same framed protocol the
// quote client speaks, using a chart session instead of a quote session.
// Tickers are resolved to symbol keys up front, then series are requested
// strictly sequentially: create_series for the first ticker, and on each
// series_completed a modify_series advances to the next.
type ChartClient struct {
	url      string
	origin   string
	timezone string
	logger   *slog.Logger
}

// NewChartClient creates a ChartClient dialing url with the given Origin
// header. Bars are requested in the given exchange timezone.
func NewChartClient(url, origin, timezone string, logger *slog.Logger) *ChartClient {
	return &ChartClient{url: url, origin: origin, timezone: timezone, logger: logger}
}

// DownloadCandles fetches daily history for every ticker over a single
// connection and returns the per-ticker bars. Tickers whose series errors
// are skipped; the remaining tickers still download.
func (c *ChartClient) DownloadCandles(ctx context.Context, tickers []string, barCount int) (map[string][]Candle, error) {
	if len(tickers) == 0 {
		return map[string][]Candle{}, nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := map[string][]string{"Origin": {c.origin}}
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("dial chart stream: %w", err)
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	session := &chartSession{
		conn:      conn,
		sessionID: newSessionID("cs"),
		tickers:   tickers,
		barCount:  barCount,
		bars:      make(map[string][]Candle, len(tickers)),
		logger:    c.logger,
	}
	if err := session.initialize(c.timezone); err != nil {
		return nil, err
	}
	return session.collect(ctx)
}

// chartSession tracks the sequential series walk over one connection.
type chartSession struct {
	conn      *websocket.Conn
	sessionID string
	tickers   []string
	barCount  int
	current   int // index into tickers of the series in flight
	bars      map[string][]Candle
	logger    *slog.Logger
}

func (s *chartSession) symbolKey(i int) string {
	return fmt.Sprintf("sds_sym_%d", i+1)
}

func (s *chartSession) initialize(timezone string) error {
	messages := []map[string]any{
		{"m": "set_auth_token", "p": []any{"unauthorized_user_token"}},
		{"m": "set_locale", "p": []any{"en", "IN"}},
		{"m": "chart_create_session", "p": []any{s.sessionID, ""}},
		{"m": "switch_timezone", "p": []any{s.sessionID, timezone}},
	}
	for i, ticker := range s.tickers {
		symbolSpec, _ := json.Marshal(map[string]any{"adjustment": "splits", "symbol": ticker})
		messages = append(messages, map[string]any{
			"m": "resolve_symbol",
			"p": []any{s.sessionID, s.symbolKey(i), "=" + string(symbolSpec)},
		})
	}
	messages = append(messages, map[string]any{
		"m": "create_series",
		"p": []any{s.sessionID, "sds_1", "s1", s.symbolKey(0), "1D", s.barCount},
	})

	for _, m := range messages {
		if err := s.send(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *chartSession) send(msg map[string]any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(Encode(string(payload))))
}

// collect reads until every ticker's series completed or ctx expires.
func (s *chartSession) collect(ctx context.Context) (map[string][]Candle, error) {
	for {
		select {
		case <-ctx.Done():
			return s.bars, ctx.Err()
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return s.bars, fmt.Errorf("chart stream read: %w", err)
		}

		payloads, heartbeats := Decode(string(msg))
		for _, hb := range heartbeats {
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(Encode(hb))); err != nil {
				return s.bars, fmt.Errorf("heartbeat echo: %w", err)
			}
		}

		for _, p := range payloads {
			var wm wireMessage
			if err := json.Unmarshal([]byte(p), &wm); err != nil {
				s.logger.Debug("discarding malformed chart payload", slog.String("payload", p))
				continue
			}
			done, err := s.handle(wm)
			if err != nil {
				return s.bars, err
			}
			if done {
				return s.bars, nil
			}
		}
	}
}

// handle processes one wire message; it reports completion once the last
// ticker's series finished.
func (s *chartSession) handle(wm wireMessage) (bool, error) {
	switch wm.M {
	case "timescale_update":
		s.applyTimescaleUpdate(wm)
		return false, nil

	case "series_completed":
		s.current++
		if s.current >= len(s.tickers) {
			return true, nil
		}
		err := s.send(map[string]any{
			"m": "modify_series",
			"p": []any{s.sessionID, "sds_1", "s1", s.symbolKey(s.current), "1D", ""},
		})
		return false, err

	case "series_error":
		s.logger.Warn("series failed", slog.String("ticker", s.tickers[s.current]))
		s.current++
		if s.current >= len(s.tickers) {
			return true, nil
		}
		err := s.send(map[string]any{
			"m": "modify_series",
			"p": []any{s.sessionID, "sds_1", "s1", s.symbolKey(s.current), "1D", ""},
		})
		return false, err

	case "critical_error", "protocol_error":
		return false, fmt.Errorf("chart stream error: %s", wm.M)
	}
	return false, nil
}

// applyTimescaleUpdate decodes the bar rows nested under the series node:
// each row's "v" array is [time, open, high, low, close, volume].
func (s *chartSession) applyTimescaleUpdate(wm wireMessage) {
	if len(wm.P) < 2 || s.current >= len(s.tickers) {
		return
	}

	var series map[string]struct {
		S []struct {
			V []float64 `json:"v"`
		} `json:"s"`
	}
	if err := json.Unmarshal(wm.P[1], &series); err != nil {
		return
	}

	ticker := s.tickers[s.current]
	for _, node := range series {
		for _, bar := range node.S {
			if len(bar.V) < 6 {
				continue
			}
			s.bars[ticker] = append(s.bars[ticker], Candle{
				Time:   time.Unix(int64(bar.V[0]), 0).UTC(),
				Open:   bar.V[1],
				High:   bar.V[2],
				Low:    bar.V[3],
				Close:  bar.V[4],
				Volume: bar.V[5],
			})
		}
	}
}
