package quotecodec

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weqory/backend/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 * 1024 * 1024

	sessionIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	sessionIDLength    = 12
)

// Client speaks the framed quote protocol against a single upstream
// WebSocket endpoint and surfaces connected/disconnected/quote_update/
// quote_completed/error events as model.ChangeUpdate ticks. It implements
// internal/provider.Provider.
type Client struct {
	url    string
	origin string
	fields []string

	reconnectDelay   time.Duration
	reconnectAttempts int

	logger *slog.Logger

	mu          sync.RWMutex
	conn        *websocket.Conn
	sessionID   string
	tickers     map[model.Ticker]bool
	quotes      map[model.Ticker]map[string]any
	completed   map[model.Ticker]bool

	ticks  chan model.ChangeUpdate
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Client at construction.
type Option func(*Client)

// WithFields requests the given field list via quote_set_fields.
func WithFields(fields ...string) Option {
	return func(c *Client) { c.fields = fields }
}

// WithReconnectPolicy overrides the default linear back-off.
func WithReconnectPolicy(delay time.Duration, attempts int) Option {
	return func(c *Client) {
		c.reconnectDelay = delay
		c.reconnectAttempts = attempts
	}
}

// New creates a Client dialing url with the given Origin header.
func New(url, origin string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		url:               url,
		origin:            origin,
		reconnectDelay:    5 * time.Second,
		reconnectAttempts: 3,
		logger:            logger,
		tickers:           make(map[model.Ticker]bool),
		quotes:            make(map[model.Ticker]map[string]any),
		completed:         make(map[model.Ticker]bool),
		ticks:             make(chan model.ChangeUpdate, 1024),
		events:            make(chan Event, 256),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newSessionID(prefix string) string {
	buf := make([]byte, sessionIDLength)
	_, _ = rand.Read(buf)
	out := make([]byte, sessionIDLength)
	for i, b := range buf {
		out[i] = sessionIDAlphabet[int(b)%len(sessionIDAlphabet)]
	}
	return prefix + "_" + string(out)
}

// Ticks implements provider.Provider.
func (c *Client) Ticks() <-chan model.ChangeUpdate { return c.ticks }

// Events exposes the full connected/disconnected/quote_update/
// quote_completed/error event stream, for consumers that need more than
// bare price ticks (diagnostics, the gateway's /ws passthrough).
func (c *Client) Events() <-chan Event { return c.events }

// Subscribe implements provider.Provider. Subscribing to an already-watched
// ticker is a no-op. If the connection is live, a quote_add_symbols frame is
// sent immediately; otherwise the ticker joins the set resubscribed on the
// next session bring-up.
func (c *Client) Subscribe(ticker model.Ticker) error {
	c.mu.Lock()
	if c.tickers[ticker] {
		c.mu.Unlock()
		return nil
	}
	c.tickers[ticker] = true
	conn := c.conn
	sessionID := c.sessionID
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.send(conn, map[string]any{"m": "quote_add_symbols", "p": []any{sessionID, string(ticker)}})
}

// Unsubscribe implements provider.Provider: the live session is asked to
// drop the symbol in place, no reconnect.
func (c *Client) Unsubscribe(ticker model.Ticker) error {
	c.mu.Lock()
	delete(c.tickers, ticker)
	delete(c.quotes, ticker)
	delete(c.completed, ticker)
	conn := c.conn
	sessionID := c.sessionID
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.send(conn, map[string]any{"m": "quote_remove_symbols", "p": []any{sessionID, string(ticker)}})
}

// Start begins the connect/read/reconnect loop on a background goroutine
// and returns immediately.
func (c *Client) Start(ctx context.Context) error {
	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Stop tears the connection down and waits for the background loop to exit.
func (c *Client) Stop(ctx context.Context) error {
	close(c.done)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}

	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(10 * time.Second):
		c.logger.Warn("timeout waiting for quote client to stop")
	case <-ctx.Done():
	}

	close(c.ticks)
	close(c.events)
	return nil
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		if attempts > 0 {
			select {
			case <-time.After(c.reconnectDelay):
			case <-ctx.Done():
				return
			case <-c.done:
				return
			}
		}

		if err := c.connectAndRead(ctx); err != nil {
			c.logger.Error("quote stream disconnected", slog.String("error", err.Error()))
			attempts++
			if attempts > c.reconnectAttempts {
				c.logger.Error("quote stream giving up after max reconnect attempts")
				return
			}
			continue
		}
		return
	}
}

// connectAndRead dials, wipes state except the requested ticker list
// (per spec's reconnection contract), re-runs session bring-up, and reads
// until the connection closes or ctx is cancelled.
func (c *Client) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := map[string][]string{"Origin": {c.origin}}
	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial quote stream: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.mu.Lock()
	c.conn = conn
	c.quotes = make(map[model.Ticker]map[string]any)
	c.completed = make(map[model.Ticker]bool)
	tickers := make([]model.Ticker, 0, len(c.tickers))
	for t := range c.tickers {
		tickers = append(tickers, t)
	}
	c.mu.Unlock()

	c.emit(Event{Type: EventConnected})

	if err := c.initializeSession(conn, tickers); err != nil {
		return err
	}

	pingDone := make(chan struct{})
	go c.pingLoop(conn, pingDone)
	defer close(pingDone)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.emit(Event{Type: EventDisconnected, Data: map[string]any{"reason": err.Error()}})
			return err
		}
		c.handleMessage(conn, string(msg))
	}
}

func (c *Client) initializeSession(conn *websocket.Conn, tickers []model.Ticker) error {
	sessionID := newSessionID("qs")
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()

	symbols := make([]any, 0, len(tickers)+1)
	symbols = append(symbols, sessionID)
	for _, t := range tickers {
		symbols = append(symbols, string(t))
	}

	messages := []map[string]any{
		{"m": "set_auth_token", "p": []any{"unauthorized_user_token"}},
		{"m": "set_locale", "p": []any{"en", "IN"}},
		{"m": "quote_create_session", "p": []any{sessionID}},
		{"m": "quote_add_symbols", "p": symbols},
	}
	if len(c.fields) > 0 {
		fieldParams := make([]any, 0, len(c.fields)+1)
		fieldParams = append(fieldParams, sessionID)
		for _, f := range c.fields {
			fieldParams = append(fieldParams, f)
		}
		messages = append(messages, map[string]any{"m": "quote_set_fields", "p": fieldParams})
	}

	for _, m := range messages {
		if err := c.send(conn, m); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) send(conn *websocket.Conn, msg map[string]any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal session message: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, []byte(Encode(string(payload))))
}

func (c *Client) handleMessage(conn *websocket.Conn, raw string) {
	payloads, heartbeats := Decode(raw)

	for _, hb := range heartbeats {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(Encode(hb))); err != nil {
			c.logger.Error("heartbeat echo failed", slog.String("error", err.Error()))
		}
	}

	for _, p := range payloads {
		var wm wireMessage
		if err := json.Unmarshal([]byte(p), &wm); err != nil {
			c.logger.Debug("discarding malformed frame payload", slog.String("payload", p))
			continue
		}
		c.handleWireMessage(wm)
	}
}

func (c *Client) handleWireMessage(wm wireMessage) {
	switch wm.M {
	case "quote_completed":
		if len(wm.P) < 2 {
			return
		}
		var tickerStr string
		if err := json.Unmarshal(wm.P[1], &tickerStr); err != nil {
			return
		}
		ticker := model.Ticker(tickerStr)
		c.mu.Lock()
		c.completed[ticker] = true
		quote := c.quotes[ticker]
		c.mu.Unlock()
		c.emit(Event{Type: EventQuoteCompleted, Ticker: string(ticker), Data: quote})

	case "qsd":
		if len(wm.P) < 2 {
			return
		}
		var qd quoteData
		if err := json.Unmarshal(wm.P[1], &qd); err != nil || qd.N == "" {
			return
		}
		ticker := model.Ticker(qd.N)

		c.mu.Lock()
		merged := c.quotes[ticker]
		if merged == nil {
			merged = make(map[string]any)
		}
		for k, v := range qd.V {
			merged[k] = v
		}
		c.quotes[ticker] = merged
		isCompleted := c.completed[ticker]
		c.mu.Unlock()

		if !isCompleted {
			return
		}
		update, ok := changeUpdateFromQuote(ticker, merged)
		if ok {
			select {
			case c.ticks <- update:
			default:
				// Ticks are replaceable state, not durable events: drop the
				// stalest one rather than block the read loop.
				select {
				case <-c.ticks:
				default:
				}
				c.ticks <- update
			}
		}
		c.emit(Event{Type: EventQuoteUpdate, Ticker: string(ticker), Data: merged})

	case "critical_error", "protocol_error":
		msg := "unknown error"
		if len(wm.P) > 0 {
			var s string
			if err := json.Unmarshal(wm.P[0], &s); err == nil {
				msg = s
			}
		}
		c.emit(Event{Type: EventError, Data: map[string]any{"message": msg}})
	}
}

// changeUpdateFromQuote builds a tick from a merged quote value map: lp is
// the price, the volume field fills LTQ, and LTT is the time of receipt. A
// quote missing lp (last price) cannot produce a tick.
func changeUpdateFromQuote(ticker model.Ticker, values map[string]any) (model.ChangeUpdate, bool) {
	lp, ok := values["lp"].(float64)
	if !ok {
		return model.ChangeUpdate{}, false
	}
	update := model.ChangeUpdate{Symbol: ticker, LTP: lp, LTT: time.Now()}
	if ltq, ok := values["volume"].(float64); ok {
		update.LTQ = ltq
	}
	return update, true
}

// emit is a non-blocking send: a slow or absent Events() consumer must never
// stall the read loop that also feeds Ticks().
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
