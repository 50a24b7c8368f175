package screener

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

const (
	// Time allowed to write a message to the client
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client
	pongWait = 60 * time.Second

	// Send pings to client with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from client
	maxMessageSize = 64 * 1024
)

// Handler upgrades HTTP connections and runs one Manager per connection.
type Handler struct {
	store  SymbolStore
	quotes QuoteFetcher
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(store SymbolStore, quotes QuoteFetcher, logger *slog.Logger) *Handler {
	return &Handler{store: store, quotes: quotes, logger: logger}
}

// Upgrade returns a middleware that upgrades HTTP to WebSocket.
func (h *Handler) Upgrade() fiber.Handler {
	return websocket.New(h.HandleConnection, websocket.Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	})
}

// connSender serializes writes to the underlying connection: the reader
// goroutine, every session's realtime task and the ping loop all send.
type connSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *connSender) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *connSender) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// HandleConnection runs the read loop for one connection.
func (h *Handler) HandleConnection(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &connSender{conn: conn}
	manager := NewManager(sender, h.store, h.quotes, h.logger)
	defer manager.OnDisconnect()

	pingDone := make(chan struct{})
	defer close(pingDone)
	go h.pingLoop(sender, pingDone)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("screener websocket read error", slog.String("error", err.Error()))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		manager.HandleMessage(ctx, message)
	}
}

func (h *Handler) pingLoop(sender *connSender, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sender.ping(); err != nil {
				return
			}
		}
	}
}
