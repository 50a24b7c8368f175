package screener

import (
	"context"
	"log/slog"
)

// Manager owns one WebSocket connection's screener state: an optional
// bearer token installed by AUTH and the live sessions keyed by session id.
// It is driven by a single reader goroutine, so session-map access needs no
// lock; only Senders are shared with background tasks.
type Manager struct {
	sender   Sender
	store    SymbolStore
	quotes   QuoteFetcher
	logger   *slog.Logger
	token    string
	sessions map[string]*Session
}

// NewManager creates a Manager for one connection.
func NewManager(sender Sender, store SymbolStore, quotes QuoteFetcher, logger *slog.Logger) *Manager {
	return &Manager{
		sender:   sender,
		store:    store,
		quotes:   quotes,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// HandleMessage decodes one client message and dispatches it. Malformed
// payloads and unknown discriminators produce a per-message error without
// tearing the connection.
func (m *Manager) HandleMessage(ctx context.Context, data []byte) {
	req, err := decodeRequest(data)
	if err != nil {
		m.sendError(err.Error())
		return
	}
	if req == nil {
		m.sendError("Unknown event type")
		return
	}

	switch r := req.(type) {
	case *AuthRequest:
		m.onAuth(r)
	case *SubscribeRequest:
		m.onSubscribe(ctx, r)
	case *UnsubscribeRequest:
		m.onUnsubscribe(r)
	case *PatchRequest:
		m.onPatch(ctx, r)
	case *SetUniverseRequest:
		m.onSetUniverse(ctx, r)
	}
}

// OnDisconnect unsubscribes every session.
func (m *Manager) OnDisconnect() {
	for _, session := range m.sessions {
		session.unsubscribe()
	}
	m.sessions = make(map[string]*Session)
	m.logger.Debug("screener client disconnected")
}

func (m *Manager) onAuth(req *AuthRequest) {
	if req.Token != "" && req.Token != "no_auth" {
		m.token = req.Token
	}
}

func (m *Manager) onSubscribe(ctx context.Context, req *SubscribeRequest) {
	if _, exists := m.sessions[req.SessionID]; exists {
		if err := m.sender.SendJSON(DuplicateResponse{T: RespDuplicate, SessionID: req.SessionID}); err != nil {
			m.logger.Debug("duplicate response send failed", slog.String("error", err.Error()))
		}
		return
	}

	session := newSession(req.SessionID, m.token, m.sender, m.store, m.quotes, m.logger)
	m.sessions[req.SessionID] = session
	if err := session.subscribe(ctx, req); err != nil {
		m.logger.Error("screener subscribe failed",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()),
		)
		m.sendSessionError(err)
	}
}

func (m *Manager) onUnsubscribe(req *UnsubscribeRequest) {
	session, ok := m.sessions[req.SessionID]
	if !ok {
		return
	}
	session.unsubscribe()
	delete(m.sessions, req.SessionID)
}

func (m *Manager) onPatch(ctx context.Context, req *PatchRequest) {
	session, ok := m.sessions[req.SessionID]
	if !ok {
		return
	}
	if err := session.patch(ctx, req); err != nil {
		m.logger.Error("screener patch failed",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()),
		)
		m.sendSessionError(err)
	}
}

func (m *Manager) onSetUniverse(ctx context.Context, req *SetUniverseRequest) {
	session, ok := m.sessions[req.SessionID]
	if !ok {
		return
	}
	if err := session.setUniverse(ctx, req); err != nil {
		m.logger.Error("screener set universe failed",
			slog.String("session_id", req.SessionID),
			slog.String("error", err.Error()),
		)
		m.sendSessionError(err)
	}
}

// sendError reports a malformed or unrecognized request without tearing
// the connection.
func (m *Manager) sendError(msg string) {
	if err := m.sender.SendJSON(map[string]string{"error": msg}); err != nil {
		m.logger.Debug("error response send failed", slog.String("error", err.Error()))
	}
}

// sendSessionError reports a session operation failure.
func (m *Manager) sendSessionError(opErr error) {
	if err := m.sender.SendJSON(ErrorResponse{T: RespError, Msg: opErr.Error()}); err != nil {
		m.logger.Debug("error response send failed", slog.String("error", err.Error()))
	}
}
