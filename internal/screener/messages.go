// Package screener hosts the WebSocket screener protocol: many concurrent
// sessions per connection, each combining a SQL-backed scan over the
// symbol feature table with a periodic live-quote overlay.
package screener

import "encoding/json"

// Request discriminators, carried in the "t" field.
const (
	ReqAuth        = "AUTH"
	ReqSubscribe   = "SCREENER_SUBSCRIBE"
	ReqPatch       = "SCREENER_PATCH"
	ReqUnsubscribe = "SCREENER_UNSUBSCRIBE"
	ReqSetUniverse = "SCREENER_SET_UNIVERSE"
)

// Response discriminators.
const (
	RespSubscribed = "SCREENER_SUBSCRIBED"
	RespPatched    = "SCREENER_PATCHED"
	RespFull       = "SCREENER_FULL_RESPONSE"
	RespPartial    = "SCREENER_PARTIAL_RESPONSE"
	RespDuplicate  = "SCREENER_DUPLICATE"
	RespError      = "SCREENER_ERROR"
)

// envelope is the first-pass decode that only pulls the discriminator.
type envelope struct {
	T string `json:"t"`
}

// AuthRequest installs a bearer token on the connection. The literal token
// "no_auth" is treated as absent.
type AuthRequest struct {
	T     string `json:"t"`
	Token string `json:"token"`
}

// SubscribeRequest opens a new screener session.
//
// When Universe is not provided the session screens all symbols; when it is
// provided the session behaves as a watchlist over exactly those tickers.
type SubscribeRequest struct {
	T           string       `json:"t"`
	SessionID   string       `json:"session_id"`
	Filters     []FilterExpr `json:"filters"`
	FilterMerge string       `json:"filter_merge"`
	Sort        []SortField  `json:"sort"`
	Columns     []string     `json:"columns"`
	Range       []int        `json:"range"`
	Universe    *[]string    `json:"universe"`
}

// PatchRequest updates only the fields present (non-null) on an existing
// session.
type PatchRequest struct {
	T           string        `json:"t"`
	SessionID   string        `json:"session_id"`
	Filters     *[]FilterExpr `json:"filters"`
	FilterMerge *string       `json:"filter_merge"`
	Sort        *[]SortField  `json:"sort"`
	Columns     *[]string     `json:"columns"`
	Range       *[2]int       `json:"range"`
}

// SetUniverseRequest replaces the session's universe.
type SetUniverseRequest struct {
	T         string    `json:"t"`
	SessionID string    `json:"session_id"`
	Universe  *[]string `json:"universe"`
}

// UnsubscribeRequest tears down a session.
type UnsubscribeRequest struct {
	T         string `json:"t"`
	SessionID string `json:"session_id"`
}

// SubscribedResponse acknowledges a subscribe.
type SubscribedResponse struct {
	T         string `json:"t"`
	SessionID string `json:"session_id"`
}

// PatchedResponse acknowledges that at least one session field changed.
type PatchedResponse struct {
	T         string `json:"t"`
	SessionID string `json:"session_id"`
}

// FullResponse carries one page of the session's filtered, sorted view:
// C names the columns, D is row-major values.
type FullResponse struct {
	T         string   `json:"t"`
	SessionID string   `json:"session_id"`
	C         []string `json:"c"`
	D         [][]any  `json:"d"`
	Range     [2]int   `json:"range"`
	Total     int      `json:"total"`
}

// PartialResponse carries a live-quote batch. The rows are exactly what the
// upstream quote API supplied; the server does not reconcile them against
// the last full response.
type PartialResponse struct {
	T         string           `json:"t"`
	SessionID string           `json:"session_id"`
	D         []map[string]any `json:"d"`
}

// DuplicateResponse signals a subscribe for an already-open session id. The
// existing session is left untouched.
type DuplicateResponse struct {
	T         string `json:"t"`
	SessionID string `json:"session_id"`
}

// ErrorResponse is a per-message error; the connection stays open.
type ErrorResponse struct {
	T   string `json:"t"`
	Msg string `json:"msg"`
}

// decodeRequest parses the discriminator and returns the matching typed
// request, or (nil, nil) for an unknown discriminator.
func decodeRequest(data []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	var target any
	switch env.T {
	case ReqAuth:
		target = &AuthRequest{}
	case ReqSubscribe:
		target = &SubscribeRequest{}
	case ReqPatch:
		target = &PatchRequest{}
	case ReqUnsubscribe:
		target = &UnsubscribeRequest{}
	case ReqSetUniverse:
		target = &SetUniverseRequest{}
	default:
		return nil, nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return nil, err
	}
	return target, nil
}
