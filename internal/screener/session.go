package screener

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	realtimeInterval = 5 * time.Second
	quoteBatchSize   = 500
)

var (
	defaultColumns = []string{"ticker", "name", "logo", "day_close"}
	// patch's empty-columns sentinel differs from subscribe's.
	patchedEmptyColumns = []string{"name"}
)

// Sender delivers one JSON response to the client. Implementations must be
// safe for concurrent use: the realtime loop and the request handler both
// write.
type Sender interface {
	SendJSON(v any) error
}

// Session is one screener subscription: a filter/sort/columns/range view
// over the symbol table plus a periodic live-quote dispatch task.
type Session struct {
	sessionID string
	token     string
	sender    Sender
	store     SymbolStore
	quotes    QuoteFetcher
	logger    *slog.Logger

	mu          sync.Mutex
	universe    *[]string
	filters     []FilterExpr
	filterMerge string
	sort        []SortField
	columns     []string
	rng         [2]int
	liveSymbols []LiveSymbol

	cancelRealtime context.CancelFunc
}

func newSession(sessionID, token string, sender Sender, store SymbolStore, quotes QuoteFetcher, logger *slog.Logger) *Session {
	return &Session{
		sessionID:   sessionID,
		token:       token,
		sender:      sender,
		store:       store,
		quotes:      quotes,
		logger:      logger.With(slog.String("session_id", sessionID)),
		filterMerge: "OR",
		columns:     defaultColumns,
		rng:         [2]int{0, -1},
	}
}

// subscribe adopts the request's view state, acknowledges, sends the first
// full page, prefetches the live-symbol projection and starts the realtime
// dispatch task.
func (s *Session) subscribe(ctx context.Context, req *SubscribeRequest) error {
	s.mu.Lock()
	s.universe = req.Universe
	if len(req.Columns) == 0 {
		s.columns = defaultColumns
	} else {
		s.columns = req.Columns
	}
	if len(req.Range) >= 2 {
		s.rng = [2]int{req.Range[0], req.Range[1]}
	} else {
		s.rng = [2]int{0, -1}
	}
	s.filters = req.Filters
	if req.FilterMerge != "" {
		s.filterMerge = req.FilterMerge
	}
	s.sort = withNameTiebreaker(req.Sort)
	s.mu.Unlock()

	if err := s.sender.SendJSON(SubscribedResponse{T: RespSubscribed, SessionID: s.sessionID}); err != nil {
		return err
	}
	if err := s.dispatchFullResponse(ctx); err != nil {
		return err
	}
	s.prefetchLiveSymbols(ctx)

	realtimeCtx, cancel := context.WithCancel(ctx)
	s.cancelRealtime = cancel
	go s.dispatchRealtime(realtimeCtx)
	return nil
}

// unsubscribe cancels the realtime task.
func (s *Session) unsubscribe() {
	if s.cancelRealtime != nil {
		s.cancelRealtime()
	}
}

// patch applies only the fields present on the request. When anything
// changed it acknowledges, re-sends the full page, and refreshes the
// live-symbol projection.
func (s *Session) patch(ctx context.Context, req *PatchRequest) error {
	patched := false

	s.mu.Lock()
	if req.FilterMerge != nil {
		patched = true
		s.filterMerge = *req.FilterMerge
	}
	if req.Columns != nil {
		patched = true
		if len(*req.Columns) == 0 {
			s.columns = patchedEmptyColumns
		} else {
			s.columns = *req.Columns
		}
	}
	if req.Filters != nil {
		patched = true
		s.filters = *req.Filters
	}
	if req.Range != nil {
		patched = true
		s.rng = *req.Range
	}
	if req.Sort != nil {
		patched = true
		s.sort = withNameTiebreaker(*req.Sort)
	}
	s.mu.Unlock()

	if !patched {
		return nil
	}

	if err := s.sender.SendJSON(PatchedResponse{T: RespPatched, SessionID: s.sessionID}); err != nil {
		return err
	}
	if err := s.dispatchFullResponse(ctx); err != nil {
		return err
	}
	s.prefetchLiveSymbols(ctx)
	return nil
}

// setUniverse replaces the universe, re-sends the full page and refreshes
// the live-symbol projection.
func (s *Session) setUniverse(ctx context.Context, req *SetUniverseRequest) error {
	s.mu.Lock()
	s.universe = req.Universe
	s.mu.Unlock()

	if err := s.dispatchFullResponse(ctx); err != nil {
		return err
	}
	s.prefetchLiveSymbols(ctx)
	return nil
}

// withNameTiebreaker appends a name ASC sort so that pagination stays
// consistent when multiple rows carry the same value in the sort columns.
func withNameTiebreaker(sort []SortField) []SortField {
	out := make([]SortField, 0, len(sort)+1)
	out = append(out, sort...)
	out = append(out, SortField{ColID: "name", Direction: "ASC"})
	return out
}

// view snapshots the session's query state under the lock.
func (s *Session) view() (filters []FilterExpr, merge string, sortFields []SortField, columns []string, rng [2]int, universe *[]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters, s.filterMerge, s.sort, s.columns, s.rng, s.universe
}

// dispatchFullResponse sends the current page [start, end) plus the total
// count of the filtered view. An inverted or negative-end range sends
// nothing.
func (s *Session) dispatchFullResponse(ctx context.Context) error {
	filters, merge, sortFields, columns, rng, universe := s.view()

	start, end := rng[0], rng[1]
	if end < start || end < 0 {
		return nil
	}

	totalResult, err := s.store.QuerySymbols(ctx, Query{
		Columns:     []string{"ticker"},
		Filters:     filters,
		FilterMerge: merge,
		Universe:    universe,
		Limit:       -1,
	})
	if err != nil {
		return err
	}
	total := len(totalResult.Rows)

	page, err := s.store.QuerySymbols(ctx, Query{
		Columns:     columns,
		Filters:     filters,
		FilterMerge: merge,
		Sort:        sortFields,
		Universe:    universe,
		Offset:      start,
		Limit:       end - start,
	})
	if err != nil {
		return err
	}

	rows := page.Rows
	if rows == nil {
		rows = [][]any{}
	}
	return s.sender.SendJSON(FullResponse{
		T:         RespFull,
		SessionID: s.sessionID,
		C:         page.Columns,
		D:         rows,
		Range:     [2]int{start, end},
		Total:     total,
	})
}

// prefetchLiveSymbols refreshes the ticker/name/isin/type/exchange
// projection the realtime loop resolves quotes against. Failures keep the
// previous projection.
func (s *Session) prefetchLiveSymbols(ctx context.Context) {
	filters, merge, sortFields, _, _, universe := s.view()

	result, err := s.store.QuerySymbols(ctx, Query{
		Columns:     liveSymbolColumns,
		Filters:     filters,
		FilterMerge: merge,
		Sort:        sortFields,
		Universe:    universe,
		Limit:       -1,
	})
	if err != nil {
		s.logger.Error("failed to prefetch live symbols", slog.String("error", err.Error()))
		return
	}

	symbols := liveSymbolsFromTable(result)
	s.mu.Lock()
	s.liveSymbols = symbols
	s.mu.Unlock()
}

// dispatchRealtime is the session's background task: every 5 seconds, when
// a token is set and the live projection is non-empty, it fetches quotes in
// batches of 500 and emits each batch as a partial response.
func (s *Session) dispatchRealtime(ctx context.Context) {
	ticker := time.NewTicker(realtimeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchQuoteBatches(ctx)
		}
	}
}

func (s *Session) dispatchQuoteBatches(ctx context.Context) {
	s.mu.Lock()
	token := s.token
	symbols := s.liveSymbols
	s.mu.Unlock()

	if token == "" || len(symbols) == 0 {
		return
	}

	for offset := 0; offset < len(symbols); offset += quoteBatchSize {
		end := offset + quoteBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		updates, err := s.quotes.FetchQuotes(ctx, token, symbols[offset:end])
		if err != nil {
			s.logger.Error("live quote fetch failed", slog.String("error", err.Error()))
			return
		}
		if len(updates) == 0 {
			continue
		}
		if err := s.sender.SendJSON(PartialResponse{T: RespPartial, SessionID: s.sessionID, D: updates}); err != nil {
			s.logger.Debug("partial response send failed", slog.String("error", err.Error()))
			return
		}
	}
}
