// Package scaler turns a potentially large, dynamic ticker set into a
// bounded number of provider.Provider instances ("nodes"), each holding at
// most maxTickersPerConnection symbols, to work within an upstream's cap on
// concurrent WebSocket connections per origin.
package scaler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/internal/provider"
)

// NodeFactory constructs a fresh provider.Provider seeded with the given
// ticker list. The Scaler owns the returned provider's lifecycle.
type NodeFactory func(tickers []model.Ticker) provider.Provider

type node struct {
	id       string
	tickers  map[model.Ticker]bool
	instance provider.Provider
	cancel   context.CancelFunc
}

// Scaler fans a dynamic ticker set out across at most maxConnections nodes.
type Scaler struct {
	factory                 NodeFactory
	maxConnections          int
	maxTickersPerConnection int
	logger                  *slog.Logger

	mu           sync.Mutex
	nodes        map[string]*node
	tickerToNode map[model.Ticker]string
	nextNodeNum  int
	running      bool

	ticks chan model.ChangeUpdate
	wg    sync.WaitGroup
}

// New creates a Scaler. It does nothing until Start is called.
func New(factory NodeFactory, maxConnections, maxTickersPerConnection int, logger *slog.Logger) *Scaler {
	return &Scaler{
		factory:                 factory,
		maxConnections:          maxConnections,
		maxTickersPerConnection: maxTickersPerConnection,
		logger:                  logger,
		nodes:                   make(map[string]*node),
		tickerToNode:            make(map[model.Ticker]string),
		ticks:                   make(chan model.ChangeUpdate, 4096),
	}
}

// Start marks the scaler running. It is idempotent.
func (s *Scaler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.logger.Info("scaler started")
	return nil
}

// Stop cancels every node's task, waits for them to drain, and resets all
// state. Safe to call more than once.
func (s *Scaler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	nodes := make([]*node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n)
	}
	s.nodes = make(map[string]*node)
	s.tickerToNode = make(map[model.Ticker]string)
	s.mu.Unlock()

	for _, n := range nodes {
		n.cancel()
		_ = n.instance.Stop(ctx)
	}
	s.wg.Wait()

	s.logger.Info("scaler stopped")
	return nil
}

// QuoteEvents returns the channel every node's ticks are fanned into.
func (s *Scaler) QuoteEvents() <-chan model.ChangeUpdate { return s.ticks }

// AddTickers assigns new tickers across nodes: pass 1 fills existing node
// capacity, pass 2 opens fresh nodes up to maxConnections. Tickers beyond
// total capacity (maxConnections nodes of maxTickersPerConnection each) are silently
// dropped per the bounded-best-effort contract, though the drop count is
// logged at Warn for observability.
func (s *Scaler) AddTickers(ctx context.Context, tickers []model.Ticker) error {
	if err := s.Start(ctx); err != nil {
		return err
	}

	s.mu.Lock()

	var unassigned []model.Ticker
	for _, t := range tickers {
		if _, ok := s.tickerToNode[t]; !ok {
			unassigned = append(unassigned, t)
		}
	}
	if len(unassigned) == 0 {
		s.mu.Unlock()
		return nil
	}

	assignments := make(map[string][]model.Ticker)

	// Pass 1: fill existing nodes up to their remaining capacity.
	for id, n := range s.nodes {
		if len(unassigned) == 0 {
			break
		}
		capacity := s.maxTickersPerConnection - len(n.tickers)
		if capacity <= 0 {
			continue
		}
		take := capacity
		if take > len(unassigned) {
			take = len(unassigned)
		}
		assignments[id] = append(assignments[id], unassigned[:take]...)
		unassigned = unassigned[take:]
	}

	// Pass 2: open fresh nodes while capacity remains.
	for len(unassigned) > 0 && len(s.nodes) < s.maxConnections {
		s.nextNodeNum++
		id := fmt.Sprintf("node_%d", s.nextNodeNum)
		take := s.maxTickersPerConnection
		if take > len(unassigned) {
			take = len(unassigned)
		}
		assignments[id] = append(assignments[id], unassigned[:take]...)
		unassigned = unassigned[take:]
		s.nodes[id] = &node{id: id, tickers: make(map[model.Ticker]bool)}
	}

	if len(unassigned) > 0 {
		s.logger.Warn("scaler capacity exceeded, dropping tickers", slog.Int("dropped", len(unassigned)))
	}

	changed := make([]string, 0, len(assignments))
	for id, assigned := range assignments {
		n := s.nodes[id]
		for _, t := range assigned {
			n.tickers[t] = true
			s.tickerToNode[t] = id
		}
		changed = append(changed, id)
	}
	s.mu.Unlock()

	for _, id := range changed {
		s.restartNode(ctx, id)
	}
	return nil
}

// RemoveTickers drops each ticker from its node and from quote tracking. If
// the owning node still has tickers afterward, its streamer is asked to
// drop the symbol in place (no reconnect); if the node becomes empty, it is
// torn down entirely.
func (s *Scaler) RemoveTickers(ctx context.Context, tickers []model.Ticker) error {
	s.mu.Lock()
	byNode := make(map[string][]model.Ticker)
	for _, t := range tickers {
		id, ok := s.tickerToNode[t]
		if !ok {
			continue
		}
		n, ok := s.nodes[id]
		if !ok {
			continue
		}
		delete(n.tickers, t)
		delete(s.tickerToNode, t)
		byNode[id] = append(byNode[id], t)
	}

	var toTeardown []*node
	keepSymbols := make(map[string][]model.Ticker)
	keepInstance := make(map[string]provider.Provider)
	for id, removed := range byNode {
		n := s.nodes[id]
		if len(n.tickers) == 0 {
			toTeardown = append(toTeardown, n)
			delete(s.nodes, id)
		} else {
			keepSymbols[id] = removed
			keepInstance[id] = n.instance
		}
	}
	s.mu.Unlock()

	for _, n := range toTeardown {
		n.cancel()
		_ = n.instance.Stop(ctx)
	}

	for id, removed := range keepSymbols {
		instance := keepInstance[id]
		for _, t := range removed {
			if err := instance.Unsubscribe(t); err != nil {
				s.logger.Error("failed to remove symbol from node", slog.String("node", id), slog.String("ticker", string(t)), slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// restartNode stops the node's current streamer, if any, and spawns a fresh
// one seeded with its full current ticker list. This rebuild-rather-than-
// incrementally-add policy trades extra reconnects for simpler invariants.
func (s *Scaler) restartNode(ctx context.Context, id string) {
	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	oldCancel := n.cancel
	oldInstance := n.instance
	tickers := make([]model.Ticker, 0, len(n.tickers))
	for t := range n.tickers {
		tickers = append(tickers, t)
	}
	s.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	if oldInstance != nil {
		_ = oldInstance.Stop(ctx)
	}

	nodeCtx, cancel := context.WithCancel(ctx)
	instance := s.factory(tickers)

	s.mu.Lock()
	if n, ok := s.nodes[id]; ok {
		n.instance = instance
		n.cancel = cancel
	}
	s.mu.Unlock()

	s.logger.Info("node started", slog.String("node", id), slog.Int("tickers", len(tickers)))

	if err := instance.Start(nodeCtx); err != nil {
		s.logger.Error("node failed to start", slog.String("node", id), slog.String("error", err.Error()))
		return
	}

	s.wg.Add(1)
	go s.forward(nodeCtx, instance)
}

// forward copies ticks from a single node's channel into the aggregated
// channel until the node's context is cancelled or its channel closes.
func (s *Scaler) forward(ctx context.Context, instance provider.Provider) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-instance.Ticks():
			if !ok {
				return
			}
			select {
			case s.ticks <- tick:
			case <-ctx.Done():
				return
			}
		}
	}
}
