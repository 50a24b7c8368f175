package scaler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weqory/backend/internal/model"
	"github.com/weqory/backend/internal/provider"
)

// fakeNode is a minimal provider.Provider used to drive the scaler without
// any real network connection.
type fakeNode struct {
	mu      sync.Mutex
	tickers map[model.Ticker]bool
	ticks   chan model.ChangeUpdate
	started bool
	stopped bool
}

func newFakeNode(tickers []model.Ticker) *fakeNode {
	set := make(map[model.Ticker]bool, len(tickers))
	for _, t := range tickers {
		set[t] = true
	}
	return &fakeNode{tickers: set, ticks: make(chan model.ChangeUpdate, 16)}
}

func (n *fakeNode) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = true
	return nil
}

func (n *fakeNode) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = true
	return nil
}

func (n *fakeNode) Subscribe(t model.Ticker) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tickers[t] = true
	return nil
}

func (n *fakeNode) Unsubscribe(t model.Ticker) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.tickers, t)
	return nil
}

func (n *fakeNode) Ticks() <-chan model.ChangeUpdate { return n.ticks }

func newTestScaler(maxConnections, maxTickersPerConnection int) *Scaler {
	factory := func(tickers []model.Ticker) provider.Provider {
		return newFakeNode(tickers)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(factory, maxConnections, maxTickersPerConnection, logger)
}

func TestScaler_AddTickersFillsExistingNodeBeforeOpeningNew(t *testing.T) {
	s := newTestScaler(2, 3)
	ctx := context.Background()

	require.NoError(t, s.AddTickers(ctx, []model.Ticker{"A", "B"}))
	require.NoError(t, s.AddTickers(ctx, []model.Ticker{"C", "D"}))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.nodes, 2) // {A,B,C} fill node_1 to capacity 3, D opens node_2
	assert.Equal(t, "node_1", s.tickerToNode["A"])
	assert.Equal(t, "node_1", s.tickerToNode["C"])
	assert.Equal(t, "node_2", s.tickerToNode["D"])
}

func TestScaler_CapacityExceededDropsSilently(t *testing.T) {
	s := newTestScaler(1, 2)
	ctx := context.Background()

	require.NoError(t, s.AddTickers(ctx, []model.Ticker{"A", "B", "C", "D"}))

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.nodes, 1)
	assert.Len(t, s.tickerToNode, 2) // only A and B fit; C and D silently dropped
}

func TestScaler_RemoveTickersInPlaceWhenNodeSurvives(t *testing.T) {
	s := newTestScaler(1, 3)
	ctx := context.Background()
	require.NoError(t, s.AddTickers(ctx, []model.Ticker{"A", "B", "C"}))

	require.NoError(t, s.RemoveTickers(ctx, []model.Ticker{"B"}))

	s.mu.Lock()
	nodeCount := len(s.nodes)
	_, stillThere := s.tickerToNode["B"]
	s.mu.Unlock()

	assert.Equal(t, 1, nodeCount, "node survives since A and C remain")
	assert.False(t, stillThere)
}

func TestScaler_RemoveTickersTearsDownEmptiedNode(t *testing.T) {
	s := newTestScaler(1, 3)
	ctx := context.Background()
	require.NoError(t, s.AddTickers(ctx, []model.Ticker{"A"}))

	require.NoError(t, s.RemoveTickers(ctx, []model.Ticker{"A"}))

	s.mu.Lock()
	nodeCount := len(s.nodes)
	s.mu.Unlock()
	assert.Equal(t, 0, nodeCount)
}

func TestScaler_QuoteEventsFanInAcrossNodes(t *testing.T) {
	s := newTestScaler(2, 1)
	ctx := context.Background()
	require.NoError(t, s.AddTickers(ctx, []model.Ticker{"A", "B"}))

	s.mu.Lock()
	var instances []*fakeNode
	for _, n := range s.nodes {
		instances = append(instances, n.instance.(*fakeNode))
	}
	s.mu.Unlock()
	require.Len(t, instances, 2)

	instances[0].ticks <- model.ChangeUpdate{Symbol: "A", LTP: 1}
	instances[1].ticks <- model.ChangeUpdate{Symbol: "B", LTP: 2}

	seen := map[model.Ticker]bool{}
	for i := 0; i < 2; i++ {
		select {
		case tick := <-s.QuoteEvents():
			seen[tick.Symbol] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fanned-in tick")
		}
	}
	assert.True(t, seen["A"])
	assert.True(t, seen["B"])
}
