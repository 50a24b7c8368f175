package alertengine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weqory/backend/internal/alerteval"
	"github.com/weqory/backend/internal/alertstore"
	"github.com/weqory/backend/internal/dispatcher"
	"github.com/weqory/backend/internal/model"
)

// fakeStore is an in-memory Store stub; it never streams change-feed events
// unless the test calls the recorded callbacks itself.
type fakeStore struct {
	mu          sync.Mutex
	alerts      []*model.Alert
	triggeredID []int64
}

func (s *fakeStore) FetchActiveAlerts(ctx context.Context) ([]*model.Alert, error) {
	return s.alerts, nil
}

func (s *fakeStore) MarkTriggered(ctx context.Context, id int64, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggeredID = append(s.triggeredID, id)
	return nil
}

func (s *fakeStore) SubscribeToChanges(ctx context.Context, onInsert alertstore.OnInsert, onUpdate alertstore.OnUpdate, onDelete alertstore.OnDelete) error {
	return nil
}

// fakeProvider is a Provider stub whose test owns the Ticks channel directly.
type fakeProvider struct {
	mu          sync.Mutex
	subscribed  map[model.Ticker]bool
	ticks       chan model.ChangeUpdate
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{subscribed: make(map[model.Ticker]bool), ticks: make(chan model.ChangeUpdate, 16)}
}

func (p *fakeProvider) Start(ctx context.Context) error { return nil }
func (p *fakeProvider) Stop(ctx context.Context) error {
	close(p.ticks)
	return nil
}
func (p *fakeProvider) Subscribe(symbol model.Ticker) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribed[symbol] = true
	return nil
}
func (p *fakeProvider) Unsubscribe(symbol model.Ticker) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribed, symbol)
	return nil
}
func (p *fakeProvider) Ticks() <-chan model.ChangeUpdate { return p.ticks }

// fakeHandler records every invocation so a test can assert it fired exactly once.
type fakeHandler struct {
	mu    sync.Mutex
	calls []int64
}

func (h *fakeHandler) Handle(ctx context.Context, alert *model.Alert, update model.ChangeUpdate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, alert.ID)
	return nil
}

func (h *fakeHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func constant(v float64) *float64 { return &v }

func TestEngine_FiresWebhookExactlyOnceOnCrossing(t *testing.T) {
	rhs := constant(100)
	alert := &model.Alert{
		ID: 1, Symbol: "NSE:TCS", IsActive: true,
		LHSType: model.LHSLastPrice, Operator: model.OpGT,
		RHSType: model.RHSConstant, RHSConstant: rhs,
	}

	store := &fakeStore{alerts: []*model.Alert{alert}}
	prov := newFakeProvider()
	handler := &fakeHandler{}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	disp := dispatcher.New(logger, handler)
	engine := New(store, prov, alerteval.New(), disp, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, engine.Run(ctx))
	go disp.Run(ctx)

	assert.True(t, prov.subscribed["NSE:TCS"])

	// First tick crosses the threshold: must fire exactly once.
	prov.ticks <- model.ChangeUpdate{Symbol: "NSE:TCS", LTP: 101, LTT: time.Now()}
	// A second tick, still above threshold, must not re-fire: the alert was
	// removed from the in-memory index the instant it fired.
	prov.ticks <- model.ChangeUpdate{Symbol: "NSE:TCS", LTP: 102, LTT: time.Now()}

	require.Eventually(t, func() bool { return handler.count() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, handler.count())
	assert.Equal(t, []int64{1}, store.triggeredID)

	// The firing drained the symbol's only alert, so the subscription goes too.
	prov.mu.Lock()
	defer prov.mu.Unlock()
	assert.False(t, prov.subscribed["NSE:TCS"])
}

func TestEngine_DoesNotFireBelowThreshold(t *testing.T) {
	rhs := constant(100)
	alert := &model.Alert{
		ID: 2, Symbol: "NSE:INFY", IsActive: true,
		LHSType: model.LHSLastPrice, Operator: model.OpGT,
		RHSType: model.RHSConstant, RHSConstant: rhs,
	}

	store := &fakeStore{alerts: []*model.Alert{alert}}
	prov := newFakeProvider()
	handler := &fakeHandler{}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	disp := dispatcher.New(logger, handler)
	engine := New(store, prov, alerteval.New(), disp, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, engine.Run(ctx))
	go disp.Run(ctx)

	prov.ticks <- model.ChangeUpdate{Symbol: "NSE:INFY", LTP: 99, LTT: time.Now()}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, handler.count())
	assert.Equal(t, 1, engine.AlertCount())
}

func TestEngine_OnInsertSubscribesNewSymbol(t *testing.T) {
	store := &fakeStore{}
	prov := newFakeProvider()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	disp := dispatcher.New(logger)
	engine := New(store, prov, alerteval.New(), disp, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, engine.Run(ctx))

	rhs := constant(50)
	engine.onInsert(&model.Alert{
		ID: 3, Symbol: "NSE:WIPRO", IsActive: true,
		LHSType: model.LHSLastPrice, Operator: model.OpLT,
		RHSType: model.RHSConstant, RHSConstant: rhs,
	})

	assert.True(t, prov.subscribed["NSE:WIPRO"])
	assert.Equal(t, 1, engine.AlertCount())
}

func TestEngine_OnDeleteUnsubscribesWhenLastAlertRemoved(t *testing.T) {
	rhs := constant(50)
	alert := &model.Alert{
		ID: 4, Symbol: "NSE:HDFC", IsActive: true,
		LHSType: model.LHSLastPrice, Operator: model.OpLT,
		RHSType: model.RHSConstant, RHSConstant: rhs,
	}
	store := &fakeStore{alerts: []*model.Alert{alert}}
	prov := newFakeProvider()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	disp := dispatcher.New(logger)
	engine := New(store, prov, alerteval.New(), disp, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, engine.Run(ctx))
	require.True(t, prov.subscribed["NSE:HDFC"])

	engine.onDelete(4)

	assert.False(t, prov.subscribed["NSE:HDFC"])
	assert.Equal(t, 0, engine.AlertCount())
}
