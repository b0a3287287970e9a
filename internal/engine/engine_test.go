package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/avelarkai/tradepilot/internal/domain"
	"github.com/avelarkai/tradepilot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStrategy serves a queued batch of opportunities once, then nothing.
type stubStrategy struct {
	name string

	mu   sync.Mutex
	next []domain.Opportunity
	err  error
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) FindOpportunities(ctx context.Context) ([]domain.Opportunity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := s.next
	s.next = nil
	return out, nil
}

func (s *stubStrategy) queue(opps ...domain.Opportunity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = append(s.next, opps...)
}

// stubChain is a scripted ChainConnector. Prices and errors are settable
// per test; executions are counted.
type stubChain struct {
	venue string

	mu          sync.Mutex
	price       float64
	priceErr    error
	buyErr      error
	sellErr     error
	buys        int
	sells       int
	lastSellQty float64
}

func newStubChain(venue string, price float64) *stubChain {
	return &stubChain{venue: venue, price: price}
}

func (c *stubChain) Venue() string   { return c.venue }
func (c *stubChain) Address() string { return "stub:" + c.venue }

func (c *stubChain) GetBalances(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"WBNB": 10}, nil
}

func (c *stubChain) GetTokenPrice(ctx context.Context, instrument string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.priceErr != nil {
		return 0, c.priceErr
	}
	return c.price, nil
}

func (c *stubChain) ExecuteBuy(ctx context.Context, instrument string, walletFraction float64) (ports.ExecResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buys++
	if c.buyErr != nil {
		return ports.ExecResult{}, c.buyErr
	}
	return ports.ExecResult{Price: c.price, Amount: 100, Quantity: 100 / c.price, Ref: "buy-ref"}, nil
}

func (c *stubChain) ExecuteSell(ctx context.Context, instrument string, quantity float64) (ports.ExecResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sells++
	c.lastSellQty = quantity
	if c.sellErr != nil {
		return ports.ExecResult{}, c.sellErr
	}
	return ports.ExecResult{Price: c.price, Amount: quantity * c.price, Quantity: quantity, Ref: "sell-ref"}, nil
}

func (c *stubChain) setPrice(p float64) {
	c.mu.Lock()
	c.price = p
	c.mu.Unlock()
}

func (c *stubChain) setPriceErr(err error) {
	c.mu.Lock()
	c.priceErr = err
	c.mu.Unlock()
}

func (c *stubChain) sellCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sells
}

// stubExchange is a scripted ExchangeConnector.
type stubExchange struct {
	venue string

	mu           sync.Mutex
	price        float64
	priceErr     error
	tradeErr     error
	closeErr     error
	orders       int
	closes       int
	lastCloseQty float64
}

func (c *stubExchange) Venue() string { return c.venue }

func (c *stubExchange) GetBalances(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"USDT": 1000}, nil
}

func (c *stubExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.priceErr != nil {
		return 0, c.priceErr
	}
	return c.price, nil
}

func (c *stubExchange) ExecuteTrade(ctx context.Context, symbol string, side domain.Side, amount float64) (ports.ExecResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders++
	if c.tradeErr != nil {
		return ports.ExecResult{}, c.tradeErr
	}
	return ports.ExecResult{Price: c.price, Amount: amount, Quantity: amount / c.price, Ref: "order-1"}, nil
}

func (c *stubExchange) ExecuteClose(ctx context.Context, symbol string, side domain.Side, quantity float64) (ports.ExecResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	c.lastCloseQty = quantity
	if c.closeErr != nil {
		return ports.ExecResult{}, c.closeErr
	}
	return ports.ExecResult{Price: c.price, Amount: quantity * c.price, Quantity: quantity, Ref: "order-2"}, nil
}

// memStore is an in-memory HistoryStore.
type memStore struct {
	mu      sync.Mutex
	trades  []domain.Trade
	loadErr error
}

func (m *memStore) Append(ctx context.Context, t domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

func (m *memStore) Load(ctx context.Context) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make([]domain.Trade, len(m.trades))
	copy(out, m.trades)
	return out, nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.trades)
}

// recorder collects every published event.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) ofType(typ domain.EventType) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// quietConfig keeps the timer loops from interfering with direct cycle
// calls in tests.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.DiscoveryInterval = time.Hour
	cfg.MonitorInterval = time.Hour
	cfg.BalanceInterval = time.Hour
	cfg.CloseTradesOnStop = false
	return cfg
}

func chainOpp(venue, instrument string, score float64) domain.Opportunity {
	return domain.Opportunity{
		Venue:      venue,
		VenueClass: domain.VenueChain,
		Instrument: instrument,
		Side:       domain.SideBuy,
		Strategy:   "test",
		Score:      score,
		FoundAt:    time.Now(),
	}
}

// markRunning flips the running flag without launching the timer loops, so
// a test can drive RunDiscoveryOnce and RunMonitorOnce directly.
func markRunning(e *Engine, running bool) {
	e.mu.Lock()
	e.running = running
	e.mu.Unlock()
}

func TestEngine_StartRequiresConnector(t *testing.T) {
	e := New(quietConfig(), nil, nil, nil, &memStore{}, nil)
	err := e.Start(context.Background())
	assert.Error(t, err)
	assert.False(t, e.Running())
}

func TestEngine_StartTwiceFails(t *testing.T) {
	conn := newStubChain("bsc", 100)
	e := New(quietConfig(), nil, []ports.ChainConnector{conn}, nil, &memStore{}, nil)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	assert.Error(t, e.Start(context.Background()))
	assert.True(t, e.Running())
}

func TestEngine_StopWhenNotRunningFails(t *testing.T) {
	e := New(quietConfig(), nil, []ports.ChainConnector{newStubChain("bsc", 100)}, nil, &memStore{}, nil)
	assert.Error(t, e.Stop())
}

func TestEngine_StartStopLifecycle(t *testing.T) {
	conn := newStubChain("bsc", 100)
	e := New(quietConfig(), nil, []ports.ChainConnector{conn}, nil, &memStore{}, nil)

	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.Running())

	require.NoError(t, e.Stop())
	assert.False(t, e.Running())

	// A stopped engine can be started again.
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Stop())
}

func TestEngine_StartLoadsHistory(t *testing.T) {
	store := &memStore{}
	closedAt := time.Now().Add(-time.Hour)
	trade := domain.Trade{
		ID: "old", Venue: "bsc", VenueClass: domain.VenueChain,
		Instrument: "0xabc", Side: domain.SideBuy, Amount: 100,
		EntryPrice: 100, Status: domain.TradeClosed,
		CloseReason: domain.CloseTakeProfit, ClosePrice: 106,
		ProfitLossPct: 6, ProfitLoss: 6,
		OpenedAt:      closedAt.Add(-time.Minute), ClosedAt: &closedAt,
	}
	require.NoError(t, store.Append(context.Background(), trade))

	e := New(quietConfig(), nil, []ports.ChainConnector{newStubChain("bsc", 100)}, nil, store, nil)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	snap := e.Snapshot()
	assert.Equal(t, 1, snap.Stats.TotalTrades)
	assert.Equal(t, 1, snap.Stats.Wins)
	assert.Len(t, e.History(), 1)
}

func TestEngine_StartSurvivesBrokenHistory(t *testing.T) {
	store := &memStore{loadErr: errors.New("db corrupt")}
	e := New(quietConfig(), nil, []ports.ChainConnector{newStubChain("bsc", 100)}, nil, store, nil)

	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	assert.Zero(t, e.Snapshot().Stats.TotalTrades)
	assert.Empty(t, e.History())
}

func TestEngine_StopClosesOpenTrades(t *testing.T) {
	cfg := quietConfig()
	cfg.CloseTradesOnStop = true

	conn := newStubChain("bsc", 100)
	st := &stubStrategy{name: "test"}
	st.queue(chainOpp("bsc", "0xabc", 0))
	store := &memStore{}
	pub := &recorder{}

	e := New(cfg, []ports.Strategy{st}, []ports.ChainConnector{conn}, nil, store, pub)
	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(e.Snapshot().OpenTrades) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, e.Stop())

	history := e.History()
	require.Len(t, history, 1)
	assert.Equal(t, domain.CloseBotStopped, history[0].CloseReason)
	assert.Equal(t, domain.TradeClosed, history[0].Status)
	assert.Empty(t, e.Snapshot().OpenTrades)
	assert.Equal(t, 1, store.count())
	assert.Equal(t, 1, conn.sellCount())
}

func TestEngine_StopMarksUnclosableTradeFailed(t *testing.T) {
	cfg := quietConfig()
	cfg.CloseTradesOnStop = true

	conn := newStubChain("bsc", 100)
	st := &stubStrategy{name: "test"}
	st.queue(chainOpp("bsc", "0xabc", 0))
	store := &memStore{}
	pub := &recorder{}

	e := New(cfg, []ports.Strategy{st}, []ports.ChainConnector{conn}, nil, store, pub)
	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(e.Snapshot().OpenTrades) == 1
	}, time.Second, 10*time.Millisecond)

	conn.mu.Lock()
	conn.sellErr = errors.New("router reverted")
	conn.mu.Unlock()

	require.NoError(t, e.Stop())

	// The shutdown close failed and there is no next cycle to retry on: the
	// trade is terminal-failed, still visible in the snapshot, and never
	// reaches history or the store.
	snap := e.Snapshot()
	require.Len(t, snap.OpenTrades, 1)
	assert.Equal(t, domain.TradeFailed, snap.OpenTrades[0].Status)
	assert.Empty(t, e.History())
	assert.Zero(t, store.count())
	assert.NotEmpty(t, pub.ofType(domain.EventCycleError))

	// Failed trades are excluded from monitoring.
	markRunning(e, true)
	require.True(t, e.RunMonitorOnce(context.Background()))
	assert.Equal(t, 1, conn.sellCount())
}

func TestEngine_StopKeepsTradesWhenPolicyOff(t *testing.T) {
	conn := newStubChain("bsc", 100)
	st := &stubStrategy{name: "test"}
	st.queue(chainOpp("bsc", "0xabc", 0))

	e := New(quietConfig(), []ports.Strategy{st}, []ports.ChainConnector{conn}, nil, &memStore{}, nil)
	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool {
		return len(e.Snapshot().OpenTrades) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, e.Stop())

	assert.Len(t, e.Snapshot().OpenTrades, 1)
	assert.Empty(t, e.History())
	assert.Zero(t, conn.sellCount())
}

func TestEngine_DiscardsExecutionAfterStop(t *testing.T) {
	conn := newStubChain("bsc", 100)
	e := New(quietConfig(), nil, []ports.ChainConnector{conn}, nil, &memStore{}, nil)

	// The order completes while the engine is already stopped: the result
	// must be discarded, not tracked.
	opened := e.executeOpportunity(context.Background(), chainOpp("bsc", "0xabc", 0))
	assert.False(t, opened)
	assert.Empty(t, e.Snapshot().OpenTrades)
}

func TestEngine_ManualClose(t *testing.T) {
	conn := newStubChain("bsc", 100)
	e := New(quietConfig(), nil, []ports.ChainConnector{conn}, nil, &memStore{}, nil)
	markRunning(e, true)

	require.True(t, e.executeOpportunity(context.Background(), chainOpp("bsc", "0xabc", 0)))
	snap := e.Snapshot()
	require.Len(t, snap.OpenTrades, 1)

	conn.setPrice(110)
	require.NoError(t, e.CloseTrade(context.Background(), snap.OpenTrades[0].ID))

	history := e.History()
	require.Len(t, history, 1)
	assert.Equal(t, domain.CloseManual, history[0].CloseReason)
	assert.InDelta(t, 10, history[0].ProfitLossPct, 0.001)

	assert.Error(t, e.CloseTrade(context.Background(), "no-such-id"))
}

func TestEngine_HandleNewTokenQueuesForNextCycle(t *testing.T) {
	conn := newStubChain("bsc", 100)
	pub := &recorder{}
	e := New(quietConfig(), nil, []ports.ChainConnector{conn}, nil, &memStore{}, pub)
	markRunning(e, true)

	e.HandleNewToken(domain.TokenEvent{Venue: "bsc", Instrument: "0xnew", Symbol: "NEW"})

	require.True(t, e.RunDiscoveryOnce(context.Background()))

	snap := e.Snapshot()
	require.Len(t, snap.OpenTrades, 1)
	assert.Equal(t, "0xnew", snap.OpenTrades[0].Instrument)
	assert.Equal(t, "scanner", snap.OpenTrades[0].Strategy)
	assert.Equal(t, domain.SideBuy, snap.OpenTrades[0].Side)
}

func TestEngine_RefreshBalances(t *testing.T) {
	conn := newStubChain("bsc", 100)
	e := New(quietConfig(), nil, []ports.ChainConnector{conn}, nil, &memStore{}, nil)

	e.RefreshBalances(context.Background())

	snap := e.Snapshot()
	require.Len(t, snap.Balances, 1)
	assert.Equal(t, "bsc", snap.Balances[0].Venue)
	assert.Equal(t, 10.0, snap.Balances[0].Assets["WBNB"])
	assert.False(t, snap.Balances[0].FetchedAt.IsZero())
}
