package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avelarkai/tradepilot/internal/domain"
	"github.com/avelarkai/tradepilot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankOpportunities_ScoreDescending(t *testing.T) {
	opps := []domain.Opportunity{
		chainOpp("bsc", "low", 10),
		chainOpp("bsc", "high", 90),
		chainOpp("bsc", "mid", 50),
	}

	ranked := rankOpportunities(opps)

	assert.Equal(t, "high", ranked[0].Instrument)
	assert.Equal(t, "mid", ranked[1].Instrument)
	assert.Equal(t, "low", ranked[2].Instrument)
}

func TestRankOpportunities_EqualScoresKeepOrder(t *testing.T) {
	a := chainOpp("bsc", "first", 50)
	b := chainOpp("bsc", "second", 50)
	c := chainOpp("bsc", "third", 50)

	ranked := rankOpportunities([]domain.Opportunity{a, b, c})

	assert.Equal(t, "first", ranked[0].Instrument)
	assert.Equal(t, "second", ranked[1].Instrument)
	assert.Equal(t, "third", ranked[2].Instrument)
}

func TestRankOpportunities_UnscoredByRecency(t *testing.T) {
	now := time.Now()
	old := chainOpp("bsc", "old", 0)
	old.FoundAt = now.Add(-time.Minute)
	fresh := chainOpp("bsc", "fresh", 0)
	fresh.FoundAt = now
	scored := chainOpp("bsc", "scored", 5)

	ranked := rankOpportunities([]domain.Opportunity{old, fresh, scored})

	// Any explicit score outranks the unscored; among unscored, newest first.
	assert.Equal(t, "scored", ranked[0].Instrument)
	assert.Equal(t, "fresh", ranked[1].Instrument)
	assert.Equal(t, "old", ranked[2].Instrument)
}

func TestCapacityOf(t *testing.T) {
	tests := []struct {
		name                       string
		maxConcurrent, openCount   int
		maxPerHour, openedLastHour int
		want                       int
	}{
		{"both open", 3, 0, 10, 0, 3},
		{"concurrency binds", 3, 2, 10, 0, 1},
		{"concurrency full", 3, 3, 10, 0, 0},
		{"hourly binds", 3, 0, 10, 8, 2},
		{"hourly exhausted", 3, 1, 10, 10, 0},
		{"never negative", 3, 5, 10, 12, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := capacityOf(tt.maxConcurrent, tt.openCount, tt.maxPerHour, tt.openedLastHour)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscovery_CapacityIsSystemWide(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxConcurrentTrades = 2

	conn := newStubChain("bsc", 100)
	st := &stubStrategy{name: "test"}
	st.queue(
		chainOpp("bsc", "0xaaa", 30),
		chainOpp("bsc", "0xbbb", 20),
		chainOpp("bsc", "0xccc", 10),
	)

	e := New(cfg, []ports.Strategy{st}, []ports.ChainConnector{conn}, nil, &memStore{}, nil)
	markRunning(e, true)

	require.True(t, e.RunDiscoveryOnce(context.Background()))

	snap := e.Snapshot()
	require.Len(t, snap.OpenTrades, 2)
	assert.Equal(t, "0xaaa", snap.OpenTrades[0].Instrument)
	assert.Equal(t, "0xbbb", snap.OpenTrades[1].Instrument)

	// The cap already holds: a later cycle with a fresh candidate opens nothing.
	st.queue(chainOpp("bsc", "0xddd", 99))
	require.True(t, e.RunDiscoveryOnce(context.Background()))
	assert.Len(t, e.Snapshot().OpenTrades, 2)
}

func TestDiscovery_HighestScoreTakesLastSlot(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxConcurrentTrades = 1

	conn := newStubChain("bsc", 100)
	weak := &stubStrategy{name: "weak"}
	weak.queue(chainOpp("bsc", "0xweak", 70))
	strong := &stubStrategy{name: "strong"}
	strong.queue(chainOpp("bsc", "0xstrong", 90))

	e := New(cfg, []ports.Strategy{weak, strong}, []ports.ChainConnector{conn}, nil, &memStore{}, nil)
	markRunning(e, true)

	require.True(t, e.RunDiscoveryOnce(context.Background()))

	snap := e.Snapshot()
	require.Len(t, snap.OpenTrades, 1)
	assert.Equal(t, "0xstrong", snap.OpenTrades[0].Instrument)
}

func TestDiscovery_HourlyLimitCountsHistory(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxConcurrentTrades = 5
	cfg.MaxTradesPerHour = 2

	conn := newStubChain("bsc", 100)
	st := &stubStrategy{name: "test"}
	e := New(cfg, []ports.Strategy{st}, []ports.ChainConnector{conn}, nil, &memStore{}, nil)
	markRunning(e, true)

	// Two trades already opened and closed within the trailing hour.
	closedAt := time.Now().Add(-10 * time.Minute)
	e.mu.Lock()
	for _, id := range []string{"h1", "h2"} {
		e.history = append(e.history, domain.Trade{
			ID: id, Status: domain.TradeClosed,
			OpenedAt: closedAt.Add(-time.Minute), ClosedAt: &closedAt,
		})
	}
	e.mu.Unlock()

	st.queue(chainOpp("bsc", "0xnew", 50))
	require.True(t, e.RunDiscoveryOnce(context.Background()))

	assert.Empty(t, e.Snapshot().OpenTrades)
}

func TestDiscovery_FailingStrategyIsIsolated(t *testing.T) {
	conn := newStubChain("bsc", 100)
	broken := &stubStrategy{name: "broken", err: errors.New("feed down")}
	healthy := &stubStrategy{name: "healthy"}
	healthy.queue(chainOpp("bsc", "0xok", 10))
	pub := &recorder{}

	e := New(quietConfig(), []ports.Strategy{broken, healthy}, []ports.ChainConnector{conn}, nil, &memStore{}, pub)
	markRunning(e, true)

	require.True(t, e.RunDiscoveryOnce(context.Background()))

	snap := e.Snapshot()
	require.Len(t, snap.OpenTrades, 1)
	assert.Equal(t, "0xok", snap.OpenTrades[0].Instrument)
	assert.NotEmpty(t, pub.ofType(domain.EventCycleError))
}

func TestDiscovery_ReentrancyGuardSkips(t *testing.T) {
	conn := newStubChain("bsc", 100)
	e := New(quietConfig(), nil, []ports.ChainConnector{conn}, nil, &memStore{}, nil)
	markRunning(e, true)

	e.discoveryBusy.Store(true)
	assert.False(t, e.RunDiscoveryOnce(context.Background()))
	e.discoveryBusy.Store(false)

	assert.True(t, e.RunDiscoveryOnce(context.Background()))
}

func TestDiscovery_ExecutionFailureCountsAndContinues(t *testing.T) {
	conn := newStubChain("bsc", 100)
	conn.buyErr = errors.New("router reverted")
	st := &stubStrategy{name: "test"}
	st.queue(chainOpp("bsc", "0xbad", 50))
	pub := &recorder{}

	e := New(quietConfig(), []ports.Strategy{st}, []ports.ChainConnector{conn}, nil, &memStore{}, pub)
	markRunning(e, true)

	require.True(t, e.RunDiscoveryOnce(context.Background()))

	snap := e.Snapshot()
	assert.Empty(t, snap.OpenTrades)
	assert.Equal(t, 1, snap.ExecFailures)
	assert.NotEmpty(t, pub.ofType(domain.EventCycleError))
}

func TestDiscovery_ExchangeOpportunityNeedsAmount(t *testing.T) {
	ex := &stubExchange{venue: "binance", price: 100}
	st := &stubStrategy{name: "test"}
	st.queue(domain.Opportunity{
		Venue: "binance", VenueClass: domain.VenueExchange,
		Instrument: "BTCUSDT", Side: domain.SideBuy,
		Strategy: "test", Score: 10, FoundAt: time.Now(),
	})

	e := New(quietConfig(), []ports.Strategy{st}, nil, []ports.ExchangeConnector{ex}, &memStore{}, nil)
	markRunning(e, true)

	require.True(t, e.RunDiscoveryOnce(context.Background()))

	// No requested amount on an exchange venue: rejected at dispatch.
	snap := e.Snapshot()
	assert.Empty(t, snap.OpenTrades)
	assert.Equal(t, 1, snap.ExecFailures)
}
