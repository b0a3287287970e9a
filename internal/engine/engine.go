package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avelarkai/tradepilot/internal/domain"
	"github.com/avelarkai/tradepilot/internal/ports"
)

const (
	inboundQueueCap  = 100
	stopCloseTimeout = 30 * time.Second
)

// Config controls the engine's scheduling and trading policy. Exit
// thresholds are copied onto each Trade at creation time, so config edits
// never retroactively change open positions.
type Config struct {
	DiscoveryInterval time.Duration
	MonitorInterval   time.Duration
	BalanceInterval   time.Duration

	MaxConcurrentTrades int
	MaxTradesPerHour    int
	WalletBuyPercentage float64 // percent of wallet quote balance per chain buy

	TakeProfitPct     float64
	StopLossPct       float64
	MaxTradeTime      time.Duration
	CloseTradesOnStop bool

	Risk RiskConfig
}

// DefaultConfig returns sensible production values.
func DefaultConfig() Config {
	return Config{
		DiscoveryInterval:   10 * time.Second,
		MonitorInterval:     5 * time.Second,
		BalanceInterval:     60 * time.Second,
		MaxConcurrentTrades: 3,
		MaxTradesPerHour:    10,
		WalletBuyPercentage: 5,
		TakeProfitPct:       5,
		StopLossPct:         2,
		MaxTradeTime:        60 * time.Minute,
		CloseTradesOnStop:   true,
	}
}

// Engine owns the whole trading lifecycle: it polls strategies for
// opportunities, gates them through risk and capacity limits, executes the
// survivors on the right connector, and monitors every open position until
// an exit condition closes it.
//
// All mutable state (open set, history, stats, balances) is engine-owned
// and guarded by a single mutex; the two timer cycles each carry a
// reentrancy guard so a slow connector call never causes overlapping
// invocations of the same cycle.
type Engine struct {
	cfg        Config
	strategies []ports.Strategy
	chains     map[string]ports.ChainConnector
	exchanges  map[string]ports.ExchangeConnector
	store      ports.HistoryStore
	pub        ports.Publisher
	risk       *RiskManager

	mu           sync.Mutex
	running      bool
	startedAt    time.Time
	open         map[string]*domain.Trade
	history      []domain.Trade
	stats        domain.Stats
	balances     map[string]domain.BalancesSnapshot
	execFailures int
	inbound      []domain.Opportunity // scanner-bridge queue, drained each discovery cycle

	discoveryBusy atomic.Bool
	monitorBusy   atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires an Engine from its collaborators. Connectors register under
// their Venue name; a nil publisher is replaced with a no-op.
func New(
	cfg Config,
	strategies []ports.Strategy,
	chains []ports.ChainConnector,
	exchanges []ports.ExchangeConnector,
	store ports.HistoryStore,
	pub ports.Publisher,
) *Engine {
	chainMap := make(map[string]ports.ChainConnector, len(chains))
	for _, c := range chains {
		chainMap[c.Venue()] = c
	}
	exchangeMap := make(map[string]ports.ExchangeConnector, len(exchanges))
	for _, c := range exchanges {
		exchangeMap[c.Venue()] = c
	}
	if pub == nil {
		pub = noopPublisher{}
	}
	return &Engine{
		cfg:        cfg,
		strategies: strategies,
		chains:     chainMap,
		exchanges:  exchangeMap,
		store:      store,
		pub:        pub,
		risk:       NewRiskManager(cfg.Risk),
		open:       make(map[string]*domain.Trade),
		balances:   make(map[string]domain.BalancesSnapshot),
	}
}

// Start transitions the engine to running and launches the discovery,
// monitoring, and balance-refresh loops. It fails if already running or if
// no venue connector was configured.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("engine.Start: already running")
	}
	if len(e.chains) == 0 && len(e.exchanges) == 0 {
		e.mu.Unlock()
		return errors.New("engine.Start: no venue connectors configured")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.startedAt = time.Now()
	e.mu.Unlock()

	e.loadHistory(ctx)

	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.runLoop(runCtx, e.cfg.DiscoveryInterval, true, func(c context.Context) { e.RunDiscoveryOnce(c) })
	}()
	go func() {
		defer e.wg.Done()
		e.runLoop(runCtx, e.cfg.MonitorInterval, false, func(c context.Context) { e.RunMonitorOnce(c) })
	}()
	go func() {
		defer e.wg.Done()
		e.runLoop(runCtx, e.cfg.BalanceInterval, true, e.RefreshBalances)
	}()

	slog.Info("engine started",
		"strategies", len(e.strategies),
		"chain_venues", len(e.chains),
		"exchange_venues", len(e.exchanges),
		"discovery_interval", e.cfg.DiscoveryInterval,
		"monitor_interval", e.cfg.MonitorInterval,
	)
	e.publishStatus()
	return nil
}

// Stop cancels both cycles, waits for in-flight work to drain, and — when
// CloseTradesOnStop is set — force-closes every active trade with reason
// bot_stopped. Connector results that complete after Stop are discarded.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return errors.New("engine.Stop: not running")
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()

	if e.cfg.CloseTradesOnStop {
		ctx, done := context.WithTimeout(context.Background(), stopCloseTimeout)
		defer done()
		e.closeAll(ctx, domain.CloseBotStopped)
	}

	slog.Info("engine stopped", "open_trades", e.openCount())
	e.publishStatus()
	return nil
}

// Running reports the state machine's current state.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// HandleNewToken bridges a token-scanner event into the aggregator as a
// single buy candidate. It is queued and consumed by the next discovery
// cycle, keeping a single writer per cycle type on the open set.
func (e *Engine) HandleNewToken(ev domain.TokenEvent) {
	opp := ev.AsOpportunity(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.inbound) >= inboundQueueCap {
		slog.Warn("scanner queue full, dropping token event", "instrument", ev.Instrument)
		return
	}
	e.inbound = append(e.inbound, opp)
	slog.Info("scanner token queued", "venue", ev.Venue, "symbol", ev.Symbol, "instrument", ev.Instrument)
}

// CloseTrade force-closes one active trade with reason manual.
func (e *Engine) CloseTrade(ctx context.Context, id string) error {
	e.mu.Lock()
	t, ok := e.open[id]
	if !ok {
		e.mu.Unlock()
		return errors.New("engine.CloseTrade: no active trade with id " + id)
	}
	cp := *t
	e.mu.Unlock()

	res, err := e.dispatchClose(ctx, cp)
	if err != nil {
		return err
	}
	e.finalizeClose(id, domain.CloseManual, res.Price, true)
	return nil
}

// Snapshot publishes a read-only view of the engine state. The open set and
// stats are never handed out by reference.
func (e *Engine) Snapshot() domain.EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	openTrades := make([]domain.Trade, 0, len(e.open))
	for _, t := range e.open {
		openTrades = append(openTrades, *t)
	}
	sort.Slice(openTrades, func(i, j int) bool {
		return openTrades[i].OpenedAt.Before(openTrades[j].OpenedAt)
	})

	balances := make([]domain.BalancesSnapshot, 0, len(e.balances))
	for _, b := range e.balances {
		balances = append(balances, b)
	}
	sort.Slice(balances, func(i, j int) bool { return balances[i].Venue < balances[j].Venue })

	return domain.EngineStatus{
		Running:      e.running,
		StartedAt:    e.startedAt,
		OpenTrades:   openTrades,
		Stats:        e.stats,
		Balances:     balances,
		ExecFailures: e.execFailures,
	}
}

// History returns a copy of the closed-trade history, oldest first.
func (e *Engine) History() []domain.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Trade, len(e.history))
	copy(out, e.history)
	return out
}

// RefreshBalances snapshots per-venue balances. It runs on a slower cadence
// than trading; staleness of the snapshots is accepted and flagged via
// FetchedAt rather than assumed away.
func (e *Engine) RefreshBalances(ctx context.Context) {
	for venue, conn := range e.chains {
		assets, err := conn.GetBalances(ctx)
		if err != nil {
			slog.Warn("balance refresh failed", "venue", venue, "err", err)
			continue
		}
		e.storeBalances(domain.BalancesSnapshot{
			Venue:     venue,
			Account:   conn.Address(),
			Assets:    assets,
			FetchedAt: time.Now(),
		})
	}
	for venue, conn := range e.exchanges {
		assets, err := conn.GetBalances(ctx)
		if err != nil {
			slog.Warn("balance refresh failed", "venue", venue, "err", err)
			continue
		}
		e.storeBalances(domain.BalancesSnapshot{
			Venue:     venue,
			Assets:    assets,
			FetchedAt: time.Now(),
		})
	}
}

// runLoop drives one cycle type off its own ticker until the context is
// cancelled. The tick function owns its reentrancy guard, so a firing that
// lands while the previous invocation is still in flight is skipped, not
// queued.
func (e *Engine) runLoop(ctx context.Context, interval time.Duration, immediate bool, tick func(context.Context)) {
	if immediate {
		tick(ctx)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

// loadHistory seeds in-memory history and stats from the durable store.
// A corrupt or missing history never prevents startup — the engine begins
// with empty history and zeroed stats instead.
func (e *Engine) loadHistory(ctx context.Context) {
	if e.store == nil {
		return
	}
	history, err := e.store.Load(ctx)
	if err != nil {
		slog.Warn("history load failed, starting with empty history", "err", err)
		return
	}
	e.mu.Lock()
	e.history = history
	e.stats = domain.DeriveStats(history)
	e.mu.Unlock()
	slog.Info("history loaded", "trades", len(history))
}

func (e *Engine) storeBalances(snap domain.BalancesSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[snap.Venue] = snap
}

func (e *Engine) openCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.open)
}

func (e *Engine) publishStatus() {
	status := e.Snapshot()
	e.pub.Publish(domain.Event{Type: domain.EventEngineStatus, At: time.Now(), Status: &status})
}

func (e *Engine) publishError(cycle string, err error) {
	e.pub.Publish(domain.Event{Type: domain.EventCycleError, At: time.Now(), Cycle: cycle, Err: err.Error()})
}

type noopPublisher struct{}

func (noopPublisher) Publish(domain.Event) {}
