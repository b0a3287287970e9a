package engine

// monitor.go — the position-watching half of the engine. Every monitoring
// cycle fetches a live price for each active trade, updates the tracked
// change, and closes positions whose exit condition fired. A transient
// price failure skips the trade for the cycle; it never closes or corrupts
// a position.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/avelarkai/tradepilot/internal/domain"
)

// RunMonitorOnce executes a single monitoring cycle over the active trade
// set. It reports false when skipped because the previous invocation was
// still in flight.
func (e *Engine) RunMonitorOnce(ctx context.Context) bool {
	if !e.monitorBusy.CompareAndSwap(false, true) {
		slog.Debug("monitor cycle still in progress, skipping tick")
		return false
	}
	defer e.monitorBusy.Store(false)

	for _, t := range e.openSnapshot() {
		select {
		case <-ctx.Done():
			return true
		default:
		}

		price, err := e.fetchPrice(ctx, t)
		if err != nil {
			slog.Warn("price fetch failed, skipping trade this cycle",
				"trade", t.ID, "instrument", t.Instrument, "err", err)
			continue
		}

		updated, ok := e.applyPrice(t.ID, price)
		if !ok {
			continue // closed elsewhere or engine stopped mid-fetch
		}
		e.pub.Publish(domain.Event{Type: domain.EventTradeUpdated, At: time.Now(), Trade: &updated})

		reason, hit := exitReason(updated, time.Now())
		if !hit {
			continue
		}
		e.closeTrade(ctx, updated.ID, reason)
	}
	return true
}

// exitReason evaluates the exit conditions in their fixed priority order:
// take-profit, then stop-loss, then timeout. The first satisfied condition
// wins, making the conditions mutually exclusive per cycle.
func exitReason(t domain.Trade, now time.Time) (domain.CloseReason, bool) {
	switch {
	case t.Exit.TakeProfitPct > 0 && t.PriceChangePct >= t.Exit.TakeProfitPct:
		return domain.CloseTakeProfit, true
	case t.Exit.StopLossPct > 0 && t.PriceChangePct <= -t.Exit.StopLossPct:
		return domain.CloseStopLoss, true
	case t.Expired(now):
		return domain.CloseTimeout, true
	}
	return "", false
}

// closeTrade executes the inverse-side trade and finalizes the close. A
// close-execution failure leaves the trade active for a retry on the next
// cycle — no partial or limbo state is introduced.
func (e *Engine) closeTrade(ctx context.Context, id string, reason domain.CloseReason) {
	e.mu.Lock()
	t, ok := e.open[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	cp := *t
	e.mu.Unlock()

	res, err := e.dispatchClose(ctx, cp)
	if err != nil {
		slog.Warn("close execution failed, trade stays active for retry",
			"trade", id, "reason", reason, "err", err)
		e.publishError("monitor", err)
		return
	}
	e.finalizeClose(id, reason, res.Price, false)
}

// finalizeClose transitions the trade to closed, moves it from the open set
// to history, rederives stats, persists the close, and publishes events.
// With force unset the result is discarded when the engine is no longer
// running — in-flight connector calls must not mutate post-stop state.
func (e *Engine) finalizeClose(id string, reason domain.CloseReason, closePrice float64, force bool) {
	e.mu.Lock()
	if !force && !e.running {
		e.mu.Unlock()
		slog.Warn("engine stopped while close was in flight, discarding result", "trade", id)
		return
	}
	t, ok := e.open[id]
	if !ok {
		e.mu.Unlock()
		return
	}
	t.Close(reason, closePrice, time.Now())
	delete(e.open, id)
	e.history = append(e.history, *t)
	e.stats = domain.DeriveStats(e.history)
	closed := *t
	stats := e.stats
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.Append(context.Background(), closed); err != nil {
			slog.Error("failed to persist closed trade", "trade", id, "err", err)
		}
	}

	slog.Info("trade closed",
		"trade", closed.ID,
		"instrument", closed.Instrument,
		"reason", reason,
		"entry_price", closed.EntryPrice,
		"close_price", closed.ClosePrice,
		"pnl_pct", fmt.Sprintf("%.2f", closed.ProfitLossPct),
		"pnl", fmt.Sprintf("%.2f", closed.ProfitLoss),
	)
	now := time.Now()
	e.pub.Publish(domain.Event{Type: domain.EventTradeClosed, At: now, Trade: &closed})
	e.pub.Publish(domain.Event{Type: domain.EventStatsUpdated, At: now, Stats: &stats})
}

// closeAll force-closes every active trade with the given reason. Used by
// Stop when the close-on-stop policy is set; runs after both cycle loops
// have drained, so it is the only writer. A trade whose close execution
// fails here is marked failed: there is no next cycle to retry on, and the
// position remains on the venue for the operator to unwind.
func (e *Engine) closeAll(ctx context.Context, reason domain.CloseReason) {
	for _, t := range e.openSnapshot() {
		res, err := e.dispatchClose(ctx, t)
		if err != nil {
			slog.Error("failed to close trade on shutdown, position remains on venue",
				"trade", t.ID, "instrument", t.Instrument, "err", err)
			e.markFailed(t.ID)
			e.publishError("shutdown", err)
			continue
		}
		e.finalizeClose(t.ID, reason, res.Price, true)
	}
}

// markFailed transitions an open trade to the failed terminal state. Failed
// trades stay in the open set so the final status snapshot shows them, but
// they never reach history or stats.
func (e *Engine) markFailed(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.open[id]; ok {
		t.Status = domain.TradeFailed
	}
}

// fetchPrice queries the live price via the same venue-class dispatch used
// for execution. A non-positive price is treated as a fetch failure.
func (e *Engine) fetchPrice(ctx context.Context, t domain.Trade) (float64, error) {
	var (
		price float64
		err   error
	)
	switch t.VenueClass {
	case domain.VenueChain:
		conn, ok := e.chains[t.Venue]
		if !ok {
			return 0, fmt.Errorf("engine.fetchPrice: no chain connector for venue %q", t.Venue)
		}
		price, err = conn.GetTokenPrice(ctx, t.Instrument)
	case domain.VenueExchange:
		conn, ok := e.exchanges[t.Venue]
		if !ok {
			return 0, fmt.Errorf("engine.fetchPrice: no exchange connector for venue %q", t.Venue)
		}
		price, err = conn.GetCurrentPrice(ctx, t.Instrument)
	default:
		return 0, fmt.Errorf("engine.fetchPrice: unknown venue class %q", t.VenueClass)
	}
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("engine.fetchPrice: no price for %s on %s", t.Instrument, t.Venue)
	}
	return price, nil
}

// applyPrice updates the trade's tracked price under the engine lock and
// returns a copy for exit evaluation. It reports false when the trade is
// gone or the engine stopped while the fetch was in flight.
func (e *Engine) applyPrice(id string, price float64) (domain.Trade, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return domain.Trade{}, false
	}
	t, ok := e.open[id]
	if !ok {
		return domain.Trade{}, false
	}
	t.CurrentPrice = price
	t.PriceChangePct = t.ChangePct(price)
	return *t, true
}

// openSnapshot copies the active trades, oldest first, so network calls run
// without the lock and trades are visited in a stable order. Failed trades
// are excluded — monitoring them would retry a close that can no longer
// succeed.
func (e *Engine) openSnapshot() []domain.Trade {
	e.mu.Lock()
	out := make([]domain.Trade, 0, len(e.open))
	for _, t := range e.open {
		if t.Status != domain.TradeActive {
			continue
		}
		out = append(out, *t)
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}
