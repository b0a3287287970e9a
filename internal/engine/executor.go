package engine

// executor.go — turns one approved opportunity into an open Trade by
// dispatching to the connector matching its venue class. Sizing for chain
// buys is a wallet fraction from configuration, never from the opportunity,
// so position sizing stays centrally controlled.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avelarkai/tradepilot/internal/domain"
	"github.com/avelarkai/tradepilot/internal/ports"
	"github.com/google/uuid"
)

// executeOpportunity runs the venue-class dispatch for one approved
// opportunity and, on success, inserts the resulting active Trade into the
// open set. Failures increment the failed-execution counter and drop the
// opportunity; there is no retry within the cycle.
func (e *Engine) executeOpportunity(ctx context.Context, opp domain.Opportunity) bool {
	res, err := e.dispatchOpen(ctx, opp)
	if err != nil {
		e.mu.Lock()
		e.execFailures++
		e.mu.Unlock()
		slog.Warn("execution failed, dropping opportunity",
			"venue", opp.Venue,
			"instrument", opp.Instrument,
			"strategy", opp.Strategy,
			"err", err,
		)
		e.publishError("discovery", err)
		return false
	}

	amount := res.Amount
	if amount <= 0 {
		amount = opp.Amount
	}

	trade := &domain.Trade{
		ID:           uuid.NewString(),
		Venue:        opp.Venue,
		VenueClass:   opp.VenueClass,
		Instrument:   opp.Instrument,
		Side:         opp.Side,
		Strategy:     opp.Strategy,
		Amount:       amount,
		Quantity:     res.Quantity,
		EntryPrice:   res.Price,
		CurrentPrice: res.Price,
		Exit: domain.ExitRules{
			TakeProfitPct: e.cfg.TakeProfitPct,
			StopLossPct:   e.cfg.StopLossPct,
			MaxHold:       e.cfg.MaxTradeTime,
		},
		Status:   domain.TradeActive,
		OpenedAt: time.Now(),
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		slog.Warn("engine stopped while order was in flight, discarding execution result",
			"instrument", opp.Instrument, "ref", res.Ref)
		return false
	}
	e.open[trade.ID] = trade
	cp := *trade
	e.mu.Unlock()

	slog.Info("trade opened",
		"trade", cp.ID,
		"venue", cp.Venue,
		"instrument", cp.Instrument,
		"side", cp.Side,
		"strategy", cp.Strategy,
		"entry_price", cp.EntryPrice,
		"amount", cp.Amount,
		"ref", res.Ref,
	)
	e.pub.Publish(domain.Event{Type: domain.EventTradeOpened, At: time.Now(), Trade: &cp})
	return true
}

// dispatchOpen routes the opening execution to the venue-class connector.
// Chain buys size by the configured wallet fraction; exchange orders use
// the opportunity's requested amount.
func (e *Engine) dispatchOpen(ctx context.Context, opp domain.Opportunity) (ports.ExecResult, error) {
	switch opp.VenueClass {
	case domain.VenueChain:
		conn, ok := e.chains[opp.Venue]
		if !ok {
			return ports.ExecResult{}, fmt.Errorf("engine.dispatchOpen: no chain connector for venue %q", opp.Venue)
		}
		if opp.Side == domain.SideSell {
			return conn.ExecuteSell(ctx, opp.Instrument, 0) // full holding
		}
		return conn.ExecuteBuy(ctx, opp.Instrument, e.cfg.WalletBuyPercentage/100)

	case domain.VenueExchange:
		conn, ok := e.exchanges[opp.Venue]
		if !ok {
			return ports.ExecResult{}, fmt.Errorf("engine.dispatchOpen: no exchange connector for venue %q", opp.Venue)
		}
		if opp.Amount <= 0 {
			return ports.ExecResult{}, fmt.Errorf("engine.dispatchOpen: exchange opportunity %q has no requested amount", opp.Instrument)
		}
		return conn.ExecuteTrade(ctx, opp.Instrument, opp.Side, opp.Amount)
	}
	return ports.ExecResult{}, fmt.Errorf("engine.dispatchOpen: unknown venue class %q", opp.VenueClass)
}

// dispatchClose executes the inverse-side trade that closes a position,
// sized by the quantity the opening execution reported. Sizing a close by
// the entry's quote amount would over- or under-sell once the price moved.
func (e *Engine) dispatchClose(ctx context.Context, t domain.Trade) (ports.ExecResult, error) {
	switch t.VenueClass {
	case domain.VenueChain:
		conn, ok := e.chains[t.Venue]
		if !ok {
			return ports.ExecResult{}, fmt.Errorf("engine.dispatchClose: no chain connector for venue %q", t.Venue)
		}
		if t.Side == domain.SideSell {
			return conn.ExecuteBuy(ctx, t.Instrument, e.cfg.WalletBuyPercentage/100)
		}
		return conn.ExecuteSell(ctx, t.Instrument, t.Quantity)

	case domain.VenueExchange:
		conn, ok := e.exchanges[t.Venue]
		if !ok {
			return ports.ExecResult{}, fmt.Errorf("engine.dispatchClose: no exchange connector for venue %q", t.Venue)
		}
		return conn.ExecuteClose(ctx, t.Instrument, t.Side.Inverse(), t.Quantity)
	}
	return ports.ExecResult{}, fmt.Errorf("engine.dispatchClose: unknown venue class %q", t.VenueClass)
}
