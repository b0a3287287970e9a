package domain

import "time"

// TradeStatus is the lifecycle state of a Trade.
type TradeStatus string

const (
	TradeActive TradeStatus = "active"
	TradeClosed TradeStatus = "closed"
	TradeFailed TradeStatus = "failed"
)

// CloseReason records why a Trade left the active set.
type CloseReason string

const (
	CloseTakeProfit CloseReason = "take_profit"
	CloseStopLoss   CloseReason = "stop_loss"
	CloseTimeout    CloseReason = "timeout"
	CloseManual     CloseReason = "manual"
	CloseBotStopped CloseReason = "bot_stopped"
)

// ExitRules are the exit thresholds a Trade carries. They are copied from
// configuration at creation time, so editing the config never retroactively
// changes an open position.
type ExitRules struct {
	TakeProfitPct float64       // close when price change >= this
	StopLossPct   float64       // close when price change <= -this
	MaxHold       time.Duration // close when open longer than this
}

// Trade is an engine-tracked position, from execution until close. A Trade
// is in exactly one of the open set or the history list, never both.
type Trade struct {
	ID         string
	Venue      string
	VenueClass VenueClass
	Instrument string
	Side       Side
	Strategy   string
	Amount     float64 // quote amount committed at entry
	Quantity   float64 // base/token quantity executed at entry; closes size by this

	EntryPrice     float64
	CurrentPrice   float64 // last price seen by the monitor
	PriceChangePct float64 // signed change from entry, side-adjusted

	Exit ExitRules

	Status        TradeStatus
	CloseReason   CloseReason
	ClosePrice    float64
	ProfitLossPct float64 // realized, set at close
	ProfitLoss    float64 // realized quote-amount P/L, set at close

	OpenedAt time.Time
	ClosedAt *time.Time
}

// ChangePct returns the side-adjusted percentage change from the entry
// price: positive always means the position is in profit.
func (t *Trade) ChangePct(price float64) float64 {
	if t.EntryPrice == 0 {
		return 0
	}
	change := (price - t.EntryPrice) / t.EntryPrice * 100
	if t.Side == SideSell {
		change = -change
	}
	return change
}

// Expired reports whether the trade has been open longer than its max hold.
func (t *Trade) Expired(now time.Time) bool {
	return t.Exit.MaxHold > 0 && now.Sub(t.OpenedAt) >= t.Exit.MaxHold
}

// Close transitions the trade to its terminal closed state. Realized P/L is
// derived from the close price; the trade must not be mutated afterwards.
func (t *Trade) Close(reason CloseReason, closePrice float64, at time.Time) {
	t.Status = TradeClosed
	t.CloseReason = reason
	t.ClosePrice = closePrice
	t.CurrentPrice = closePrice
	t.ProfitLossPct = t.ChangePct(closePrice)
	t.ProfitLoss = t.Amount * t.ProfitLossPct / 100
	t.PriceChangePct = t.ProfitLossPct
	closed := at
	t.ClosedAt = &closed
}
