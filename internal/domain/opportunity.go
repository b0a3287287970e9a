package domain

import "time"

// VenueClass distinguishes how a venue is reached: on-chain DEX routers
// versus centralized exchange REST APIs. The class decides which connector
// contract the engine dispatches to.
type VenueClass string

const (
	VenueChain    VenueClass = "chain"
	VenueExchange VenueClass = "exchange"
)

// Side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Inverse returns the side that closes a position opened with this side.
func (s Side) Inverse() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Opportunity is a candidate trade signal produced by a strategy or by the
// token-scanner bridge. It lives for a single discovery cycle; accepted
// opportunities become Trades, the rest are discarded.
type Opportunity struct {
	Venue      string // venue name, e.g. "binance" or "bsc"
	VenueClass VenueClass
	Instrument string // token address (chain) or pair symbol (exchange)
	Side       Side
	Strategy   string  // originating strategy name
	Reason     string  // human-readable signal description
	Score      float64 // optional ranking priority; <= 0 means unscored
	Amount     float64 // requested quote amount; 0 lets sizing policy decide
	FoundAt    time.Time
}

// Scored reports whether the opportunity carries an explicit priority.
// Unscored opportunities compete on recency instead.
func (o Opportunity) Scored() bool {
	return o.Score > 0
}

// TokenEvent is the inbound event emitted by an external token scanner when
// a new tradable pair appears on-chain.
type TokenEvent struct {
	Venue      string
	Instrument string
	Symbol     string
	Name       string
}

// AsOpportunity bridges a scanner event into the discovery pipeline as a
// single ad-hoc buy candidate, subject to the same risk and capacity gates
// as strategy-sourced opportunities.
func (ev TokenEvent) AsOpportunity(now time.Time) Opportunity {
	return Opportunity{
		Venue:      ev.Venue,
		VenueClass: VenueChain,
		Instrument: ev.Instrument,
		Side:       SideBuy,
		Strategy:   "scanner",
		Reason:     "new token: " + ev.Symbol,
		FoundAt:    now,
	}
}
