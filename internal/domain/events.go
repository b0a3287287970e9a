package domain

import "time"

// EventType identifies a telemetry event published by the engine.
type EventType string

const (
	EventTradeOpened  EventType = "trade_opened"
	EventTradeUpdated EventType = "trade_updated"
	EventTradeClosed  EventType = "trade_closed"
	EventStatsUpdated EventType = "stats_updated"
	EventEngineStatus EventType = "engine_status"
	EventCycleError   EventType = "cycle_error"
)

// EngineStatus is the read-only snapshot published to telemetry consumers.
// The open set and stats themselves are engine-owned and never exposed for
// external mutation.
type EngineStatus struct {
	Running      bool               `json:"running"`
	StartedAt    time.Time          `json:"started_at,omitempty"`
	OpenTrades   []Trade            `json:"open_trades"`
	Stats        Stats              `json:"stats"`
	Balances     []BalancesSnapshot `json:"balances,omitempty"`
	ExecFailures int                `json:"exec_failures"`
}

// Event is the payload handed to telemetry publishers. Exactly the fields
// relevant to the event type are populated; the rest stay nil.
type Event struct {
	Type   EventType     `json:"type"`
	At     time.Time     `json:"at"`
	Trade  *Trade        `json:"trade,omitempty"`
	Stats  *Stats        `json:"stats,omitempty"`
	Status *EngineStatus `json:"status,omitempty"`
	Cycle  string        `json:"cycle,omitempty"` // discovery | monitor | balances
	Err    string        `json:"err,omitempty"`
}
