package domain

import "time"

// Stats is the running summary of closed trades. It is always a pure
// function of the history list — replaying the same history yields the
// same Stats, so persistence only ever stores trades, never stats.
type Stats struct {
	TotalTrades int
	Wins        int
	Losses      int
	TotalProfit float64 // cumulative realized quote-amount P/L
	TotalPnLPct float64 // cumulative realized percentage P/L
	WinRate     float64 // Wins / TotalTrades
	LastTradeAt time.Time
}

// DeriveStats recomputes Stats from a closed-trade history list.
func DeriveStats(history []Trade) Stats {
	var s Stats
	for _, t := range history {
		if t.Status != TradeClosed {
			continue
		}
		s.TotalTrades++
		if t.ProfitLossPct > 0 {
			s.Wins++
		} else {
			s.Losses++
		}
		s.TotalProfit += t.ProfitLoss
		s.TotalPnLPct += t.ProfitLossPct
		if t.ClosedAt != nil && t.ClosedAt.After(s.LastTradeAt) {
			s.LastTradeAt = *t.ClosedAt
		}
	}
	if s.TotalTrades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.TotalTrades)
	}
	return s
}

// LossSince sums the absolute value of negative realized P/L among trades
// closed at or after the given time. The risk manager uses it with local
// midnight to enforce the daily loss ceiling.
func LossSince(history []Trade, since time.Time) float64 {
	var loss float64
	for _, t := range history {
		if t.Status != TradeClosed || t.ClosedAt == nil || t.ClosedAt.Before(since) {
			continue
		}
		if t.ProfitLoss < 0 {
			loss += -t.ProfitLoss
		}
	}
	return loss
}

// OpenedSince counts trades opened at or after the given time, across both
// the open set and history. The limiter uses it with a trailing one-hour
// window to enforce the hourly rate cap.
func OpenedSince(open []Trade, history []Trade, since time.Time) int {
	n := 0
	for _, t := range open {
		if !t.OpenedAt.Before(since) {
			n++
		}
	}
	for _, t := range history {
		if !t.OpenedAt.Before(since) {
			n++
		}
	}
	return n
}

// Midnight returns local midnight of the day containing t.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
