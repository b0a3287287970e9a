package domain

import "time"

// BalancesSnapshot is a per-venue view of available funds. Balances refresh
// on a slower cadence than trading, so a snapshot may be stale relative to
// trade decisions — consumers must check Stale rather than assume freshness.
type BalancesSnapshot struct {
	Venue     string
	Account   string // wallet address for chain venues, empty for exchanges
	Assets    map[string]float64
	FetchedAt time.Time
}

// Stale reports whether the snapshot is older than maxAge.
func (b BalancesSnapshot) Stale(maxAge time.Duration, now time.Time) bool {
	return b.FetchedAt.IsZero() || now.Sub(b.FetchedAt) > maxAge
}
