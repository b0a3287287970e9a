package ports

import (
	"context"

	"github.com/avelarkai/tradepilot/internal/domain"
)

// Strategy is the opportunity-discovery contract. The engine polls every
// enabled strategy once per discovery cycle, concurrently.
type Strategy interface {
	// Name identifies the strategy in logs and on the trades it originates.
	Name() string

	// FindOpportunities returns the candidate trades this strategy sees
	// right now. "Nothing found" is an empty slice, not an error; errors
	// are reserved for real failures (feed down, bad data) and exclude
	// the strategy from the current cycle only.
	FindOpportunities(ctx context.Context) ([]domain.Opportunity, error)
}
