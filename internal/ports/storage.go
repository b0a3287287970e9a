package ports

import (
	"context"

	"github.com/avelarkai/tradepilot/internal/domain"
)

// HistoryStore persists the append-only closed-trade history. It is the
// sole durable record: stats are always rederived from what Load returns.
type HistoryStore interface {
	// Append writes one closed trade. Called after every close.
	Append(ctx context.Context, trade domain.Trade) error

	// Load returns the full history, oldest first.
	Load(ctx context.Context) ([]domain.Trade, error)

	// Close releases the underlying database.
	Close() error
}
