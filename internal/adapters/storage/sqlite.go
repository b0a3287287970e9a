package storage

// sqlite.go — append-only trade history on SQLite (pure Go driver, no CGo).
//
// One row per closed trade, written at close time and never updated. The
// history is the sole durable record: stats are rederived from it on load,
// so there is no stats table to drift out of sync.

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/avelarkai/tradepilot/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS trade_history (
    id           TEXT PRIMARY KEY,
    venue        TEXT NOT NULL,
    venue_class  TEXT NOT NULL,
    instrument   TEXT NOT NULL,
    side         TEXT NOT NULL,
    strategy     TEXT NOT NULL,
    amount       REAL NOT NULL DEFAULT 0,
    quantity     REAL NOT NULL DEFAULT 0,
    entry_price  REAL NOT NULL,
    opened_at    DATETIME NOT NULL,
    close_price  REAL NOT NULL,
    closed_at    DATETIME NOT NULL,
    close_reason TEXT NOT NULL,
    pnl_pct      REAL NOT NULL,
    pnl          REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_closed ON trade_history(closed_at);
CREATE INDEX IF NOT EXISTS idx_history_opened ON trade_history(opened_at);
`

// SQLiteStore implements ports.HistoryStore on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at the given path and
// applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Append writes one closed trade to the history.
func (s *SQLiteStore) Append(ctx context.Context, t domain.Trade) error {
	if t.Status != domain.TradeClosed || t.ClosedAt == nil {
		return fmt.Errorf("storage.Append: trade %s is not closed", t.ID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trade_history
			(id, venue, venue_class, instrument, side, strategy, amount,
			 quantity, entry_price, opened_at, close_price, closed_at,
			 close_reason, pnl_pct, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Venue,
		string(t.VenueClass),
		t.Instrument,
		string(t.Side),
		t.Strategy,
		t.Amount,
		t.Quantity,
		t.EntryPrice,
		t.OpenedAt.UTC(),
		t.ClosePrice,
		t.ClosedAt.UTC(),
		string(t.CloseReason),
		t.ProfitLossPct,
		t.ProfitLoss,
	)
	if err != nil {
		return fmt.Errorf("storage.Append: insert %s: %w", t.ID, err)
	}
	return nil
}

// Load returns the full history, oldest close first. The result replays
// through domain.DeriveStats to reconstruct stats exactly.
func (s *SQLiteStore) Load(ctx context.Context) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, venue, venue_class, instrument, side, strategy, amount,
		       quantity, entry_price, opened_at, close_price, closed_at,
		       close_reason, pnl_pct, pnl
		FROM trade_history
		ORDER BY closed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage.Load: query: %w", err)
	}
	defer rows.Close()

	var history []domain.Trade
	for rows.Next() {
		var (
			t          domain.Trade
			venueClass string
			side       string
			reason     string
			openedAt   time.Time
			closedAt   time.Time
		)
		if err := rows.Scan(
			&t.ID,
			&t.Venue,
			&venueClass,
			&t.Instrument,
			&side,
			&t.Strategy,
			&t.Amount,
			&t.Quantity,
			&t.EntryPrice,
			&openedAt,
			&t.ClosePrice,
			&closedAt,
			&reason,
			&t.ProfitLossPct,
			&t.ProfitLoss,
		); err != nil {
			return nil, fmt.Errorf("storage.Load: scan row: %w", err)
		}
		t.VenueClass = domain.VenueClass(venueClass)
		t.Side = domain.Side(side)
		t.CloseReason = domain.CloseReason(reason)
		t.Status = domain.TradeClosed
		t.OpenedAt = openedAt
		t.CurrentPrice = t.ClosePrice
		t.PriceChangePct = t.ProfitLossPct
		closed := closedAt
		t.ClosedAt = &closed
		history = append(history, t)
	}
	return history, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
