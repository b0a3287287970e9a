package ports

import (
	"context"

	"github.com/avelarkai/tradepilot/internal/domain"
)

// ExecResult is the outcome of a successful buy, sell, or exchange order.
type ExecResult struct {
	Price    float64 // effective execution price
	Amount   float64 // quote amount committed (buys) or released (sells)
	Quantity float64 // base/token quantity executed
	Ref      string  // tx hash or order id on the venue
}

// ChainConnector trades a token on a blockchain venue through a DEX router.
// Every call is bounded by a timeout policy owned by the connector; the
// engine treats a timeout like any other per-item failure.
type ChainConnector interface {
	// Venue is the name this connector registers under, e.g. "bsc".
	Venue() string

	// Address returns the wallet address the connector trades from.
	Address() string

	// GetBalances returns asset symbol → quantity for the wallet.
	GetBalances(ctx context.Context) (map[string]float64, error)

	// GetTokenPrice returns the current DEX pair price for the token.
	// An unknown or unpriceable token is an error, never a zero price.
	GetTokenPrice(ctx context.Context, instrument string) (float64, error)

	// ExecuteBuy swaps walletFraction (0..1) of the wallet's quote balance
	// into the token.
	ExecuteBuy(ctx context.Context, instrument string, walletFraction float64) (ExecResult, error)

	// ExecuteSell swaps quantity tokens back to the quote asset. A
	// non-positive quantity liquidates the whole holding. Two trades on
	// the same instrument must not drain each other: a close sells
	// exactly the quantity its open executed.
	ExecuteSell(ctx context.Context, instrument string, quantity float64) (ExecResult, error)
}

// ExchangeConnector trades a pair on a centralized exchange via its REST API.
type ExchangeConnector interface {
	Venue() string

	GetBalances(ctx context.Context) (map[string]float64, error)

	// GetCurrentPrice returns the ticker price for the symbol.
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)

	// ExecuteTrade places a market order for the given quote amount.
	ExecuteTrade(ctx context.Context, symbol string, side domain.Side, amount float64) (ExecResult, error)

	// ExecuteClose places a market order for the given base quantity.
	// Closes size by the quantity the opening order executed, never by
	// its quote amount — after a price move the position no longer holds
	// the entry's quote value.
	ExecuteClose(ctx context.Context, symbol string, side domain.Side, quantity float64) (ExecResult, error)
}
