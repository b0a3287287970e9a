package chain

// paper.go — chain connector with live prices and simulated execution.
// Swaps settle instantly at the fetched pair price against a virtual
// wallet; everything upstream (engine, risk, monitor) behaves exactly as
// it would with a real router connector.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/avelarkai/tradepilot/internal/ports"
	"github.com/google/uuid"
)

// PaperConnector implements ports.ChainConnector with paper execution.
type PaperConnector struct {
	venue      string
	address    string
	quoteAsset string // the wallet's funding asset, e.g. "WBNB" or "USDT"
	prices     *PriceClient

	mu       sync.Mutex
	balances map[string]float64 // asset symbol → quantity
	holdings map[string]float64 // instrument → token quantity held
}

// qtyEpsilon absorbs float residue when a sell drains a holding.
const qtyEpsilon = 1e-9

// NewPaperConnector creates a simulated wallet with the given starting
// quote balance.
func NewPaperConnector(venue, quoteAsset string, startBalance float64, prices *PriceClient) *PaperConnector {
	return &PaperConnector{
		venue:      venue,
		address:    "paper:" + uuid.NewString()[:8],
		quoteAsset: quoteAsset,
		prices:     prices,
		balances:   map[string]float64{quoteAsset: startBalance},
		holdings:   make(map[string]float64),
	}
}

func (p *PaperConnector) Venue() string   { return p.venue }
func (p *PaperConnector) Address() string { return p.address }

func (p *PaperConnector) GetBalances(ctx context.Context) (map[string]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.balances))
	for k, v := range p.balances {
		out[k] = v
	}
	return out, nil
}

func (p *PaperConnector) GetTokenPrice(ctx context.Context, instrument string) (float64, error) {
	return p.prices.TokenPrice(ctx, instrument)
}

// ExecuteBuy spends walletFraction of the quote balance on the token at the
// current pair price.
func (p *PaperConnector) ExecuteBuy(ctx context.Context, instrument string, walletFraction float64) (ports.ExecResult, error) {
	if walletFraction <= 0 || walletFraction > 1 {
		return ports.ExecResult{}, fmt.Errorf("chain.ExecuteBuy: wallet fraction %.4f out of range", walletFraction)
	}

	price, err := p.prices.TokenPrice(ctx, instrument)
	if err != nil {
		return ports.ExecResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	spend := p.balances[p.quoteAsset] * walletFraction
	if spend <= 0 {
		return ports.ExecResult{}, fmt.Errorf("chain.ExecuteBuy: no %s balance to spend", p.quoteAsset)
	}
	qty := spend / price

	p.balances[p.quoteAsset] -= spend
	p.holdings[instrument] += qty

	ref := "paper-" + uuid.NewString()[:8]
	slog.Debug("paper buy filled",
		"venue", p.venue, "instrument", instrument,
		"price", price, "spent", spend, "qty", qty, "ref", ref)
	return ports.ExecResult{Price: price, Amount: spend, Quantity: qty, Ref: ref}, nil
}

// ExecuteSell swaps quantity tokens back to the quote asset at the current
// price. A non-positive quantity liquidates the whole holding. Holdings are
// shared across trades on the same instrument, so a sell takes exactly the
// requested quantity and leaves the rest in place.
func (p *PaperConnector) ExecuteSell(ctx context.Context, instrument string, quantity float64) (ports.ExecResult, error) {
	price, err := p.prices.TokenPrice(ctx, instrument)
	if err != nil {
		return ports.ExecResult{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	held := p.holdings[instrument]
	if held <= 0 {
		return ports.ExecResult{}, fmt.Errorf("chain.ExecuteSell: no position in %s", instrument)
	}
	qty := quantity
	if qty <= 0 {
		qty = held
	}
	if qty > held+qtyEpsilon {
		return ports.ExecResult{}, fmt.Errorf("chain.ExecuteSell: %s position holds %.9f, requested %.9f", instrument, held, qty)
	}

	proceeds := qty * price
	p.balances[p.quoteAsset] += proceeds
	if held-qty <= qtyEpsilon {
		delete(p.holdings, instrument)
	} else {
		p.holdings[instrument] = held - qty
	}

	ref := "paper-" + uuid.NewString()[:8]
	slog.Debug("paper sell filled",
		"venue", p.venue, "instrument", instrument,
		"price", price, "qty", qty, "proceeds", proceeds, "ref", ref)
	return ports.ExecResult{Price: price, Amount: proceeds, Quantity: qty, Ref: ref}, nil
}
