package strategy

// watchlist.go — dip-buy strategy over a fixed instrument list. It tracks
// the highest price seen per instrument and signals a buy once the live
// price has dropped the configured percentage from that reference. The
// reference resets after a signal so one dip produces one opportunity.

import (
	"context"
	"sync"
	"time"

	"github.com/avelarkai/tradepilot/internal/domain"
)

// PriceFunc resolves the current price of an instrument. Wire it from the
// connector serving the watchlist's venue.
type PriceFunc func(ctx context.Context, instrument string) (float64, error)

// WatchlistConfig configures one watchlist strategy instance.
type WatchlistConfig struct {
	Venue       string
	VenueClass  domain.VenueClass
	Instruments []string
	DipPct      float64 // signal when price is this % below the tracked high
	Amount      float64 // requested quote amount per signal
	Score       float64 // ranking priority of emitted opportunities
}

// Watchlist implements ports.Strategy.
type Watchlist struct {
	cfg    WatchlistConfig
	prices PriceFunc

	mu    sync.Mutex
	highs map[string]float64
}

func NewWatchlist(cfg WatchlistConfig, prices PriceFunc) *Watchlist {
	return &Watchlist{
		cfg:    cfg,
		prices: prices,
		highs:  make(map[string]float64),
	}
}

func (w *Watchlist) Name() string { return "watchlist" }

// FindOpportunities checks every watched instrument. Instruments whose
// price cannot be fetched are skipped for this cycle; finding nothing is an
// empty result, not an error.
func (w *Watchlist) FindOpportunities(ctx context.Context) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	now := time.Now()

	for _, instrument := range w.cfg.Instruments {
		price, err := w.prices(ctx, instrument)
		if err != nil || price <= 0 {
			continue
		}

		if !w.dipped(instrument, price) {
			continue
		}

		opps = append(opps, domain.Opportunity{
			Venue:      w.cfg.Venue,
			VenueClass: w.cfg.VenueClass,
			Instrument: instrument,
			Side:       domain.SideBuy,
			Strategy:   w.Name(),
			Reason:     "price dip from tracked high",
			Score:      w.cfg.Score,
			Amount:     w.cfg.Amount,
			FoundAt:    now,
		})
	}
	return opps, nil
}

// dipped updates the rolling high and reports whether the price crossed the
// dip threshold. A signal resets the reference to the current price.
func (w *Watchlist) dipped(instrument string, price float64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	high, seen := w.highs[instrument]
	if !seen || price > high {
		w.highs[instrument] = price
		return false
	}

	threshold := high * (1 - w.cfg.DipPct/100)
	if price <= threshold {
		w.highs[instrument] = price
		return true
	}
	return false
}
