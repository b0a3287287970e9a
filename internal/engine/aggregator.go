package engine

// aggregator.go — the discovery half of the engine: fan out to every
// strategy, merge with queued scanner candidates, rank, and cut the list
// down to the capacity left by the concurrency and hourly-rate caps.

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avelarkai/tradepilot/internal/domain"
)

// RunDiscoveryOnce executes a single discovery-and-execution cycle. It
// reports false when the cycle was skipped because a previous invocation
// was still in flight.
func (e *Engine) RunDiscoveryOnce(ctx context.Context) bool {
	if !e.discoveryBusy.CompareAndSwap(false, true) {
		slog.Debug("discovery cycle still in progress, skipping tick")
		return false
	}
	defer e.discoveryBusy.Store(false)

	start := time.Now()
	opps := e.collectOpportunities(ctx)
	opps = rankOpportunities(opps)

	capacity := e.capacity(start)
	if capacity <= 0 {
		if len(opps) > 0 {
			slog.Info("no capacity this cycle, discarding opportunities", "found", len(opps))
		}
		e.publishStatus()
		return true
	}
	if len(opps) > capacity {
		opps = opps[:capacity]
	}

	executed := 0
	for _, opp := range opps {
		if err := e.risk.Approve(opp, e.dailyLoss(time.Now())); err != nil {
			slog.Info("risk gate rejected opportunity",
				"strategy", opp.Strategy,
				"instrument", opp.Instrument,
				"reason", err.Error(),
			)
			continue
		}
		if e.executeOpportunity(ctx, opp) {
			executed++
		}
	}

	slog.Debug("discovery cycle complete",
		"found", len(opps),
		"executed", executed,
		"capacity", capacity,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	e.publishStatus()
	return true
}

// collectOpportunities drains the scanner-bridge queue and polls every
// strategy concurrently. A failing strategy is logged and excluded from
// this cycle only; it never aborts the cycle. Results keep strategy
// enumeration order so ranking ties stay deterministic.
func (e *Engine) collectOpportunities(ctx context.Context) []domain.Opportunity {
	e.mu.Lock()
	queued := e.inbound
	e.inbound = nil
	e.mu.Unlock()

	results := make([][]domain.Opportunity, len(e.strategies))
	var wg sync.WaitGroup
	for i, st := range e.strategies {
		i, st := i, st
		wg.Add(1)
		go func() {
			defer wg.Done()
			found, err := st.FindOpportunities(ctx)
			if err != nil {
				slog.Warn("strategy failed, excluded from this cycle",
					"strategy", st.Name(), "err", err)
				e.publishError("discovery", err)
				return
			}
			now := time.Now()
			for j := range found {
				if found[j].Strategy == "" {
					found[j].Strategy = st.Name()
				}
				if found[j].FoundAt.IsZero() {
					found[j].FoundAt = now
				}
			}
			results[i] = found
		}()
	}
	wg.Wait()

	var opps []domain.Opportunity
	for _, found := range results {
		opps = append(opps, found...)
	}
	return append(opps, queued...)
}

// capacity computes how many new trades this cycle may open: the minimum of
// the free concurrency slots and the remaining trailing-hour allowance,
// floored at zero.
func (e *Engine) capacity(now time.Time) int {
	e.mu.Lock()
	openCount := len(e.open)
	openTrades := make([]domain.Trade, 0, len(e.open))
	for _, t := range e.open {
		openTrades = append(openTrades, *t)
	}
	history := e.history
	e.mu.Unlock()

	lastHour := domain.OpenedSince(openTrades, history, now.Add(-time.Hour))
	return capacityOf(e.cfg.MaxConcurrentTrades, openCount, e.cfg.MaxTradesPerHour, lastHour)
}

func capacityOf(maxConcurrent, openCount, maxPerHour, openedLastHour int) int {
	c := maxConcurrent - openCount
	if h := maxPerHour - openedLastHour; h < c {
		c = h
	}
	if c < 0 {
		c = 0
	}
	return c
}

// dailyLoss sums today's realized losses for the risk manager's daily gate.
func (e *Engine) dailyLoss(now time.Time) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.LossSince(e.history, domain.Midnight(now))
}

// rankOpportunities orders candidates for execution: explicit scores
// descending first, unscored candidates by recency after them. Equal scores
// keep strategy enumeration order — the sort is stable, so the outcome is
// deterministic and testable.
func rankOpportunities(opps []domain.Opportunity) []domain.Opportunity {
	sort.SliceStable(opps, func(i, j int) bool {
		oi, oj := opps[i], opps[j]
		if oi.Score != oj.Score {
			return oi.Score > oj.Score
		}
		if !oi.Scored() && !oj.Scored() {
			return oi.FoundAt.After(oj.FoundAt)
		}
		return false
	})
	return opps
}
