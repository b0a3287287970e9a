package notify

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/avelarkai/tradepilot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implements ports.Publisher by printing compact one-line updates
// for trade events, and renders the full stats report on demand.
type Console struct {
	out io.Writer
}

// NewConsole creates a publisher that writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a publisher for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Publish prints trade lifecycle events. Status snapshots and per-tick
// price updates are intentionally quiet — they would drown the console.
func (c *Console) Publish(ev domain.Event) {
	now := ev.At.Format("15:04:05")
	switch ev.Type {
	case domain.EventTradeOpened:
		t := ev.Trade
		fmt.Fprintf(c.out, "[%s] OPEN  %s %s on %s @ %.6f (%s)\n",
			now, t.Side, t.Instrument, t.Venue, t.EntryPrice, t.Strategy)
	case domain.EventTradeClosed:
		t := ev.Trade
		fmt.Fprintf(c.out, "[%s] CLOSE %s on %s @ %.6f — %s, pnl %+.2f%% (%+.2f)\n",
			now, t.Instrument, t.Venue, t.ClosePrice, t.CloseReason, t.ProfitLossPct, t.ProfitLoss)
	case domain.EventCycleError:
		fmt.Fprintf(c.out, "[%s] ERROR %s: %s\n", now, ev.Cycle, ev.Err)
	}
}

// PrintReport renders the stats summary and the trade history table.
func (c *Console) PrintReport(stats domain.Stats, history []domain.Trade) {
	fmt.Fprintf(c.out, "\n── TRADING REPORT ──\n")
	fmt.Fprintf(c.out, "  Total trades: %d | Wins: %d | Losses: %d | Win rate: %.0f%%\n",
		stats.TotalTrades, stats.Wins, stats.Losses, stats.WinRate*100)
	fmt.Fprintf(c.out, "  Cumulative P/L: %+.2f (%+.2f%%)\n", stats.TotalProfit, stats.TotalPnLPct)
	if !stats.LastTradeAt.IsZero() {
		fmt.Fprintf(c.out, "  Last trade: %s\n", stats.LastTradeAt.Format(time.RFC3339))
	}

	if len(history) == 0 {
		fmt.Fprintln(c.out, "  (no closed trades)")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Closed", "Venue", "Instrument", "Side", "Strategy", "Entry", "Close", "Reason", "PnL%", "PnL")
	for _, t := range history {
		closedAt := ""
		if t.ClosedAt != nil {
			closedAt = t.ClosedAt.Format("01-02 15:04")
		}
		table.Append(
			closedAt,
			t.Venue,
			truncate(t.Instrument, 18),
			string(t.Side),
			t.Strategy,
			fmt.Sprintf("%.6f", t.EntryPrice),
			fmt.Sprintf("%.6f", t.ClosePrice),
			string(t.CloseReason),
			fmt.Sprintf("%+.2f", t.ProfitLossPct),
			fmt.Sprintf("%+.2f", t.ProfitLoss),
		)
	}
	table.Render()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
