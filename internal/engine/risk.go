package engine

import (
	"fmt"

	"github.com/avelarkai/tradepilot/internal/domain"
)

// RiskConfig holds the policy ceilings. A zero value disables its gate.
type RiskConfig struct {
	MaxTradeSize   float64 // reject opportunities requesting more than this
	DailyLossLimit float64 // stop opening trades once today's losses reach this
}

// RiskManager is the stateless policy gate evaluated once per surviving
// opportunity before execution. Rejections are decisions, not errors: they
// are logged with the gate and values and never raised as engine failures.
type RiskManager struct {
	cfg RiskConfig
}

func NewRiskManager(cfg RiskConfig) *RiskManager {
	return &RiskManager{cfg: cfg}
}

// Approve returns nil when the opportunity may execute. dailyLoss is the
// sum of absolute negative P/L among trades closed since local midnight.
func (r *RiskManager) Approve(opp domain.Opportunity, dailyLoss float64) error {
	if r.cfg.MaxTradeSize > 0 && opp.Amount > r.cfg.MaxTradeSize {
		return fmt.Errorf("trade size gate: requested %.2f exceeds maximum %.2f",
			opp.Amount, r.cfg.MaxTradeSize)
	}
	if r.cfg.DailyLossLimit > 0 && dailyLoss >= r.cfg.DailyLossLimit {
		return fmt.Errorf("daily loss gate: %.2f lost today, limit %.2f — no new trades until midnight",
			dailyLoss, r.cfg.DailyLossLimit)
	}
	return nil
}
