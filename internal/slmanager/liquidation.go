package slmanager

import (
	"context"

	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/logger"
)

// refreshLiquidationPrices implements spec §4.7's last paragraph:
// liquidation prices are refreshed every cycle, for every filled
// position, before SL recomputation. A symbol absent from
// Gateway.GetPositions (no open position on the target venue) leaves
// LiquidationPx at its last known value — open question 4 forbids
// fabricating one, so SL maintenance below must tolerate a zero price by
// skipping creation rather than placing a stop at zero.
func (m *Manager) refreshLiquidationPrices(ctx context.Context, filled []domain.MirroredPosition) ([]domain.MirroredPosition, error) {
	if len(filled) == 0 {
		return filled, nil
	}

	symbols := make([]string, 0, len(filled))
	seen := map[string]bool{}
	for _, p := range filled {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}

	livePositions, err := m.Gateway.GetPositions(ctx, symbols)
	if err != nil {
		return nil, err
	}
	bySymbolSide := map[string]float64{}
	for _, lp := range livePositions {
		liq, _ := lp.LiquidationPrice.Float64()
		bySymbolSide[lp.Symbol+"|"+string(lp.Side)] = liq
	}

	for i := range filled {
		p := &filled[i]
		liq, ok := bySymbolSide[p.Symbol+"|"+string(p.Side)]
		if !ok || liq == 0 {
			continue
		}
		if liq == p.LiquidationPx {
			continue
		}
		p.LiquidationPx = liq
		if err := m.Positions.Update(*p); err != nil {
			logger.Warnf("slmanager[%s]: persist liquidation price for position %d: %v", m.Instance, p.ID, err)
		}
	}
	return filled, nil
}
