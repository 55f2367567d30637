package slmanager

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/exchange"
	"github.com/shadowmirror/copytrader/internal/logger"
)

// maintainTakeProfits implements spec §4.7's take-profit half: avg-ROE +
// sigma target scaled by leverage, same quantize/drift/maintenance rules
// as the stop-loss side.
func (m *Manager) maintainTakeProfits(ctx context.Context, filled []domain.MirroredPosition) error {
	if len(filled) == 0 {
		return nil
	}
	results := m.Pool.Run(len(filled), func(i int) (interface{}, error) {
		return nil, m.maintainTakeProfitOne(ctx, filled[i])
	})
	for i, res := range results {
		if res.Err != nil {
			logger.Warnf("slmanager[%s]: maintain TP for position %d: %v", m.Instance, filled[i].ID, res.Err)
		}
	}
	return nil
}

func (m *Manager) maintainTakeProfitOne(ctx context.Context, p domain.MirroredPosition) error {
	kc, err := m.Stats.KC(p.TraderID)
	if err != nil {
		return err
	}
	leverage := p.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	tpPrice := tpPriceFor(p.Side, dec(p.OpenAvgPx), dec(kc.AvgRoe), dec(kc.RoeStdDev), leverage)
	amount := dec(p.UserAmount)

	posTable := m.Instance.PositionTable()
	existing, err := m.Triggers.Get(posTable, p.ID, domain.TriggerTakeProfit)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var prior decimal.Decimal
	if existing != nil {
		prior = dec(existing.Price)
	}
	tpPrice = quantizeLike(tpPrice, prior, 4)

	trigger := domain.TriggerOrder{
		PositionTable:  posTable,
		OrigPositionID: p.ID,
		Symbol:         p.Symbol,
		Kind:           domain.TriggerTakeProfit,
		Side:           p.Side.Opposite(),
		IsActive:       true,
		IsFilled:       false,
	}
	price64, _ := tpPrice.Float64()
	amount64, _ := amount.Float64()
	trigger.Price, trigger.Amount = price64, amount64

	switch {
	case existing == nil:
		return m.createTrigger(ctx, trigger)

	case !existing.IsActive:
		return m.createTrigger(ctx, trigger)

	case driftExceeds(tpPrice, dec(existing.Price)) || driftExceeds(amount, dec(existing.Amount)):
		if err := m.Gateway.CancelTriggerOrder(ctx, p.Symbol, existing.PositionID); err != nil && !exchange.IsTransient(err) {
			return err
		}
		return m.createTrigger(ctx, trigger)

	default:
		return nil
	}
}

// tpPriceFor implements spec §4.7's take-profit formula:
// tp_perc = ((avg_roe*100) + (std_dev*100)) / leverage, applied as a
// percentage move from entry; short-side targets are floored at 0.
func tpPriceFor(side domain.Side, openAvgPx, avgRoe, stdDev decimal.Decimal, leverage int) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	tpPerc := avgRoe.Mul(hundred).Add(stdDev.Mul(hundred)).Div(decimal.NewFromInt(int64(leverage)))
	factor := tpPerc.Div(hundred)

	if side == domain.SideLong {
		return openAvgPx.Mul(decimal.NewFromInt(1).Add(factor))
	}
	price := openAvgPx.Mul(decimal.NewFromInt(1).Sub(factor))
	if price.IsNegative() {
		return decimal.Zero
	}
	return price
}
