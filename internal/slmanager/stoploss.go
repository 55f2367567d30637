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

// maintainStopLosses implements spec §4.7's stop-loss half: liquidation-
// distance price, quantized to the prior trigger's decimal places, with
// the no-existing/drifted/inactive/gone maintenance rules.
func (m *Manager) maintainStopLosses(ctx context.Context, filled []domain.MirroredPosition) error {
	if len(filled) == 0 {
		return nil
	}
	results := m.Pool.Run(len(filled), func(i int) (interface{}, error) {
		return nil, m.maintainStopLossOne(ctx, filled[i])
	})
	for i, res := range results {
		if res.Err != nil {
			logger.Warnf("slmanager[%s]: maintain SL for position %d: %v", m.Instance, filled[i].ID, res.Err)
		}
	}
	return nil
}

func (m *Manager) maintainStopLossOne(ctx context.Context, p domain.MirroredPosition) error {
	if p.LiquidationPx == 0 {
		// Open question 4: never fabricate a liquidation price; wait for
		// the exchange to report one on a later cycle.
		return nil
	}

	slPrice := slPriceFor(p.Side, dec(p.OpenAvgPx), dec(p.LiquidationPx), dec(m.slRatio()))
	amount := dec(p.UserAmount)

	posTable := m.Instance.PositionTable()
	existing, err := m.Triggers.Get(posTable, p.ID, domain.TriggerStopLoss)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	var prior decimal.Decimal
	if existing != nil {
		prior = dec(existing.Price)
	}
	slPrice = quantizeLike(slPrice, prior, 4)

	trigger := domain.TriggerOrder{
		PositionTable:  posTable,
		OrigPositionID: p.ID,
		Symbol:         p.Symbol,
		Kind:           domain.TriggerStopLoss,
		Side:           p.Side.Opposite(),
		IsActive:       true,
		IsFilled:       false,
	}
	price64, _ := slPrice.Float64()
	amount64, _ := amount.Float64()
	trigger.Price, trigger.Amount = price64, amount64

	switch {
	case existing == nil:
		return m.createTrigger(ctx, trigger)

	case !existing.IsActive:
		return m.createTrigger(ctx, trigger)

	case driftExceeds(slPrice, dec(existing.Price)) || driftExceeds(amount, dec(existing.Amount)):
		if err := m.Gateway.CancelTriggerOrder(ctx, p.Symbol, existing.PositionID); err != nil && !exchange.IsTransient(err) {
			return err
		}
		return m.createTrigger(ctx, trigger)

	default:
		return nil // within 1% drift band, leave the resting order alone
	}
}

// slPriceFor implements spec §4.7's two SL formulas.
func slPriceFor(side domain.Side, openAvgPx, liquidationPx, slRatio decimal.Decimal) decimal.Decimal {
	if side == domain.SideLong {
		return openAvgPx.Sub(openAvgPx.Sub(liquidationPx).Mul(slRatio))
	}
	return openAvgPx.Add(liquidationPx.Sub(openAvgPx).Mul(slRatio))
}

func (m *Manager) slRatio() float64 {
	if m.Cfg == nil || m.Cfg.SLRatio == 0 {
		return 0.5
	}
	return m.Cfg.SLRatio
}

func (m *Manager) createTrigger(ctx context.Context, t domain.TriggerOrder) error {
	ack, err := m.Gateway.CreateTriggerOrder(ctx, exchange.TriggerOrderRequest{
		Symbol:        t.Symbol,
		Side:          t.Side,
		TriggerPrice:  dec(t.Price),
		Quantity:      dec(t.Amount),
		Kind:          t.Kind,
		ClientOrderID: clientOrderID(t.OrigPositionID, string(t.Kind)),
	})
	if err != nil && !exchange.IsTransient(err) {
		return err
	}
	if err == nil {
		t.PositionID = ack.OrderID
	}
	return m.Triggers.Upsert(t)
}
