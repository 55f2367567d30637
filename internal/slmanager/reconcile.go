package slmanager

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/exchange"
	"github.com/shadowmirror/copytrader/internal/logger"
)

// reconcileTriggerFills implements spec §4.7's "on a filled SL"/"on
// triggered TP" clauses: it matches each active trigger's exchange order
// id — recovered from the create acknowledgement, the same pattern
// internal/reconciler's ReflectFills phase uses for entry orders —
// against the exchange's filled-order feed.
func (m *Manager) reconcileTriggerFills(ctx context.Context) error {
	posTable := m.Instance.PositionTable()
	sl, err := m.Triggers.ActiveFor(posTable, domain.TriggerStopLoss)
	if err != nil {
		return err
	}
	tp, err := m.Triggers.ActiveFor(posTable, domain.TriggerTakeProfit)
	if err != nil {
		return err
	}
	all := append(append([]domain.TriggerOrder{}, sl...), tp...)
	if len(all) == 0 {
		return nil
	}

	symbols := distinctSymbols(all)
	filledOrders, err := m.Gateway.GetFilledOrders(ctx, symbols)
	if err != nil {
		return err
	}
	filledByOrderID := make(map[string]bool, len(filledOrders))
	for _, o := range filledOrders {
		filledByOrderID[o.OrderID] = true
	}

	for _, t := range all {
		if t.PositionID == "" || !filledByOrderID[t.PositionID] {
			continue
		}
		if err := m.onTriggerFilled(t); err != nil {
			logger.Warnf("slmanager[%s]: reconcile %s fill for position %d: %v", m.Instance, t.Kind, t.OrigPositionID, err)
		}
	}
	return nil
}

func (m *Manager) onTriggerFilled(t domain.TriggerOrder) error {
	if err := m.Triggers.MarkFilled(t.Kind, t.ID); err != nil {
		return err
	}

	p, err := m.Positions.Get(t.OrigPositionID)
	if err != nil {
		return err
	}
	p.IsClosed = true
	p.IsActive = false
	p.UserAmount = 0
	if err := m.Positions.Update(*p); err != nil {
		return err
	}

	if t.Kind == domain.TriggerStopLoss {
		if err := m.Stats.UpsertPenalty(p.TraderID); err != nil {
			logger.Warnf("slmanager[%s]: upsert penalty for trader %s: %v", m.Instance, p.TraderID, err)
		}
		loseFalse := false
		if err := m.Stats.UpsertSuccessStats(p.TraderID, &loseFalse); err != nil {
			logger.Warnf("slmanager[%s]: record loss for trader %s: %v", m.Instance, p.TraderID, err)
		}
	}
	return m.Stats.RecomputeKC(p.TraderID)
}

// cancelForClosedOrDisappeared implements spec §4.7's "mirrored closed /
// disappeared ⇒ cancel remaining" maintenance rule.
func (m *Manager) cancelForClosedOrDisappeared(ctx context.Context) error {
	posTable := m.Instance.PositionTable()
	sl, err := m.Triggers.ActiveFor(posTable, domain.TriggerStopLoss)
	if err != nil {
		return err
	}
	tp, err := m.Triggers.ActiveFor(posTable, domain.TriggerTakeProfit)
	if err != nil {
		return err
	}
	all := append(append([]domain.TriggerOrder{}, sl...), tp...)
	if len(all) == 0 {
		return nil
	}

	results := m.Pool.Run(len(all), func(i int) (interface{}, error) {
		return nil, m.cancelIfStale(ctx, all[i])
	})
	for i, res := range results {
		if res.Err != nil {
			logger.Warnf("slmanager[%s]: cancel stale %s trigger for position %d: %v", m.Instance, all[i].Kind, all[i].OrigPositionID, res.Err)
		}
	}
	return nil
}

func (m *Manager) cancelIfStale(ctx context.Context, t domain.TriggerOrder) error {
	p, err := m.Positions.Get(t.OrigPositionID)
	disappeared := errors.Is(err, sql.ErrNoRows)
	if err != nil && !disappeared {
		return err
	}
	stale := disappeared || p.IsClosed || p.IsCanceled || !p.IsActive
	if !stale {
		return nil
	}

	if err := m.Gateway.CancelTriggerOrder(ctx, t.Symbol, t.PositionID); err != nil && !exchange.IsTransient(err) {
		return err
	}
	return m.Triggers.Deactivate(t.Kind, t.ID)
}

func distinctSymbols(triggers []domain.TriggerOrder) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range triggers {
		if !seen[t.Symbol] {
			seen[t.Symbol] = true
			out = append(out, t.Symbol)
		}
	}
	return out
}
