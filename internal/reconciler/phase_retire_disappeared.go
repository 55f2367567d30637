package reconciler

import (
	"context"

	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/exchange"
	"github.com/shadowmirror/copytrader/internal/logger"
	"github.com/shadowmirror/copytrader/internal/matcher"
)

// RetireDisappeared implements spec §4.3 phase 3: mirrored positions with
// no upstream counterpart are closed (if filled), canceled (if copied but
// unfilled), or simply deactivated (if never copied); SuccessStats is
// updated on deactivation.
func (r *Reconciler) RetireDisappeared(ctx context.Context, sets []tradeSet) error {
	var gone []domain.MirroredPosition
	for _, s := range sets {
		for _, c := range s.classifications {
			if c.Kind == matcher.Disappeared && c.Mirrored != nil {
				gone = append(gone, *c.Mirrored)
			}
		}
	}
	if len(gone) == 0 {
		return nil
	}

	results := r.Pool.Run(len(gone), func(i int) (interface{}, error) {
		return nil, r.retireOne(ctx, gone[i])
	})
	for i, res := range results {
		if res.Err != nil {
			logger.Warnf("reconciler[%s]: retire disappeared position %d: %v", r.Instance, gone[i].ID, res.Err)
		}
	}
	return nil
}

func (r *Reconciler) retireOne(ctx context.Context, p domain.MirroredPosition) error {
	switch {
	case p.IsFilled && !p.IsClosed:
		ack, err := r.Gateway.CloseMarket(ctx, exchange.CloseRequest{
			Symbol:        p.Symbol,
			Side:          p.Side.Opposite(),
			Quantity:      quoteQty(p.UserAmount),
			ClientOrderID: clientOrderID(p.ID, "close"),
		})
		if err != nil && !exchange.IsTransient(err) {
			return err
		}
		_ = ack
		p.IsClosed = true
		p.IsActive = false
		p.UserAmount = 0

	case p.IsCopied && !p.IsFilled:
		if err := r.Gateway.CancelOrder(ctx, p.Symbol, p.BinPosID); err != nil && !exchange.IsTransient(err) {
			return err
		}
		p.IsCanceled = true
		p.IsActive = false

	default:
		p.IsActive = false
	}

	if err := r.Positions.Update(p); err != nil {
		return err
	}
	if err := r.recordOutcome(p); err != nil {
		return err
	}
	if p.IsClosed {
		if err := r.Stats.RecomputeKC(p.TraderID); err != nil {
			logger.Warnf("reconciler[%s]: recompute KC for trader %s: %v", r.Instance, p.TraderID, err)
		}
	}
	return nil
}

// recordOutcome updates SuccessStats on deactivation per spec §4.3 phase
// 3: win if roe (pnl_ratio) > 0, lose if < 0, untouched if exactly zero.
func (r *Reconciler) recordOutcome(p domain.MirroredPosition) error {
	if p.PnlRatio == 0 {
		return r.Stats.UpsertSuccessStats(p.TraderID, nil)
	}
	win := p.PnlRatio > 0
	return r.Stats.UpsertSuccessStats(p.TraderID, &win)
}
