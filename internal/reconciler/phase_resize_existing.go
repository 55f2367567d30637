package reconciler

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/exchange"
	"github.com/shadowmirror/copytrader/internal/logger"
	"github.com/shadowmirror/copytrader/internal/matcher"
	"github.com/shadowmirror/copytrader/internal/sizer"
)

// resizeJob pairs one matched partial-close classification with its
// mirrored row, carried through the pool by value since classifications
// hold pointers into slices the next cycle will overwrite.
type resizeJob struct {
	mirrored domain.MirroredPosition
	upstream domain.UpstreamPosition
}

// ResizeExisting implements spec §4.3 phase 5: for each matched
// partial-close pair, shrink the mirrored position proportionally to the
// upstream reduction and issue a reduceOnly partial close for the
// difference.
func (r *Reconciler) ResizeExisting(ctx context.Context, sets []tradeSet) error {
	var jobs []resizeJob
	for _, s := range sets {
		for _, c := range s.classifications {
			if c.Kind == matcher.PartialClose && c.Mirrored != nil && c.Upstream != nil {
				jobs = append(jobs, resizeJob{mirrored: *c.Mirrored, upstream: *c.Upstream})
			}
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	results := r.Pool.Run(len(jobs), func(i int) (interface{}, error) {
		return nil, r.resizeOne(ctx, jobs[i])
	})
	for i, res := range results {
		if res.Err != nil {
			logger.Warnf("reconciler[%s]: resize position %d: %v", r.Instance, jobs[i].mirrored.ID, res.Err)
		}
	}
	return nil
}

func (r *Reconciler) resizeOne(ctx context.Context, job resizeJob) error {
	m, u := job.mirrored, job.upstream
	if !m.IsCopied || m.SubPos == 0 {
		// Never copied yet, or the prior amount is unknown: just record
		// the new upstream amount, nothing to close on the exchange.
		m.SubPos = u.SubPos
		m.Pnl, m.PnlRatio, m.MarkPx = u.Pnl, u.PnlRatio, u.MarkPx
		return r.Positions.Update(m)
	}

	ratio := decimal.NewFromFloat(u.SubPos).Div(decimal.NewFromFloat(m.SubPos))
	newUserAmount := decimal.NewFromFloat(m.UserAmount).Mul(ratio)

	lot, err := r.Gateway.GetLotFilter(ctx, m.Symbol)
	if err != nil {
		return err
	}
	snappedNew := sizer.SnapToStep(newUserAmount, decimal.NewFromFloat(lot.StepSize), decimal.NewFromFloat(lot.MinQty), decimal.NewFromFloat(m.OpenAvgPx))

	delta := decimal.NewFromFloat(m.UserAmount).Sub(snappedNew)
	if delta.IsPositive() && m.IsFilled {
		ack, err := r.Gateway.PartialClose(ctx, exchange.CloseRequest{
			Symbol:        m.Symbol,
			Side:          m.Side.Opposite(),
			Quantity:      delta,
			ClientOrderID: clientOrderID(m.ID, "partial"),
		})
		if err != nil && !exchange.IsTransient(err) {
			return err
		}
		_ = ack
	}

	newAmount, _ := snappedNew.Float64()
	m.SubPos = u.SubPos
	m.UserAmount = newAmount
	m.Pnl, m.PnlRatio, m.MarkPx = u.Pnl, u.PnlRatio, u.MarkPx
	return r.Positions.Update(m)
}
