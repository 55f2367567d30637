package reconciler

import (
	"context"

	"github.com/shadowmirror/copytrader/internal/logger"
	"github.com/shadowmirror/copytrader/internal/matcher"
)

// UpdatePnL implements spec §4.3 phase 2: for every matched (mirrored,
// upstream) pair, copy pnl and pnl_ratio from the upstream side.
func (r *Reconciler) UpdatePnL(ctx context.Context, sets []tradeSet) error {
	type update struct{ idx, set int }
	var updates []update
	for si, s := range sets {
		for ci, c := range s.classifications {
			if c.Upstream == nil || c.Mirrored == nil {
				continue
			}
			if c.Kind == matcher.PartialClose {
				continue // phase 5 owns the amount/pnl write for partial closes
			}
			updates = append(updates, update{idx: ci, set: si})
		}
	}

	results := r.Pool.Run(len(updates), func(i int) (interface{}, error) {
		u := updates[i]
		c := sets[u.set].classifications[u.idx]
		m := *c.Mirrored
		m.Pnl = c.Upstream.Pnl
		m.PnlRatio = c.Upstream.PnlRatio
		m.MarkPx = c.Upstream.MarkPx
		return nil, r.Positions.Update(m)
	})

	for i, res := range results {
		if res.Err != nil {
			u := updates[i]
			logger.Warnf("reconciler[%s]: update pnl for trader %s: %v", r.Instance, sets[u.set].traderID, res.Err)
		}
	}
	return nil
}
