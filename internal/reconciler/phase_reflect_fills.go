package reconciler

import (
	"context"

	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/logger"
)

// ReflectFills implements spec §4.3 phase 1: for each active, copied,
// not-yet-filled mirrored position, check whether its local-exchange
// order id now appears in the FILLED set for its symbol.
func (r *Reconciler) ReflectFills(ctx context.Context) error {
	pending, err := r.Positions.ActiveCopiedNotFilled()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	symbols := uniqueSymbols(pending)
	filled, err := r.Gateway.GetFilledOrders(ctx, symbols)
	if err != nil {
		return err
	}

	filledIDs := map[string]bool{}
	for _, o := range filled {
		filledIDs[o.OrderID] = true
	}

	results := r.Pool.Run(len(pending), func(i int) (interface{}, error) {
		p := pending[i]
		if !filledIDs[p.BinPosID] {
			return nil, nil
		}
		p.IsFilled = true
		return nil, r.Positions.Update(p)
	})

	for i, res := range results {
		if res.Err != nil {
			logger.Warnf("reconciler[%s]: reflect fill for position %d: %v", r.Instance, pending[i].ID, res.Err)
		}
	}
	return nil
}

func uniqueSymbols(positions []domain.MirroredPosition) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}
