package reconciler

import (
	"context"
	"time"

	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/exchange"
	"github.com/shadowmirror/copytrader/internal/filter"
	"github.com/shadowmirror/copytrader/internal/logger"
)

// ResolveConflicts implements spec §4.2's cross-position conflict
// resolution step: it runs once per cycle, after per-position filter
// gating and resizing, over every active non-ignored position in the
// instance, and cancels/ignores whichever side of a hedged/cross-
// opposite/duplicate pair the filter package's tie-break rules reject.
func (r *Reconciler) ResolveConflicts(ctx context.Context) error {
	active, err := r.Positions.ActiveNonIgnored()
	if err != nil {
		return err
	}
	if len(active) < 2 {
		return nil
	}

	successStats, traders, err := r.conflictContext(active)
	if err != nil {
		return err
	}

	conflicts := filter.ResolveConflicts(active, successStats, traders)
	if len(conflicts) == 0 {
		return nil
	}

	results := r.Pool.Run(len(conflicts), func(i int) (interface{}, error) {
		return nil, r.applyConflict(ctx, conflicts[i])
	})
	for i, res := range results {
		if res.Err != nil {
			logger.Warnf("reconciler[%s]: resolve conflict for position %d: %v", r.Instance, conflicts[i].Loser.ID, res.Err)
		}
	}
	return nil
}

func (r *Reconciler) conflictContext(active []domain.MirroredPosition) (map[string]domain.SuccessStats, map[string]domain.Trader, error) {
	successStats := map[string]domain.SuccessStats{}
	traders := map[string]domain.Trader{}
	seen := map[string]bool{}
	for _, p := range active {
		if seen[p.TraderID] {
			continue
		}
		seen[p.TraderID] = true

		st, err := r.Stats.SuccessStats(p.TraderID)
		if err != nil {
			return nil, nil, err
		}
		successStats[p.TraderID] = st

		t, err := r.Traders.Get(p.TraderID)
		if err != nil {
			continue // trader row missing is not fatal to conflict resolution
		}
		traders[p.TraderID] = *t
	}
	return successStats, traders, nil
}

// applyConflict cancels the losing position's exchange order (if any was
// ever placed) and marks it ignored so later cycles leave it alone.
func (r *Reconciler) applyConflict(ctx context.Context, c filter.Conflict) error {
	p := c.Loser
	if p.IsCopied && !p.IsFilled {
		if err := r.Gateway.CancelOrder(ctx, p.Symbol, p.BinPosID); err != nil && !exchange.IsTransient(err) {
			return err
		}
		p.IsCanceled = true
	}
	p.IsIgnored = true
	p.IgnoredReason = string(c.Reason)
	return r.Positions.Update(p)
}

// ExpireUnfilled implements spec §4.2's final state-machine step: a
// copied-but-unfilled position that has outlived max_time_to_fill is
// canceled and ignored so the next cycle's InsertNew/resize passes stop
// touching it.
func (r *Reconciler) ExpireUnfilled(ctx context.Context) error {
	copiedNotFilled, err := r.Positions.ActiveCopiedNotFilled()
	if err != nil {
		return err
	}
	if len(copiedNotFilled) == 0 {
		return nil
	}

	maxTimeToFill := r.Cfg.MaxTimeToFill
	if maxTimeToFill <= 0 {
		maxTimeToFill = 60
	}
	timeout := time.Duration(maxTimeToFill) * time.Second

	var expired []domain.MirroredPosition
	now := time.Now()
	for _, p := range copiedNotFilled {
		if filter.Expired(p.InsertedOn, timeout, now) {
			expired = append(expired, p)
		}
	}
	if len(expired) == 0 {
		return nil
	}

	results := r.Pool.Run(len(expired), func(i int) (interface{}, error) {
		return nil, r.expireOne(ctx, expired[i])
	})
	for i, res := range results {
		if res.Err != nil {
			logger.Warnf("reconciler[%s]: expire position %d: %v", r.Instance, expired[i].ID, res.Err)
		}
	}
	return nil
}

func (r *Reconciler) expireOne(ctx context.Context, p domain.MirroredPosition) error {
	if err := r.Gateway.CancelOrder(ctx, p.Symbol, p.BinPosID); err != nil && !exchange.IsTransient(err) {
		return err
	}
	p.IsCanceled = true
	p.IsIgnored = true
	p.IgnoredReason = string(filter.ReasonExpired)
	return r.Positions.Update(p)
}
