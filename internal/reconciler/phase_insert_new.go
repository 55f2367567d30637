package reconciler

import (
	"context"
	"database/sql"
	"time"

	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/filter"
	"github.com/shadowmirror/copytrader/internal/logger"
	"github.com/shadowmirror/copytrader/internal/matcher"
)

// dateWindows are the trade-stats windows the filter's ROI gates read,
// matching the upstream observer's refresh set.
var dateWindows = []string{"7d", "30d", "total"}

// InsertNew implements spec §4.3 phase 4 + §4.2's ordered filter gate:
// each upstream-only position either gets persisted uncopied
// (is_copied=0) or persisted pre-ignored with the reason the filter
// produced. Either way the trader's last_pos_datetime is refreshed.
func (r *Reconciler) InsertNew(ctx context.Context, sets []tradeSet) error {
	var fresh []domain.UpstreamPosition
	for _, s := range sets {
		for _, c := range s.classifications {
			if c.Kind == matcher.New && c.Upstream != nil {
				fresh = append(fresh, *c.Upstream)
			}
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	results := r.Pool.Run(len(fresh), func(i int) (interface{}, error) {
		return nil, r.insertOne(fresh[i])
	})
	for i, res := range results {
		if res.Err != nil {
			logger.Warnf("reconciler[%s]: insert new position for trader %s: %v", r.Instance, fresh[i].TraderID, res.Err)
		}
	}
	return nil
}

func (r *Reconciler) insertOne(u domain.UpstreamPosition) error {
	trader, err := r.Traders.Get(u.TraderID)
	if err != nil {
		return err
	}

	reason := filter.Evaluate(r.Cfg, filter.Input{
		Trader:     *trader,
		Windows:    r.windowsFor(u.TraderID),
		KC:         r.kcFor(u.TraderID),
		IsFirstRun: r.firstCycle,
	})

	p := domain.MirroredPosition{
		ID:         u.TradeItemID,
		TraderID:   u.TraderID,
		Symbol:     u.Symbol,
		Side:       u.Side,
		Leverage:   u.Leverage,
		IsActive:   true,
		OpenAvgPx:  u.OpenAvgPx,
		MarkPx:     u.MarkPx,
		Pnl:        u.Pnl,
		PnlRatio:   u.PnlRatio,
		SubPos:     u.SubPos,
		InsertedOn: time.Now(),
		UTime:      u.UTime,
	}
	if reason != filter.ReasonNone {
		p.IsIgnored = true
		p.IgnoredReason = string(reason)
	}

	if err := r.Positions.Insert(p); err != nil {
		return err
	}
	return r.Traders.UpdateLastPosDatetime(u.TraderID, sql.NullTime{Time: u.UTime, Valid: !u.UTime.IsZero()})
}

func (r *Reconciler) windowsFor(traderID string) []filter.TraderWindowStats {
	out := make([]filter.TraderWindowStats, 0, len(dateWindows))
	for _, dr := range dateWindows {
		st, err := r.Traders.Stats(traderID, dr)
		if err != nil {
			out = append(out, filter.TraderWindowStats{DateRange: dr, Found: false})
			continue
		}
		out = append(out, filter.TraderWindowStats{DateRange: dr, YieldRatio: st.YieldRatio, Found: true})
	}
	return out
}

func (r *Reconciler) kcFor(traderID string) domain.KCStats {
	kc, err := r.Stats.KC(traderID)
	if err != nil {
		return domain.KCStats{TraderID: traderID}
	}
	return kc
}
