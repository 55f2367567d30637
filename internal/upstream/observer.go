package upstream

import (
	"context"
	"database/sql"
	"time"

	"github.com/shadowmirror/copytrader/internal/config"
	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/logger"
	"github.com/shadowmirror/copytrader/internal/store"
)

// observedRetentionWindow is spec §4.2's "observed" grace period: a
// trader dropped from the leaderboard keeps is_observed set (rather than
// being fully dropped) as long as it traded within this window and its
// all-time ROI stayed positive.
const observedRetentionWindow = 30 * 24 * time.Hour

// dateRanges are the trade-stats windows the reconciler's filter/sizer
// logic needs per trader (spec §4.2/§4.4): 7-day and 30-day windows plus
// the all-time total that the filter's total-ROI check reads.
var dateRanges = []string{"7d", "30d", "total"}

// Observer runs the upstream refresh loop: one goroutine, independent of
// every instance's reconciliation loop, that keeps trader/trader_stats
// and position_temp current. Grounded on leaderboard.py's
// replicate_instance polling shape, generalized to run once globally
// instead of once per instance since the leaderboard data itself isn't
// instance-scoped.
type Observer struct {
	client   *Client
	traders  *store.TraderStore
	upstream *store.UpstreamStore
	cfg      *config.Config
	interval time.Duration
	pages    int
}

// NewObserver builds an Observer. pages bounds how many 9-row performance
// pages are scanned per refresh (the leaderboard is large; following only
// the top N pages keeps each cycle bounded). cfg supplies
// search_traders_config's min_aum/min_yield follow gate.
func NewObserver(client *Client, traders *store.TraderStore, upstream *store.UpstreamStore, cfg *config.Config, interval time.Duration, pages int) *Observer {
	if pages <= 0 {
		pages = 5
	}
	return &Observer{client: client, traders: traders, upstream: upstream, cfg: cfg, interval: interval, pages: pages}
}

// Run blocks, refreshing on interval until ctx is canceled, matching
// trader/auto_trader.go's ticker-select-stopchannel loop shape.
func (o *Observer) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	if err := o.refresh(ctx); err != nil {
		logger.Errorf("upstream: initial refresh failed: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.refresh(ctx); err != nil {
				logger.Errorf("upstream: refresh failed: %v", err)
			}
		}
	}
}

func (o *Observer) refresh(ctx context.Context) error {
	refreshTS := time.Now().UnixMilli()

	seen := make(map[string]bool)
	var traderIDs []string
	for page := 1; page <= o.pages; page++ {
		rows, err := o.client.FetchPerformanceList(ctx, page)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}
		for _, r := range rows {
			t := ToTrader(r)
			if t.TraderID == "" {
				continue
			}
			if err := o.traders.UpsertTrader(t); err != nil {
				logger.Warnf("upstream: upsert trader %s: %v", t.TraderID, err)
				continue
			}
			seen[t.TraderID] = true
			traderIDs = append(traderIDs, t.TraderID)

			followed := o.passesSearchGate(t)
			if err := o.traders.SetFollowedObserved(t.TraderID, followed, false, false); err != nil {
				logger.Warnf("upstream: set followed/observed for %s: %v", t.TraderID, err)
			}
		}
	}

	if err := o.retireDropped(seen); err != nil {
		logger.Warnf("upstream: retire dropped traders: %v", err)
	}

	var allPositions []domain.UpstreamPosition
	for _, traderID := range traderIDs {
		open, err := o.client.FetchOpenPositions(ctx, traderID)
		if err != nil {
			logger.Warnf("upstream: fetch open positions for %s: %v", traderID, err)
			continue
		}
		for _, row := range open {
			allPositions = append(allPositions, ToUpstreamPosition(traderID, row))
		}
		if len(open) > 0 {
			if err := o.traders.UpdateLastPosDatetime(traderID, sql.NullTime{Time: time.Now(), Valid: true}); err != nil {
				logger.Warnf("upstream: update last_pos_datetime for %s: %v", traderID, err)
			}
		}

		for _, dr := range dateRanges {
			stats, err := o.client.FetchTradeStats(ctx, traderID, dr)
			if err != nil {
				logger.Warnf("upstream: fetch trade stats for %s/%s: %v", traderID, dr, err)
				continue
			}
			if err := o.traders.UpsertStats(ToTraderStats(traderID, dr, stats)); err != nil {
				logger.Warnf("upstream: upsert stats for %s/%s: %v", traderID, dr, err)
			}
		}
	}

	if err := o.upstream.ReplaceAll(allPositions, refreshTS); err != nil {
		return err
	}

	logger.Infof("upstream: refreshed %d traders, %d open positions", len(traderIDs), len(allPositions))
	return nil
}

// passesSearchGate applies search_traders_config's min_aum/min_yield
// thresholds to a freshly-seen leaderboard row — the "is this trader
// worth following at all" gate, upstream of the per-position filter
// chain in internal/filter.
func (o *Observer) passesSearchGate(t domain.Trader) bool {
	if o.cfg == nil {
		return true
	}
	sc := o.cfg.SearchTradersConfig
	if sc.MinAUM > 0 && t.AUM < sc.MinAUM {
		return false
	}
	if sc.MinYield > 0 && t.YieldRatio < sc.MinYield {
		return false
	}
	return true
}

// retireDropped handles every previously-known trader absent from this
// refresh's leaderboard pages. A trader with positive all-time ROI that
// traded within observedRetentionWindow keeps is_observed set so its
// already-mirrored positions keep being managed; everyone else loses
// both is_followed and is_observed and has is_init cleared, matching
// upsert_init_traders's traders_to_stop_following_or_observing branch.
func (o *Observer) retireDropped(seen map[string]bool) error {
	ids, err := o.traders.AllTraderIDs()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, id := range ids {
		if seen[id] {
			continue
		}
		observed := false
		if t, err := o.traders.Get(id); err == nil {
			if total, err := o.traders.Stats(id, "total"); err == nil && total.YieldRatio > 0 {
				if !t.LastPosDatetime.IsZero() && now.Sub(t.LastPosDatetime) <= observedRetentionWindow {
					observed = true
				}
			}
		}
		if err := o.traders.SetFollowedObserved(id, false, observed, true); err != nil {
			logger.Warnf("upstream: retire dropped trader %s: %v", id, err)
		}
	}
	return nil
}
