// Package reconciler implements spec §4.3's five ordered phases per
// cycle, followed by a conflict-resolution and an unfilled-expiry phase,
// grounded on leaderboard.py's replicate_instance/
// check_and_update_filled_db_orders/update_db_positions_pnl_and_roe
// methods, rebuilt as explicit phase functions over the typed store and
// Gateway rather than a dict-driven dynamic dispatch.
package reconciler

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/shadowmirror/copytrader/internal/config"
	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/exchange"
	"github.com/shadowmirror/copytrader/internal/matcher"
	"github.com/shadowmirror/copytrader/internal/store"
)

// Reconciler drives one instance's full cycle: ReflectFills, UpdatePnL,
// RetireDisappeared, InsertNew, ResizeExisting, ResolveConflicts,
// ExpireUnfilled, in that order, per spec
// §4.3 and §5 ("phases of §4.3 execute sequentially; operations within a
// phase... concurrently").
type Reconciler struct {
	Instance domain.Instance
	Cfg      *config.Config

	Positions *store.PositionStore
	Upstream  *store.UpstreamStore
	Traders   *store.TraderStore
	Stats     *store.StatsStore

	Gateway exchange.Gateway
	Pool    *exchange.Pool

	// firstCycle gates spec §4.2's "first run" rule: the very first
	// cycle this process instance observes, every new position is
	// ignored regardless of any other filter outcome.
	firstCycle bool
}

// New builds a Reconciler for one instance from an already-open Store.
func New(instance domain.Instance, cfg *config.Config, s *store.Store, gw exchange.Gateway, pool *exchange.Pool) (*Reconciler, error) {
	positions, err := s.Positions(instance)
	if err != nil {
		return nil, err
	}
	stats, err := s.Stats(instance)
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		Instance:   instance,
		Cfg:        cfg,
		Positions:  positions,
		Upstream:   s.Upstream(),
		Traders:    s.Trader(),
		Stats:      stats,
		Gateway:    gw,
		Pool:       pool,
		firstCycle: true,
	}, nil
}

// tradeSet bundles one trader's upstream vs. mirrored positions and the
// match classification between them — the shared scope every phase below
// reads from.
type tradeSet struct {
	traderID        string
	classifications []matcher.Classification
}

// RunCycle executes the seven phases in order. A transient-exchange
// failure on an individual operation is logged and does not abort the
// cycle (spec §7); an invariant violation or upstream/DB error aborts the
// remainder of the cycle and is returned for the caller's crash-backoff
// accounting.
func (r *Reconciler) RunCycle(ctx context.Context) error {
	sets, err := r.buildTradeSets()
	if err != nil {
		return fmt.Errorf("reconciler: building trade sets: %w", err)
	}

	if err := r.ReflectFills(ctx); err != nil {
		return fmt.Errorf("reconciler: reflect fills: %w", err)
	}
	if err := r.UpdatePnL(ctx, sets); err != nil {
		return fmt.Errorf("reconciler: update pnl: %w", err)
	}
	if err := r.RetireDisappeared(ctx, sets); err != nil {
		return fmt.Errorf("reconciler: retire disappeared: %w", err)
	}
	if err := r.InsertNew(ctx, sets); err != nil {
		return fmt.Errorf("reconciler: insert new: %w", err)
	}
	if err := r.ResizeExisting(ctx, sets); err != nil {
		return fmt.Errorf("reconciler: resize existing: %w", err)
	}
	if err := r.ResolveConflicts(ctx); err != nil {
		return fmt.Errorf("reconciler: resolve conflicts: %w", err)
	}
	if err := r.ExpireUnfilled(ctx); err != nil {
		return fmt.Errorf("reconciler: expire unfilled: %w", err)
	}

	r.firstCycle = false
	return nil
}

// buildTradeSets groups every active mirrored position and every
// upstream position by trader, then runs the Matcher per trader. This is
// the one place the whole instance's active state is read each cycle
// (spec §5: "all state is re-read at the start of each phase").
func (r *Reconciler) buildTradeSets() ([]tradeSet, error) {
	active, err := r.Positions.Active()
	if err != nil {
		return nil, err
	}

	byTrader := map[string][]domain.MirroredPosition{}
	traderIDs := []string{}
	seen := map[string]bool{}
	for _, p := range active {
		byTrader[p.TraderID] = append(byTrader[p.TraderID], p)
		if !seen[p.TraderID] {
			seen[p.TraderID] = true
			traderIDs = append(traderIDs, p.TraderID)
		}
	}

	// Traders followed/observed but with no mirrored position yet still
	// need a trade set so brand-new upstream positions surface as "New".
	followed, err := r.Traders.ActiveNonIgnored()
	if err != nil {
		return nil, err
	}
	for _, t := range followed {
		if !seen[t.TraderID] {
			seen[t.TraderID] = true
			traderIDs = append(traderIDs, t.TraderID)
		}
	}

	upstreamPositions, err := r.Upstream.ForTraders(traderIDs)
	if err != nil {
		return nil, err
	}
	upstreamByTrader := map[string][]domain.UpstreamPosition{}
	for _, u := range upstreamPositions {
		upstreamByTrader[u.TraderID] = append(upstreamByTrader[u.TraderID], u)
	}

	sets := make([]tradeSet, 0, len(traderIDs))
	for _, id := range traderIDs {
		sets = append(sets, tradeSet{
			traderID:        id,
			classifications: matcher.Match(upstreamByTrader[id], byTrader[id]),
		})
	}
	return sets, nil
}

func clientOrderID(mirrorID int64, kind string) string {
	return exchange.ClientOrderID(mirrorID, kind)
}

func quoteQty(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }
