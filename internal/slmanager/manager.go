// Package slmanager implements spec §4.7's stop-loss and take-profit
// lifecycle: liquidation-distance SL, avg-ROE+sigma TP, price/amount
// quantization against the prior trigger, the 1%-drift cancel+re-create
// rule, and reconciling triggered fills back onto the mirrored position.
// Grounded on the same leaderboard.py-derived phase shape as
// internal/reconciler: one struct holding the store/gateway/pool, one
// method per maintenance concern, called in a fixed order every cycle.
package slmanager

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/shadowmirror/copytrader/internal/config"
	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/exchange"
	"github.com/shadowmirror/copytrader/internal/store"
)

// driftThreshold is spec §4.7/§8's 1% re-create rule: exactly 1.0% drift
// does not trigger a cancel+re-create, anything beyond it does.
var driftThreshold = decimal.NewFromFloat(0.01)

// Manager maintains one instance's SL/TP triggers.
type Manager struct {
	Instance domain.Instance
	Cfg      *config.Config

	Positions *store.PositionStore
	Triggers  *store.TriggerStore
	Stats     *store.StatsStore

	Gateway exchange.Gateway
	Pool    *exchange.Pool
}

// New builds a Manager for one instance from an already-open Store.
func New(instance domain.Instance, cfg *config.Config, s *store.Store, gw exchange.Gateway, pool *exchange.Pool) (*Manager, error) {
	positions, err := s.Positions(instance)
	if err != nil {
		return nil, err
	}
	stats, err := s.Stats(instance)
	if err != nil {
		return nil, err
	}
	triggers, err := s.Triggers()
	if err != nil {
		return nil, err
	}
	return &Manager{
		Instance:  instance,
		Cfg:       cfg,
		Positions: positions,
		Triggers:  triggers,
		Stats:     stats,
		Gateway:   gw,
		Pool:      pool,
	}, nil
}

// RunCycle runs spec §4.7's per-cycle SL/TP maintenance, in the order the
// spec describes: refresh liquidation prices before recomputing SL so
// this cycle's prices aren't stale, maintain both trigger families,
// reconcile whatever filled since last cycle, then sweep triggers whose
// mirrored position closed or disappeared.
func (m *Manager) RunCycle(ctx context.Context) error {
	filled, err := m.Positions.ActiveFilledNotClosed()
	if err != nil {
		return fmt.Errorf("slmanager: load filled positions: %w", err)
	}

	filled, err = m.refreshLiquidationPrices(ctx, filled)
	if err != nil {
		return fmt.Errorf("slmanager: refresh liquidation prices: %w", err)
	}

	if err := m.maintainStopLosses(ctx, filled); err != nil {
		return fmt.Errorf("slmanager: maintain stop losses: %w", err)
	}
	if err := m.maintainTakeProfits(ctx, filled); err != nil {
		return fmt.Errorf("slmanager: maintain take profits: %w", err)
	}
	if err := m.reconcileTriggerFills(ctx); err != nil {
		return fmt.Errorf("slmanager: reconcile trigger fills: %w", err)
	}
	if err := m.cancelForClosedOrDisappeared(ctx); err != nil {
		return fmt.Errorf("slmanager: cancel stale triggers: %w", err)
	}
	return nil
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func clientOrderID(mirrorID int64, kind string) string {
	return exchange.ClientOrderID(mirrorID, kind)
}
