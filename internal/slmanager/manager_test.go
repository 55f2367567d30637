package slmanager

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/shadowmirror/copytrader/internal/config"
	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/exchange"
	"github.com/shadowmirror/copytrader/internal/store"
)

type fakeGateway struct {
	liquidation decimal.Decimal
	filledIDs   map[string]bool
	created     []exchange.TriggerOrderRequest
	canceled    []string
}

func (f *fakeGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }
func (f *fakeGateway) OpenLimitOrder(ctx context.Context, req exchange.OpenOrderRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, nil
}
func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakeGateway) CloseMarket(ctx context.Context, req exchange.CloseRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, nil
}
func (f *fakeGateway) PartialClose(ctx context.Context, req exchange.CloseRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, nil
}
func (f *fakeGateway) CreateTriggerOrder(ctx context.Context, req exchange.TriggerOrderRequest) (exchange.OrderAck, error) {
	f.created = append(f.created, req)
	return exchange.OrderAck{OrderID: "trig-" + req.ClientOrderID, Status: "NEW"}, nil
}
func (f *fakeGateway) CancelTriggerOrder(ctx context.Context, symbol, orderID string) error {
	f.canceled = append(f.canceled, orderID)
	return nil
}
func (f *fakeGateway) GetBalance(ctx context.Context) (exchange.Balance, error) {
	return exchange.Balance{}, nil
}
func (f *fakeGateway) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeGateway) GetLotFilter(ctx context.Context, symbol string) (domain.LotFilter, error) {
	return domain.LotFilter{}, nil
}
func (f *fakeGateway) GetOpenOrders(ctx context.Context, symbols []string) ([]exchange.Order, error) {
	return nil, nil
}
func (f *fakeGateway) GetFilledOrders(ctx context.Context, symbols []string) ([]exchange.Order, error) {
	var out []exchange.Order
	for id := range f.filledIDs {
		out = append(out, exchange.Order{OrderID: id, Status: "FILLED"})
	}
	return out, nil
}
func (f *fakeGateway) GetPositions(ctx context.Context, symbols []string) ([]exchange.Position, error) {
	if f.liquidation.IsZero() {
		return nil, nil
	}
	return []exchange.Position{{Symbol: "SOL-USDT", Side: domain.SideLong, LiquidationPrice: f.liquidation}}, nil
}

var _ exchange.Gateway = (*fakeGateway)(nil)

func newTestManager(t *testing.T, gw *fakeGateway) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cfg := &config.Config{SLRatio: 0.5}
	mgr, err := New(domain.Instance("x1"), cfg, s, gw, exchange.NewPool(4))
	require.NoError(t, err)
	return mgr, s
}

func TestMaintainStopLosses_CreatesOnFirstSight(t *testing.T) {
	gw := &fakeGateway{liquidation: decimal.NewFromInt(20)}
	mgr, s := newTestManager(t, gw)

	require.NoError(t, s.Trader().UpsertTrader(domain.Trader{TraderID: "T1"}))
	positions, err := s.Positions(domain.Instance("x1"))
	require.NoError(t, err)
	require.NoError(t, positions.Insert(domain.MirroredPosition{
		ID: 1001, TraderID: "T1", Symbol: "SOL-USDT", Side: domain.SideLong,
		IsActive: true, IsCopied: true, IsFilled: true,
		OpenAvgPx: 24.00, LiquidationPx: 20.00, UserAmount: 56.3,
	}))

	require.NoError(t, mgr.RunCycle(context.Background()))
	// One SL plus the TP the same cycle creates (no KC stats yet, so the
	// TP target sits at the entry price).
	require.Len(t, gw.created, 2)

	trig, err := mgr.Triggers.Get("position_x1", 1001, domain.TriggerStopLoss)
	require.NoError(t, err)
	require.InDelta(t, 22.00, trig.Price, 0.01, "sl_price = 24 - (24-20)*0.5 = 22.00")
}

func TestMaintainStopLosses_SkipsWithoutLiquidationPrice(t *testing.T) {
	gw := &fakeGateway{}
	mgr, s := newTestManager(t, gw)

	require.NoError(t, s.Trader().UpsertTrader(domain.Trader{TraderID: "T1"}))
	positions, err := s.Positions(domain.Instance("x1"))
	require.NoError(t, err)
	require.NoError(t, positions.Insert(domain.MirroredPosition{
		ID: 2001, TraderID: "T1", Symbol: "SOL-USDT", Side: domain.SideLong,
		IsActive: true, IsCopied: true, IsFilled: true,
		OpenAvgPx: 24.00, UserAmount: 10,
	}))

	require.NoError(t, mgr.RunCycle(context.Background()))
	require.Len(t, gw.created, 1, "no liquidation price yet: SL creation must be skipped, never fabricated")
	require.Equal(t, domain.TriggerTakeProfit, gw.created[0].Kind, "only the TP is created")
}

func TestDriftExceeds_ExactOnePercentDoesNotTrigger(t *testing.T) {
	old := decimal.NewFromInt(100)
	exactlyOne := decimal.NewFromInt(101)
	require.False(t, driftExceeds(exactlyOne, old), "exactly 1% drift must not trigger cancel+re-create")
	justOver := decimal.NewFromFloat(101.01)
	require.True(t, driftExceeds(justOver, old))
}

func TestOnTriggerFilled_StopLossClosesPositionAndDoublesPenalty(t *testing.T) {
	gw := &fakeGateway{}
	mgr, s := newTestManager(t, gw)

	require.NoError(t, s.Trader().UpsertTrader(domain.Trader{TraderID: "T1"}))
	positions, err := s.Positions(domain.Instance("x1"))
	require.NoError(t, err)
	require.NoError(t, positions.Insert(domain.MirroredPosition{
		ID: 3001, TraderID: "T1", Symbol: "SOL-USDT", Side: domain.SideLong,
		IsActive: true, IsCopied: true, IsFilled: true, UserAmount: 10,
	}))

	require.NoError(t, mgr.Triggers.Upsert(domain.TriggerOrder{
		PositionTable: "position_x1", OrigPositionID: 3001, PositionID: "ord-sl-1",
		Symbol: "SOL-USDT", Kind: domain.TriggerStopLoss, Side: domain.SideShort,
		IsActive: true, Price: 22.00, Amount: 10,
	}))

	err = mgr.onTriggerFilled(domain.TriggerOrder{
		ID: 1, OrigPositionID: 3001, PositionID: "ord-sl-1", Kind: domain.TriggerStopLoss,
	})
	require.NoError(t, err)

	p, err := positions.Get(3001)
	require.NoError(t, err)
	require.True(t, p.IsClosed)
	require.Zero(t, p.UserAmount)

	penalty, err := mgr.Stats.Penalty("T1")
	require.NoError(t, err)
	require.Equal(t, 2.0, penalty, "first stop-loss hit sets the initial penalty multiplier")
}
