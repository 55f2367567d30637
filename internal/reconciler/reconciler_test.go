package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/shadowmirror/copytrader/internal/config"
	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/exchange"
	"github.com/shadowmirror/copytrader/internal/store"
)

// fakeGateway is a minimal in-memory Gateway stub so the reconciler's
// phases can run end-to-end against a real sqlite-backed Store without
// touching a live exchange.
type fakeGateway struct {
	filled []exchange.Order
	lot    domain.LotFilter
}

func (f *fakeGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }
func (f *fakeGateway) OpenLimitOrder(ctx context.Context, req exchange.OpenOrderRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{OrderID: "ord-1", Status: "NEW"}, nil
}
func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakeGateway) CloseMarket(ctx context.Context, req exchange.CloseRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{OrderID: "ord-close", Status: "NEW"}, nil
}
func (f *fakeGateway) PartialClose(ctx context.Context, req exchange.CloseRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{OrderID: "ord-partial", Status: "NEW"}, nil
}
func (f *fakeGateway) CreateTriggerOrder(ctx context.Context, req exchange.TriggerOrderRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{OrderID: "trig-1", Status: "NEW"}, nil
}
func (f *fakeGateway) CancelTriggerOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakeGateway) GetBalance(ctx context.Context) (exchange.Balance, error) {
	return exchange.Balance{TotalEquity: decimal.NewFromInt(10000), FreeEquity: decimal.NewFromInt(10000)}, nil
}
func (f *fakeGateway) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.NewFromFloat(24.00), nil
}
func (f *fakeGateway) GetLotFilter(ctx context.Context, symbol string) (domain.LotFilter, error) {
	return f.lot, nil
}
func (f *fakeGateway) GetOpenOrders(ctx context.Context, symbols []string) ([]exchange.Order, error) {
	return nil, nil
}
func (f *fakeGateway) GetFilledOrders(ctx context.Context, symbols []string) ([]exchange.Order, error) {
	return f.filled, nil
}
func (f *fakeGateway) GetPositions(ctx context.Context, symbols []string) ([]exchange.Position, error) {
	return nil, nil
}

var _ exchange.Gateway = (*fakeGateway)(nil)

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store) {
	t.Helper()
	s, err := store.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cfg := &config.Config{}
	gw := &fakeGateway{lot: domain.LotFilter{StepSize: 0.1, MinQty: 0, MinNotional: 5}}
	rec, err := New(domain.Instance("x1"), cfg, s, gw, exchange.NewPool(4))
	require.NoError(t, err)
	return rec, s
}

func TestRunCycle_NewAdmissionNotFirstRun(t *testing.T) {
	rec, s := newTestReconciler(t)
	rec.firstCycle = false
	ctx := context.Background()

	require.NoError(t, s.Trader().UpsertTrader(domain.Trader{TraderID: "T1", Nickname: "trader-one"}))
	require.NoError(t, s.Trader().SetFollowedObserved("T1", true, false, false))
	// spec §8 scenario 1's trader: 40 closed trades, positive KC.
	require.NoError(t, rec.Stats.UpsertKC(domain.KCStats{TraderID: "T1", TradesCount: 40, AvgRoe: 0.08, RoeStdDev: 1}))

	now := time.Now()
	require.NoError(t, s.Upstream().ReplaceAll([]domain.UpstreamPosition{
		{TradeItemID: 1001, TraderID: "T1", Symbol: "SOL-USDT", Side: domain.SideLong, OpenAvgPx: 24.00, SubPos: 100, UTime: now},
	}, now.UnixMilli()))

	require.NoError(t, rec.RunCycle(ctx))

	p, err := rec.Positions.Get(1001)
	require.NoError(t, err)
	require.False(t, p.IsIgnored, "admitted position should not be ignored: reason=%q", p.IgnoredReason)
	require.Equal(t, "T1", p.TraderID)
}

func TestRunCycle_FirstCycleIgnoresEverything(t *testing.T) {
	rec, s := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, s.Trader().UpsertTrader(domain.Trader{TraderID: "T2"}))
	require.NoError(t, s.Trader().SetFollowedObserved("T2", true, false, false))

	now := time.Now()
	require.NoError(t, s.Upstream().ReplaceAll([]domain.UpstreamPosition{
		{TradeItemID: 2001, TraderID: "T2", Symbol: "ETH-USDT", Side: domain.SideShort, OpenAvgPx: 3000, SubPos: 5, UTime: now},
	}, now.UnixMilli()))

	require.NoError(t, rec.RunCycle(ctx))

	p, err := rec.Positions.Get(2001)
	require.NoError(t, err)
	require.True(t, p.IsIgnored)
	require.Equal(t, "first_run", p.IgnoredReason)
}
