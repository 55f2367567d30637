package engine

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

type fakeGateway struct {
	lot     domain.LotFilter
	balance exchange.Balance
	created []exchange.OpenOrderRequest
}

func (f *fakeGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error { return nil }
func (f *fakeGateway) OpenLimitOrder(ctx context.Context, req exchange.OpenOrderRequest) (exchange.OrderAck, error) {
	f.created = append(f.created, req)
	return exchange.OrderAck{OrderID: "ord-" + req.ClientOrderID, Status: "NEW"}, nil
}
func (f *fakeGateway) CancelOrder(ctx context.Context, symbol, orderID string) error { return nil }
func (f *fakeGateway) CloseMarket(ctx context.Context, req exchange.CloseRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, nil
}
func (f *fakeGateway) PartialClose(ctx context.Context, req exchange.CloseRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, nil
}
func (f *fakeGateway) CreateTriggerOrder(ctx context.Context, req exchange.TriggerOrderRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{}, nil
}
func (f *fakeGateway) CancelTriggerOrder(ctx context.Context, symbol, orderID string) error {
	return nil
}
func (f *fakeGateway) GetBalance(ctx context.Context) (exchange.Balance, error) { return f.balance, nil }
func (f *fakeGateway) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeGateway) GetLotFilter(ctx context.Context, symbol string) (domain.LotFilter, error) {
	return f.lot, nil
}
func (f *fakeGateway) GetOpenOrders(ctx context.Context, symbols []string) ([]exchange.Order, error) {
	return nil, nil
}
func (f *fakeGateway) GetFilledOrders(ctx context.Context, symbols []string) ([]exchange.Order, error) {
	return nil, nil
}
func (f *fakeGateway) GetPositions(ctx context.Context, symbols []string) ([]exchange.Position, error) {
	return nil, nil
}

var _ exchange.Gateway = (*fakeGateway)(nil)

func newTestInstance(t *testing.T, gw *fakeGateway, ic config.InstanceConfig) (*Instance, *store.Store) {
	t.Helper()
	s, err := store.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cfg := &config.Config{
		SLRatio:      0.5,
		CopyTraderBy: "KC",
		Instances:    map[string]config.InstanceConfig{"x1": ic},
	}

	inst, err := New(domain.Instance("x1"), cfg, s, gw)
	require.NoError(t, err)
	return inst, s
}

func TestAdmitAndCopy_SingleMode_AdmitsLeaderOnly(t *testing.T) {
	gw := &fakeGateway{
		lot:     domain.LotFilter{StepSize: 1, MinQty: 1},
		balance: exchange.Balance{TotalEquity: decimal.NewFromInt(1000)},
	}
	ic := config.InstanceConfig{
		Enabled: true,
		Mode:    config.ModeSingleCopy,
		CopyPositions: config.SizingConfig{
			EquityOfTotalEquity: 50,
			EquityPerSinglePos:  10,
			MaxPosSizePerc:      20,
			MinPosSizePerc:      5,
		},
	}
	inst, s := newTestInstance(t, gw, ic)

	require.NoError(t, s.Trader().UpsertTrader(domain.Trader{TraderID: "LEADER"}))
	require.NoError(t, s.Trader().UpsertTrader(domain.Trader{TraderID: "OTHER"}))

	leaderStats, err := s.Stats(domain.Instance("x1"))
	require.NoError(t, err)
	require.NoError(t, leaderStats.UpsertKC(domain.KCStats{TraderID: "LEADER", TradesCount: 40, AvgRoe: 0.2, RoeStdDev: 0.1}))
	require.NoError(t, leaderStats.UpsertKC(domain.KCStats{TraderID: "OTHER", TradesCount: 40, AvgRoe: 0.01, RoeStdDev: 0.1}))

	require.NoError(t, inst.Positions.Insert(domain.MirroredPosition{
		ID: 1, TraderID: "LEADER", Symbol: "SOL-USDT", Side: domain.SideLong,
		IsActive: true, OpenAvgPx: 24.00, Leverage: 5, InsertedOn: time.Now(),
	}))
	require.NoError(t, inst.Positions.Insert(domain.MirroredPosition{
		ID: 2, TraderID: "OTHER", Symbol: "BTC-USDT", Side: domain.SideLong,
		IsActive: true, OpenAvgPx: 50000, Leverage: 5, InsertedOn: time.Now(),
	}))

	admitted, dropped, err := inst.AdmitAndCopy(context.Background())
	require.NoError(t, err)
	require.Len(t, admitted, 1)
	require.Equal(t, "LEADER", admitted[0].TraderID)
	require.Len(t, dropped, 1)
	require.Equal(t, "OTHER", dropped[0].TraderID)

	p2, err := inst.Positions.Get(2)
	require.NoError(t, err)
	require.True(t, p2.IsIgnored)
	require.Equal(t, "lower kc", p2.IgnoredReason)
}

func TestAdmitAndCopy_DisabledInstanceStillReturnsNoError(t *testing.T) {
	gw := &fakeGateway{lot: domain.LotFilter{StepSize: 1, MinQty: 1}, balance: exchange.Balance{TotalEquity: decimal.NewFromInt(1000)}}
	ic := config.InstanceConfig{Enabled: false, Mode: config.ModeSingleCopy}
	inst, _ := newTestInstance(t, gw, ic)

	require.NoError(t, inst.Reconciler.RunCycle(context.Background()))
	_, _, err := inst.AdmitAndCopy(context.Background())
	require.NoError(t, err)
}
