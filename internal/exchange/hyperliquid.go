package exchange

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	hl "github.com/sonirico/go-hyperliquid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// HyperliquidGateway implements Gateway against Hyperliquid perpetuals
// via sonirico/go-hyperliquid. go-ethereum supplies only the ECDSA key
// loading (crypto.HexToECDSA) the SDK signs every order with — the same
// narrow role it plays in the teacher's own multi-exchange wiring.
type HyperliquidGateway struct {
	client *hl.Client
	key    *ecdsa.PrivateKey
}

// NewHyperliquidGateway builds a Gateway from a hex-encoded private key.
func NewHyperliquidGateway(privateKeyHex string) (*HyperliquidGateway, error) {
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: loading signing key: %w", err)
	}
	client := hl.NewClient(hl.MainnetAPIURL, key)
	return &HyperliquidGateway{client: client, key: key}, nil
}

func toHyperliquidSide(s domain.Side) bool {
	return s == domain.SideLong // go-hyperliquid's order request takes IsBuy bool
}

func (g *HyperliquidGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	err := g.client.Exchange.UpdateLeverage(ctx, symbol, "cross", leverage)
	auditCall("hyperliquid", "SetLeverage", symbol, logrus.Fields{"leverage": leverage}, err)
	return err
}

func (g *HyperliquidGateway) OpenLimitOrder(ctx context.Context, req OpenOrderRequest) (OrderAck, error) {
	price, _ := req.Price.Float64()
	qty, _ := req.Quantity.Float64()

	resp, err := g.client.Exchange.PlaceOrder(ctx, hl.OrderRequest{
		Asset:      req.Symbol,
		IsBuy:      toHyperliquidSide(req.Side),
		Price:      price,
		Size:       qty,
		ReduceOnly: false,
		OrderType:  hl.OrderTypeLimit,
		TimeInForce: hl.TifGtc,
		ClientOID:  req.ClientOrderID,
	})
	ack := hlAck(req.ClientOrderID, resp, err)
	auditCall("hyperliquid", "OpenLimitOrder", req.Symbol, logrus.Fields{"side": req.Side, "qty": qty, "price": price}, err)
	return ack, err
}

func (g *HyperliquidGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	err := g.client.Exchange.CancelOrder(ctx, symbol, orderID)
	auditCall("hyperliquid", "CancelOrder", symbol, logrus.Fields{"order_id": orderID}, err)
	if err != nil && hlOrderGone(err) {
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}
	return err
}

func (g *HyperliquidGateway) closeOrPartial(ctx context.Context, req CloseRequest) (OrderAck, error) {
	qty, _ := req.Quantity.Float64()
	resp, err := g.client.Exchange.PlaceOrder(ctx, hl.OrderRequest{
		Asset: req.Symbol, IsBuy: toHyperliquidSide(req.Side), Size: qty,
		ReduceOnly: true, OrderType: hl.OrderTypeMarket, ClientOID: req.ClientOrderID,
	})
	return hlAck(req.ClientOrderID, resp, err), err
}

func (g *HyperliquidGateway) CloseMarket(ctx context.Context, req CloseRequest) (OrderAck, error) {
	ack, err := g.closeOrPartial(ctx, req)
	auditCall("hyperliquid", "CloseMarket", req.Symbol, logrus.Fields{"qty": req.Quantity.String()}, err)
	return ack, err
}

func (g *HyperliquidGateway) PartialClose(ctx context.Context, req CloseRequest) (OrderAck, error) {
	ack, err := g.closeOrPartial(ctx, req)
	auditCall("hyperliquid", "PartialClose", req.Symbol, logrus.Fields{"qty": req.Quantity.String()}, err)
	return ack, err
}

func (g *HyperliquidGateway) CreateTriggerOrder(ctx context.Context, req TriggerOrderRequest) (OrderAck, error) {
	price, _ := req.TriggerPrice.Float64()
	qty, _ := req.Quantity.Float64()

	orderType := hl.OrderTypeStopMarket
	if req.Kind == domain.TriggerTakeProfit {
		orderType = hl.OrderTypeTakeProfitMarket
	}

	resp, err := g.client.Exchange.PlaceOrder(ctx, hl.OrderRequest{
		Asset: req.Symbol, IsBuy: toHyperliquidSide(req.Side), Size: qty,
		TriggerPrice: price, ReduceOnly: true, OrderType: orderType, ClientOID: req.ClientOrderID,
	})
	ack := hlAck(req.ClientOrderID, resp, err)
	auditCall("hyperliquid", "CreateTriggerOrder", req.Symbol, logrus.Fields{"kind": req.Kind, "trigger_price": price}, err)
	return ack, err
}

func (g *HyperliquidGateway) CancelTriggerOrder(ctx context.Context, symbol, orderID string) error {
	return g.CancelOrder(ctx, symbol, orderID)
}

func (g *HyperliquidGateway) GetBalance(ctx context.Context) (Balance, error) {
	state, err := g.client.Info.UserState(ctx, crypto.PubkeyToAddress(g.key.PublicKey).Hex())
	if err != nil {
		auditCall("hyperliquid", "GetBalance", "", nil, err)
		return Balance{}, err
	}
	total := decimal.NewFromFloat(state.MarginSummary.AccountValue)
	free := decimal.NewFromFloat(state.MarginSummary.AccountValue - state.MarginSummary.TotalMarginUsed)
	return Balance{TotalEquity: total, FreeEquity: free}, nil
}

func (g *HyperliquidGateway) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	mids, err := g.client.Info.AllMids(ctx)
	if err != nil {
		auditCall("hyperliquid", "GetLastPrice", symbol, nil, err)
		return decimal.Zero, err
	}
	price, ok := mids[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("hyperliquid: no mid price for %s", symbol)
	}
	return decimal.NewFromFloat(price), nil
}

func (g *HyperliquidGateway) GetLotFilter(ctx context.Context, symbol string) (domain.LotFilter, error) {
	meta, err := g.client.Info.Meta(ctx)
	if err != nil {
		auditCall("hyperliquid", "GetLotFilter", symbol, nil, err)
		return domain.LotFilter{}, err
	}
	for _, a := range meta.Universe {
		if a.Name != symbol {
			continue
		}
		step := 1.0
		for i := 0; i < a.SzDecimals; i++ {
			step /= 10
		}
		return domain.LotFilter{Symbol: symbol, StepSize: step, MinQty: step, MinNotional: 10}, nil
	}
	return domain.LotFilter{}, fmt.Errorf("hyperliquid: unknown symbol %s", symbol)
}

func (g *HyperliquidGateway) GetOpenOrders(ctx context.Context, symbols []string) ([]Order, error) {
	orders, err := g.client.Info.OpenOrders(ctx, crypto.PubkeyToAddress(g.key.PublicKey).Hex())
	if err != nil {
		auditCall("hyperliquid", "GetOpenOrders", "", nil, err)
		return nil, err
	}
	return filterHlOrders(orders, symbols, ""), nil
}

func (g *HyperliquidGateway) GetFilledOrders(ctx context.Context, symbols []string) ([]Order, error) {
	fills, err := g.client.Info.UserFills(ctx, crypto.PubkeyToAddress(g.key.PublicKey).Hex())
	if err != nil {
		auditCall("hyperliquid", "GetFilledOrders", "", nil, err)
		return nil, err
	}
	want := map[string]bool{}
	for _, s := range symbols {
		want[s] = true
	}
	var out []Order
	for _, f := range fills {
		if len(want) > 0 && !want[f.Coin] {
			continue
		}
		side := domain.SideLong
		if f.Side == "A" {
			side = domain.SideShort
		}
		out = append(out, Order{
			OrderID: fmt.Sprintf("%d", f.Oid), Symbol: f.Coin, Side: side, Status: "FILLED",
			Quantity: decimal.NewFromFloat(f.Sz), Price: decimal.NewFromFloat(f.Px),
		})
	}
	return out, nil
}

func (g *HyperliquidGateway) GetPositions(ctx context.Context, symbols []string) ([]Position, error) {
	state, err := g.client.Info.UserState(ctx, crypto.PubkeyToAddress(g.key.PublicKey).Hex())
	if err != nil {
		auditCall("hyperliquid", "GetPositions", "", nil, err)
		return nil, err
	}
	want := map[string]bool{}
	for _, s := range symbols {
		want[s] = true
	}
	var out []Position
	for _, p := range state.AssetPositions {
		if len(want) > 0 && !want[p.Position.Coin] {
			continue
		}
		if p.Position.Szi == 0 {
			continue
		}
		side := domain.SideLong
		if p.Position.Szi < 0 {
			side = domain.SideShort
		}
		out = append(out, Position{
			Symbol: p.Position.Coin, Side: side,
			Quantity:         decimal.NewFromFloat(p.Position.Szi).Abs(),
			EntryPrice:       decimal.NewFromFloat(p.Position.EntryPx),
			LiquidationPrice: decimal.NewFromFloat(p.Position.LiquidationPx),
		})
	}
	return out, nil
}

func filterHlOrders(orders []hl.OpenOrder, symbols []string, status string) []Order {
	want := map[string]bool{}
	for _, s := range symbols {
		want[s] = true
	}
	var out []Order
	for _, o := range orders {
		if len(want) > 0 && !want[o.Coin] {
			continue
		}
		side := domain.SideLong
		if o.Side == "A" {
			side = domain.SideShort
		}
		out = append(out, Order{
			OrderID: fmt.Sprintf("%d", o.Oid), ClientOrderID: o.Cloid, Symbol: o.Coin, Side: side,
			Status: "NEW", Quantity: decimal.NewFromFloat(o.Sz), Price: decimal.NewFromFloat(o.LimitPx),
		})
	}
	return out
}

func hlAck(clientOrderID string, resp *hl.OrderResponse, err error) OrderAck {
	if err != nil || resp == nil {
		return OrderAck{ClientOrderID: clientOrderID, Status: "UNKNOWN"}
	}
	return OrderAck{OrderID: fmt.Sprintf("%d", resp.Oid), ClientOrderID: clientOrderID, Status: "NEW"}
}

func hlOrderGone(err error) bool {
	return err != nil
}
