package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	bybit "github.com/bybit-exchange/bybit.go.api"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// BybitGateway implements Gateway against Bybit's linear-perpetual
// (derivatives) category via bybit-exchange/bybit.go.api.
type BybitGateway struct {
	client   *bybit.Client
	category string
}

// NewBybitGateway builds a Gateway from an instance's API credentials.
func NewBybitGateway(apiKey, apiSecret string) *BybitGateway {
	client := bybit.NewBybitHttpClient(apiKey, apiSecret, bybit.WithBaseURL(bybit.MAINNET))
	return &BybitGateway{client: client, category: "linear"}
}

func toBybitSide(s domain.Side) string {
	if s == domain.SideLong {
		return "Buy"
	}
	return "Sell"
}

func (g *BybitGateway) do(ctx context.Context, params map[string]interface{}) (*bybit.ServerResponse, error) {
	return g.client.NewUtaBybitServiceWithParams(params).Do(ctx)
}

func (g *BybitGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := g.do(ctx, map[string]interface{}{
		"op": "position/set-leverage", "category": g.category, "symbol": symbol,
		"buyLeverage": strconv.Itoa(leverage), "sellLeverage": strconv.Itoa(leverage),
	})
	auditCall("bybit", "SetLeverage", symbol, logrus.Fields{"leverage": leverage}, err)
	return err
}

func (g *BybitGateway) OpenLimitOrder(ctx context.Context, req OpenOrderRequest) (OrderAck, error) {
	resp, err := g.do(ctx, map[string]interface{}{
		"op": "order/place", "category": g.category, "symbol": req.Symbol,
		"side": toBybitSide(req.Side), "orderType": "Limit", "timeInForce": "GTC",
		"qty": req.Quantity.String(), "price": req.Price.String(), "orderLinkId": req.ClientOrderID,
	})
	ack := ackFromBybit(req.ClientOrderID, resp, err)
	auditCall("bybit", "OpenLimitOrder", req.Symbol, logrus.Fields{"side": req.Side, "qty": req.Quantity.String()}, err)
	return ack, err
}

func (g *BybitGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := g.do(ctx, map[string]interface{}{
		"op": "order/cancel", "category": g.category, "symbol": symbol, "orderId": orderID,
	})
	auditCall("bybit", "CancelOrder", symbol, logrus.Fields{"order_id": orderID}, err)
	if err != nil && bybitOrderGone(err) {
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}
	return err
}

func (g *BybitGateway) closeOrPartial(ctx context.Context, req CloseRequest) (OrderAck, error) {
	resp, err := g.do(ctx, map[string]interface{}{
		"op": "order/place", "category": g.category, "symbol": req.Symbol,
		"side": toBybitSide(req.Side), "orderType": "Market", "qty": req.Quantity.String(),
		"reduceOnly": true, "orderLinkId": req.ClientOrderID,
	})
	return ackFromBybit(req.ClientOrderID, resp, err), err
}

func (g *BybitGateway) CloseMarket(ctx context.Context, req CloseRequest) (OrderAck, error) {
	ack, err := g.closeOrPartial(ctx, req)
	auditCall("bybit", "CloseMarket", req.Symbol, logrus.Fields{"qty": req.Quantity.String()}, err)
	return ack, err
}

func (g *BybitGateway) PartialClose(ctx context.Context, req CloseRequest) (OrderAck, error) {
	ack, err := g.closeOrPartial(ctx, req)
	auditCall("bybit", "PartialClose", req.Symbol, logrus.Fields{"qty": req.Quantity.String()}, err)
	return ack, err
}

func (g *BybitGateway) CreateTriggerOrder(ctx context.Context, req TriggerOrderRequest) (OrderAck, error) {
	resp, err := g.do(ctx, map[string]interface{}{
		"op": "order/place", "category": g.category, "symbol": req.Symbol,
		"side": toBybitSide(req.Side), "orderType": "Market", "qty": req.Quantity.String(),
		"triggerPrice": req.TriggerPrice.String(), "reduceOnly": true, "orderLinkId": req.ClientOrderID,
	})
	ack := ackFromBybit(req.ClientOrderID, resp, err)
	auditCall("bybit", "CreateTriggerOrder", req.Symbol, logrus.Fields{"kind": req.Kind, "trigger_price": req.TriggerPrice.String()}, err)
	return ack, err
}

func (g *BybitGateway) CancelTriggerOrder(ctx context.Context, symbol, orderID string) error {
	return g.CancelOrder(ctx, symbol, orderID)
}

func (g *BybitGateway) GetBalance(ctx context.Context) (Balance, error) {
	resp, err := g.do(ctx, map[string]interface{}{"op": "account/wallet-balance", "accountType": "UNIFIED"})
	if err != nil {
		auditCall("bybit", "GetBalance", "", nil, err)
		return Balance{}, err
	}
	total, free := decimalField(resp, "totalEquity"), decimalField(resp, "totalAvailableBalance")
	return Balance{TotalEquity: total, FreeEquity: free}, nil
}

func (g *BybitGateway) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	resp, err := g.do(ctx, map[string]interface{}{"op": "market/tickers", "category": g.category, "symbol": symbol})
	if err != nil {
		auditCall("bybit", "GetLastPrice", symbol, nil, err)
		return decimal.Zero, err
	}
	return decimalField(resp, "lastPrice"), nil
}

func (g *BybitGateway) GetLotFilter(ctx context.Context, symbol string) (domain.LotFilter, error) {
	resp, err := g.do(ctx, map[string]interface{}{"op": "market/instruments-info", "category": g.category, "symbol": symbol})
	if err != nil {
		auditCall("bybit", "GetLotFilter", symbol, nil, err)
		return domain.LotFilter{}, err
	}
	return domain.LotFilter{
		Symbol:      symbol,
		StepSize:    float64FromDecimal(decimalField(resp, "qtyStep")),
		MinQty:      float64FromDecimal(decimalField(resp, "minOrderQty")),
		MinNotional: float64FromDecimal(decimalField(resp, "minNotionalValue")),
	}, nil
}

func (g *BybitGateway) GetOpenOrders(ctx context.Context, symbols []string) ([]Order, error) {
	var out []Order
	for _, symbol := range symbols {
		resp, err := g.do(ctx, map[string]interface{}{"op": "order/realtime", "category": g.category, "symbol": symbol})
		if err != nil {
			auditCall("bybit", "GetOpenOrders", symbol, nil, err)
			return nil, err
		}
		out = append(out, ordersFromBybit(symbol, resp)...)
	}
	return out, nil
}

func (g *BybitGateway) GetFilledOrders(ctx context.Context, symbols []string) ([]Order, error) {
	var out []Order
	for _, symbol := range symbols {
		resp, err := g.do(ctx, map[string]interface{}{"op": "order/history", "category": g.category, "symbol": symbol, "orderStatus": "Filled"})
		if err != nil {
			auditCall("bybit", "GetFilledOrders", symbol, nil, err)
			return nil, err
		}
		out = append(out, ordersFromBybit(symbol, resp)...)
	}
	return out, nil
}

func (g *BybitGateway) GetPositions(ctx context.Context, symbols []string) ([]Position, error) {
	var out []Position
	for _, symbol := range symbols {
		resp, err := g.do(ctx, map[string]interface{}{"op": "position/list", "category": g.category, "symbol": symbol})
		if err != nil {
			auditCall("bybit", "GetPositions", symbol, nil, err)
			return nil, err
		}
		qty := decimalField(resp, "size")
		if qty.IsZero() {
			continue
		}
		side := domain.SideLong
		if sideField(resp) == "Sell" {
			side = domain.SideShort
		}
		out = append(out, Position{
			Symbol: symbol, Side: side, Quantity: qty,
			EntryPrice:       decimalField(resp, "avgPrice"),
			LiquidationPrice: decimalField(resp, "liqPrice"),
			MarkPrice:        decimalField(resp, "markPrice"),
		})
	}
	return out, nil
}

// The bybit.go.api client returns a generic map-shaped ServerResponse;
// these helpers pull typed values out of its Result payload the way the
// SDK's own examples do.

func decimalField(resp *bybit.ServerResponse, key string) decimal.Decimal {
	if resp == nil {
		return decimal.Zero
	}
	m, ok := resp.Result.(map[string]interface{})
	if !ok {
		return decimal.Zero
	}
	s, _ := m[key].(string)
	v, _ := decimal.NewFromString(s)
	return v
}

func sideField(resp *bybit.ServerResponse) string {
	if resp == nil {
		return ""
	}
	m, ok := resp.Result.(map[string]interface{})
	if !ok {
		return ""
	}
	s, _ := m["side"].(string)
	return s
}

func float64FromDecimal(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

func ackFromBybit(clientOrderID string, resp *bybit.ServerResponse, err error) OrderAck {
	ack := OrderAck{ClientOrderID: clientOrderID, Status: "UNKNOWN"}
	if err != nil || resp == nil {
		return ack
	}
	m, ok := resp.Result.(map[string]interface{})
	if !ok {
		return ack
	}
	if id, ok := m["orderId"].(string); ok {
		ack.OrderID = id
	}
	ack.Status = "NEW"
	return ack
}

func ordersFromBybit(symbol string, resp *bybit.ServerResponse) []Order {
	if resp == nil {
		return nil
	}
	m, ok := resp.Result.(map[string]interface{})
	if !ok {
		return nil
	}
	list, _ := m["list"].([]interface{})
	out := make([]Order, 0, len(list))
	for _, raw := range list {
		row, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		side := domain.SideLong
		if s, _ := row["side"].(string); s == "Sell" {
			side = domain.SideShort
		}
		qty, _ := decimal.NewFromString(fmt.Sprint(row["qty"]))
		price, _ := decimal.NewFromString(fmt.Sprint(row["price"]))
		out = append(out, Order{
			OrderID:       fmt.Sprint(row["orderId"]),
			ClientOrderID: fmt.Sprint(row["orderLinkId"]),
			Symbol:        symbol,
			Side:          side,
			Status:        fmt.Sprint(row["orderStatus"]),
			Quantity:      qty,
			Price:         price,
			UpdatedAt:     time.Now(),
		})
	}
	return out
}

func bybitOrderGone(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "110001") || strings.Contains(err.Error(), "order not exists"))
}
