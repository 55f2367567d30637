package exchange

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// BinanceGateway implements Gateway against Binance USDT-M futures via
// adshao/go-binance/v2, the exchange the teacher's own go.mod already
// carried a client for.
type BinanceGateway struct {
	client *futures.Client
}

// NewBinanceGateway builds a Gateway from an instance's API credentials.
func NewBinanceGateway(apiKey, apiSecret string) *BinanceGateway {
	return &BinanceGateway{client: futures.NewClient(apiKey, apiSecret)}
}

func toBinanceSide(s domain.Side) futures.SideType {
	if s == domain.SideLong {
		return futures.SideTypeBuy
	}
	return futures.SideTypeSell
}

func (g *BinanceGateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := g.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	auditCall("binance", "SetLeverage", symbol, logrus.Fields{"leverage": leverage}, err)
	return err
}

func (g *BinanceGateway) OpenLimitOrder(ctx context.Context, req OpenOrderRequest) (OrderAck, error) {
	price, _ := req.Price.Float64()
	qty, _ := req.Quantity.Float64()

	order, err := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(toBinanceSide(req.Side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(strconv.FormatFloat(qty, 'f', -1, 64)).
		Price(strconv.FormatFloat(price, 'f', -1, 64)).
		NewClientOrderID(req.ClientOrderID).
		Do(ctx)

	ack := ackFromErr(req.ClientOrderID, err)
	if order != nil {
		ack.OrderID = strconv.FormatInt(order.OrderID, 10)
		ack.Status = string(order.Status)
	}
	auditCall("binance", "OpenLimitOrder", req.Symbol, logrus.Fields{"side": req.Side, "qty": qty, "price": price}, err)
	return ack, err
}

func (g *BinanceGateway) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, _ := strconv.ParseInt(orderID, 10, 64)
	_, err := g.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	auditCall("binance", "CancelOrder", symbol, logrus.Fields{"order_id": orderID}, err)
	if err != nil && isBinanceOrderGone(err) {
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}
	return err
}

func (g *BinanceGateway) closeOrPartial(ctx context.Context, req CloseRequest) (OrderAck, error) {
	qty, _ := req.Quantity.Float64()
	order, err := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(toBinanceSide(req.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(qty, 'f', -1, 64)).
		ReduceOnly(true).
		NewClientOrderID(req.ClientOrderID).
		Do(ctx)

	ack := ackFromErr(req.ClientOrderID, err)
	if order != nil {
		ack.OrderID = strconv.FormatInt(order.OrderID, 10)
		ack.Status = string(order.Status)
	}
	return ack, err
}

func (g *BinanceGateway) CloseMarket(ctx context.Context, req CloseRequest) (OrderAck, error) {
	ack, err := g.closeOrPartial(ctx, req)
	auditCall("binance", "CloseMarket", req.Symbol, logrus.Fields{"qty": req.Quantity.String()}, err)
	return ack, err
}

func (g *BinanceGateway) PartialClose(ctx context.Context, req CloseRequest) (OrderAck, error) {
	ack, err := g.closeOrPartial(ctx, req)
	auditCall("binance", "PartialClose", req.Symbol, logrus.Fields{"qty": req.Quantity.String()}, err)
	return ack, err
}

func (g *BinanceGateway) CreateTriggerOrder(ctx context.Context, req TriggerOrderRequest) (OrderAck, error) {
	price, _ := req.TriggerPrice.Float64()
	qty, _ := req.Quantity.Float64()

	orderType := futures.OrderTypeStopMarket
	if req.Kind == domain.TriggerTakeProfit {
		orderType = futures.OrderTypeTakeProfitMarket
	}

	order, err := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(toBinanceSide(req.Side)).
		Type(orderType).
		StopPrice(strconv.FormatFloat(price, 'f', -1, 64)).
		Quantity(strconv.FormatFloat(qty, 'f', -1, 64)).
		ReduceOnly(true).
		NewClientOrderID(req.ClientOrderID).
		Do(ctx)

	ack := ackFromErr(req.ClientOrderID, err)
	if order != nil {
		ack.OrderID = strconv.FormatInt(order.OrderID, 10)
		ack.Status = string(order.Status)
	}
	auditCall("binance", "CreateTriggerOrder", req.Symbol, logrus.Fields{"kind": req.Kind, "trigger_price": price}, err)
	return ack, err
}

func (g *BinanceGateway) CancelTriggerOrder(ctx context.Context, symbol, orderID string) error {
	return g.CancelOrder(ctx, symbol, orderID)
}

func (g *BinanceGateway) GetBalance(ctx context.Context) (Balance, error) {
	balances, err := g.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		auditCall("binance", "GetBalance", "", nil, err)
		return Balance{}, err
	}
	for _, b := range balances {
		if b.Asset == "USDT" {
			total, _ := decimal.NewFromString(b.Balance)
			free, _ := decimal.NewFromString(b.AvailableBalance)
			return Balance{TotalEquity: total, FreeEquity: free}, nil
		}
	}
	return Balance{}, fmt.Errorf("binance: no USDT balance entry")
}

func (g *BinanceGateway) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	prices, err := g.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil || len(prices) == 0 {
		auditCall("binance", "GetLastPrice", symbol, nil, err)
		return decimal.Zero, err
	}
	return decimal.NewFromString(prices[0].Price)
}

func (g *BinanceGateway) GetLotFilter(ctx context.Context, symbol string) (domain.LotFilter, error) {
	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		auditCall("binance", "GetLotFilter", symbol, nil, err)
		return domain.LotFilter{}, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		lf := domain.LotFilter{Symbol: symbol, PricePrecision: s.PricePrecision}
		if f := s.LotSizeFilter(); f != nil {
			lf.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
			lf.MinQty, _ = strconv.ParseFloat(f.MinQuantity, 64)
		}
		if f := s.MinNotionalFilter(); f != nil {
			lf.MinNotional, _ = strconv.ParseFloat(f.Notional, 64)
		}
		return lf, nil
	}
	return domain.LotFilter{}, fmt.Errorf("binance: unknown symbol %s", symbol)
}

func (g *BinanceGateway) GetOpenOrders(ctx context.Context, symbols []string) ([]Order, error) {
	var out []Order
	for _, symbol := range symbols {
		orders, err := g.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
		if err != nil {
			auditCall("binance", "GetOpenOrders", symbol, nil, err)
			return nil, err
		}
		out = append(out, toOrders(symbol, orders)...)
	}
	return out, nil
}

func (g *BinanceGateway) GetFilledOrders(ctx context.Context, symbols []string) ([]Order, error) {
	var out []Order
	for _, symbol := range symbols {
		orders, err := g.client.NewListOrdersService().Symbol(symbol).Do(ctx)
		if err != nil {
			auditCall("binance", "GetFilledOrders", symbol, nil, err)
			return nil, err
		}
		for _, o := range orders {
			if o.Status == futures.OrderStatusTypeFilled {
				out = append(out, orderToDomain(symbol, o))
			}
		}
	}
	return out, nil
}

func (g *BinanceGateway) GetPositions(ctx context.Context, symbols []string) ([]Position, error) {
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		auditCall("binance", "GetPositions", "", nil, err)
		return nil, err
	}
	want := map[string]bool{}
	for _, s := range symbols {
		want[s] = true
	}

	var out []Position
	for _, r := range risks {
		if len(want) > 0 && !want[r.Symbol] {
			continue
		}
		qty, _ := decimal.NewFromString(r.PositionAmt)
		if qty.IsZero() {
			continue
		}
		side := domain.SideLong
		if qty.IsNegative() {
			side = domain.SideShort
		}
		entry, _ := decimal.NewFromString(r.EntryPrice)
		liq, _ := decimal.NewFromString(r.LiquidationPrice)
		mark, _ := decimal.NewFromString(r.MarkPrice)
		out = append(out, Position{
			Symbol: r.Symbol, Side: side, Quantity: qty.Abs(),
			EntryPrice: entry, LiquidationPrice: liq, MarkPrice: mark,
		})
	}
	return out, nil
}

func toOrders(symbol string, orders []*futures.Order) []Order {
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderToDomain(symbol, o))
	}
	return out
}

func orderToDomain(symbol string, o *futures.Order) Order {
	qty, _ := decimal.NewFromString(o.OrigQuantity)
	price, _ := decimal.NewFromString(o.Price)
	side := domain.SideLong
	if o.Side == futures.SideTypeSell {
		side = domain.SideShort
	}
	return Order{
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		ClientOrderID: o.ClientOrderID,
		Symbol:        symbol,
		Side:          side,
		Status:        string(o.Status),
		Quantity:      qty,
		Price:         price,
		UpdatedAt:     time.UnixMilli(o.UpdateTime),
	}
}

func ackFromErr(clientOrderID string, err error) OrderAck {
	if err != nil {
		return OrderAck{ClientOrderID: clientOrderID, Status: "UNKNOWN"}
	}
	return OrderAck{ClientOrderID: clientOrderID, Status: "NEW"}
}

func isBinanceOrderGone(err error) bool {
	apiErr, ok := err.(*futures.APIError)
	return ok && (apiErr.Code == -2011 || apiErr.Code == -2013)
}
