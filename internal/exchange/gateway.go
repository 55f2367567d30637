// Package exchange is the abstract execution layer described in
// SPEC_FULL.md: a Gateway interface implemented per target venue
// (Binance USDT-M futures, Bybit derivatives, Hyperliquid perps), wrapped
// by a token-bucket rate limiter and a bounded concurrent worker pool so
// the Reconciler/Sizer/SL-TP-Manager never issue calls the venue would
// reject for pace, and never block a whole batch on one failing op.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// OpenOrderRequest opens a limit entry order.
type OpenOrderRequest struct {
	Symbol        string
	Side          domain.Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Leverage      int
	ClientOrderID string
}

// CloseRequest issues a reduceOnly market order, used for both full close
// (spec §4.3 phase 3) and partial close (spec §4.3 phase 5).
type CloseRequest struct {
	Symbol        string
	Side          domain.Side // the side of the close order itself (opposite of the position)
	Quantity      decimal.Decimal
	ClientOrderID string
}

// TriggerOrderRequest creates a stop-market (SL) or take-profit trigger
// order.
type TriggerOrderRequest struct {
	Symbol        string
	Side          domain.Side
	TriggerPrice  decimal.Decimal
	Quantity      decimal.Decimal
	Kind          domain.TriggerKind
	ClientOrderID string
}

// OrderAck is what every mutating call returns: enough to recover the
// order if the HTTP round trip itself timed out (spec §5's "unknown"
// outcome — the client order id survives even when the ack does not).
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Status        string // "NEW" | "FILLED" | "CANCELED" | "UNKNOWN"
}

// Order is a single order/trade record as reported by order-history and
// open-order endpoints.
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          domain.Side
	Status        string
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	UpdatedAt     time.Time
}

// Position is a live exchange position, the source of the liquidation
// price the SL/TP manager needs each cycle.
type Position struct {
	Symbol           string
	Side             domain.Side
	Quantity         decimal.Decimal
	EntryPrice       decimal.Decimal
	LiquidationPrice decimal.Decimal
	MarkPrice        decimal.Decimal
}

// Balance is total vs. free (available-to-trade) account equity.
type Balance struct {
	TotalEquity decimal.Decimal
	FreeEquity  decimal.Decimal
}

// Gateway is the abstract operation set spec §6 requires of the target
// exchange. Every implementation must be safe to retry at the
// "maybe-succeeded" boundary via ClientOrderID (spec §6's last bullet).
type Gateway interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	OpenLimitOrder(ctx context.Context, req OpenOrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	CloseMarket(ctx context.Context, req CloseRequest) (OrderAck, error)
	PartialClose(ctx context.Context, req CloseRequest) (OrderAck, error)
	CreateTriggerOrder(ctx context.Context, req TriggerOrderRequest) (OrderAck, error)
	CancelTriggerOrder(ctx context.Context, symbol, orderID string) error
	GetBalance(ctx context.Context) (Balance, error)
	GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetLotFilter(ctx context.Context, symbol string) (domain.LotFilter, error)
	GetOpenOrders(ctx context.Context, symbols []string) ([]Order, error)
	GetFilledOrders(ctx context.Context, symbols []string) ([]Order, error)
	GetPositions(ctx context.Context, symbols []string) ([]Position, error)
}
