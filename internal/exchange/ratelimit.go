package exchange

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// RateLimited decorates any Gateway with a token-bucket limiter, matching
// the original Python AsyncLimiter(10, 1) 1:1: every concurrent caller
// acquires a token before the wrapped call proceeds, rather than each
// adapter rolling its own pacing.
type RateLimited struct {
	inner   Gateway
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a limiter allowing perSecond operations
// per second, bursting up to perSecond.
func NewRateLimited(inner Gateway, perSecond int) *RateLimited {
	if perSecond <= 0 {
		perSecond = 10
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond)}
}

func (r *RateLimited) wait(ctx context.Context) error { return r.limiter.Wait(ctx) }

func (r *RateLimited) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.SetLeverage(ctx, symbol, leverage)
}

func (r *RateLimited) OpenLimitOrder(ctx context.Context, req OpenOrderRequest) (OrderAck, error) {
	if err := r.wait(ctx); err != nil {
		return OrderAck{}, err
	}
	return r.inner.OpenLimitOrder(ctx, req)
}

func (r *RateLimited) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.CancelOrder(ctx, symbol, orderID)
}

func (r *RateLimited) CloseMarket(ctx context.Context, req CloseRequest) (OrderAck, error) {
	if err := r.wait(ctx); err != nil {
		return OrderAck{}, err
	}
	return r.inner.CloseMarket(ctx, req)
}

func (r *RateLimited) PartialClose(ctx context.Context, req CloseRequest) (OrderAck, error) {
	if err := r.wait(ctx); err != nil {
		return OrderAck{}, err
	}
	return r.inner.PartialClose(ctx, req)
}

func (r *RateLimited) CreateTriggerOrder(ctx context.Context, req TriggerOrderRequest) (OrderAck, error) {
	if err := r.wait(ctx); err != nil {
		return OrderAck{}, err
	}
	return r.inner.CreateTriggerOrder(ctx, req)
}

func (r *RateLimited) CancelTriggerOrder(ctx context.Context, symbol, orderID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.CancelTriggerOrder(ctx, symbol, orderID)
}

func (r *RateLimited) GetBalance(ctx context.Context) (Balance, error) {
	if err := r.wait(ctx); err != nil {
		return Balance{}, err
	}
	return r.inner.GetBalance(ctx)
}

func (r *RateLimited) GetLastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := r.wait(ctx); err != nil {
		return decimal.Zero, err
	}
	return r.inner.GetLastPrice(ctx, symbol)
}

func (r *RateLimited) GetLotFilter(ctx context.Context, symbol string) (domain.LotFilter, error) {
	if err := r.wait(ctx); err != nil {
		return domain.LotFilter{}, err
	}
	return r.inner.GetLotFilter(ctx, symbol)
}

func (r *RateLimited) GetOpenOrders(ctx context.Context, symbols []string) ([]Order, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetOpenOrders(ctx, symbols)
}

func (r *RateLimited) GetFilledOrders(ctx context.Context, symbols []string) ([]Order, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetFilledOrders(ctx, symbols)
}

func (r *RateLimited) GetPositions(ctx context.Context, symbols []string) ([]Position, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.inner.GetPositions(ctx, symbols)
}

var _ Gateway = (*RateLimited)(nil)
