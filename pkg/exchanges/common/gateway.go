package common

import (
	"context"

	"github.com/shopspring/decimal"
)

// Gateway is the capability set the lifecycle engine needs from a futures venue.
// All calls block; callers bound them with a context deadline.
type Gateway interface {
	GetSymbolRules(ctx context.Context, symbol string) (SymbolRules, error)
	GetReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderState, error)
	// GetOpenPosition returns nil when the venue holds no position for symbol.
	GetOpenPosition(ctx context.Context, symbol string) (*Position, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// MarketData supplies candles to decision sources.
type MarketData interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}
