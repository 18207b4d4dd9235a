package common

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that reduces a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType denotes the futures order types the lifecycle engine submits.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// IsConditional reports whether the order rests until its stop price triggers.
func (t OrderType) IsConditional() bool {
	return t == OrderTypeStopMarket || t == OrderTypeTakeProfitMarket
}

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFFOK TimeInForce = "FOK" // Fill Or Kill
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusOpen     OrderStatus = "OPEN"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusRejected OrderStatus = "REJECTED"
)

// Terminal reports whether no further fills can happen.
func (s OrderStatus) Terminal() bool {
	return s != StatusOpen
}

// OrderRequest captures an order intent to be sent to an exchange.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         decimal.Decimal
	Price       decimal.Decimal // LIMIT only
	StopPrice   decimal.Decimal // STOP_MARKET / TAKE_PROFIT_MARKET trigger
	ReduceOnly  bool
	TimeInForce TimeInForce
	ClientID    string
}

// OrderResult is the exchange acknowledgment. For MARKET orders AvgPrice and
// FilledQty carry the fill.
type OrderResult struct {
	OrderID   string
	ClientID  string
	Status    OrderStatus
	AvgPrice  decimal.Decimal
	FilledQty decimal.Decimal
}

// OrderState is the queried status of a previously placed order.
type OrderState struct {
	Status    OrderStatus
	AvgPrice  decimal.Decimal
	FilledQty decimal.Decimal
}

// Position is an open futures position as reported by the venue.
// Qty is always positive; Side tells the direction.
type Position struct {
	Symbol     string
	Side       Side
	Qty        decimal.Decimal
	EntryPrice decimal.Decimal
}

// SymbolRules holds the per-instrument trading constraints.
type SymbolRules struct {
	Symbol       string
	QuantityStep decimal.Decimal
	MinQuantity  decimal.Decimal
	MaxQuantity  decimal.Decimal
	PriceTick    decimal.Decimal
	MinNotional  decimal.Decimal
}

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
