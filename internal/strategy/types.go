// Package strategy holds the decision sources that turn a market snapshot
// into a trade signal or a skip.
package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"sniper-core/internal/state"
	"sniper-core/pkg/exchanges/common"
)

// TradeSignal is what a decision source asks the engine to open.
type TradeSignal struct {
	Instrument     string          `json:"instrument"`
	Direction      state.Direction `json:"direction"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	StopLoss       decimal.Decimal `json:"stop_loss"`
	TakeProfit     decimal.Decimal `json:"take_profit"`
	NotionalUSD    decimal.Decimal `json:"notional_usd"`
	Confidence     int             `json:"confidence"`
	Reason         string          `json:"reason"`
}

// Snapshot is the market view handed to a decision source.
type Snapshot struct {
	Instrument     string          `json:"instrument"`
	Interval       string          `json:"interval"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	NotionalUSD    decimal.Decimal `json:"notional_usd"`
	Klines         []common.Kline  `json:"klines"`
	Sentiment      float64         `json:"sentiment"`
}

// Decision carries either a signal or the reason for skipping.
type Decision struct {
	Signal     *TradeSignal
	SkipReason string
}

// Skip builds a no-trade decision.
func Skip(reason string) Decision { return Decision{SkipReason: reason} }

// Trade builds a decision carrying sig.
func Trade(sig TradeSignal) Decision { return Decision{Signal: &sig} }

// Source evaluates snapshots. Remote and local sources are interchangeable.
type Source interface {
	Name() string
	Evaluate(ctx context.Context, snap Snapshot) (Decision, error)
}
