// Package risk validates signals at the engine boundary, builds protective
// orders and tracks instruments halted after unrecoverable failures.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"sniper-core/internal/state"
	"sniper-core/internal/strategy"
)

var (
	ErrLowConfidence = errors.New("confidence below threshold")
	ErrInvalidSignal = errors.New("invalid signal")
)

// Policy holds the signal acceptance rules.
type Policy struct {
	MinConfidence        int
	DefaultStopLossPct   decimal.Decimal
	DefaultTakeProfitPct decimal.Decimal
}

// DefaultPolicy mirrors the base 2% stop and 4% target.
func DefaultPolicy() Policy {
	return Policy{
		MinConfidence:        60,
		DefaultStopLossPct:   decimal.RequireFromString("0.02"),
		DefaultTakeProfitPct: decimal.RequireFromString("0.04"),
	}
}

// Validate checks sig once at the engine boundary and returns it with any
// missing protective level derived from the default percentages. Levels on
// the wrong side of the reference price are rejected, never swapped.
func (p Policy) Validate(sig strategy.TradeSignal) (strategy.TradeSignal, error) {
	switch {
	case sig.Instrument == "":
		return sig, fmt.Errorf("%w: empty instrument", ErrInvalidSignal)
	case !sig.Direction.Valid():
		return sig, fmt.Errorf("%w: direction %q", ErrInvalidSignal, sig.Direction)
	case !sig.ReferencePrice.IsPositive():
		return sig, fmt.Errorf("%w: reference price %s", ErrInvalidSignal, sig.ReferencePrice)
	case !sig.NotionalUSD.IsPositive():
		return sig, fmt.Errorf("%w: notional %s", ErrInvalidSignal, sig.NotionalUSD)
	case sig.Confidence < 0 || sig.Confidence > 100:
		return sig, fmt.Errorf("%w: confidence %d", ErrInvalidSignal, sig.Confidence)
	case sig.StopLoss.IsNegative(), sig.TakeProfit.IsNegative():
		return sig, fmt.Errorf("%w: negative protective level", ErrInvalidSignal)
	}
	if sig.Confidence < p.MinConfidence {
		return sig, fmt.Errorf("%w: %d < %d", ErrLowConfidence, sig.Confidence, p.MinConfidence)
	}

	one := decimal.NewFromInt(1)
	price := sig.ReferencePrice
	if sig.StopLoss.IsZero() {
		if sig.Direction == state.Long {
			sig.StopLoss = price.Mul(one.Sub(p.DefaultStopLossPct))
		} else {
			sig.StopLoss = price.Mul(one.Add(p.DefaultStopLossPct))
		}
	}
	if sig.TakeProfit.IsZero() {
		if sig.Direction == state.Long {
			sig.TakeProfit = price.Mul(one.Add(p.DefaultTakeProfitPct))
		} else {
			sig.TakeProfit = price.Mul(one.Sub(p.DefaultTakeProfitPct))
		}
	}

	if err := state.CheckLevels(sig.Direction, price, sig.StopLoss, sig.TakeProfit); err != nil {
		return sig, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	return sig, nil
}
