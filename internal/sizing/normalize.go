// Package sizing turns a USD notional and protective levels into an
// exchange-legal quantity and tick-aligned prices.
package sizing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"sniper-core/internal/state"
	"sniper-core/pkg/exchanges/common"
)

var (
	ErrNotionalTooSmall  = errors.New("notional too small for symbol rules")
	ErrInvalidInput      = errors.New("invalid sizing input")
	ErrProtectionCrossed = errors.New("protective level rounds across entry")
)

// DefaultTolerance is the allowed over-allocation when raising to exchange minimums.
var DefaultTolerance = decimal.RequireFromString("0.25")

// Request is the sizing input for one signal.
type Request struct {
	NotionalUSD    decimal.Decimal
	ReferencePrice decimal.Decimal
	Direction      state.Direction
	StopLoss       decimal.Decimal
	TakeProfit     decimal.Decimal
	Tolerance      decimal.Decimal
}

// Result is an exchange-legal order shape.
type Result struct {
	Quantity   decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Notional   decimal.Decimal
}

// Normalize is deterministic and has no side effects.
func Normalize(req Request, rules common.SymbolRules) (Result, error) {
	price := req.ReferencePrice
	switch {
	case !price.IsPositive(), !req.NotionalUSD.IsPositive():
		return Result{}, fmt.Errorf("%w: price=%s notional=%s", ErrInvalidInput, price, req.NotionalUSD)
	case !rules.QuantityStep.IsPositive(), !rules.PriceTick.IsPositive():
		return Result{}, fmt.Errorf("%w: rules for %s lack step or tick", ErrInvalidInput, rules.Symbol)
	case !req.Direction.Valid():
		return Result{}, fmt.Errorf("%w: direction %q", ErrInvalidInput, req.Direction)
	case !req.StopLoss.IsPositive(), !req.TakeProfit.IsPositive():
		return Result{}, fmt.Errorf("%w: stop_loss=%s take_profit=%s", ErrInvalidInput, req.StopLoss, req.TakeProfit)
	}
	tol := req.Tolerance
	if tol.IsNegative() {
		tol = decimal.Zero
	}

	qty, err := quantity(req.NotionalUSD, price, tol, rules)
	if err != nil {
		return Result{}, err
	}

	sl, tp := roundLevels(req.Direction, req.StopLoss, req.TakeProfit, rules.PriceTick)
	if err := state.CheckLevels(req.Direction, price, sl, tp); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrProtectionCrossed, err)
	}

	return Result{Quantity: qty, StopLoss: sl, TakeProfit: tp, Notional: qty.Mul(price)}, nil
}

func quantity(notional, price, tol decimal.Decimal, rules common.SymbolRules) (decimal.Decimal, error) {
	step := rules.QuantityStep
	qty := notional.Div(price)

	if qty.LessThan(rules.MinQuantity) {
		qty = rules.MinQuantity
	}
	if rules.MaxQuantity.IsPositive() && qty.GreaterThan(rules.MaxQuantity) {
		qty = rules.MaxQuantity
	}
	qty = FloorToStep(qty, step)
	if qty.LessThan(rules.MinQuantity) {
		qty = CeilToStep(rules.MinQuantity, step)
	}

	if qty.Mul(price).LessThan(rules.MinNotional) {
		qty = CeilToStep(rules.MinNotional.Div(price), step)
	}
	if !qty.IsPositive() {
		qty = step
	}

	budget := notional.Mul(decimal.NewFromInt(1).Add(tol))
	if got := qty.Mul(price); got.GreaterThan(budget) {
		return decimal.Zero, fmt.Errorf("%w: smallest legal notional %s exceeds %s", ErrNotionalTooSmall, got, budget)
	}
	if rules.MaxQuantity.IsPositive() && qty.GreaterThan(rules.MaxQuantity) {
		return decimal.Zero, fmt.Errorf("%w: required quantity %s above max %s", ErrNotionalTooSmall, qty, rules.MaxQuantity)
	}
	return qty, nil
}

// roundLevels moves the stop away from entry and the target toward it.
func roundLevels(dir state.Direction, sl, tp, tick decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if dir == state.Long {
		return FloorToStep(sl, tick), FloorToStep(tp, tick)
	}
	return CeilToStep(sl, tick), CeilToStep(tp, tick)
}

// FloorToStep rounds v down to a multiple of step.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Floor().Mul(step)
}

// CeilToStep rounds v up to a multiple of step.
func CeilToStep(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Ceil().Mul(step)
}
