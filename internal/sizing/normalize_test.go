package sizing

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"sniper-core/internal/state"
	"sniper-core/pkg/exchanges/common"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rules(step, minQty, maxQty, tick, minNotional string) common.SymbolRules {
	return common.SymbolRules{
		Symbol:       "TEST",
		QuantityStep: d(step),
		MinQuantity:  d(minQty),
		MaxQuantity:  d(maxQty),
		PriceTick:    d(tick),
		MinNotional:  d(minNotional),
	}
}

func TestNormalizeScenarios(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		rules   common.SymbolRules
		wantQty string
		wantSL  string
		wantTP  string
		wantErr error
	}{
		{
			name:    "step aligned",
			req:     Request{NotionalUSD: d("100"), ReferencePrice: d("2000"), Direction: state.Long, StopLoss: d("1960"), TakeProfit: d("2080"), Tolerance: DefaultTolerance},
			rules:   rules("0.001", "0.001", "1000", "0.01", "10"),
			wantQty: "0.05", wantSL: "1960", wantTP: "2080",
		},
		{
			name:    "too small for min notional",
			req:     Request{NotionalUSD: d("5"), ReferencePrice: d("50000"), Direction: state.Long, StopLoss: d("49000"), TakeProfit: d("52000"), Tolerance: DefaultTolerance},
			rules:   rules("0.001", "0", "1000", "0.1", "10"),
			wantErr: ErrNotionalTooSmall,
		},
		{
			name:    "raised within tolerance",
			req:     Request{NotionalUSD: d("9"), ReferencePrice: d("100"), Direction: state.Long, StopLoss: d("98"), TakeProfit: d("104"), Tolerance: DefaultTolerance},
			rules:   rules("0.01", "0.01", "1000", "0.01", "10"),
			wantQty: "0.1", wantSL: "98", wantTP: "104",
		},
		{
			name:    "floored never rounded up",
			req:     Request{NotionalUSD: d("100"), ReferencePrice: d("3"), Direction: state.Long, StopLoss: d("2.9"), TakeProfit: d("3.2"), Tolerance: DefaultTolerance},
			rules:   rules("1", "1", "1000", "0.001", "5"),
			wantQty: "33", wantSL: "2.9", wantTP: "3.2",
		},
		{
			name:    "clamped to max",
			req:     Request{NotionalUSD: d("1000000"), ReferencePrice: d("10"), Direction: state.Short, StopLoss: d("10.5"), TakeProfit: d("9"), Tolerance: DefaultTolerance},
			rules:   rules("1", "1", "500", "0.01", "5"),
			wantQty: "500", wantSL: "10.5", wantTP: "9",
		},
		{
			name:    "long rounding",
			req:     Request{NotionalUSD: d("100"), ReferencePrice: d("2000"), Direction: state.Long, StopLoss: d("1960.37"), TakeProfit: d("2080.19"), Tolerance: DefaultTolerance},
			rules:   rules("0.001", "0.001", "1000", "0.1", "10"),
			wantQty: "0.05", wantSL: "1960.3", wantTP: "2080.1",
		},
		{
			name:    "short rounding",
			req:     Request{NotionalUSD: d("100"), ReferencePrice: d("2000"), Direction: state.Short, StopLoss: d("2040.31"), TakeProfit: d("1920.04"), Tolerance: DefaultTolerance},
			rules:   rules("0.001", "0.001", "1000", "0.1", "10"),
			wantQty: "0.05", wantSL: "2040.4", wantTP: "1920.1",
		},
		{
			name:    "take profit rounds onto entry",
			req:     Request{NotionalUSD: d("100"), ReferencePrice: d("2000"), Direction: state.Long, StopLoss: d("1990"), TakeProfit: d("2000.5"), Tolerance: DefaultTolerance},
			rules:   rules("0.001", "0.001", "1000", "1", "10"),
			wantErr: ErrProtectionCrossed,
		},
		{
			name:    "inverted levels",
			req:     Request{NotionalUSD: d("100"), ReferencePrice: d("2000"), Direction: state.Long, StopLoss: d("2100"), TakeProfit: d("1900"), Tolerance: DefaultTolerance},
			rules:   rules("0.001", "0.001", "1000", "0.1", "10"),
			wantErr: ErrProtectionCrossed,
		},
		{
			name:    "zero price",
			req:     Request{NotionalUSD: d("100"), ReferencePrice: decimal.Zero, Direction: state.Long, StopLoss: d("1"), TakeProfit: d("2")},
			rules:   rules("0.001", "0.001", "1000", "0.1", "10"),
			wantErr: ErrInvalidInput,
		},
		{
			name:    "missing step",
			req:     Request{NotionalUSD: d("100"), ReferencePrice: d("2000"), Direction: state.Long, StopLoss: d("1960"), TakeProfit: d("2080")},
			rules:   rules("0", "0.001", "1000", "0.1", "10"),
			wantErr: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.req, tt.rules)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Quantity.Equal(d(tt.wantQty)) {
				t.Fatalf("qty = %s, want %s", got.Quantity, tt.wantQty)
			}
			if !got.StopLoss.Equal(d(tt.wantSL)) || !got.TakeProfit.Equal(d(tt.wantTP)) {
				t.Fatalf("levels = %s/%s, want %s/%s", got.StopLoss, got.TakeProfit, tt.wantSL, tt.wantTP)
			}
		})
	}
}

func isMultiple(v, step decimal.Decimal) bool {
	return v.Mod(step).IsZero()
}

// Randomized check of the quantity and level invariants across many inputs.
func TestNormalizeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	steps := []string{"1", "0.1", "0.01", "0.001", "0.0001"}
	ticks := []string{"1", "0.5", "0.1", "0.01", "0.001"}

	for i := 0; i < 5000; i++ {
		step := d(steps[rng.Intn(len(steps))])
		tick := d(ticks[rng.Intn(len(ticks))])
		r := common.SymbolRules{
			Symbol:       "TEST",
			QuantityStep: step,
			MinQuantity:  step.Mul(decimal.NewFromInt(int64(1 + rng.Intn(5)))),
			MaxQuantity:  step.Mul(decimal.NewFromInt(int64(1000 + rng.Intn(100000)))),
			PriceTick:    tick,
			MinNotional:  decimal.NewFromInt(int64(rng.Intn(50))),
		}
		price := FloorToStep(decimal.NewFromFloat(1+rng.Float64()*60000), tick)
		if !price.IsPositive() {
			continue
		}
		notional := decimal.NewFromFloat(1 + rng.Float64()*5000).Round(2)
		dir := state.Long
		slPct, tpPct := 1-0.005-rng.Float64()*0.05, 1+0.005+rng.Float64()*0.1
		if rng.Intn(2) == 0 {
			dir = state.Short
			slPct, tpPct = tpPct, slPct
		}
		req := Request{
			NotionalUSD:    notional,
			ReferencePrice: price,
			Direction:      dir,
			StopLoss:       price.Mul(decimal.NewFromFloat(slPct)),
			TakeProfit:     price.Mul(decimal.NewFromFloat(tpPct)),
			Tolerance:      DefaultTolerance,
		}

		got, err := Normalize(req, r)
		again, err2 := Normalize(req, r)
		if (err == nil) != (err2 == nil) || !got.Quantity.Equal(again.Quantity) || !got.StopLoss.Equal(again.StopLoss) || !got.TakeProfit.Equal(again.TakeProfit) {
			t.Fatalf("case %d not deterministic", i)
		}
		if err != nil {
			if !errors.Is(err, ErrNotionalTooSmall) && !errors.Is(err, ErrProtectionCrossed) {
				t.Fatalf("case %d: unexpected error %v", i, err)
			}
			continue
		}

		q := got.Quantity
		if q.IsNegative() || !isMultiple(q, step) {
			t.Fatalf("case %d: qty %s not a multiple of %s", i, q, step)
		}
		if q.LessThan(r.MinQuantity) || q.GreaterThan(r.MaxQuantity) {
			t.Fatalf("case %d: qty %s outside [%s,%s]", i, q, r.MinQuantity, r.MaxQuantity)
		}
		if q.Mul(price).LessThan(r.MinNotional) {
			t.Fatalf("case %d: notional %s below min %s", i, q.Mul(price), r.MinNotional)
		}
		if q.Mul(price).GreaterThan(notional.Mul(d("1.25"))) {
			t.Fatalf("case %d: notional %s exceeds tolerance over %s", i, q.Mul(price), notional)
		}
		if !isMultiple(got.StopLoss, tick) || !isMultiple(got.TakeProfit, tick) {
			t.Fatalf("case %d: levels %s/%s not on tick %s", i, got.StopLoss, got.TakeProfit, tick)
		}
		if err := state.CheckLevels(dir, price, got.StopLoss, got.TakeProfit); err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		// Stop never moves toward entry; target never moves away.
		if dir == state.Long && (got.StopLoss.GreaterThan(req.StopLoss) || got.TakeProfit.GreaterThan(req.TakeProfit)) {
			t.Fatalf("case %d: long rounding loosened protection", i)
		}
		if dir == state.Short && (got.StopLoss.LessThan(req.StopLoss) || got.TakeProfit.LessThan(req.TakeProfit)) {
			t.Fatalf("case %d: short rounding loosened protection", i)
		}
	}
}
