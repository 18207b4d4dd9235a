package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"sniper-core/internal/state"
	"sniper-core/internal/strategy"
	"sniper-core/pkg/exchanges/common"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func signal(dir state.Direction, sl, tp string, confidence int) strategy.TradeSignal {
	return strategy.TradeSignal{
		Instrument:     "BTCUSDT",
		Direction:      dir,
		ReferencePrice: d("100"),
		StopLoss:       d(sl),
		TakeProfit:     d(tp),
		NotionalUSD:    d("50"),
		Confidence:     confidence,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		sig     strategy.TradeSignal
		wantSL  string
		wantTP  string
		wantErr error
	}{
		{name: "long ok", sig: signal(state.Long, "98", "104", 80), wantSL: "98", wantTP: "104"},
		{name: "short ok", sig: signal(state.Short, "102", "96", 60), wantSL: "102", wantTP: "96"},
		{name: "long derived levels", sig: signal(state.Long, "0", "0", 70), wantSL: "98", wantTP: "104"},
		{name: "short derived levels", sig: signal(state.Short, "0", "0", 70), wantSL: "102", wantTP: "96"},
		{name: "low confidence", sig: signal(state.Long, "98", "104", 59), wantErr: ErrLowConfidence},
		{name: "confidence out of range", sig: signal(state.Long, "98", "104", 101), wantErr: ErrInvalidSignal},
		{name: "inverted long", sig: signal(state.Long, "104", "98", 90), wantErr: ErrInvalidSignal},
		{name: "short stop below entry", sig: signal(state.Short, "99", "96", 90), wantErr: ErrInvalidSignal},
		{name: "bad direction", sig: signal("UP", "98", "104", 90), wantErr: ErrInvalidSignal},
		{name: "empty instrument", sig: func() strategy.TradeSignal {
			s := signal(state.Long, "98", "104", 90)
			s.Instrument = ""
			return s
		}(), wantErr: ErrInvalidSignal},
		{name: "zero notional", sig: func() strategy.TradeSignal {
			s := signal(state.Long, "98", "104", 90)
			s.NotionalUSD = decimal.Zero
			return s
		}(), wantErr: ErrInvalidSignal},
	}

	p := DefaultPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Validate(tt.sig)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.StopLoss.Equal(d(tt.wantSL)) || !got.TakeProfit.Equal(d(tt.wantTP)) {
				t.Fatalf("levels = %s/%s, want %s/%s", got.StopLoss, got.TakeProfit, tt.wantSL, tt.wantTP)
			}
		})
	}
}

func TestProtectiveOrdersExitSide(t *testing.T) {
	for _, dir := range []state.Direction{state.Long, state.Short} {
		entry := EntryOrder("BTCUSDT", dir, d("1"), "e")
		sl := StopLossOrder("BTCUSDT", dir, d("1"), d("90"), "s")
		tp := TakeProfitOrder("BTCUSDT", dir, d("1"), d("110"), "t")
		ec := EmergencyCloseOrder("BTCUSDT", dir, d("1"), "c")

		if entry.ReduceOnly || entry.Type != common.OrderTypeMarket {
			t.Fatalf("%s entry should be plain market", dir)
		}
		for _, o := range []common.OrderRequest{sl, tp, ec} {
			if o.Side != entry.Side.Opposite() || !o.ReduceOnly || !o.Qty.Equal(d("1")) {
				t.Fatalf("%s exit order wrong: %+v", dir, o)
			}
		}
		if sl.Type != common.OrderTypeStopMarket || tp.Type != common.OrderTypeTakeProfitMarket || ec.Type != common.OrderTypeMarket {
			t.Fatalf("%s order types wrong", dir)
		}
	}
}

func TestHaltBook(t *testing.T) {
	b := NewHaltBook()
	first := b.Halt("BTCUSDT", "emergency close failed")
	again := b.Halt("BTCUSDT", "second")
	if again.Reason != first.Reason {
		t.Fatalf("repeated halt should keep first record")
	}
	b.Restore(Halt{Instrument: "ETHUSDT", Reason: "restored"})
	if !b.IsHalted("BTCUSDT") || !b.IsHalted("ETHUSDT") || b.Len() != 2 {
		t.Fatalf("expected two halts, got %+v", b.List())
	}
	if list := b.List(); list[0].Instrument != "BTCUSDT" {
		t.Fatalf("list not ordered: %+v", list)
	}

	if _, err := b.Acknowledge("BTCUSDT"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if b.IsHalted("BTCUSDT") {
		t.Fatalf("halt should be lifted")
	}
	if _, err := b.Acknowledge("BTCUSDT"); !errors.Is(err, ErrNotHalted) {
		t.Fatalf("expected ErrNotHalted, got %v", err)
	}
}
