package symbols

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"sniper-core/pkg/exchanges/common"
)

type fakeSource struct {
	mu    sync.Mutex
	rules map[string]common.SymbolRules
	calls map[string]int
	err   error
}

func (f *fakeSource) GetSymbolRules(_ context.Context, symbol string) (common.SymbolRules, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if f.err != nil {
		return common.SymbolRules{}, f.err
	}
	r, ok := f.rules[symbol]
	if !ok {
		return common.SymbolRules{}, errors.New("symbol not listed")
	}
	return r, nil
}

func btcRules(step string) common.SymbolRules {
	return common.SymbolRules{
		QuantityStep: decimal.RequireFromString(step),
		MinQuantity:  decimal.RequireFromString("0.001"),
		MaxQuantity:  decimal.NewFromInt(1000),
		PriceTick:    decimal.RequireFromString("0.1"),
		MinNotional:  decimal.NewFromInt(100),
	}
}

func newSource() *fakeSource {
	return &fakeSource{
		rules: map[string]common.SymbolRules{
			"BTCUSDT": btcRules("0.001"),
			"BADUSDT": {QuantityStep: decimal.Zero, PriceTick: decimal.RequireFromString("0.1")},
		},
		calls: map[string]int{},
	}
}

func TestGetLoadsOnceOnMiss(t *testing.T) {
	src := newSource()
	c := NewCache(src, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r, err := c.Get(ctx, "BTCUSDT")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.Symbol != "BTCUSDT" {
			t.Fatalf("symbol not stamped: %+v", r)
		}
	}
	if src.calls["BTCUSDT"] != 1 {
		t.Fatalf("expected one fetch, got %d", src.calls["BTCUSDT"])
	}

	_, err := c.Get(ctx, "XRPUSDT")
	if !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}
}

func TestRefreshReplacesAndKeepsOnFailure(t *testing.T) {
	src := newSource()
	c := NewCache(src, zerolog.Nop())
	ctx := context.Background()
	c.Get(ctx, "BTCUSDT")

	src.rules["BTCUSDT"] = btcRules("0.01")
	if _, err := c.Refresh(ctx, "BTCUSDT"); err != nil {
		t.Fatal(err)
	}
	r, _ := c.Get(ctx, "BTCUSDT")
	if !r.QuantityStep.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("refresh did not replace entry: %s", r.QuantityStep)
	}

	src.err = errors.New("venue down")
	if _, err := c.Refresh(ctx, "BTCUSDT"); err == nil {
		t.Fatalf("expected refresh error")
	}
	if r, err := c.Get(ctx, "BTCUSDT"); err != nil || !r.QuantityStep.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("failed refresh should keep cached entry, got %+v %v", r, err)
	}

	c.Invalidate("BTCUSDT")
	if _, err := c.Get(ctx, "BTCUSDT"); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("invalidated entry should refetch and fail, got %v", err)
	}
}

func TestLoadAggregatesFailures(t *testing.T) {
	c := NewCache(newSource(), zerolog.Nop())
	err := c.Load(context.Background(), "BTCUSDT", "BADUSDT", "XRPUSDT")
	if len(multierr.Errors(err)) != 2 {
		t.Fatalf("expected two failures, got %v", err)
	}
	if !errors.Is(err, ErrInvalidRules) || !strings.Contains(err.Error(), "XRPUSDT") {
		t.Fatalf("unexpected aggregate %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("good instrument should still load, len=%d", c.Len())
	}
}
