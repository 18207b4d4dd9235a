package state

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func longTrade(instrument string) ActiveTrade {
	return ActiveTrade{
		Instrument: instrument,
		Direction:  Long,
		EntryPrice: d("100"),
		Quantity:   d("1"),
		StopLoss:   d("98"),
		TakeProfit: d("104"),
		State:      Active,
		OpenedAt:   time.Now(),
	}
}

// Two signals for the same instrument racing before either commits.
func TestTryReserveSameInstrumentOnce(t *testing.T) {
	r := NewRegistry(3)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryReserve("BTCUSDT") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one reservation, got %d", wins.Load())
	}
}

func TestTryReserveCapacity(t *testing.T) {
	r := NewRegistry(3)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.TryReserve(fmt.Sprintf("SYM%d", i))
		}(i)
	}
	wg.Wait()

	snap := r.Snapshot()
	if len(snap) != 3 || r.ActiveCount() != 3 {
		t.Fatalf("expected capacity of 3, got %d", len(snap))
	}
	seen := map[string]bool{}
	for _, tr := range snap {
		if seen[tr.Instrument] {
			t.Fatalf("duplicate instrument %s", tr.Instrument)
		}
		seen[tr.Instrument] = true
		if tr.State != PendingEntry {
			t.Fatalf("placeholder state = %s", tr.State)
		}
	}

	r.Release(snap[0].Instrument)
	if !r.TryReserve("NEWSYM") {
		t.Fatalf("release should free capacity")
	}
}

func TestCommit(t *testing.T) {
	tests := []struct {
		name    string
		reserve bool
		trade   func() ActiveTrade
		wantErr error
	}{
		{name: "ok", reserve: true, trade: func() ActiveTrade { return longTrade("BTCUSDT") }},
		{name: "not reserved", trade: func() ActiveTrade { return longTrade("BTCUSDT") }, wantErr: ErrNotReserved},
		{name: "wrong instrument", reserve: true, trade: func() ActiveTrade { return longTrade("ETHUSDT") }, wantErr: ErrInvalidTrade},
		{name: "inverted long levels", reserve: true, trade: func() ActiveTrade {
			tr := longTrade("BTCUSDT")
			tr.StopLoss = d("101")
			return tr
		}, wantErr: ErrInvalidTrade},
		{name: "short levels ok", reserve: true, trade: func() ActiveTrade {
			tr := longTrade("BTCUSDT")
			tr.Direction = Short
			tr.StopLoss, tr.TakeProfit = d("102"), d("96")
			return tr
		}},
		{name: "zero quantity", reserve: true, trade: func() ActiveTrade {
			tr := longTrade("BTCUSDT")
			tr.Quantity = decimal.Zero
			return tr
		}, wantErr: ErrInvalidTrade},
		{name: "closing record", reserve: true, trade: func() ActiveTrade {
			tr := longTrade("BTCUSDT")
			tr.State = Closing
			tr.StopLoss = decimal.Zero
			return tr
		}},
		{name: "closed state refused", reserve: true, trade: func() ActiveTrade {
			tr := longTrade("BTCUSDT")
			tr.State = Closed
			return tr
		}, wantErr: ErrInvalidTrade},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(3)
			if tt.reserve {
				r.TryReserve("BTCUSDT")
			}
			err := r.Commit("BTCUSDT", tt.trade())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := r.Commit("BTCUSDT", tt.trade()); !errors.Is(err, ErrNotReserved) {
				t.Fatalf("double commit should fail, got %v", err)
			}
		})
	}
}

func TestTransition(t *testing.T) {
	r := NewRegistry(1)
	r.TryReserve("BTCUSDT")
	if err := r.Commit("BTCUSDT", longTrade("BTCUSDT")); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Transition("BTCUSDT", Closing, Closed); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("from mismatch should fail, got %v", err)
	}
	if _, err := r.Transition("BTCUSDT", Active, PendingEntry); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("backwards edge should fail, got %v", err)
	}
	tr, err := r.Transition("BTCUSDT", Active, Closed)
	if err != nil || tr.State != Closed {
		t.Fatalf("transition = %+v, %v", tr, err)
	}
	if r.ActiveCount() != 0 || r.Len() != 1 {
		t.Fatalf("closed entry should not count toward capacity")
	}
	if _, err := r.Transition("BTCUSDT", Closed, Active); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("closed is terminal, got %v", err)
	}
	if _, err := r.Transition("ETHUSDT", Active, Closed); !errors.Is(err, ErrUnknownTrade) {
		t.Fatalf("expected ErrUnknownTrade, got %v", err)
	}
}

func TestUpdateKeepsIdentity(t *testing.T) {
	r := NewRegistry(1)
	r.TryReserve("BTCUSDT")
	r.Commit("BTCUSDT", longTrade("BTCUSDT"))

	err := r.Update("BTCUSDT", func(tr *ActiveTrade) {
		tr.StopLossOrderID = ""
		tr.CloseReason = TakeProfitFilled
		tr.State = Closed
		tr.Instrument = "X"
	})
	if err != nil {
		t.Fatal(err)
	}
	tr, _ := r.Get("BTCUSDT")
	if tr.State != Active || tr.Instrument != "BTCUSDT" || tr.CloseReason != TakeProfitFilled {
		t.Fatalf("unexpected trade after update %+v", tr)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	r := NewRegistry(2)
	r.TryReserve("BTCUSDT")
	snap := r.Snapshot()
	snap[0].State = Closed
	if tr, _ := r.Get("BTCUSDT"); tr.State != PendingEntry {
		t.Fatalf("snapshot mutation leaked into registry")
	}
}

func TestDirectionSides(t *testing.T) {
	if Long.EntrySide() != "BUY" || Long.ExitSide() != "SELL" || Short.EntrySide() != "SELL" || Short.ExitSide() != "BUY" {
		t.Fatalf("direction sides wrong")
	}
}
