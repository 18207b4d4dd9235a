package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sniper-core/internal/events"
	"sniper-core/internal/reconciliation"
	"sniper-core/internal/state"
	"sniper-core/pkg/db"
)

func newStore(t *testing.T) *db.Queries {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database.Queries()
}

func TestReportPersistsAndPublishes(t *testing.T) {
	store := newStore(t)
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.EventTradeClosed, 1)
	defer unsub()
	j := New(store, bus, zerolog.Nop())

	opened := time.Unix(1700000000, 0)
	r := reconciliation.NewPortfolioReport(state.ActiveTrade{
		Instrument: "ETHUSDT",
		Direction:  state.Short,
		EntryPrice: decimal.NewFromInt(2000),
		Quantity:   decimal.RequireFromString("0.05"),
		OpenedAt:   opened,
	}, decimal.NewFromInt(1900), state.TakeProfitFilled, opened.Add(time.Hour))

	if err := j.Report(context.Background(), r); err != nil {
		t.Fatalf("report: %v", err)
	}
	trades, err := store.ListClosedTrades(context.Background(), 10)
	if err != nil || len(trades) != 1 {
		t.Fatalf("trades = %d, %v", len(trades), err)
	}
	got := trades[0]
	if got.CloseReason != "TAKE_PROFIT_FILLED" || !got.RealizedPnl.Equal(decimal.NewFromInt(5)) || got.HoldSeconds != 3600 {
		t.Fatalf("stored trade = %+v", got)
	}
	select {
	case msg := <-ch:
		if ev := msg.(events.TradeClosed); ev.Instrument != "ETHUSDT" {
			t.Fatalf("event = %+v", ev)
		}
	default:
		t.Fatalf("no trade.closed event")
	}
}

func TestIncidentsRoundTrip(t *testing.T) {
	store := newStore(t)
	j := New(store, nil, zerolog.Nop())
	ctx := context.Background()

	if err := j.RecordIncident(ctx, "BTCUSDT", "UNMANAGED_POSITION", "emergency close rejected"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := j.RecordIncident(ctx, "BTCUSDT", "UNMANAGED_POSITION", "second"); err != nil {
		t.Fatalf("record: %v", err)
	}
	halts, err := j.OpenHalts(ctx)
	if err != nil || len(halts) != 1 || halts[0].Instrument != "BTCUSDT" {
		t.Fatalf("halts = %+v, %v", halts, err)
	}
	if err := j.Acknowledge(ctx, "BTCUSDT", "alice"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := j.Acknowledge(ctx, "BTCUSDT", "alice"); err != nil {
		t.Fatalf("second ack should be a no-op: %v", err)
	}
	halts, _ = j.OpenHalts(ctx)
	if len(halts) != 0 {
		t.Fatalf("halts after ack = %+v", halts)
	}
}

func TestOrderAuditBatches(t *testing.T) {
	store := newStore(t)
	a := NewOrderAudit(store, 2, time.Hour, zerolog.Nop())
	ctx := context.Background()

	a.Add(ctx, events.OrderPlaced{Instrument: "BTCUSDT", Leg: "ENTRY", Side: "BUY", Type: "MARKET", Qty: decimal.RequireFromString("0.002"), Status: "FILLED"})
	if rows, _ := store.ListOrderEvents(ctx, "", 10); len(rows) != 0 {
		t.Fatalf("flushed before batch filled")
	}
	a.Add(ctx, events.OrderPlaced{Instrument: "BTCUSDT", Leg: "STOP_LOSS", Side: "SELL", Type: "STOP_MARKET", Qty: decimal.RequireFromString("0.002"), Err: errors.New("rejected")})
	rows, err := store.ListOrderEvents(ctx, "BTCUSDT", 10)
	if err != nil || len(rows) != 2 {
		t.Fatalf("rows = %d, %v", len(rows), err)
	}
	var failed int
	for _, r := range rows {
		if r.Status == "FAILED" && r.Error == "rejected" {
			failed++
		}
	}
	if failed != 1 {
		t.Fatalf("expected one failed row, got %+v", rows)
	}
	if w, f := a.Stats(); w != 2 || f != 0 {
		t.Fatalf("stats = %d/%d", w, f)
	}
}

func TestOrderAuditRunFlushesOnStop(t *testing.T) {
	store := newStore(t)
	bus := events.NewBus()
	a := NewOrderAudit(store, 100, time.Hour, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		bus.Publish(events.EventOrderPlaced, events.OrderPlaced{Instrument: "ETHUSDT", Leg: "ENTRY", Side: "SELL", Type: "MARKET", Status: "FILLED"})
		a.mu.Lock()
		n := len(a.buffer)
		a.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event never buffered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	rows, err := store.ListOrderEvents(context.Background(), "ETHUSDT", 100)
	if err != nil || len(rows) == 0 {
		t.Fatalf("rows = %d, %v", len(rows), err)
	}
}
