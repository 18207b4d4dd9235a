package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestDB(t *testing.T) *Queries {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	// Migrations are idempotent.
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Second migration failed: %v", err)
	}
	return database.Queries()
}

func TestClosedTrades(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()
	base := time.UnixMilli(1700000000000).UTC()

	for i, pnl := range []string{"4.2", "-1.5"} {
		err := q.InsertClosedTrade(ctx, ClosedTrade{
			ID:             []string{"a", "b"}[i],
			Instrument:     "BTCUSDT",
			Direction:      "LONG",
			EntryPrice:     decimal.RequireFromString("50000"),
			ExitPrice:      decimal.RequireFromString("52100"),
			Quantity:       decimal.RequireFromString("0.002"),
			RealizedPnl:    decimal.RequireFromString(pnl),
			RealizedPnlPct: 4.2,
			HoldSeconds:    60,
			CloseReason:    "TAKE_PROFIT_FILLED",
			OpenedAt:       base,
			ClosedAt:       base.Add(time.Duration(i+1) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	trades, err := q.ListClosedTrades(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(trades) != 2 || trades[0].ID != "b" {
		t.Fatalf("expected newest first, got %+v", trades)
	}
	if !trades[1].ExitPrice.Equal(decimal.RequireFromString("52100")) || !trades[1].OpenedAt.Equal(base) {
		t.Fatalf("round trip lost data: %+v", trades[1])
	}

	total, err := q.RealizedPnlTotal(ctx)
	if err != nil || !total.Equal(decimal.RequireFromString("2.7")) {
		t.Fatalf("total = %s, %v", total, err)
	}
}

func TestIncidentAcknowledgement(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	if err := q.InsertIncident(ctx, Incident{ID: "i1", Instrument: "BTCUSDT", Kind: "EMERGENCY_CLOSE_FAILED", Detail: "boom", CreatedAt: now}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := q.InsertIncident(ctx, Incident{ID: "i2", Instrument: "ETHUSDT", Kind: "EMERGENCY_CLOSE_FAILED", Detail: "boom", CreatedAt: now}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	open, err := q.OpenIncidents(ctx)
	if err != nil || len(open) != 2 {
		t.Fatalf("open incidents = %d, %v", len(open), err)
	}

	n, err := q.AcknowledgeIncidents(ctx, "BTCUSDT", "alice", now)
	if err != nil || n != 1 {
		t.Fatalf("ack = %d, %v", n, err)
	}
	if _, err := q.AcknowledgeIncidents(ctx, "BTCUSDT", "alice", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second ack, got %v", err)
	}

	open, _ = q.OpenIncidents(ctx)
	if len(open) != 1 || open[0].Instrument != "ETHUSDT" {
		t.Fatalf("unexpected open incidents %+v", open)
	}
}

func TestOrderEvents(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	events := []OrderEvent{
		{ID: "1", Instrument: "BTCUSDT", Leg: "ENTRY", OrderID: "10", Side: "BUY", Type: "MARKET", Qty: decimal.RequireFromString("0.002"), AvgPrice: decimal.RequireFromString("50000"), Status: "FILLED", CreatedAt: now},
		{ID: "2", Instrument: "BTCUSDT", Leg: "STOP_LOSS", Side: "SELL", Type: "STOP_MARKET", Qty: decimal.RequireFromString("0.002"), StopPrice: decimal.RequireFromString("49000"), Status: "FAILED", Error: "rejected", CreatedAt: now.Add(time.Second)},
		{ID: "3", Instrument: "ETHUSDT", Leg: "ENTRY", Side: "SELL", Type: "MARKET", Qty: decimal.RequireFromString("0.1"), Status: "FILLED", CreatedAt: now},
	}
	if err := q.InsertOrderEvent(ctx, events[0]); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := q.InsertOrderEvents(ctx, events[1:]); err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	if err := q.InsertOrderEvents(ctx, []OrderEvent{events[0]}); err == nil {
		t.Fatalf("duplicate id should fail the batch")
	}

	btc, err := q.ListOrderEvents(ctx, "BTCUSDT", 10)
	if err != nil || len(btc) != 2 {
		t.Fatalf("btc events = %d, %v", len(btc), err)
	}
	if btc[0].Leg != "STOP_LOSS" || btc[0].Error != "rejected" || !btc[0].StopPrice.Equal(decimal.NewFromInt(49000)) {
		t.Fatalf("unexpected newest event %+v", btc[0])
	}

	all, _ := q.ListOrderEvents(ctx, "", 10)
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
}
