package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sniper-core/internal/events"
	"sniper-core/pkg/db"
)

// OrderAudit batches order placement events into the order_events table.
type OrderAudit struct {
	store    Store
	maxSize  int
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	buffer []db.OrderEvent

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewOrderAudit creates a batch writer. maxSize rows trigger an early flush.
func NewOrderAudit(store Store, maxSize int, interval time.Duration, logger zerolog.Logger) *OrderAudit {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &OrderAudit{
		store:    store,
		maxSize:  maxSize,
		interval: interval,
		buffer:   make([]db.OrderEvent, 0, maxSize),
		logger:   logger.With().Str("component", "order-audit").Logger(),
	}
}

// Add buffers one event.
func (a *OrderAudit) Add(ctx context.Context, ev events.OrderPlaced) {
	row := db.OrderEvent{
		ID:         uuid.NewString(),
		Instrument: ev.Instrument,
		Leg:        ev.Leg,
		OrderID:    ev.OrderID,
		ClientID:   ev.ClientID,
		Side:       ev.Side,
		Type:       ev.Type,
		Qty:        ev.Qty,
		StopPrice:  ev.StopPrice,
		AvgPrice:   ev.AvgPrice,
		Status:     ev.Status,
		CreatedAt:  time.Now(),
	}
	if ev.Err != nil {
		row.Status = "FAILED"
		row.Error = ev.Err.Error()
	}
	a.mu.Lock()
	a.buffer = append(a.buffer, row)
	full := len(a.buffer) >= a.maxSize
	a.mu.Unlock()
	if full {
		a.Flush(ctx)
	}
}

// Flush writes every buffered row in one transaction. Failed batches are dropped
// and counted.
func (a *OrderAudit) Flush(ctx context.Context) {
	a.mu.Lock()
	if len(a.buffer) == 0 {
		a.mu.Unlock()
		return
	}
	rows := a.buffer
	a.buffer = make([]db.OrderEvent, 0, a.maxSize)
	a.mu.Unlock()

	if err := a.store.InsertOrderEvents(ctx, rows); err != nil {
		a.failed.Add(uint64(len(rows)))
		a.logger.Error().Err(err).Int("rows", len(rows)).Msg("order audit flush failed")
		return
	}
	a.written.Add(uint64(len(rows)))
	a.logger.Debug().Int("rows", len(rows)).Msg("order audit flushed")
}

// Run consumes order events from bus until ctx is done, then flushes.
func (a *OrderAudit) Run(ctx context.Context, bus *events.Bus) {
	ch, unsub := bus.Subscribe(events.EventOrderPlaced, 256)
	defer unsub()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.Flush(context.Background())
			return
		case msg := <-ch:
			if ev, ok := msg.(events.OrderPlaced); ok {
				a.Add(ctx, ev)
			}
		case <-ticker.C:
			a.Flush(ctx)
		}
	}
}

// Stats returns rows written and rows lost.
func (a *OrderAudit) Stats() (written, failed uint64) {
	return a.written.Load(), a.failed.Load()
}
