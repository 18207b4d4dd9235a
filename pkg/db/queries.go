package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("record not found")

// Queries provides the journal reads and writes.
type Queries struct {
	db *sql.DB
}

// NewQueries creates a Queries instance over an open handle.
func NewQueries(db *sql.DB) *Queries {
	return &Queries{db: db}
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// ----------------------------------------
// Closed trades
// ----------------------------------------

// InsertClosedTrade stores one closed trade report.
func (q *Queries) InsertClosedTrade(ctx context.Context, t ClosedTrade) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO closed_trades (id, instrument, direction, entry_price, exit_price, quantity,
			realized_pnl, realized_pnl_pct, hold_seconds, close_reason, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Instrument, t.Direction, t.EntryPrice.String(), t.ExitPrice.String(), t.Quantity.String(),
		t.RealizedPnl.String(), t.RealizedPnlPct, t.HoldSeconds, t.CloseReason, millis(t.OpenedAt), millis(t.ClosedAt))
	if err != nil {
		return fmt.Errorf("insert closed trade: %w", err)
	}
	return nil
}

// ListClosedTrades returns the most recent closed trades, newest first.
func (q *Queries) ListClosedTrades(ctx context.Context, limit int) ([]ClosedTrade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, instrument, direction, entry_price, exit_price, quantity, realized_pnl,
			realized_pnl_pct, hold_seconds, close_reason, opened_at, closed_at
		FROM closed_trades
		ORDER BY closed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query closed trades: %w", err)
	}
	defer rows.Close()

	var trades []ClosedTrade
	for rows.Next() {
		var (
			t                     ClosedTrade
			entry, exit, qty, pnl string
			openedAt, closedAt    int64
		)
		if err := rows.Scan(&t.ID, &t.Instrument, &t.Direction, &entry, &exit, &qty, &pnl,
			&t.RealizedPnlPct, &t.HoldSeconds, &t.CloseReason, &openedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("scan closed trade: %w", err)
		}
		t.EntryPrice = parseDecimal(entry)
		t.ExitPrice = parseDecimal(exit)
		t.Quantity = parseDecimal(qty)
		t.RealizedPnl = parseDecimal(pnl)
		t.OpenedAt = fromMillis(openedAt)
		t.ClosedAt = fromMillis(closedAt)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RealizedPnlTotal sums realized P&L over every closed trade.
func (q *Queries) RealizedPnlTotal(ctx context.Context) (decimal.Decimal, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT realized_pnl FROM closed_trades`)
	if err != nil {
		return decimal.Zero, fmt.Errorf("query pnl: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(parseDecimal(s))
	}
	return total, rows.Err()
}

// ----------------------------------------
// Incidents
// ----------------------------------------

// InsertIncident records a fatal condition for an instrument.
func (q *Queries) InsertIncident(ctx context.Context, in Incident) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO incidents (id, instrument, kind, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, in.ID, in.Instrument, in.Kind, in.Detail, millis(in.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// OpenIncidents returns incidents not yet acknowledged, oldest first.
func (q *Queries) OpenIncidents(ctx context.Context) ([]Incident, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, instrument, kind, detail, created_at
		FROM incidents
		WHERE acknowledged_at IS NULL
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var (
			in        Incident
			createdAt int64
		)
		if err := rows.Scan(&in.ID, &in.Instrument, &in.Kind, &in.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		in.CreatedAt = fromMillis(createdAt)
		out = append(out, in)
	}
	return out, rows.Err()
}

// AcknowledgeIncidents marks every open incident for instrument as handled.
// It returns ErrNotFound when there was nothing to acknowledge.
func (q *Queries) AcknowledgeIncidents(ctx context.Context, instrument, operator string, at time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE incidents SET acknowledged_by = ?, acknowledged_at = ?
		WHERE instrument = ? AND acknowledged_at IS NULL
	`, operator, millis(at), instrument)
	if err != nil {
		return 0, fmt.Errorf("acknowledge incidents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

// ----------------------------------------
// Order audit
// ----------------------------------------

const insertOrderEventSQL = `
	INSERT INTO order_events (id, instrument, leg, order_id, client_id, side, type, qty,
		stop_price, avg_price, status, error, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func orderEventArgs(e OrderEvent) []any {
	return []any{e.ID, e.Instrument, e.Leg, e.OrderID, e.ClientID, e.Side, e.Type, e.Qty.String(),
		e.StopPrice.String(), e.AvgPrice.String(), e.Status, e.Error, millis(e.CreatedAt)}
}

// InsertOrderEvent appends one order audit row.
func (q *Queries) InsertOrderEvent(ctx context.Context, e OrderEvent) error {
	if _, err := q.db.ExecContext(ctx, insertOrderEventSQL, orderEventArgs(e)...); err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}
	return nil
}

// InsertOrderEvents appends rows in one transaction.
func (q *Queries) InsertOrderEvents(ctx context.Context, events []OrderEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin order events: %w", err)
	}
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, insertOrderEventSQL, orderEventArgs(e)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert order event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order events: %w", err)
	}
	return nil
}

// ListOrderEvents returns recent audit rows for instrument, newest first.
// An empty instrument lists all.
func (q *Queries) ListOrderEvents(ctx context.Context, instrument string, limit int) ([]OrderEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, instrument, leg, COALESCE(order_id, ''), COALESCE(client_id, ''), side, type, qty,
			COALESCE(stop_price, ''), COALESCE(avg_price, ''), status, COALESCE(error, ''), created_at
		FROM order_events
		WHERE (? = '' OR instrument = ?)
		ORDER BY created_at DESC
		LIMIT ?
	`, instrument, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer rows.Close()

	var out []OrderEvent
	for rows.Next() {
		var (
			e              OrderEvent
			qty, stop, avg string
			createdAt      int64
		)
		if err := rows.Scan(&e.ID, &e.Instrument, &e.Leg, &e.OrderID, &e.ClientID, &e.Side, &e.Type, &qty,
			&stop, &avg, &e.Status, &e.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		e.Qty = parseDecimal(qty)
		e.StopPrice = parseDecimal(stop)
		e.AvgPrice = parseDecimal(avg)
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
