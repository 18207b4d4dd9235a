package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClosedTrade is one persisted portfolio report.
type ClosedTrade struct {
	ID             string          `json:"id"`
	Instrument     string          `json:"instrument"`
	Direction      string          `json:"direction"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	ExitPrice      decimal.Decimal `json:"exit_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	RealizedPnl    decimal.Decimal `json:"realized_pnl_usd"`
	RealizedPnlPct float64         `json:"realized_pnl_percent"`
	HoldSeconds    int64           `json:"hold_duration_seconds"`
	CloseReason    string          `json:"close_reason"`
	OpenedAt       time.Time       `json:"opened_at"`
	ClosedAt       time.Time       `json:"closed_at"`
}

// Incident records a fatal per-instrument condition awaiting acknowledgment.
type Incident struct {
	ID             string     `json:"id"`
	Instrument     string     `json:"instrument"`
	Kind           string     `json:"kind"`
	Detail         string     `json:"detail"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// OrderEvent is an audit row for one order placement attempt.
type OrderEvent struct {
	ID         string          `json:"id"`
	Instrument string          `json:"instrument"`
	Leg        string          `json:"leg"`
	OrderID    string          `json:"order_id,omitempty"`
	ClientID   string          `json:"client_id,omitempty"`
	Side       string          `json:"side"`
	Type       string          `json:"type"`
	Qty        decimal.Decimal `json:"qty"`
	StopPrice  decimal.Decimal `json:"stop_price"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
