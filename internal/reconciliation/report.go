package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"

	"sniper-core/internal/state"
)

var hundred = decimal.NewFromInt(100)

// PortfolioReport is emitted on every CLOSED transition.
type PortfolioReport struct {
	Instrument          string            `json:"instrument"`
	Direction           state.Direction   `json:"direction"`
	EntryPrice          decimal.Decimal   `json:"entry_price"`
	ExitPrice           decimal.Decimal   `json:"exit_price"`
	Quantity            decimal.Decimal   `json:"quantity"`
	RealizedPnlUSD      decimal.Decimal   `json:"realized_pnl_usd"`
	RealizedPnlPercent  decimal.Decimal   `json:"realized_pnl_percent"`
	HoldDurationSeconds int64             `json:"hold_duration_seconds"`
	CloseReason         state.CloseReason `json:"close_reason"`
	OpenedAt            time.Time         `json:"opened_at"`
	ClosedAt            time.Time         `json:"closed_at"`
}

// PnL returns realized profit in quote currency and as a percent of entry notional.
func PnL(dir state.Direction, entry, exit, qty decimal.Decimal) (usd, pct decimal.Decimal) {
	usd = exit.Sub(entry).Mul(qty)
	if dir == state.Short {
		usd = usd.Neg()
	}
	basis := entry.Mul(qty)
	if basis.IsZero() {
		return usd, decimal.Zero
	}
	return usd, usd.Div(basis).Mul(hundred)
}

// NewPortfolioReport builds the report for t exiting at exit.
func NewPortfolioReport(t state.ActiveTrade, exit decimal.Decimal, reason state.CloseReason, closedAt time.Time) PortfolioReport {
	usd, pct := PnL(t.Direction, t.EntryPrice, exit, t.Quantity)
	hold := int64(0)
	if !t.OpenedAt.IsZero() && closedAt.After(t.OpenedAt) {
		hold = int64(closedAt.Sub(t.OpenedAt) / time.Second)
	}
	return PortfolioReport{
		Instrument:          t.Instrument,
		Direction:           t.Direction,
		EntryPrice:          t.EntryPrice,
		ExitPrice:           exit,
		Quantity:            t.Quantity,
		RealizedPnlUSD:      usd,
		RealizedPnlPercent:  pct,
		HoldDurationSeconds: hold,
		CloseReason:         reason,
		OpenedAt:            t.OpenedAt,
		ClosedAt:            closedAt,
	}
}
