package state

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sniper-core/pkg/exchanges/common"
)

// Direction is the side of a futures position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Valid reports whether d is LONG or SHORT.
func (d Direction) Valid() bool { return d == Long || d == Short }

// EntrySide is the order side that opens a position in direction d.
func (d Direction) EntrySide() common.Side {
	if d == Short {
		return common.SideSell
	}
	return common.SideBuy
}

// ExitSide is the order side that reduces a position in direction d.
func (d Direction) ExitSide() common.Side { return d.EntrySide().Opposite() }

// State is the lifecycle state of an ActiveTrade.
type State string

const (
	PendingEntry State = "PENDING_ENTRY"
	Active       State = "ACTIVE"
	Closing      State = "CLOSING"
	Closed       State = "CLOSED"
)

// legal lists the permitted transitions.
var legal = map[State][]State{
	PendingEntry: {Active},
	Active:       {Closing, Closed},
	Closing:      {Closed},
}

// CanTransition reports whether from -> to is a permitted edge.
func CanTransition(from, to State) bool {
	for _, s := range legal[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CloseReason classifies how a trade ended.
type CloseReason string

const (
	TakeProfitFilled CloseReason = "TAKE_PROFIT_FILLED"
	StopLossFilled   CloseReason = "STOP_LOSS_FILLED"
	ExternallyClosed CloseReason = "EXTERNALLY_CLOSED"
	EmergencyClosed  CloseReason = "EMERGENCY_CLOSED"
)

// ActiveTrade is the registry record for one position.
type ActiveTrade struct {
	Instrument        string          `json:"instrument"`
	Direction         Direction       `json:"direction"`
	EntryPrice        decimal.Decimal `json:"entry_price"`
	Quantity          decimal.Decimal `json:"quantity"`
	StopLoss          decimal.Decimal `json:"stop_loss"`
	TakeProfit        decimal.Decimal `json:"take_profit"`
	EntryOrderID      string          `json:"entry_order_id,omitempty"`
	StopLossOrderID   string          `json:"stop_loss_order_id,omitempty"`
	TakeProfitOrderID string          `json:"take_profit_order_id,omitempty"`
	State             State           `json:"state"`
	OpenedAt          time.Time       `json:"opened_at"`
	CloseReason       CloseReason     `json:"close_reason,omitempty"`
}

// CheckLevels verifies SL < entry < TP for LONG and TP < entry < SL for SHORT.
func CheckLevels(d Direction, entry, stopLoss, takeProfit decimal.Decimal) error {
	switch d {
	case Long:
		if !(stopLoss.LessThan(entry) && entry.LessThan(takeProfit)) {
			return fmt.Errorf("long levels out of order: sl=%s entry=%s tp=%s", stopLoss, entry, takeProfit)
		}
	case Short:
		if !(takeProfit.LessThan(entry) && entry.LessThan(stopLoss)) {
			return fmt.Errorf("short levels out of order: tp=%s entry=%s sl=%s", takeProfit, entry, stopLoss)
		}
	default:
		return fmt.Errorf("unknown direction %q", d)
	}
	return nil
}
