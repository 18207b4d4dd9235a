package order

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"sniper-core/internal/risk"
	"sniper-core/internal/state"
)

// ErrEntryFailed means no position was opened; the reservation can be released.
var ErrEntryFailed = errors.New("entry order failed")

// ProtectionError reports a protective leg that could not be placed. The
// position was flattened by the emergency close; Trade is CLOSED.
type ProtectionError struct {
	Leg       risk.Leg
	Trade     state.ActiveTrade
	ExitPrice decimal.Decimal
	Err       error
}

func (e *ProtectionError) Error() string {
	return fmt.Sprintf("%s %s failed, position emergency closed: %v", e.Trade.Instrument, e.Leg, e.Err)
}

func (e *ProtectionError) Unwrap() error { return e.Err }

// FatalError reports a position the engine can no longer manage. Trade is
// CLOSING and the instrument must stay halted until an operator acknowledges.
type FatalError struct {
	Leg   risk.Leg
	Trade state.ActiveTrade
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s unmanaged position after %s: %v", e.Trade.Instrument, e.Leg, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
