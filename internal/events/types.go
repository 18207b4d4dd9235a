package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event enumerates lifecycle topics inside the engine.
type Event string

const (
	EventSignalOutcome Event = "signal.outcome"
	EventOrderPlaced   Event = "order.placed"
	EventTradeOpened   Event = "trade.opened"
	EventTradeClosed   Event = "trade.closed"
	EventIncident      Event = "incident"
	EventHaltChanged   Event = "halt.changed"
)

// SignalOutcome is published once per evaluated signal.
type SignalOutcome struct {
	Instrument string
	Outcome    string
	Reason     string
}

// OrderPlaced is published for every placement attempt, successful or not.
type OrderPlaced struct {
	Instrument string
	Leg        string
	OrderID    string
	ClientID   string
	Side       string
	Type       string
	Qty        decimal.Decimal
	StopPrice  decimal.Decimal
	AvgPrice   decimal.Decimal
	Status     string
	Err        error
	Latency    time.Duration
}

// TradeOpened is published when a trade reaches ACTIVE.
type TradeOpened struct {
	Instrument string
	Direction  string
	EntryPrice decimal.Decimal
	Quantity   decimal.Decimal
}

// TradeClosed is published on every CLOSED transition.
type TradeClosed struct {
	Instrument  string
	CloseReason string
	PnlUSD      decimal.Decimal
}

// Incident is published for conditions that need an operator.
type Incident struct {
	Instrument string
	Kind       string
	Detail     string
}

// HaltChanged is published when an instrument is halted or resumed.
type HaltChanged struct {
	Instrument string
	Halted     bool
	Operator   string
	Count      int
}
