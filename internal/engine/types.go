package engine

import (
	"context"

	"sniper-core/internal/order"
	"sniper-core/internal/reconciliation"
	"sniper-core/internal/risk"
	"sniper-core/internal/state"
)

// OutcomeKind classifies how one signal ended.
type OutcomeKind string

const (
	Opened   OutcomeKind = "opened"
	Skipped  OutcomeKind = "skipped"
	Rejected OutcomeKind = "rejected"
	Failed   OutcomeKind = "failed"
	Fatal    OutcomeKind = "fatal"
)

// Outcome is the result of OnSignal.
type Outcome struct {
	Kind       OutcomeKind
	Instrument string
	Reason     string
	Trade      *state.ActiveTrade
	Err        error
}

// Service is what the operator API needs from the engine.
type Service interface {
	Positions() []state.ActiveTrade
	Halts() []risk.Halt
	Acknowledge(ctx context.Context, instrument, operator string) error
}

// Opener places the legs of a trade.
type Opener interface {
	Open(ctx context.Context, in order.Intent) (state.ActiveTrade, error)
}

// Reconciler runs one reconciliation pass.
type Reconciler interface {
	Reconcile(ctx context.Context) reconciliation.Report
}

// Incidents records and clears operator-facing incidents.
type Incidents interface {
	RecordIncident(ctx context.Context, instrument, kind, detail string) error
	Acknowledge(ctx context.Context, instrument, operator string) error
}

// IncidentUnmanagedPosition is the incident kind for a fatal sequencing failure.
const IncidentUnmanagedPosition = "UNMANAGED_POSITION"
