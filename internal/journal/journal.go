// Package journal persists closed trades and incidents and republishes them on
// the event bus.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sniper-core/internal/events"
	"sniper-core/internal/reconciliation"
	"sniper-core/internal/risk"
	"sniper-core/pkg/db"
)

// Store is the slice of pkg/db the journal writes to.
type Store interface {
	InsertClosedTrade(ctx context.Context, t db.ClosedTrade) error
	InsertIncident(ctx context.Context, in db.Incident) error
	OpenIncidents(ctx context.Context) ([]db.Incident, error)
	AcknowledgeIncidents(ctx context.Context, instrument, operator string, at time.Time) (int64, error)
	InsertOrderEvents(ctx context.Context, events []db.OrderEvent) error
}

// Journal implements reconciliation.Reporter.
type Journal struct {
	store  Store
	bus    *events.Bus
	logger zerolog.Logger
	now    func() time.Time
}

var _ reconciliation.Reporter = (*Journal)(nil)

// New creates a journal. store may be nil, in which case reports are only
// logged and published.
func New(store Store, bus *events.Bus, logger zerolog.Logger) *Journal {
	return &Journal{
		store:  store,
		bus:    bus,
		logger: logger.With().Str("component", "journal").Logger(),
		now:    time.Now,
	}
}

// Report records one closed trade.
func (j *Journal) Report(ctx context.Context, r reconciliation.PortfolioReport) error {
	j.logger.Info().
		Str("instrument", r.Instrument).
		Str("direction", string(r.Direction)).
		Str("entry_price", r.EntryPrice.String()).
		Str("exit_price", r.ExitPrice.String()).
		Str("quantity", r.Quantity.String()).
		Str("pnl_usd", r.RealizedPnlUSD.StringFixed(4)).
		Str("pnl_pct", r.RealizedPnlPercent.StringFixed(2)).
		Int64("hold_seconds", r.HoldDurationSeconds).
		Str("reason", string(r.CloseReason)).
		Msg("portfolio report")

	j.bus.Publish(events.EventTradeClosed, events.TradeClosed{
		Instrument:  r.Instrument,
		CloseReason: string(r.CloseReason),
		PnlUSD:      r.RealizedPnlUSD,
	})
	if j.store == nil {
		return nil
	}
	pct, _ := r.RealizedPnlPercent.Round(4).Float64()
	return j.store.InsertClosedTrade(ctx, db.ClosedTrade{
		ID:             uuid.NewString(),
		Instrument:     r.Instrument,
		Direction:      string(r.Direction),
		EntryPrice:     r.EntryPrice,
		ExitPrice:      r.ExitPrice,
		Quantity:       r.Quantity,
		RealizedPnl:    r.RealizedPnlUSD,
		RealizedPnlPct: pct,
		HoldSeconds:    r.HoldDurationSeconds,
		CloseReason:    string(r.CloseReason),
		OpenedAt:       r.OpenedAt,
		ClosedAt:       r.ClosedAt,
	})
}

// RecordIncident stores a condition that needs an operator.
func (j *Journal) RecordIncident(ctx context.Context, instrument, kind, detail string) error {
	j.logger.Error().Str("instrument", instrument).Str("kind", kind).Str("reason", detail).Msg("incident")
	j.bus.Publish(events.EventIncident, events.Incident{Instrument: instrument, Kind: kind, Detail: detail})
	if j.store == nil {
		return nil
	}
	return j.store.InsertIncident(ctx, db.Incident{
		ID:         uuid.NewString(),
		Instrument: instrument,
		Kind:       kind,
		Detail:     detail,
		CreatedAt:  j.now(),
	})
}

// Acknowledge closes the open incidents of instrument on behalf of operator.
func (j *Journal) Acknowledge(ctx context.Context, instrument, operator string) error {
	if j.store == nil {
		return nil
	}
	_, err := j.store.AcknowledgeIncidents(ctx, instrument, operator, j.now())
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	return err
}

// OpenHalts rebuilds halts from unacknowledged incidents, one per instrument.
func (j *Journal) OpenHalts(ctx context.Context) ([]risk.Halt, error) {
	if j.store == nil {
		return nil, nil
	}
	open, err := j.store.OpenIncidents(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []risk.Halt
	for _, in := range open {
		if seen[in.Instrument] {
			continue
		}
		seen[in.Instrument] = true
		out = append(out, risk.Halt{Instrument: in.Instrument, Reason: in.Kind + ": " + in.Detail, Since: in.CreatedAt})
	}
	return out, nil
}
