// Package reconciliation compares registry trades with venue truth, classifies
// closed positions, cancels orphaned protective orders and reports P&L.
package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"sniper-core/internal/state"
	"sniper-core/pkg/exchanges/common"
)

// Reporter receives every closed trade.
type Reporter interface {
	Report(ctx context.Context, r PortfolioReport) error
}

// Registry is the subset of state.Registry the loop drives.
type Registry interface {
	Snapshot() []state.ActiveTrade
	Update(instrument string, fn func(*state.ActiveTrade)) error
	Transition(instrument string, from, to state.State) (state.ActiveTrade, error)
	Release(instrument string)
}

// Report summarizes one reconciliation pass.
type Report struct {
	Timestamp       time.Time
	Checked         int
	Closed          []PortfolioReport
	OrphansCanceled int
	Err             error // per-instrument failures, combined
}

// Service runs reconciliation passes. It is safe to call Reconcile from one
// goroutine at a time.
type Service struct {
	gw       common.Gateway
	registry Registry
	reporter Reporter
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates a reconciliation service.
func NewService(gw common.Gateway, registry Registry, reporter Reporter, logger zerolog.Logger) *Service {
	return &Service{
		gw:       gw,
		registry: registry,
		reporter: reporter,
		logger:   logger.With().Str("component", "reconciliation").Logger(),
		now:      time.Now,
	}
}

// Reconcile checks every ACTIVE trade once. A failure on one instrument never
// stops the others; it is retried on the next pass.
func (s *Service) Reconcile(ctx context.Context) Report {
	rep := Report{Timestamp: s.now()}
	for _, t := range s.registry.Snapshot() {
		if t.State != state.Active {
			continue
		}
		if ctx.Err() != nil {
			rep.Err = multierr.Append(rep.Err, ctx.Err())
			break
		}
		rep.Checked++
		closed, orphans, err := s.reconcileOne(ctx, t)
		rep.OrphansCanceled += orphans
		if err != nil {
			s.logger.Warn().Err(err).Str("instrument", t.Instrument).Str("state", string(t.State)).
				Msg("reconcile failed, retrying next pass")
			rep.Err = multierr.Append(rep.Err, fmt.Errorf("%s: %w", t.Instrument, err))
		}
		if closed != nil {
			rep.Closed = append(rep.Closed, *closed)
		}
	}
	return rep
}

type legStatus struct {
	sl, tp *common.OrderState
}

func (l legStatus) filled() (state.CloseReason, *common.OrderState) {
	switch {
	case l.tp != nil && l.tp.Status == common.StatusFilled:
		return state.TakeProfitFilled, l.tp
	case l.sl != nil && l.sl.Status == common.StatusFilled:
		return state.StopLossFilled, l.sl
	}
	return state.ExternallyClosed, nil
}

func (s *Service) reconcileOne(ctx context.Context, t state.ActiveTrade) (*PortfolioReport, int, error) {
	pos, err := s.gw.GetOpenPosition(ctx, t.Instrument)
	if err != nil {
		return nil, 0, fmt.Errorf("position: %w", err)
	}
	legs, err := s.legStatus(ctx, t)
	if err != nil {
		// With the position gone an order the venue no longer knows cannot
		// change the outcome; classify from the legs that were read.
		if pos != nil || common.IsTransient(err) {
			return nil, 0, err
		}
		s.logger.Warn().Err(err).Str("instrument", t.Instrument).
			Msg("protective leg unreadable on flat position, treating it as unfilled")
	}
	orphans := 0

	if pos != nil {
		reason, _ := legs.filled()
		if reason == state.ExternallyClosed {
			s.warnUnprotected(t, legs)
			return nil, 0, nil
		}
		// One leg filled while the venue still shows the position: cancel the
		// other leg now and close only once the position is gone.
		n, err := s.cancelOrphans(ctx, &t, legs)
		orphans += n
		if err != nil {
			return nil, orphans, err
		}
		pos, err = s.gw.GetOpenPosition(ctx, t.Instrument)
		if err != nil {
			return nil, orphans, fmt.Errorf("position recheck: %w", err)
		}
		if pos != nil {
			s.logger.Info().Str("instrument", t.Instrument).Str("reason", string(reason)).
				Msg("protective leg filled, position still open; closing next pass")
			return nil, orphans, nil
		}
	} else {
		n, err := s.cancelOrphans(ctx, &t, legs)
		orphans += n
		if err != nil {
			s.logger.Warn().Err(err).Str("instrument", t.Instrument).Msg("orphan cancel failed on flat position")
		}
	}

	r, err := s.close(ctx, t, legs)
	return r, orphans, err
}

func (s *Service) legStatus(ctx context.Context, t state.ActiveTrade) (legStatus, error) {
	var out legStatus
	var errs error
	if t.StopLossOrderID != "" {
		st, err := s.gw.GetOrderStatus(ctx, t.Instrument, t.StopLossOrderID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop-loss status: %w", err))
		} else {
			out.sl = &st
		}
	}
	if t.TakeProfitOrderID != "" {
		st, err := s.gw.GetOrderStatus(ctx, t.Instrument, t.TakeProfitOrderID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("take-profit status: %w", err))
		} else {
			out.tp = &st
		}
	}
	return out, errs
}

// cancelOrphans cancels protective legs still OPEN and forgets their ids.
func (s *Service) cancelOrphans(ctx context.Context, t *state.ActiveTrade, legs legStatus) (int, error) {
	var errs error
	cancel := func(id string, st *common.OrderState, leg string) bool {
		if id == "" || st == nil || st.Status != common.StatusOpen {
			return false
		}
		if err := s.gw.CancelOrder(ctx, t.Instrument, id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cancel %s %s: %w", leg, id, err))
			return false
		}
		s.logger.Info().Str("instrument", t.Instrument).Str("order_id", id).Str("leg", leg).Msg("orphaned order canceled")
		return true
	}
	clearSL := cancel(t.StopLossOrderID, legs.sl, "stop-loss")
	clearTP := cancel(t.TakeProfitOrderID, legs.tp, "take-profit")
	n := 0
	if clearSL {
		n++
	}
	if clearTP {
		n++
	}
	if n > 0 {
		_ = s.registry.Update(t.Instrument, func(at *state.ActiveTrade) {
			if clearSL {
				at.StopLossOrderID = ""
			}
			if clearTP {
				at.TakeProfitOrderID = ""
			}
		})
	}
	return n, errs
}

// close prices the exit, moves the trade to CLOSED, reports it and releases
// the instrument.
func (s *Service) close(ctx context.Context, t state.ActiveTrade, legs legStatus) (*PortfolioReport, error) {
	reason, st := legs.filled()
	var exit decimal.Decimal
	switch {
	case st != nil && st.AvgPrice.IsPositive():
		exit = st.AvgPrice
	case reason == state.TakeProfitFilled:
		exit = t.TakeProfit
	case reason == state.StopLossFilled:
		exit = t.StopLoss
	default:
		p, err := s.gw.GetReferencePrice(ctx, t.Instrument)
		if err != nil {
			return nil, fmt.Errorf("exit price: %w", err)
		}
		exit = p
	}

	if err := s.registry.Update(t.Instrument, func(at *state.ActiveTrade) { at.CloseReason = reason }); err != nil {
		return nil, err
	}
	closed, err := s.registry.Transition(t.Instrument, state.Active, state.Closed)
	if err != nil {
		return nil, err
	}
	r := NewPortfolioReport(closed, exit, reason, s.now())
	s.logger.Info().Str("instrument", t.Instrument).Str("state", string(state.Closed)).Str("reason", string(reason)).
		Str("exit_price", exit.String()).Str("pnl_usd", r.RealizedPnlUSD.StringFixed(4)).Msg("trade closed")

	var rerr error
	if s.reporter != nil {
		if rerr = s.reporter.Report(ctx, r); rerr != nil {
			rerr = fmt.Errorf("report: %w", rerr)
		}
	}
	s.registry.Release(t.Instrument)
	return &r, rerr
}

func (s *Service) warnUnprotected(t state.ActiveTrade, legs legStatus) {
	for _, l := range []struct {
		name string
		st   *common.OrderState
	}{{"stop-loss", legs.sl}, {"take-profit", legs.tp}} {
		if l.st != nil && l.st.Status.Terminal() {
			s.logger.Warn().Str("instrument", t.Instrument).Str("leg", l.name).Str("status", string(l.st.Status)).
				Msg("protective order no longer resting while position open")
		}
	}
}
