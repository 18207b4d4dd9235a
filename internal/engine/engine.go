// Package engine is the lifecycle orchestrator: it validates signals, enforces
// capacity, sizes and sequences orders, and drives reconciliation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"sniper-core/internal/events"
	"sniper-core/internal/order"
	"sniper-core/internal/reconciliation"
	"sniper-core/internal/risk"
	"sniper-core/internal/sizing"
	"sniper-core/internal/state"
	"sniper-core/internal/strategy"
	"sniper-core/internal/symbols"
	"sniper-core/pkg/config"
	"sniper-core/pkg/exchanges/common"
)

// Config tunes the orchestrator.
type Config struct {
	Tolerance              decimal.Decimal
	Workers                int
	RejectRefreshThreshold int
	KlineLimit             int
}

// Deps are the collaborators the engine composes.
type Deps struct {
	Gateway     common.Gateway
	Market      common.MarketData // optional
	Source      strategy.Source
	Registry    *state.Registry
	Rules       *symbols.Cache
	Policy      risk.Policy
	Halts       *risk.HaltBook
	Sequencer   Opener
	Reconciler  Reconciler
	Reporter    reconciliation.Reporter // optional
	Incidents   Incidents               // optional
	Bus         *events.Bus             // optional
	Instruments []config.Instrument
}

// Engine implements Service.
type Engine struct {
	deps   Deps
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	rejects map[string]int
}

var _ Service = (*Engine)(nil)

// New creates an engine.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RejectRefreshThreshold < 1 {
		cfg.RejectRefreshThreshold = 2
	}
	if cfg.KlineLimit <= 0 {
		cfg.KlineLimit = 100
	}
	if cfg.Tolerance.IsZero() {
		cfg.Tolerance = sizing.DefaultTolerance
	}
	return &Engine{
		deps:    deps,
		cfg:     cfg,
		logger:  logger.With().Str("component", "engine").Logger(),
		now:     time.Now,
		rejects: make(map[string]int),
	}
}

// Startup loads symbol rules and sets leverage once per instrument. Neither
// failure is fatal: rules load lazily and some venues manage leverage elsewhere.
func (e *Engine) Startup(ctx context.Context) {
	syms := make([]string, 0, len(e.deps.Instruments))
	for _, in := range e.deps.Instruments {
		syms = append(syms, in.Symbol)
	}
	if err := e.deps.Rules.Load(ctx, syms...); err != nil {
		e.logger.Warn().Err(err).Msg("symbol rules incomplete at startup")
	}
	for _, in := range e.deps.Instruments {
		if in.Leverage <= 0 {
			continue
		}
		if err := e.deps.Gateway.SetLeverage(ctx, in.Symbol, in.Leverage); err != nil {
			e.logger.Warn().Err(err).Str("instrument", in.Symbol).Int("leverage", in.Leverage).Msg("set leverage failed")
			continue
		}
		e.logger.Info().Str("instrument", in.Symbol).Int("leverage", in.Leverage).Msg("leverage set")
	}
	for _, in := range e.deps.Instruments {
		pos, err := e.deps.Gateway.GetOpenPosition(ctx, in.Symbol)
		if err != nil {
			e.logger.Warn().Err(err).Str("instrument", in.Symbol).Msg("position check failed at startup")
			continue
		}
		if pos != nil && pos.Qty.IsPositive() {
			e.logger.Warn().Str("instrument", in.Symbol).Str("side", string(pos.Side)).Str("qty", pos.Qty.String()).
				Str("entry_price", pos.EntryPrice.String()).
				Msg("untracked venue position, signals skipped until it is flat")
		}
	}
}

// OnSignal runs one signal through validation, capacity, sizing and sequencing.
func (e *Engine) OnSignal(ctx context.Context, sig strategy.TradeSignal) Outcome {
	out := e.onSignal(ctx, sig)
	e.deps.Bus.Publish(events.EventSignalOutcome, events.SignalOutcome{
		Instrument: out.Instrument,
		Outcome:    string(out.Kind),
		Reason:     out.Reason,
	})
	return out
}

func (e *Engine) onSignal(ctx context.Context, sig strategy.TradeSignal) Outcome {
	log := e.logger.With().Str("instrument", sig.Instrument).Str("direction", string(sig.Direction)).Logger()

	if e.deps.Halts.IsHalted(sig.Instrument) {
		log.Debug().Str("reason", "halted").Msg("signal skipped")
		return Outcome{Kind: Skipped, Instrument: sig.Instrument, Reason: "instrument halted"}
	}
	sig, err := e.deps.Policy.Validate(sig)
	if err != nil {
		log.Info().Err(err).Msg("signal rejected")
		return Outcome{Kind: Rejected, Instrument: sig.Instrument, Reason: err.Error(), Err: err}
	}
	if !e.deps.Registry.TryReserve(sig.Instrument) {
		log.Debug().Str("reason", "capacity").Msg("signal skipped")
		return Outcome{Kind: Skipped, Instrument: sig.Instrument, Reason: "instrument active or capacity full"}
	}

	rules, err := e.deps.Rules.Get(ctx, sig.Instrument)
	if err != nil {
		e.deps.Registry.Release(sig.Instrument)
		log.Warn().Err(err).Msg("symbol rules unavailable")
		return Outcome{Kind: Failed, Instrument: sig.Instrument, Reason: err.Error(), Err: err}
	}
	sized, err := sizing.Normalize(sizing.Request{
		NotionalUSD:    sig.NotionalUSD,
		ReferencePrice: sig.ReferencePrice,
		Direction:      sig.Direction,
		StopLoss:       sig.StopLoss,
		TakeProfit:     sig.TakeProfit,
		Tolerance:      e.cfg.Tolerance,
	}, rules)
	if err != nil {
		e.deps.Registry.Release(sig.Instrument)
		log.Warn().Err(err).Msg("normalization failed")
		return Outcome{Kind: Failed, Instrument: sig.Instrument, Reason: err.Error(), Err: err}
	}

	if ctx.Err() != nil {
		e.deps.Registry.Release(sig.Instrument)
		return Outcome{Kind: Skipped, Instrument: sig.Instrument, Reason: "shutting down"}
	}
	trade, err := e.deps.Sequencer.Open(ctx, order.Intent{
		Instrument: sig.Instrument,
		Direction:  sig.Direction,
		Quantity:   sized.Quantity,
		StopLoss:   sized.StopLoss,
		TakeProfit: sized.TakeProfit,
	})
	return e.settle(ctx, sig.Instrument, trade, err)
}

// settle commits, releases or halts after the sequencer returns.
func (e *Engine) settle(ctx context.Context, instrument string, trade state.ActiveTrade, err error) Outcome {
	log := e.logger.With().Str("instrument", instrument).Logger()

	var (
		perr *order.ProtectionError
		ferr *order.FatalError
	)
	switch {
	case err == nil:
		if cerr := e.deps.Registry.Commit(instrument, trade); cerr != nil {
			e.halt(ctx, instrument, fmt.Sprintf("commit refused for open position: %v", cerr))
			return Outcome{Kind: Fatal, Instrument: instrument, Reason: cerr.Error(), Err: cerr}
		}
		e.resetRejects(instrument)
		e.deps.Bus.Publish(events.EventTradeOpened, events.TradeOpened{
			Instrument: instrument,
			Direction:  string(trade.Direction),
			EntryPrice: trade.EntryPrice,
			Quantity:   trade.Quantity,
		})
		log.Info().Str("state", string(trade.State)).Str("entry_price", trade.EntryPrice.String()).
			Str("qty", trade.Quantity.String()).Msg("trade opened")
		return Outcome{Kind: Opened, Instrument: instrument, Trade: &trade}

	case errors.As(err, &perr):
		e.deps.Registry.Release(instrument)
		e.noteRejection(instrument, err)
		if e.deps.Reporter != nil {
			r := reconciliation.NewPortfolioReport(perr.Trade, perr.ExitPrice, state.EmergencyClosed, e.now())
			if rerr := e.deps.Reporter.Report(ctx, r); rerr != nil {
				log.Warn().Err(rerr).Msg("report emergency close failed")
			}
		}
		log.Warn().Err(err).Str("state", string(perr.Trade.State)).Str("reason", string(state.EmergencyClosed)).
			Msg("protection failed, position flattened")
		return Outcome{Kind: Failed, Instrument: instrument, Reason: err.Error(), Trade: &perr.Trade, Err: err}

	case errors.As(err, &ferr):
		// The CLOSING entry keeps the instrument reserved until an operator acknowledges.
		if cerr := e.deps.Registry.Commit(instrument, ferr.Trade); cerr != nil {
			log.Error().Err(cerr).Msg("could not record unmanaged position, keeping reservation")
		}
		e.halt(ctx, instrument, err.Error())
		return Outcome{Kind: Fatal, Instrument: instrument, Reason: err.Error(), Trade: &ferr.Trade, Err: err}

	default:
		e.deps.Registry.Release(instrument)
		e.noteRejection(instrument, err)
		log.Warn().Err(err).Msg("entry failed")
		return Outcome{Kind: Failed, Instrument: instrument, Reason: err.Error(), Err: err}
	}
}

func (e *Engine) halt(ctx context.Context, instrument, detail string) {
	h := e.deps.Halts.Halt(instrument, detail)
	e.logger.Error().Str("instrument", instrument).Str("state", string(state.Closing)).Str("reason", detail).
		Msg("instrument halted, operator acknowledgment required")
	if e.deps.Incidents != nil {
		if err := e.deps.Incidents.RecordIncident(ctx, instrument, IncidentUnmanagedPosition, detail); err != nil {
			e.logger.Error().Err(err).Str("instrument", instrument).Msg("record incident failed")
		}
	}
	e.deps.Bus.Publish(events.EventHaltChanged, events.HaltChanged{
		Instrument: h.Instrument,
		Halted:     true,
		Count:      e.deps.Halts.Len(),
	})
}

// noteRejection counts consecutive venue rejections; past the threshold the
// cached rules are dropped so the next signal refetches them.
func (e *Engine) noteRejection(instrument string, err error) {
	if !common.IsRejection(err) {
		return
	}
	e.mu.Lock()
	e.rejects[instrument]++
	n := e.rejects[instrument]
	if n >= e.cfg.RejectRefreshThreshold {
		e.rejects[instrument] = 0
	}
	e.mu.Unlock()
	if n >= e.cfg.RejectRefreshThreshold {
		e.deps.Rules.Invalidate(instrument)
		e.logger.Info().Str("instrument", instrument).Int("rejections", n).Msg("symbol rules invalidated")
	}
}

func (e *Engine) resetRejects(instrument string) {
	e.mu.Lock()
	delete(e.rejects, instrument)
	e.mu.Unlock()
}

// RunSignalCycle evaluates every enabled instrument once. At most Workers
// evaluations run at a time; the registry reservation keeps each instrument
// to one in-flight sequence.
func (e *Engine) RunSignalCycle(ctx context.Context) []Outcome {
	enabled := make([]config.Instrument, 0, len(e.deps.Instruments))
	for _, in := range e.deps.Instruments {
		if in.IsEnabled() {
			enabled = append(enabled, in)
		}
	}
	outcomes := make([]Outcome, len(enabled))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, in := range enabled {
		g.Go(func() error {
			outcomes[i] = e.evaluate(ctx, in)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (e *Engine) evaluate(ctx context.Context, in config.Instrument) Outcome {
	skip := func(reason string) Outcome {
		out := Outcome{Kind: Skipped, Instrument: in.Symbol, Reason: reason}
		e.deps.Bus.Publish(events.EventSignalOutcome, events.SignalOutcome{Instrument: in.Symbol, Outcome: string(Skipped), Reason: reason})
		return out
	}
	if e.deps.Halts.IsHalted(in.Symbol) {
		return skip("instrument halted")
	}
	if _, busy := e.deps.Registry.Get(in.Symbol); busy {
		return skip("position already tracked")
	}
	// A position opened before a restart, or handed to an operator, is not
	// ours to add to.
	pos, err := e.deps.Gateway.GetOpenPosition(ctx, in.Symbol)
	if err != nil {
		e.logger.Warn().Err(err).Str("instrument", in.Symbol).Msg("position check failed")
		return Outcome{Kind: Failed, Instrument: in.Symbol, Reason: err.Error(), Err: err}
	}
	if pos != nil && pos.Qty.IsPositive() {
		e.logger.Debug().Str("instrument", in.Symbol).Str("qty", pos.Qty.String()).Msg("untracked venue position")
		return skip("untracked venue position open")
	}

	price, err := e.deps.Gateway.GetReferencePrice(ctx, in.Symbol)
	if err != nil {
		e.logger.Warn().Err(err).Str("instrument", in.Symbol).Msg("reference price unavailable")
		return Outcome{Kind: Failed, Instrument: in.Symbol, Reason: err.Error(), Err: err}
	}
	snap := strategy.Snapshot{
		Instrument:     in.Symbol,
		Interval:       in.Interval,
		ReferencePrice: price,
		NotionalUSD:    in.Notional(),
	}
	if e.deps.Market != nil {
		klines, err := e.deps.Market.Klines(ctx, in.Symbol, in.Interval, e.cfg.KlineLimit)
		if err != nil {
			e.logger.Warn().Err(err).Str("instrument", in.Symbol).Msg("klines unavailable")
		}
		snap.Klines = klines
	}

	d, err := e.deps.Source.Evaluate(ctx, snap)
	if err != nil {
		e.logger.Warn().Err(err).Str("instrument", in.Symbol).Str("source", e.deps.Source.Name()).Msg("decision source failed")
		return Outcome{Kind: Failed, Instrument: in.Symbol, Reason: err.Error(), Err: err}
	}
	if d.Signal == nil {
		e.logger.Debug().Str("instrument", in.Symbol).Str("reason", d.SkipReason).Msg("no trade")
		return skip(d.SkipReason)
	}
	sig := *d.Signal
	sig.Instrument = in.Symbol
	if !sig.ReferencePrice.IsPositive() {
		sig.ReferencePrice = price
	}
	if !sig.NotionalUSD.IsPositive() {
		sig.NotionalUSD = in.Notional()
	}
	return e.OnSignal(ctx, sig)
}

// RunReconciliation runs one reconciliation pass.
func (e *Engine) RunReconciliation(ctx context.Context) reconciliation.Report {
	rep := e.deps.Reconciler.Reconcile(ctx)
	ev := e.logger.Debug()
	if rep.Err != nil {
		ev = e.logger.Warn().Err(rep.Err)
	}
	ev.Int("checked", rep.Checked).Int("closed", len(rep.Closed)).Int("orphans_canceled", rep.OrphansCanceled).
		Msg("reconciliation pass")
	return rep
}

// Positions returns the registry snapshot.
func (e *Engine) Positions() []state.ActiveTrade { return e.deps.Registry.Snapshot() }

// Halts lists halted instruments.
func (e *Engine) Halts() []risk.Halt { return e.deps.Halts.List() }

// Acknowledge resumes a halted instrument. Any CLOSING entry is dropped: the
// operator has taken over that position.
func (e *Engine) Acknowledge(ctx context.Context, instrument, operator string) error {
	h, err := e.deps.Halts.Acknowledge(instrument)
	if err != nil {
		return err
	}
	if t, ok := e.deps.Registry.Get(instrument); ok && (t.State == state.Closing || t.State == state.PendingEntry) {
		e.deps.Registry.Release(instrument)
	}
	if e.deps.Incidents != nil {
		if err := e.deps.Incidents.Acknowledge(ctx, instrument, operator); err != nil {
			e.logger.Warn().Err(err).Str("instrument", instrument).Msg("incident acknowledgment not persisted")
		}
	}
	e.logger.Info().Str("instrument", instrument).Str("operator", operator).Str("reason", h.Reason).
		Msg("halt acknowledged, trading resumed")
	e.deps.Bus.Publish(events.EventHaltChanged, events.HaltChanged{
		Instrument: instrument,
		Halted:     false,
		Operator:   operator,
		Count:      e.deps.Halts.Len(),
	})
	return nil
}
