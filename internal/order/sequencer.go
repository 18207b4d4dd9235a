// Package order places the legs of a trade in order: market entry, stop-loss,
// take-profit, and an emergency close when protection cannot be attached.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"sniper-core/internal/events"
	"sniper-core/internal/risk"
	"sniper-core/internal/state"
	"sniper-core/pkg/exchanges/common"
)

// Intent is a normalized, validated trade ready for placement.
type Intent struct {
	Instrument string
	Direction  state.Direction
	Quantity   decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Config tunes how long a market order may stay non-terminal.
type Config struct {
	FillPollInterval time.Duration
	FillPolls        int
}

// Sequencer implements the entry/protection protocol against a gateway.
type Sequencer struct {
	gw     common.Gateway
	bus    *events.Bus
	cfg    Config
	logger zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewSequencer creates a sequencer. bus may be nil.
func NewSequencer(gw common.Gateway, bus *events.Bus, cfg Config, logger zerolog.Logger) *Sequencer {
	if cfg.FillPollInterval <= 0 {
		cfg.FillPollInterval = 250 * time.Millisecond
	}
	if cfg.FillPolls <= 0 {
		cfg.FillPolls = 8
	}
	return &Sequencer{
		gw:     gw,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With().Str("component", "sequencer").Logger(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

type fill struct {
	orderID string
	price   decimal.Decimal
	qty     decimal.Decimal
}

// Open places the entry and both protective orders. It returns an ACTIVE trade,
// ErrEntryFailed, a *ProtectionError or a *FatalError.
//
// Cancelling ctx only prevents the entry from being sent. Once it is sent the
// sequence runs to ACTIVE or an emergency close, bounded by per-call timeouts.
func (s *Sequencer) Open(ctx context.Context, in Intent) (state.ActiveTrade, error) {
	if err := ctx.Err(); err != nil {
		return state.ActiveTrade{}, fmt.Errorf("%s: %w: %v", in.Instrument, ErrEntryFailed, err)
	}
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With().Str("instrument", in.Instrument).Str("direction", string(in.Direction)).Logger()

	f, err := s.enter(ctx, in)
	if err != nil {
		return state.ActiveTrade{}, err
	}
	trade := state.ActiveTrade{
		Instrument:   in.Instrument,
		Direction:    in.Direction,
		EntryPrice:   f.price,
		Quantity:     f.qty,
		StopLoss:     in.StopLoss,
		TakeProfit:   in.TakeProfit,
		EntryOrderID: f.orderID,
		State:        state.PendingEntry,
		OpenedAt:     s.now(),
	}
	log.Info().Str("order_id", f.orderID).Str("entry_price", f.price.String()).Str("qty", f.qty.String()).
		Msg("entry filled")

	// Slippage can push the fill through a protective level; the venue would
	// reject that order or trigger it at once.
	if err := state.CheckLevels(in.Direction, f.price, in.StopLoss, in.TakeProfit); err != nil {
		return s.rollback(ctx, trade, risk.LegStopLoss, err)
	}

	sl := risk.StopLossOrder(in.Instrument, in.Direction, f.qty, in.StopLoss, s.newID())
	res, err := s.place(ctx, risk.LegStopLoss, sl)
	if err == nil && res.Status.Terminal() {
		err = fmt.Errorf("stop-loss %s on placement", res.Status)
	}
	if err != nil {
		return s.rollback(ctx, trade, risk.LegStopLoss, err)
	}
	trade.StopLossOrderID = res.OrderID

	tp := risk.TakeProfitOrder(in.Instrument, in.Direction, f.qty, in.TakeProfit, s.newID())
	res, err = s.place(ctx, risk.LegTakeProfit, tp)
	if err == nil && res.Status.Terminal() {
		err = fmt.Errorf("take-profit %s on placement", res.Status)
	}
	if err != nil {
		return s.rollback(ctx, trade, risk.LegTakeProfit, err)
	}
	trade.TakeProfitOrderID = res.OrderID
	trade.State = state.Active

	log.Info().Str("state", string(trade.State)).Str("stop_loss", in.StopLoss.String()).
		Str("take_profit", in.TakeProfit.String()).Msg("trade protected")
	return trade, nil
}

// enter submits the market entry and resolves its fill. A placement whose
// outcome is unknown is settled by asking the venue for the position.
func (s *Sequencer) enter(ctx context.Context, in Intent) (fill, error) {
	req := risk.EntryOrder(in.Instrument, in.Direction, in.Quantity, s.newID())
	res, err := s.place(ctx, risk.LegEntry, req)
	if err != nil {
		if !common.IsTransient(err) {
			return fill{}, fmt.Errorf("%s: %w: %v", in.Instrument, ErrEntryFailed, err)
		}
		s.logger.Warn().Err(err).Str("instrument", in.Instrument).Msg("entry outcome unknown, checking position")
		return s.resolveUnknown(ctx, in, "", err)
	}

	if !res.Status.Terminal() {
		res, err = s.awaitFill(ctx, in.Instrument, res)
		if err != nil {
			// A resting entry could keep filling past the quantity we protect.
			if cerr := s.gw.CancelOrder(ctx, in.Instrument, res.OrderID); cerr != nil {
				s.logger.Warn().Err(cerr).Str("instrument", in.Instrument).Str("order_id", res.OrderID).
					Msg("cancel unsettled entry failed")
			}
			return s.resolveUnknown(ctx, in, res.OrderID, err)
		}
	}
	if res.Status != common.StatusFilled {
		if !res.FilledQty.IsPositive() {
			return fill{}, fmt.Errorf("%s entry %s: %w", in.Instrument, res.Status, ErrEntryFailed)
		}
		s.logger.Warn().Str("instrument", in.Instrument).Str("status", string(res.Status)).
			Str("filled_qty", res.FilledQty.String()).Str("requested_qty", in.Quantity.String()).
			Msg("entry partially filled, protecting filled quantity")
	}

	f := fill{orderID: res.OrderID, price: res.AvgPrice, qty: res.FilledQty}
	if !f.qty.IsPositive() {
		f.qty = in.Quantity
	}
	if !f.price.IsPositive() {
		st, err := s.gw.GetOrderStatus(ctx, in.Instrument, res.OrderID)
		if err == nil && st.AvgPrice.IsPositive() {
			f.price = st.AvgPrice
		} else {
			return s.resolveUnknown(ctx, in, res.OrderID, fmt.Errorf("fill price missing"))
		}
	}
	return f, nil
}

// awaitFill polls a non-terminal entry until it settles.
func (s *Sequencer) awaitFill(ctx context.Context, instrument string, res common.OrderResult) (common.OrderResult, error) {
	t := time.NewTicker(s.cfg.FillPollInterval)
	defer t.Stop()
	for i := 0; i < s.cfg.FillPolls; i++ {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-t.C:
		}
		st, err := s.gw.GetOrderStatus(ctx, instrument, res.OrderID)
		if err != nil {
			continue
		}
		if st.Status.Terminal() {
			res.Status, res.AvgPrice, res.FilledQty = st.Status, st.AvgPrice, st.FilledQty
			return res, nil
		}
	}
	return res, fmt.Errorf("entry %s not terminal after %d polls", res.OrderID, s.cfg.FillPolls)
}

// resolveUnknown decides an entry from the venue position. When even that
// cannot be read the position may exist unmanaged, which is fatal.
func (s *Sequencer) resolveUnknown(ctx context.Context, in Intent, orderID string, cause error) (fill, error) {
	pos, err := s.gw.GetOpenPosition(ctx, in.Instrument)
	if err != nil {
		return fill{}, &FatalError{
			Leg: risk.LegEntry,
			Trade: state.ActiveTrade{
				Instrument:   in.Instrument,
				Direction:    in.Direction,
				Quantity:     in.Quantity,
				StopLoss:     in.StopLoss,
				TakeProfit:   in.TakeProfit,
				EntryOrderID: orderID,
				State:        state.Closing,
				OpenedAt:     s.now(),
			},
			Err: multierr.Combine(cause, fmt.Errorf("position check: %w", err)),
		}
	}
	if pos == nil || pos.Side != in.Direction.EntrySide() || !pos.Qty.IsPositive() {
		return fill{}, fmt.Errorf("%s: %w: no position after %v", in.Instrument, ErrEntryFailed, cause)
	}
	s.logger.Info().Str("instrument", in.Instrument).Str("qty", pos.Qty.String()).Msg("entry found filled on venue")
	return fill{orderID: orderID, price: pos.EntryPrice, qty: pos.Qty}, nil
}

// rollback cancels any placed protective leg and flattens the position.
func (s *Sequencer) rollback(ctx context.Context, trade state.ActiveTrade, leg risk.Leg, cause error) (state.ActiveTrade, error) {
	log := s.logger.With().Str("instrument", trade.Instrument).Str("leg", string(leg)).Logger()
	log.Error().Err(cause).Msg("protection failed, emergency closing")

	var cancelErr error
	if trade.StopLossOrderID != "" {
		if err := s.gw.CancelOrder(ctx, trade.Instrument, trade.StopLossOrderID); err != nil {
			cancelErr = fmt.Errorf("cancel stop-loss %s: %w", trade.StopLossOrderID, err)
			log.Warn().Err(err).Str("order_id", trade.StopLossOrderID).Msg("cancel protective leg failed")
		} else {
			trade.StopLossOrderID = ""
		}
	}

	exit, err := s.emergencyClose(ctx, trade)
	if err != nil {
		trade.State = state.Closing
		log.Error().Err(err).Str("state", string(trade.State)).Msg("emergency close failed, position unmanaged")
		return trade, &FatalError{Leg: leg, Trade: trade, Err: multierr.Combine(cause, cancelErr, err)}
	}
	trade.State = state.Closed
	trade.CloseReason = state.EmergencyClosed
	log.Warn().Str("state", string(trade.State)).Str("exit_price", exit.String()).Msg("position emergency closed")
	return trade, &ProtectionError{Leg: leg, Trade: trade, ExitPrice: exit, Err: multierr.Combine(cause, cancelErr)}
}

// emergencyClose sends the reduce-only market exit. An unknown outcome counts
// as success only when the venue reports the position gone.
func (s *Sequencer) emergencyClose(ctx context.Context, trade state.ActiveTrade) (decimal.Decimal, error) {
	req := risk.EmergencyCloseOrder(trade.Instrument, trade.Direction, trade.Quantity, s.newID())
	res, err := s.place(ctx, risk.LegEmergencyClose, req)
	if err == nil && !res.Status.Terminal() {
		res, err = s.awaitFill(ctx, trade.Instrument, res)
	}
	if err == nil && res.Status == common.StatusFilled {
		return res.AvgPrice, nil
	}
	if err == nil {
		err = fmt.Errorf("emergency close %s", res.Status)
	}
	pos, perr := s.gw.GetOpenPosition(ctx, trade.Instrument)
	if perr == nil && pos == nil {
		price, err := s.gw.GetReferencePrice(ctx, trade.Instrument)
		if err != nil || !price.IsPositive() {
			s.logger.Warn().Err(err).Str("instrument", trade.Instrument).Str("entry_price", trade.EntryPrice.String()).
				Msg("exit price unavailable, reporting at entry price")
			price = trade.EntryPrice
		}
		return price, nil
	}
	return decimal.Zero, multierr.Append(err, perr)
}

func (s *Sequencer) place(ctx context.Context, leg risk.Leg, req common.OrderRequest) (common.OrderResult, error) {
	start := time.Now()
	res, err := s.gw.PlaceOrder(ctx, req)
	s.bus.Publish(events.EventOrderPlaced, events.OrderPlaced{
		Instrument: req.Symbol,
		Leg:        string(leg),
		OrderID:    res.OrderID,
		ClientID:   req.ClientID,
		Side:       string(req.Side),
		Type:       string(req.Type),
		Qty:        req.Qty,
		StopPrice:  req.StopPrice,
		AvgPrice:   res.AvgPrice,
		Status:     string(res.Status),
		Err:        err,
		Latency:    time.Since(start),
	})
	if err != nil {
		return res, fmt.Errorf("place %s: %w", leg, err)
	}
	return res, nil
}
