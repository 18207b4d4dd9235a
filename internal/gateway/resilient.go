// Package gateway wraps a venue gateway with the call discipline the engine
// relies on: per-call deadlines, request pacing, bounded retries on reads and
// latency reporting.
package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"sniper-core/pkg/exchanges/common"
)

// Observer receives the outcome of every venue call.
type Observer interface {
	ObserveGatewayCall(op string, took time.Duration, err error)
}

// PriceSource supplies a streamed reference price when fresh enough.
type PriceSource interface {
	Fresh(symbol string, maxAge time.Duration) (decimal.Decimal, bool)
}

// Config holds the call discipline settings.
type Config struct {
	Timeout     time.Duration // per attempt
	RPS         float64
	Burst       int
	ReadRetries uint64
	PriceMaxAge time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     10 * time.Second,
		RPS:         10,
		Burst:       5,
		ReadRetries: 3,
		PriceMaxAge: 5 * time.Second,
	}
}

// Resilient implements common.Gateway over another Gateway. Order placement
// is attempted exactly once; reads are retried on transient errors.
type Resilient struct {
	next     common.Gateway
	cfg      Config
	limiter  *rate.Limiter
	observer Observer
	prices   PriceSource
	logger   zerolog.Logger

	// newBackOff is replaced in tests to avoid real sleeps.
	newBackOff func() backoff.BackOff
}

var _ common.Gateway = (*Resilient)(nil)

// NewResilient wraps next. observer and prices may be nil.
func NewResilient(next common.Gateway, cfg Config, observer Observer, prices PriceSource, logger zerolog.Logger) *Resilient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Resilient{
		next:     next,
		cfg:      cfg,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		observer: observer,
		prices:   prices,
		logger:   logger.With().Str("component", "gateway").Logger(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

// call runs fn once under the rate limiter and a fresh deadline.
func (g *Resilient) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	err := fn(cctx)
	if g.observer != nil {
		g.observer.ObserveGatewayCall(op, time.Since(start), err)
	}
	return err
}

// read retries fn with exponential backoff while the error is transient.
func (g *Resilient) read(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := g.call(ctx, op, fn)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !common.IsTransient(err) {
			return backoff.Permanent(err)
		}
		g.logger.Debug().Err(err).Str("op", op).Int("attempt", attempt).Msg("transient read error, retrying")
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(g.newBackOff(), g.cfg.ReadRetries), ctx)
	return backoff.Retry(operation, b)
}

func (g *Resilient) GetSymbolRules(ctx context.Context, symbol string) (common.SymbolRules, error) {
	var out common.SymbolRules
	err := g.read(ctx, "symbol_rules", func(ctx context.Context) error {
		var err error
		out, err = g.next.GetSymbolRules(ctx, symbol)
		return err
	})
	return out, err
}

// GetReferencePrice prefers a fresh streamed price over a REST round trip.
func (g *Resilient) GetReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if g.prices != nil {
		if p, ok := g.prices.Fresh(symbol, g.cfg.PriceMaxAge); ok {
			return p, nil
		}
	}
	var out decimal.Decimal
	err := g.read(ctx, "reference_price", func(ctx context.Context) error {
		var err error
		out, err = g.next.GetReferencePrice(ctx, symbol)
		return err
	})
	return out, err
}

// PlaceOrder is never retried; a timeout leaves the outcome unknown to the caller.
func (g *Resilient) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	var out common.OrderResult
	err := g.call(ctx, "place_order", func(ctx context.Context) error {
		var err error
		out, err = g.next.PlaceOrder(ctx, req)
		return err
	})
	return out, err
}

func (g *Resilient) GetOrderStatus(ctx context.Context, symbol, orderID string) (common.OrderState, error) {
	var out common.OrderState
	err := g.read(ctx, "order_status", func(ctx context.Context) error {
		var err error
		out, err = g.next.GetOrderStatus(ctx, symbol, orderID)
		return err
	})
	return out, err
}

func (g *Resilient) GetOpenPosition(ctx context.Context, symbol string) (*common.Position, error) {
	var out *common.Position
	err := g.read(ctx, "open_position", func(ctx context.Context) error {
		var err error
		out, err = g.next.GetOpenPosition(ctx, symbol)
		return err
	})
	return out, err
}

func (g *Resilient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return g.call(ctx, "cancel_order", func(ctx context.Context) error {
		return g.next.CancelOrder(ctx, symbol, orderID)
	})
}

func (g *Resilient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return g.call(ctx, "set_leverage", func(ctx context.Context) error {
		return g.next.SetLeverage(ctx, symbol, leverage)
	})
}
