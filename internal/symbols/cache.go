// Package symbols caches per-instrument trading rules fetched from the venue.
package symbols

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"sniper-core/pkg/exchanges/common"
)

var (
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrInvalidRules      = errors.New("invalid symbol rules")
)

// RulesSource fetches rules from the venue.
type RulesSource interface {
	GetSymbolRules(ctx context.Context, symbol string) (common.SymbolRules, error)
}

// Cache holds rules per instrument. Entries never expire; callers Refresh or
// Invalidate after repeated order rejections.
type Cache struct {
	mu     sync.RWMutex
	rules  map[string]common.SymbolRules
	source RulesSource
	logger zerolog.Logger
}

// NewCache creates an empty cache backed by source.
func NewCache(source RulesSource, logger zerolog.Logger) *Cache {
	return &Cache{
		rules:  make(map[string]common.SymbolRules),
		source: source,
		logger: logger.With().Str("component", "symbols").Logger(),
	}
}

// Get returns cached rules, loading once on a miss.
func (c *Cache) Get(ctx context.Context, instrument string) (common.SymbolRules, error) {
	c.mu.RLock()
	r, ok := c.rules[instrument]
	c.mu.RUnlock()
	if ok {
		return r, nil
	}
	r, err := c.Refresh(ctx, instrument)
	if err != nil {
		return common.SymbolRules{}, fmt.Errorf("%w %s: %w", ErrUnknownInstrument, instrument, err)
	}
	return r, nil
}

// Refresh re-fetches rules and replaces the entry. A failed fetch keeps the
// previous entry.
func (c *Cache) Refresh(ctx context.Context, instrument string) (common.SymbolRules, error) {
	r, err := c.source.GetSymbolRules(ctx, instrument)
	if err != nil {
		return common.SymbolRules{}, err
	}
	r.Symbol = instrument
	if err := Validate(r); err != nil {
		return common.SymbolRules{}, err
	}
	c.mu.Lock()
	c.rules[instrument] = r
	c.mu.Unlock()
	c.logger.Debug().
		Str("instrument", instrument).
		Str("step", r.QuantityStep.String()).
		Str("tick", r.PriceTick.String()).
		Str("min_notional", r.MinNotional.String()).
		Msg("symbol rules loaded")
	return r, nil
}

// Load populates the cache at startup. Every instrument is attempted; the
// failures are returned together.
func (c *Cache) Load(ctx context.Context, instruments ...string) error {
	var errs error
	for _, in := range instruments {
		if _, err := c.Refresh(ctx, in); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", in, err))
		}
	}
	return errs
}

// Invalidate drops the entry so the next Get refetches it.
func (c *Cache) Invalidate(instrument string) {
	c.mu.Lock()
	delete(c.rules, instrument)
	c.mu.Unlock()
}

// Len returns how many instruments are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules)
}

// Validate checks that rules can size orders at all.
func Validate(r common.SymbolRules) error {
	switch {
	case !r.QuantityStep.IsPositive():
		return fmt.Errorf("%w: %s quantity step %s", ErrInvalidRules, r.Symbol, r.QuantityStep)
	case !r.PriceTick.IsPositive():
		return fmt.Errorf("%w: %s price tick %s", ErrInvalidRules, r.Symbol, r.PriceTick)
	case r.MinQuantity.IsNegative(), r.MinNotional.IsNegative():
		return fmt.Errorf("%w: %s negative minimum", ErrInvalidRules, r.Symbol)
	case r.MaxQuantity.IsPositive() && r.MinQuantity.GreaterThan(r.MaxQuantity):
		return fmt.Errorf("%w: %s min quantity %s above max %s", ErrInvalidRules, r.Symbol, r.MinQuantity, r.MaxQuantity)
	}
	return nil
}
