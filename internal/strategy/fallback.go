package strategy

import (
	"context"

	"github.com/rs/zerolog"
)

// Fallback evaluates Primary and switches to Secondary when it errors.
type Fallback struct {
	Primary   Source
	Secondary Source
	logger    zerolog.Logger
}

// NewFallback wraps a network-fallible source with a local one.
func NewFallback(primary, secondary Source, logger zerolog.Logger) *Fallback {
	return &Fallback{
		Primary:   primary,
		Secondary: secondary,
		logger:    logger.With().Str("component", "decision").Logger(),
	}
}

func (f *Fallback) Name() string { return f.Primary.Name() + "+" + f.Secondary.Name() }

func (f *Fallback) Evaluate(ctx context.Context, snap Snapshot) (Decision, error) {
	d, err := f.Primary.Evaluate(ctx, snap)
	if err == nil {
		return d, nil
	}
	if ctx.Err() != nil {
		return Decision{}, ctx.Err()
	}
	f.logger.Warn().Err(err).Str("instrument", snap.Instrument).Str("source", f.Primary.Name()).
		Msg("decision source failed, using fallback")
	return f.Secondary.Evaluate(ctx, snap)
}
