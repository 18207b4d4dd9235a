package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"sniper-core/internal/indicators"
	"sniper-core/internal/state"
)

// ScorerConfig holds the thresholds of the rule-based scorer.
type ScorerConfig struct {
	Periods        indicators.Periods
	Oversold       float64
	Overbought     float64
	Threshold      float64
	BaseStopLoss   float64 // fraction of price
	BaseTakeProfit float64
	MinCandles     int
}

// DefaultScorerConfig mirrors the original bot's constants.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Periods:        indicators.DefaultPeriods,
		Oversold:       30,
		Overbought:     70,
		Threshold:      0.5,
		BaseStopLoss:   0.02,
		BaseTakeProfit: 0.04,
		MinCandles:     22,
	}
}

// Scorer is the local decision source: RSI extremes, EMA trend and sentiment
// add up to a score; past the threshold it trades with volatility-scaled levels.
type Scorer struct {
	cfg ScorerConfig
}

// NewScorer creates a scorer.
func NewScorer(cfg ScorerConfig) *Scorer { return &Scorer{cfg: cfg} }

func (s *Scorer) Name() string { return "scorer" }

// Evaluate never fails on thin data; it skips instead.
func (s *Scorer) Evaluate(ctx context.Context, snap Snapshot) (Decision, error) {
	if len(snap.Klines) < s.cfg.MinCandles {
		return Skip(fmt.Sprintf("need %d candles, have %d", s.cfg.MinCandles, len(snap.Klines))), nil
	}
	ind := indicators.Compute(snap.Klines, s.cfg.Periods)

	score := 0.0
	switch {
	case ind.RSI < s.cfg.Oversold:
		score += 0.4
	case ind.RSI > s.cfg.Overbought:
		score -= 0.4
	}
	if ind.HasEMA {
		switch {
		case ind.EMAFast > ind.EMASlow:
			score += 0.3
		case ind.EMAFast < ind.EMASlow:
			score -= 0.3
		}
	}
	score += snap.Sentiment * 0.3

	var dir state.Direction
	switch {
	case score > s.cfg.Threshold:
		dir = state.Long
	case score < -s.cfg.Threshold:
		dir = state.Short
	default:
		return Skip(fmt.Sprintf("score %.2f within threshold (rsi %.1f)", score, ind.RSI)), nil
	}

	price := snap.ReferencePrice
	if !price.IsPositive() {
		price = decimal.NewFromFloat(ind.Close)
	}
	pf, _ := price.Float64()
	vol := 0.0
	if pf > 0 {
		vol = ind.ATR / pf
	}
	scale := (1 + math.Abs(snap.Sentiment)*0.5) * (1 + vol)
	slPct := decimal.NewFromFloat(s.cfg.BaseStopLoss * scale)
	tpPct := decimal.NewFromFloat(s.cfg.BaseTakeProfit * scale)

	one := decimal.NewFromInt(1)
	sig := TradeSignal{
		Instrument:     snap.Instrument,
		Direction:      dir,
		ReferencePrice: price,
		NotionalUSD:    snap.NotionalUSD,
		Confidence:     int(math.Min(100, math.Round(math.Abs(score)*100))),
		Reason:         fmt.Sprintf("score %.2f rsi %.1f ema %.4f/%.4f atr %.4f", score, ind.RSI, ind.EMAFast, ind.EMASlow, ind.ATR),
	}
	if dir == state.Long {
		sig.StopLoss = price.Mul(one.Sub(slPct))
		sig.TakeProfit = price.Mul(one.Add(tpPct))
	} else {
		sig.StopLoss = price.Mul(one.Add(slPct))
		sig.TakeProfit = price.Mul(one.Sub(tpPct))
	}
	return Trade(sig), nil
}
