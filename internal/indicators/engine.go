package indicators

import "sniper-core/pkg/exchanges/common"

// Periods configures the indicator windows used by the rule-based scorer.
type Periods struct {
	RSI     int
	EMAFast int
	EMASlow int
	ATR     int
}

// DefaultPeriods are RSI(14), EMA(9)/EMA(21) and ATR(14).
var DefaultPeriods = Periods{RSI: 14, EMAFast: 9, EMASlow: 21, ATR: 14}

// Set is one evaluation of every indicator over a candle series.
// Missing values fall back to neutral: RSI 50, no crossover, ATR 0.
type Set struct {
	Close   float64
	RSI     float64
	EMAFast float64
	EMASlow float64
	HasEMA  bool
	ATR     float64
}

// Compute evaluates all indicators over klines (oldest first).
func Compute(klines []common.Kline, p Periods) Set {
	n := len(klines)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, k := range klines {
		closes[i], highs[i], lows[i] = k.Close, k.High, k.Low
	}

	var s Set
	if n > 0 {
		s.Close = closes[n-1]
	}
	s.RSI = 50
	if v, ok := RSI(closes, p.RSI); ok {
		s.RSI = v
	}
	fast, okFast := EMA(closes, p.EMAFast)
	slow, okSlow := EMA(closes, p.EMASlow)
	if okFast && okSlow {
		s.EMAFast, s.EMASlow, s.HasEMA = fast, slow, true
	}
	if v, ok := ATR(highs, lows, closes, p.ATR); ok {
		s.ATR = v
	}
	return s
}
