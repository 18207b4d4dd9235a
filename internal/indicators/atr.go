package indicators

import "math"

// ATR computes Wilder's Average True Range. The three slices must be the same
// length; ok is false with fewer than period+1 candles.
func ATR(high, low, close []float64, period int) (atr float64, ok bool) {
	if period <= 0 || len(close) < period+1 || len(high) != len(close) || len(low) != len(close) {
		return 0, false
	}
	tr := func(i int) float64 {
		return math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr(i)
	}
	atr = sum / float64(period)
	n := float64(period)
	for i := period + 1; i < len(close); i++ {
		atr = (atr*(n-1) + tr(i)) / n
	}
	return atr, true
}
