package common

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WeightTracker follows the request weight the venue reports back in
// response headers (X-MBX-USED-WEIGHT-1M on Binance).
type WeightTracker struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	logger        zerolog.Logger
	mu            sync.RWMutex
}

// NewWeightTracker creates a tracker.
// limit: maximum weight allowed per window (2400 for USDT-M futures)
// resetInterval: window length (1 minute on Binance)
func NewWeightTracker(limit int, resetInterval time.Duration, logger zerolog.Logger) *WeightTracker {
	return &WeightTracker{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
		logger:        logger,
	}
}

// UpdateFromHeader records the used weight from a response header value.
func (wt *WeightTracker) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	wt.mu.Lock()
	defer wt.mu.Unlock()

	if time.Since(wt.lastReset) >= wt.resetInterval {
		wt.usedWeight = 0
		wt.lastReset = time.Now()
	}
	wt.usedWeight = weight

	percentage := float64(wt.usedWeight) / float64(wt.limit) * 100
	if percentage >= 95 {
		wt.logger.Error().Int("used", wt.usedWeight).Int("limit", wt.limit).Msg("request weight critical, approaching ban threshold")
	} else if percentage >= 80 {
		wt.logger.Warn().Int("used", wt.usedWeight).Int("limit", wt.limit).Msg("request weight high")
	}
}

// Usage returns current usage information.
func (wt *WeightTracker) Usage() (used int, limit int, percentage float64) {
	wt.mu.RLock()
	defer wt.mu.RUnlock()

	if time.Since(wt.lastReset) >= wt.resetInterval {
		return 0, wt.limit, 0
	}
	return wt.usedWeight, wt.limit, float64(wt.usedWeight) / float64(wt.limit) * 100
}

// ShouldDelay reports whether the next request should wait for the window to roll.
func (wt *WeightTracker) ShouldDelay() bool {
	_, _, pct := wt.Usage()
	return pct >= 90
}

// UntilReset is how long until the current window rolls over.
func (wt *WeightTracker) UntilReset() time.Duration {
	wt.mu.RLock()
	defer wt.mu.RUnlock()
	d := wt.resetInterval - time.Since(wt.lastReset)
	if d < 0 {
		return 0
	}
	return d
}
