package common

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CodeTimestampOutsideWindow is the venue rejection for a request signed with
// a timestamp outside recvWindow.
const CodeTimestampOutsideWindow = -1021

// ServerClock tracks the venue clock so signed requests carry a timestamp the
// venue accepts. Samples whose round trip exceeds MaxRTT are discarded because
// the midpoint estimate is too loose to sign with.
type ServerClock struct {
	fetch  func(ctx context.Context) (int64, error)
	every  time.Duration
	maxRTT time.Duration
	local  func() time.Time
	logger zerolog.Logger
	resync chan struct{}

	mu     sync.RWMutex
	offset time.Duration
	synced bool
}

// NewServerClock creates a clock that reads server milliseconds from fetch.
func NewServerClock(fetch func(ctx context.Context) (int64, error), logger zerolog.Logger) *ServerClock {
	return &ServerClock{
		fetch:  fetch,
		every:  30 * time.Minute,
		maxRTT: 2 * time.Second,
		local:  time.Now,
		logger: logger,
		resync: make(chan struct{}, 1),
	}
}

// Start samples once, then resamples on a timer or on Resync until ctx is done.
func (c *ServerClock) Start(ctx context.Context) {
	if err := c.Sync(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("initial clock sync failed, signing with local time")
	}
	go func() {
		t := time.NewTicker(c.every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			case <-c.resync:
			}
			if err := c.Sync(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("clock sync failed")
			}
		}
	}()
}

// Resync asks the running loop for an early sample. It never blocks.
func (c *ServerClock) Resync() {
	select {
	case c.resync <- struct{}{}:
	default:
	}
}

// Sync takes one sample. The server reading is taken to belong to the midpoint
// of the round trip.
func (c *ServerClock) Sync(ctx context.Context) error {
	sent := c.local()
	serverMs, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	recv := c.local()
	rtt := recv.Sub(sent)
	if rtt > c.maxRTT {
		c.logger.Debug().Dur("rtt", rtt).Msg("clock sample discarded")
		return nil
	}
	mid := sent.Add(rtt / 2)
	offset := time.UnixMilli(serverMs).Sub(mid)

	c.mu.Lock()
	c.offset, c.synced = offset, true
	c.mu.Unlock()
	c.logger.Debug().Dur("offset", offset).Dur("rtt", rtt).Msg("clock synced")
	return nil
}

// Millis returns the estimated venue time in milliseconds, or local time
// before the first accepted sample.
func (c *ServerClock) Millis() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.local().Add(c.offset).UnixMilli()
}

// Offset is server minus local time.
func (c *ServerClock) Offset() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Synced reports whether a sample has been accepted.
func (c *ServerClock) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}
