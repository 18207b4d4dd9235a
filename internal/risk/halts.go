package risk

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotHalted = errors.New("instrument is not halted")

// Halt records why automated trading stopped for an instrument.
type Halt struct {
	Instrument string    `json:"instrument"`
	Reason     string    `json:"reason"`
	Since      time.Time `json:"since"`
}

// HaltBook holds halted instruments until an operator acknowledges them.
type HaltBook struct {
	mu    sync.RWMutex
	halts map[string]Halt
	now   func() time.Time
}

// NewHaltBook creates an empty book.
func NewHaltBook() *HaltBook {
	return &HaltBook{halts: make(map[string]Halt), now: time.Now}
}

// Halt stops trading on instrument. A repeated halt keeps the first record.
func (b *HaltBook) Halt(instrument, reason string) Halt {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.halts[instrument]; ok {
		return h
	}
	h := Halt{Instrument: instrument, Reason: reason, Since: b.now()}
	b.halts[instrument] = h
	return h
}

// Restore reinstates halts loaded from the journal at startup.
func (b *HaltBook) Restore(halts ...Halt) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range halts {
		if _, ok := b.halts[h.Instrument]; !ok {
			b.halts[h.Instrument] = h
		}
	}
}

// IsHalted reports whether instrument is halted.
func (b *HaltBook) IsHalted(instrument string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.halts[instrument]
	return ok
}

// Acknowledge lifts the halt for instrument.
func (b *HaltBook) Acknowledge(instrument string) (Halt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.halts[instrument]
	if !ok {
		return Halt{}, ErrNotHalted
	}
	delete(b.halts, instrument)
	return h, nil
}

// List returns every halt ordered by instrument.
func (b *HaltBook) List() []Halt {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Halt, 0, len(b.halts))
	for _, h := range b.halts {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// Len returns the number of halted instruments.
func (b *HaltBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.halts)
}
