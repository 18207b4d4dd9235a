package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNotReserved       = errors.New("instrument has no pending reservation")
	ErrInvalidTrade      = errors.New("invalid trade")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrUnknownTrade      = errors.New("no trade for instrument")
)

// Registry is the authoritative in-process record of open and pending trades,
// keyed by instrument. One mutex serializes every operation.
type Registry struct {
	mu     sync.Mutex
	max    int
	trades map[string]*ActiveTrade
}

// NewRegistry creates a registry admitting at most maxConcurrent non-CLOSED trades.
func NewRegistry(maxConcurrent int) *Registry {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Registry{max: maxConcurrent, trades: make(map[string]*ActiveTrade)}
}

// TryReserve places a PENDING_ENTRY placeholder for instrument when it has no
// entry and capacity remains.
func (r *Registry) TryReserve(instrument string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.trades[instrument]; exists {
		return false
	}
	if r.activeLocked() >= r.max {
		return false
	}
	r.trades[instrument] = &ActiveTrade{Instrument: instrument, State: PendingEntry}
	return true
}

// Commit replaces the placeholder with the sequenced trade. ACTIVE trades must
// have consistent levels; CLOSING trades record an unmanaged position.
func (r *Registry) Commit(instrument string, t ActiveTrade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.trades[instrument]
	if !ok || cur.State != PendingEntry {
		return fmt.Errorf("commit %s: %w", instrument, ErrNotReserved)
	}
	if t.Instrument != instrument || !t.Direction.Valid() || !t.Quantity.IsPositive() {
		return fmt.Errorf("commit %s: %w", instrument, ErrInvalidTrade)
	}
	switch t.State {
	case Active:
		if err := CheckLevels(t.Direction, t.EntryPrice, t.StopLoss, t.TakeProfit); err != nil {
			return fmt.Errorf("commit %s: %w: %v", instrument, ErrInvalidTrade, err)
		}
	case Closing:
	default:
		return fmt.Errorf("commit %s in state %s: %w", instrument, t.State, ErrInvalidTrade)
	}
	cp := t
	r.trades[instrument] = &cp
	return nil
}

// Release removes the entry for instrument, whatever its state.
func (r *Registry) Release(instrument string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.trades, instrument)
}

// Get returns a copy of the entry for instrument.
func (r *Registry) Get(instrument string) (ActiveTrade, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trades[instrument]
	if !ok {
		return ActiveTrade{}, false
	}
	return *t, true
}

// Transition moves instrument from one state to another along a legal edge.
func (r *Registry) Transition(instrument string, from, to State) (ActiveTrade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trades[instrument]
	if !ok {
		return ActiveTrade{}, fmt.Errorf("transition %s: %w", instrument, ErrUnknownTrade)
	}
	if t.State != from || !CanTransition(from, to) {
		return ActiveTrade{}, fmt.Errorf("%s %s -> %s (current %s): %w", instrument, from, to, t.State, ErrIllegalTransition)
	}
	t.State = to
	return *t, nil
}

// Update applies fn to the entry for instrument. fn must not change the
// instrument or state; those edits are discarded.
func (r *Registry) Update(instrument string, fn func(*ActiveTrade)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trades[instrument]
	if !ok {
		return fmt.Errorf("update %s: %w", instrument, ErrUnknownTrade)
	}
	cp := *t
	fn(&cp)
	cp.Instrument = t.Instrument
	cp.State = t.State
	*t = cp
	return nil
}

// Snapshot returns copies of every entry ordered by instrument.
func (r *Registry) Snapshot() []ActiveTrade {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActiveTrade, 0, len(r.trades))
	for _, t := range r.trades {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// Len counts every entry including placeholders.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trades)
}

// ActiveCount counts entries not yet CLOSED.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeLocked()
}

// Max returns the configured capacity.
func (r *Registry) Max() int { return r.max }

func (r *Registry) activeLocked() int {
	n := 0
	for _, t := range r.trades {
		if t.State != Closed {
			n++
		}
	}
	return n
}
