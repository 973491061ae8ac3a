// Package quota tracks provider calls against per-minute budgets.
//
// The Tracker is the only shared mutable state between concurrently running
// sources. Reservations never block: when a subsystem's budget for the
// current minute is spent, Reserve returns an *ExhaustedError and the caller
// is expected to checkpoint and stop.
package quota

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"chronicler/internal/services"
)

// Window is the length of one budget period.
const Window = time.Minute

// State is a point-in-time view of one subsystem's budget.
type State struct {
	Subsystem      string
	CallsMade      int
	WindowStart    time.Time
	LimitPerMinute int
}

// Unlimited reports whether the subsystem has no budget.
func (s State) Unlimited() bool { return s.LimitPerMinute <= 0 }

// Remaining returns the calls left this minute, or -1 when unlimited.
func (s State) Remaining() int {
	if s.Unlimited() {
		return -1
	}
	return max(s.LimitPerMinute-s.CallsMade, 0)
}

// ExhaustedError is returned when a subsystem has no calls left.
type ExhaustedError struct {
	Subsystem string
	Limit     int
	ResetAt   time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("quota exhausted for %s: %d calls per minute used, resets at %s",
		e.Subsystem, e.Limit, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *ExhaustedError) Is(target error) bool { return target == services.ErrQuotaExhausted }

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(t *Tracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLimit sets a budget for one subsystem, overriding the default.
func WithLimit(subsystem string, perMinute int) Option {
	return func(t *Tracker) {
		t.limits[subsystem] = perMinute
	}
}

// Tracker serializes access to every subsystem's counter.
type Tracker struct {
	mu           sync.Mutex
	clock        func() time.Time
	defaultLimit int
	limits       map[string]int
	states       map[string]*State
}

// NewTracker returns a tracker where every subsystem gets perMinute calls
// unless overridden. A limit of zero or less means unlimited.
func NewTracker(perMinute int, opts ...Option) *Tracker {
	t := &Tracker{
		clock:        time.Now,
		defaultLimit: perMinute,
		limits:       make(map[string]int),
		states:       make(map[string]*State),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Reserve consumes one call from subsystem's budget.
func (t *Tracker) Reserve(subsystem string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.stateLocked(subsystem)
	if state.Unlimited() {
		state.CallsMade++
		return nil
	}
	if state.CallsMade >= state.LimitPerMinute {
		return &ExhaustedError{
			Subsystem: subsystem,
			Limit:     state.LimitPerMinute,
			ResetAt:   state.WindowStart.Add(Window),
		}
	}
	state.CallsMade++
	return nil
}

// Snapshot returns the current state of subsystem.
func (t *Tracker) Snapshot(subsystem string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.stateLocked(subsystem)
}

// Snapshots returns every subsystem seen so far, sorted by name.
func (t *Tracker) Snapshots() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]State, 0, len(t.states))
	for name := range t.states {
		out = append(out, *t.stateLocked(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subsystem < out[j].Subsystem })
	return out
}

func (t *Tracker) stateLocked(subsystem string) *State {
	now := t.clock()
	state, ok := t.states[subsystem]
	if !ok {
		limit, overridden := t.limits[subsystem]
		if !overridden {
			limit = t.defaultLimit
		}
		state = &State{Subsystem: subsystem, WindowStart: now, LimitPerMinute: limit}
		t.states[subsystem] = state
		return state
	}
	if now.Sub(state.WindowStart) >= Window {
		state.CallsMade = 0
		state.WindowStart = now
	}
	return state
}
