package executor

import (
	"fmt"
	"time"
)

// State is a task lifecycle state.
type State string

const (
	StatePending      State = "pending"
	StateRunning      State = "running"
	StateRetryWait    State = "retry_wait"
	StateSucceeded    State = "succeeded"
	StateQuotaBlocked State = "quota_blocked"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateQuotaBlocked || s == StateFailed
}

var transitions = map[State][]State{
	StatePending:   {StateRunning},
	StateRunning:   {StateSucceeded, StateRetryWait, StateQuotaBlocked, StateFailed, StatePending},
	StateRetryWait: {StateRunning, StatePending},
}

// CanTransition reports whether from -> to is allowed. Returning to pending
// from running or retry_wait happens only when the caller cancels.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition records one state change.
type Transition struct {
	From    State
	To      State
	Attempt int
	At      time.Time
	Reason  string
}

// Task tracks one provider call lifecycle.
type Task struct {
	ID        string
	Subsystem string
	Attempts  int
	State     State
	History   []Transition
}

// NewTask returns a pending task.
func NewTask(id, subsystem string) *Task {
	return &Task{ID: id, Subsystem: subsystem, State: StatePending}
}

func (t *Task) moveTo(to State, at time.Time, reason string) error {
	if t.State == "" {
		t.State = StatePending
	}
	if !CanTransition(t.State, to) {
		return fmt.Errorf("task %s: invalid transition %s -> %s", t.ID, t.State, to)
	}
	t.History = append(t.History, Transition{From: t.State, To: to, Attempt: t.Attempts, At: at, Reason: reason})
	t.State = to
	return nil
}

// States returns the sequence of states the task has passed through,
// starting with its initial state.
func (t *Task) States() []State {
	if len(t.History) == 0 {
		return []State{t.State}
	}
	out := []State{t.History[0].From}
	for _, tr := range t.History {
		out = append(out, tr.To)
	}
	return out
}
