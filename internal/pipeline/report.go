package pipeline

import (
	"time"

	"chronicler/internal/enrich"
	"chronicler/internal/quota"
)

// Outcome is what happened to a window during one run.
type Outcome string

const (
	// OutcomeSucceeded means the window was generated and committed in this run.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeResumed means the window had already succeeded in an earlier run.
	OutcomeResumed Outcome = "resumed"
	// OutcomeFailed means the window failed and is retried on the next resume.
	OutcomeFailed Outcome = "failed"
	// OutcomePending means the run halted before the window finished.
	OutcomePending Outcome = "pending"
)

// WindowOutcome records the result for a single window.
type WindowOutcome struct {
	WindowID     string
	Index        int
	Start        time.Time
	End          time.Time
	Messages     int
	Outcome      Outcome
	Reason       string
	Attempts     int
	ArtifactPath string
	Duration     time.Duration
}

// Report summarizes one run. A halted run (quota or cancellation) leaves
// its unfinished windows pending; an aborted run stopped on an error no
// window could recover from.
type Report struct {
	RunID      string
	Source     string
	Created    bool
	Identities int
	Windows    []WindowOutcome
	Halted     bool
	Aborted    bool
	HaltReason string
	Quota      []quota.State
	Enrichment enrich.Stats
	StartedAt  time.Time
	FinishedAt time.Time
}

// Count returns how many windows ended with outcome o.
func (r *Report) Count(o Outcome) int {
	if r == nil {
		return 0
	}
	n := 0
	for _, w := range r.Windows {
		if w.Outcome == o {
			n++
		}
	}
	return n
}

// Indexes returns the 1-based indexes of windows that ended with outcome o.
func (r *Report) Indexes(o Outcome) []int {
	if r == nil {
		return nil
	}
	var out []int
	for _, w := range r.Windows {
		if w.Outcome == o {
			out = append(out, w.Index)
		}
	}
	return out
}

// Complete reports whether every window has succeeded, in this run or an
// earlier one.
func (r *Report) Complete() bool {
	if r == nil {
		return false
	}
	return r.Count(OutcomeSucceeded)+r.Count(OutcomeResumed) == len(r.Windows)
}

func (r *Report) markRemaining(from int, reason string) {
	for i := from; i < len(r.Windows); i++ {
		if r.Windows[i].Outcome == "" {
			r.Windows[i].Outcome = OutcomePending
			if r.Windows[i].Reason == "" {
				r.Windows[i].Reason = reason
			}
		}
	}
}
