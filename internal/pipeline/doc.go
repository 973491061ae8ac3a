// Package pipeline turns chat transcripts into per-window chronicle
// artifacts.
//
// A Runner processes one transcript per run: it extends the run's persisted
// identity mapping, anonymizes every message, plans windows, and then walks
// the windows in order. Each window is optionally enriched with URL
// summaries, sealed by the privacy gate, generated through the retrying
// executor, written to the sink, and committed to the checkpoint. Windows that
// already succeeded are skipped, which is what makes a rerun a resume.
//
// Quota exhaustion halts a run cleanly with the remaining windows pending.
// Fatal authentication errors abort it. Every other window failure is
// recorded with its reason and the run moves on.
//
// Pool runs independent transcripts concurrently through a shared Runner.
package pipeline
