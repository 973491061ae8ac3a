// Package executor runs provider calls through an explicit retry state
// machine.
//
// Each call is a Task that moves through pending, running, retry_wait,
// succeeded, quota_blocked and failed according to a fixed transition table.
// Before every attempt the executor reserves one call from the shared quota
// tracker; an empty budget ends the task in quota_blocked instead of waiting
// for the reset. Transient failures, including per-call timeouts, back off
// exponentially with equal jitter and honour provider Retry-After hints up to
// the configured cap. Every transition is recorded in the task history so
// tests can assert on behaviour without stubbing timers.
package executor
