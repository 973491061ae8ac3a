package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"chronicler/internal/logging"
	"chronicler/internal/quota"
	"chronicler/internal/services"
)

const (
	defaultMinBackoff  = time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultCallTimeout = 60 * time.Second
)

// Policy bounds retries for one executor.
type Policy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	CallTimeout time.Duration
}

// Call performs one provider request.
type Call func(ctx context.Context) (string, error)

// Executor applies quota and retry discipline to provider calls. It is safe
// for concurrent use as long as each Task is driven by one goroutine.
type Executor struct {
	policy  Policy
	tracker *quota.Tracker
	logger  *slog.Logger
	clock   func() time.Time
	sleeper func(context.Context, time.Duration) error
	jitter  func(n int64) int64
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logging.NewComponentLogger(logger, "executor")
	}
}

// WithSleeper overrides how backoff waits are performed (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(e *Executor) {
		if sleeper != nil {
			e.sleeper = sleeper
		}
	}
}

// WithJitter overrides the random source used for backoff jitter. jitter(n)
// must return a value in [0, n).
func WithJitter(jitter func(n int64) int64) Option {
	return func(e *Executor) {
		if jitter != nil {
			e.jitter = jitter
		}
	}
}

// WithClock replaces time.Now for transition timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Executor) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New constructs an executor. tracker may be shared between executors.
func New(policy Policy, tracker *quota.Tracker, opts ...Option) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.MinBackoff <= 0 {
		policy.MinBackoff = defaultMinBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = defaultMaxBackoff
	}
	if policy.MaxBackoff < policy.MinBackoff {
		policy.MaxBackoff = policy.MinBackoff
	}
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = defaultCallTimeout
	}
	if tracker == nil {
		tracker = quota.NewTracker(0)
	}
	e := &Executor{
		policy:  policy,
		tracker: tracker,
		logger:  logging.NewComponentLogger(nil, "executor"),
		clock:   time.Now,
		sleeper: sleepContext,
		jitter:  rand.Int64N,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute drives task to a terminal state, or back to pending when ctx is
// cancelled. It returns the call's output on success.
func (e *Executor) Execute(ctx context.Context, task *Task, call Call) (string, error) {
	if task == nil || call == nil {
		return "", errors.New("executor: task and call are required")
	}
	if task.State.Terminal() {
		return "", fmt.Errorf("executor: task %s already %s", task.ID, task.State)
	}
	logger := logging.WithContext(ctx, e.logger).With(logging.String("task_id", task.ID))

	for {
		if err := ctx.Err(); err != nil {
			return "", e.abandon(task, err)
		}
		if err := task.moveTo(StateRunning, e.clock(), ""); err != nil {
			return "", err
		}
		if err := e.tracker.Reserve(task.Subsystem); err != nil {
			_ = task.moveTo(StateQuotaBlocked, e.clock(), services.ReasonQuotaExhausted)
			logger.Info("provider quota exhausted",
				logging.String(logging.FieldEventType, "quota_exhausted"),
				logging.String("subsystem", task.Subsystem),
				logging.Int("attempts", task.Attempts),
			)
			return "", err
		}
		task.Attempts++

		output, err := e.invoke(ctx, call)
		if err == nil {
			_ = task.moveTo(StateSucceeded, e.clock(), "")
			return output, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", e.abandon(task, ctxErr)
		}
		if !services.IsRetryable(err) {
			_ = task.moveTo(StateFailed, e.clock(), services.Classify(err))
			return "", err
		}
		if task.Attempts >= e.policy.MaxAttempts {
			_ = task.moveTo(StateFailed, e.clock(), services.ReasonRetriesExhausted)
			return "", services.Wrap(services.ErrRetriesExhausted, "executor", task.ID,
				fmt.Sprintf("failed after %d attempts", task.Attempts), err)
		}

		delay := e.backoff(task.Attempts, err)
		_ = task.moveTo(StateRetryWait, e.clock(), err.Error())
		logger.Debug("provider call retry scheduled",
			logging.Int("attempt", task.Attempts),
			logging.Int("max_attempts", e.policy.MaxAttempts),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := e.sleeper(ctx, delay); err != nil {
			return "", e.abandon(task, err)
		}
	}
}

func (e *Executor) invoke(ctx context.Context, call Call) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.policy.CallTimeout)
	defer cancel()

	type result struct {
		output string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := call(callCtx)
		done <- result{output: output, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}
	if res.err == nil {
		return res.output, nil
	}
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !services.IsRetryable(res.err) {
		return "", services.Wrap(services.ErrRetryable, "executor", "call",
			fmt.Sprintf("timed out after %s", e.policy.CallTimeout), res.err)
	}
	return "", res.err
}

func (e *Executor) abandon(task *Task, cause error) error {
	if task.State == StateRunning || task.State == StateRetryWait {
		_ = task.moveTo(StatePending, e.clock(), services.ReasonCanceled)
	}
	return fmt.Errorf("task %s abandoned: %w", task.ID, cause)
}

// backoff returns the wait before the next attempt. attempt is the number of
// attempts made so far.
func (e *Executor) backoff(attempt int, err error) time.Duration {
	if hint, ok := services.RetryAfterHint(err); ok {
		return min(hint, e.policy.MaxBackoff)
	}
	base := e.policy.MinBackoff
	for i := 1; i < attempt; i++ {
		if base > e.policy.MaxBackoff/2 {
			base = e.policy.MaxBackoff
			break
		}
		base *= 2
	}
	base = min(base, e.policy.MaxBackoff)
	half := base / 2
	return half + time.Duration(e.jitter(int64(base-half)+1))
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
