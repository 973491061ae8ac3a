package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"chronicler/internal/anonymize"
	"chronicler/internal/checkpoint"
	"chronicler/internal/config"
	"chronicler/internal/enrich"
	"chronicler/internal/executor"
	"chronicler/internal/logging"
	"chronicler/internal/privacy"
	"chronicler/internal/quota"
	"chronicler/internal/services"
	"chronicler/internal/sink"
	"chronicler/internal/transcript"
	"chronicler/internal/window"
)

// SubsystemProvider is the quota subsystem shared by generation and
// enrichment calls, since both hit the same provider.
const SubsystemProvider = "provider"

const reasonCommitFailed = "commit_failed"

var errCommit = errors.New("commit window")

// Provider generates text from a payload that passed the privacy gate.
type Provider interface {
	Generate(ctx context.Context, payload privacy.Payload) (string, error)
}

// Request names one transcript to process.
type Request struct {
	RunID      string
	Source     transcript.Source
	SourceName string
	// SourceKey identifies the transcript across invocations, typically its
	// absolute path. It defaults to SourceName. Resuming a run with a
	// different key is a validation error.
	SourceKey string
}

func (r Request) sourceKey() string {
	if r.SourceKey != "" {
		return r.SourceKey
	}
	return r.SourceName
}

// Runner drives transcripts through anonymization, windowing, enrichment,
// generation, and checkpointing. One Runner may serve many concurrent runs;
// they share its quota tracker and enrichment cache.
type Runner struct {
	cfg      *config.Config
	store    *checkpoint.Store
	provider Provider
	sink     sink.Sink
	tracker  *quota.Tracker
	cache    *enrich.Cache
	logger   *slog.Logger
	clock    func() time.Time
	execOpts []executor.Option
}

// Option customizes a Runner.
type Option func(*Runner)

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracker shares a quota tracker instead of building one from config.
func WithTracker(tracker *quota.Tracker) Option {
	return func(r *Runner) {
		r.tracker = tracker
	}
}

// WithCache shares an enrichment cache instead of building one from config.
func WithCache(cache *enrich.Cache) Option {
	return func(r *Runner) {
		r.cache = cache
	}
}

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(r *Runner) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithExecutorOptions forwards options to every executor the runner builds.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(r *Runner) {
		r.execOpts = append(r.execOpts, opts...)
	}
}

// NewRunner wires a runner. When enrichment is enabled and no cache was
// supplied, the cache is backed by the checkpoint store.
func NewRunner(cfg *config.Config, store *checkpoint.Store, provider Provider, out sink.Sink, opts ...Option) *Runner {
	r := &Runner{
		cfg:      cfg,
		store:    store,
		provider: provider,
		sink:     out,
		logger:   logging.NewNop(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracker == nil && cfg != nil {
		r.tracker = quota.NewTracker(cfg.Quota.CallsPerMinute, quota.WithClock(r.clock))
	}
	if r.cache == nil && cfg != nil && cfg.Enrichment.Enabled {
		cacheOpts := []enrich.CacheOption{enrich.WithCacheClock(r.clock), enrich.WithCacheLogger(r.logger)}
		if store != nil {
			cacheOpts = append(cacheOpts, enrich.WithBacking(store))
		}
		r.cache = enrich.NewCache(cfg.EnrichmentTTL(), cfg.Enrichment.MaxConcurrent, cacheOpts...)
	}
	r.logger = logging.NewComponentLogger(r.logger, "pipeline")
	return r
}

// runState holds what one run needs after preparation.
type runState struct {
	runID    string
	logger   *slog.Logger
	gate     *privacy.Gate
	exec     *executor.Executor
	enricher *enrich.Enricher
	windows  []window.Window
}

// Run processes one transcript. Windows that already succeeded are skipped.
// Quota exhaustion and cancellation halt the run with the unfinished windows
// left pending; fatal authentication and validation errors abort it. Any
// other window failure is recorded and the run moves on. The returned report
// is non-nil whenever the run got as far as loading its checkpoint.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	if err := r.validate(req); err != nil {
		return nil, err
	}
	ctx = services.WithRunID(ctx, req.RunID)
	ctx = services.WithSource(ctx, req.SourceName)
	logger := logging.WithContext(ctx, r.logger)

	lock, err := checkpoint.AcquireRunLock(r.cfg.Paths.StateDir, req.RunID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release run lock", logging.Error(err))
		}
	}()

	report := &Report{RunID: req.RunID, Source: req.SourceName, StartedAt: r.clock()}
	defer r.finish(report)

	cp, created, err := r.store.LoadOrInit(ctx, req.RunID,
		checkpoint.RunSource{Name: req.SourceName, Key: req.sourceKey()}, r.cfg.Anonymization.Salt)
	if err != nil {
		return nil, err
	}
	report.Created = created
	logger.Info(
		"run started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.Bool("resumed", !created),
		logging.Int("succeeded_windows", len(cp.SucceededWindowIDs)),
	)

	rs, identities, err := r.prepare(ctx, req, cp)
	if err != nil {
		return report, err
	}
	report.Identities = identities

	report.Windows = make([]WindowOutcome, len(rs.windows))
	for i, w := range rs.windows {
		report.Windows[i] = WindowOutcome{
			WindowID: w.ID,
			Index:    w.Index,
			Start:    w.Start,
			End:      w.End,
			Messages: len(w.Messages),
		}
		if slices.Contains(cp.SucceededWindowIDs, w.ID) {
			report.Windows[i].Outcome = OutcomeResumed
		}
	}

	for i, w := range rs.windows {
		out := &report.Windows[i]
		if out.Outcome == OutcomeResumed {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Halted = true
			report.HaltReason = services.ReasonCanceled
			report.markRemaining(i, services.ReasonCanceled)
			return report, err
		}

		winErr := r.processWindow(ctx, rs, w, out)
		if winErr == nil {
			continue
		}
		stop, runErr := r.settle(ctx, rs, w, out, report, winErr)
		if stop {
			report.markRemaining(i+1, "")
			return report, runErr
		}
	}

	logger.Info(
		"run completed",
		logging.String(logging.FieldEventType, "run_complete"),
		logging.Int("windows", len(report.Windows)),
		logging.Int("succeeded", report.Count(OutcomeSucceeded)),
		logging.Int("resumed", report.Count(OutcomeResumed)),
		logging.Int("failed", report.Count(OutcomeFailed)),
	)
	return report, nil
}

func (r *Runner) validate(req Request) error {
	if r.cfg == nil || r.store == nil || r.provider == nil || r.sink == nil {
		return services.Validation("pipeline", "runner requires config, store, provider, and sink")
	}
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	if err := checkpoint.ValidateRunID(req.RunID); err != nil {
		return err
	}
	if req.Source == nil {
		return services.Validation("pipeline", "transcript source is required")
	}
	return nil
}

// prepare reads the transcript, extends the persisted identity mapping,
// anonymizes every message, and registers the planned windows.
func (r *Runner) prepare(ctx context.Context, req Request, cp checkpoint.Checkpoint) (*runState, int, error) {
	messages, err := transcript.Drain(ctx, req.Source)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, services.ErrValidation) {
			return nil, 0, err
		}
		return nil, 0, services.Wrap(services.ErrValidation, "pipeline", "read transcript", req.SourceName, err)
	}

	fixed, err := r.store.Identities(ctx, req.RunID)
	if err != nil {
		return nil, 0, err
	}
	builder := anonymize.NewBuilder(cp.Salt, fixed)
	builder.Add(anonymize.CollectIdentifiers(messages, r.cfg.Anonymization.ExtraIdentifiers)...)
	mapping := builder.Build()
	if err := r.store.SaveIdentities(ctx, req.RunID, mapping.NewEntries()); err != nil {
		return nil, 0, err
	}
	anonymized := anonymize.AnonymizeMessages(messages, mapping)

	unit, err := window.ParseUnit(r.cfg.Windowing.Unit)
	if err != nil {
		return nil, 0, services.Wrap(services.ErrValidation, "pipeline", "window policy", "", err)
	}
	windows, err := window.Plan(anonymized, window.Policy{
		Unit:     unit,
		Size:     r.cfg.Windowing.Size,
		MaxBytes: r.cfg.Windowing.MaxBytes,
		Location: r.cfg.Location(),
	})
	if err != nil {
		return nil, 0, err
	}
	if err := r.store.RegisterWindows(ctx, req.RunID, windows); err != nil {
		return nil, 0, err
	}
	logger := logging.WithRedaction(r.logger, mapping.Redact)
	logging.WithContext(ctx, logger).Debug(
		"transcript prepared",
		logging.Int("messages", len(messages)),
		logging.Int("identities", mapping.Len()),
		logging.Int("windows", len(windows)),
	)

	attempts, minBackoff, maxBackoff := r.cfg.RetryPolicy()
	execOpts := append([]executor.Option{executor.WithLogger(logger), executor.WithClock(r.clock)}, r.execOpts...)
	rs := &runState{
		runID:  req.RunID,
		logger: logger,
		gate:   privacy.NewGate(mapping),
		exec: executor.New(executor.Policy{
			MaxAttempts: attempts,
			MinBackoff:  minBackoff,
			MaxBackoff:  maxBackoff,
			CallTimeout: r.cfg.ProviderTimeout(),
		}, r.tracker, execOpts...),
		windows: windows,
	}
	if r.cache != nil {
		rs.enricher = enrich.NewEnricher(r.cache, r.summarizer(rs), r.cfg.Enrichment.MaxURLsPerWindow,
			enrich.WithEnricherLogger(logger))
	}
	return rs, mapping.Len(), nil
}

func (r *Runner) processWindow(ctx context.Context, rs *runState, w window.Window, out *WindowOutcome) error {
	started := r.clock()
	defer func() { out.Duration = r.clock().Sub(started) }()

	ctx = services.WithWindowID(ctx, w.ID)
	logger := logging.WithContext(ctx, rs.logger)
	logger.Info(
		"window started",
		logging.String(logging.FieldEventType, "window_start"),
		logging.Int("index", w.Index),
		logging.Int("messages", len(w.Messages)),
	)
	if err := r.store.MarkWindow(ctx, rs.runID, w.ID, window.StatusRunning, "", 0); err != nil {
		return fmt.Errorf("%w: %w", errCommit, err)
	}

	links, err := rs.enricher.Enrich(ctx, w.Messages)
	if err != nil {
		return err
	}
	payload, err := rs.gate.Seal(r.cfg.Provider.SystemPrompt, windowPrompt(w, links))
	if err != nil {
		return err
	}

	task := executor.NewTask(rs.runID+"/"+w.ID, SubsystemProvider)
	text, err := rs.exec.Execute(ctx, task, r.call(payload))
	out.Attempts = task.Attempts
	if err != nil {
		return err
	}

	// The provider call is paid for; finish the commit even if the run is
	// being cancelled.
	commitCtx := context.WithoutCancel(ctx)
	receipt, err := r.sink.Emit(commitCtx, sink.Artifact{
		RunID:       rs.runID,
		WindowID:    w.ID,
		Index:       w.Index,
		Start:       w.Start,
		End:         w.End,
		Text:        text,
		Transcript:  w.Messages,
		Links:       links,
		Model:       r.cfg.Provider.Model,
		GeneratedAt: r.clock(),
	})
	if err != nil {
		return fmt.Errorf("%w: emit artifact: %w", errCommit, err)
	}
	if err := r.store.CommitWindow(commitCtx, rs.runID, checkpoint.Artifact{
		WindowID:     w.ID,
		Index:        w.Index,
		Start:        w.Start,
		End:          w.End,
		MessageCount: len(w.Messages),
		Path:         receipt.Path,
		SHA256:       receipt.SHA256,
	}, task.Attempts); err != nil {
		return fmt.Errorf("%w: %w", errCommit, err)
	}

	out.Outcome = OutcomeSucceeded
	out.ArtifactPath = receipt.Path
	logger.Info(
		"window completed",
		logging.String(logging.FieldEventType, "window_complete"),
		logging.Int("attempts", task.Attempts),
		logging.Int("links", len(links)),
		logging.String("artifact", receipt.Path),
		logging.Duration("window_duration", r.clock().Sub(started)),
	)
	return nil
}

// settle records a window failure and decides whether the run stops.
func (r *Runner) settle(ctx context.Context, rs *runState, w window.Window, out *WindowOutcome, report *Report, winErr error) (bool, error) {
	logger := logging.WithContext(services.WithWindowID(ctx, w.ID), rs.logger)
	reason := services.Classify(winErr)
	out.Reason = reason

	switch {
	case errors.Is(winErr, context.Canceled) || ctx.Err() != nil:
		out.Outcome = OutcomePending
		out.Reason = services.ReasonCanceled
		r.mark(ctx, rs, w.ID, window.StatusPending, services.ReasonCanceled, out.Attempts)
		report.Halted = true
		report.HaltReason = services.ReasonCanceled
		logger.Info("run interrupted", logging.String(logging.FieldEventType, "run_canceled"))
		if err := ctx.Err(); err != nil {
			return true, err
		}
		return true, winErr

	case errors.Is(winErr, services.ErrQuotaExhausted):
		out.Outcome = OutcomePending
		r.mark(ctx, rs, w.ID, window.StatusPending, reason, out.Attempts)
		report.Halted = true
		report.HaltReason = reason
		logging.WarnWithContext(logger, "provider quota exhausted; run halted", "quota_halt",
			logging.Error(winErr),
			logging.String(logging.FieldErrorHint, "resume the run once the quota window resets"),
			logging.String(logging.FieldImpact, "this and later windows stay pending"),
		)
		return true, nil

	case errors.Is(winErr, errCommit):
		out.Outcome = OutcomeFailed
		out.Reason = reasonCommitFailed
		r.mark(ctx, rs, w.ID, window.StatusFailed, reasonCommitFailed, out.Attempts)
		report.Aborted = true
		report.HaltReason = reasonCommitFailed
		logging.ErrorWithContext(logger, "failed to record window result; run aborted", "commit_failure",
			logging.Error(winErr),
			logging.String(logging.FieldErrorHint, "check the state directory; run checkpoint rebuild to recover written artifacts"),
		)
		return true, winErr

	case services.AbortsRun(winErr):
		out.Outcome = OutcomeFailed
		r.mark(ctx, rs, w.ID, window.StatusFailed, reason, out.Attempts)
		report.Aborted = true
		report.HaltReason = reason
		logging.ErrorWithContext(logger, "run aborted", "run_abort",
			logging.String("reason", reason),
			logging.Error(winErr),
			logging.String(logging.FieldErrorHint, abortHint(winErr)),
		)
		return true, winErr

	default:
		out.Outcome = OutcomeFailed
		r.mark(ctx, rs, w.ID, window.StatusFailed, reason, out.Attempts)
		logging.ErrorWithContext(logger, "window failed", "window_failure",
			logging.String("reason", reason),
			logging.Int("attempts", out.Attempts),
			logging.Error(winErr),
			logging.String(logging.FieldErrorHint, "the window is retried when the run is resumed"),
		)
		return false, nil
	}
}

func abortHint(err error) string {
	if errors.Is(err, services.ErrFatalAuth) {
		return "check provider.api_key or the CHRONICLER_API_KEY environment variable"
	}
	return "fix the configuration or input and resume the run"
}

// mark persists a window status without letting cancellation lose it.
func (r *Runner) mark(ctx context.Context, rs *runState, windowID string, status window.Status, reason string, attempts int) {
	if err := r.store.MarkWindow(context.WithoutCancel(ctx), rs.runID, windowID, status, reason, attempts); err != nil {
		logging.WithContext(ctx, rs.logger).Error("failed to persist window status",
			logging.String(logging.FieldWindowID, windowID),
			logging.String("status", string(status)),
			logging.Error(err),
		)
	}
}

// call tags every attempt with its own correlation ID.
func (r *Runner) call(payload privacy.Payload) executor.Call {
	return func(ctx context.Context) (string, error) {
		return r.provider.Generate(services.WithRequestID(ctx, uuid.NewString()), payload)
	}
}

// summarizer resolves one URL with a provider call that passes the same gate
// and quota as generation.
func (r *Runner) summarizer(rs *runState) enrich.Summarizer {
	return func(ctx context.Context, req enrich.Request) (string, error) {
		payload, err := rs.gate.Seal(enrichmentSystemPrompt, urlPrompt(req))
		if err != nil {
			return "", err
		}
		task := executor.NewTask(rs.runID+"/"+req.Fingerprint, SubsystemProvider)
		return rs.exec.Execute(ctx, task, r.call(payload))
	}
}

func (r *Runner) finish(report *Report) {
	report.FinishedAt = r.clock()
	if r.tracker != nil {
		report.Quota = r.tracker.Snapshots()
	}
	if r.cache != nil {
		report.Enrichment = r.cache.Stats()
	}
}
