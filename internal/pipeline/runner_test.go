package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chronicler/internal/checkpoint"
	"chronicler/internal/config"
	"chronicler/internal/executor"
	"chronicler/internal/privacy"
	"chronicler/internal/quota"
	"chronicler/internal/services"
	"chronicler/internal/sink"
	"chronicler/internal/testsupport"
	"chronicler/internal/transcript"
	"chronicler/internal/window"
)

var day0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func noSleep(context.Context, time.Duration) error { return nil }

func fixedClock() time.Time { return day0 }

func newTestRunner(t *testing.T, cfg *config.Config, store *checkpoint.Store, provider Provider, out sink.Sink, opts ...Option) *Runner {
	t.Helper()
	base := []Option{WithExecutorOptions(executor.WithSleeper(noSleep), executor.WithJitter(func(int64) int64 { return 0 }))}
	return NewRunner(cfg, store, provider, out, append(base, opts...)...)
}

func dailyRequest(runID string, days int) Request {
	msgs := testsupport.DailyMessages(day0, days, "Alice Example", "Bob Example")
	return Request{RunID: runID, Source: transcript.NewSliceSource(msgs), SourceName: runID + ".jsonl"}
}

func windowStatuses(t *testing.T, store *checkpoint.Store, runID string) map[int]window.Status {
	t.Helper()
	records, err := store.ListWindows(context.Background(), runID)
	if err != nil {
		t.Fatalf("ListWindows: %v", err)
	}
	out := make(map[int]window.Status, len(records))
	for _, rec := range records {
		out[rec.Index] = rec.Status
	}
	return out
}

func TestRunQuotaHaltThenResume(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWindow("days", 1), testsupport.WithSalt("fixed-salt"))
	store := testsupport.MustOpenStore(t, cfg)
	out := sink.NewMemory()

	first := testsupport.NewScriptedProvider()
	tracker := quota.NewTracker(2, quota.WithClock(fixedClock))
	runner := newTestRunner(t, cfg, store, first, out, WithTracker(tracker), WithClock(fixedClock))

	report, err := runner.Run(context.Background(), dailyRequest("family", 5))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Halted || report.HaltReason != services.ReasonQuotaExhausted {
		t.Fatalf("expected quota halt, got halted=%v reason=%q", report.Halted, report.HaltReason)
	}
	if got := report.Indexes(OutcomeSucceeded); !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("succeeded windows = %v, want [1 2]", got)
	}
	if got := report.Indexes(OutcomePending); !slices.Equal(got, []int{3, 4, 5}) {
		t.Fatalf("pending windows = %v, want [3 4 5]", got)
	}
	if first.Calls() != 2 {
		t.Fatalf("expected 2 provider calls, got %d", first.Calls())
	}
	statuses := windowStatuses(t, store, "family")
	for idx, want := range map[int]window.Status{1: window.StatusSucceeded, 2: window.StatusSucceeded, 3: window.StatusPending, 4: window.StatusPending, 5: window.StatusPending} {
		if statuses[idx] != want {
			t.Fatalf("window %d status = %s, want %s", idx, statuses[idx], want)
		}
	}
	if len(report.Quota) != 1 || report.Quota[0].CallsMade != 2 {
		t.Fatalf("unexpected quota snapshot %+v", report.Quota)
	}

	second := testsupport.NewScriptedProvider()
	resumed := newTestRunner(t, cfg, store, second, out, WithTracker(quota.NewTracker(0)))
	report, err = resumed.Run(context.Background(), dailyRequest("family", 5))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if second.Calls() != 3 {
		t.Fatalf("resume should only generate windows 3-5, got %d calls", second.Calls())
	}
	if got := report.Indexes(OutcomeResumed); !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("resumed windows = %v", got)
	}
	if got := report.Indexes(OutcomeSucceeded); !slices.Equal(got, []int{3, 4, 5}) {
		t.Fatalf("succeeded windows = %v", got)
	}
	if !report.Complete() {
		t.Fatal("expected run to be complete")
	}
	if report.Created {
		t.Fatal("resume must reuse the existing checkpoint")
	}
	if len(out.Artifacts("family")) != 5 {
		t.Fatalf("expected 5 artifacts, got %d", len(out.Artifacts("family")))
	}
}

func TestRunFailedWindowIsRetriedOnResume(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWindow("days", 1), testsupport.WithMaxAttempts(2))
	store := testsupport.MustOpenStore(t, cfg)
	out := sink.NewMemory()

	flaky := testsupport.NewFuncProvider(func(_ context.Context, call int, p privacy.Payload) (string, error) {
		if strings.Contains(p.User(), "Window 2 ") {
			return "", &services.ProviderError{Marker: services.ErrRetryable, StatusCode: 503}
		}
		return fmt.Sprintf("chronicle %d", call), nil
	})
	report, err := newTestRunner(t, cfg, store, flaky, out).Run(context.Background(), dailyRequest("retry", 3))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Indexes(OutcomeFailed); !slices.Equal(got, []int{2}) {
		t.Fatalf("failed windows = %v, want [2]", got)
	}
	if got := report.Indexes(OutcomeSucceeded); !slices.Equal(got, []int{1, 3}) {
		t.Fatalf("succeeded windows = %v, want [1 3]", got)
	}
	failed := report.Windows[1]
	if failed.Reason != services.ReasonRetriesExhausted || failed.Attempts != 2 {
		t.Fatalf("unexpected failed window %+v", failed)
	}
	rec, err := store.GetWindow(context.Background(), "retry", failed.WindowID)
	if err != nil {
		t.Fatalf("GetWindow: %v", err)
	}
	if rec.Status != window.StatusFailed || rec.Reason != services.ReasonRetriesExhausted || rec.Attempts != 2 {
		t.Fatalf("unexpected persisted window %+v", rec)
	}

	healthy := testsupport.NewScriptedProvider()
	report, err = newTestRunner(t, cfg, store, healthy, out).Run(context.Background(), dailyRequest("retry", 3))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if healthy.Calls() != 1 || !report.Complete() {
		t.Fatalf("expected only window 2 to be regenerated, calls=%d report=%+v", healthy.Calls(), report.Windows)
	}
}

func TestRunLogsRedactProviderEchoes(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWindow("days", 1), testsupport.WithMaxAttempts(1))
	store := testsupport.MustOpenStore(t, cfg)
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	echo := testsupport.NewFuncProvider(func(_ context.Context, call int, _ privacy.Payload) (string, error) {
		if call == 1 {
			return "", &services.ProviderError{Marker: services.ErrProvider, StatusCode: 400, Message: "rejected message about Alice Example"}
		}
		return "chronicle", nil
	})
	report, err := newTestRunner(t, cfg, store, echo, sink.NewMemory(), WithLogger(logger)).Run(context.Background(), dailyRequest("echo", 2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Indexes(OutcomeFailed); !slices.Equal(got, []int{1}) {
		t.Fatalf("failed windows = %v, want [1]", got)
	}
	if !strings.Contains(logs.String(), "window_failure") {
		t.Fatalf("expected a window_failure record, got %s", logs.String())
	}
	if strings.Contains(logs.String(), "Alice Example") {
		t.Fatalf("raw identifier reached the log: %s", logs.String())
	}
}

func TestRunFatalAuthAborts(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWindow("days", 1))
	store := testsupport.MustOpenStore(t, cfg)
	provider := testsupport.NewScriptedProvider(
		testsupport.Step{Text: "first"},
		testsupport.Step{Err: &services.ProviderError{Marker: services.ErrFatalAuth, StatusCode: 401}},
	)

	report, err := newTestRunner(t, cfg, store, provider, sink.NewMemory()).Run(context.Background(), dailyRequest("auth", 4))
	if !errors.Is(err, services.ErrFatalAuth) {
		t.Fatalf("expected fatal auth error, got %v", err)
	}
	if report == nil || !report.Aborted || report.HaltReason != services.ReasonFatalAuth {
		t.Fatalf("expected aborted report, got %+v", report)
	}
	if provider.Calls() != 2 {
		t.Fatalf("auth errors must not be retried, got %d calls", provider.Calls())
	}
	if got := report.Indexes(OutcomePending); !slices.Equal(got, []int{3, 4}) {
		t.Fatalf("pending windows = %v, want [3 4]", got)
	}
	if statuses := windowStatuses(t, store, "auth"); statuses[2] != window.StatusFailed || statuses[3] != window.StatusPending {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestRunPrivacyViolationFailsOnlyThatWindow(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWindow("days", 1), testsupport.WithEnrichment())
	store := testsupport.MustOpenStore(t, cfg)

	msgs := testsupport.DailyMessages(day0, 3, "Alice Example", "Bob Example")
	msgs[1].Text = "look at https://example.com/recipes?utm_source=chat"
	provider := testsupport.NewFuncProvider(func(_ context.Context, call int, p privacy.Payload) (string, error) {
		if p.System() == enrichmentSystemPrompt {
			return "A recipe blog run by Alice Example.", nil
		}
		return fmt.Sprintf("chronicle %d", call), nil
	})
	out := sink.NewMemory()

	report, err := newTestRunner(t, cfg, store, provider, out).Run(context.Background(),
		Request{RunID: "leak", Source: transcript.NewSliceSource(msgs), SourceName: "leak.jsonl"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := report.Indexes(OutcomeFailed); !slices.Equal(got, []int{2}) {
		t.Fatalf("failed windows = %v, want [2]", got)
	}
	if report.Windows[1].Reason != services.ReasonPrivacyViolation {
		t.Fatalf("unexpected reason %q", report.Windows[1].Reason)
	}
	if got := report.Indexes(OutcomeSucceeded); !slices.Equal(got, []int{1, 3}) {
		t.Fatalf("succeeded windows = %v, want [1 3]", got)
	}
	for _, p := range provider.Payloads() {
		if strings.Contains(p.User(), "Alice Example") {
			t.Fatalf("raw identifier reached the provider: %q", p.User())
		}
	}
	if report.Enrichment.Fetches != 1 {
		t.Fatalf("expected one enrichment fetch, got %+v", report.Enrichment)
	}
}

func TestRunEnrichmentAddsLinks(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWindow("days", 1), testsupport.WithEnrichment())
	store := testsupport.MustOpenStore(t, cfg)

	msgs := testsupport.DailyMessages(day0, 2, "Alice Example")
	msgs[0].Text = "see https://Example.com/a#top and https://example.com/a"
	msgs[1].Text = "again https://example.com/a"
	provider := testsupport.NewFuncProvider(func(_ context.Context, _ int, p privacy.Payload) (string, error) {
		if p.System() == enrichmentSystemPrompt {
			return "A page about bread.", nil
		}
		return "chronicle", nil
	})
	out := sink.NewMemory()

	report, err := newTestRunner(t, cfg, store, provider, out).Run(context.Background(),
		Request{RunID: "links", Source: transcript.NewSliceSource(msgs), SourceName: "links.jsonl"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Complete() {
		t.Fatalf("expected complete run, got %+v", report.Windows)
	}
	if provider.Calls() != 3 {
		t.Fatalf("expected one summary and two generations, got %d calls", provider.Calls())
	}
	art, ok := out.Get("links", report.Windows[1].WindowID)
	if !ok || len(art.Links) != 1 || art.Links[0].Text != "A page about bread." {
		t.Fatalf("expected cached link summary on second window, got %+v", art.Links)
	}
	var sawLinks bool
	for _, p := range provider.Payloads() {
		if strings.Contains(p.User(), "Shared links:") {
			sawLinks = true
		}
	}
	if !sawLinks {
		t.Fatal("expected generation prompt to include link summaries")
	}
}

func TestRunCancellationStopsSummaryRetries(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWindow("days", 1), testsupport.WithEnrichment(), testsupport.WithMaxAttempts(5))
	store := testsupport.MustOpenStore(t, cfg)

	msgs := testsupport.DailyMessages(day0, 2, "Alice Example")
	msgs[0].Text = "look https://example.com/recipe"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var summaries atomic.Int32
	provider := testsupport.NewFuncProvider(func(_ context.Context, _ int, p privacy.Payload) (string, error) {
		if p.System() == enrichmentSystemPrompt {
			summaries.Add(1)
			cancel()
			return "", &services.ProviderError{Marker: services.ErrRetryable, StatusCode: 503}
		}
		return "chronicle", nil
	})
	waitSleep := func(sleepCtx context.Context, _ time.Duration) error {
		select {
		case <-sleepCtx.Done():
			return sleepCtx.Err()
		case <-time.After(200 * time.Millisecond):
			return nil
		}
	}

	runner := newTestRunner(t, cfg, store, provider, sink.NewMemory(), WithExecutorOptions(executor.WithSleeper(waitSleep)))
	_, err := runner.Run(ctx, Request{RunID: "stop", Source: transcript.NewSliceSource(msgs), SourceName: "stop.jsonl"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if got := summaries.Load(); got != 1 {
		t.Fatalf("summary calls when Run returned = %d, want 1", got)
	}
	time.Sleep(500 * time.Millisecond)
	if got := summaries.Load(); got != 1 {
		t.Fatalf("summary fetch kept retrying after cancellation: %d calls", got)
	}
}

func TestRunCancellationLeavesWindowPending(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWindow("days", 1))
	store := testsupport.MustOpenStore(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	provider := testsupport.NewFuncProvider(func(callCtx context.Context, call int, _ privacy.Payload) (string, error) {
		if call == 2 {
			cancel()
			return "", callCtx.Err()
		}
		return "ok", nil
	})

	report, err := newTestRunner(t, cfg, store, provider, sink.NewMemory()).Run(ctx, dailyRequest("cancel", 3))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if report == nil || !report.Halted || report.HaltReason != services.ReasonCanceled {
		t.Fatalf("expected canceled halt, got %+v", report)
	}
	if got := report.Indexes(OutcomePending); !slices.Equal(got, []int{2, 3}) {
		t.Fatalf("pending windows = %v, want [2 3]", got)
	}
	if statuses := windowStatuses(t, store, "cancel"); statuses[1] != window.StatusSucceeded || statuses[2] != window.StatusPending {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestRunNeverSendsRawIdentifiers(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	names := []string{"Marguerite Okafor", "Tobias Lindqvist", "+15550101234", "Priya Raman", "Henrik Aalto"}
	nick := "Grandpa Joe"

	var msgs []transcript.Message
	for i := range 60 {
		sender := names[rng.IntN(len(names))]
		mention := names[rng.IntN(len(names))]
		text := fmt.Sprintf("%s said %s should call %s", strings.ToUpper(mention), strings.ToLower(nick), "+1 (555) 010-1234")
		msgs = append(msgs, transcript.Message{
			Timestamp: day0.Add(time.Duration(i) * 7 * time.Hour),
			Sender:    sender,
			Text:      text,
		})
	}

	cfg := testsupport.NewConfig(t, testsupport.WithWindow("days", 2), testsupport.WithExtraIdentifiers(nick))
	store := testsupport.MustOpenStore(t, cfg)
	provider := testsupport.NewScriptedProvider()
	out := sink.NewMemory()

	report, err := newTestRunner(t, cfg, store, provider, out).Run(context.Background(),
		Request{RunID: "random", Source: transcript.NewSliceSource(msgs), SourceName: "random.jsonl"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.Complete() {
		t.Fatalf("expected every window to succeed, got %+v", report.Windows)
	}
	raws := append(slices.Clone(names), nick, "5550101234")
	for _, p := range provider.Payloads() {
		body := strings.ToLower(p.System() + "\n" + p.User())
		for _, raw := range raws {
			if strings.Contains(body, strings.ToLower(raw)) {
				t.Fatalf("payload leaked %q", raw)
			}
		}
	}
	for _, art := range out.Artifacts("random") {
		for _, msg := range art.Transcript {
			if slices.Contains(names, msg.Sender) {
				t.Fatalf("artifact transcript kept raw sender %q", msg.Sender)
			}
		}
	}
}

func TestRunPseudonymsStableAcrossResume(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWindow("days", 1))
	store := testsupport.MustOpenStore(t, cfg)
	out := sink.NewMemory()

	tracker := quota.NewTracker(1, quota.WithClock(fixedClock))
	if _, err := newTestRunner(t, cfg, store, testsupport.NewScriptedProvider(), out, WithTracker(tracker)).
		Run(context.Background(), dailyRequest("stable", 2)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := newTestRunner(t, cfg, store, testsupport.NewScriptedProvider(), out).
		Run(context.Background(), dailyRequest("stable", 2)); err != nil {
		t.Fatalf("resume: %v", err)
	}

	arts := out.Artifacts("stable")
	if len(arts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(arts))
	}
	first, second := arts[0].Transcript[0].Sender, arts[1].Transcript[0].Sender
	if first == "Alice Example" || second == "Bob Example" {
		t.Fatal("senders must be pseudonymized")
	}
	identities, err := store.Identities(context.Background(), "stable")
	if err != nil {
		t.Fatalf("Identities: %v", err)
	}
	if identities["Alice Example"] != first || identities["Bob Example"] != second {
		t.Fatalf("artifact pseudonyms %q/%q do not match persisted mapping %v", first, second, identities)
	}
}

func TestRunRejectsReusedRunIDForAnotherTranscript(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWindow("days", 1))
	store := testsupport.MustOpenStore(t, cfg)
	provider := testsupport.NewScriptedProvider()
	runner := newTestRunner(t, cfg, store, provider, sink.NewMemory())

	alice := Request{
		RunID:      "chat",
		Source:     transcript.NewSliceSource(testsupport.DailyMessages(day0, 2, "Alice Example")),
		SourceName: "chat.jsonl",
		SourceKey:  "/x/alice/chat.jsonl",
	}
	if _, err := runner.Run(context.Background(), alice); err != nil {
		t.Fatalf("first transcript: %v", err)
	}
	bob := Request{
		RunID:      "chat",
		Source:     transcript.NewSliceSource(testsupport.DailyMessages(day0, 2, "Bob Example")),
		SourceName: "chat.jsonl",
		SourceKey:  "/x/bob/chat.jsonl",
	}
	report, err := runner.Run(context.Background(), bob)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for a different transcript, got %v (report %+v)", err, report)
	}
	if provider.Calls() != 2 {
		t.Fatalf("expected only the first transcript's windows to be generated, got %d calls", provider.Calls())
	}
}

func TestRunRejectsConcurrentRunOfSameID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	lock, err := checkpoint.AcquireRunLock(cfg.Paths.StateDir, "busy")
	if err != nil {
		t.Fatalf("AcquireRunLock: %v", err)
	}
	defer lock.Release()

	_, err = newTestRunner(t, cfg, store, testsupport.NewScriptedProvider(), sink.NewMemory()).
		Run(context.Background(), dailyRequest("busy", 1))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for locked run, got %v", err)
	}
}

func TestRunRejectsBadRequests(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	runner := newTestRunner(t, cfg, store, testsupport.NewScriptedProvider(), sink.NewMemory())

	for _, req := range []Request{
		{RunID: "../escape", Source: transcript.NewSliceSource(nil)},
		{RunID: "ok"},
	} {
		if _, err := runner.Run(context.Background(), req); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("expected validation error for %+v, got %v", req, err)
		}
	}
}

func TestRebuildRunRecoversMarkdownArtifacts(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithWindow("days", 1))
	store := testsupport.MustOpenStore(t, cfg)
	md := sink.NewMarkdown(cfg.Paths.OutputDir)
	ctx := context.Background()

	report, err := newTestRunner(t, cfg, store, testsupport.NewScriptedProvider(), md).Run(ctx, dailyRequest("disk", 3))
	if err != nil || !report.Complete() {
		t.Fatalf("Run: %v %+v", err, report)
	}
	for _, w := range report.Windows {
		if _, err := os.Stat(w.ArtifactPath); err != nil {
			t.Fatalf("artifact missing: %v", err)
		}
		if filepath.Dir(w.ArtifactPath) != filepath.Join(cfg.Paths.OutputDir, "disk") {
			t.Fatalf("unexpected artifact location %s", w.ArtifactPath)
		}
	}

	if err := os.Remove(report.Windows[2].ArtifactPath); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.MarkWindow(ctx, "disk", report.Windows[1].WindowID, window.StatusFailed, "unknown", 1); err != nil {
		t.Fatalf("MarkWindow: %v", err)
	}

	result, err := RebuildRun(ctx, store, md, "disk")
	if err != nil {
		t.Fatalf("RebuildRun: %v", err)
	}
	if result.Confirmed != 1 || result.Restored != 1 || result.Reset != 1 {
		t.Fatalf("unexpected rebuild result %+v", result)
	}
	statuses := windowStatuses(t, store, "disk")
	if statuses[1] != window.StatusSucceeded || statuses[2] != window.StatusSucceeded || statuses[3] != window.StatusPending {
		t.Fatalf("unexpected statuses after rebuild %v", statuses)
	}
}
