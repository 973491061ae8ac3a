package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"chronicler/internal/testsupport"
)

type cliTestEnv struct {
	configPath string
	outputDir  string
	transcript string
	calls      *atomic.Int32
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv("CHRONICLER_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("CHRONICLER_SALT", "")

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if bytes.Contains(body, []byte("Alice Example")) || bytes.Contains(body, []byte("Bob Example")) {
			t.Errorf("raw identifier reached the provider: %s", body)
		}
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"content":"chronicle %d"},"finish_reason":"stop"}]}`, n)
	}))
	t.Cleanup(server.Close)

	base := t.TempDir()
	env := &cliTestEnv{
		configPath: filepath.Join(base, "chronicler.toml"),
		outputDir:  filepath.Join(base, "output"),
		transcript: filepath.Join(base, "family.jsonl"),
		calls:      &calls,
	}
	content := fmt.Sprintf(`[paths]
state_dir = %q
output_dir = %q
log_dir = %q

[windowing]
unit = "days"
size = 1

[provider]
api_key = "test-key"
base_url = %q

[retry]
max_attempts = 2
min_backoff_ms = 1
max_backoff_ms = 2

[quota]
calls_per_minute = 0

[logging]
level = "error"
`, filepath.Join(base, "state"), env.outputDir, filepath.Join(base, "logs"), server.URL)
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	testsupport.WriteJSONL(t, env.transcript, testsupport.DailyMessages(start, 3, "Alice Example", "Bob Example"))
	return env
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func TestRunResumeStatusAndRebuild(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"run", env.transcript}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "Run family (family.jsonl)")
	requireContains(t, out, "Succeeded: 3  Resumed: 0  Failed: 0  Pending: 0")
	if env.calls.Load() != 3 {
		t.Fatalf("expected 3 provider calls, got %d", env.calls.Load())
	}
	artifacts, err := filepath.Glob(filepath.Join(env.outputDir, "family", "*.md"))
	if err != nil || len(artifacts) != 3 {
		t.Fatalf("expected 3 artifacts, got %v (%v)", artifacts, err)
	}

	out, _, err = runCLI(t, []string{"run", env.transcript}, env.configPath)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	requireContains(t, out, "Succeeded: 0  Resumed: 3")
	if env.calls.Load() != 3 {
		t.Fatalf("resume must not call the provider, got %d calls", env.calls.Load())
	}

	out, _, err = runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "family")

	out, _, err = runCLI(t, []string{"status", "--run-id", "family", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("status --run-id: %v", err)
	}
	var windows []windowJSON
	if err := json.Unmarshal([]byte(out), &windows); err != nil {
		t.Fatalf("decode status json: %v\n%s", err, out)
	}
	if len(windows) != 3 {
		t.Fatalf("expected 3 windows, got %d", len(windows))
	}
	for _, w := range windows {
		if w.Status != "succeeded" || w.ArtifactPath == "" {
			t.Fatalf("unexpected window %+v", w)
		}
	}

	if err := os.Remove(windows[2].ArtifactPath); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}
	out, _, err = runCLI(t, []string{"checkpoint", "rebuild", "--run-id", "family"}, env.configPath)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	requireContains(t, out, "2 confirmed, 0 restored, 1 reset to pending")

	out, _, err = runCLI(t, []string{"run", env.transcript}, env.configPath)
	if err != nil {
		t.Fatalf("rerun after rebuild: %v", err)
	}
	requireContains(t, out, "Succeeded: 1  Resumed: 2")
}

func TestRunFreshStartsNewRun(t *testing.T) {
	env := setupCLITestEnv(t)

	if _, _, err := runCLI(t, []string{"run", env.transcript}, env.configPath); err != nil {
		t.Fatalf("run: %v", err)
	}
	out, _, err := runCLI(t, []string{"run", "--fresh", env.transcript}, env.configPath)
	if err != nil {
		t.Fatalf("run --fresh: %v", err)
	}
	requireContains(t, out, "Run family-")
	requireContains(t, out, "Succeeded: 3  Resumed: 0")
	if env.calls.Load() != 6 {
		t.Fatalf("expected a fresh run to regenerate every window, got %d calls", env.calls.Load())
	}
}

func TestRunRejectsRunIDWithSeveralTranscripts(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"run", "--run-id", "x", env.transcript, env.transcript}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "--run-id") {
		t.Fatalf("expected --run-id error, got %v", err)
	}
}

func TestRunRequiresAPIKey(t *testing.T) {
	env := setupCLITestEnv(t)
	data, err := os.ReadFile(env.configPath)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	stripped := strings.Replace(string(data), `api_key = "test-key"`, "", 1)
	if err := os.WriteFile(env.configPath, []byte(stripped), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, _, err = runCLI(t, []string{"run", env.transcript}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "provider.api_key is required") {
		t.Fatalf("expected missing api key error, got %v", err)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Window policy: 1 days (UTC)")
	requireContains(t, out, "Configuration valid")

	out, _, err = runCLI(t, []string{"config", "validate", "--check"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate --check: %v", err)
	}
	requireContains(t, out, "State directory:")
	requireContains(t, out, "[OK] API reachable")
	if env.calls.Load() != 1 {
		t.Fatalf("expected one provider probe, got %d calls", env.calls.Load())
	}

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}
}

func TestDefaultRunID(t *testing.T) {
	cases := map[string]string{
		"/tmp/family chat.jsonl":  "family-chat",
		"exports/2024.group.json": "2024.group",
		"weird/__ü__.jsonl":       "",
	}
	for path, want := range cases {
		got := defaultRunID(path)
		if want == "" {
			if !strings.HasPrefix(got, "run-") {
				t.Fatalf("defaultRunID(%q) = %q, want generated run- id", path, got)
			}
			continue
		}
		if got != want {
			t.Fatalf("defaultRunID(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestPlanRunIDsDisambiguatesSameFileName(t *testing.T) {
	base := t.TempDir()
	alice := filepath.Join(base, "alice", "chat.jsonl")
	bob := filepath.Join(base, "bob", "chat.jsonl")
	other := filepath.Join(base, "family.jsonl")

	keys, ids, err := planRunIDs([]string{alice, bob, other}, "")
	if err != nil {
		t.Fatalf("planRunIDs: %v", err)
	}
	if keys[0] != alice || keys[1] != bob {
		t.Fatalf("expected absolute paths as keys, got %v", keys)
	}
	if ids[0] == ids[1] || !strings.HasPrefix(ids[0], "chat-") || !strings.HasPrefix(ids[1], "chat-") {
		t.Fatalf("expected distinct chat- ids, got %v", ids)
	}
	if ids[2] != "family" {
		t.Fatalf("non-colliding id changed: %q", ids[2])
	}
	_, again, err := planRunIDs([]string{bob, alice}, "")
	if err != nil || again[0] != ids[1] || again[1] != ids[0] {
		t.Fatalf("ids must not depend on argument order: %v vs %v (%v)", again, ids, err)
	}
	if _, _, err := planRunIDs([]string{alice, alice}, ""); err == nil {
		t.Fatal("expected an error for a transcript listed twice")
	}
}

func TestRunSameFileNameInTwoDirectories(t *testing.T) {
	env := setupCLITestEnv(t)
	second := filepath.Join(t.TempDir(), "family.jsonl")
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	testsupport.WriteJSONL(t, second, testsupport.DailyMessages(start, 2, "Bob Example"))

	out, _, err := runCLI(t, []string{"run", env.transcript, second}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Count(out, "Run family-") != 2 {
		t.Fatalf("expected two disambiguated runs, got %s", out)
	}
	if env.calls.Load() != 5 {
		t.Fatalf("expected every window of both transcripts to be generated, got %d calls", env.calls.Load())
	}

	// Reusing one run id for a different transcript is rejected.
	if _, _, err := runCLI(t, []string{"run", "--run-id", "shared", env.transcript}, env.configPath); err != nil {
		t.Fatalf("run --run-id: %v", err)
	}
	_, _, err = runCLI(t, []string{"run", "--run-id", "shared", second}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "belongs to transcript") {
		t.Fatalf("expected transcript mismatch error, got %v", err)
	}
}

func TestParseBound(t *testing.T) {
	loc := time.FixedZone("X", 2*60*60)
	ts, err := parseBound("2024-02-03", loc)
	if err != nil || !ts.Equal(time.Date(2024, 2, 3, 0, 0, 0, 0, loc)) {
		t.Fatalf("unexpected date bound %v %v", ts, err)
	}
	ts, err = parseBound("2024-02-03T10:00:00Z", loc)
	if err != nil || !ts.Equal(time.Date(2024, 2, 3, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected RFC 3339 bound %v %v", ts, err)
	}
	if ts, err := parseBound("", loc); err != nil || !ts.IsZero() {
		t.Fatalf("empty bound should be open, got %v %v", ts, err)
	}
	if _, err := parseBound("yesterday", loc); err == nil {
		t.Fatal("expected invalid date error")
	}
}

func TestRenderStatusLine(t *testing.T) {
	got := renderStatusLine("Provider", statusError, "timed out", false)
	want := "  Provider:            [ERROR] timed out"
	if got != want {
		t.Fatalf("renderStatusLine = %q, want %q", got, want)
	}
	if colored := renderStatusLine("Provider", statusOK, "", true); !strings.HasPrefix(colored, ansiGreen) {
		t.Fatalf("expected green prefix, got %q", colored)
	}
}

func TestColorForStatusesAndOutcomes(t *testing.T) {
	cases := map[string]string{
		"succeeded":     ansiGreen,
		"resumed":       ansiBlue,
		"pending":       ansiYellow,
		"running":       ansiYellow,
		"quota_blocked": ansiYellow,
		"failed":        ansiRed,
		"unknown":       "",
	}
	for label, want := range cases {
		if got := colorFor(label); got != want {
			t.Fatalf("colorFor(%q) = %q, want %q", label, got, want)
		}
	}
}
