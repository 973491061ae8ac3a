package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chronicler/internal/config"
	"chronicler/internal/privacy"
	"chronicler/internal/services"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckProvider_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"OK"}}]}`))
	}))
	defer srv.Close()

	result := CheckProvider(context.Background(), config.Provider{APIKey: "good-key", BaseURL: srv.URL, Model: "m"})
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckProvider_BadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	result := CheckProvider(context.Background(), config.Provider{APIKey: "bad-key", BaseURL: srv.URL, Model: "m"})
	if result.Passed {
		t.Fatal("expected failure for bad key")
	}
	if !strings.Contains(result.Detail, "authentication failed") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckProvider_MissingKey(t *testing.T) {
	result := CheckProvider(context.Background(), config.Provider{BaseURL: "http://localhost"})
	if result.Passed {
		t.Fatal("expected failure for missing key")
	}
}

type recordingGenerator struct {
	payloads []privacy.Payload
	err      error
}

func (g *recordingGenerator) Generate(_ context.Context, p privacy.Payload) (string, error) {
	g.payloads = append(g.payloads, p)
	return "OK", g.err
}

func TestProbeGeneratorSendsSealedPayload(t *testing.T) {
	gen := &recordingGenerator{}
	if result := ProbeGenerator(context.Background(), "probe", gen); !result.Passed {
		t.Fatalf("expected pass, got %s", result.Detail)
	}
	if len(gen.payloads) != 1 || !gen.payloads[0].Sealed() {
		t.Fatalf("expected one sealed payload, got %+v", gen.payloads)
	}

	gen = &recordingGenerator{err: &services.ProviderError{Marker: services.ErrRetryable, StatusCode: 503}}
	if result := ProbeGenerator(context.Background(), "probe", gen); result.Passed {
		t.Fatal("expected provider failure to fail the probe")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil, false); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_PathsOnly(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.OutputDir = t.TempDir()
	cfg.Paths.LogDir = ""

	results := RunAll(context.Background(), &cfg, false)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures %+v", failed)
	}

	cfg.Paths.OutputDir = filepath.Join(t.TempDir(), "missing")
	if failed := Failed(RunAll(context.Background(), &cfg, false)); len(failed) != 1 || failed[0].Name != "Output directory" {
		t.Fatalf("expected output directory failure, got %+v", failed)
	}
}
