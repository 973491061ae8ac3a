package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"chronicler/internal/config"
	"chronicler/internal/services"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CHRONICLER_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("CHRONICLER_SALT", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantState := filepath.Join(tempHome, ".local", "share", "chronicler", "state")
	if cfg.Paths.StateDir != wantState {
		t.Fatalf("unexpected state dir: got %q want %q", cfg.Paths.StateDir, wantState)
	}
	if cfg.DatabasePath() != filepath.Join(wantState, "chronicler.db") {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath())
	}
	if cfg.Windowing.Unit != "days" || cfg.Windowing.Size != 7 {
		t.Fatalf("unexpected windowing defaults %+v", cfg.Windowing)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", cfg.Location())
	}
	if cfg.Capabilities().Enrichment {
		t.Fatal("expected enrichment disabled by default")
	}
	if err := cfg.ValidateForRun(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected missing api key to fail run validation, got %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StateDir, cfg.Paths.OutputDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPath(t *testing.T) {
	t.Setenv("CHRONICLER_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("CHRONICLER_SALT", "")
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "chronicler.toml")

	type payload struct {
		Windowing struct {
			Unit     string `toml:"unit"`
			Size     int    `toml:"size"`
			Timezone string `toml:"timezone"`
		} `toml:"windowing"`
		Provider struct {
			APIKey string `toml:"api_key"`
		} `toml:"provider"`
		Anonymization struct {
			Salt             string   `toml:"salt"`
			ExtraIdentifiers []string `toml:"extra_identifiers"`
		} `toml:"anonymization"`
		Enrichment struct {
			Enabled bool `toml:"enabled"`
		} `toml:"enrichment"`
	}
	custom := payload{}
	custom.Windowing.Unit = "Hours"
	custom.Windowing.Size = 6
	custom.Windowing.Timezone = "Europe/Lisbon"
	custom.Provider.APIKey = "file-key"
	custom.Anonymization.Salt = "pinned"
	custom.Anonymization.ExtraIdentifiers = []string{" Mags ", "", "Mags", "Bea"}
	custom.Enrichment.Enabled = true
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("unexpected resolution %q %v", resolved, exists)
	}
	if cfg.Windowing.Unit != "hours" || cfg.Windowing.Size != 6 {
		t.Fatalf("unexpected windowing %+v", cfg.Windowing)
	}
	if got := strings.Join(cfg.Anonymization.ExtraIdentifiers, ","); got != "Mags,Bea" {
		t.Fatalf("unexpected extras %q", got)
	}
	caps := cfg.Capabilities()
	if !caps.Enrichment || !caps.FixedSalt {
		t.Fatalf("unexpected capabilities %+v", caps)
	}
	if err := cfg.ValidateForRun(); err != nil {
		t.Fatalf("ValidateForRun: %v", err)
	}
}

func TestEnvVarOverridesConfigFileForSecrets(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "chronicler.toml")
	body := "[provider]\napi_key = \"file-key\"\n[anonymization]\nsalt = \"file-salt\"\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CHRONICLER_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "env-openrouter")
	t.Setenv("CHRONICLER_SALT", "env-salt")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Provider.APIKey != "env-openrouter" {
		t.Errorf("expected provider key from env, got %q", cfg.Provider.APIKey)
	}
	if cfg.Anonymization.Salt != "env-salt" {
		t.Errorf("expected salt from env, got %q", cfg.Anonymization.Salt)
	}

	t.Setenv("CHRONICLER_API_KEY", "env-chronicler")
	cfg, _, _, err = config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Provider.APIKey != "env-chronicler" {
		t.Errorf("expected CHRONICLER_API_KEY to win, got %q", cfg.Provider.APIKey)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "your_openrouter_api_key_here") {
		t.Fatalf("sample config missing placeholder key: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Windowing.Size != 7 || cfg.Quota.CallsPerMinute != 15 {
		t.Fatalf("sample diverges from defaults: %+v %+v", cfg.Windowing, cfg.Quota)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"window unit":      func(c *config.Config) { c.Windowing.Unit = "weeks" },
		"window size":      func(c *config.Config) { c.Windowing.Size = 0 },
		"window max bytes": func(c *config.Config) { c.Windowing.MaxBytes = -1 },
		"timezone":         func(c *config.Config) { c.Windowing.Timezone = "Mars/Olympus" },
		"attempts":         func(c *config.Config) { c.Retry.MaxAttempts = 0 },
		"backoff order":    func(c *config.Config) { c.Retry.MaxBackoffMS = c.Retry.MinBackoffMS - 1 },
		"negative quota":   func(c *config.Config) { c.Quota.CallsPerMinute = -1 },
		"enrichment ttl":   func(c *config.Config) { c.Enrichment.Enabled = true; c.Enrichment.TTLSeconds = 0 },
		"workers":          func(c *config.Config) { c.Workers.MaxConcurrentSources = 0 },
		"log format":       func(c *config.Config) { c.Logging.Format = "xml" },
		"provider timeout": func(c *config.Config) { c.Provider.TimeoutSeconds = 0 },
	}
	for name, mutate := range cases {
		cfg := config.Default()
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		if !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%s: expected ErrValidation marker, got %v", name, err)
		}
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
