package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains state, output, and log directories.
type Paths struct {
	StateDir  string `toml:"state_dir"`
	OutputDir string `toml:"output_dir"`
	LogDir    string `toml:"log_dir"`
}

// Windowing controls how transcripts are split into processing windows.
type Windowing struct {
	Unit     string `toml:"unit"`
	Size     int    `toml:"size"`
	MaxBytes int    `toml:"max_bytes"`
	Timezone string `toml:"timezone"`
}

// Provider contains the generation provider connection settings.
type Provider struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	SystemPrompt   string `toml:"system_prompt"`
}

// Retry bounds provider call retries.
type Retry struct {
	MaxAttempts  int `toml:"max_attempts"`
	MinBackoffMS int `toml:"min_backoff_ms"`
	MaxBackoffMS int `toml:"max_backoff_ms"`
}

// Quota caps provider calls per rolling minute. Zero disables the cap.
type Quota struct {
	CallsPerMinute int `toml:"calls_per_minute"`
}

// Anonymization configures pseudonym derivation.
type Anonymization struct {
	// Salt pins the per-run salt. Leave empty to generate one per run and
	// persist it in the checkpoint.
	Salt string `toml:"salt"`
	// ExtraIdentifiers lists nicknames and other strings that must never
	// reach the provider.
	ExtraIdentifiers []string `toml:"extra_identifiers"`
}

// Enrichment configures URL summaries.
type Enrichment struct {
	Enabled          bool `toml:"enabled"`
	TTLSeconds       int  `toml:"ttl_seconds"`
	MaxConcurrent    int  `toml:"max_concurrent"`
	MaxURLsPerWindow int  `toml:"max_urls_per_window"`
}

// Workers bounds concurrency across independent transcripts.
type Workers struct {
	MaxConcurrentSources int `toml:"max_concurrent_sources"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for chronicler.
//
// Configuration sections by subsystem:
//   - Paths: checkpoint database, artifact output, and log directories
//   - Windowing: window unit, size, and timezone
//   - Provider: OpenRouter-compatible chat endpoint settings
//   - Retry: attempts and backoff bounds for provider calls
//   - Quota: provider calls per minute shared by every source
//   - Anonymization: per-run salt and extra identifiers
//   - Enrichment: URL summary cache settings
//   - Workers: concurrent transcript limit
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Windowing     Windowing     `toml:"windowing"`
	Provider      Provider      `toml:"provider"`
	Retry         Retry         `toml:"retry"`
	Quota         Quota         `toml:"quota"`
	Anonymization Anonymization `toml:"anonymization"`
	Enrichment    Enrichment    `toml:"enrichment"`
	Workers       Workers       `toml:"workers"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("chronicler.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the state, output, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.OutputDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the checkpoint database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "chronicler.db")
}

// Location resolves the windowing timezone. Validate guarantees it loads.
func (c *Config) Location() *time.Location {
	loc, err := loadLocation(c.Windowing.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RetryPolicy returns the backoff bounds as durations.
func (c *Config) RetryPolicy() (attempts int, minBackoff, maxBackoff time.Duration) {
	return c.Retry.MaxAttempts,
		time.Duration(c.Retry.MinBackoffMS) * time.Millisecond,
		time.Duration(c.Retry.MaxBackoffMS) * time.Millisecond
}

// ProviderTimeout returns the fixed per-call timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Provider.TimeoutSeconds) * time.Second
}

// EnrichmentTTL returns the URL summary cache lifetime.
func (c *Config) EnrichmentTTL() time.Duration {
	return time.Duration(c.Enrichment.TTLSeconds) * time.Second
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "utc") {
		return time.UTC, nil
	}
	if strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
