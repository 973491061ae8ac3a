package testsupport

import (
	"path/filepath"
	"testing"

	"chronicler/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options. Retry backoff is
// shortened so failing windows do not slow tests down.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.LogDir = ""
	cfgVal.Provider.APIKey = "test"
	cfgVal.Retry.MinBackoffMS = 1
	cfgVal.Retry.MaxBackoffMS = 5
	cfgVal.Quota.CallsPerMinute = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithSalt fixes the anonymization salt.
func WithSalt(salt string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Anonymization.Salt = salt
	}
}

// WithQuota sets the per-minute provider call limit.
func WithQuota(perMinute int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Quota.CallsPerMinute = perMinute
	}
}

// WithWindow sets the window policy.
func WithWindow(unit string, size int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Windowing.Unit = unit
		b.cfg.Windowing.Size = size
	}
}

// WithMaxAttempts sets the retry attempt limit.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Retry.MaxAttempts = n
	}
}

// WithEnrichment turns URL enrichment on.
func WithEnrichment() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Enrichment.Enabled = true
	}
}

// WithExtraIdentifiers registers nicknames to anonymize.
func WithExtraIdentifiers(ids ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Anonymization.ExtraIdentifiers = append(b.cfg.Anonymization.ExtraIdentifiers, ids...)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
