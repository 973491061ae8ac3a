package config

import (
	"errors"
	"fmt"
	"strings"

	"chronicler/internal/services"
)

// Validate ensures the configuration is usable. Every failure wraps
// services.ErrValidation.
func (c *Config) Validate() error {
	checks := []func() error{
		c.validatePaths,
		c.validateWindowing,
		c.validateProvider,
		c.validateRetry,
		c.validateQuota,
		c.validateEnrichment,
		c.validateWorkers,
		c.validateLogging,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return fmt.Errorf("%w: %w", services.ErrValidation, err)
		}
	}
	return nil
}

// ValidateForRun additionally requires provider credentials.
func (c *Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Provider.APIKey == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("%w: provider.api_key is required. Set CHRONICLER_API_KEY or OPENROUTER_API_KEY, or edit %s (create with 'chronicler config init')",
			services.ErrValidation, defaultPath)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	return nil
}

func (c *Config) validateWindowing() error {
	switch c.Windowing.Unit {
	case "days", "day", "hours", "hour", "messages", "message", "bytes", "byte":
	default:
		return fmt.Errorf("windowing.unit must be days, hours, messages, or bytes (got %q)", c.Windowing.Unit)
	}
	if c.Windowing.Size <= 0 {
		return errors.New("windowing.size must be positive")
	}
	if c.Windowing.MaxBytes < 0 {
		return errors.New("windowing.max_bytes must not be negative")
	}
	if _, err := loadLocation(c.Windowing.Timezone); err != nil {
		return fmt.Errorf("windowing.timezone: %w", err)
	}
	return nil
}

func (c *Config) validateProvider() error {
	if c.Provider.BaseURL == "" {
		return errors.New("provider.base_url must be set")
	}
	if c.Provider.Model == "" {
		return errors.New("provider.model must be set")
	}
	if c.Provider.TimeoutSeconds <= 0 {
		return errors.New("provider.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if c.Retry.MaxAttempts <= 0 {
		return errors.New("retry.max_attempts must be positive")
	}
	if c.Retry.MinBackoffMS <= 0 {
		return errors.New("retry.min_backoff_ms must be positive")
	}
	if c.Retry.MaxBackoffMS < c.Retry.MinBackoffMS {
		return errors.New("retry.max_backoff_ms must be >= retry.min_backoff_ms")
	}
	return nil
}

func (c *Config) validateQuota() error {
	if c.Quota.CallsPerMinute < 0 {
		return errors.New("quota.calls_per_minute must be zero (unlimited) or positive")
	}
	return nil
}

func (c *Config) validateEnrichment() error {
	if !c.Enrichment.Enabled {
		return nil
	}
	if c.Enrichment.TTLSeconds <= 0 {
		return errors.New("enrichment.ttl_seconds must be positive when enrichment is enabled")
	}
	if c.Enrichment.MaxConcurrent <= 0 {
		return errors.New("enrichment.max_concurrent must be positive when enrichment is enabled")
	}
	if c.Enrichment.MaxURLsPerWindow <= 0 {
		return errors.New("enrichment.max_urls_per_window must be positive when enrichment is enabled")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	if c.Workers.MaxConcurrentSources <= 0 {
		return errors.New("workers.max_concurrent_sources must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json (got %q)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error (got %q)", c.Logging.Level)
	}
	return nil
}
