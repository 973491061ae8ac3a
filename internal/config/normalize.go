package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWindowing()
	c.normalizeProvider()
	c.normalizeAnonymization()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWindowing() {
	c.Windowing.Unit = strings.ToLower(strings.TrimSpace(c.Windowing.Unit))
	if c.Windowing.Unit == "" {
		c.Windowing.Unit = defaultWindowUnit
	}
	c.Windowing.Timezone = strings.TrimSpace(c.Windowing.Timezone)
	if c.Windowing.Timezone == "" {
		c.Windowing.Timezone = defaultTimezone
	}
}

func (c *Config) normalizeProvider() {
	if value, ok := os.LookupEnv("CHRONICLER_API_KEY"); ok && strings.TrimSpace(value) != "" {
		c.Provider.APIKey = value
	} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok && strings.TrimSpace(value) != "" {
		c.Provider.APIKey = value
	}
	c.Provider.APIKey = strings.TrimSpace(c.Provider.APIKey)
	c.Provider.BaseURL = strings.TrimSpace(c.Provider.BaseURL)
	if c.Provider.BaseURL == "" {
		c.Provider.BaseURL = defaultProviderBaseURL
	}
	c.Provider.Model = strings.TrimSpace(c.Provider.Model)
	if c.Provider.Model == "" {
		c.Provider.Model = defaultProviderModel
	}
	c.Provider.Referer = strings.TrimSpace(c.Provider.Referer)
	c.Provider.Title = strings.TrimSpace(c.Provider.Title)
	c.Provider.SystemPrompt = strings.TrimSpace(c.Provider.SystemPrompt)
	if c.Provider.SystemPrompt == "" {
		c.Provider.SystemPrompt = defaultSystemPrompt
	}
}

func (c *Config) normalizeAnonymization() {
	if value, ok := os.LookupEnv("CHRONICLER_SALT"); ok && value != "" {
		c.Anonymization.Salt = value
	}
	extras := c.Anonymization.ExtraIdentifiers[:0]
	seen := make(map[string]struct{}, len(c.Anonymization.ExtraIdentifiers))
	for _, id := range c.Anonymization.ExtraIdentifiers {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		extras = append(extras, id)
	}
	c.Anonymization.ExtraIdentifiers = extras
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
