package config

const (
	defaultConfigPath            = "~/.config/chronicler/config.toml"
	defaultStateDir              = "~/.local/share/chronicler/state"
	defaultOutputDir             = "~/.local/share/chronicler/output"
	defaultLogDir                = "~/.local/share/chronicler/logs"
	defaultWindowUnit            = "days"
	defaultWindowSize            = 7
	defaultTimezone              = "UTC"
	defaultProviderBaseURL       = "https://openrouter.ai/api/v1/chat/completions"
	defaultProviderModel         = "google/gemini-3-flash-preview"
	defaultProviderReferer       = "https://github.com/chronicler/chronicler"
	defaultProviderTitle         = "Chronicler"
	defaultProviderTimeout       = 60
	defaultSystemPrompt          = "You write a neutral, concise chronicle of a group conversation. Participants appear only as bracketed pseudonyms; refer to them exactly that way."
	defaultRetryMaxAttempts      = 5
	defaultRetryMinBackoffMS     = 1000
	defaultRetryMaxBackoffMS     = 30000
	defaultQuotaCallsPerMinute   = 15
	defaultEnrichmentTTLSeconds  = 7 * 24 * 60 * 60
	defaultEnrichmentConcurrency = 4
	defaultEnrichmentMaxURLs     = 5
	defaultMaxConcurrentSources  = 2
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
		},
		Windowing: Windowing{
			Unit:     defaultWindowUnit,
			Size:     defaultWindowSize,
			Timezone: defaultTimezone,
		},
		Provider: Provider{
			BaseURL:        defaultProviderBaseURL,
			Model:          defaultProviderModel,
			Referer:        defaultProviderReferer,
			Title:          defaultProviderTitle,
			TimeoutSeconds: defaultProviderTimeout,
			SystemPrompt:   defaultSystemPrompt,
		},
		Retry: Retry{
			MaxAttempts:  defaultRetryMaxAttempts,
			MinBackoffMS: defaultRetryMinBackoffMS,
			MaxBackoffMS: defaultRetryMaxBackoffMS,
		},
		Quota: Quota{
			CallsPerMinute: defaultQuotaCallsPerMinute,
		},
		Enrichment: Enrichment{
			Enabled:          false,
			TTLSeconds:       defaultEnrichmentTTLSeconds,
			MaxConcurrent:    defaultEnrichmentConcurrency,
			MaxURLsPerWindow: defaultEnrichmentMaxURLs,
		},
		Workers: Workers{
			MaxConcurrentSources: defaultMaxConcurrentSources,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
