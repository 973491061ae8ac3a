package config

// Capabilities records optional features resolved once at startup. Code that
// needs to know whether a feature is on reads this value rather than probing
// configuration or the environment at call time.
type Capabilities struct {
	Enrichment bool
	// FixedSalt is true when the operator pinned the salt in configuration.
	FixedSalt bool
	FileLog   bool
}

// Capabilities resolves feature flags from the normalized config.
func (c *Config) Capabilities() Capabilities {
	return Capabilities{
		Enrichment: c.Enrichment.Enabled,
		FixedSalt:  c.Anonymization.Salt != "",
		FileLog:    c.Paths.LogDir != "",
	}
}
