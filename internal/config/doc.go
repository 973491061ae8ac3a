// Package config loads, normalizes, and validates chronicler configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// CHRONICLER_API_KEY, OPENROUTER_API_KEY, and CHRONICLER_SALT. Validation
// failures wrap services.ErrValidation so a bad configuration aborts a run
// before any window is attempted.
//
// Optional features are resolved once into Capabilities.
package config
