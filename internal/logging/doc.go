// Package logging assembles structured slog loggers and formatting helpers used
// across chronicler.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so pipeline code automatically
// tags log lines with run IDs, window IDs, sources, and correlation IDs. When a
// log directory is configured every record is also written as JSON to
// chronicler.log. The package provides a no-op logger for tests and wiring
// code that cannot fail.
//
// Raw participant identifiers must never be passed to a logger; log
// pseudonyms instead. WithRedaction backs this up for run loggers by passing
// every message and string attribute through the run's pseudonym mapping.
package logging
