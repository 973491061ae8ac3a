// Package services defines shared utilities consumed by the generation
// pipeline and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, window IDs, source names, and
//     correlation identifiers for logging.
//   - The error taxonomy (validation, privacy violation, retryable provider
//     failure, quota exhaustion, fatal authentication) plus the Wrap helper and
//     Classify, which turns any failure into the reason string persisted with a
//     window.
//
// Use these helpers when wiring new components so error handling and
// observability stay uniform across the pipeline.
package services
