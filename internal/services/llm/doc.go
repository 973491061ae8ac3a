// Package llm provides an OpenRouter-compatible chat client used as the
// generation provider.
//
// # Privacy
//
// Generate only accepts a privacy.Payload minted by the privacy gate. An
// unsealed payload is rejected before any network I/O happens.
//
// # Error Classification
//
// Each Generate call performs a single request. Failures come back as
// *services.ProviderError tagged with one of:
//
//   - services.ErrFatalAuth for HTTP 401/403 or a missing API key
//   - services.ErrRetryable for HTTP 408/429/5xx, timeouts, and transport
//     failures, carrying any Retry-After hint
//   - services.ErrProvider for other 4xx responses, malformed bodies, and
//     empty completions
//
// Retry, backoff, and quota accounting live in the executor package.
//
// # Configuration
//
// Requires api_key and model, and optionally base_url, referer, title,
// timeout_seconds.
package llm
