// Package preflight provides readiness checks for the directories and the
// generation provider that chronicler depends on.
//
// The run command checks paths before opening the checkpoint store so a
// misconfigured directory fails fast instead of after the transcript has been
// read. "chronicler config validate --check" additionally probes the provider
// with one request that carries no transcript data.
package preflight
