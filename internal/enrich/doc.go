// Package enrich deduplicates link enrichment across windows and sources.
//
// URLs are reduced to a fingerprint (canonical form hashed with SHA-256) so
// tracking parameters, default ports, fragments, and host casing do not cause
// duplicate provider calls. Cache.GetOrFetch collapses concurrent requests for
// one fingerprint into a single upstream fetch, bounds total fetch
// concurrency with a weighted semaphore, keeps successful values for a TTL,
// and never stores failures. An optional Backing persists entries across runs.
package enrich
