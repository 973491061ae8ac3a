// Package checkpoint persists run state in SQLite so interrupted runs resume
// instead of restarting.
//
// A run row holds the salt that fixes every pseudonym; window rows track the
// lifecycle of each planned window; artifact rows point at committed output
// files together with their SHA-256. Success is only ever recorded through
// CommitWindow, which writes the artifact row and the succeeded status in one
// transaction. Rebuild reconciles the database with artifacts found on disk
// and is idempotent.
//
// The store also backs the enrichment cache across runs and provides the
// per-run advisory file lock that prevents two processes from working on the
// same run.
package checkpoint
