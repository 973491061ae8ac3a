package checkpoint

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"chronicler/internal/anonymize"
	"chronicler/internal/services"
	"chronicler/internal/window"
)

var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// Checkpoint is the durable state of a run.
type Checkpoint struct {
	RunID              string
	Salt               string
	Source             string
	SourceKey          string
	SucceededWindowIDs []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ValidateRunID rejects run IDs that cannot be used as file names.
func ValidateRunID(runID string) error {
	if !runIDPattern.MatchString(runID) {
		return services.Validation("checkpoint", fmt.Sprintf("invalid run id %q (letters, digits, '.', '_' and '-' only)", runID))
	}
	return nil
}

// NewSalt returns 16 random bytes hex encoded.
func NewSalt() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// RunSource identifies the transcript behind a run. Name is for display; Key
// (typically the absolute transcript path) must match on every resume.
type RunSource struct {
	Name string
	Key  string
}

// LoadOrInit returns the checkpoint for runID, creating it when missing. The
// salt of an existing run is authoritative; a configured salt that disagrees
// with it is a validation error because it would change every pseudonym. A
// source key that differs from the stored one is a validation error too,
// since the stored windows belong to another transcript. A new run uses the
// configured salt or a freshly generated one. created reports whether the run
// was initialized by this call.
func (s *Store) LoadOrInit(ctx context.Context, runID string, src RunSource, configuredSalt string) (cp Checkpoint, created bool, err error) {
	if err := ValidateRunID(runID); err != nil {
		return Checkpoint{}, false, err
	}
	existing, err := s.LoadCheckpoint(ctx, runID)
	switch {
	case err == nil:
		if configuredSalt != "" && configuredSalt != existing.Salt {
			return Checkpoint{}, false, services.Validation("checkpoint",
				fmt.Sprintf("run %s was started with a different salt; remove the configured salt or use a new run id", runID))
		}
		if src.Key != "" && existing.SourceKey != "" && src.Key != existing.SourceKey {
			return Checkpoint{}, false, services.Validation("checkpoint",
				fmt.Sprintf("run %s belongs to transcript %s; use a different run id or --fresh", runID, existing.SourceKey))
		}
		if src.Key != "" && existing.SourceKey == "" {
			if _, err := s.execWithRetry(ctx, `UPDATE runs SET source_key = ? WHERE run_id = ?`, src.Key, runID); err != nil {
				return Checkpoint{}, false, fmt.Errorf("record run source: %w", err)
			}
			existing.SourceKey = src.Key
		}
		return existing, false, nil
	case !errors.Is(err, ErrRunNotFound):
		return Checkpoint{}, false, err
	}

	salt := configuredSalt
	if salt == "" {
		if salt, err = NewSalt(); err != nil {
			return Checkpoint{}, false, err
		}
	}
	now := s.now().UTC()
	if _, err := s.execWithRetry(ctx,
		`INSERT INTO runs (run_id, salt, source, source_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		runID, salt, nullableString(src.Name), nullableString(src.Key), formatTime(now), formatTime(now),
	); err != nil {
		return Checkpoint{}, false, fmt.Errorf("insert run: %w", err)
	}
	return Checkpoint{RunID: runID, Salt: salt, Source: src.Name, SourceKey: src.Key, CreatedAt: now, UpdatedAt: now}, true, nil
}

// LoadCheckpoint reads an existing run. It returns ErrRunNotFound when absent.
func (s *Store) LoadCheckpoint(ctx context.Context, runID string) (Checkpoint, error) {
	ctx = ensureContext(ctx)
	var (
		cp         Checkpoint
		source     sql.NullString
		sourceKey  sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, salt, source, source_key, created_at, updated_at FROM runs WHERE run_id = ?`, runID,
	).Scan(&cp.RunID, &cp.Salt, &source, &sourceKey, &createdRaw, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("load run: %w", err)
	}
	cp.Source = source.String
	cp.SourceKey = sourceKey.String
	cp.CreatedAt = parseTime(createdRaw)
	cp.UpdatedAt = parseTime(updatedRaw)

	rows, err := s.db.QueryContext(ctx,
		`SELECT window_id FROM windows WHERE run_id = ? AND status = ? ORDER BY idx`,
		runID, string(window.StatusSucceeded),
	)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("list succeeded windows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return Checkpoint{}, fmt.Errorf("scan window id: %w", err)
		}
		cp.SucceededWindowIDs = append(cp.SucceededWindowIDs, id)
	}
	if err := rows.Err(); err != nil {
		return Checkpoint{}, fmt.Errorf("iterate windows: %w", err)
	}
	return cp, nil
}

// RunSummary is one row of ListRuns.
type RunSummary struct {
	RunID     string
	Source    string
	Windows   int
	Succeeded int
	Failed    int
	Pending   int
	UpdatedAt time.Time
}

// ListRuns returns every run with per-status window counts, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
        SELECT r.run_id, r.source, r.updated_at,
               COUNT(w.window_id),
               COALESCE(SUM(CASE WHEN w.status = ? THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(CASE WHEN w.status = ? THEN 1 ELSE 0 END), 0)
        FROM runs r LEFT JOIN windows w ON w.run_id = r.run_id
        GROUP BY r.run_id
        ORDER BY r.updated_at DESC, r.run_id`,
		string(window.StatusSucceeded), string(window.StatusFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			summary    RunSummary
			source     sql.NullString
			updatedRaw sql.NullString
		)
		if err := rows.Scan(&summary.RunID, &source, &updatedRaw, &summary.Windows, &summary.Succeeded, &summary.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		summary.Source = source.String
		summary.UpdatedAt = parseTime(updatedRaw)
		summary.Pending = summary.Windows - summary.Succeeded - summary.Failed
		out = append(out, summary)
	}
	return out, rows.Err()
}

// Identities returns the persisted raw-to-pseudonym mapping for a run.
func (s *Store) Identities(ctx context.Context, runID string) (map[string]string, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT raw, pseudonym FROM identities WHERE run_id = ?`, runID)
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var raw, pseudonym string
		if err := rows.Scan(&raw, &pseudonym); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out[raw] = pseudonym
	}
	return out, rows.Err()
}

// SaveIdentities persists mapping entries for a run. Entries already stored
// are left untouched.
func (s *Store) SaveIdentities(ctx context.Context, runID string, entries []anonymize.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO identities (run_id, raw, pseudonym) VALUES (?, ?, ?)
             ON CONFLICT(run_id, raw) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("prepare identity insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, runID, e.Raw, e.Pseudonym); err != nil {
				return fmt.Errorf("insert identity %s: %w", e.Pseudonym, err)
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE runs SET updated_at = ? WHERE run_id = ?`, formatTime(s.now()), runID)
		return err
	})
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
