package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chronicler/internal/enrich"
)

// LoadEnrichment returns a live cached enrichment value.
func (s *Store) LoadEnrichment(ctx context.Context, fingerprint string, now time.Time) (enrich.Entry, bool, error) {
	ctx = ensureContext(ctx)
	var (
		value      string
		expiresRaw sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM enrichment_cache WHERE fingerprint = ?`, fingerprint,
	).Scan(&value, &expiresRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return enrich.Entry{}, false, nil
	}
	if err != nil {
		return enrich.Entry{}, false, fmt.Errorf("load enrichment: %w", err)
	}
	expiresAt := parseTime(expiresRaw)
	if !now.Before(expiresAt) {
		return enrich.Entry{}, false, nil
	}
	return enrich.Entry{Value: value, ExpiresAt: expiresAt}, true, nil
}

// StoreEnrichment upserts a cached enrichment value.
func (s *Store) StoreEnrichment(ctx context.Context, fingerprint string, e enrich.Entry) error {
	if _, err := s.execWithRetry(ctx, `
        INSERT INTO enrichment_cache (fingerprint, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(fingerprint) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at`,
		fingerprint, e.Value, formatTime(e.ExpiresAt), formatTime(s.now()),
	); err != nil {
		return fmt.Errorf("store enrichment: %w", err)
	}
	return nil
}

// PruneEnrichment deletes expired cache rows.
func (s *Store) PruneEnrichment(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM enrichment_cache WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("prune enrichment: %w", err)
	}
	return res.RowsAffected()
}
