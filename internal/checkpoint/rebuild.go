package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"chronicler/internal/window"
)

// RebuildResult summarizes what Rebuild changed.
type RebuildResult struct {
	Confirmed int
	Restored  int
	Reset     int
}

// Rebuild reconciles a run's checkpoint with the artifacts found on disk.
// Artifacts present on disk but missing or stale in the database are recorded
// and their windows marked succeeded; windows marked succeeded without a
// matching artifact return to pending. Running it twice yields the same state.
func (s *Store) Rebuild(ctx context.Context, runID string, found []Artifact) (RebuildResult, error) {
	var result RebuildResult
	if _, err := s.LoadCheckpoint(ctx, runID); err != nil {
		return result, err
	}

	sorted := append([]Artifact(nil), found...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].WindowID < sorted[j].WindowID })
	onDisk := make(map[string]Artifact, len(sorted))
	for _, art := range sorted {
		onDisk[art.WindowID] = art
	}

	existing, err := s.ListWindows(ctx, runID)
	if err != nil {
		return result, err
	}
	known := make(map[string]WindowRecord, len(existing))
	for _, rec := range existing {
		known[rec.ID] = rec
	}

	now := formatTime(s.now())
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		result = RebuildResult{}
		for _, rec := range existing {
			if _, ok := onDisk[rec.ID]; ok {
				continue
			}
			if rec.Status != window.StatusSucceeded && rec.ArtifactPath == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM artifacts WHERE run_id = ? AND window_id = ?`, runID, rec.ID); err != nil {
				return fmt.Errorf("drop artifact %s: %w", rec.ID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE windows SET status = ?, reason = ?, updated_at = ? WHERE run_id = ? AND window_id = ?`,
				string(window.StatusPending), ReasonArtifactMissing, now, runID, rec.ID,
			); err != nil {
				return fmt.Errorf("reset window %s: %w", rec.ID, err)
			}
			result.Reset++
		}

		for _, art := range sorted {
			rec, ok := known[art.WindowID]
			if ok && rec.Status == window.StatusSucceeded && rec.ArtifactSHA256 == art.SHA256 && rec.ArtifactPath == art.Path {
				result.Confirmed++
				continue
			}
			if _, err := tx.ExecContext(ctx, `
                INSERT INTO windows (run_id, window_id, idx, start_at, end_at, message_count, status, updated_at)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?)
                ON CONFLICT(run_id, window_id) DO UPDATE SET status = excluded.status, reason = NULL, updated_at = excluded.updated_at`,
				runID, art.WindowID, art.Index, formatTime(art.Start), formatTime(art.End), art.MessageCount,
				string(window.StatusSucceeded), now,
			); err != nil {
				return fmt.Errorf("restore window %s: %w", art.WindowID, err)
			}
			if err := upsertArtifact(ctx, tx, runID, art, now); err != nil {
				return err
			}
			result.Restored++
		}
		_, err := tx.ExecContext(ctx, `UPDATE runs SET updated_at = ? WHERE run_id = ?`, now, runID)
		return err
	})
	if err != nil {
		return RebuildResult{}, err
	}
	return result, nil
}
