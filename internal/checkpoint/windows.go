package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chronicler/internal/window"
)

// ReasonArtifactMissing marks windows reset by Rebuild because their output
// file disappeared or changed.
const ReasonArtifactMissing = "artifact_missing"

// WindowRecord is the persisted view of a window.
type WindowRecord struct {
	RunID          string
	ID             string
	Index          int
	Start          time.Time
	End            time.Time
	MessageCount   int
	Status         window.Status
	Reason         string
	Attempts       int
	ArtifactPath   string
	ArtifactSHA256 string
	UpdatedAt      time.Time
}

// Artifact describes a committed output file.
type Artifact struct {
	WindowID     string
	Index        int
	Start        time.Time
	End          time.Time
	MessageCount int
	Path         string
	SHA256       string
}

// RegisterWindows records planned windows as pending. Windows already known
// keep their status; their bounds and message counts are refreshed.
func (s *Store) RegisterWindows(ctx context.Context, runID string, windows []window.Window) error {
	if len(windows) == 0 {
		return nil
	}
	now := formatTime(s.now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO windows (run_id, window_id, idx, start_at, end_at, message_count, status, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(run_id, window_id) DO UPDATE SET
                idx = excluded.idx,
                start_at = excluded.start_at,
                end_at = excluded.end_at,
                message_count = excluded.message_count`)
		if err != nil {
			return fmt.Errorf("prepare window insert: %w", err)
		}
		defer stmt.Close()
		for _, w := range windows {
			if _, err := stmt.ExecContext(ctx, runID, w.ID, w.Index, formatTime(w.Start), formatTime(w.End),
				len(w.Messages), string(window.StatusPending), now); err != nil {
				return fmt.Errorf("register window %s: %w", w.ID, err)
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE runs SET updated_at = ? WHERE run_id = ?`, now, runID)
		return err
	})
}

// MarkWindow records a non-success outcome for a window. Success is recorded
// only through CommitWindow so a window is never marked succeeded without its
// artifact.
func (s *Store) MarkWindow(ctx context.Context, runID, windowID string, status window.Status, reason string, attempts int) error {
	if status == window.StatusSucceeded {
		return fmt.Errorf("mark window %s: use CommitWindow to record success", windowID)
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE windows SET status = ?, reason = ?, attempts = ?, updated_at = ? WHERE run_id = ? AND window_id = ?`,
		string(status), nullableString(reason), attempts, formatTime(s.now()), runID, windowID,
	)
	if err != nil {
		return fmt.Errorf("mark window %s: %w", windowID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark window %s: not registered for run %s", windowID, runID)
	}
	return nil
}

// CommitWindow atomically stores the artifact row and marks the window
// succeeded.
func (s *Store) CommitWindow(ctx context.Context, runID string, art Artifact, attempts int) error {
	now := formatTime(s.now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE windows SET status = ?, reason = NULL, attempts = ?, updated_at = ? WHERE run_id = ? AND window_id = ?`,
			string(window.StatusSucceeded), attempts, now, runID, art.WindowID,
		)
		if err != nil {
			return fmt.Errorf("commit window %s: %w", art.WindowID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("commit window %s: not registered for run %s", art.WindowID, runID)
		}
		if err := upsertArtifact(ctx, tx, runID, art, now); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE runs SET updated_at = ? WHERE run_id = ?`, now, runID)
		return err
	})
}

func upsertArtifact(ctx context.Context, tx *sql.Tx, runID string, art Artifact, now string) error {
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO artifacts (run_id, window_id, path, sha256, created_at) VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(run_id, window_id) DO UPDATE SET path = excluded.path, sha256 = excluded.sha256`,
		runID, art.WindowID, art.Path, art.SHA256, now,
	); err != nil {
		return fmt.Errorf("store artifact %s: %w", art.WindowID, err)
	}
	return nil
}

// ListWindows returns a run's windows in index order.
func (s *Store) ListWindows(ctx context.Context, runID string) ([]WindowRecord, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `
        SELECT w.window_id, w.idx, w.start_at, w.end_at, w.message_count, w.status, w.reason,
               w.attempts, w.updated_at, a.path, a.sha256
        FROM windows w
        LEFT JOIN artifacts a ON a.run_id = w.run_id AND a.window_id = w.window_id
        WHERE w.run_id = ?
        ORDER BY w.idx, w.window_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	defer rows.Close()

	var out []WindowRecord
	for rows.Next() {
		rec, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		rec.RunID = runID
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate windows: %w", err)
	}
	return out, nil
}

// GetWindow returns one window record.
func (s *Store) GetWindow(ctx context.Context, runID, windowID string) (WindowRecord, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `
        SELECT w.window_id, w.idx, w.start_at, w.end_at, w.message_count, w.status, w.reason,
               w.attempts, w.updated_at, a.path, a.sha256
        FROM windows w
        LEFT JOIN artifacts a ON a.run_id = w.run_id AND a.window_id = w.window_id
        WHERE w.run_id = ? AND w.window_id = ?`, runID, windowID)
	rec, err := scanWindow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WindowRecord{}, fmt.Errorf("window %s not registered for run %s", windowID, runID)
	}
	if err != nil {
		return WindowRecord{}, err
	}
	rec.RunID = runID
	return rec, nil
}

func scanWindow(scanner interface{ Scan(dest ...any) error }) (WindowRecord, error) {
	var (
		rec        WindowRecord
		startRaw   sql.NullString
		endRaw     sql.NullString
		statusRaw  string
		reason     sql.NullString
		updatedRaw sql.NullString
		path       sql.NullString
		sha        sql.NullString
	)
	if err := scanner.Scan(&rec.ID, &rec.Index, &startRaw, &endRaw, &rec.MessageCount, &statusRaw, &reason,
		&rec.Attempts, &updatedRaw, &path, &sha); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return WindowRecord{}, err
		}
		return WindowRecord{}, fmt.Errorf("scan window: %w", err)
	}
	status, ok := window.ParseStatus(statusRaw)
	if !ok {
		return WindowRecord{}, fmt.Errorf("window %s: unknown status %q", rec.ID, statusRaw)
	}
	rec.Status = status
	rec.Start = parseTime(startRaw)
	rec.End = parseTime(endRaw)
	rec.Reason = reason.String
	rec.UpdatedAt = parseTime(updatedRaw)
	rec.ArtifactPath = path.String
	rec.ArtifactSHA256 = sha.String
	return rec, nil
}
