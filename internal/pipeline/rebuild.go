package pipeline

import (
	"context"

	"chronicler/internal/checkpoint"
	"chronicler/internal/sink"
)

// RebuildRun reconciles the checkpoint of runID with the artifacts found in
// the markdown output directory.
func RebuildRun(ctx context.Context, store *checkpoint.Store, out *sink.Markdown, runID string) (checkpoint.RebuildResult, error) {
	if err := checkpoint.ValidateRunID(runID); err != nil {
		return checkpoint.RebuildResult{}, err
	}
	stored, err := out.Scan(runID)
	if err != nil {
		return checkpoint.RebuildResult{}, err
	}
	found := make([]checkpoint.Artifact, 0, len(stored))
	for _, s := range stored {
		found = append(found, checkpoint.Artifact{
			WindowID:     s.Frontmatter.WindowID,
			Index:        s.Frontmatter.Index,
			Start:        s.Frontmatter.Start,
			End:          s.Frontmatter.End,
			MessageCount: s.Frontmatter.Messages,
			Path:         s.Path,
			SHA256:       s.SHA256,
		})
	}
	return store.Rebuild(ctx, runID, found)
}
