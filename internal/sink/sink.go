package sink

import (
	"context"
	"time"

	"chronicler/internal/enrich"
	"chronicler/internal/transcript"
)

// Artifact is the generated output for one window.
type Artifact struct {
	RunID       string
	WindowID    string
	Index       int
	Start       time.Time
	End         time.Time
	Text        string
	Transcript  []transcript.Message
	Links       []enrich.Summary
	Model       string
	GeneratedAt time.Time
}

// Receipt identifies where an artifact landed and its content digest.
type Receipt struct {
	Path   string
	SHA256 string
}

// Sink receives generated artifacts. Emit must be atomic: on error nothing
// observable is left behind.
type Sink interface {
	Emit(ctx context.Context, a Artifact) (Receipt, error)
}
