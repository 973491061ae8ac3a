package transcript_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chronicler/internal/transcript"
)

func TestJSONLSourceReadsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.jsonl")
	body := strings.Join([]string{
		`{"timestamp":"2024-03-01T09:00:00Z","sender":"+1 555-0100","text":"morning"}`,
		``,
		`{"timestamp":"2024-03-01T09:05:00+02:00","sender":"ana","text":"hi"}`,
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}

	src, err := transcript.OpenJSONL(path)
	if err != nil {
		t.Fatalf("OpenJSONL: %v", err)
	}
	defer src.Close()

	msgs, err := transcript.Drain(context.Background(), src)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Sender != "+1 555-0100" || msgs[0].Text != "morning" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	want := time.Date(2024, 3, 1, 7, 5, 0, 0, time.UTC)
	if !msgs[1].Timestamp.Equal(want) {
		t.Fatalf("expected %s, got %s", want, msgs[1].Timestamp)
	}
}

func TestJSONLSourceReportsLine(t *testing.T) {
	src := transcript.NewJSONLReader("inline", strings.NewReader("{\"timestamp\":\"nope\"}\n"))
	_, err := src.Next(context.Background())
	if err == nil || !strings.Contains(err.Error(), "inline:1") {
		t.Fatalf("expected line-tagged error, got %v", err)
	}
}

func TestInRangeFilters(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var msgs []transcript.Message
	for i := range 5 {
		msgs = append(msgs, transcript.Message{Timestamp: base.AddDate(0, 0, i), Sender: "a"})
	}
	src := transcript.InRange(transcript.NewSliceSource(msgs), base.AddDate(0, 0, 1), base.AddDate(0, 0, 3))
	got, err := transcript.Drain(context.Background(), src)
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 messages in range, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(base.AddDate(0, 0, 1)) {
		t.Fatalf("unexpected first timestamp %s", got[0].Timestamp)
	}
}
