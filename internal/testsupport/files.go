package testsupport

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"chronicler/internal/transcript"
)

// WriteJSONL writes messages as a JSONL transcript and returns its path.
func WriteJSONL(t testing.TB, path string, messages []transcript.Message) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, m := range messages {
		line := map[string]string{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"sender":    m.Sender,
			"text":      m.Text,
		}
		if err := enc.Encode(line); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	return path
}

// DailyMessages returns one message per day starting at start, alternating
// between the supplied senders.
func DailyMessages(start time.Time, days int, senders ...string) []transcript.Message {
	if len(senders) == 0 {
		senders = []string{"Alice"}
	}
	out := make([]transcript.Message, 0, days)
	for i := 0; i < days; i++ {
		out = append(out, transcript.Message{
			Timestamp: start.AddDate(0, 0, i),
			Sender:    senders[i%len(senders)],
			Text:      "day " + strconv.Itoa(i+1),
		})
	}
	return out
}
