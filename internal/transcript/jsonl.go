package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type jsonlRecord struct {
	Timestamp string `json:"timestamp"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
}

// JSONLSource reads one JSON object per line with timestamp (RFC 3339),
// sender, and text fields. Blank lines are skipped.
type JSONLSource struct {
	name    string
	closer  io.Closer
	scanner *bufio.Scanner
	line    int
}

// OpenJSONL opens path for streaming. Callers must Close the source.
func OpenJSONL(path string) (*JSONLSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	src := NewJSONLReader(path, file)
	src.closer = file
	return src, nil
}

// NewJSONLReader wraps r. name is used in error messages only.
func NewJSONLReader(name string, r io.Reader) *JSONLSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &JSONLSource{name: name, scanner: scanner}
}

// Name returns the path or label the source was opened with.
func (s *JSONLSource) Name() string { return s.name }

func (s *JSONLSource) Next(ctx context.Context) (Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return Message{}, fmt.Errorf("%s: read: %w", s.name, err)
			}
			return Message{}, io.EOF
		}
		s.line++
		raw := strings.TrimSpace(s.scanner.Text())
		if raw == "" {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return Message{}, fmt.Errorf("%s:%d: decode: %w", s.name, s.line, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(rec.Timestamp))
		if err != nil {
			return Message{}, fmt.Errorf("%s:%d: timestamp: %w", s.name, s.line, err)
		}
		return Message{Timestamp: ts, Sender: rec.Sender, Text: rec.Text}, nil
	}
}

// Close releases the underlying file, if any.
func (s *JSONLSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
