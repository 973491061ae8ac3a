package window

import (
	"fmt"
	"time"

	"chronicler/internal/services"
)

// TextBytes returns the combined length of the window's message text.
func (w Window) TextBytes() int {
	total := 0
	for _, msg := range w.Messages {
		total += len(msg.Text)
	}
	return total
}

// SplitWindow cuts w into n slices of equal duration and keeps the
// non-empty ones. A window too short to divide is returned unchanged.
func SplitWindow(w Window, n int) ([]Window, error) {
	if n < 2 {
		return nil, services.Validation("window", fmt.Sprintf("split needs at least 2 parts, got %d", n))
	}
	step := w.End.Sub(w.Start) / time.Duration(n)
	if step <= 0 {
		return []Window{w}, nil
	}
	parts := make([]Window, 0, n)
	next := 0
	for i := range n {
		start := w.Start.Add(step * time.Duration(i))
		end := w.End
		if i < n-1 {
			end = w.Start.Add(step * time.Duration(i+1))
		}
		first := next
		for next < len(w.Messages) && w.Messages[next].Timestamp.Before(end) {
			next++
		}
		if next == first {
			continue
		}
		parts = append(parts, Window{
			ID:       fmt.Sprintf("%s.%d", w.ID, i+1),
			Index:    w.Index,
			Start:    start,
			End:      end,
			Messages: w.Messages[first:next],
			Status:   w.Status,
		})
	}
	return parts, nil
}

func splitOversize(windows []Window, maxBytes int) []Window {
	out := make([]Window, 0, len(windows))
	for _, w := range windows {
		size := w.TextBytes()
		if size <= maxBytes {
			out = append(out, w)
			continue
		}
		parts, _ := SplitWindow(w, max(2, (size+maxBytes-1)/maxBytes))
		out = append(out, parts...)
	}
	for i := range out {
		out[i].Index = i + 1
	}
	return out
}
