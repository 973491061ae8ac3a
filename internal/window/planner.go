package window

import (
	"fmt"
	"slices"
	"time"

	"chronicler/internal/services"
	"chronicler/internal/transcript"
)

const durationIDLayout = "20060102T1504Z0700"

// Plan partitions messages according to policy. The input is not modified.
func Plan(messages []transcript.Message, policy Policy) ([]Window, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	sorted := make([]transcript.Message, len(messages))
	copy(sorted, messages)
	for i, msg := range sorted {
		if msg.Timestamp.IsZero() {
			return nil, services.Wrap(services.ErrValidation, "window", "plan", fmt.Sprintf("message %d has no timestamp", i), nil)
		}
	}
	slices.SortStableFunc(sorted, func(a, b transcript.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if len(sorted) == 0 {
		return nil, nil
	}

	var windows []Window
	switch policy.Unit {
	case UnitMessages:
		windows = planByCount(sorted, policy.Size)
	case UnitBytes:
		windows = planByBytes(sorted, policy.Size)
	default:
		windows = planByDuration(sorted, policy)
	}
	if policy.MaxBytes > 0 && policy.Unit != UnitBytes {
		windows = splitOversize(windows, policy.MaxBytes)
	}
	return windows, nil
}

// planByCount chunks sorted messages by count.
func planByCount(sorted []transcript.Message, size int) []Window {
	return planRanges(sorted, func(first int) int {
		return min(first+size, len(sorted)) - 1
	})
}

// planByBytes packs sorted messages until their text would exceed budget.
// A message larger than budget still gets a window of its own.
func planByBytes(sorted []transcript.Message, budget int) []Window {
	return planRanges(sorted, func(first int) int {
		last, total := first, len(sorted[first].Text)
		for last+1 < len(sorted) && total+len(sorted[last+1].Text) <= budget {
			last++
			total += len(sorted[last].Text)
		}
		return last
	})
}

// planRanges cuts sorted into consecutive chunks; lastOf picks the final
// index of the chunk starting at first. A chunk is extended while the next
// message shares its last timestamp, so windows never overlap.
func planRanges(sorted []transcript.Message, lastOf func(first int) int) []Window {
	var windows []Window
	for first := 0; first < len(sorted); {
		last := lastOf(first)
		for last+1 < len(sorted) && sorted[last+1].Timestamp.Equal(sorted[last].Timestamp) {
			last++
		}
		chunk := sorted[first : last+1]
		windows = append(windows, Window{
			ID:       fmt.Sprintf("msg%06d-%06d", first+1, last+1),
			Index:    len(windows) + 1,
			Start:    chunk[0].Timestamp,
			End:      chunk[len(chunk)-1].Timestamp.Add(time.Nanosecond),
			Messages: chunk,
			Status:   StatusPending,
		})
		first = last + 1
	}
	return windows
}

func planByDuration(sorted []transcript.Message, policy Policy) []Window {
	loc := policy.location()
	step := stepper(policy)

	start := anchor(sorted[0].Timestamp.In(loc), policy.Unit)
	end := step(start)

	var (
		windows []Window
		bucket  []transcript.Message
	)
	flush := func() {
		if len(bucket) == 0 {
			return
		}
		windows = append(windows, Window{
			ID:       start.Format(durationIDLayout),
			Index:    len(windows) + 1,
			Start:    start,
			End:      end,
			Messages: bucket,
			Status:   StatusPending,
		})
		bucket = nil
	}

	for _, msg := range sorted {
		if !msg.Timestamp.Before(end) {
			flush()
			for !msg.Timestamp.Before(end) {
				start = end
				end = step(start)
			}
		}
		bucket = append(bucket, msg)
	}
	flush()
	return windows
}

func anchor(ts time.Time, unit Unit) time.Time {
	y, m, d := ts.Date()
	if unit == UnitHours {
		return time.Date(y, m, d, ts.Hour(), 0, 0, 0, ts.Location())
	}
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location())
}

func stepper(policy Policy) func(time.Time) time.Time {
	size := policy.Size
	if policy.Unit == UnitHours {
		return func(t time.Time) time.Time { return t.Add(time.Duration(size) * time.Hour) }
	}
	return func(t time.Time) time.Time { return t.AddDate(0, 0, size) }
}
