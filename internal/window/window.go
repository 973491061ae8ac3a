package window

import (
	"fmt"
	"strings"
	"time"

	"chronicler/internal/services"
	"chronicler/internal/transcript"
)

// Unit selects how windows are sized.
type Unit string

const (
	UnitDays     Unit = "days"
	UnitHours    Unit = "hours"
	UnitMessages Unit = "messages"
	UnitBytes    Unit = "bytes"
)

// ParseUnit accepts singular or plural spellings.
func ParseUnit(value string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "day", "days":
		return UnitDays, nil
	case "hour", "hours":
		return UnitHours, nil
	case "message", "messages":
		return UnitMessages, nil
	case "byte", "bytes":
		return UnitBytes, nil
	default:
		return "", fmt.Errorf("unknown window unit %q", value)
	}
}

// Status is the lifecycle state of a window within a run.
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusSucceeded    Status = "succeeded"
	StatusQuotaBlocked Status = "quota_blocked"
	StatusFailed       Status = "failed"
)

// ParseStatus converts persisted text back into a Status.
func ParseStatus(value string) (Status, bool) {
	switch Status(strings.TrimSpace(value)) {
	case StatusPending, StatusRunning, StatusSucceeded, StatusQuotaBlocked, StatusFailed:
		return Status(strings.TrimSpace(value)), true
	default:
		return "", false
	}
}

// Policy configures the planner. For UnitBytes, Size is the text budget of
// one window. MaxBytes, when positive, splits any other window whose text
// exceeds it.
type Policy struct {
	Unit     Unit
	Size     int
	MaxBytes int
	Location *time.Location
}

// Validate reports configuration mistakes as validation errors.
func (p Policy) Validate() error {
	switch p.Unit {
	case UnitDays, UnitHours, UnitMessages, UnitBytes:
	default:
		return services.Validation("window", fmt.Sprintf("unsupported unit %q", p.Unit))
	}
	if p.Size < 1 {
		return services.Validation("window", fmt.Sprintf("size must be positive, got %d", p.Size))
	}
	if p.MaxBytes < 0 {
		return services.Validation("window", fmt.Sprintf("max bytes must not be negative, got %d", p.MaxBytes))
	}
	return nil
}

func (p Policy) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// Window is one contiguous slice of the transcript.
type Window struct {
	ID       string
	Index    int
	Start    time.Time
	End      time.Time
	Messages []transcript.Message
	Status   Status
}
