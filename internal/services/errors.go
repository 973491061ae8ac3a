package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrPrivacyViolation = errors.New("privacy violation")
	ErrRetryable        = errors.New("retryable provider error")
	ErrQuotaExhausted   = errors.New("quota exhausted")
	ErrFatalAuth        = errors.New("fatal authentication error")
	ErrProvider         = errors.New("provider error")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Reason strings persisted in the checkpoint and surfaced in run reports.
const (
	ReasonPrivacyViolation = "privacy_violation"
	ReasonQuotaExhausted   = "quota_exhausted"
	ReasonFatalAuth        = "fatal_auth"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonProviderError    = "provider_error"
	ReasonValidation       = "validation"
	ReasonCanceled         = "canceled"
	ReasonUnknown          = "unknown"
)

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrProvider
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Validation is shorthand for a configuration or input error that aborts a run.
func Validation(component, message string) error {
	return Wrap(ErrValidation, component, "", message, nil)
}

// ProviderError describes a failed generation provider call.
type ProviderError struct {
	Marker     error
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString("provider")
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": http %d", e.StatusCode)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports the marker the error was classified with.
func (e *ProviderError) Is(target error) bool {
	marker := e.Marker
	if marker == nil {
		marker = ErrProvider
	}
	return target == marker
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RetryAfterHint returns the provider suggested wait, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var perr *ProviderError
	if errors.As(err, &perr) && perr.RetryAfter > 0 {
		return perr.RetryAfter, true
	}
	return 0, false
}

// IsRetryable reports whether err should be retried by the executor.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFatalAuth) || errors.Is(err, ErrPrivacyViolation) || errors.Is(err, ErrQuotaExhausted) {
		return false
	}
	return errors.Is(err, ErrRetryable)
}

// Classify maps an error to the stable reason string stored with a window.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPrivacyViolation):
		return ReasonPrivacyViolation
	case errors.Is(err, ErrQuotaExhausted):
		return ReasonQuotaExhausted
	case errors.Is(err, ErrFatalAuth):
		return ReasonFatalAuth
	case errors.Is(err, ErrRetriesExhausted):
		return ReasonRetriesExhausted
	case errors.Is(err, ErrValidation):
		return ReasonValidation
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, ErrProvider), errors.Is(err, ErrRetryable):
		return ReasonProviderError
	default:
		return ReasonUnknown
	}
}

// AbortsRun reports whether err must stop every remaining window of a run
// because no window could possibly succeed.
func AbortsRun(err error) bool {
	return errors.Is(err, ErrFatalAuth) || errors.Is(err, ErrValidation)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
