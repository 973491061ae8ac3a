package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"chronicler/internal/services"
)

// RunLock is an exclusive advisory lock on one run ID.
type RunLock struct {
	lock *flock.Flock
}

// AcquireRunLock takes the lock for runID under stateDir/locks. A run that is
// already locked by another process is reported as a validation error.
func AcquireRunLock(stateDir, runID string) (*RunLock, error) {
	if err := ValidateRunID(runID); err != nil {
		return nil, err
	}
	dir := filepath.Join(stateDir, "locks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure lock directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, runID+".lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, services.Validation("checkpoint", fmt.Sprintf("run %s is already in progress", runID))
	}
	return &RunLock{lock: lock}, nil
}

// Release unlocks the run.
func (l *RunLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
