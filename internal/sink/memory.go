package sink

import (
	"context"
	"sort"
	"sync"

	"chronicler/internal/fileutil"
)

// Memory keeps artifacts in memory. It is intended for tests.
type Memory struct {
	mu        sync.Mutex
	artifacts map[string]Artifact
	order     []string
	// Fail, when set, is consulted before storing and its error returned.
	Fail func(a Artifact) error
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{artifacts: make(map[string]Artifact)}
}

// Emit stores the artifact keyed by run and window.
func (m *Memory) Emit(ctx context.Context, a Artifact) (Receipt, error) {
	if err := ctx.Err(); err != nil {
		return Receipt{}, err
	}
	if m.Fail != nil {
		if err := m.Fail(a); err != nil {
			return Receipt{}, err
		}
	}
	data, err := Render(a)
	if err != nil {
		return Receipt{}, err
	}
	key := a.RunID + "/" + a.WindowID
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[key]; !ok {
		m.order = append(m.order, key)
	}
	m.artifacts[key] = a
	return Receipt{Path: "memory://" + key, SHA256: fileutil.SHA256Hex(data)}, nil
}

// Get returns a stored artifact.
func (m *Memory) Get(runID, windowID string) (Artifact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[runID+"/"+windowID]
	return a, ok
}

// Artifacts returns stored artifacts for runID sorted by window index.
func (m *Memory) Artifacts(runID string) []Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Artifact
	for _, key := range m.order {
		if a := m.artifacts[key]; a.RunID == runID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Emits returns the number of distinct artifacts stored across all runs.
func (m *Memory) Emits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}
