package task

import (
	"errors"
	"sync"
)

// ErrTaskBusy is returned when a trigger arrives for a task that
// already has a run in flight.
var ErrTaskBusy = errors.New("task already has a run in flight")

// inflight enforces at most one concurrent run per task ID.
type inflight struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newInflight() *inflight {
	return &inflight{running: make(map[string]struct{})}
}

func (f *inflight) TryAcquire(taskID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.running[taskID]; busy {
		return false
	}
	f.running[taskID] = struct{}{}
	return true
}

func (f *inflight) Release(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.running, taskID)
}
