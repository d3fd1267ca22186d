package pipeline

import (
	"sync"
	"time"
)

// RunState guards the single-flight invariant: at most one run is Running
// within the process. Scheduled and manual triggers share one instance.
type RunState struct {
	mu        sync.Mutex
	running   bool
	current   *Run
	lastRunAt time.Time
	last      *Run
}

type Status struct {
	Running   bool
	Current   *Run
	LastRunAt time.Time
	Last      *Run
}

func NewRunState() *RunState {
	return &RunState{}
}

// TryAcquire moves the state to Running. It returns false, with no side
// effects, when a run is already in progress.
func (s *RunState) TryAcquire(run Run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}

	s.running = true
	s.current = &run
	return true
}

// Release records the terminal run and frees the lock.
func (s *RunState) Release(run Run) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.current = nil
	s.lastRunAt = run.FinishedAt
	s.last = &run
}

func (s *RunState) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{Running: s.running, LastRunAt: s.lastRunAt}
	if s.current != nil {
		current := *s.current
		status.Current = &current
	}
	if s.last != nil {
		last := *s.last
		status.Last = &last
	}
	return status
}
