package runlog

import (
	"context"
	"fmt"
	"sync"

	"wireframe/internal/runner"
)

type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]runner.RunResult
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]runner.RunResult)}
}

func (s *MemoryStore) Save(_ context.Context, run runner.RunResult) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	id := normalizeID(run.RunID)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[id] = clone(run)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, runID string) (runner.RunResult, error) {
	if s == nil {
		return runner.RunResult{}, fmt.Errorf("store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[normalizeID(runID)]
	if !ok {
		return runner.RunResult{}, fmt.Errorf("get %s: %w", runID, ErrNotFound)
	}
	return clone(run), nil
}

func (s *MemoryStore) ListByMission(_ context.Context, missionID string) ([]runner.RunResult, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []runner.RunResult
	for _, run := range s.runs {
		if run.MissionID == missionID {
			out = append(out, clone(run))
		}
	}
	newestFirst(out)
	return out, nil
}
