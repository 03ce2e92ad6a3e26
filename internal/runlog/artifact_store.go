package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"wireframe/internal/artifact"
	"wireframe/internal/runner"
)

// ArtifactStore keeps each run as <prefix>/runs/<run id>.json next to the
// artifacts the run produced.
type ArtifactStore struct {
	store  artifact.Store
	prefix string
}

func NewArtifactStore(store artifact.Store, prefix string) *ArtifactStore {
	return &ArtifactStore{store: store, prefix: strings.TrimRight(strings.TrimSpace(prefix), "/")}
}

func (s *ArtifactStore) key(runID string) string {
	return artifact.Join(s.prefix, "runs", normalizeID(runID)+".json")
}

func (s *ArtifactStore) Save(ctx context.Context, run runner.RunResult) error {
	if s == nil || s.store == nil {
		return fmt.Errorf("store is nil")
	}
	if normalizeID(run.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	raw, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.RunID, err)
	}
	return s.store.Put(ctx, s.key(run.RunID), raw, true)
}

func (s *ArtifactStore) Get(ctx context.Context, runID string) (runner.RunResult, error) {
	if s == nil || s.store == nil {
		return runner.RunResult{}, fmt.Errorf("store is nil")
	}
	id := normalizeID(runID)
	if id == "" || strings.ContainsAny(id, "/\\") {
		return runner.RunResult{}, fmt.Errorf("get %s: %w", runID, ErrNotFound)
	}
	raw, err := s.store.Get(ctx, s.key(id))
	if errors.Is(err, artifact.ErrNotFound) {
		return runner.RunResult{}, fmt.Errorf("get %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return runner.RunResult{}, err
	}
	var run runner.RunResult
	if err := json.Unmarshal(raw, &run); err != nil {
		return runner.RunResult{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return run, nil
}

func (s *ArtifactStore) ListByMission(ctx context.Context, missionID string) ([]runner.RunResult, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	keys, err := s.store.List(ctx, artifact.Join(s.prefix, "runs"))
	if err != nil {
		return nil, err
	}
	var out []runner.RunResult
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		raw, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		var run runner.RunResult
		if err := json.Unmarshal(raw, &run); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		if run.MissionID == missionID {
			out = append(out, run)
		}
	}
	newestFirst(out)
	return out, nil
}
