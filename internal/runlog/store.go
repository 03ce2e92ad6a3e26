// Package runlog persists run results so a finished run can be inspected
// after the process that executed it is gone.
package runlog

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"

	"wireframe/internal/runner"
)

var ErrNotFound = errors.New("run not found")

// Store saves and loads run results by run id.
type Store interface {
	Save(ctx context.Context, run runner.RunResult) error
	Get(ctx context.Context, runID string) (runner.RunResult, error)
	// ListByMission returns the runs of a mission, newest first.
	ListByMission(ctx context.Context, missionID string) ([]runner.RunResult, error)
}

// Recorder saves every finished run into each of its stores.
type Recorder struct {
	stores []Store
}

func NewRecorder(stores ...Store) *Recorder {
	out := make([]Store, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Recorder{stores: out}
}

func (r *Recorder) Observe(ctx context.Context, ev runner.Event) {
	if r == nil || ev.Type != runner.EventRunFinished || ev.Run == nil {
		return
	}
	for _, s := range r.stores {
		if err := s.Save(ctx, *ev.Run); err != nil {
			log.Printf("runlog: save run %s: %v", ev.Run.RunID, err)
		}
	}
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}

func newestFirst(runs []runner.RunResult) {
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}

func clone(run runner.RunResult) runner.RunResult {
	out := run
	out.Stages = make([]runner.StageResult, len(run.Stages))
	for i, st := range run.Stages {
		cp := st
		cp.Failures = append([]runner.Failure(nil), st.Failures...)
		cp.Produced = append([]string(nil), st.Produced...)
		out.Stages[i] = cp
	}
	return out
}
