// Package status serves the progress and outcome of runs over HTTP.
package status

import (
	"context"
	"strings"
	"sync"
	"time"

	"wireframe/internal/runner"
)

const (
	defaultSubscriberBuffer = 32
	defaultRetention        = 30 * time.Second
)

// Hub records run events and fans them out to watchers. It is a
// runner.Observer; Observe never blocks on a slow watcher, the oldest
// queued event is dropped instead.
type Hub struct {
	mu        sync.Mutex
	runs      map[string]*runState
	buffer    int
	retention time.Duration
}

type runState struct {
	history  []runner.Event
	snapshot runner.RunResult
	started  bool
	finished bool
	subs     map[chan runner.Event]struct{}
}

type HubOption func(*Hub)

// WithRetention keeps a finished run's events for d before forgetting them.
func WithRetention(d time.Duration) HubOption {
	return func(h *Hub) { h.retention = d }
}

func WithSubscriberBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		runs:      make(map[string]*runState),
		buffer:    defaultSubscriberBuffer,
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) state(runID string) *runState {
	id := strings.TrimSpace(runID)
	st, ok := h.runs[id]
	if !ok {
		st = &runState{subs: make(map[chan runner.Event]struct{})}
		h.runs[id] = st
	}
	return st
}

func (h *Hub) Observe(_ context.Context, ev runner.Event) {
	if h == nil || strings.TrimSpace(ev.RunID) == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	st := h.state(ev.RunID)
	st.history = append(st.history, ev)
	switch ev.Type {
	case runner.EventRunStarted:
		st.started = true
		st.snapshot = runner.RunResult{RunID: ev.RunID, MissionID: ev.MissionID, StartedAt: ev.At}
	case runner.EventStageFinished:
		if ev.Result != nil {
			st.snapshot.Stages = append(st.snapshot.Stages, *ev.Result)
		}
	case runner.EventRunFinished:
		st.finished = true
		if ev.Run != nil {
			st.snapshot = *ev.Run
		}
	}
	for ch := range st.subs {
		push(ch, ev)
		if st.finished {
			close(ch)
			delete(st.subs, ch)
		}
	}
	if st.finished && h.retention > 0 {
		id := strings.TrimSpace(ev.RunID)
		time.AfterFunc(h.retention, func() { h.forget(id) })
	}
}

func (h *Hub) forget(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.runs[runID]
	if !ok || len(st.subs) > 0 {
		return
	}
	delete(h.runs, runID)
}

// Snapshot returns what is known about a run that is in progress or
// recently finished. Finished reports whether the run is complete.
func (h *Hub) Snapshot(runID string) (run runner.RunResult, finished, ok bool) {
	if h == nil {
		return runner.RunResult{}, false, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	st, exists := h.runs[strings.TrimSpace(runID)]
	if !exists || !st.started {
		return runner.RunResult{}, false, false
	}
	run = st.snapshot
	run.Stages = append([]runner.StageResult(nil), st.snapshot.Stages...)
	if !st.finished {
		run.Status = runner.Aggregate(run.Stages)
	}
	return run, st.finished, true
}

// Subscribe returns a channel that first replays the run's events so far
// and then receives new ones. The channel is closed once the run finishes
// or ctx is done. ok is false when the hub holds nothing for the run,
// either because it never started here or because it was forgotten.
func (h *Hub) Subscribe(ctx context.Context, runID string) (<-chan runner.Event, bool) {
	if h == nil {
		return nil, false
	}
	h.mu.Lock()
	st, exists := h.runs[strings.TrimSpace(runID)]
	if !exists {
		h.mu.Unlock()
		return nil, false
	}
	ch := make(chan runner.Event, h.buffer+len(st.history))
	for _, ev := range st.history {
		ch <- ev
	}
	if st.finished {
		close(ch)
		h.mu.Unlock()
		return ch, true
	}
	st.subs[ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := st.subs[ch]; ok {
			delete(st.subs, ch)
			close(ch)
		}
	}()
	return ch, true
}

func push(ch chan runner.Event, ev runner.Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}
