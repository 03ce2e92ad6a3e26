package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"wireframe/internal/artifact"
)

// Sequencer runs stages in their fixed order. Every stage is attempted; a
// failure is recorded in the stage's result and never aborts the run.
type Sequencer struct {
	store       artifact.Store
	stages      []Stage
	scratchRoot string
	observers   []Observer
	now         func() time.Time
}

type Option func(*Sequencer)

// WithScratchRoot sets the parent directory of per-stage scratch dirs.
func WithScratchRoot(dir string) Option {
	return func(s *Sequencer) { s.scratchRoot = strings.TrimSpace(dir) }
}

func WithObservers(obs ...Observer) Option {
	return func(s *Sequencer) { s.observers = append(s.observers, obs...) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Sequencer) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSequencer(store artifact.Store, stages []Stage, opts ...Option) *Sequencer {
	s := &Sequencer{
		store:  store,
		stages: append([]Stage(nil), stages...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StageNames lists the stages in execution order.
func (s *Sequencer) StageNames() []string {
	names := make([]string, 0, len(s.stages))
	for _, st := range s.stages {
		names = append(names, st.Name())
	}
	return names
}

// Run executes every stage once, in order, and returns one result per stage.
func (s *Sequencer) Run(ctx context.Context, rc RunContext) RunResult {
	run := RunResult{
		RunID:     rc.RunID(),
		MissionID: rc.MissionID(),
		Stages:    make([]StageResult, 0, len(s.stages)),
		StartedAt: s.now(),
	}
	log.Printf("runner: run %s started mission=%s stages=%s", run.RunID, run.MissionID, strings.Join(s.StageNames(), ","))
	notify(ctx, s.observers, Event{Type: EventRunStarted, RunID: run.RunID, MissionID: run.MissionID, At: run.StartedAt})

	for _, stage := range s.stages {
		notify(ctx, s.observers, Event{Type: EventStageStarted, RunID: run.RunID, MissionID: run.MissionID, Stage: stage.Name(), At: s.now()})
		res := s.runStage(ctx, rc, stage)
		run.Stages = append(run.Stages, res)
		if res.Succeeded() {
			log.Printf("runner: stage %s succeeded produced=%d", res.Stage, len(res.Produced))
		} else {
			log.Printf("runner: stage %s failed produced=%d failures=%d: %s", res.Stage, len(res.Produced), len(res.Failures), res.Error)
		}
		r := res
		notify(ctx, s.observers, Event{Type: EventStageFinished, RunID: run.RunID, MissionID: run.MissionID, Stage: res.Stage, Result: &r, At: res.FinishedAt})
	}

	run.Status = Aggregate(run.Stages)
	run.FinishedAt = s.now()
	log.Printf("runner: run %s finished status=%s", run.RunID, run.Status)
	final := run
	final.Stages = append([]StageResult(nil), run.Stages...)
	notify(ctx, s.observers, Event{Type: EventRunFinished, RunID: run.RunID, MissionID: run.MissionID, Run: &final, At: run.FinishedAt})
	return run
}

func (s *Sequencer) runStage(ctx context.Context, rc RunContext, stage Stage) (res StageResult) {
	name := stage.Name()
	res = StageResult{Stage: name, Produced: []string{}, StartedAt: s.now()}
	var failures []*Error
	defer func() {
		res.FinishedAt = s.now()
		res.Status = StatusSucceeded
		if len(failures) > 0 {
			res.Status = StatusFailed
			res.Error = (&StageError{Stage: name, Errs: failures}).Error()
			for _, f := range failures {
				res.Failures = append(res.Failures, f.Failure())
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		failures = append(failures, &Error{Kind: KindInternal, Stage: name, Step: "start", Err: err})
		return res
	}
	if s.store == nil {
		failures = append(failures, &Error{Kind: KindStore, Stage: name, Step: "start", Err: fmt.Errorf("store is nil")})
		return res
	}

	scratch, err := artifact.NewScratch(s.scratchRoot, "stage-"+name+"-*")
	if err != nil {
		failures = append(failures, &Error{Kind: KindInternal, Stage: name, Step: "start", Err: err})
		return res
	}
	defer func() {
		if err := scratch.Close(); err != nil {
			log.Printf("runner: stage %s scratch cleanup: %v", name, err)
		}
	}()

	inputs, bindErr := bindings(name, stepResolve, func() []Binding { return stage.Inputs(rc) })
	if bindErr != nil {
		failures = append(failures, bindErr)
		return res
	}
	in := newInputs(name, scratch)
	required := 0
	for _, b := range inputs {
		in.declared[b.Name] = b
		h, raw, err := scratch.Fetch(ctx, s.store, b.Key)
		if err != nil {
			kind := KindStore
			if errors.Is(err, artifact.ErrNotFound) {
				kind = KindResolution
			}
			e := &Error{Kind: kind, Stage: name, Step: stepResolve, Key: b.Key, Err: err}
			if b.Optional {
				in.missing[b.Name] = e
				continue
			}
			failures = append(failures, e)
			required++
			continue
		}
		in.resolved[b.Name] = Artifact{Name: b.Name, Key: b.Key, Format: b.Format, Path: h.Path, Content: raw}
	}
	if required > 0 {
		return res
	}

	outs, bodyErr := invoke(ctx, stage, in, rc)
	failures = append(failures, classify(name, bodyErr, KindInternal)...)
	if unused := in.unused(); len(unused) > 0 {
		log.Printf("WARNING: stage %s declared but did not read: %v", name, unused)
	}

	declared, bindErr := bindings(name, "persist", func() []Binding { return stage.Outputs(rc) })
	if bindErr != nil {
		failures = append(failures, bindErr)
		return res
	}
	known := make(map[string]bool, len(declared))
	for _, b := range declared {
		known[b.Name] = true
	}
	undeclared := make([]string, 0)
	for outName := range outs {
		if !known[outName] {
			undeclared = append(undeclared, outName)
		}
	}
	sort.Strings(undeclared)
	for _, outName := range undeclared {
		failures = append(failures, &Error{Kind: KindInternal, Stage: name, Step: "persist", Err: fmt.Errorf("output %q is not declared", outName)})
	}

	for _, b := range declared {
		a, ok := outs[b.Name]
		if !ok {
			if bodyErr == nil {
				failures = append(failures, &Error{Kind: KindInternal, Stage: name, Step: "persist", Key: b.Key, Err: fmt.Errorf("declared output %q was not produced", b.Name)})
			}
			continue
		}
		if err := s.store.Put(ctx, b.Key, a.Content, true); err != nil {
			failures = append(failures, &Error{Kind: KindStore, Stage: name, Step: "persist", Key: b.Key, Err: err})
			continue
		}
		res.Produced = append(res.Produced, b.Key)
	}
	return res
}

// bindings calls a stage's Inputs or Outputs, turning a panic into a
// failure of that stage.
func bindings(stage, step string, fn func() []Binding) (bs []Binding, err *Error) {
	defer func() {
		if r := recover(); r != nil {
			bs = nil
			err = &Error{Kind: KindInternal, Stage: stage, Step: step, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return fn(), nil
}

func invoke(ctx context.Context, stage Stage, in *Inputs, rc RunContext) (outs Outputs, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: KindInternal, Stage: stage.Name(), Step: "execute", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return stage.Execute(ctx, in, rc)
}
