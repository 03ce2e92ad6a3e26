package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wireframe/internal/artifact"
)

type fakeStage struct {
	name    string
	inputs  []Binding
	outputs []Binding
	run     func(ctx context.Context, in *Inputs, rc RunContext) (Outputs, error)
	calls   int
}

func (f *fakeStage) Name() string                  { return f.name }
func (f *fakeStage) Inputs(RunContext) []Binding  { return f.inputs }
func (f *fakeStage) Outputs(RunContext) []Binding { return f.outputs }
func (f *fakeStage) Execute(ctx context.Context, in *Inputs, rc RunContext) (Outputs, error) {
	f.calls++
	return f.run(ctx, in, rc)
}

func testRunContext(t *testing.T) RunContext {
	t.Helper()
	rc, err := NewRunContext(RunConfig{
		RunID:           "run-1",
		MissionID:       "173567",
		SourceDirectory: "/images",
		SaveDirectory:   "/out",
	})
	require.NoError(t, err)
	return rc
}

func copyStage(name, from, to string) *fakeStage {
	return &fakeStage{
		name:    name,
		inputs:  []Binding{{Name: "src", Key: from, Format: FormatGeoTIFF}},
		outputs: []Binding{{Name: "dst", Key: to, Format: FormatGeoTIFF}},
		run: func(_ context.Context, in *Inputs, _ RunContext) (Outputs, error) {
			a, err := in.Get("src")
			if err != nil {
				return nil, err
			}
			onDisk, err := os.ReadFile(a.Path)
			if err != nil {
				return nil, err
			}
			out := Outputs{}
			out.Add("dst", FormatGeoTIFF, append(onDisk, '+'))
			return out, nil
		},
	}
}

func TestSequencerSuccessPersistsDeclaredOutputs(t *testing.T) {
	store := artifact.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "/images/a.tif", []byte("a"), true))

	first := copyStage("first", "/images/a.tif", "/out/b.tif")
	second := copyStage("second", "/out/b.tif", "/out/c.tif")
	seq := NewSequencer(store, []Stage{first, second}, WithScratchRoot(t.TempDir()))

	run := seq.Run(ctx, testRunContext(t))
	require.Len(t, run.Stages, 2)
	assert.Equal(t, RunSucceeded, run.Status)
	for _, res := range run.Stages {
		assert.Equal(t, StatusSucceeded, res.Status, res.Error)
		assert.Empty(t, res.Failures)
	}
	assert.Equal(t, []string{"/out/c.tif"}, run.Stages[1].Produced)

	got, err := store.Get(ctx, "/out/c.tif")
	require.NoError(t, err)
	assert.Equal(t, "a++", string(got))
}

func TestSequencerMissingRequiredInputSkipsBody(t *testing.T) {
	store := artifact.NewMemoryStore()
	stage := copyStage("first", "/images/missing.tif", "/out/b.tif")
	seq := NewSequencer(store, []Stage{stage}, WithScratchRoot(t.TempDir()))

	run := seq.Run(context.Background(), testRunContext(t))
	res := run.Stages[0]
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 0, stage.calls)
	assert.True(t, res.HasFailure(KindResolution, "missing.tif"))
	assert.Contains(t, res.Error, "/images/missing.tif")
	assert.Empty(t, res.Produced)
	assert.Equal(t, RunFailed, run.Status)
}

func TestSequencerReportsEveryMissingRequiredInput(t *testing.T) {
	stage := &fakeStage{
		name: "post",
		inputs: []Binding{
			{Name: "a", Key: "/out/a.tif"},
			{Name: "b", Key: "/out/b.tif"},
		},
		run: func(context.Context, *Inputs, RunContext) (Outputs, error) { return nil, nil },
	}
	run := NewSequencer(artifact.NewMemoryStore(), []Stage{stage}, WithScratchRoot(t.TempDir())).Run(context.Background(), testRunContext(t))
	res := run.Stages[0]
	require.Len(t, res.Failures, 2)
	assert.True(t, res.HasFailure(KindResolution, "a.tif"))
	assert.True(t, res.HasFailure(KindResolution, "b.tif"))
}

func TestSequencerOptionalInputStillRunsBody(t *testing.T) {
	store := artifact.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "/images/a.tif", []byte("a"), true))

	stage := &fakeStage{
		name: "pre",
		inputs: []Binding{
			{Name: "a", Key: "/images/a.tif"},
			{Name: "dsm", Key: "/images/dsm.tif", Optional: true},
		},
		outputs: []Binding{
			{Name: "resized", Key: "/out/resized.tif"},
			{Name: "byte", Key: "/out/byte.tif"},
		},
		run: func(_ context.Context, in *Inputs, _ RunContext) (Outputs, error) {
			steps := NewSteps("pre")
			out := Outputs{}
			steps.Run("resize", KindTransform, func() error {
				a, err := in.Get("a")
				if err != nil {
					return err
				}
				out.Add("resized", FormatGeoTIFF, a.Content)
				return nil
			})
			steps.Run("quantize", KindTransform, func() error {
				_, err := in.Get("dsm")
				return err
			})
			return out, steps.Err()
		},
	}
	run := NewSequencer(store, []Stage{stage}, WithScratchRoot(t.TempDir())).Run(ctx, testRunContext(t))
	res := run.Stages[0]

	assert.Equal(t, 1, stage.calls)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, []string{"/out/resized.tif"}, res.Produced)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, Failure{Step: "quantize", Kind: KindResolution, Key: "/images/dsm.tif", Detail: res.Failures[0].Detail}, res.Failures[0])

	ok, err := store.Exists(ctx, "/out/resized.tif")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSequencerContinuesAfterFailure(t *testing.T) {
	store := artifact.NewMemoryStore()
	boom := &fakeStage{
		name:    "predict",
		outputs: []Binding{{Name: "mask", Key: "/out/mask.tif"}},
		run: func(context.Context, *Inputs, RunContext) (Outputs, error) {
			return nil, NewError(KindInference, "predict_boundary", "", errors.New("cuda out of memory"))
		},
	}
	post := copyStage("postprocess", "/out/mask.tif", "/out/output.geojson")
	run := NewSequencer(store, []Stage{boom, post}, WithScratchRoot(t.TempDir())).Run(context.Background(), testRunContext(t))

	require.Len(t, run.Stages, 2)
	assert.Equal(t, []string{"predict", "postprocess"}, []string{run.Stages[0].Stage, run.Stages[1].Stage})
	assert.True(t, run.Stages[0].HasFailure(KindInference, ""))
	assert.True(t, run.Stages[1].HasFailure(KindResolution, "mask.tif"))
	assert.Equal(t, RunFailed, run.Status)
}

func TestSequencerRecoversPanics(t *testing.T) {
	panicky := &fakeStage{
		name: "panicky",
		run: func(context.Context, *Inputs, RunContext) (Outputs, error) {
			panic("index out of range")
		},
	}
	store := artifact.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "/images/a.tif", []byte("a"), true))
	ok := copyStage("after", "/images/a.tif", "/out/a.tif")

	run := NewSequencer(store, []Stage{panicky, ok}, WithScratchRoot(t.TempDir())).Run(context.Background(), testRunContext(t))
	assert.True(t, run.Stages[0].HasFailure(KindInternal, ""))
	assert.Contains(t, run.Stages[0].Error, "index out of range")
	assert.True(t, run.Stages[1].Succeeded())
	assert.Equal(t, RunPartial, run.Status)
}

type panickyBindings struct {
	fakeStage
	panicInputs, panicOutputs bool
}

func (p *panickyBindings) Inputs(rc RunContext) []Binding {
	if p.panicInputs {
		panic("inputs: nil model reference")
	}
	return p.fakeStage.Inputs(rc)
}

func (p *panickyBindings) Outputs(rc RunContext) []Binding {
	if p.panicOutputs {
		panic("outputs: nil model reference")
	}
	return p.fakeStage.Outputs(rc)
}

func TestSequencerRecoversPanickingBindings(t *testing.T) {
	executed := false
	badInputs := &panickyBindings{panicInputs: true, fakeStage: fakeStage{
		name: "bad-inputs",
		run: func(context.Context, *Inputs, RunContext) (Outputs, error) {
			executed = true
			return Outputs{}, nil
		},
	}}
	badOutputs := &panickyBindings{panicOutputs: true, fakeStage: fakeStage{
		name: "bad-outputs",
		run: func(context.Context, *Inputs, RunContext) (Outputs, error) {
			return Outputs{}, nil
		},
	}}
	store := artifact.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "/images/a.tif", []byte("a"), true))
	ok := copyStage("after", "/images/a.tif", "/out/a.tif")

	run := NewSequencer(store, []Stage{badInputs, badOutputs, ok}, WithScratchRoot(t.TempDir())).Run(context.Background(), testRunContext(t))
	require.Len(t, run.Stages, 3)
	assert.False(t, executed, "body must not run without its bindings")
	assert.True(t, run.Stages[0].HasFailure(KindInternal, ""))
	assert.Contains(t, run.Stages[0].Error, "inputs: nil model reference")
	assert.True(t, run.Stages[1].HasFailure(KindInternal, ""))
	assert.Contains(t, run.Stages[1].Error, "outputs: nil model reference")
	assert.True(t, run.Stages[2].Succeeded())
	assert.Equal(t, RunPartial, run.Status)
}

func TestSequencerOutputContract(t *testing.T) {
	stage := &fakeStage{
		name:    "sloppy",
		outputs: []Binding{{Name: "declared", Key: "/out/declared.tif"}},
		run: func(context.Context, *Inputs, RunContext) (Outputs, error) {
			out := Outputs{}
			out.Add("extra", FormatGeoTIFF, []byte("x"))
			return out, nil
		},
	}
	store := artifact.NewMemoryStore()
	run := NewSequencer(store, []Stage{stage}, WithScratchRoot(t.TempDir())).Run(context.Background(), testRunContext(t))
	res := run.Stages[0]
	assert.Equal(t, StatusFailed, res.Status)
	require.Len(t, res.Failures, 2)
	assert.Contains(t, res.Failures[0].Detail, `"extra" is not declared`)
	assert.Contains(t, res.Failures[1].Detail, `"declared" was not produced`)
	keys, err := store.List(context.Background(), "/out")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

type failingPutStore struct {
	*artifact.MemoryStore
}

func (s failingPutStore) Put(context.Context, string, []byte, bool) error {
	return errors.New("access denied")
}

func TestSequencerStoreFailureOnPersist(t *testing.T) {
	stage := &fakeStage{
		name:    "writer",
		outputs: []Binding{{Name: "out", Key: "/out/a.tif"}},
		run: func(context.Context, *Inputs, RunContext) (Outputs, error) {
			out := Outputs{}
			out.Add("out", FormatGeoTIFF, []byte("x"))
			return out, nil
		},
	}
	run := NewSequencer(failingPutStore{artifact.NewMemoryStore()}, []Stage{stage}, WithScratchRoot(t.TempDir())).Run(context.Background(), testRunContext(t))
	assert.True(t, run.Stages[0].HasFailure(KindStore, "/out/a.tif"))
	assert.Empty(t, run.Stages[0].Produced)
}

func TestSequencerCanceledContextStillRecordsEveryStage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := copyStage("a", "/images/a.tif", "/out/a.tif")
	b := copyStage("b", "/images/b.tif", "/out/b.tif")
	run := NewSequencer(artifact.NewMemoryStore(), []Stage{a, b}, WithScratchRoot(t.TempDir())).Run(ctx, testRunContext(t))
	require.Len(t, run.Stages, 2)
	for _, res := range run.Stages {
		assert.Equal(t, StatusFailed, res.Status)
		assert.Contains(t, res.Error, context.Canceled.Error())
	}
	assert.Equal(t, 0, a.calls+b.calls)
}

func TestSequencerUndeclaredInputRead(t *testing.T) {
	stage := &fakeStage{
		name: "nosy",
		run: func(_ context.Context, in *Inputs, _ RunContext) (Outputs, error) {
			_, err := in.Get("secret")
			return nil, err
		},
	}
	run := NewSequencer(artifact.NewMemoryStore(), []Stage{stage}, WithScratchRoot(t.TempDir())).Run(context.Background(), testRunContext(t))
	assert.True(t, run.Stages[0].HasFailure(KindInternal, ""))
	assert.Contains(t, run.Stages[0].Error, `"secret" but it is not declared`)
}

func TestSequencerIsIdempotent(t *testing.T) {
	store := artifact.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "/images/a.tif", []byte("a"), true))
	seq := NewSequencer(store, []Stage{copyStage("first", "/images/a.tif", "/out/b.tif")}, WithScratchRoot(t.TempDir()))

	r1 := seq.Run(ctx, testRunContext(t))
	require.NoError(t, store.Put(ctx, "/images/a.tif", []byte("z"), true))
	r2 := seq.Run(ctx, testRunContext(t))

	assert.Equal(t, r1.Stages[0].Stage, r2.Stages[0].Stage)
	assert.Equal(t, r1.Stages[0].Produced, r2.Stages[0].Produced)
	got, err := store.Get(ctx, "/out/b.tif")
	require.NoError(t, err)
	assert.Equal(t, "z+", string(got))
}

func TestSequencerScratchIsRemoved(t *testing.T) {
	root := t.TempDir()
	store := artifact.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "/images/a.tif", []byte("a"), true))
	NewSequencer(store, []Stage{copyStage("first", "/images/a.tif", "/out/b.tif")}, WithScratchRoot(root)).Run(context.Background(), testRunContext(t))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) Observe(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("%s:%s", ev.Type, ev.Stage))
}

func TestSequencerEmitsEvents(t *testing.T) {
	obs := &recordingObserver{}
	panicking := ObserverFunc(func(context.Context, Event) { panic("observer bug") })
	stage := &fakeStage{name: "only", run: func(context.Context, *Inputs, RunContext) (Outputs, error) { return nil, nil }}

	run := NewSequencer(artifact.NewMemoryStore(), []Stage{stage}, WithScratchRoot(t.TempDir()), WithObservers(panicking, obs)).
		Run(context.Background(), testRunContext(t))

	assert.Equal(t, RunSucceeded, run.Status)
	assert.Equal(t, []string{
		"run_started:",
		"stage_started:only",
		"stage_finished:only",
		"run_finished:",
	}, obs.events)
}
