package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wireframe/internal/artifact"
	"wireframe/internal/model"
	"wireframe/internal/raster"
	"wireframe/internal/runner"
	"wireframe/internal/vectorize"
)

func missionContext(t *testing.T) runner.RunContext {
	t.Helper()
	rc, err := runner.NewRunContext(runner.RunConfig{
		MissionID:       "173567",
		SourceDirectory: "/images",
		SaveDirectory:   "/out",
		ModelReferences: map[string]string{ModelRoofEdge: "/models/edge.pth", ModelBoundary: "/models/boundary.pth"},
	})
	require.NoError(t, err)
	return rc
}

func putTIFF(t *testing.T, store artifact.Store, key string, img image.Image) {
	t.Helper()
	raw, err := raster.EncodeTIFF(img)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), key, raw, true))
}

func rgba(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 90, A: 255})
		}
	}
	return img
}

// elevation is a DSM with a gabled roof in the middle.
func elevation(w, h int) image.Image {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 1000
			if x > w/4 && x < w-w/4 && y > h/4 && y < h-h/4 {
				v += 300 - 20*abs(x-w/2)
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(v)})
		}
	}
	return img
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func seedSources(t *testing.T, store artifact.Store, rc runner.RunContext, withDSM bool) {
	t.Helper()
	putTIFF(t, store, rc.SourceKey(SourceOrthomosaic), rgba(60, 40))
	putTIFF(t, store, rc.SourceKey(SourceDSMColored), rgba(60, 40))
	if withDSM {
		putTIFF(t, store, rc.SourceKey(SourceDSM), elevation(30, 20))
	}
}

func fakeStages() []runner.Stage {
	return Stages(raster.NewNative(), model.Fake{Outline: true}, model.Fake{}, vectorize.Fake{}, vectorize.DefaultThinSpec())
}

func dimensions(t *testing.T, store artifact.Store, key string) image.Rectangle {
	t.Helper()
	raw, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	img, err := raster.DecodeTIFF(raw)
	require.NoError(t, err)
	return img.Bounds()
}

func TestStagesOrder(t *testing.T) {
	names := make([]string, 0, 3)
	for _, st := range fakeStages() {
		names = append(names, st.Name())
	}
	assert.Equal(t, []string{StagePreprocess, StagePredict, StagePostprocess}, names)
}

func TestFullRunProducesEveryArtifact(t *testing.T) {
	store := artifact.NewMemoryStore()
	rc := missionContext(t)
	seedSources(t, store, rc, true)

	run := runner.NewSequencer(store, fakeStages(), runner.WithScratchRoot(t.TempDir())).Run(context.Background(), rc)
	require.Len(t, run.Stages, 3)
	assert.Equal(t, runner.RunSucceeded, run.Status)
	for _, res := range run.Stages {
		require.True(t, res.Succeeded(), "%s: %s", res.Stage, res.Error)
	}

	pre, _ := run.Stage(StagePreprocess)
	assert.ElementsMatch(t, []string{
		"/out/orthomosaic_resized.tif",
		"/out/dsm_colored_resized.tif",
		"/out/dsm_byte.tif",
		"/out/orthomosaic_original_resized.tif",
		"/out/richdem.tif",
	}, pre.Produced)
	pred, _ := run.Stage(StagePredict)
	assert.ElementsMatch(t, []string{"/out/output_roof_edge.tif", "/out/output_boundary.tif"}, pred.Produced)
	post, _ := run.Stage(StagePostprocess)
	assert.ElementsMatch(t, []string{"/out/output.geojson", "/out/output_overlay.tif"}, post.Produced)

	assert.Equal(t, image.Rect(0, 0, 800, 1024), dimensions(t, store, "/out/orthomosaic_resized.tif"))
	assert.Equal(t, image.Rect(0, 0, 800, 1024), dimensions(t, store, "/out/dsm_colored_resized.tif"))
	assert.Equal(t, image.Rect(0, 0, 30, 20), dimensions(t, store, "/out/orthomosaic_original_resized.tif"))
	assert.Equal(t, image.Rect(0, 0, 30, 20), dimensions(t, store, "/out/dsm_byte.tif"))

	raw, err := store.Get(context.Background(), "/out/output.geojson")
	require.NoError(t, err)
	fc, err := vectorize.Validate(raw)
	require.NoError(t, err)
	assert.NotEmpty(t, fc.Features)
}

func TestMissingDSMFailsEveryStageWithoutPanicking(t *testing.T) {
	store := artifact.NewMemoryStore()
	rc := missionContext(t)
	seedSources(t, store, rc, false)

	run := runner.NewSequencer(store, fakeStages(), runner.WithScratchRoot(t.TempDir())).Run(context.Background(), rc)
	require.Len(t, run.Stages, 3)
	assert.Equal(t, runner.RunFailed, run.Status)

	pre := run.Stages[0]
	assert.False(t, pre.Succeeded())
	assert.True(t, pre.HasFailure(runner.KindResolution, "dsm.tif"), pre.Error)
	assert.ElementsMatch(t, []string{"/out/orthomosaic_resized.tif", "/out/dsm_colored_resized.tif"}, pre.Produced)

	pred := run.Stages[1]
	assert.False(t, pred.Succeeded())
	assert.True(t, pred.HasFailure(runner.KindResolution, "dsm_byte.tif"), pred.Error)
	assert.True(t, pred.HasFailure(runner.KindResolution, "richdem.tif"), pred.Error)
	assert.Equal(t, []string{"/out/output_boundary.tif"}, pred.Produced)

	post := run.Stages[2]
	assert.False(t, post.Succeeded())
	assert.True(t, post.HasFailure(runner.KindResolution, "output_roof_edge.tif"), post.Error)
	assert.Empty(t, post.Produced)
}

func TestCorruptDSMIsATransformFailure(t *testing.T) {
	store := artifact.NewMemoryStore()
	rc := missionContext(t)
	seedSources(t, store, rc, false)
	require.NoError(t, store.Put(context.Background(), rc.SourceKey(SourceDSM), []byte("not a tiff"), true))

	run := runner.NewSequencer(store, fakeStages()[:1], runner.WithScratchRoot(t.TempDir())).Run(context.Background(), rc)
	pre := run.Stages[0]
	assert.False(t, pre.Succeeded())
	assert.True(t, pre.HasFailure(runner.KindTransform, ""), pre.Error)
	require.Len(t, pre.Failures, 1)
	assert.Equal(t, "read_dsm", pre.Failures[0].Step)
	assert.Len(t, pre.Produced, 2)
}

type failingPredictor struct{}

func (failingPredictor) Predict(context.Context, map[string]string) (image.Image, error) {
	return nil, errors.New("cuda out of memory")
}

func TestPredictSubUnitsFailIndependently(t *testing.T) {
	store := artifact.NewMemoryStore()
	rc := missionContext(t)
	seedSources(t, store, rc, true)

	stages := []runner.Stage{
		NewPreprocess(raster.NewNative()),
		NewPredict(failingPredictor{}, model.Fake{}),
	}
	run := runner.NewSequencer(store, stages, runner.WithScratchRoot(t.TempDir())).Run(context.Background(), rc)
	assert.Equal(t, runner.RunPartial, run.Status)

	pred := run.Stages[1]
	assert.False(t, pred.Succeeded())
	require.Len(t, pred.Failures, 1)
	assert.Equal(t, "predict_roof_edge", pred.Failures[0].Step)
	assert.Equal(t, runner.KindInference, pred.Failures[0].Kind)
	assert.Contains(t, pred.Failures[0].Detail, "cuda out of memory")
	assert.Equal(t, []string{"/out/output_boundary.tif"}, pred.Produced)
}

func TestPredictWithUnavailableModel(t *testing.T) {
	store := artifact.NewMemoryStore()
	rc := missionContext(t)
	seedSources(t, store, rc, true)

	stages := []runner.Stage{
		NewPreprocess(raster.NewNative()),
		NewPredict(model.Fake{Outline: true}, model.Unavailable(ModelBoundary, errors.New("weights missing"))),
	}
	run := runner.NewSequencer(store, stages, runner.WithScratchRoot(t.TempDir())).Run(context.Background(), rc)
	pred := run.Stages[1]
	require.Len(t, pred.Failures, 1)
	assert.Equal(t, "predict_boundary", pred.Failures[0].Step)
	assert.Equal(t, runner.KindInference, pred.Failures[0].Kind)
	assert.Equal(t, []string{"/out/output_roof_edge.tif"}, pred.Produced)
}

type badConverter struct{ raw string }

func (c badConverter) Convert(_ context.Context, req vectorize.Request) (vectorize.Result, error) {
	if c.raw == "" {
		return vectorize.Result{}, errors.New("thinning diverged")
	}
	return vectorize.Fake{}.Convert(context.Background(), req)
}

func TestPostprocessConversionFailures(t *testing.T) {
	store := artifact.NewMemoryStore()
	rc := missionContext(t)
	seedSources(t, store, rc, true)
	putTIFF(t, store, rc.SaveKey(RoofEdgeMask), image.NewGray(image.Rect(0, 0, 8, 8)))
	putTIFF(t, store, rc.SaveKey(BoundaryMask), image.NewGray(image.Rect(0, 0, 8, 8)))

	post := NewPostprocess(badConverter{}, vectorize.ThinSpec{})
	run := runner.NewSequencer(store, []runner.Stage{post}, runner.WithScratchRoot(t.TempDir())).Run(context.Background(), rc)
	res := run.Stages[0]
	assert.False(t, res.Succeeded())
	assert.True(t, res.HasFailure(runner.KindConversion, ""), res.Error)
	assert.Empty(t, res.Produced)

	post = NewPostprocess(badConverter{raw: "ok"}, vectorize.ThinSpec{})
	run = runner.NewSequencer(store, []runner.Stage{post}, runner.WithScratchRoot(t.TempDir())).Run(context.Background(), rc)
	assert.True(t, run.Stages[0].Succeeded(), run.Stages[0].Error)
}
