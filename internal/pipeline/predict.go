package pipeline

import (
	"context"
	"fmt"

	"wireframe/internal/model"
	"wireframe/internal/raster"
	"wireframe/internal/runner"
)

// Model-facing input names.
const (
	inRelief        = "richdem"
	inDSMByte       = "dsm_byte"
	inOrthoOriginal = "ortho_original"
	inOrthoResized  = "ortho"
	inColoredResize = "dsm_colored"
)

// Predict runs the roof edge model and then the boundary model. Each model
// has its own inputs so one failing does not stop the other; that is why
// every input here is optional.
type Predict struct {
	edge     model.Predictor
	boundary model.Predictor
}

func NewPredict(edge, boundary model.Predictor) *Predict {
	return &Predict{edge: edge, boundary: boundary}
}

func (p *Predict) Name() string { return StagePredict }

func (p *Predict) Inputs(rc runner.RunContext) []runner.Binding {
	return []runner.Binding{
		geotiff(inRelief, rc.SaveKey(Relief), true),
		geotiff(inDSMByte, rc.SaveKey(DSMByte), true),
		geotiff(inOrthoOriginal, rc.SaveKey(OrthomosaicOriginalResized), true),
		geotiff(inOrthoResized, rc.SaveKey(OrthomosaicResized), true),
		geotiff(inColoredResize, rc.SaveKey(DSMColoredResized), true),
	}
}

func (p *Predict) Outputs(rc runner.RunContext) []runner.Binding {
	return []runner.Binding{
		geotiff(RoofEdgeMask, rc.SaveKey(RoofEdgeMask), false),
		geotiff(BoundaryMask, rc.SaveKey(BoundaryMask), false),
	}
}

func (p *Predict) Execute(ctx context.Context, in *runner.Inputs, _ runner.RunContext) (runner.Outputs, error) {
	steps := runner.NewSteps(p.Name())
	outs := runner.Outputs{}
	p.predict(ctx, steps, in, outs, "predict_roof_edge", ModelRoofEdge, p.edge, RoofEdgeMask,
		inRelief, inDSMByte, inOrthoOriginal)
	p.predict(ctx, steps, in, outs, "predict_boundary", ModelBoundary, p.boundary, BoundaryMask,
		inOrthoResized, inColoredResize)
	return outs, steps.Err()
}

func (p *Predict) predict(ctx context.Context, steps *runner.Steps, in *runner.Inputs, outs runner.Outputs,
	step, modelName string, m model.Predictor, output string, inputs ...string) {
	resolved, errs := paths(in, inputs...)
	if len(errs) > 0 {
		failAll(steps, step, errs)
		return
	}
	if m == nil {
		steps.Fail(step, runner.KindInference, fmt.Errorf("model %s is not loaded", modelName))
		return
	}
	var mask []byte
	if !steps.Run(step, runner.KindInference, func() error {
		img, err := m.Predict(ctx, resolved)
		if err != nil {
			return err
		}
		if img == nil || img.Bounds().Empty() {
			return fmt.Errorf("model %s returned an empty mask", modelName)
		}
		mask, err = raster.EncodeTIFF(img)
		if err != nil {
			return fmt.Errorf("encode %s: %w", output, err)
		}
		return nil
	}) {
		return
	}
	outs.Add(output, runner.FormatGeoTIFF, mask)
}
