package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"wireframe/internal/runner"
	"wireframe/internal/vectorize"
)

const (
	inBoundaryMask = "boundary_mask"
	inEdgeMask     = "edge_mask"
	inRawOrtho     = "ortho"
	inRawDSM       = "dsm"
)

// Postprocess converts the two masks into the GeoJSON wireframe and an
// overlay raster. All of its inputs are required.
type Postprocess struct {
	conv vectorize.Converter
	spec vectorize.ThinSpec
}

func NewPostprocess(conv vectorize.Converter, spec vectorize.ThinSpec) *Postprocess {
	return &Postprocess{conv: conv, spec: spec.WithDefaults()}
}

func (p *Postprocess) Name() string { return StagePostprocess }

func (p *Postprocess) Inputs(rc runner.RunContext) []runner.Binding {
	return []runner.Binding{
		geotiff(inBoundaryMask, rc.SaveKey(BoundaryMask), false),
		geotiff(inEdgeMask, rc.SaveKey(RoofEdgeMask), false),
		geotiff(inRawOrtho, rc.SourceKey(SourceOrthomosaic), false),
		geotiff(inRawDSM, rc.SourceKey(SourceDSM), false),
	}
}

func (p *Postprocess) Outputs(rc runner.RunContext) []runner.Binding {
	return []runner.Binding{
		{Name: WireframeGeoJSON, Key: rc.SaveKey(WireframeGeoJSON), Format: runner.FormatGeoJSON},
		geotiff(WireframeOverlay, rc.SaveKey(WireframeOverlay), false),
	}
}

func (p *Postprocess) Execute(ctx context.Context, in *runner.Inputs, _ runner.RunContext) (runner.Outputs, error) {
	if err := requireCapability("vector converter", p.conv); err != nil {
		return nil, err
	}
	resolved, errs := paths(in, inBoundaryMask, inEdgeMask, inRawOrtho, inRawDSM)
	if len(errs) > 0 {
		steps := runner.NewSteps(p.Name())
		failAll(steps, "convert", errs)
		return nil, steps.Err()
	}

	reserved, err := in.Scratch().Path(WireframeGeoJSON)
	if err != nil {
		return nil, runner.NewError(runner.KindInternal, "convert", "", err)
	}
	res, err := p.conv.Convert(ctx, vectorize.Request{
		DSMPath:          resolved[inRawDSM],
		OrthoPath:        resolved[inRawOrtho],
		BoundaryMaskPath: resolved[inBoundaryMask],
		EdgeMaskPath:     resolved[inEdgeMask],
		Spec:             p.spec,
		OutDir:           filepath.Dir(reserved),
	})
	if err != nil {
		return nil, runner.NewError(runner.KindConversion, "convert", "", err)
	}

	outs := runner.Outputs{}
	steps := runner.NewSteps(p.Name())
	steps.Run("validate_geojson", runner.KindConversion, func() error {
		if _, err := vectorize.Validate(res.GeoJSON); err != nil {
			return err
		}
		outs.Add(WireframeGeoJSON, runner.FormatGeoJSON, res.GeoJSON)
		return nil
	})
	steps.Run("read_overlay", runner.KindConversion, func() error {
		raw, err := os.ReadFile(res.OverlayPath)
		if err != nil {
			return fmt.Errorf("read overlay: %w", err)
		}
		outs.Add(WireframeOverlay, runner.FormatGeoTIFF, raw)
		return nil
	})
	return outs, steps.Err()
}
