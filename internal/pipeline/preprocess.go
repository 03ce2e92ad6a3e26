package pipeline

import (
	"context"

	"wireframe/internal/raster"
	"wireframe/internal/runner"
)

const (
	inOrtho      = "ortho"
	inDSM        = "dsm"
	inDSMColored = "dsm_colored"
)

// Preprocess derives the model inputs from the mission's source products.
// The DSM is resolved best effort: when it is missing or unreadable the
// resize sub-steps that do not need it still complete and persist.
type Preprocess struct {
	tr   raster.Transformer
	size raster.Size
}

func NewPreprocess(tr raster.Transformer) *Preprocess {
	return &Preprocess{tr: tr, size: ModelInputSize}
}

func (p *Preprocess) Name() string { return StagePreprocess }

func (p *Preprocess) Inputs(rc runner.RunContext) []runner.Binding {
	return []runner.Binding{
		geotiff(inOrtho, rc.SourceKey(SourceOrthomosaic), false),
		geotiff(inDSMColored, rc.SourceKey(SourceDSMColored), false),
		geotiff(inDSM, rc.SourceKey(SourceDSM), true),
	}
}

func (p *Preprocess) Outputs(rc runner.RunContext) []runner.Binding {
	return []runner.Binding{
		geotiff(OrthomosaicResized, rc.SaveKey(OrthomosaicResized), false),
		geotiff(DSMColoredResized, rc.SaveKey(DSMColoredResized), false),
		geotiff(DSMByte, rc.SaveKey(DSMByte), false),
		geotiff(OrthomosaicOriginalResized, rc.SaveKey(OrthomosaicOriginalResized), false),
		geotiff(Relief, rc.SaveKey(Relief), false),
	}
}

func (p *Preprocess) Execute(ctx context.Context, in *runner.Inputs, _ runner.RunContext) (runner.Outputs, error) {
	if err := requireCapability("raster transformer", p.tr); err != nil {
		return nil, err
	}
	steps := runner.NewSteps(p.Name())
	outs := runner.Outputs{}

	ortho, err := in.Path(inOrtho)
	if err != nil {
		return nil, err
	}
	colored, err := in.Path(inDSMColored)
	if err != nil {
		return nil, err
	}

	steps.Run("resize_ortho", runner.KindTransform, func() error {
		raw, err := p.tr.Resample(ctx, ortho, p.size, raster.CubicSpline)
		if err != nil {
			return err
		}
		outs.Add(OrthomosaicResized, runner.FormatGeoTIFF, raw)
		return nil
	})
	steps.Run("resize_dsm_colored", runner.KindTransform, func() error {
		raw, err := p.tr.Resample(ctx, colored, p.size, raster.CubicSpline)
		if err != nil {
			return err
		}
		outs.Add(DSMColoredResized, runner.FormatGeoTIFF, raw)
		return nil
	})

	// Everything below needs the raw DSM; one failure to read it is
	// reported once instead of per dependent sub-step.
	dsm, err := in.Path(inDSM)
	if err != nil {
		steps.Fail("read_dsm", runner.KindResolution, err)
		return outs, steps.Err()
	}
	var dsmSize raster.Size
	if !steps.Run("read_dsm", runner.KindTransform, func() error {
		dsmSize, err = p.tr.Dimensions(ctx, dsm)
		return err
	}) {
		return outs, steps.Err()
	}

	steps.Run("quantize_dsm", runner.KindTransform, func() error {
		raw, err := p.tr.QuantizeToByte(ctx, dsm, raster.ScaleMinMax)
		if err != nil {
			return err
		}
		outs.Add(DSMByte, runner.FormatGeoTIFF, raw)
		return nil
	})
	steps.Run("resize_ortho_to_dsm", runner.KindTransform, func() error {
		raw, err := p.tr.Resample(ctx, ortho, dsmSize, raster.CubicSpline)
		if err != nil {
			return err
		}
		outs.Add(OrthomosaicOriginalResized, runner.FormatGeoTIFF, raw)
		return nil
	})
	steps.Run("derive_relief", runner.KindTransform, func() error {
		raw, err := p.tr.DeriveRelief(ctx, dsm)
		if err != nil {
			return err
		}
		outs.Add(Relief, runner.FormatGeoTIFF, raw)
		return nil
	})
	return outs, steps.Err()
}
