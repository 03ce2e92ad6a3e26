// Package pipeline holds the roof wireframe stages: preprocess, predict and
// postprocess.
package pipeline

import (
	"fmt"

	"wireframe/internal/model"
	"wireframe/internal/raster"
	"wireframe/internal/runner"
	"wireframe/internal/vectorize"
)

// Stage names.
const (
	StagePreprocess  = "preprocess"
	StagePredict     = "predict"
	StagePostprocess = "postprocess"
)

// Source products, read from <source>/<mission>/preview_products/.
const (
	SourceOrthomosaic = "orthomosaic.tif"
	SourceDSM         = "dsm.tif"
	SourceDSMColored  = "dsm_colored.tif"
)

// Artifacts written under the save directory.
const (
	OrthomosaicResized         = "orthomosaic_resized.tif"
	DSMColoredResized          = "dsm_colored_resized.tif"
	DSMByte                    = "dsm_byte.tif"
	OrthomosaicOriginalResized = "orthomosaic_original_resized.tif"
	Relief                     = "richdem.tif"
	RoofEdgeMask               = "output_roof_edge.tif"
	BoundaryMask               = "output_boundary.tif"
	WireframeGeoJSON           = "output.geojson"
	WireframeOverlay           = "output_overlay.tif"
)

// Model reference names in the run context.
const (
	ModelRoofEdge = "roof_edge"
	ModelBoundary = "boundary"
)

// ModelInputSize is the fixed raster size the boundary model expects.
var ModelInputSize = raster.Size{Width: 800, Height: 1024}

// Stages returns the three stages in their fixed order.
func Stages(tr raster.Transformer, edge, boundary model.Predictor, conv vectorize.Converter, spec vectorize.ThinSpec) []runner.Stage {
	return []runner.Stage{
		NewPreprocess(tr),
		NewPredict(edge, boundary),
		NewPostprocess(conv, spec),
	}
}

func geotiff(name, key string, optional bool) runner.Binding {
	return runner.Binding{Name: name, Key: key, Format: runner.FormatGeoTIFF, Optional: optional}
}

// paths resolves several inputs at once and returns every miss.
func paths(in *runner.Inputs, names ...string) (map[string]string, []error) {
	out := make(map[string]string, len(names))
	var errs []error
	for _, name := range names {
		p, err := in.Path(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[name] = p
	}
	return out, errs
}

func failAll(steps *runner.Steps, step string, errs []error) {
	for _, err := range errs {
		steps.Fail(step, runner.KindResolution, err)
	}
}

func requireCapability(name string, v any) error {
	if v == nil {
		return runner.NewError(runner.KindInternal, "", "", fmt.Errorf("%s is not configured", name))
	}
	return nil
}
