// Package vectorize turns predicted roof masks into a vector wireframe.
package vectorize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/paulmach/orb/geojson"
)

// Converter produces a GeoJSON FeatureCollection and an overlay raster from
// the raw DSM, the raw orthomosaic and the two predicted masks.
type Converter interface {
	Convert(ctx context.Context, req Request) (Result, error)
}

// Request holds local paths of the conversion inputs. OutDir is a scratch
// directory the converter may write into.
type Request struct {
	DSMPath          string
	OrthoPath        string
	BoundaryMaskPath string
	EdgeMaskPath     string
	Spec             ThinSpec
	OutDir           string
}

func (r Request) validate() error {
	var missing []string
	for name, v := range map[string]string{
		"dsm":           r.DSMPath,
		"ortho":         r.OrthoPath,
		"boundary mask": r.BoundaryMaskPath,
		"edge mask":     r.EdgeMaskPath,
		"out dir":       r.OutDir,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("conversion request is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Result is the converter output. OverlayPath points at a TIFF inside
// Request.OutDir.
type Result struct {
	GeoJSON     []byte
	OverlayPath string
}

// ThinSpec parametrizes mask thinning and line extraction.
type ThinSpec struct {
	// Threshold is the mask value (0..255) above which a pixel is foreground.
	// Nil means the default; 0 is a valid explicit threshold.
	Threshold *uint8 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	// MaxIterations bounds the skeletonization passes.
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
	// MinSegmentLength drops extracted segments shorter than this, in pixels.
	MinSegmentLength float64 `yaml:"min_segment_length" json:"min_segment_length"`
	// SimplifyTolerance is the Douglas-Peucker tolerance, in pixels.
	SimplifyTolerance float64 `yaml:"simplify_tolerance" json:"simplify_tolerance"`
}

func DefaultThinSpec() ThinSpec {
	threshold := uint8(127)
	return ThinSpec{
		Threshold:         &threshold,
		MaxIterations:     100,
		MinSegmentLength:  5,
		SimplifyTolerance: 1.5,
	}
}

// WithDefaults fills unset fields from DefaultThinSpec. A nil threshold
// and non-positive lengths count as unset.
func (s ThinSpec) WithDefaults() ThinSpec {
	d := DefaultThinSpec()
	if s.Threshold == nil {
		s.Threshold = d.Threshold
	} else {
		v := *s.Threshold
		s.Threshold = &v
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = d.MaxIterations
	}
	if s.MinSegmentLength <= 0 {
		s.MinSegmentLength = d.MinSegmentLength
	}
	if s.SimplifyTolerance <= 0 {
		s.SimplifyTolerance = d.SimplifyTolerance
	}
	return s
}

// ThresholdValue is the effective foreground threshold.
func (s ThinSpec) ThresholdValue() uint8 {
	return *s.WithDefaults().Threshold
}

// Uint8 returns a pointer to v, for setting ThinSpec.Threshold.
func Uint8(v uint8) *uint8 { return &v }

var ErrInvalidGeoJSON = errors.New("invalid geojson")

// Validate checks that raw is a UTF-8 GeoJSON FeatureCollection.
func Validate(raw []byte) (*geojson.FeatureCollection, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrInvalidGeoJSON)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: not utf-8", ErrInvalidGeoJSON)
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGeoJSON, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("%w: type %q", ErrInvalidGeoJSON, fc.Type)
	}
	return fc, nil
}
