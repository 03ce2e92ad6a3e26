// Package raster wraps the resampling and format conversion tooling used to
// normalize survey rasters before inference.
package raster

import (
	"context"
	"fmt"
	"strings"
)

// Interpolation names a resampling kernel. Values match gdal_translate -r.
type Interpolation string

const (
	CubicSpline Interpolation = "cubicspline"
	Cubic       Interpolation = "cubic"
	Bilinear    Interpolation = "bilinear"
	Nearest     Interpolation = "near"
)

// ScaleMode selects how QuantizeToByte maps source values into 0..255.
type ScaleMode string

const (
	// ScaleMinMax linearly maps the raster's own min..max onto 0..255.
	ScaleMinMax ScaleMode = "minmax"
)

type Size struct {
	Width  int
	Height int
}

func (s Size) Valid() bool { return s.Width > 0 && s.Height > 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// Transformer produces new GeoTIFF rasters from a raster on local disk.
type Transformer interface {
	// Resample returns src scaled to exactly size, ignoring aspect ratio.
	Resample(ctx context.Context, src string, size Size, interp Interpolation) ([]byte, error)
	QuantizeToByte(ctx context.Context, src string, mode ScaleMode) ([]byte, error)
	// DeriveRelief computes a terrain relief (slope) raster from elevations.
	DeriveRelief(ctx context.Context, src string) ([]byte, error)
	Dimensions(ctx context.Context, src string) (Size, error)
}

// Error reports a failed transform, including tool stderr when available.
type Error struct {
	Op     string
	Tool   string
	Path   string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Tool, e.Op)
	if e.Path != "" {
		fmt.Fprintf(&b, " %s", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		fmt.Fprintf(&b, " (%s)", s)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }
