package vectorize

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"golang.org/x/image/tiff"
)

// Fake is a deterministic Converter. It traces the foreground bounds of each
// mask in pixel space: the boundary mask becomes a "roof" polygon and the
// edge mask a closed "edge" line. The overlay is the union of both masks.
type Fake struct{}

func (Fake) Convert(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	spec := req.Spec.WithDefaults()

	boundary, err := readMask(req.BoundaryMaskPath)
	if err != nil {
		return Result{}, fmt.Errorf("boundary mask: %w", err)
	}
	edge, err := readMask(req.EdgeMaskPath)
	if err != nil {
		return Result{}, fmt.Errorf("edge mask: %w", err)
	}

	fc := geojson.NewFeatureCollection()
	if b, ok := foreground(boundary, spec.ThresholdValue()); ok {
		poly := b.ToPolygon()
		f := geojson.NewFeature(poly)
		f.Properties["kind"] = "roof"
		f.Properties["area_px"] = planar.Area(poly)
		fc.Append(f)
	}
	if b, ok := foreground(edge, spec.ThresholdValue()); ok {
		line := orb.LineString(b.ToRing())
		if planar.Length(line) >= spec.MinSegmentLength {
			f := geojson.NewFeature(line)
			f.Properties["kind"] = "edge"
			f.Properties["length_px"] = planar.Length(line)
			fc.Append(f)
		}
	}
	raw, err := fc.MarshalJSON()
	if err != nil {
		return Result{}, fmt.Errorf("marshal geojson: %w", err)
	}

	overlay := filepath.Join(req.OutDir, "output_overlay.tif")
	if err := writeOverlay(overlay, boundary, edge, spec.ThresholdValue()); err != nil {
		return Result{}, err
	}
	return Result{GeoJSON: raw, OverlayPath: overlay}, nil
}

func readMask(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tiff.Decode(f)
}

// foreground returns the pixel bounds of values above threshold.
func foreground(img image.Image, threshold uint8) (orb.Bound, bool) {
	r := img.Bounds()
	var b orb.Bound
	found := false
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y <= threshold {
				continue
			}
			p := orb.Point{float64(x), float64(y)}
			if !found {
				b = orb.Bound{Min: p, Max: p}
				found = true
				continue
			}
			b = b.Extend(p)
		}
	}
	return b, found
}

func writeOverlay(path string, boundary, edge image.Image, threshold uint8) error {
	r := boundary.Bounds().Union(edge.Bounds())
	out := image.NewGray(r)
	for _, m := range []image.Image{boundary, edge} {
		mb := m.Bounds()
		for y := mb.Min.Y; y < mb.Max.Y; y++ {
			for x := mb.Min.X; x < mb.Max.X; x++ {
				if color.GrayModel.Convert(m.At(x, y)).(color.Gray).Y > threshold {
					out.SetGray(x, y, color.Gray{Y: 255})
				}
			}
		}
	}
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, out, &tiff.Options{Compression: tiff.Deflate}); err != nil {
		return fmt.Errorf("encode overlay: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write overlay: %w", err)
	}
	return nil
}
