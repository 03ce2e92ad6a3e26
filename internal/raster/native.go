package raster

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// Native implements Transformer in process on top of x/image. It handles the
// TIFF layouts x/image/tiff decodes (8/16 bit gray, RGB(A), paletted) and
// does not carry georeferencing tags into its output.
type Native struct{}

func NewNative() *Native { return &Native{} }

func (n *Native) Resample(ctx context.Context, src string, size Size, interp Interpolation) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "resample", Tool: "native", Path: src, Err: err}
	}
	if !size.Valid() {
		return nil, &Error{Op: "resample", Tool: "native", Path: src, Err: fmt.Errorf("invalid size %s", size)}
	}
	img, err := decodeFile(src)
	if err != nil {
		return nil, &Error{Op: "resample", Tool: "native", Path: src, Err: err}
	}
	dst := newLike(img, image.Rect(0, 0, size.Width, size.Height))
	kernel(interp).Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return encode("resample", src, dst)
}

func (n *Native) QuantizeToByte(ctx context.Context, src string, mode ScaleMode) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "quantize", Tool: "native", Path: src, Err: err}
	}
	if mode != "" && mode != ScaleMinMax {
		return nil, &Error{Op: "quantize", Tool: "native", Path: src, Err: fmt.Errorf("unsupported scale mode %q", mode)}
	}
	img, err := decodeFile(src)
	if err != nil {
		return nil, &Error{Op: "quantize", Tool: "native", Path: src, Err: err}
	}
	return encode("quantize", src, QuantizeMinMax(img))
}

func (n *Native) DeriveRelief(ctx context.Context, src string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "relief", Tool: "native", Path: src, Err: err}
	}
	img, err := decodeFile(src)
	if err != nil {
		return nil, &Error{Op: "relief", Tool: "native", Path: src, Err: err}
	}
	return encode("relief", src, Slope(img))
}

func (n *Native) Dimensions(ctx context.Context, src string) (Size, error) {
	if err := ctx.Err(); err != nil {
		return Size{}, &Error{Op: "dimensions", Tool: "native", Path: src, Err: err}
	}
	f, err := os.Open(src)
	if err != nil {
		return Size{}, &Error{Op: "dimensions", Tool: "native", Path: src, Err: err}
	}
	defer f.Close()
	cfg, err := tiff.DecodeConfig(f)
	if err != nil {
		return Size{}, &Error{Op: "dimensions", Tool: "native", Path: src, Err: err}
	}
	return Size{Width: cfg.Width, Height: cfg.Height}, nil
}

// QuantizeMinMax maps the elevation range of img linearly onto 0..255.
// A flat raster maps to all zeros.
func QuantizeMinMax(img image.Image) *image.Gray {
	b := img.Bounds()
	at := sampler(img)
	lo, hi := math.Inf(1), math.Inf(-1)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := at(x, y)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	span := hi - lo
	if span <= 0 || math.IsInf(span, 0) {
		return out
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := (at(x, y) - lo) / span * 255
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: uint8(math.Round(v))})
		}
	}
	return out
}

// Slope computes Horn's slope in degrees for a unit cell size, scaled from
// 0..90 into 0..255. Edge cells reuse their nearest neighbour.
func Slope(img image.Image) *image.Gray {
	b := img.Bounds()
	at := sampler(img)
	w, h := b.Dx(), b.Dy()
	z := func(x, y int) float64 {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return at(b.Min.X+x, b.Min.Y+y)
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dzdx := ((z(x+1, y-1) + 2*z(x+1, y) + z(x+1, y+1)) -
				(z(x-1, y-1) + 2*z(x-1, y) + z(x-1, y+1))) / 8
			dzdy := ((z(x-1, y+1) + 2*z(x, y+1) + z(x+1, y+1)) -
				(z(x-1, y-1) + 2*z(x, y-1) + z(x+1, y-1))) / 8
			deg := math.Atan(math.Hypot(dzdx, dzdy)) * 180 / math.Pi
			out.SetGray(x, y, color.Gray{Y: uint8(math.Round(deg / 90 * 255))})
		}
	}
	return out
}

// EncodeTIFF writes img as a deflate compressed TIFF.
func EncodeTIFF(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTIFF reads a TIFF image from memory.
func DecodeTIFF(raw []byte) (image.Image, error) {
	return tiff.Decode(bytes.NewReader(raw))
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tiff.Decode(f)
}

func encode(op, src string, img image.Image) ([]byte, error) {
	raw, err := EncodeTIFF(img)
	if err != nil {
		return nil, &Error{Op: op, Tool: "native", Path: src, Err: fmt.Errorf("encode: %w", err)}
	}
	return raw, nil
}

func newLike(img image.Image, r image.Rectangle) draw.Image {
	switch img.(type) {
	case *image.Gray:
		return image.NewGray(r)
	case *image.Gray16:
		return image.NewGray16(r)
	case *image.NRGBA:
		return image.NewNRGBA(r)
	case *image.NRGBA64:
		return image.NewNRGBA64(r)
	case *image.RGBA64:
		return image.NewRGBA64(r)
	default:
		return image.NewRGBA(r)
	}
}

func kernel(interp Interpolation) draw.Interpolator {
	switch interp {
	case Nearest:
		return draw.NearestNeighbor
	case Bilinear:
		return draw.BiLinear
	default:
		return draw.CatmullRom
	}
}

func sampler(img image.Image) func(x, y int) float64 {
	switch m := img.(type) {
	case *image.Gray16:
		return func(x, y int) float64 { return float64(m.Gray16At(x, y).Y) }
	case *image.Gray:
		return func(x, y int) float64 { return float64(m.GrayAt(x, y).Y) }
	default:
		return func(x, y int) float64 {
			return float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
		}
	}
}
