package raster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// GDAL shells out to the GDAL command line utilities. Every call writes into
// its own temporary directory which is removed before returning.
type GDAL struct {
	TranslateBin string
	DemBin       string
	InfoBin      string
	// TempRoot is the parent of per-call temp dirs; os.TempDir when empty.
	TempRoot string
}

func NewGDAL() *GDAL {
	return &GDAL{
		TranslateBin: "gdal_translate",
		DemBin:       "gdaldem",
		InfoBin:      "gdalinfo",
	}
}

func (g *GDAL) Resample(ctx context.Context, src string, size Size, interp Interpolation) ([]byte, error) {
	if !size.Valid() {
		return nil, &Error{Op: "resample", Tool: g.translate(), Path: src, Err: fmt.Errorf("invalid size %s", size)}
	}
	if interp == "" {
		interp = CubicSpline
	}
	return g.produce(ctx, "resample", g.translate(), src, func(out string) []string {
		return []string{
			"-of", "GTiff",
			"-r", string(interp),
			"-outsize", strconv.Itoa(size.Width), strconv.Itoa(size.Height),
			src, out,
		}
	})
}

func (g *GDAL) QuantizeToByte(ctx context.Context, src string, mode ScaleMode) ([]byte, error) {
	if mode != "" && mode != ScaleMinMax {
		return nil, &Error{Op: "quantize", Tool: g.translate(), Path: src, Err: fmt.Errorf("unsupported scale mode %q", mode)}
	}
	return g.produce(ctx, "quantize", g.translate(), src, func(out string) []string {
		return []string{
			"-of", "GTiff",
			"-co", "COMPRESS=LZW",
			"-ot", "Byte",
			"-scale",
			src, out,
		}
	})
}

func (g *GDAL) DeriveRelief(ctx context.Context, src string) ([]byte, error) {
	return g.produce(ctx, "relief", g.dem(), src, func(out string) []string {
		return []string{"slope", src, out, "-of", "GTiff", "-compute_edges"}
	})
}

type gdalInfo struct {
	Size []int `json:"size"`
}

func (g *GDAL) Dimensions(ctx context.Context, src string) (Size, error) {
	stdout, err := g.run(ctx, "dimensions", g.info(), src, "-json", src)
	if err != nil {
		return Size{}, err
	}
	var info gdalInfo
	if err := json.Unmarshal(stdout, &info); err != nil {
		return Size{}, &Error{Op: "dimensions", Tool: g.info(), Path: src, Err: fmt.Errorf("decode gdalinfo output: %w", err)}
	}
	if len(info.Size) != 2 {
		return Size{}, &Error{Op: "dimensions", Tool: g.info(), Path: src, Err: fmt.Errorf("gdalinfo reported size %v", info.Size)}
	}
	size := Size{Width: info.Size[0], Height: info.Size[1]}
	if !size.Valid() {
		return Size{}, &Error{Op: "dimensions", Tool: g.info(), Path: src, Err: fmt.Errorf("invalid size %s", size)}
	}
	return size, nil
}

func (g *GDAL) produce(ctx context.Context, op, bin, src string, args func(out string) []string) ([]byte, error) {
	dir, err := os.MkdirTemp(strings.TrimSpace(g.TempRoot), "gdal-*")
	if err != nil {
		return nil, &Error{Op: op, Tool: bin, Path: src, Err: err}
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "out.tif")
	if _, err := g.run(ctx, op, bin, src, args(out)...); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		return nil, &Error{Op: op, Tool: bin, Path: src, Err: fmt.Errorf("read output: %w", err)}
	}
	if len(raw) == 0 {
		return nil, &Error{Op: op, Tool: bin, Path: src, Err: fmt.Errorf("empty output")}
	}
	return raw, nil
}

func (g *GDAL) run(ctx context.Context, op, bin, src string, args ...string) ([]byte, error) {
	if _, err := os.Stat(src); err != nil {
		return nil, &Error{Op: op, Tool: bin, Path: src, Err: err}
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &Error{Op: op, Tool: bin, Path: src, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

func (g *GDAL) translate() string { return firstNonEmpty(g.TranslateBin, "gdal_translate") }
func (g *GDAL) dem() string       { return firstNonEmpty(g.DemBin, "gdaldem") }
func (g *GDAL) info() string      { return firstNonEmpty(g.InfoBin, "gdalinfo") }

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
