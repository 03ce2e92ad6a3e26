package vectorize

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// CommandConverter runs an external raster-to-vector tool:
//
//	<command...> --dsm D --ortho O --roof B --wireframe E
//	  --geojson OUT.geojson --overlay OUT.tif [thinning flags]
type CommandConverter struct {
	Command []string
}

func NewCommandConverter(command []string) *CommandConverter {
	return &CommandConverter{Command: append([]string(nil), command...)}
}

// CommandError carries the tool's stderr.
type CommandError struct {
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("vectorize command: %v", e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += " (" + s + ")"
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

func (c *CommandConverter) Convert(ctx context.Context, req Request) (Result, error) {
	if len(c.Command) == 0 {
		return Result{}, fmt.Errorf("vectorize command is not configured")
	}
	if err := req.validate(); err != nil {
		return Result{}, err
	}
	spec := req.Spec.WithDefaults()
	geo := filepath.Join(req.OutDir, "output.geojson")
	overlay := filepath.Join(req.OutDir, "output_overlay.tif")

	args := append([]string(nil), c.Command[1:]...)
	args = append(args,
		"--dsm", req.DSMPath,
		"--ortho", req.OrthoPath,
		"--roof", req.BoundaryMaskPath,
		"--wireframe", req.EdgeMaskPath,
		"--geojson", geo,
		"--overlay", overlay,
		"--threshold", strconv.Itoa(int(spec.ThresholdValue())),
		"--max-iterations", strconv.Itoa(spec.MaxIterations),
		"--min-segment-length", strconv.FormatFloat(spec.MinSegmentLength, 'f', -1, 64),
		"--simplify-tolerance", strconv.FormatFloat(spec.SimplifyTolerance, 'f', -1, 64),
	)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command[0], args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Result{}, &CommandError{Stderr: stderr.String(), Err: err}
	}
	raw, err := os.ReadFile(geo)
	if err != nil {
		return Result{}, fmt.Errorf("read geojson: %w", err)
	}
	if _, err := os.Stat(overlay); err != nil {
		return Result{}, fmt.Errorf("overlay not written: %w", err)
	}
	return Result{GeoJSON: raw, OverlayPath: overlay}, nil
}
