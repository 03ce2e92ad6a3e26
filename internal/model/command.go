package model

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"wireframe/internal/artifact"
	"wireframe/internal/raster"
)

// CommandLoader fetches model weights from the artifact store into a scratch
// directory and wraps an external inference command around them.
type CommandLoader struct {
	store       artifact.Store
	command     []string
	scratchRoot string

	mu      sync.Mutex
	scratch *artifact.Scratch
}

func NewCommandLoader(store artifact.Store, command []string, scratchRoot string) *CommandLoader {
	return &CommandLoader{
		store:       store,
		command:     append([]string(nil), command...),
		scratchRoot: strings.TrimSpace(scratchRoot),
	}
}

func (l *CommandLoader) Load(ctx context.Context, name, ref string) (Predictor, error) {
	if len(l.command) == 0 {
		return nil, &Error{Model: name, Op: "load", Err: fmt.Errorf("inference command is not configured")}
	}
	scratch, err := l.ensureScratch()
	if err != nil {
		return nil, &Error{Model: name, Op: "load", Err: err}
	}
	h, _, err := scratch.Fetch(ctx, l.store, ref)
	if err != nil {
		return nil, &Error{Model: name, Op: "load", Err: fmt.Errorf("fetch weights %s: %w", ref, err)}
	}
	return &CommandPredictor{
		name:     name,
		weights:  h.Path,
		command:  l.command,
		tempRoot: l.scratchRoot,
	}, nil
}

func (l *CommandLoader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.scratch == nil {
		return nil
	}
	err := l.scratch.Close()
	l.scratch = nil
	return err
}

func (l *CommandLoader) ensureScratch() (*artifact.Scratch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.scratch != nil {
		return l.scratch, nil
	}
	s, err := artifact.NewScratch(l.scratchRoot, "models-*")
	if err != nil {
		return nil, err
	}
	l.scratch = s
	return s, nil
}

// CommandPredictor runs
//
//	<command...> --weights W --output OUT --input name=path ...
//
// and reads the mask TIFF the command writes to OUT.
type CommandPredictor struct {
	name     string
	weights  string
	command  []string
	tempRoot string
}

func (p *CommandPredictor) Predict(ctx context.Context, inputs map[string]string) (image.Image, error) {
	dir, err := os.MkdirTemp(p.tempRoot, "predict-*")
	if err != nil {
		return nil, &Error{Model: p.name, Op: "predict", Err: err}
	}
	defer os.RemoveAll(dir)

	out := filepath.Join(dir, "mask.tif")
	args := append([]string(nil), p.command[1:]...)
	args = append(args, "--weights", p.weights, "--output", out)
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, "--input", name+"="+inputs[name])
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.command[0], args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &Error{Model: p.name, Op: "predict", Stderr: stderr.String(), Err: err}
	}
	raw, err := os.ReadFile(out)
	if err != nil {
		return nil, &Error{Model: p.name, Op: "predict", Err: fmt.Errorf("read mask: %w", err)}
	}
	mask, err := raster.DecodeTIFF(raw)
	if err != nil {
		return nil, &Error{Model: p.name, Op: "predict", Err: fmt.Errorf("decode mask: %w", err)}
	}
	return mask, nil
}
