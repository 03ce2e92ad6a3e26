// Package model exposes mask-prediction models as an opaque capability.
package model

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// Predictor turns named input rasters (local paths) into a 2D mask.
// Implementations must not mutate their own state in Predict so a loaded
// model can be shared for the lifetime of a run.
type Predictor interface {
	Predict(ctx context.Context, inputs map[string]string) (image.Image, error)
}

// Loader resolves a model reference into a ready Predictor.
type Loader interface {
	Load(ctx context.Context, name, ref string) (Predictor, error)
	// Close releases everything the loaded predictors hold.
	Close() error
}

// Error reports a failed load or predict call.
type Error struct {
	Model  string
	Op     string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("model %s %s: %v", e.Model, e.Op, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += " (" + s + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

type unavailable struct {
	name string
	err  error
}

// Unavailable returns a Predictor that always fails with the load error,
// so a model that could not be loaded surfaces on the sub-step using it.
func Unavailable(name string, err error) Predictor {
	if err == nil {
		err = fmt.Errorf("not loaded")
	}
	return unavailable{name: name, err: err}
}

func (u unavailable) Predict(context.Context, map[string]string) (image.Image, error) {
	return nil, &Error{Model: u.name, Op: "predict", Err: fmt.Errorf("model unavailable: %w", u.err)}
}

// LoadAll loads each named reference. Models that fail to load come back as
// Unavailable predictors; the errors are returned alongside.
func LoadAll(ctx context.Context, loader Loader, refs map[string]string, names ...string) (map[string]Predictor, map[string]error) {
	out := make(map[string]Predictor, len(names))
	errs := make(map[string]error)
	for _, name := range names {
		ref, ok := refs[name]
		if !ok || strings.TrimSpace(ref) == "" {
			err := fmt.Errorf("no reference configured for model %q", name)
			errs[name] = err
			out[name] = Unavailable(name, err)
			continue
		}
		p, err := loader.Load(ctx, name, ref)
		if err != nil {
			errs[name] = err
			out[name] = Unavailable(name, err)
			continue
		}
		out[name] = p
	}
	return out, errs
}
