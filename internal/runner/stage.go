package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"wireframe/internal/artifact"
)

// Format is the content type of an artifact.
type Format string

const (
	FormatGeoTIFF Format = "geotiff"
	FormatGeoJSON Format = "geojson"
)

// Binding ties a stage-local artifact name to its store key.
type Binding struct {
	Name   string
	Key    string
	Format Format
	// Optional inputs are resolved best effort: a miss does not prevent the
	// stage body from running, and reading the input returns the
	// resolution error instead.
	Optional bool
}

// Artifact is a raster or vector object flowing between stages.
type Artifact struct {
	Name     string
	Key      string
	Format   Format
	Producer string
	// Path is a local, readable copy of a resolved input.
	Path    string
	Content []byte
}

// Stage is one named unit of pipeline work with declared inputs and outputs.
// Inputs and Outputs must be pure functions of the RunContext.
type Stage interface {
	Name() string
	Inputs(rc RunContext) []Binding
	Outputs(rc RunContext) []Binding
	// Execute may return outputs together with an error; declared outputs
	// that were produced are still persisted.
	Execute(ctx context.Context, in *Inputs, rc RunContext) (Outputs, error)
}

// Outputs maps declared output names to produced artifacts.
type Outputs map[string]Artifact

func (o Outputs) Add(name string, format Format, content []byte) {
	o[name] = Artifact{Name: name, Format: format, Content: content}
}

const stepResolve = "resolve"

// Inputs gives a stage body access to its resolved inputs. Reading a name
// that was not declared is an error; declared names that are never read are
// reported after the stage runs.
type Inputs struct {
	stage    string
	scratch  *artifact.Scratch
	declared map[string]Binding
	resolved map[string]Artifact
	missing  map[string]*Error
	accessed map[string]bool
}

func newInputs(stage string, scratch *artifact.Scratch) *Inputs {
	return &Inputs{
		stage:    stage,
		scratch:  scratch,
		declared: make(map[string]Binding),
		resolved: make(map[string]Artifact),
		missing:  make(map[string]*Error),
		accessed: make(map[string]bool),
	}
}

// Get returns the resolved input name.
func (in *Inputs) Get(name string) (Artifact, error) {
	norm := strings.TrimSpace(name)
	b, ok := in.declared[norm]
	if !ok {
		return Artifact{}, &Error{
			Kind:  KindInternal,
			Stage: in.stage,
			Err:   fmt.Errorf("stage %q requested input %q but it is not declared", in.stage, name),
		}
	}
	in.accessed[norm] = true
	if e, ok := in.missing[norm]; ok {
		return Artifact{}, e
	}
	a, ok := in.resolved[norm]
	if !ok {
		return Artifact{}, &Error{Kind: KindResolution, Stage: in.stage, Step: stepResolve, Key: b.Key, Err: artifact.ErrNotFound}
	}
	return a, nil
}

// Path is Get returning only the local path.
func (in *Inputs) Path(name string) (string, error) {
	a, err := in.Get(name)
	if err != nil {
		return "", err
	}
	return a.Path, nil
}

// Scratch is the stage's temporary directory. It is removed once the stage
// has finished and its outputs are persisted.
func (in *Inputs) Scratch() *artifact.Scratch {
	return in.scratch
}

func (in *Inputs) unused() []string {
	var out []string
	for name := range in.declared {
		if !in.accessed[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
