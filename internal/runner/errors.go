package runner

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a stage failure.
type Kind string

const (
	// KindResolution: a required input artifact is missing or unreadable.
	KindResolution Kind = "resolution"
	// KindTransform: resampling, quantization or relief derivation failed.
	KindTransform Kind = "transform"
	// KindInference: a model predict call failed.
	KindInference Kind = "inference"
	// KindConversion: the raster to vector conversion failed.
	KindConversion Kind = "conversion"
	// KindStore: reading or writing the artifact store failed.
	KindStore Kind = "store"
	// KindInternal: contract violations, recovered panics, cancellation.
	KindInternal Kind = "internal"
)

// Error is one classified failure inside a stage.
type Error struct {
	Kind  Kind
	Stage string
	Step  string
	Key   string
	Err   error
}

func NewError(kind Kind, step, key string, err error) *Error {
	return &Error{Kind: kind, Step: step, Key: key, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s error", e.Kind)
	if e.Stage != "" {
		fmt.Fprintf(&b, " stage=%s", e.Stage)
	}
	if e.Step != "" {
		fmt.Fprintf(&b, " step=%s", e.Step)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " key=%s", e.Key)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Failure is the recorded, serializable form of an Error.
func (e *Error) Failure() Failure {
	detail := ""
	if e.Err != nil {
		detail = e.Err.Error()
	}
	return Failure{Step: e.Step, Kind: e.Kind, Key: e.Key, Detail: detail}
}

// StageError aggregates the independent sub-step failures of one stage.
type StageError struct {
	Stage string
	Errs  []*Error
}

func (e *StageError) Error() string {
	if e == nil || len(e.Errs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		parts = append(parts, err.Error())
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return fmt.Sprintf("stage %s: %d failures: %s", e.Stage, len(parts), strings.Join(parts, "; "))
}

func (e *StageError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, len(e.Errs))
	for _, err := range e.Errs {
		out = append(out, err)
	}
	return out
}

// IsKind reports whether any classified failure in err's tree has kind k.
func IsKind(err error, k Kind) bool {
	for _, e := range flatten(err) {
		if e.Kind == k {
			return true
		}
	}
	return false
}

// flatten collects every *Error reachable from err. An unclassified error
// yields nothing.
func flatten(err error) []*Error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*StageError); ok {
		return append([]*Error(nil), se.Errs...)
	}
	if e, ok := err.(*Error); ok {
		return []*Error{e}
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		var out []*Error
		for _, inner := range u.Unwrap() {
			out = append(out, flatten(inner)...)
		}
		return out
	case interface{ Unwrap() error }:
		return flatten(u.Unwrap())
	}
	return nil
}

// classify turns any error returned from a stage body into classified
// failures, attributing unclassified errors to fallback.
func classify(stage string, err error, fallback Kind) []*Error {
	if err == nil {
		return nil
	}
	errs := flatten(err)
	if len(errs) == 0 {
		errs = []*Error{{Kind: fallback, Err: err}}
	}
	for _, e := range errs {
		if e.Stage == "" {
			e.Stage = stage
		}
	}
	return errs
}

// Steps runs the independent sub-steps of a stage body and aggregates their
// failures, so one failing sub-step does not skip the others.
type Steps struct {
	stage string
	errs  []*Error
}

func NewSteps(stage string) *Steps {
	return &Steps{stage: stage}
}

// Run executes fn as sub-step step. Errors already classified keep their
// kind; anything else is classified as kind. Reports whether fn succeeded.
func (s *Steps) Run(step string, kind Kind, fn func() error) bool {
	err := fn()
	if err == nil {
		return true
	}
	s.Fail(step, kind, err)
	return false
}

// Fail records err against step.
func (s *Steps) Fail(step string, kind Kind, err error) {
	if err == nil {
		return
	}
	var classified *Error
	if errors.As(err, &classified) {
		cp := *classified
		if cp.Step == "" || cp.Step == stepResolve {
			cp.Step = step
		}
		if cp.Stage == "" {
			cp.Stage = s.stage
		}
		s.errs = append(s.errs, &cp)
		return
	}
	s.errs = append(s.errs, &Error{Kind: kind, Stage: s.stage, Step: step, Err: err})
}

func (s *Steps) Failed() bool { return len(s.errs) > 0 }

// Err returns nil when every sub-step succeeded, else a *StageError.
func (s *Steps) Err() error {
	if len(s.errs) == 0 {
		return nil
	}
	return &StageError{Stage: s.stage, Errs: append([]*Error(nil), s.errs...)}
}
