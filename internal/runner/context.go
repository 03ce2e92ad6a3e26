package runner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"wireframe/internal/artifact"
)

// RunConfig is the raw material for a RunContext.
type RunConfig struct {
	RunID           string
	MissionID       string
	SourceDirectory string
	SaveDirectory   string
	ModelReferences map[string]string
}

// RunContext is the read-only, run-scoped configuration shared by every
// stage. The zero value is not usable; build one with NewRunContext.
type RunContext struct {
	runID     string
	missionID string
	source    string
	save      string
	models    map[string]string
}

func NewRunContext(cfg RunConfig) (RunContext, error) {
	mission := strings.TrimSpace(cfg.MissionID)
	if mission == "" {
		return RunContext{}, fmt.Errorf("mission id is required")
	}
	if strings.ContainsAny(mission, `/\`) || mission == "." || mission == ".." {
		return RunContext{}, fmt.Errorf("invalid mission id %q", mission)
	}
	source := strings.TrimRight(strings.TrimSpace(cfg.SourceDirectory), "/")
	if source == "" {
		return RunContext{}, fmt.Errorf("source directory is required")
	}
	save := strings.TrimRight(strings.TrimSpace(cfg.SaveDirectory), "/")
	if save == "" {
		return RunContext{}, fmt.Errorf("save directory is required")
	}
	runID := strings.TrimSpace(cfg.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	models := make(map[string]string, len(cfg.ModelReferences))
	for name, ref := range cfg.ModelReferences {
		name = strings.TrimSpace(name)
		ref = strings.TrimSpace(ref)
		if name == "" || ref == "" {
			continue
		}
		models[name] = ref
	}
	return RunContext{
		runID:     runID,
		missionID: mission,
		source:    source,
		save:      save,
		models:    models,
	}, nil
}

func (rc RunContext) RunID() string           { return rc.runID }
func (rc RunContext) MissionID() string       { return rc.missionID }
func (rc RunContext) SourceDirectory() string { return rc.source }
func (rc RunContext) SaveDirectory() string   { return rc.save }

// ModelReferences returns a copy of the model name to location mapping.
func (rc RunContext) ModelReferences() map[string]string {
	out := make(map[string]string, len(rc.models))
	for k, v := range rc.models {
		out[k] = v
	}
	return out
}

func (rc RunContext) ModelReference(name string) (string, bool) {
	ref, ok := rc.models[strings.TrimSpace(name)]
	return ref, ok
}

// ModelNames lists configured model names in sorted order.
func (rc RunContext) ModelNames() []string {
	names := make([]string, 0, len(rc.models))
	for name := range rc.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SourceKey locates a raw mission product:
// <source>/<mission>/preview_products/<name>.
func (rc RunContext) SourceKey(name string) string {
	return artifact.Join(rc.source, rc.missionID, "preview_products", name)
}

// SaveKey locates a derived artifact: <save>/<name>.
func (rc RunContext) SaveKey(name string) string {
	return artifact.Join(rc.save, name)
}
