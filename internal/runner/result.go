package runner

import (
	"strings"
	"time"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// RunStatus aggregates the stage statuses of a run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunPartial   RunStatus = "partial"
	RunFailed    RunStatus = "failed"
)

// Failure is one failed sub-step of a stage.
type Failure struct {
	Step   string `json:"step,omitempty"`
	Kind   Kind   `json:"kind"`
	Key    string `json:"key,omitempty"`
	Detail string `json:"detail"`
}

// StageResult records the outcome of one stage. It is never mutated after
// being appended to a RunResult.
type StageResult struct {
	Stage      string    `json:"stage"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Failures   []Failure `json:"failures,omitempty"`
	Produced   []string  `json:"produced"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (r StageResult) Succeeded() bool { return r.Status == StatusSucceeded }

// HasFailure reports whether a failure of kind k mentions key (substring
// match, so a base name such as "dsm.tif" works).
func (r StageResult) HasFailure(k Kind, key string) bool {
	for _, f := range r.Failures {
		if f.Kind == k && (key == "" || strings.Contains(f.Key, key)) {
			return true
		}
	}
	return false
}

type RunResult struct {
	RunID      string        `json:"runId"`
	MissionID  string        `json:"missionId"`
	Status     RunStatus     `json:"status"`
	Stages     []StageResult `json:"stages"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// Stage returns the result recorded for the named stage.
func (r RunResult) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s, true
		}
	}
	return StageResult{}, false
}

// Aggregate derives the run status from stage results.
func Aggregate(results []StageResult) RunStatus {
	failed := 0
	for _, r := range results {
		if !r.Succeeded() {
			failed++
		}
	}
	switch {
	case failed == 0:
		return RunSucceeded
	case failed == len(results):
		return RunFailed
	default:
		return RunPartial
	}
}

// ExitCode maps a run status onto a process exit code.
func (s RunStatus) ExitCode() int {
	switch s {
	case RunSucceeded:
		return 0
	case RunPartial:
		return 2
	default:
		return 1
	}
}
