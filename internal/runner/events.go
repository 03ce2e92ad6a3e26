package runner

import (
	"context"
	"log"
	"time"
)

type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventStageStarted  EventType = "stage_started"
	EventStageFinished EventType = "stage_finished"
	EventRunFinished   EventType = "run_finished"
)

// Event is emitted by the Sequencer as a run progresses.
type Event struct {
	Type      EventType    `json:"type"`
	RunID     string       `json:"runId"`
	MissionID string       `json:"missionId"`
	Stage     string       `json:"stage,omitempty"`
	Result    *StageResult `json:"result,omitempty"`
	Run       *RunResult   `json:"run,omitempty"`
	At        time.Time    `json:"at"`
}

// Observer receives run events. Implementations must not block for long;
// the sequencer calls them inline.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

func notify(ctx context.Context, observers []Observer, ev Event) {
	for _, o := range observers {
		if o == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("runner: observer panic on %s: %v", ev.Type, r)
				}
			}()
			o.Observe(ctx, ev)
		}()
	}
}
