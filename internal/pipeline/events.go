package pipeline

import "time"

// EventType enumerates structured run events.
//
// These values are persisted by the ledger and read back by `semrel runs`.
type EventType string

const (
	RunStarted   EventType = "RUN_STARTED"
	RunCompleted EventType = "RUN_COMPLETED"

	GateChecked EventType = "GATE_CHECKED"

	PhaseStarted   EventType = "PHASE_STARTED"
	PhaseCompleted EventType = "PHASE_COMPLETED"

	StepStarted   EventType = "STEP_STARTED"
	StepSucceeded EventType = "STEP_SUCCEEDED"
	StepFailed    EventType = "STEP_FAILED"
	StepSkipped   EventType = "STEP_SKIPPED"
)

// Phase names used in events and errors.
const (
	PhaseVerify  = "verify"
	PhasePrepare = "prepare"
	PhasePublish = "publish"
)

type Event struct {
	TS      time.Time
	RunID   string
	Type    EventType
	Phase   string
	Step    string
	Message string
	Error   string
}

type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) {
	if f == nil {
		return
	}
	f(ev)
}

// Emitter fans events out to observers, stamping time and run id.
type Emitter struct {
	RunID     string
	Observers []Observer
	now       func() time.Time
}

func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	if ev.TS.IsZero() {
		now := time.Now
		if e.now != nil {
			now = e.now
		}
		ev.TS = now().UTC()
	}
	if ev.RunID == "" {
		ev.RunID = e.RunID
	}
	for _, o := range e.Observers {
		if o != nil {
			o.Observe(ev)
		}
	}
}
