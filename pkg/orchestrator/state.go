package orchestrator

import "fmt"

// State is the lifecycle phase of a run
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

// States lists every state in lifecycle order
var States = []State{StateIdle, StateRunning, StateDraining, StateStopped}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}

// Disposition is what happened to a unit
type Disposition int

const (
	// DispositionDone means the unit was handled; zero records is still done
	DispositionDone Disposition = iota
	// DispositionInvalid means the unit is confirmed to hold no record
	DispositionInvalid
	// DispositionSoftFailed means some work failed transiently; the unit is still completed
	DispositionSoftFailed
	// DispositionAbandoned means the unit was interrupted and goes back to the source
	DispositionAbandoned
)

func (d Disposition) String() string {
	switch d {
	case DispositionDone:
		return "done"
	case DispositionInvalid:
		return "invalid"
	case DispositionSoftFailed:
		return "soft_failed"
	case DispositionAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// Stop reasons reported in the run summary
const (
	StopExhausted     = "exhausted"
	StopLimit         = "limit"
	StopCanceled      = "canceled"
	StopBudget        = "budget"
	StopQuotaExceeded = "quota_exceeded"
	StopFatal         = "fatal"
)
