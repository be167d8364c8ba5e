package transfer

import (
	"github.com/google/uuid"
)

// State is the lifecycle state of a transfer task.
type State int

const (
	StateStarted State = iota
	StateRunning
	StatePaused
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one progress notification for a transfer task. Bytes counts
// payload bytes settled so far. Every task ends with exactly one
// terminal event (paused, done or failed); Err is set only on failed
// events.
type Event struct {
	TaskID string
	Path   string
	State  State
	Bytes  int64
	Total  int64
	Err    error
}

// Progress receives task events. Implementations must be safe for
// concurrent calls; chunk workers report from their own goroutines.
type Progress func(Event)

// emit is a nil-safe send.
func (p Progress) emit(ev Event) {
	if p != nil {
		p(ev)
	}
}

// newTaskID returns a fresh unique task identifier.
func newTaskID() string {
	return uuid.NewString()
}
