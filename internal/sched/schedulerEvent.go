// internal/sched/schedulerEvent.go

package sched

import "twincore/internal/clock"

// EventKind represents the type of scheduler event
type EventKind int

const (
	EventSpawn EventKind = iota
	EventDispatch
	EventPark
	EventWake
	EventIdle
	EventFinish
)

// Event is emitted on key run-loop actions when a trace hook is installed.
type Event struct {
	Tick     clock.Tick
	Kind     EventKind
	Executor string
	TaskID   TaskID
	Task     string
	Deadline clock.Tick // earliest deadline for EventPark and EventIdle
}

func (k EventKind) String() string {
	switch k {
	case EventSpawn:
		return "Spawn"
	case EventDispatch:
		return "Dispatch"
	case EventPark:
		return "Park"
	case EventWake:
		return "Wake"
	case EventIdle:
		return "Idle"
	case EventFinish:
		return "Finish"
	default:
		return "Unknown"
	}
}
