package supervisor

import (
	"time"

	"github.com/tfkr-ae/notebridge/domain"
)

// EventType identifies what happened to the backend.
type EventType string

const (
	EventLaunched     EventType = "launched"
	EventReady        EventType = "ready"
	EventOutput       EventType = "output"
	EventExited       EventType = "exited"
	EventLaunchFailed EventType = "launch_failed"
	EventAttached     EventType = "attached"
	EventProbeFailed  EventType = "probe_failed"
)

// Event is delivered to the OnEvent hook. Run is a copy of the run record at the time of the event.
type Event struct {
	Type   EventType
	Time   time.Time
	Run    domain.BackendRun
	Stream string // stdout or stderr, only set for output events
	Line   string // output line without the trailing newline
	Err    error
}

// EventHandler receives supervisor events. It is called synchronously and must not block.
type EventHandler func(Event)
