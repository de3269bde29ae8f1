package supervisor

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of the supervised backend.
type State int

const (
	NotStarted State = iota
	Starting
	Ready
	Exited
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Exited:
		return "exited"
	default:
		return "unknown"
	}
}

// Running reports whether a launch is in progress or the backend is serving.
func (s State) Running() bool {
	return s == Starting || s == Ready
}

var (
	// ErrNotReady is returned when the backend does not pass its readiness probe.
	ErrNotReady = errors.New("backend not ready")
	// ErrRelaunchThrottled is returned when a relaunch is requested sooner than the relaunch interval allows.
	ErrRelaunchThrottled = errors.New("backend relaunch throttled")
	// ErrStopped is returned once Stop has been called.
	ErrStopped = errors.New("supervisor stopped")
)

// Snapshot is a point in time view of the process handle.
type Snapshot struct {
	State        string     `json:"state"`
	Mode         string     `json:"mode"`
	Backend      string     `json:"backend"`
	Command      string     `json:"command,omitempty"`
	PID          int        `json:"pid,omitempty"`
	RunID        *uuid.UUID `json:"runId,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	ReadyAt      *time.Time `json:"readyAt,omitempty"`
	LastExitCode *int       `json:"lastExitCode,omitempty"`
	Launches     int        `json:"launches"`
}
