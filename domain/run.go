package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunRepository defines the persistence methods for backend launch records.
type RunRepository interface {
	// InsertRun stores a new backend run.
	InsertRun(run *BackendRun) error
	// UpdateRun overwrites the mutable fields (state, pid, timestamps, exit code, error) of a run.
	// It returns ErrNotFound if the run does not exist.
	UpdateRun(run *BackendRun) error
	// GetRun returns a single run by ID.
	GetRun(id uuid.UUID) (*BackendRun, error)
	// GetRuns returns every run, newest first.
	GetRuns() ([]*BackendRun, error)
}

// BackendRun records one launch of the backend process, or one attach to an already running backend.
type BackendRun struct {
	ID        uuid.UUID
	Command   string     // Command line that was executed, empty when attached
	Dir       string     // Working directory of the process
	PID       int        // OS process id, 0 when attached or when the launch failed
	State     string     // Last observed state (starting, ready, exited)
	StartedAt time.Time  // When the launch was attempted
	ReadyAt   *time.Time // When the readiness probe succeeded
	ExitedAt  *time.Time // When the process exit was observed
	ExitCode  *int       // Exit code, nil while running or if unknown
	Error     string     // Launch or probe error if any
}
