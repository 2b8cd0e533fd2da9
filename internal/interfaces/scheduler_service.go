package interfaces

import (
	"context"
	"time"
)

// JobStatus represents the current status of a scheduled job
type JobStatus struct {
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	IsRunning   bool       `json:"is_running"`
	LastError   string     `json:"last_error,omitempty"`
}

// JobHandler is the body of a scheduled job
type JobHandler func(ctx context.Context) error

// SchedulerService runs the periodic background jobs (sweep, capture poll,
// auto-sync, credential eviction)
type SchedulerService interface {
	// Start begins firing registered jobs
	Start() error

	// Stop halts the scheduler and waits for running jobs to finish
	Stop() error

	// IsRunning returns true if scheduler is active
	IsRunning() bool

	// RegisterJob registers a job. An empty schedule registers it disabled
	// (runnable only through RunNow).
	RegisterJob(name, schedule, description string, handler JobHandler) error

	// RunNow executes a registered job immediately and returns its error
	RunNow(ctx context.Context, name string) error

	EnableJob(name string) error
	DisableJob(name string) error

	// GetJobStatus returns the status of a specific job
	GetJobStatus(name string) (*JobStatus, error)

	// GetAllJobStatuses returns all job statuses
	GetAllJobStatuses() map[string]*JobStatus
}
