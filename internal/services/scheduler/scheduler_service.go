package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/credsync/internal/common"
	"github.com/ternarybob/credsync/internal/interfaces"
)

const jobStateKeyPrefix = "scheduler:"

// jobEntry represents a registered job with metadata
type jobEntry struct {
	name        string
	schedule    string
	description string
	handler     interfaces.JobHandler
	enabled     bool
	cronID      cron.EntryID
	lastRun     *time.Time
	isRunning   bool
	lastError   string
}

// persistedJob is the job state kept across restarts
type persistedJob struct {
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Service implements SchedulerService on robfig/cron. A job never overlaps
// with itself; different jobs may run concurrently.
type Service struct {
	cron   *cron.Cron
	kv     interfaces.KeyValueStorage // optional, persists last run
	logger arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc

	jobMu   sync.Mutex // protects jobs
	jobs    map[string]*jobEntry
	running bool
	wg      sync.WaitGroup
}

// NewService creates a new scheduler service. kv may be nil.
func NewService(kv interfaces.KeyValueStorage, logger arbor.ILogger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cron:   cron.New(cron.WithParser(common.ScheduleParser())),
		kv:     kv,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*jobEntry),
	}
}

var _ interfaces.SchedulerService = (*Service)(nil)

// Start begins firing registered jobs
func (s *Service) Start() error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for in-flight jobs, including RunNow
// calls. Later RunNow calls fail.
func (s *Service) Stop() error {
	s.jobMu.Lock()
	wasRunning := s.running
	s.running = false
	s.cancel()
	s.jobMu.Unlock()

	if wasRunning {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()

	if wasRunning {
		s.logger.Info().Msg("Scheduler stopped")
	}
	return nil
}

// IsRunning returns true if scheduler is active
func (s *Service) IsRunning() bool {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return s.running
}

// RegisterJob registers a new job with the scheduler
func (s *Service) RegisterJob(name, schedule, description string, handler interfaces.JobHandler) error {
	if schedule != "" {
		if err := common.ValidateSchedule(schedule); err != nil {
			return fmt.Errorf("invalid schedule: %w", err)
		}
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:        name,
		schedule:    schedule,
		description: description,
		handler:     handler,
	}
	s.restore(entry)

	if schedule != "" {
		if err := s.schedule(entry); err != nil {
			return err
		}
	}
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Bool("enabled", entry.enabled).
		Msg("Job registered")

	return nil
}

// EnableJob enables a disabled job
func (s *Service) EnableJob(name string) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	if entry.enabled {
		return nil
	}
	if entry.schedule == "" {
		return fmt.Errorf("job %s has no schedule", name)
	}
	if err := s.schedule(entry); err != nil {
		return err
	}

	s.logger.Info().Str("job_name", name).Msg("Job enabled")
	return nil
}

// DisableJob disables an enabled job
func (s *Service) DisableJob(name string) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	if !entry.enabled {
		return nil
	}

	s.cron.Remove(entry.cronID)
	entry.enabled = false

	s.logger.Info().Str("job_name", name).Msg("Job disabled")
	return nil
}

// schedule adds entry to cron. Callers hold jobMu.
func (s *Service) schedule(entry *jobEntry) error {
	name := entry.name
	cronID, err := s.cron.AddFunc(entry.schedule, func() {
		_ = s.executeJob(s.ctx, name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}
	entry.cronID = cronID
	entry.enabled = true
	return nil
}

// RunNow executes a registered job immediately
func (s *Service) RunNow(ctx context.Context, name string) error {
	s.jobMu.Lock()
	_, exists := s.jobs[name]
	s.jobMu.Unlock()
	if !exists {
		return fmt.Errorf("job %s not found", name)
	}
	return s.executeJob(ctx, name)
}

// GetJobStatus returns the status of a specific job
func (s *Service) GetJobStatus(name string) (*interfaces.JobStatus, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}

	var nextRun *time.Time
	if entry.enabled && s.running {
		next := s.cron.Entry(entry.cronID).Next
		if !next.IsZero() {
			nextRun = &next
		}
	}

	return &interfaces.JobStatus{
		Name:        entry.name,
		Enabled:     entry.enabled,
		Schedule:    entry.schedule,
		Description: entry.description,
		LastRun:     entry.lastRun,
		NextRun:     nextRun,
		IsRunning:   entry.isRunning,
		LastError:   entry.lastError,
	}, nil
}

// GetAllJobStatuses returns all job statuses
func (s *Service) GetAllJobStatuses() map[string]*interfaces.JobStatus {
	s.jobMu.Lock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	s.jobMu.Unlock()

	statuses := make(map[string]*interfaces.JobStatus, len(names))
	for _, name := range names {
		if status, err := s.GetJobStatus(name); err == nil {
			statuses[name] = status
		}
	}
	return statuses
}

var (
	errJobRunning = errors.New("job already running")
	errStopped    = errors.New("scheduler stopped")
)

// executeJob wraps job execution with overlap protection, panic recovery and status tracking
func (s *Service) executeJob(ctx context.Context, name string) (err error) {
	s.jobMu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.jobMu.Unlock()
		return fmt.Errorf("job %s not found", name)
	}
	if s.ctx.Err() != nil {
		s.jobMu.Unlock()
		return errStopped
	}
	if entry.isRunning {
		s.jobMu.Unlock()
		s.logger.Debug().Str("job_name", name).Msg("Job still running, skipping")
		return errJobRunning
	}
	entry.isRunning = true
	handler := entry.handler
	// Added under jobMu so Stop cannot finish waiting before this run is counted
	s.wg.Add(1)
	s.jobMu.Unlock()

	defer s.wg.Done()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_name", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Recovered from panic in job")
			err = fmt.Errorf("panic: %v", r)
		}

		s.jobMu.Lock()
		entry.isRunning = false
		entry.lastRun = &start
		entry.lastError = ""
		if err != nil {
			entry.lastError = err.Error()
		}
		state := persistedJob{LastRun: entry.lastRun, LastError: entry.lastError}
		s.jobMu.Unlock()

		s.persist(name, state)
	}()

	s.logger.Debug().Str("job_name", name).Msg("Job execution started")

	err = handler(ctx)

	if err != nil {
		s.logger.Warn().
			Str("job_name", name).
			Dur("duration", time.Since(start)).
			Err(err).
			Msg("Job execution failed")
		return err
	}

	s.logger.Debug().
		Str("job_name", name).
		Dur("duration", time.Since(start)).
		Msg("Job execution completed")
	return nil
}

func (s *Service) restore(entry *jobEntry) {
	if s.kv == nil {
		return
	}
	raw, err := s.kv.Get(context.Background(), jobStateKeyPrefix+entry.name)
	if err != nil {
		return
	}
	var state persistedJob
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		s.logger.Debug().Err(err).Str("job_name", entry.name).Msg("Ignoring unreadable job state")
		return
	}
	entry.lastRun = state.LastRun
	entry.lastError = state.LastError
}

func (s *Service) persist(name string, state persistedJob) {
	if s.kv == nil {
		return
	}
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := s.kv.Set(context.Background(), jobStateKeyPrefix+name, string(data), "scheduler job state"); err != nil {
		s.logger.Warn().Err(err).Str("job_name", name).Msg("Failed to persist job state")
	}
}
