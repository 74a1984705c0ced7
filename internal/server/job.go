package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwbudde/secantfit/internal/store"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal reports whether the job has finished.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// JobConfig is an alias to avoid duplication with store.RunConfig
type JobConfig = store.RunConfig

// Job represents a training job
type Job struct {
	ID                 string     `json:"id"`
	State              JobState   `json:"state"`
	Config             JobConfig  `json:"config"`
	Params             []float64  `json:"params,omitempty"`
	Loss               float64    `json:"loss"`
	InitialLoss        float64    `json:"initialLoss"`
	Iterations         int        `json:"iterations"`
	LineSearchFailures int        `json:"lineSearchFailures"`
	TrainState         string     `json:"trainState,omitempty"`
	StartTime          time.Time  `json:"startTime"`
	EndTime            *time.Time `json:"endTime,omitempty"`
	Error              string     `json:"error,omitempty"`

	losses []float64
	cancel context.CancelFunc
}

// snapshot copies the job so it can be read without the manager lock.
func (j *Job) snapshot() *Job {
	c := *j
	c.Params = append([]float64(nil), j.Params...)
	c.Config = j.Config.Clone()
	c.losses = nil
	c.cancel = nil
	return &c
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster

	// beforeStart, if set, runs after a worker has picked up a job and
	// before the job is marked running.
	beforeStart func(id string)
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new job with the given configuration
func (jm *JobManager) CreateJob(config JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}

	jm.jobs[job.ID] = job
	return job.snapshot()
}

// GetJob returns a snapshot of the job with the given ID
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	return job.snapshot(), true
}

// ListJobs returns snapshots of all jobs, oldest first
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sortJobs(jobs)
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// markRunning moves a pending job to running and installs cancel. It fails
// with context.Canceled if the job was cancelled before a worker got to it.
func (jm *JobManager) markRunning(id string, cancel context.CancelFunc) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	if job.State == StateCancelled {
		return context.Canceled
	}
	if job.State != StatePending {
		return fmt.Errorf("job %s is %s, not pending", id, job.State)
	}
	job.State = StateRunning
	job.cancel = cancel
	return nil
}

// Losses returns the recorded loss history of a job from iteration offset on.
func (jm *JobManager) Losses(id string, offset int) ([]float64, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	if offset < 0 {
		offset = 0
	}
	if offset > len(job.losses) {
		offset = len(job.losses)
	}
	return append([]float64{}, job.losses[offset:]...), true
}

// Cancel requests cancellation of a job. It returns false if the job does
// not exist and an error if it has already finished.
func (jm *JobManager) Cancel(id string) (bool, error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return false, nil
	}
	if job.State.Terminal() {
		return true, fmt.Errorf("job %s already %s", id, job.State)
	}
	if job.cancel == nil {
		// Not picked up by a worker yet.
		endTime := time.Now()
		job.State = StateCancelled
		job.EndTime = &endTime
		return true, nil
	}
	job.cancel()
	return true, nil
}

// GetRunningJobs returns all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			runningJobs = append(runningJobs, job.snapshot())
		}
	}
	return runningJobs
}
