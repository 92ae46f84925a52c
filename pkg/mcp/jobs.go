package mcp

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a build job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) active() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// Job represents a background build of one or more documents
type Job struct {
	ID              string    `json:"id"`
	Documents       []string  `json:"documents"`
	Status          JobStatus `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at,omitempty"`
	Built           int       `json:"built"`
	Skipped         int       `json:"skipped"`
	FailedDocuments []string  `json:"failed_documents,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Incremental     bool      `json:"incremental"`

	// Internal fields
	ctx    context.Context
	cancel context.CancelFunc
}

// snapshot copies the exported fields so callers can read them without holding the lock
func (j *Job) snapshot() *Job {
	c := *j
	c.Documents = slices.Clone(j.Documents)
	c.FailedDocuments = slices.Clone(j.FailedDocuments)
	return &c
}

// JobManager manages background build jobs
type JobManager struct {
	jobs     map[string]*Job
	mu       sync.RWMutex
	byTarget map[string]string // sorted document list -> jobID for active jobs
}

// NewJobManager creates a new job manager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:     make(map[string]*Job),
		byTarget: make(map[string]string),
	}
}

func targetKey(docs []string) string {
	sorted := slices.Clone(docs)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// CreateJob creates a new job for a set of documents.
// If an identical set is already being built, the existing job is returned with created false,
// so only the caller that created the job starts it.
func (m *JobManager) CreateJob(docs []string, incremental bool) (job *Job, created bool, err error) {
	if len(docs) == 0 {
		return nil, false, errors.New("job needs at least one document")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	target := targetKey(docs)
	if existingJobID, exists := m.byTarget[target]; exists {
		existingJob := m.jobs[existingJobID]
		if existingJob != nil && existingJob.Status.active() {
			return existingJob.snapshot(), false, nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	job = &Job{
		ID:          uuid.New().String(),
		Documents:   slices.Clone(docs),
		Status:      JobStatusPending,
		StartedAt:   time.Now(),
		Incremental: incremental,
		ctx:         ctx,
		cancel:      cancel,
	}

	m.jobs[job.ID] = job
	m.byTarget[target] = job.ID

	return job.snapshot(), true, nil
}

// GetJob retrieves a copy of a job by ID
func (m *JobManager) GetJob(jobID string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if job, ok := m.jobs[jobID]; ok {
		return job.snapshot()
	}
	return nil
}

// IsRunning checks if any active job includes docKey
func (m *JobManager) IsRunning(docKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, jobID := range m.byTarget {
		if job := m.jobs[jobID]; job != nil && job.Status.active() && slices.Contains(job.Documents, docKey) {
			return true
		}
	}
	return false
}

// UpdateStatus updates the status of a job
func (m *JobManager) UpdateStatus(jobID string, status JobStatus, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists {
		if job.Status == JobStatusCancelled {
			return
		}
		job.Status = status
		if !status.active() {
			job.CompletedAt = time.Now()
			m.release(job)
		}
		if errorMsg != "" {
			job.ErrorMessage = errorMsg
		}
	}
}

// UpdateProgress records the outcome counters of a job
func (m *JobManager) UpdateProgress(jobID string, built, skipped int, failed []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists {
		job.Built = built
		job.Skipped = skipped
		job.FailedDocuments = slices.Clone(failed)
	}
}

// CancelJob cancels a running job
func (m *JobManager) CancelJob(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, exists := m.jobs[jobID]; exists && job.Status.active() {
		job.cancel()
		job.Status = JobStatusCancelled
		job.CompletedAt = time.Now()
		m.release(job)
		return true
	}
	return false
}

// CancelAll cancels all running jobs
func (m *JobManager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.Status.active() {
			job.cancel()
			job.Status = JobStatusCancelled
			job.CompletedAt = time.Now()
		}
	}
	m.byTarget = make(map[string]string)
}

// ListJobs returns copies of all jobs, newest first
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.snapshot())
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	return jobs
}

// GetContext returns the context for a job (for running the build)
func (m *JobManager) GetContext(jobID string) context.Context {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if job, exists := m.jobs[jobID]; exists {
		return job.ctx
	}
	return context.Background()
}

// release drops the target index entry for a finished job. Caller holds mu.
func (m *JobManager) release(job *Job) {
	target := targetKey(job.Documents)
	if m.byTarget[target] == job.ID {
		delete(m.byTarget, target)
	}
}
