package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/expense-review-bot/internal/domain"
)

var (
	// ErrQueueFull is returned when a job cannot be enqueued without blocking.
	ErrQueueFull = errors.New("jobs: queue is full")
	// ErrQueueClosed is returned after the queue has been stopped.
	ErrQueueClosed = errors.New("jobs: queue is closed")
	// ErrNotFound is returned by a JobStore for an unknown job ID.
	ErrNotFound = errors.New("jobs: job not found")
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeSecondaryWrite writes a finalized transaction to one secondary sink.
	JobTypeSecondaryWrite JobType = "secondary_write"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobStatusPending indicates the job is waiting to be processed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates the job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates the job completed successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job failed and will not be retried.
	JobStatusFailed JobStatus = "failed"
	// JobStatusRetrying indicates the job failed and is being retried.
	JobStatusRetrying JobStatus = "retrying"
)

// SecondaryWriteJob writes one transaction to one named secondary sink.
type SecondaryWriteJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// Sink is the name of the secondary sink.
	Sink string `json:"sink"`

	// TransactionID is the ID of the transaction being written.
	TransactionID string `json:"transaction_id"`

	// Transaction is the finalized transaction.
	Transaction domain.Transaction `json:"-"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error contains the last error if the job failed.
	Error string `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

// GetID implements the Job interface.
func (j *SecondaryWriteJob) GetID() string {
	return j.JobID
}

// GetType implements the Job interface.
func (j *SecondaryWriteJob) GetType() JobType {
	return JobTypeSecondaryWrite
}

// GetStatus implements the Job interface.
func (j *SecondaryWriteJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher enqueues jobs without waiting for them to run.
type Publisher interface {
	// PublishSecondaryWrite enqueues a write. It must not block; a full
	// queue returns ErrQueueFull.
	PublishSecondaryWrite(ctx context.Context, job *SecondaryWriteJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer runs jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error makes the job eligible for
// a retry.
type JobHandler func(ctx context.Context, job Job) error

// FailureHandler is told about a job that failed for the last time.
type FailureHandler func(job *SecondaryWriteJob, err error)

// JobStore keeps the status of recent jobs for inspection.
type JobStore interface {
	// SaveJob saves or updates a job's state.
	SaveJob(ctx context.Context, job *SecondaryWriteJob) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*SecondaryWriteJob, error)

	// ListJobs retrieves jobs with optional filtering.
	ListJobs(ctx context.Context, filter JobFilter) ([]*SecondaryWriteJob, error)

	// UpdateJobStatus updates the status of a job.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Sink          string
	TransactionID string
	Status        JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}
