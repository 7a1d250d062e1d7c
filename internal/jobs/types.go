package jobs

import (
	"context"
	"time"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeProcessStatement runs the ingestion pipeline for one statement.
	JobTypeProcessStatement JobType = "process_statement"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ProcessStatementJob asks a worker to run the pipeline for a queued statement.
// Jobs are never retried automatically; a failed statement stays FAILED until
// a user or admin resets it.
type ProcessStatementJob struct {
	JobID       string     `json:"job_id"`
	StatementID string     `json:"statement_id"`
	UserID      string     `json:"user_id,omitempty"`
	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

func (j *ProcessStatementJob) GetID() string {
	return j.JobID
}

func (j *ProcessStatementJob) GetType() JobType {
	return JobTypeProcessStatement
}

func (j *ProcessStatementJob) GetStatus() JobStatus {
	return j.Status
}

// Publisher enqueues jobs.
type Publisher interface {
	PublishProcessStatement(ctx context.Context, job *ProcessStatementJob) error
	Close() error
}

// Consumer runs jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs. The handler is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error marks the job failed.
type JobHandler func(ctx context.Context, job Job) error

// JobStore records job outcomes so operators can see what ran.
type JobStore interface {
	SaveJob(ctx context.Context, job *ProcessStatementJob) error
	GetJob(ctx context.Context, jobID string) (*ProcessStatementJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*ProcessStatementJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	StatementID string
	Status      JobStatus
	Limit       int
	Offset      int
}
