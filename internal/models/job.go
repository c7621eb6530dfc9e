package models

import (
	"time"
)

// Status enumerates job lifecycle states.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s admits no further transitions except resume.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Event enumerates state-machine inputs applied to a tracked job.
type Event string

const (
	EventStart    Event = "start"
	EventProgress Event = "progress"
	EventSucceed  Event = "succeed"
	EventFail     Event = "fail"
	EventCancel   Event = "cancel"
	EventResume   Event = "resume"
)

// Known serialization formats for generated data.
const (
	FormatCSV     = "csv"
	FormatJSON    = "json"
	FormatSQL     = "sql"
	FormatParquet = "parquet"
)

// KnownFormat reports whether f names a supported serialization format.
func KnownFormat(f string) bool {
	switch f {
	case FormatCSV, FormatJSON, FormatSQL, FormatParquet:
		return true
	default:
		return false
	}
}

// Stage names in execution order.
const (
	StagePreparation  = "preparation"
	StageProcessing   = "processing"
	StageFinalization = "finalization"
)

// StageNames returns the fixed stage order for a generation job.
func StageNames() []string {
	return []string{StagePreparation, StageProcessing, StageFinalization}
}

// JobConfiguration describes what to generate and where. It is supplied by
// the caller at submission time and never mutated afterwards.
type JobConfiguration struct {
	DataType     string `json:"data_type"`
	InputFormat  string `json:"input_format,omitempty"`
	OutputFormat string `json:"output_format"`
	RowCount     int    `json:"row_count"`
	InputBucket  string `json:"input_bucket,omitempty"`
	OutputBucket string `json:"output_bucket,omitempty"`
	InputPath    string `json:"input_path,omitempty"`
	OutputPath   string `json:"output_path,omitempty"`
	IsAsync      bool   `json:"is_async"`
	// TimeoutSeconds bounds how long the job may stay running before the
	// watchdog fails it. ResumeWindowSeconds bounds how long a cancelled
	// job remains resumable.
	TimeoutSeconds      int `json:"timeout_seconds"`
	ResumeWindowSeconds int `json:"resume_window_seconds,omitempty"`
}

// Timeout returns the run deadline as a duration.
func (c JobConfiguration) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResumeWindow returns the post-cancellation resume window as a duration.
func (c JobConfiguration) ResumeWindow() time.Duration {
	return time.Duration(c.ResumeWindowSeconds) * time.Second
}

// Stage is one named sub-phase of a job with its own status and progress.
type Stage struct {
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`
}

// JobError carries the failure detail attached to a failed job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes attached to JobError.
const (
	ErrCodeTimeout    = "TIMEOUT"
	ErrCodeGeneration = "GENERATION_FAILED"
	ErrCodeRemote     = "REMOTE_BACKEND"
)

// JobStatus is the tracked lifecycle record for one job. The tracker owns
// all instances; callers only ever see snapshots.
type JobStatus struct {
	JobID       string           `json:"job_id"`
	Config      JobConfiguration `json:"config"`
	Status      Status           `json:"status"`
	Progress    int              `json:"progress"`
	Stages      []Stage          `json:"stages"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	CancelledAt *time.Time       `json:"cancelled_at,omitempty"`
	Error       *JobError        `json:"error,omitempty"`
}

// Clone returns a deep copy safe to hand outside the tracker.
func (j JobStatus) Clone() JobStatus {
	out := j
	out.Stages = make([]Stage, len(j.Stages))
	copy(out.Stages, j.Stages)
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.CancelledAt != nil {
		t := *j.CancelledAt
		out.CancelledAt = &t
	}
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return out
}

// JobCreationResponse acknowledges an accepted submission.
type JobCreationResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthState enumerates aggregate service health.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthDown     HealthState = "down"
)

// HealthMetrics are the counters reported alongside a health check.
type HealthMetrics struct {
	ActiveJobs    int     `json:"active_jobs"`
	QueuedJobs    int     `json:"queued_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	CancelledJobs int     `json:"cancelled_jobs"`
	QueueDepth    int64   `json:"queue_depth,omitempty"`
	FailureRate   float64 `json:"failure_rate"`
}

// PipelineHealth is the process-wide health report.
type PipelineHealth struct {
	Status    HealthState   `json:"status"`
	Message   string        `json:"message"`
	Metrics   HealthMetrics `json:"metrics"`
	Timestamp time.Time     `json:"timestamp"`
}
