package pipeline

import (
	"context"

	"synthpipe/internal/models"
)

// Service is the pipeline operation surface. Both the local Simulator and
// the RemoteAdapter satisfy it; callers select one by configuration.
//
// CancelJob and ResumeJob report benign no-ops (unknown id, state that
// cannot move) as false rather than an error; errors are reserved for
// infrastructure failures.
type Service interface {
	SubmitJob(ctx context.Context, jobID string, cfg models.JobConfiguration) (models.JobCreationResponse, error)
	CancelJob(ctx context.Context, jobID string) (bool, error)
	ResumeJob(ctx context.Context, jobID string) (bool, error)
	GetJobStatus(ctx context.Context, jobID string) (models.JobStatus, error)
	CheckHealth(ctx context.Context) (models.PipelineHealth, error)
}

// JobQueue is the slice of queue behavior the service needs.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
	Remove(ctx context.Context, jobID string) error
	Depth(ctx context.Context) (int64, error)
}

// StatusMirror persists status snapshots outside the process. Mirror writes
// are best-effort; the in-memory tracker stays authoritative.
type StatusMirror interface {
	SaveStatus(ctx context.Context, js models.JobStatus) error
}

// StatusLoader is the optional read side of a mirror. Components type-assert
// for it to hydrate jobs submitted by another process.
type StatusLoader interface {
	LoadStatus(ctx context.Context, jobID string) (models.JobStatus, error)
}
