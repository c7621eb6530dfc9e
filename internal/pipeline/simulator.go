package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"synthpipe/internal/config"
	"synthpipe/internal/models"
	"synthpipe/internal/telemetry"
	"synthpipe/internal/tracker"
	"synthpipe/internal/validate"
)

// Simulator is the local pipeline service. Submissions land in the tracker
// as queued and on the ready queue; the runner advances them through their
// stages (see internal/worker).
type Simulator struct {
	cfg     config.Config
	tracker *tracker.Tracker
	queue   JobQueue
	mirror  StatusMirror
	log     *logrus.Entry
}

// NewSimulator wires the local service. queue and mirror may be nil for
// tracker-only deployments.
func NewSimulator(cfg config.Config, tr *tracker.Tracker, q JobQueue, mirror StatusMirror, log *logrus.Entry) *Simulator {
	return &Simulator{
		cfg:     cfg,
		tracker: tr,
		queue:   q,
		mirror:  mirror,
		log:     log,
	}
}

// SubmitJob validates the configuration, registers the job as queued, and
// hands it to the runner's queue. An empty jobID gets a generated one.
func (s *Simulator) SubmitJob(ctx context.Context, jobID string, cfg models.JobConfiguration) (models.JobCreationResponse, error) {
	if jobID == "" {
		jobID = uuid.New().String()
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = int(s.cfg.DefaultTimeout / time.Second)
	}
	if cfg.ResumeWindowSeconds == 0 {
		cfg.ResumeWindowSeconds = int(s.cfg.DefaultResumeWindow / time.Second)
	}

	if res := validate.Config(cfg); !res.Valid() {
		return models.JobCreationResponse{}, fmt.Errorf("%w: %s", models.ErrInvalidConfiguration, res.String())
	}

	js, err := s.tracker.Register(jobID, cfg)
	if err != nil {
		return models.JobCreationResponse{}, err
	}

	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, jobID); err != nil {
			s.log.WithError(err).WithField("job_id", jobID).Warn("enqueue failed, job stays queued in tracker")
		}
	}
	s.mirrorStatus(ctx, js)
	telemetry.JobsSubmitted.Inc()
	s.log.WithFields(logrus.Fields{"job_id": jobID, "data_type": cfg.DataType, "rows": cfg.RowCount}).Info("job submitted")

	return models.JobCreationResponse{
		JobID:     jobID,
		Status:    "accepted",
		Message:   "job queued for generation",
		Timestamp: time.Now().UTC(),
	}, nil
}

// CancelJob applies the cancel transition. Unknown ids and jobs already in
// a terminal state return false.
func (s *Simulator) CancelJob(ctx context.Context, jobID string) (bool, error) {
	js, err := s.tracker.Apply(jobID, models.EventCancel)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) || errors.Is(err, models.ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}

	if s.queue != nil {
		if err := s.queue.Remove(ctx, jobID); err != nil {
			s.log.WithError(err).WithField("job_id", jobID).Warn("remove from queue failed")
		}
	}
	s.mirrorStatus(ctx, js)
	telemetry.JobsCancelled.Inc()
	s.log.WithField("job_id", jobID).Info("job cancelled")
	return true, nil
}

// ResumeJob re-runs a cancelled job if its resume window has not elapsed.
func (s *Simulator) ResumeJob(ctx context.Context, jobID string) (bool, error) {
	js, err := s.tracker.Apply(jobID, models.EventResume)
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) || errors.Is(err, models.ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}

	if s.queue != nil {
		if err := s.queue.Enqueue(ctx, jobID); err != nil {
			s.log.WithError(err).WithField("job_id", jobID).Warn("re-enqueue failed after resume")
		}
	}
	s.mirrorStatus(ctx, js)
	telemetry.JobsResumed.Inc()
	s.log.WithField("job_id", jobID).Info("job resumed")
	return true, nil
}

// GetJobStatus returns a snapshot of the tracked status. Jobs submitted by
// another process are hydrated from the mirror when it supports reads.
func (s *Simulator) GetJobStatus(ctx context.Context, jobID string) (models.JobStatus, error) {
	js, err := s.tracker.Get(jobID)
	if err == nil {
		return js, nil
	}
	if loader, ok := s.mirror.(StatusLoader); ok && errors.Is(err, models.ErrJobNotFound) {
		if mirrored, lerr := loader.LoadStatus(ctx, jobID); lerr == nil {
			s.tracker.Set(jobID, mirrored)
			return mirrored, nil
		}
	}
	return models.JobStatus{}, err
}

// CheckHealth aggregates job counts and the trailing failure rate.
func (s *Simulator) CheckHealth(ctx context.Context) (models.PipelineHealth, error) {
	counts := s.tracker.CountByStatus()
	metrics := models.HealthMetrics{
		ActiveJobs:    counts[models.StatusRunning],
		QueuedJobs:    counts[models.StatusQueued],
		CompletedJobs: counts[models.StatusCompleted],
		FailedJobs:    counts[models.StatusFailed],
		CancelledJobs: counts[models.StatusCancelled],
		FailureRate:   s.tracker.FailureRate(),
	}
	if s.queue != nil {
		if depth, err := s.queue.Depth(ctx); err == nil {
			metrics.QueueDepth = depth
		}
	}

	health := models.PipelineHealth{
		Status:    models.HealthHealthy,
		Message:   "pipeline operating normally",
		Metrics:   metrics,
		Timestamp: time.Now().UTC(),
	}
	if metrics.FailureRate > s.cfg.DegradedFailRate {
		health.Status = models.HealthDegraded
		health.Message = fmt.Sprintf("failure rate %.0f%% over trailing window", metrics.FailureRate*100)
	}
	return health, nil
}

func (s *Simulator) mirrorStatus(ctx context.Context, js models.JobStatus) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.SaveStatus(ctx, js); err != nil {
		s.log.WithError(err).WithField("job_id", js.JobID).Warn("mirror write failed")
	}
}
