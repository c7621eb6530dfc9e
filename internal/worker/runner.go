package worker

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"synthpipe/internal/config"
	"synthpipe/internal/models"
	"synthpipe/internal/pipeline"
	"synthpipe/internal/queue"
	"synthpipe/internal/telemetry"
	"synthpipe/internal/tracker"
)

// Runner drives queued jobs through preparation, processing, and
// finalization, updating the tracker as the single writer for progress.
type Runner struct {
	cfg     config.Config
	queue   *queue.RedisQueue
	tracker *tracker.Tracker
	gen     *Generator
	mirror  pipeline.StatusMirror
	log     *logrus.Entry
}

// NewRunner wires the execution loop. mirror may be nil.
func NewRunner(cfg config.Config, q *queue.RedisQueue, tr *tracker.Tracker, gen *Generator, mirror pipeline.StatusMirror, log *logrus.Entry) *Runner {
	return &Runner{
		cfg:     cfg,
		queue:   q,
		tracker: tr,
		gen:     gen,
		mirror:  mirror,
		log:     log,
	}
}

// Run loops until context cancellation: reclaim expired leases, sweep
// timeouts, then process the next ready job.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, _ := r.queue.RequeueExpired(ctx, time.Now(), 100); len(reclaimed) > 0 {
			r.log.WithField("count", len(reclaimed)).Warn("reclaimed expired leases")
		}
		r.SweepTimeouts(ctx, time.Now())
		r.publishGauges(ctx)

		processed, err := r.ProcessOne(ctx)
		if err != nil {
			r.log.WithError(err).Warn("process job")
		}
		if !processed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.RunnerPollInterval):
			}
		}
	}
}

// publishGauges sets queue depth and this process's running-job count from
// observed state, never by paired increments.
func (r *Runner) publishGauges(ctx context.Context) {
	if depth, err := r.queue.Depth(ctx); err == nil {
		telemetry.QueueDepthGauge.Set(float64(depth))
	}
	telemetry.ActiveJobsGauge.Set(float64(r.tracker.CountByStatus()[models.StatusRunning]))
}

// SweepTimeouts force-fails running jobs past their configured timeout.
func (r *Runner) SweepTimeouts(ctx context.Context, now time.Time) {
	for _, id := range r.tracker.ExpireTimeouts(now) {
		telemetry.JobsTimedOut.Inc()
		telemetry.JobsFailed.Inc()
		_ = r.queue.Ack(ctx, id)
		if js, err := r.tracker.Get(id); err == nil {
			r.mirrorStatus(ctx, js)
		}
		r.log.WithField("job_id", id).Warn("job timed out")
	}
}

// ProcessOne dequeues and runs a single job. Returns false when the queue
// was empty.
func (r *Runner) ProcessOne(ctx context.Context) (bool, error) {
	jobID, err := r.queue.DequeueWithLease(ctx)
	if err != nil || jobID == "" {
		return false, err
	}

	// A standalone runner sees jobs submitted by the API process; hydrate
	// them from the mirror before starting.
	if _, err := r.tracker.Get(jobID); errors.Is(err, models.ErrJobNotFound) {
		if loader, ok := r.mirror.(pipeline.StatusLoader); ok {
			if mirrored, lerr := loader.LoadStatus(ctx, jobID); lerr == nil {
				r.tracker.Set(jobID, mirrored)
			}
		}
	}

	js, err := r.tracker.Apply(jobID, models.EventStart)
	if err != nil {
		// Cancelled while queued, or unknown to this process; drop it.
		_ = r.queue.Ack(ctx, jobID)
		if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrJobNotFound) {
			return true, nil
		}
		return true, err
	}
	r.mirrorStatus(ctx, js)

	// Generation may outlive the queue lease on big jobs.
	if est := time.Duration(js.Config.RowCount) * time.Millisecond; est > r.cfg.VisibilityTimeout/2 {
		_ = r.queue.ExtendLease(ctx, jobID, est+r.cfg.VisibilityTimeout)
	}

	location, runErr := r.runStages(ctx, jobID, js)
	if runErr != nil {
		if errors.Is(runErr, errCancelled) {
			_ = r.queue.Ack(ctx, jobID)
			return true, nil
		}
		if _, err := r.tracker.Fail(jobID, models.JobError{
			Code:    models.ErrCodeGeneration,
			Message: "generation failed",
			Details: runErr.Error(),
		}); err == nil {
			telemetry.JobsFailed.Inc()
		}
		_ = r.queue.Ack(ctx, jobID)
		if failed, err := r.tracker.Get(jobID); err == nil {
			r.mirrorStatus(ctx, failed)
		}
		r.log.WithError(runErr).WithField("job_id", jobID).Warn("job failed")
		return true, nil
	}

	done, err := r.tracker.Apply(jobID, models.EventSucceed)
	if err != nil {
		// Lost the race to cancel or timeout; the tracker state stands.
		_ = r.queue.Ack(ctx, jobID)
		return true, nil
	}
	telemetry.JobsCompleted.Inc()
	_ = r.queue.Ack(ctx, jobID)
	r.mirrorStatus(ctx, done)
	r.log.WithFields(logrus.Fields{"job_id": jobID, "location": location}).Info("job completed")
	return true, nil
}

var errCancelled = errors.New("job cancelled mid-run")

// runStages advances the job through its three stages. Preparation and
// finalization are bookkeeping ticks; processing does the actual
// generation. Overall progress stays authoritative over stage detail.
func (r *Runner) runStages(ctx context.Context, jobID string, js models.JobStatus) (string, error) {
	names := models.StageNames()
	location := ""

	for idx, name := range names {
		for step := 1; step <= stageSteps; step++ {
			if cancelled, err := r.cancelledOrGone(jobID); err != nil || cancelled {
				if err != nil {
					return "", err
				}
				return "", errCancelled
			}

			if name == models.StageProcessing && step == 1 {
				loc, err := r.gen.Generate(ctx, js)
				if err != nil {
					return "", err
				}
				location = loc
			}

			within := step * 100 / stageSteps
			overall := (idx*100 + within) / len(names)
			if err := r.tracker.Progress(jobID, overall, stageBreakdown(names, idx, within)); err != nil {
				if errors.Is(err, models.ErrInvalidTransition) {
					return "", errCancelled
				}
				return "", err
			}

			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(r.cfg.StageStepInterval):
			}
		}
		if cur, err := r.tracker.Get(jobID); err == nil {
			r.mirrorStatus(ctx, cur)
		}
	}
	return location, nil
}

const stageSteps = 4

func (r *Runner) cancelledOrGone(jobID string) (bool, error) {
	cur, err := r.tracker.Get(jobID)
	if err != nil {
		return false, err
	}
	return cur.Status != models.StatusRunning, nil
}

// stageBreakdown renders the per-stage view for a job at stage idx with the
// given within-stage percentage.
func stageBreakdown(names []string, idx, within int) []models.Stage {
	stages := make([]models.Stage, len(names))
	for i, name := range names {
		switch {
		case i < idx:
			stages[i] = models.Stage{Name: name, Status: models.StatusCompleted, Progress: 100}
		case i == idx:
			st := models.StatusRunning
			if within >= 100 {
				st = models.StatusCompleted
			}
			stages[i] = models.Stage{Name: name, Status: st, Progress: within}
		default:
			stages[i] = models.Stage{Name: name, Status: models.StatusQueued}
		}
	}
	return stages
}

func (r *Runner) mirrorStatus(ctx context.Context, js models.JobStatus) {
	if r.mirror == nil {
		return
	}
	if err := r.mirror.SaveStatus(ctx, js); err != nil {
		r.log.WithError(err).WithField("job_id", js.JobID).Warn("mirror write failed")
	}
}
