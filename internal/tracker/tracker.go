package tracker

import (
	"fmt"
	"sync"
	"time"

	"synthpipe/internal/models"
)

// Tracker owns the authoritative jobID -> JobStatus mapping. All mutations
// go through the state machine below; readers only ever receive snapshots.
//
// State machine (terminal states: completed, failed, cancelled):
//
//	queued    --start-->    running
//	running   --progress--> running
//	running   --succeed-->  completed
//	running   --fail-->     failed
//	queued    --cancel-->   cancelled
//	running   --cancel-->   cancelled
//	cancelled --resume-->   running   (only within the job's resume window)
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*models.JobStatus

	// Trailing terminal outcomes used for the health failure rate.
	outcomes      []outcome
	outcomeWindow time.Duration

	now func() time.Time
}

type outcome struct {
	at     time.Time
	failed bool
}

// New creates an empty tracker. outcomeWindow bounds the trailing window
// used by FailureRate; zero disables pruning.
func New(outcomeWindow time.Duration) *Tracker {
	return NewWithClock(outcomeWindow, time.Now)
}

// NewWithClock creates a tracker with an injected clock for tests.
func NewWithClock(outcomeWindow time.Duration, now func() time.Time) *Tracker {
	return &Tracker{
		jobs:          make(map[string]*models.JobStatus),
		outcomeWindow: outcomeWindow,
		now:           now,
	}
}

// Register creates a queued status for jobID. The caller-supplied config is
// copied in as-is and never mutated afterwards.
func (t *Tracker) Register(jobID string, cfg models.JobConfiguration) (models.JobStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.jobs[jobID]; ok {
		return models.JobStatus{}, fmt.Errorf("register %s: %w", jobID, models.ErrDuplicateJob)
	}

	now := t.now()
	stages := make([]models.Stage, 0, 3)
	for _, name := range models.StageNames() {
		stages = append(stages, models.Stage{Name: name, Status: models.StatusQueued})
	}
	js := &models.JobStatus{
		JobID:     jobID,
		Config:    cfg,
		Status:    models.StatusQueued,
		Stages:    stages,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.jobs[jobID] = js
	return js.Clone(), nil
}

// Get returns a snapshot of the job status.
func (t *Tracker) Get(jobID string) (models.JobStatus, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	js, ok := t.jobs[jobID]
	if !ok {
		return models.JobStatus{}, fmt.Errorf("get %s: %w", jobID, models.ErrJobNotFound)
	}
	return js.Clone(), nil
}

// Set replaces the stored status wholesale. The remote adapter uses this to
// mirror backend payloads into the local cache; stale payloads (terminal
// already recorded, or progress moving backward on the same state) are
// ignored so retried reads cannot rewind a job.
func (t *Tracker) Set(jobID string, status models.JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	status.JobID = jobID
	if cur, ok := t.jobs[jobID]; ok {
		if cur.Status.Terminal() && !status.Status.Terminal() {
			return
		}
		if cur.Status == status.Status && status.Progress < cur.Progress {
			return
		}
	}
	cp := status.Clone()
	t.jobs[jobID] = &cp
}

// Apply runs one of start, succeed, cancel, or resume against the current
// state. Progress and failure carry extra payload and have dedicated
// methods. Returns the post-transition snapshot.
func (t *Tracker) Apply(jobID string, ev models.Event) (models.JobStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	js, ok := t.jobs[jobID]
	if !ok {
		return models.JobStatus{}, fmt.Errorf("apply %s to %s: %w", ev, jobID, models.ErrJobNotFound)
	}

	now := t.now()
	switch ev {
	case models.EventStart:
		if js.Status != models.StatusQueued {
			return models.JobStatus{}, t.invalid(js, ev)
		}
		js.Status = models.StatusRunning
		js.StartedAt = &now
		js.Stages[0].Status = models.StatusRunning

	case models.EventSucceed:
		if js.Status != models.StatusRunning {
			return models.JobStatus{}, t.invalid(js, ev)
		}
		js.Status = models.StatusCompleted
		js.Progress = 100
		js.CompletedAt = &now
		for i := range js.Stages {
			js.Stages[i].Status = models.StatusCompleted
			js.Stages[i].Progress = 100
		}
		t.recordOutcome(now, false)

	case models.EventCancel:
		if js.Status != models.StatusQueued && js.Status != models.StatusRunning {
			return models.JobStatus{}, t.invalid(js, ev)
		}
		js.Status = models.StatusCancelled
		js.CancelledAt = &now
		for i := range js.Stages {
			if js.Stages[i].Status == models.StatusRunning || js.Stages[i].Status == models.StatusQueued {
				js.Stages[i].Status = models.StatusCancelled
			}
		}

	case models.EventResume:
		if js.Status != models.StatusCancelled {
			return models.JobStatus{}, t.invalid(js, ev)
		}
		if js.CancelledAt == nil || now.Sub(*js.CancelledAt) > js.Config.ResumeWindow() {
			return models.JobStatus{}, fmt.Errorf("resume %s: window elapsed: %w", jobID, models.ErrInvalidTransition)
		}
		js.Status = models.StatusRunning
		js.CancelledAt = nil
		if js.StartedAt == nil {
			js.StartedAt = &now
		}
		for i := range js.Stages {
			if js.Stages[i].Status == models.StatusCancelled {
				js.Stages[i].Status = models.StatusQueued
			}
		}

	default:
		return models.JobStatus{}, fmt.Errorf("apply %s to %s: unknown event: %w", ev, jobID, models.ErrInvalidTransition)
	}

	js.UpdatedAt = now
	return js.Clone(), nil
}

// Progress advances a running job. Overall progress is authoritative and
// monotone: an update that would move it backward is ignored, which also
// absorbs out-of-order delivery from retried calls. Stage detail, when
// supplied, replaces the stored breakdown as advisory detail.
func (t *Tracker) Progress(jobID string, pct int, stages []models.Stage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	js, ok := t.jobs[jobID]
	if !ok {
		return fmt.Errorf("progress %s: %w", jobID, models.ErrJobNotFound)
	}
	if js.Status != models.StatusRunning {
		return t.invalid(js, models.EventProgress)
	}
	if pct > 100 {
		pct = 100
	}
	if pct < js.Progress {
		return nil // stale update, ignore
	}

	js.Progress = pct
	if len(stages) > 0 {
		js.Stages = make([]models.Stage, len(stages))
		copy(js.Stages, stages)
	}
	js.UpdatedAt = t.now()
	return nil
}

// Fail moves a running job to failed with the given error payload.
func (t *Tracker) Fail(jobID string, jobErr models.JobError) (models.JobStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	js, ok := t.jobs[jobID]
	if !ok {
		return models.JobStatus{}, fmt.Errorf("fail %s: %w", jobID, models.ErrJobNotFound)
	}
	if js.Status != models.StatusRunning {
		return models.JobStatus{}, t.invalid(js, models.EventFail)
	}

	now := t.now()
	js.Status = models.StatusFailed
	js.Error = &jobErr
	js.CompletedAt = &now
	js.UpdatedAt = now
	for i := range js.Stages {
		if js.Stages[i].Status == models.StatusRunning {
			js.Stages[i].Status = models.StatusFailed
		}
	}
	t.recordOutcome(now, true)
	return js.Clone(), nil
}

// ExpireTimeouts force-fails running jobs whose configured timeout elapsed.
// Returns the ids that were failed.
func (t *Tracker) ExpireTimeouts(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for id, js := range t.jobs {
		if js.Status != models.StatusRunning || js.StartedAt == nil {
			continue
		}
		if now.Sub(*js.StartedAt) <= js.Config.Timeout() {
			continue
		}
		js.Status = models.StatusFailed
		js.Error = &models.JobError{
			Code:    models.ErrCodeTimeout,
			Message: "job exceeded configured timeout",
			Details: fmt.Sprintf("timeout=%s", js.Config.Timeout()),
		}
		ts := now
		js.CompletedAt = &ts
		js.UpdatedAt = now
		for i := range js.Stages {
			if js.Stages[i].Status == models.StatusRunning {
				js.Stages[i].Status = models.StatusFailed
			}
		}
		t.recordOutcome(now, true)
		expired = append(expired, id)
	}
	return expired
}

// CountByStatus tallies tracked jobs per lifecycle state.
func (t *Tracker) CountByStatus() map[models.Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[models.Status]int, 5)
	for _, js := range t.jobs {
		counts[js.Status]++
	}
	return counts
}

// FailureRate returns failed/(failed+completed) over the trailing outcome
// window, or 0 when no terminal outcomes were recorded.
func (t *Tracker) FailureRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pruneOutcomes(t.now())
	if len(t.outcomes) == 0 {
		return 0
	}
	failed := 0
	for _, o := range t.outcomes {
		if o.failed {
			failed++
		}
	}
	return float64(failed) / float64(len(t.outcomes))
}

func (t *Tracker) invalid(js *models.JobStatus, ev models.Event) error {
	return fmt.Errorf("job %s: %s from %s: %w", js.JobID, ev, js.Status, models.ErrInvalidTransition)
}

func (t *Tracker) recordOutcome(at time.Time, failed bool) {
	t.outcomes = append(t.outcomes, outcome{at: at, failed: failed})
	t.pruneOutcomes(at)
}

func (t *Tracker) pruneOutcomes(now time.Time) {
	if t.outcomeWindow <= 0 {
		return
	}
	cutoff := now.Add(-t.outcomeWindow)
	kept := t.outcomes[:0]
	for _, o := range t.outcomes {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}
	t.outcomes = kept
}
