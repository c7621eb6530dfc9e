package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"synthpipe/internal/config"
	"synthpipe/internal/models"
	"synthpipe/internal/tracker"
)

// RemoteAdapter satisfies Service by delegating to a remote job-execution
// backend over HTTP. Responses are mirrored into the local tracker so
// repeated reads can fall back to the cache when the backend flaps.
//
// Only idempotent reads (status, health) are retried; submissions are
// single-shot to avoid duplicate jobs.
type RemoteAdapter struct {
	client *resty.Client
	cache  *tracker.Tracker
	log    *logrus.Entry
}

type submitRequest struct {
	JobID  string                  `json:"job_id"`
	Config models.JobConfiguration `json:"config"`
}

type boolResponse struct {
	Cancelled bool `json:"cancelled"`
	Resumed   bool `json:"resumed"`
}

// NewRemoteAdapter builds the resty client with auth, timeouts, and a
// read-only retry policy.
func NewRemoteAdapter(cfg config.Config, cache *tracker.Tracker, log *logrus.Entry) *RemoteAdapter {
	client := resty.New().
		SetBaseURL(cfg.RemoteBaseURL).
		SetTimeout(cfg.RemoteTimeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(cfg.RemoteRetries).
		SetRetryWaitTime(250 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r != nil && r.Request.Method != http.MethodGet {
				return false
			}
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})
	if cfg.RemoteAPIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.RemoteAPIKey)
	}
	return &RemoteAdapter{client: client, cache: cache, log: log}
}

// remoteErr classifies a transport failure: timeouts carry the timeout
// kind, everything else the backend-error kind.
func remoteErr(op, jobID string, err error) error {
	kind := models.ErrRemoteAdapter
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		kind = models.ErrTimeout
	}
	return fmt.Errorf("%s %s: %v: %w", op, jobID, err, kind)
}

// SubmitJob forwards the configuration to the backend. Not retried: a
// duplicate submission is worse than a surfaced failure.
func (r *RemoteAdapter) SubmitJob(ctx context.Context, jobID string, cfg models.JobConfiguration) (models.JobCreationResponse, error) {
	var out models.JobCreationResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(submitRequest{JobID: jobID, Config: cfg}).
		SetResult(&out).
		Post("/v1/jobs")
	if err != nil {
		return models.JobCreationResponse{}, remoteErr("submit", jobID, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	case http.StatusBadRequest:
		return models.JobCreationResponse{}, fmt.Errorf("submit %s: %w: %s", jobID, models.ErrInvalidConfiguration, resp.String())
	case http.StatusConflict:
		return models.JobCreationResponse{}, fmt.Errorf("submit %s: %w", jobID, models.ErrDuplicateJob)
	default:
		return models.JobCreationResponse{}, fmt.Errorf("submit %s: backend status %d: %w", jobID, resp.StatusCode(), models.ErrRemoteAdapter)
	}
	return out, nil
}

// CancelJob delegates cancellation; a backend 404/409 is a benign false.
func (r *RemoteAdapter) CancelJob(ctx context.Context, jobID string) (bool, error) {
	var out boolResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&out).
		Post("/v1/jobs/" + jobID + "/cancel")
	if err != nil {
		return false, remoteErr("cancel", jobID, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return out.Cancelled, nil
	case http.StatusNotFound, http.StatusConflict:
		return false, nil
	default:
		return false, fmt.Errorf("cancel %s: backend status %d: %w", jobID, resp.StatusCode(), models.ErrRemoteAdapter)
	}
}

// ResumeJob delegates resumption with the same benign-false contract.
func (r *RemoteAdapter) ResumeJob(ctx context.Context, jobID string) (bool, error) {
	var out boolResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&out).
		Post("/v1/jobs/" + jobID + "/resume")
	if err != nil {
		return false, remoteErr("resume", jobID, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		return out.Resumed, nil
	case http.StatusNotFound, http.StatusConflict:
		return false, nil
	default:
		return false, fmt.Errorf("resume %s: backend status %d: %w", jobID, resp.StatusCode(), models.ErrRemoteAdapter)
	}
}

// GetJobStatus reads the backend status and mirrors it into the local cache.
// On a network failure the cached snapshot is served when available.
func (r *RemoteAdapter) GetJobStatus(ctx context.Context, jobID string) (models.JobStatus, error) {
	var out models.JobStatus
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/jobs/" + jobID)
	if err != nil {
		if cached, cacheErr := r.cache.Get(jobID); cacheErr == nil {
			r.log.WithField("job_id", jobID).Warn("backend unreachable, serving cached status")
			return cached, nil
		}
		return models.JobStatus{}, remoteErr("get status", jobID, err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
		r.cache.Set(jobID, out)
		return out, nil
	case http.StatusNotFound:
		return models.JobStatus{}, fmt.Errorf("get status %s: %w", jobID, models.ErrJobNotFound)
	default:
		return models.JobStatus{}, fmt.Errorf("get status %s: backend status %d: %w", jobID, resp.StatusCode(), models.ErrRemoteAdapter)
	}
}

// CheckHealth reports the backend's health, or down when it is unreachable.
func (r *RemoteAdapter) CheckHealth(ctx context.Context) (models.PipelineHealth, error) {
	var out models.PipelineHealth
	resp, err := r.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/v1/health")
	if err != nil || resp.StatusCode() != http.StatusOK {
		return models.PipelineHealth{
			Status:    models.HealthDown,
			Message:   "remote backend unreachable",
			Timestamp: time.Now().UTC(),
		}, nil
	}
	return out, nil
}
