package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthpipe/internal/config"
	"synthpipe/internal/logger"
	"synthpipe/internal/models"
	"synthpipe/internal/tracker"
)

func newRemote(t *testing.T, handler http.Handler) (*RemoteAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Config{
		RemoteBaseURL: srv.URL,
		RemoteAPIKey:  "test-key",
		RemoteRetries: 1,
		RemoteTimeout: 2 * time.Second,
	}
	cache := tracker.New(5 * time.Minute)
	log := logger.New(logger.Config{Output: io.Discard})
	return NewRemoteAdapter(cfg, cache, log), srv
}

func TestRemoteSubmit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req submitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "job-1", req.JobID)
		assert.Equal(t, 50, req.Config.RowCount)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(models.JobCreationResponse{
			JobID:     req.JobID,
			Status:    "accepted",
			Timestamp: time.Now().UTC(),
		})
	})

	adapter, _ := newRemote(t, mux)
	resp, err := adapter.SubmitJob(context.Background(), "job-1", models.JobConfiguration{
		DataType: "orders", OutputFormat: models.FormatJSON, RowCount: 50, TimeoutSeconds: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "accepted", resp.Status)
}

func TestRemoteSubmitErrors(t *testing.T) {
	cases := []struct {
		name   string
		code   int
		target error
	}{
		{"invalid configuration", http.StatusBadRequest, models.ErrInvalidConfiguration},
		{"duplicate job", http.StatusConflict, models.ErrDuplicateJob},
		{"backend failure", http.StatusInternalServerError, models.ErrRemoteAdapter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adapter, _ := newRemote(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.code)
			}))
			_, err := adapter.SubmitJob(context.Background(), "job-1", models.JobConfiguration{})
			assert.ErrorIs(t, err, tc.target)
		})
	}
}

func TestRemoteGetStatusCaches(t *testing.T) {
	status := models.JobStatus{
		JobID:    "job-1",
		Status:   models.StatusRunning,
		Progress: 40,
		Stages: []models.Stage{
			{Name: models.StagePreparation, Status: models.StatusCompleted, Progress: 100},
			{Name: models.StageProcessing, Status: models.StatusRunning, Progress: 20},
			{Name: models.StageFinalization, Status: models.StatusQueued},
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/jobs/job-1", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})

	adapter, srv := newRemote(t, mux)
	got, err := adapter.GetJobStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 40, got.Progress)

	// backend goes away; the cached snapshot still serves
	srv.Close()
	got, err = adapter.GetJobStatus(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.Equal(t, 40, got.Progress)
}

func TestRemoteTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	cfg := config.Config{
		RemoteBaseURL: srv.URL,
		RemoteTimeout: 50 * time.Millisecond,
	}
	cache := tracker.New(5 * time.Minute)
	adapter := NewRemoteAdapter(cfg, cache, logger.New(logger.Config{Output: io.Discard}))

	// empty cache, so the failure surfaces instead of a fallback read
	_, err := adapter.GetJobStatus(context.Background(), "job-1")
	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.NotErrorIs(t, err, models.ErrRemoteAdapter)
}

func TestRemoteGetStatusNotFound(t *testing.T) {
	adapter, _ := newRemote(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	_, err := adapter.GetJobStatus(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestRemoteCancelAndResume(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs/job-1/cancel", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"cancelled": true})
	})
	mux.HandleFunc("POST /v1/jobs/job-1/resume", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"resumed": false})
	})
	mux.HandleFunc("POST /v1/jobs/gone/cancel", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	adapter, _ := newRemote(t, mux)
	ctx := context.Background()

	ok, err := adapter.CancelJob(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = adapter.ResumeJob(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// unknown ids are a benign false, not an error
	ok, err = adapter.CancelJob(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoteHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.PipelineHealth{
			Status:  models.HealthHealthy,
			Message: "ok",
		})
	})

	adapter, srv := newRemote(t, mux)
	health, err := adapter.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, health.Status)

	// unreachable backend reports down rather than erroring
	srv.Close()
	health, err = adapter.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.HealthDown, health.Status)
}
