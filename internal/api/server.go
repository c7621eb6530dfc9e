package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"synthpipe/internal/models"
	"synthpipe/internal/pipeline"
	"synthpipe/internal/ratelimit"
	"synthpipe/internal/telemetry"
)

// Server wires the HTTP surface over a pipeline service.
type Server struct {
	svc     pipeline.Service
	limiter *ratelimit.TokenBucket
	log     *logrus.Entry
}

// New constructs the API server. limiter may be nil to disable submission
// rate limiting.
func New(svc pipeline.Service, limiter *ratelimit.TokenBucket, log *logrus.Entry) *Server {
	return &Server{svc: svc, limiter: limiter, log: log}
}

// Router builds the HTTP router. The /v1 shape matches what the remote
// adapter expects, so one instance can front another.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.handleSubmit)
		r.Get("/jobs/{id}", s.handleGetStatus)
		r.Post("/jobs/{id}/cancel", s.handleCancel)
		r.Post("/jobs/{id}/resume", s.handleResume)
		r.Get("/health", s.handleHealth)
	})
	return r
}

type submitRequest struct {
	JobID  string                  `json:"job_id"`
	Config models.JobConfiguration `json:"config"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if s.limiter != nil {
		tenant := tenantFromRequest(r)
		allowed, _, err := s.limiter.Allow(r.Context(), tenant)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limit error")
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	resp, err := s.svc.SubmitJob(r.Context(), req.JobID, req.Config)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	js, err := s.svc.GetJobStatus(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, js)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled, err := s.svc.CancelJob(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resumed, err := s.svc.ResumeJob(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"resumed": resumed})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.svc.CheckHealth(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	code := http.StatusOK
	if health.Status == models.HealthDown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// writeServiceError maps pipeline error kinds onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidConfiguration):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrDuplicateJob), errors.Is(err, models.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, models.ErrRemoteAdapter):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.log.WithError(err).Error("unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func tenantFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Tenant-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
