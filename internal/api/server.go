package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"leadflow/internal/broker"
	"leadflow/internal/jobs"
	"leadflow/internal/leaddiscovery"
	"leadflow/internal/models"
	"leadflow/internal/store"
	"leadflow/internal/telemetry"
)

// WorkflowStore is the slice of the relational store the HTTP surface needs.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, organisationID, workflowConfigID string) (models.Workflow, error)
	GetWorkflow(ctx context.Context, organisationID, workflowID string) (models.Workflow, error)
	ListWorkflows(ctx context.Context, organisationID string) ([]models.Workflow, error)
	DeleteQueuedWorkflow(ctx context.Context, organisationID, workflowID string) error
	GetWorkflowConfig(ctx context.Context, organisationID, workflowConfigID string) (models.WorkflowConfig, error)
	Ping(ctx context.Context) error
}

// JobProducer enqueues and inspects jobs.
type JobProducer interface {
	CreateJob(ctx context.Context, name string, data map[string]any, opts models.JobOptions) (models.Job, error)
	CancelJob(ctx context.Context, id string) (bool, error)
	JobStatus(ctx context.Context, id string) (*jobs.Snapshot, error)
}

// RunLimiter gates run triggers per organisation.
type RunLimiter interface {
	AllowRun(ctx context.Context, organisationID string) (bool, float64, error)
}

// Server wires the HTTP surface for triggering and inspecting runs.
type Server struct {
	store    WorkflowStore
	producer JobProducer
	limiter  RunLimiter
	broker   broker.Broker
	log      zerolog.Logger
}

// New constructs the API server. limiter may be nil to disable rate
// limiting.
func New(st WorkflowStore, producer JobProducer, limiter RunLimiter, b broker.Broker, logger zerolog.Logger) *Server {
	return &Server{
		store:    st,
		producer: producer,
		limiter:  limiter,
		broker:   b,
		log:      logger.With().Str("component", "api").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/organisations/{orgID}", func(r chi.Router) {
		r.Post("/workflow-configs/{configID}/run", s.handleRun)
		r.Get("/workflows", s.handleListWorkflows)
		r.Get("/workflows/{workflowID}", s.handleGetWorkflow)
		r.Delete("/workflows/{workflowID}", s.handleDeleteWorkflow)
	})

	r.Get("/jobs/{id}", s.handleJobStatus)
	r.Post("/jobs/{id}/cancel", s.handleCancelJob)
	return r
}

type runRequest struct {
	Priority models.Priority `json:"priority"`
}

type runResponse struct {
	WorkflowID string `json:"workflow_id"`
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
}

// handleRun creates a QUEUED workflow row and enqueues the discovery job.
// The response only confirms queueing; the eventual outcome is polled via
// the workflow status endpoints.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	configID := chi.URLParam(r, "configID")

	var req runRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // body is optional
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.AllowRun(r.Context(), orgID)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	if _, err := s.store.GetWorkflowConfig(r.Context(), orgID, configID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "workflow config not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	workflow, err := s.store.CreateWorkflow(r.Context(), orgID, configID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	job, err := s.producer.CreateJob(r.Context(), leaddiscovery.JobName, map[string]any{
		"workflow_config_id": configID,
		"workflow_id":        workflow.WorkflowID,
		"organisation_id":    orgID,
	}, models.JobOptions{Priority: req.Priority})
	if err != nil {
		s.log.Error().Err(err).Str("workflow_id", workflow.WorkflowID).Msg("enqueue failed")
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, runResponse{
		WorkflowID: workflow.WorkflowID,
		JobID:      job.ID,
		Status:     workflow.Status,
	})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	workflowID := chi.URLParam(r, "workflowID")

	workflow, err := s.store.GetWorkflow(r.Context(), orgID, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "workflow not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, workflow)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	workflows, err := s.store.ListWorkflows(r.Context(), orgID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": workflows})
}

// handleDeleteWorkflow deletes a workflow only while it is still QUEUED.
func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	workflowID := chi.URLParam(r, "workflowID")

	err := s.store.DeleteQueuedWorkflow(r.Context(), orgID, workflowID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "workflow not found", http.StatusNotFound)
	case errors.Is(err, store.ErrNotQueued):
		http.Error(w, "only queued workflows can be deleted", http.StatusConflict)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.producer.JobStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if snap == nil {
		http.Error(w, "job unknown", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.producer.CancelJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.broker.IsReady() {
		http.Error(w, `{"status":"broker not ready"}`, http.StatusServiceUnavailable)
		return
	}
	if err := s.store.Ping(r.Context()); err != nil {
		http.Error(w, `{"status":"database unreachable"}`, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
