// Package httpapi implements the REST Façade (C13): a thin net/http layer
// translating JSON requests into calls against internal/jobs, internal/registry,
// and the dispatch/health-check packages' public APIs. Grounded on the
// teacher's ui/service.go split between thin RPC handlers and core logic —
// every invariant-bearing rule lives in the packages this layer calls, never
// in a handler body.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/relayforge/dispatch/internal/core"
	"github.com/relayforge/dispatch/internal/dispatch"
	"github.com/relayforge/dispatch/internal/jobs"
	"github.com/relayforge/dispatch/internal/registry"
)

// Server holds the dependencies every route handler needs.
type Server struct {
	store     core.Storage
	jobs      *jobs.Service
	registry  *registry.Registry
	scheduler *dispatch.Scheduler
	health    *dispatch.HealthCheckRunner
	log       *slog.Logger
}

// NewServer constructs a Server.
func NewServer(store core.Storage, jobSvc *jobs.Service, reg *registry.Registry, scheduler *dispatch.Scheduler, health *dispatch.HealthCheckRunner, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: store, jobs: jobSvc, registry: reg, scheduler: scheduler, health: health, log: log}
}

// Routes builds the http.Handler for every route named in §6's table,
// wrapped in the bearer-token auth middleware that resolves {org_id, user_id}.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /jobs", s.handleCreateJob)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("PUT /jobs/{id}", s.handleUpdateJob)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleArchiveJob)
	mux.HandleFunc("POST /jobs/{id}/execute", s.handleExecuteJob)
	mux.HandleFunc("POST /jobs/{id}/reprioritize", s.handleReprioritizeJob)

	mux.HandleFunc("POST /queues/{queue}/pause", s.handlePauseQueue)
	mux.HandleFunc("POST /queues/{queue}/resume", s.handleResumeQueue)
	mux.HandleFunc("GET /queues/{queue}/status", s.handleQueueStatus)

	mux.HandleFunc("GET /agents", s.handleListAgents)
	mux.HandleFunc("GET /agents/{id}", s.handleGetAgent)
	mux.HandleFunc("PUT /agents/{id}", s.handleUpdateAgent)
	mux.HandleFunc("DELETE /agents/{id}", s.handleDeleteAgent)
	mux.HandleFunc("POST /agents/{id}/reconnect", s.handleReconnectAgent)

	top := http.NewServeMux()
	// RegisterAgent authenticates by API key in its own body, not a bearer
	// token — an agent has no {org_id, user_id} identity until this call
	// resolves one, so it sits outside requireAuth (§6's "Backend
	// registration surface").
	top.HandleFunc("POST /agents/register", s.handleRegisterAgent)
	top.Handle("/", requireAuth(mux))

	return top
}
