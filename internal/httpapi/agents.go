package httpapi

import (
	"net/http"

	"github.com/relayforge/dispatch/internal/core"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	agents, err := s.store.ListAgents(r.Context(), id.OrgID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if agent.OrgID != identityFrom(r).OrgID {
		writeStoreError(w, core.ErrAgentNotFound)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

type updateAgentRequest struct {
	Status core.AgentStatus `json:"status"`
}

// handleUpdateAgent implements §6's "status changes trigger schedule
// create/pause": setting an agent active (re)starts its schedules through
// the same Scheduler hook the Agent Registry's register() uses, and setting
// it offline pauses them, exactly as the Health-Check Workflow does on a
// liveness failure.
func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	agent, err := s.store.GetAgent(r.Context(), agentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if agent.OrgID != identityFrom(r).OrgID {
		writeStoreError(w, core.ErrAgentNotFound)
		return
	}

	var req updateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.SetAgentStatus(r.Context(), agentID, req.Status); err != nil {
		writeStoreError(w, err)
		return
	}

	switch req.Status {
	case core.AgentActive:
		s.scheduler.EnsureSchedules(r.Context(), agentID)
	case core.AgentOffline:
		s.scheduler.PauseSchedules(r.Context(), agentID)
	}

	updated, err := s.store.GetAgent(r.Context(), agentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	agent, err := s.store.GetAgent(r.Context(), agentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if agent.OrgID != identityFrom(r).OrgID {
		writeStoreError(w, core.ErrAgentNotFound)
		return
	}

	s.scheduler.Stop(agentID)
	if err := s.store.DeleteAgent(r.Context(), agentID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// handleReconnectAgent implements the synchronous ping + schedule-resume
// endpoint (§4.7's "User-initiated reconnect").
func (s *Server) handleReconnectAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	agent, err := s.store.GetAgent(r.Context(), agentID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if agent.OrgID != identityFrom(r).OrgID {
		writeStoreError(w, core.ErrAgentNotFound)
		return
	}

	if err := s.registry.HealthCheck(r.Context(), agentID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
