package httpapi

import (
	"errors"
	"net/http"

	"github.com/relayforge/dispatch/internal/core"
)

type registerAgentRequest struct {
	APIKey   string  `json:"api_key"`
	Hostname string  `json:"hostname"`
	IP       *string `json:"ip"`
	Port     int     `json:"port"`
}

type registerAgentResponse struct {
	AgentID string `json:"agent_id"`
	OrgID   string `json:"org_id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// handleRegisterAgent implements §6's `RegisterAgent(apiKey, hostname, ip,
// port) -> {agentId, orgId, success, message}` backend registration surface.
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.registry.Register(r.Context(), req.APIKey, req.Hostname, req.IP, req.Port)
	if err != nil {
		if errors.Is(err, core.ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, registerAgentResponse{Success: false, Message: err.Error()})
			return
		}
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, registerAgentResponse{
		AgentID: result.AgentID,
		OrgID:   result.OrgID,
		Success: true,
	})
}
