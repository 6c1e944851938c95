package httpapi

import (
	"net/http"

	"github.com/relayforge/dispatch/internal/core"
)

func (s *Server) handlePauseQueue(w http.ResponseWriter, r *http.Request) {
	s.setQueuePaused(w, r, true)
}

func (s *Server) handleResumeQueue(w http.ResponseWriter, r *http.Request) {
	s.setQueuePaused(w, r, false)
}

func (s *Server) setQueuePaused(w http.ResponseWriter, r *http.Request, paused bool) {
	id := identityFrom(r)
	queue := core.QueueType(r.PathValue("queue"))
	if queue != core.QueueBacklog && queue != core.QueueRework {
		writeStoreError(w, core.ErrInvalidQueueType)
		return
	}

	if err := s.store.SetQueuePaused(r.Context(), id.OrgID, queue, paused, id.UserID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_paused": paused})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	queue := core.QueueType(r.PathValue("queue"))
	if queue != core.QueueBacklog && queue != core.QueueRework {
		writeStoreError(w, core.ErrInvalidQueueType)
		return
	}

	paused, err := s.store.IsQueuePaused(r.Context(), id.OrgID, queue)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"is_paused": paused})
}
