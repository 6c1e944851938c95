package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relayforge/dispatch/internal/core"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps a Storage/jobs/registry sentinel error to the status
// code §7's error-handling table calls for: permanent errors surface as 4xx,
// everything else is a 500.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrJobNotFound), errors.Is(err, core.ErrAgentNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrJobNotQueued),
		errors.Is(err, core.ErrAlreadyArchived),
		errors.Is(err, core.ErrInvalidQueueType),
		errors.Is(err, core.ErrInvalidJobTypeName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
