package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"projectbrowser/internal/installer"
	"projectbrowser/internal/logging"
)

// StatusLocked is the status code of a lock conflict response
const StatusLocked = http.StatusTeapot

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorf("Failed to encode response: %v", err)
	}
}

// writeError maps workflow errors onto their response payloads
func writeError(w http.ResponseWriter, phase string, err error) {
	var (
		locked  *installer.Locked
		failure *installer.Failure
	)
	switch {
	case errors.As(err, &locked):
		writeJSON(w, StatusLocked, locked)
	case errors.As(err, &failure):
		writeJSON(w, http.StatusInternalServerError, failure)
	default:
		logging.Err(err, "Unhandled request error", map[string]interface{}{"phase": phase})
		writeJSON(w, http.StatusInternalServerError, &installer.Failure{Phase: phase, Message: err.Error()})
	}
}
