package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"projectbrowser/internal/installer"
	"projectbrowser/internal/logging"
)

const maxBodyBytes = 64 << 10

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	q := url.Values{}
	q.Set("token", s.unlockToken(w, r))
	q.Set("destination", safeDestination(r.URL.Query().Get("redirect")))
	unlockURL := adminPrefix + "/install/unlock?" + q.Encode()

	res, err := s.installer.Begin(r.Context(), unlockURL)
	if err != nil {
		writeError(w, installer.PhaseCreate, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeProjectIDs reads the JSON array of project ids from the request body
func (s *Server) decodeProjectIDs(r *http.Request) ([]string, error) {
	var ids []string
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&ids); err != nil {
		return nil, fmt.Errorf("request body must be a JSON array of project ids: %w", err)
	}
	if err := s.validate.Var(ids, "required,min=1,dive,required,contains=/"); err != nil {
		return nil, fmt.Errorf("invalid project ids: %w", err)
	}
	return ids, nil
}

func (s *Server) handleRequire(w http.ResponseWriter, r *http.Request) {
	ids, err := s.decodeProjectIDs(r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, &installer.Failure{Phase: installer.PhaseRequire, Message: err.Error()})
		return
	}
	res, err := s.installer.Require(r.Context(), r.PathValue("stageID"), ids)
	if err != nil {
		writeError(w, installer.PhaseRequire, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	res, err := s.installer.Apply(r.Context(), r.PathValue("stageID"))
	if err != nil {
		writeError(w, installer.PhaseApply, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handlePostApply(w http.ResponseWriter, r *http.Request) {
	res, err := s.installer.PostApply(r.Context(), r.PathValue("stageID"))
	if err != nil {
		writeError(w, installer.PhasePostApply, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	res, err := s.installer.Destroy(r.Context(), r.PathValue("stageID"))
	if err != nil {
		writeError(w, installer.PhaseDestroy, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	ids, err := s.decodeProjectIDs(r)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, &installer.Failure{Phase: installer.PhaseActivate, Message: err.Error()})
		return
	}
	resp, err := s.installer.Activate(r.Context(), ids)
	if err != nil {
		writeError(w, installer.PhaseActivate, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !s.validUnlockToken(r, q.Get("token")) {
		logging.Warnf("Rejected unlock request with invalid token")
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "Invalid or expired unlock link."})
		return
	}

	if err := s.installer.Unlock(r.Context(), q.Get("stage_id")); err != nil {
		writeError(w, "", err)
		return
	}

	s.addFlash(w, r, flashStatus, "Operation complete, you can add a new project again.")
	http.Redirect(w, r, safeDestination(q.Get("destination")), http.StatusFound)
}

func (s *Server) handleInstallState(w http.ResponseWriter, r *http.Request) {
	st, err := s.installer.State(r.Context())
	if err != nil {
		logging.Err(err, "Failed to read install state", nil)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Failed to read install state"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// safeDestination accepts only local absolute paths so unlock cannot be
// turned into an open redirect.
func safeDestination(dest string) string {
	if dest == "" || !strings.HasPrefix(dest, "/") || strings.HasPrefix(dest, "//") || strings.Contains(dest, `\`) {
		return DefaultDestination
	}
	u, err := url.Parse(dest)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return DefaultDestination
	}
	return u.RequestURI()
}
