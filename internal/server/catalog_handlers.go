package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"projectbrowser/internal/catalog"
	"projectbrowser/internal/logging"
)

// parseQuery reads catalog query parameters
func parseQuery(r *http.Request) (catalog.Query, error) {
	v := r.URL.Query()
	q := catalog.Query{
		Sort:                     v.Get("sort"),
		Search:                   strings.TrimSpace(v.Get("search")),
		MachineName:              v.Get("machine_name"),
		MaintenanceStatus:        v.Get("maintenance_status") == "1",
		SecurityAdvisoryCoverage: v.Get("security_advisory_coverage") == "1",
	}
	if c := v.Get("categories"); c != "" {
		for _, id := range strings.Split(c, ",") {
			if id = strings.TrimSpace(id); id != "" {
				q.Categories = append(q.Categories, id)
			}
		}
	}
	for name, dst := range map[string]*int{"page": &q.Page, "limit": &q.Limit} {
		raw := v.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return catalog.Query{}, errors.New("invalid " + name)
		}
		*dst = n
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return q, nil
}

// sourceIDs returns the requested source, or every enabled source
func (s *Server) sourceIDs(r *http.Request) []string {
	if id := r.URL.Query().Get("source"); id != "" {
		return []string{id}
	}
	return s.catalog.SourceIDs()
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	pages := make(map[string]*catalog.ProjectsResultsPage)
	for _, id := range s.sourceIDs(r) {
		page, err := s.catalog.GetProjects(r.Context(), id, q)
		if errors.Is(err, catalog.ErrUnknownSource) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": err.Error()})
			return
		}
		if err != nil {
			logging.Err(err, "Failed to get projects", map[string]interface{}{"source": id})
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Failed to get projects"})
			return
		}

		if s.status != nil && page.Error() == "" {
			filled, err := catalog.FillActivationInfo(r.Context(), page, s.status)
			if err != nil {
				logging.Warnf("Serving %s projects without activation info: %v", id, err)
			} else {
				page = filled
			}
		}
		pages[id] = page
	}

	writeJSON(w, http.StatusOK, pages)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	out := make(map[string][]catalog.Category)
	for _, id := range s.sourceIDs(r) {
		cats, err := s.catalog.Categories(r.Context(), id)
		if errors.Is(err, catalog.ErrUnknownSource) {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": err.Error()})
			return
		}
		if err != nil {
			logging.Warnf("Failed to get categories for %s: %v", id, err)
			cats = []catalog.Category{}
		}
		out[id] = cats
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClearStorage(w http.ResponseWriter, r *http.Request) {
	var err error
	if id := r.URL.Query().Get("source"); id != "" {
		err = s.catalog.ClearStorage(r.Context(), id)
	} else {
		err = s.catalog.ClearAll(r.Context())
	}
	if errors.Is(err, catalog.ErrUnknownSource) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": err.Error()})
		return
	}
	if err != nil {
		logging.Err(err, "Failed to clear catalog storage", nil)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Failed to clear catalog storage"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"status": 0})
}
