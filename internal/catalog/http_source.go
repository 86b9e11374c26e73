package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSource reads projects from a remote JSON catalog endpoint.
//
// GET <base>/projects?page=&limit=... answers {"total": n, "projects": [...]};
// GET <base>/categories answers [{"id": "...", "name": "..."}].
type HTTPSource struct {
	id      string
	label   string
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a remote catalog source
func NewHTTPSource(id, label, baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSource{
		id:      id,
		label:   label,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (s *HTTPSource) ID() string    { return s.id }
func (s *HTTPSource) Label() string { return s.label }

type remoteProjects struct {
	Total    int       `json:"total"`
	Projects []Project `json:"projects"`
}

// GetProjects queries the remote catalog. Transport failures and non-200
// answers come back as a page carrying an error rather than a Go error, so
// callers always render something.
func (s *HTTPSource) GetProjects(ctx context.Context, query Query) (*ProjectsResultsPage, error) {
	params := url.Values{}
	for k, v := range query.Values() {
		params.Set(k, v)
	}
	for _, c := range query.Normalize().Categories {
		params.Add("categories", c)
	}

	var body remoteProjects
	if err := s.getJSON(ctx, "/projects?"+params.Encode(), &body); err != nil {
		return ErrorPage(s.label, s.id, err.Error()), nil
	}

	for i := range body.Projects {
		if body.Projects[i].MachineName == "" {
			return ErrorPage(s.label, s.id, fmt.Sprintf("catalog entry %d has no machine name", i)), nil
		}
		body.Projects[i].ID = ProjectID(s.id, body.Projects[i].MachineName)
		// Activation info is never trusted from the remote side.
		body.Projects[i].Status = nil
		body.Projects[i].Commands = nil
	}

	return NewProjectsResultsPage(body.Total, body.Projects, s.label, s.id, "")
}

// Categories lists the remote catalog's categories
func (s *HTTPSource) Categories(ctx context.Context) ([]Category, error) {
	var cats []Category
	if err := s.getJSON(ctx, "/categories", &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("catalog unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("catalog returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return nil
}
