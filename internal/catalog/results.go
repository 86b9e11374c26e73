package catalog

import (
	"encoding/json"
	"fmt"
)

// ProjectsResultsPage is one page of query results. It is immutable once
// constructed; accessors hand out copies.
type ProjectsResultsPage struct {
	totalResults int
	list         []Project
	pluginLabel  string
	pluginID     string
	err          string
}

// NewProjectsResultsPage validates and builds a results page. list must be
// dense: every entry a real project carrying an id.
func NewProjectsResultsPage(totalResults int, list []Project, pluginLabel, pluginID, errMsg string) (*ProjectsResultsPage, error) {
	if totalResults < 0 {
		return nil, fmt.Errorf("total results cannot be negative: %d", totalResults)
	}
	for i, p := range list {
		if p.ID == "" {
			return nil, fmt.Errorf("results list entry %d is not a project", i)
		}
	}

	copied := cloneProjects(list)

	return &ProjectsResultsPage{
		totalResults: totalResults,
		list:         copied,
		pluginLabel:  pluginLabel,
		pluginID:     pluginID,
		err:          errMsg,
	}, nil
}

// ErrorPage builds an empty page carrying an error message
func ErrorPage(pluginLabel, pluginID, errMsg string) *ProjectsResultsPage {
	return &ProjectsResultsPage{
		list:        []Project{},
		pluginLabel: pluginLabel,
		pluginID:    pluginID,
		err:         errMsg,
	}
}

func (p *ProjectsResultsPage) TotalResults() int   { return p.totalResults }
func (p *ProjectsResultsPage) PluginLabel() string { return p.pluginLabel }
func (p *ProjectsResultsPage) PluginID() string    { return p.pluginID }
func (p *ProjectsResultsPage) Error() string       { return p.err }

// List returns a deep copy of the projects on this page
func (p *ProjectsResultsPage) List() []Project {
	return cloneProjects(p.list)
}

func cloneProjects(list []Project) []Project {
	out := make([]Project, len(list))
	for i, proj := range list {
		out[i] = proj.Clone()
	}
	return out
}

type pageJSON struct {
	TotalResults int       `json:"totalResults"`
	List         []Project `json:"list"`
	PluginLabel  string    `json:"pluginLabel"`
	PluginID     string    `json:"pluginId"`
	Error        string    `json:"error,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (p *ProjectsResultsPage) MarshalJSON() ([]byte, error) {
	return json.Marshal(pageJSON{
		TotalResults: p.totalResults,
		List:         p.list,
		PluginLabel:  p.pluginLabel,
		PluginID:     p.pluginID,
		Error:        p.err,
	})
}

// UnmarshalJSON implements json.Unmarshaler and applies the same validation as the constructor
func (p *ProjectsResultsPage) UnmarshalJSON(data []byte) error {
	var raw pageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	page, err := NewProjectsResultsPage(raw.TotalResults, raw.List, raw.PluginLabel, raw.PluginID, raw.Error)
	if err != nil {
		return err
	}
	*p = *page
	return nil
}
