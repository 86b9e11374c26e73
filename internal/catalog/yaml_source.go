package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultLimit is the page size used when a query does not set one
const DefaultLimit = 12

// Sort orders understood by YAMLSource
const (
	SortUsage = "usage_total"
	SortAZ    = "a_z"
	SortZA    = "z_a"
)

type yamlCatalog struct {
	Label      string        `yaml:"label"`
	Categories []Category    `yaml:"categories"`
	Projects   []yamlProject `yaml:"projects"`
}

type yamlProject struct {
	MachineName       string      `yaml:"machine_name"`
	Title             string      `yaml:"title"`
	PackageName       string      `yaml:"package_name"`
	Type              ProjectType `yaml:"type"`
	Description       string      `yaml:"body"`
	URL               string      `yaml:"url"`
	IsCompatible      *bool       `yaml:"is_compatible"`
	IsMaintained      bool        `yaml:"is_maintained"`
	IsCovered         bool        `yaml:"is_covered"`
	ProjectUsageTotal int         `yaml:"project_usage_total"`
	Categories        []string    `yaml:"categories"`
	Images            []Image     `yaml:"images"`
}

// YAMLSource serves projects listed in a local YAML file, such as the
// recipes shipped with a site.
type YAMLSource struct {
	id         string
	label      string
	projects   []Project
	categories []Category
}

// LoadYAMLSource reads and validates a catalog file
func LoadYAMLSource(id, path string) (*YAMLSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseYAMLSource(id, data)
}

// ParseYAMLSource builds a source from catalog YAML
func ParseYAMLSource(id string, data []byte) (*YAMLSource, error) {
	var doc yamlCatalog
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	cats := make(map[string]Category, len(doc.Categories))
	for _, c := range doc.Categories {
		cats[c.ID] = c
	}

	label := doc.Label
	if label == "" {
		label = id
	}

	src := &YAMLSource{id: id, label: label, categories: doc.Categories}
	seen := map[string]bool{}
	for i, yp := range doc.Projects {
		if yp.MachineName == "" {
			return nil, fmt.Errorf("project %d has no machine_name", i)
		}
		if seen[yp.MachineName] {
			return nil, fmt.Errorf("duplicate project %q", yp.MachineName)
		}
		seen[yp.MachineName] = true

		p := Project{
			ID:                ProjectID(id, yp.MachineName),
			MachineName:       yp.MachineName,
			Title:             yp.Title,
			PackageName:       yp.PackageName,
			Type:              yp.Type,
			Description:       yp.Description,
			URL:               yp.URL,
			IsCompatible:      yp.IsCompatible == nil || *yp.IsCompatible,
			IsMaintained:      yp.IsMaintained,
			IsCovered:         yp.IsCovered,
			ProjectUsageTotal: yp.ProjectUsageTotal,
			Images:            yp.Images,
		}
		if p.Type == "" {
			p.Type = TypeModule
		}
		if p.Title == "" {
			p.Title = yp.MachineName
		}
		if p.PackageName == "" {
			p.PackageName = "drupal/" + yp.MachineName
		}
		for _, cid := range yp.Categories {
			c, ok := cats[cid]
			if !ok {
				return nil, fmt.Errorf("project %q references unknown category %q", yp.MachineName, cid)
			}
			p.Categories = append(p.Categories, c)
		}
		src.projects = append(src.projects, p)
	}
	return src, nil
}

func (s *YAMLSource) ID() string    { return s.id }
func (s *YAMLSource) Label() string { return s.label }

// Categories returns the categories declared in the file
func (s *YAMLSource) Categories(ctx context.Context) ([]Category, error) {
	return append([]Category(nil), s.categories...), nil
}

// GetProjects filters, sorts and paginates the file's projects
func (s *YAMLSource) GetProjects(ctx context.Context, query Query) (*ProjectsResultsPage, error) {
	matched := make([]Project, 0, len(s.projects))
	for _, p := range s.projects {
		if matches(p, query) {
			matched = append(matched, p)
		}
	}

	switch query.Sort {
	case SortAZ:
		sort.SliceStable(matched, func(i, j int) bool {
			return strings.ToLower(matched[i].Title) < strings.ToLower(matched[j].Title)
		})
	case SortZA:
		sort.SliceStable(matched, func(i, j int) bool {
			return strings.ToLower(matched[i].Title) > strings.ToLower(matched[j].Title)
		})
	case "", SortUsage:
		sort.SliceStable(matched, func(i, j int) bool {
			return matched[i].ProjectUsageTotal > matched[j].ProjectUsageTotal
		})
	default:
		return ErrorPage(s.label, s.id, fmt.Sprintf("unsupported sort %q", query.Sort)), nil
	}

	limit := query.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	start := query.Page * limit
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}

	return NewProjectsResultsPage(len(matched), matched[start:end], s.label, s.id, "")
}

func matches(p Project, q Query) bool {
	if q.MachineName != "" && p.MachineName != q.MachineName {
		return false
	}
	if q.MaintenanceStatus && !p.IsMaintained {
		return false
	}
	if q.SecurityAdvisoryCoverage && !p.IsCovered {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(p.Title), needle) &&
			!strings.Contains(strings.ToLower(p.Description), needle) &&
			!strings.Contains(p.MachineName, needle) {
			return false
		}
	}
	if len(q.Categories) > 0 {
		found := false
		for _, want := range q.Categories {
			for _, c := range p.Categories {
				if c.ID == want {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}
