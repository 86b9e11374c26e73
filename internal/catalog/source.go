package catalog

import "context"

// Source produces catalog pages for one project source
type Source interface {
	ID() string
	Label() string
	GetProjects(ctx context.Context, query Query) (*ProjectsResultsPage, error)
	Categories(ctx context.Context) ([]Category, error)
}
