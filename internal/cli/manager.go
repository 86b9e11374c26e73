package cli

import (
	"context"

	"projectbrowser/internal/activation"
	"projectbrowser/internal/catalog"
	"projectbrowser/internal/installer"
)

// Manager abstracts core operations for the CLI.
type Manager interface {
	Serve(ctx context.Context) error

	ProjectsList(ctx context.Context, source string, query catalog.Query) (*catalog.ProjectsResultsPage, error)
	// CacheClear drops one source's storage, or every source when source is empty.
	CacheClear(ctx context.Context, source string) error

	InstallBegin(ctx context.Context) (installer.Result, error)
	InstallRequire(ctx context.Context, stageID string, projectIDs []string) (installer.Result, error)
	InstallApply(ctx context.Context, stageID string) (installer.Result, error)
	InstallPostApply(ctx context.Context, stageID string) (installer.Result, error)
	InstallDestroy(ctx context.Context, stageID string) (installer.Result, error)
	InstallActivate(ctx context.Context, projectIDs []string) (*activation.Response, error)
	InstallUnlock(ctx context.Context, stageID string) error
	InstallStatus(ctx context.Context) (installer.State, error)
	// InstallRun drives every phase for the given projects and streams progress.
	InstallRun(ctx context.Context, projectIDs []string) <-chan ProgressEvent

	Check(ctx context.Context) ([]Check, error)
	Version() VersionInfo
}
