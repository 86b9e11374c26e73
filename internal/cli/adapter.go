package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"projectbrowser/internal/activation"
	"projectbrowser/internal/catalog"
	"projectbrowser/internal/installer"
	"projectbrowser/internal/logging"
	"projectbrowser/internal/server"
	"projectbrowser/internal/systemcheck"
	"projectbrowser/internal/version"
	"projectbrowser/internal/worker"
)

const shutdownTimeout = 30 * time.Second

// Services are the wired components the CLI drives.
type Services struct {
	Installer *installer.Installer
	Catalog   *catalog.EnabledSourceHandler
	Checker   *systemcheck.Runner
	// Server and Worker are only needed by `serve`.
	Server *server.Server
	Worker *worker.Worker
}

// NewManagerAdapter wraps the application services for CLI usage.
func NewManagerAdapter(services Services) Manager {
	return &managerAdapter{services: services}
}

type managerAdapter struct {
	services Services
}

func (m *managerAdapter) Serve(ctx context.Context) error {
	if m.services.Server == nil {
		return errors.New("server is not configured")
	}
	if m.services.Worker != nil {
		m.services.Worker.Start()
		defer m.services.Worker.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- m.services.Server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logging.Infof("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := m.services.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}

func (m *managerAdapter) ProjectsList(ctx context.Context, source string, query catalog.Query) (*catalog.ProjectsResultsPage, error) {
	return m.services.Catalog.GetProjects(ctx, source, query)
}

func (m *managerAdapter) CacheClear(ctx context.Context, source string) error {
	if source == "" {
		return m.services.Catalog.ClearAll(ctx)
	}
	return m.services.Catalog.ClearStorage(ctx, source)
}

// The CLI has no session to carry an unlock token, so Begin gets no unlock URL.
func (m *managerAdapter) InstallBegin(ctx context.Context) (installer.Result, error) {
	return m.services.Installer.Begin(ctx, "")
}

func (m *managerAdapter) InstallRequire(ctx context.Context, stageID string, projectIDs []string) (installer.Result, error) {
	return m.services.Installer.Require(ctx, stageID, projectIDs)
}

func (m *managerAdapter) InstallApply(ctx context.Context, stageID string) (installer.Result, error) {
	return m.services.Installer.Apply(ctx, stageID)
}

func (m *managerAdapter) InstallPostApply(ctx context.Context, stageID string) (installer.Result, error) {
	return m.services.Installer.PostApply(ctx, stageID)
}

func (m *managerAdapter) InstallDestroy(ctx context.Context, stageID string) (installer.Result, error) {
	return m.services.Installer.Destroy(ctx, stageID)
}

func (m *managerAdapter) InstallActivate(ctx context.Context, projectIDs []string) (*activation.Response, error) {
	return m.services.Installer.Activate(ctx, projectIDs)
}

func (m *managerAdapter) InstallUnlock(ctx context.Context, stageID string) error {
	return m.services.Installer.Unlock(ctx, stageID)
}

func (m *managerAdapter) InstallStatus(ctx context.Context) (installer.State, error) {
	return m.services.Installer.State(ctx)
}

func (m *managerAdapter) InstallRun(ctx context.Context, projectIDs []string) <-chan ProgressEvent {
	out := make(chan ProgressEvent, 1)
	go func() {
		defer close(out)
		runInstall(ctx, m.services.Installer, projectIDs, out)
	}()
	return out
}

// installFlow is the part of *installer.Installer that runInstall drives
type installFlow interface {
	Begin(ctx context.Context, unlockURL string) (installer.Result, error)
	Require(ctx context.Context, stageID string, projectIDs []string) (installer.Result, error)
	Apply(ctx context.Context, stageID string) (installer.Result, error)
	PostApply(ctx context.Context, stageID string) (installer.Result, error)
	Destroy(ctx context.Context, stageID string) (installer.Result, error)
	Activate(ctx context.Context, projectIDs []string) (*activation.Response, error)
}

// runInstall walks the phases in the order the browser UI drives them and
// stops at the first failure. Require and apply roll back on their own.
// It also stops once ctx is done and nobody is reading out.
func runInstall(ctx context.Context, in installFlow, projectIDs []string, out chan<- ProgressEvent) {
	send := func(ev ProgressEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	emit := func(res installer.Result) bool {
		return send(ProgressEvent{Type: "progress", Phase: res.Phase, Message: fmt.Sprintf("%s: ok", res.Phase), Data: res})
	}

	begin, err := in.Begin(ctx, "")
	if err != nil {
		send(errorEvent(err))
		return
	}
	if !emit(begin) {
		return
	}
	stageID := begin.StageID

	steps := []func() (installer.Result, error){
		func() (installer.Result, error) { return in.Require(ctx, stageID, projectIDs) },
		func() (installer.Result, error) { return in.Apply(ctx, stageID) },
		func() (installer.Result, error) { return in.PostApply(ctx, stageID) },
		func() (installer.Result, error) { return in.Destroy(ctx, stageID) },
	}
	for _, step := range steps {
		res, err := step()
		if err != nil {
			send(errorEvent(err))
			return
		}
		if !emit(res) {
			return
		}
	}

	resp, err := in.Activate(ctx, projectIDs)
	if err != nil {
		send(errorEvent(err))
		return
	}
	msg := resp.Message
	if msg == "" {
		msg = fmt.Sprintf("%d project(s) installed", len(projectIDs))
	}
	send(ProgressEvent{Type: "success", Phase: installer.PhaseActivate, Message: msg, Data: resp})
}

func (m *managerAdapter) Check(ctx context.Context) ([]Check, error) {
	if m.services.Checker == nil {
		return nil, errors.New("system checks are not configured")
	}
	results := m.services.Checker.Run(ctx)
	checks := make([]Check, 0, len(results))
	for _, r := range results {
		checks = append(checks, Check{
			Name:    r.Name,
			Status:  string(r.Status),
			Message: r.Message,
			Details: r.Details,
		})
	}
	return checks, nil
}

func (m *managerAdapter) Version() VersionInfo {
	info := version.Get()
	return VersionInfo{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildDate: info.BuildDate,
		GoVersion: info.GoVersion,
		Platform:  info.Platform,
	}
}
