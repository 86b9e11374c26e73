package activation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"projectbrowser/internal/catalog"
	"projectbrowser/internal/command"
	"projectbrowser/internal/logging"
)

const moduleListTTL = 10 * time.Second

type pmListEntry struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Package string `json:"package"`
}

// ModuleActivator enables modules with drush
type ModuleActivator struct {
	drush  string
	root   string
	runner command.Runner
	now    func() time.Time

	mu       sync.Mutex
	modules  map[string]pmListEntry
	loadedAt time.Time
}

// NewModuleActivator creates an activator running drush in root
func NewModuleActivator(drush, root string, runner command.Runner) *ModuleActivator {
	return &ModuleActivator{drush: drush, root: root, runner: runner, now: time.Now}
}

// Supports implements Activator
func (a *ModuleActivator) Supports(p catalog.Project) bool {
	return p.Type == catalog.TypeModule || p.Type == ""
}

func (a *ModuleActivator) moduleList(ctx context.Context) (map[string]pmListEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.modules != nil && a.now().Sub(a.loadedAt) < moduleListTTL {
		return a.modules, nil
	}

	out, err := a.runner.Run(ctx, a.root, a.drush, "pm:list", "--type=module", "--format=json")
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	var modules map[string]pmListEntry
	if err := json.Unmarshal(out, &modules); err != nil {
		return nil, fmt.Errorf("failed to parse module list: %w", err)
	}

	a.modules = modules
	a.loadedAt = a.now()
	return modules, nil
}

func (a *ModuleActivator) invalidate() {
	a.mu.Lock()
	a.modules = nil
	a.mu.Unlock()
}

// Status implements Activator
func (a *ModuleActivator) Status(ctx context.Context, p catalog.Project) (catalog.ActivationStatus, error) {
	modules, err := a.moduleList(ctx)
	if err != nil {
		return "", err
	}
	entry, ok := modules[p.MachineName]
	if !ok {
		return catalog.StatusAbsent, nil
	}
	if strings.EqualFold(entry.Status, "enabled") {
		return catalog.StatusActive, nil
	}
	return catalog.StatusPresent, nil
}

// Instructions implements Activator
func (a *ModuleActivator) Instructions(ctx context.Context, p catalog.Project) (*catalog.Instructions, error) {
	return &catalog.Instructions{
		Command: fmt.Sprintf("composer require %s\n%s pm:install -y %s", p.PackageName, a.drush, p.MachineName),
	}, nil
}

// Activate implements Activator
func (a *ModuleActivator) Activate(ctx context.Context, p catalog.Project) (*Response, error) {
	if err := validMachineName(p.MachineName); err != nil {
		return nil, err
	}
	defer a.invalidate()

	if _, err := a.runner.Run(ctx, a.root, a.drush, "pm:install", "-y", p.MachineName); err != nil {
		return nil, fmt.Errorf("failed to install module %s: %w", p.MachineName, err)
	}
	logging.Infof("Installed module %s", p.MachineName)
	return nil, nil
}

func validMachineName(name string) error {
	if name == "" {
		return fmt.Errorf("machine name is required")
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return fmt.Errorf("invalid machine name %q", name)
		}
	}
	return nil
}
