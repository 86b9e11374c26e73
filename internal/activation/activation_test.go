package activation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"projectbrowser/internal/cache"
	"projectbrowser/internal/catalog"
	"projectbrowser/internal/command"
)

type call struct {
	dir  string
	name string
	args []string
}

type fakeRunner struct {
	calls  []call
	output map[string]string
	fail   map[string]error
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{dir: dir, name: name, args: args})
	key := strings.Join(args, " ")
	if err := f.fail[key]; err != nil {
		return nil, err
	}
	return []byte(f.output[key]), nil
}

const pmList = `{
  "token": {"name": "token", "status": "Enabled"},
  "pathauto": {"name": "pathauto", "status": "Disabled"}
}`

func module(machine string) catalog.Project {
	return catalog.Project{
		ID:           catalog.ProjectID("drupal_org", machine),
		MachineName:  machine,
		PackageName:  "drupal/" + machine,
		Type:         catalog.TypeModule,
		IsCompatible: true,
	}
}

func TestModuleStatus(t *testing.T) {
	runner := &fakeRunner{output: map[string]string{"pm:list --type=module --format=json": pmList}}
	a := NewModuleActivator("drush", "/site", runner)

	tests := []struct {
		machine string
		want    catalog.ActivationStatus
	}{
		{"token", catalog.StatusActive},
		{"pathauto", catalog.StatusPresent},
		{"redirect", catalog.StatusAbsent},
	}
	for _, tt := range tests {
		got, err := a.Status(t.Context(), module(tt.machine))
		if err != nil {
			t.Fatalf("Status(%s) error = %v", tt.machine, err)
		}
		if got != tt.want {
			t.Errorf("Status(%s) = %s, want %s", tt.machine, got, tt.want)
		}
	}
	if len(runner.calls) != 1 {
		t.Errorf("module list should be loaded once, ran %d commands", len(runner.calls))
	}
}

func TestModuleStatusIgnoresDrushWarnings(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	root := t.TempDir()
	drush := filepath.Join(root, "drush")
	script := "#!/bin/sh\necho 'PHP Deprecated: Creation of dynamic property is deprecated' >&2\ncat <<'JSON'\n" + pmList + "\nJSON\n"
	if err := os.WriteFile(drush, []byte(script), 0o755); err != nil { //nolint:gosec // Test script must be executable
		t.Fatal(err)
	}

	a := NewModuleActivator(drush, root, command.ExecRunner{})
	got, err := a.Status(t.Context(), module("token"))
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if got != catalog.StatusActive {
		t.Errorf("Status(token) = %s, want %s", got, catalog.StatusActive)
	}
}

func TestModuleActivate(t *testing.T) {
	runner := &fakeRunner{output: map[string]string{"pm:list --type=module --format=json": pmList}}
	a := NewModuleActivator("drush", "/site", runner)

	if _, err := a.Status(t.Context(), module("token")); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	resp, err := a.Activate(t.Context(), module("pathauto"))
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if resp != nil {
		t.Errorf("module activation should not produce a response, got %+v", resp)
	}

	last := runner.calls[len(runner.calls)-1]
	if last.dir != "/site" || strings.Join(last.args, " ") != "pm:install -y pathauto" {
		t.Errorf("unexpected command %+v", last)
	}

	if _, err := a.Status(t.Context(), module("token")); err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(runner.calls) != 3 {
		t.Errorf("module list should be reloaded after activation, ran %d commands", len(runner.calls))
	}
}

func TestModuleActivateRejectsBadNames(t *testing.T) {
	runner := &fakeRunner{}
	a := NewModuleActivator("drush", "/site", runner)

	for _, name := range []string{"", "token; rm -rf /", "Token"} {
		if _, err := a.Activate(t.Context(), module(name)); err == nil {
			t.Errorf("expected error for %q", name)
		}
	}
	if len(runner.calls) != 0 {
		t.Errorf("no command should run for invalid names")
	}
}

func TestRecipeLifecycle(t *testing.T) {
	root := t.TempDir()
	store := cache.New(0)
	defer store.Close()
	runner := &fakeRunner{}
	a := NewRecipeActivator("drush", root, runner, store)

	p := catalog.Project{ID: "recipes/blog", MachineName: "blog", Title: "Blog", Type: catalog.TypeRecipe, IsCompatible: true}

	status, err := a.Status(t.Context(), p)
	if err != nil || status != catalog.StatusAbsent {
		t.Fatalf("Status() = %s, %v; want absent", status, err)
	}
	if _, err := a.Activate(t.Context(), p); err == nil {
		t.Fatalf("Activate() should fail for a recipe that is not installed")
	}

	dir := filepath.Join(root, "recipes", "blog")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "recipe.yml"), []byte("name: Blog\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if status, _ := a.Status(t.Context(), p); status != catalog.StatusPresent {
		t.Errorf("Status() = %s, want present", status)
	}

	resp, err := a.Activate(t.Context(), p)
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if resp == nil || resp.Status != 0 {
		t.Errorf("unexpected response %+v", resp)
	}
	if status, _ := a.Status(t.Context(), p); status != catalog.StatusActive {
		t.Errorf("Status() = %s, want active", status)
	}
}

func TestManagerDispatch(t *testing.T) {
	runner := &fakeRunner{output: map[string]string{"pm:list --type=module --format=json": pmList}}
	store := cache.New(0)
	defer store.Close()
	m := NewManager(
		NewRecipeActivator("drush", t.TempDir(), runner, store),
		NewModuleActivator("drush", "/site", runner),
	)

	inst, err := m.Instructions(t.Context(), module("token"))
	if err != nil {
		t.Fatalf("Instructions() error = %v", err)
	}
	if !strings.HasPrefix(inst.Command, "composer require drupal/token") {
		t.Errorf("Command = %q", inst.Command)
	}

	incompatible := module("legacy")
	incompatible.IsCompatible = false
	incompatible.URL = "https://www.drupal.org/project/legacy"
	inst, err = m.Instructions(t.Context(), incompatible)
	if err != nil || inst.URL != incompatible.URL || inst.Command != "" {
		t.Errorf("incompatible project should get a URL, got %+v, %v", inst, err)
	}

	_, err = m.Activate(t.Context(), catalog.Project{ID: "x/theme", MachineName: "theme", Type: "theme"})
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}
