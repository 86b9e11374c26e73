package activation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"projectbrowser/internal/catalog"
	"projectbrowser/internal/command"
	"projectbrowser/internal/logging"
)

// AppliedCollection records which recipes have been applied
const AppliedCollection = "project_browser.applied_recipes"

// RecipeStore remembers applied recipes
type RecipeStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// RecipeActivator applies recipes with drush
type RecipeActivator struct {
	drush   string
	root    string
	runner  command.Runner
	applied RecipeStore
	now     func() time.Time
}

// NewRecipeActivator creates an activator for recipes installed under root/recipes
func NewRecipeActivator(drush, root string, runner command.Runner, applied RecipeStore) *RecipeActivator {
	return &RecipeActivator{drush: drush, root: root, runner: runner, applied: applied, now: time.Now}
}

// Supports implements Activator
func (a *RecipeActivator) Supports(p catalog.Project) bool {
	return p.Type == catalog.TypeRecipe
}

func (a *RecipeActivator) recipePath(p catalog.Project) string {
	return filepath.Join(a.root, "recipes", p.MachineName)
}

// Status implements Activator
func (a *RecipeActivator) Status(ctx context.Context, p catalog.Project) (catalog.ActivationStatus, error) {
	_, applied, err := a.applied.Get(ctx, p.ID)
	if err != nil {
		return "", fmt.Errorf("failed to read applied recipes: %w", err)
	}
	if applied {
		return catalog.StatusActive, nil
	}
	if _, err := os.Stat(filepath.Join(a.recipePath(p), "recipe.yml")); err == nil {
		return catalog.StatusPresent, nil
	}
	return catalog.StatusAbsent, nil
}

// Instructions implements Activator
func (a *RecipeActivator) Instructions(ctx context.Context, p catalog.Project) (*catalog.Instructions, error) {
	return &catalog.Instructions{
		Command: fmt.Sprintf("composer require %s\n%s recipe %s", p.PackageName, a.drush, filepath.Join("recipes", p.MachineName)),
	}, nil
}

// Activate implements Activator
func (a *RecipeActivator) Activate(ctx context.Context, p catalog.Project) (*Response, error) {
	if err := validMachineName(p.MachineName); err != nil {
		return nil, err
	}
	path := a.recipePath(p)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("recipe %s is not installed: %w", p.MachineName, err)
	}

	if _, err := a.runner.Run(ctx, a.root, a.drush, "recipe", path); err != nil {
		return nil, fmt.Errorf("failed to apply recipe %s: %w", p.MachineName, err)
	}

	stamp := []byte(a.now().UTC().Format(time.RFC3339))
	if err := a.applied.Set(ctx, p.ID, stamp); err != nil {
		logging.Warnf("Recipe %s applied but could not be recorded: %v", p.MachineName, err)
	}
	logging.Infof("Applied recipe %s", p.MachineName)
	return &Response{Status: 0, Message: fmt.Sprintf("%s has been applied.", p.Title)}, nil
}
