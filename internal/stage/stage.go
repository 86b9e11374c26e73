package stage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"

	"projectbrowser/internal/command"
	"projectbrowser/internal/logging"
)

// Manifests are the composer files copied between the live site and a stage
var Manifests = []string{"composer.json", "composer.lock"}

var packageName = regexp.MustCompile(`^[a-z0-9]([_.-]?[a-z0-9]+)*/[a-z0-9](([_.]|-{1,2})?[a-z0-9]+)*$`)

// Options configures a Manager
type Options struct {
	Owner          string
	ProjectRoot    string
	StagingRoot    string
	ComposerBinary string
	Runner         command.Runner
}

// Manager creates, claims and destroys stages
type Manager struct {
	db       *sql.DB
	owner    string
	root     string
	staging  string
	composer string
	runner   command.Runner
	now      func() time.Time
}

// NewManager creates a stage manager over db
func NewManager(db *sql.DB, opts Options) *Manager {
	runner := opts.Runner
	if runner == nil {
		runner = command.ExecRunner{Env: []string{"COMPOSER_NO_INTERACTION=1"}}
	}
	composer := opts.ComposerBinary
	if composer == "" {
		composer = "composer"
	}
	return &Manager{
		db:       db,
		owner:    opts.Owner,
		root:     opts.ProjectRoot,
		staging:  opts.StagingRoot,
		composer: composer,
		runner:   runner,
		now:      time.Now,
	}
}

func (m *Manager) dir(id string) string {
	return filepath.Join(m.staging, id)
}

// Create makes a new stage. When one already exists it returns a
// *LockedError describing it.
func (m *Manager) Create(ctx context.Context) (*Lock, error) {
	id := uuid.NewString()

	ok, err := m.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		existing, err := m.current(ctx)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			// Released between the insert and the read.
			return nil, fmt.Errorf("stage lock changed concurrently, try again")
		}
		return nil, &LockedError{Lock: existing}
	}

	if err := m.populate(id); err != nil {
		if relErr := m.release(ctx, id); relErr != nil {
			logging.Errorf("Failed to release stage %s after failed create: %v", id, relErr)
		}
		os.RemoveAll(m.dir(id)) //nolint:errcheck,gosec // Best effort cleanup
		return nil, err
	}

	logging.Infof("Created stage %s", id)
	return m.current(ctx)
}

func (m *Manager) populate(id string) error {
	dir := m.dir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create stage directory: %w", err)
	}
	for _, name := range Manifests {
		err := copyFile(filepath.Join(m.root, name), filepath.Join(dir, name))
		if errors.Is(err, os.ErrNotExist) && name != "composer.json" {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to copy %s into stage: %w", name, err)
		}
	}
	return nil
}

// Claim returns a handle on the stage named id. The stage must exist and
// have been created by this manager's owner.
func (m *Manager) Claim(ctx context.Context, id string) (*Stage, error) {
	l, err := m.current(ctx)
	if err != nil {
		return nil, err
	}
	if l == nil || l.ID != id || !l.Mine {
		return nil, fmt.Errorf("%w: %s", ErrNotClaimable, id)
	}
	return &Stage{m: m, lock: l}, nil
}

// ForceDestroy removes whatever stage exists, applying or not
func (m *Manager) ForceDestroy(ctx context.Context) error {
	l, err := m.current(ctx)
	if err != nil {
		return err
	}
	if l == nil {
		return nil
	}
	return m.destroy(ctx, l.ID)
}

func (m *Manager) destroy(ctx context.Context, id string) error {
	if err := os.RemoveAll(m.dir(id)); err != nil {
		return fmt.Errorf("failed to remove stage directory: %w", err)
	}
	if err := m.release(ctx, id); err != nil {
		return err
	}
	logging.Infof("Destroyed stage %s", id)
	return nil
}

// Stage is a claimed handle on the current stage
type Stage struct {
	m    *Manager
	lock *Lock
}

// ID returns the stage id
func (s *Stage) ID() string {
	return s.lock.ID
}

// Dir returns the stage's working directory
func (s *Stage) Dir() string {
	return s.m.dir(s.lock.ID)
}

// Require adds packages to the stage in a single composer call
func (s *Stage) Require(ctx context.Context, packages []string) error {
	if len(packages) == 0 {
		return fmt.Errorf("no packages to require")
	}
	for _, p := range packages {
		if !packageName.MatchString(p) {
			return fmt.Errorf("invalid package name %q", p)
		}
	}

	args := append([]string{"require", "--no-interaction", "--no-progress", "--update-with-all-dependencies"}, packages...)
	if _, err := s.m.runner.Run(ctx, s.Dir(), s.m.composer, args...); err != nil {
		return fmt.Errorf("composer require failed: %w", err)
	}
	logging.Infof("Required %v in stage %s", packages, s.ID())
	return nil
}

// Apply copies the staged manifests over the live site and installs them.
// The stage is marked applying for the duration.
func (s *Stage) Apply(ctx context.Context) error {
	if err := s.m.setApplying(ctx, s.ID(), true); err != nil {
		return err
	}
	defer func() {
		// The flag must clear even when ctx was cancelled mid-apply.
		if err := s.m.setApplying(context.WithoutCancel(ctx), s.ID(), false); err != nil {
			logging.Errorf("Failed to clear applying flag on stage %s: %v", s.ID(), err)
		}
	}()

	for _, name := range Manifests {
		err := copyFile(filepath.Join(s.Dir(), name), filepath.Join(s.m.root, name))
		if errors.Is(err, os.ErrNotExist) && name != "composer.json" {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to copy %s to the site: %w", name, err)
		}
	}

	if _, err := s.m.runner.Run(ctx, s.m.root, s.m.composer, "install", "--no-interaction", "--no-progress"); err != nil {
		return fmt.Errorf("composer install failed: %w", err)
	}
	logging.Infof("Applied stage %s", s.ID())
	return nil
}

// PostApply rebuilds the autoloader of the live site
func (s *Stage) PostApply(ctx context.Context) error {
	if _, err := s.m.runner.Run(ctx, s.m.root, s.m.composer, "dump-autoload", "--optimize", "--no-interaction"); err != nil {
		return fmt.Errorf("composer dump-autoload failed: %w", err)
	}
	return nil
}

// Destroy removes the stage. It refuses while applying unless force is set.
func (s *Stage) Destroy(ctx context.Context, force bool) error {
	if !force {
		applying, err := s.m.IsApplying(ctx)
		if err != nil {
			return err
		}
		if applying {
			return ErrApplying
		}
	}
	return s.m.destroy(ctx, s.ID())
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // paths are built from configured roots
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck // Read-only file

	tmp := dst + ".tmp"
	out, err := os.Create(tmp) //nolint:gosec // paths are built from configured roots
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close() //nolint:errcheck,gosec // Already failing
		os.Remove(tmp) //nolint:errcheck,gosec // Best effort cleanup
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp) //nolint:errcheck,gosec // Best effort cleanup
		return err
	}
	return os.Rename(tmp, dst)
}
