// Package systemcheck verifies the environment is ready before a stage is created.
package systemcheck

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"projectbrowser/internal/command"
	"projectbrowser/internal/config"
)

// Status represents the health status of a system check.
type Status string

const (
	// StatusOK indicates the check passed successfully.
	StatusOK Status = "ok"
	// StatusWarning indicates a problem that does not block installs.
	StatusWarning Status = "warning"
	// StatusError indicates the check failed and installs must not start.
	StatusError Status = "error"
)

// CheckResult represents the result of a single system check.
type CheckResult struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Status      Status   `json:"status"`
	Message     string   `json:"message"`
	Version     string   `json:"version,omitempty"`
	Details     string   `json:"details,omitempty"`
	Remediation []string `json:"remediation,omitempty"`
}

// Runner executes system health checks.
type Runner struct {
	cfg      *config.Config
	output   func(ctx context.Context, dir, name string, args ...string) (string, error)
	diskFree func(path string) (uint64, error)
}

// NewRunner creates a new system check runner with the provided configuration.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{cfg: cfg, output: commandOutput, diskFree: freeBytes}
}

// Run executes all system checks and returns the results.
func (r *Runner) Run(ctx context.Context) []CheckResult {
	return []CheckResult{
		r.checkProject(),
		r.checkComposer(ctx),
		r.checkStaging(),
		r.checkDiskSpace(),
		r.checkDrush(ctx),
	}
}

// Errors returns the messages of every failed check
func Errors(results []CheckResult) []string {
	return filter(results, StatusError)
}

// Warnings returns the messages of every check that passed with a warning
func Warnings(results []CheckResult) []string {
	return filter(results, StatusWarning)
}

func filter(results []CheckResult, status Status) []string {
	var out []string
	for _, res := range results {
		if res.Status != status {
			continue
		}
		msg := res.Message
		if res.Details != "" {
			msg += ": " + res.Details
		}
		out = append(out, msg)
	}
	return out
}

func (r *Runner) checkProject() CheckResult {
	path := filepath.Join(r.cfg.ProjectRoot, "composer.json")
	if _, err := os.Stat(path); err != nil {
		return CheckResult{
			ID:      "project",
			Name:    "Composer project",
			Status:  StatusError,
			Message: "No composer.json found in the project root",
			Details: err.Error(),
			Remediation: []string{
				fmt.Sprintf("Set project_root to the directory holding composer.json (currently %s)", r.cfg.ProjectRoot),
			},
		}
	}
	return CheckResult{
		ID:      "project",
		Name:    "Composer project",
		Status:  StatusOK,
		Message: "Project root is a Composer project",
		Details: path,
	}
}

func (r *Runner) checkComposer(ctx context.Context) CheckResult {
	version, err := r.output(ctx, r.cfg.ProjectRoot, r.cfg.ComposerBinary, "--version", "--no-ansi")
	if err != nil {
		return CheckResult{
			ID:      "composer",
			Name:    "Composer",
			Status:  StatusError,
			Message: "Composer not available",
			Details: err.Error(),
			Remediation: []string{
				"Install Composer: https://getcomposer.org/download/",
				"Or set composer_binary to its full path",
			},
		}
	}
	return CheckResult{
		ID:      "composer",
		Name:    "Composer",
		Status:  StatusOK,
		Message: "Composer detected",
		Version: version,
	}
}

func (r *Runner) checkStaging() CheckResult {
	fail := func(err error) CheckResult {
		return CheckResult{
			ID:          "staging",
			Name:        "Staging directory",
			Status:      StatusError,
			Message:     fmt.Sprintf("Staging directory %s is not writable", r.cfg.StagingRoot),
			Details:     err.Error(),
			Remediation: directoryRemediation(r.cfg.StagingRoot),
		}
	}

	if err := os.MkdirAll(r.cfg.StagingRoot, 0o755); err != nil { //nolint:gosec // Directory permissions appropriate
		return fail(err)
	}
	probe, err := os.CreateTemp(r.cfg.StagingRoot, ".probe-*")
	if err != nil {
		return fail(err)
	}
	probe.Close()           //nolint:errcheck,gosec // Empty probe file
	os.Remove(probe.Name()) //nolint:errcheck,gosec // Best effort cleanup

	return CheckResult{
		ID:      "staging",
		Name:    "Staging directory",
		Status:  StatusOK,
		Message: "Staging directory is writable",
		Details: r.cfg.StagingRoot,
	}
}

func (r *Runner) checkDiskSpace() CheckResult {
	free, err := r.diskFree(r.cfg.StagingRoot)
	if err != nil {
		return CheckResult{
			ID:      "disk",
			Name:    "Free disk space",
			Status:  StatusWarning,
			Message: "Could not determine free disk space",
			Details: err.Error(),
		}
	}

	freeMB := free / (1024 * 1024)
	if freeMB < r.cfg.MinFreeDiskMB {
		return CheckResult{
			ID:      "disk",
			Name:    "Free disk space",
			Status:  StatusError,
			Message: "Not enough free disk space",
			Details: fmt.Sprintf("%d MB free, %d MB required", freeMB, r.cfg.MinFreeDiskMB),
			Remediation: []string{
				"Free up space on the volume holding the staging directory",
			},
		}
	}
	return CheckResult{
		ID:      "disk",
		Name:    "Free disk space",
		Status:  StatusOK,
		Message: fmt.Sprintf("%d MB free", freeMB),
	}
}

func (r *Runner) checkDrush(ctx context.Context) CheckResult {
	version, err := r.output(ctx, r.cfg.ProjectRoot, r.cfg.DrushBinary, "version", "--format=string")
	if err != nil {
		return CheckResult{
			ID:      "drush",
			Name:    "Drush",
			Status:  StatusWarning,
			Message: "Drush not available, projects can be installed but not activated",
			Details: err.Error(),
			Remediation: []string{
				"Install Drush: composer require drush/drush",
				"Or set drush_binary to its full path",
			},
		}
	}
	return CheckResult{
		ID:      "drush",
		Name:    "Drush",
		Status:  StatusOK,
		Message: "Drush detected",
		Version: version,
	}
}

func freeBytes(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// commandOutput runs in the project root, the same directory installs and
// activation use, so relative binaries such as vendor/bin/drush resolve alike.
func commandOutput(ctx context.Context, dir, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := command.ExecRunner{}.Run(ctx, dir, name, args...)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(string(output)), nil
}

func directoryRemediation(path string) []string {
	return []string{
		fmt.Sprintf("Create the directory: sudo mkdir -p %s", path),
		fmt.Sprintf("Set permissions: sudo chmod 755 %s", path),
		fmt.Sprintf("Set ownership: sudo chown $USER %s", path),
	}
}
