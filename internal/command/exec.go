// Package command runs external tools such as composer and drush.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"projectbrowser/internal/logging"
)

// Runner executes a command in dir and returns its standard output.
// Standard error is kept on the returned *Error when the command fails.
type Runner interface {
	Run(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// Error describes a failed command together with what it printed.
// Output holds stdout followed by stderr.
type Error struct {
	Name   string
	Args   []string
	Output string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s failed: %v", e.Name, strings.Join(e.Args, " "), e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + lastLine(out)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	// Env is appended to the inherited environment
	Env []string
}

// Run implements Runner
func (r ExecRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // binaries come from configuration, args are validated by callers
	cmd.Dir = dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	logging.Debugf("Ran %s %s in %s (%s)", name, strings.Join(args, " "), dir, time.Since(started).Round(time.Millisecond))
	if err != nil {
		return stdout.Bytes(), &Error{Name: name, Args: args, Output: stdout.String() + stderr.String(), Err: err}
	}
	if stderr.Len() > 0 {
		logging.Debugf("%s %s wrote to stderr: %s", name, strings.Join(args, " "), lastLine(strings.TrimSpace(stderr.String())))
	}
	return stdout.Bytes(), nil
}
