package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"projectbrowser/internal/activation"
	"projectbrowser/internal/catalog"
	"projectbrowser/internal/installer"
	"projectbrowser/internal/server"
)

// Execute runs the CLI with the provided args and manager.
func Execute(args []string, manager Manager, out, errOut io.Writer) int {
	return ExecuteContext(context.Background(), args, manager, out, errOut)
}

// ExecuteContext is Execute with a caller-supplied context, cancelled on shutdown signals by main.
func ExecuteContext(ctx context.Context, args []string, manager Manager, out, errOut io.Writer) int {
	cmd := NewRootCommand(manager, out, errOut)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintln(errOut, "Error:", usageErr.Error())
			return ExitInvalidUsage
		}
		jsonOutput, _ := cmd.PersistentFlags().GetBool("json")
		if !jsonOutput {
			fmt.Fprintln(errOut, "Error:", err.Error())
		}
		return ExitRuntimeError
	}
	return ExitSuccess
}

// NewRootCommand builds the root CLI command tree.
func NewRootCommand(manager Manager, out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "projectbrowser",
		Short:         "Browse a project catalog and install projects into a Composer site",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.PersistentFlags().Bool("json", false, "output JSONL")

	root.AddCommand(newServeCommand(manager))
	root.AddCommand(newProjectsCommand(manager))
	root.AddCommand(newCacheCommand(manager))
	root.AddCommand(newInstallCommand(manager))
	root.AddCommand(newCheckCommand(manager))
	root.AddCommand(newVersionCommand(manager))
	root.AddCommand(newHashTokenCommand())

	return root
}

type usageError struct {
	err error
}

func (u *usageError) Error() string {
	if u.err == nil {
		return "invalid usage"
	}
	return u.err.Error()
}

func requireArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return &usageError{err: fmt.Errorf("requires %d argument(s)", n)}
		}
		return nil
	}
}

func newServeCommand(manager Manager) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP server and maintenance jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := manager.Serve(cmd.Context()); err != nil {
				return writeError(cmd, err)
			}
			return nil
		},
	}
}

func newProjectsCommand(manager Manager) *cobra.Command {
	projects := &cobra.Command{
		Use:   "projects",
		Short: "browse the catalog",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list projects from a source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, _ := cmd.Flags().GetString("source")
			if source == "" {
				return &usageError{err: fmt.Errorf("--source is required")}
			}
			query := catalog.Query{}
			query.Search, _ = cmd.Flags().GetString("search")
			query.Sort, _ = cmd.Flags().GetString("sort")
			query.Page, _ = cmd.Flags().GetInt("page")
			query.Limit, _ = cmd.Flags().GetInt("limit")
			query.Categories, _ = cmd.Flags().GetStringSlice("categories")
			if query.Page < 0 || query.Limit < 0 {
				return &usageError{err: fmt.Errorf("page and limit must not be negative")}
			}

			page, err := manager.ProjectsList(cmd.Context(), source, query)
			if err != nil {
				return writeError(cmd, err)
			}
			if page.Error() != "" {
				return writeError(cmd, errors.New(page.Error()))
			}
			jsonOutput, _ := cmd.Flags().GetBool("json")
			if jsonOutput {
				return writeEvent(cmd, ProgressEvent{Type: "result", Data: page})
			}
			for _, p := range page.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", p.ID, p.Title)
			}
			return writeEvent(cmd, ProgressEvent{
				Type:    "result",
				Message: fmt.Sprintf("%d of %d projects", len(page.List()), page.TotalResults()),
			})
		},
	}
	listCmd.Flags().String("source", "", "catalog source id")
	listCmd.Flags().String("search", "", "full text search")
	listCmd.Flags().String("sort", "", "sort order")
	listCmd.Flags().Int("page", 0, "zero-based page")
	listCmd.Flags().Int("limit", 0, "results per page")
	listCmd.Flags().StringSlice("categories", nil, "category ids")

	projects.AddCommand(listCmd)
	return projects
}

func newCacheCommand(manager Manager) *cobra.Command {
	cache := &cobra.Command{
		Use:   "cache",
		Short: "manage cached catalog results",
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "drop cached results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, _ := cmd.Flags().GetString("source")
			if err := manager.CacheClear(cmd.Context(), source); err != nil {
				return writeError(cmd, err)
			}
			msg := "catalog cache cleared"
			if source != "" {
				msg = fmt.Sprintf("catalog cache cleared for %s", source)
			}
			return writeEvent(cmd, ProgressEvent{Type: "success", Message: msg})
		},
	}
	clearCmd.Flags().String("source", "", "source id; all sources when empty")

	cache.AddCommand(clearCmd)
	return cache
}

func newInstallCommand(manager Manager) *cobra.Command {
	install := &cobra.Command{
		Use:   "install",
		Short: "drive the install workflow",
	}

	phase := func(use, short string, run func(ctx context.Context, stageID string) (installer.Result, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <stage-id>",
			Short: short,
			Args:  requireArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				res, err := run(cmd.Context(), args[0])
				if err != nil {
					return writeError(cmd, err)
				}
				return writeResult(cmd, res)
			},
		}
	}

	beginCmd := &cobra.Command{
		Use:   "begin",
		Short: "create a stage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := manager.InstallBegin(cmd.Context())
			if err != nil {
				return writeError(cmd, err)
			}
			return writeResult(cmd, res)
		},
	}

	requireCmd := &cobra.Command{
		Use:   "require <stage-id> <project-id>...",
		Short: "require projects in the stage",
		Args:  requireArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := manager.InstallRequire(cmd.Context(), args[0], args[1:])
			if err != nil {
				return writeError(cmd, err)
			}
			return writeResult(cmd, res)
		},
	}

	activateCmd := &cobra.Command{
		Use:   "activate <project-id>...",
		Short: "enable installed projects",
		Args:  requireArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := manager.InstallActivate(cmd.Context(), args)
			if err != nil {
				return writeError(cmd, err)
			}
			if resp == nil {
				resp = &activation.Response{}
			}
			return writeEvent(cmd, ProgressEvent{Type: "result", Message: resp.Message, Data: resp})
		},
	}

	unlockCmd := &cobra.Command{
		Use:   "unlock [stage-id]",
		Short: "break the install lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			stageID := ""
			if len(args) > 0 {
				stageID = args[0]
			}
			if err := manager.InstallUnlock(cmd.Context(), stageID); err != nil {
				return writeError(cmd, err)
			}
			return writeEvent(cmd, ProgressEvent{Type: "success", Message: "Operation complete, you can add a new project again."})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "show the stage lock and project progress",
		RunE: func(cmd *cobra.Command, _ []string) error {
			state, err := manager.InstallStatus(cmd.Context())
			if err != nil {
				return writeError(cmd, err)
			}
			return writeEvent(cmd, ProgressEvent{Type: "result", Message: describeState(state), Data: state})
		},
	}

	runCmd := &cobra.Command{
		Use:   "run <project-id>...",
		Short: "install projects end to end",
		Args:  requireArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return streamEvents(cmd, manager.InstallRun(cmd.Context(), args))
		},
	}

	install.AddCommand(
		beginCmd,
		requireCmd,
		phase("apply", "apply the stage to the site", manager.InstallApply),
		phase("post-apply", "run post-apply tasks", manager.InstallPostApply),
		phase("destroy", "remove the stage", manager.InstallDestroy),
		activateCmd,
		unlockCmd,
		statusCmd,
		runCmd,
	)
	return install
}

func describeState(state installer.State) string {
	if state.Stage == nil && len(state.Projects) == 0 {
		return "no install in progress"
	}
	var b strings.Builder
	if state.Stage != nil {
		fmt.Fprintf(&b, "stage %s owned by %s", state.Stage.ID, state.Stage.Owner)
		if state.Stage.Applying {
			b.WriteString(" (applying)")
		}
	} else {
		b.WriteString("no stage")
	}
	for _, id := range slices.Sorted(maps.Keys(state.Projects)) {
		fmt.Fprintf(&b, "\n  %s: %s", id, state.Projects[id])
	}
	return b.String()
}

func newCheckCommand(manager Manager) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "run environment readiness checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			checks, err := manager.Check(cmd.Context())
			if err != nil {
				return writeError(cmd, err)
			}
			failed := false
			for _, c := range checks {
				if c.Status == "error" {
					failed = true
				}
				msg := fmt.Sprintf("[%s] %s: %s", c.Status, c.Name, c.Message)
				if err := writeEvent(cmd, ProgressEvent{Type: "check", Code: c.Status, Message: msg, Data: c}); err != nil {
					return err
				}
			}
			if failed {
				return &runtimeError{err: errors.New("environment is not ready")}
			}
			return nil
		},
	}
}

func newVersionCommand(manager Manager) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := manager.Version()
			return writeEvent(cmd, ProgressEvent{
				Type:    "result",
				Message: fmt.Sprintf("projectbrowser %s (%s, %s)", info.Version, info.Commit, info.Platform),
				Data:    info,
			})
		},
	}
}

func newHashTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token",
		Short: "hash an admin token read from stdin for admin_token_hash",
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return writeError(cmd, fmt.Errorf("failed to read token: %w", err))
			}
			token := strings.TrimSpace(line)
			if token == "" {
				return &usageError{err: errors.New("token must be given on stdin")}
			}
			hash, err := server.HashToken(token)
			if err != nil {
				return writeError(cmd, err)
			}
			return writeEvent(cmd, ProgressEvent{
				Type:    "result",
				Message: hash,
				Data:    map[string]string{"admin_token_hash": hash},
			})
		},
	}
}

func writeResult(cmd *cobra.Command, res installer.Result) error {
	msg := fmt.Sprintf("%s: ok", res.Phase)
	if res.StageID != "" {
		msg = fmt.Sprintf("%s: ok (stage %s)", res.Phase, res.StageID)
	}
	return writeEvent(cmd, ProgressEvent{Type: "result", Phase: res.Phase, Message: msg, Data: res})
}

func streamEvents(cmd *cobra.Command, events <-chan ProgressEvent) error {
	ctx := cmd.Context()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	hasError := false
	for event := range events {
		if err := writeEventWithContext(ctx, cmd, event, jsonOutput); err != nil {
			return err
		}
		if event.Type == "error" {
			hasError = true
		}
	}
	if hasError {
		return &runtimeError{err: fmt.Errorf("operation failed")}
	}
	return nil
}

type runtimeError struct {
	err error
}

func (r *runtimeError) Error() string {
	if r.err == nil {
		return "runtime error"
	}
	return r.err.Error()
}

func (r *runtimeError) Unwrap() error { return r.err }

// errorEvent renders workflow failures with their phase and lock details.
func errorEvent(err error) ProgressEvent {
	event := ProgressEvent{Type: "error", Message: err.Error()}
	var (
		failure *installer.Failure
		locked  *installer.Locked
	)
	switch {
	case errors.As(err, &locked):
		event.Code = "locked"
		event.Message = locked.Message
		if locked.UnlockURL != "" {
			event.Data = map[string]string{"unlock_url": locked.UnlockURL}
		}
	case errors.As(err, &failure):
		event.Code = "failed"
		event.Phase = failure.Phase
		event.Message = failure.Message
	}
	return event
}

func writeError(cmd *cobra.Command, err error) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		_ = writeEventWithContext(cmd.Context(), cmd, errorEvent(err), true)
	}
	return &runtimeError{err: err}
}

func writeEvent(cmd *cobra.Command, event ProgressEvent) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	return writeEventWithContext(cmd.Context(), cmd, event, jsonOutput)
}

func writeEventWithContext(ctx context.Context, cmd *cobra.Command, event ProgressEvent, jsonOutput bool) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if jsonOutput {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		return encoder.Encode(event)
	}
	if event.Message != "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), event.Message)
		return err
	}
	return nil
}
