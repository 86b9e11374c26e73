// Package installer drives the project install workflow:
// begin, require, apply, post-apply and destroy, then activate.
// Unlock breaks a stuck stage.
package installer

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"projectbrowser/internal/activation"
	"projectbrowser/internal/catalog"
	"projectbrowser/internal/logging"
	"projectbrowser/internal/progress"
	"projectbrowser/internal/stage"
	"projectbrowser/internal/systemcheck"
	"projectbrowser/internal/telemetry"
)

// GraceWindow is how long a lock is assumed to belong to a live install
const GraceWindow = 7 * time.Minute

// ProjectResolver looks up projects seen while browsing
type ProjectResolver interface {
	GetStoredProject(ctx context.Context, projectID string) (catalog.Project, error)
}

// Activator enables installed projects
type Activator interface {
	Activate(ctx context.Context, p catalog.Project) (*activation.Response, error)
}

// Checker runs environment readiness checks
type Checker interface {
	Run(ctx context.Context) []systemcheck.CheckResult
}

// Installer sequences install phases against the single stage
type Installer struct {
	stages    *stage.Manager
	tracker   *progress.Tracker
	projects  ProjectResolver
	activator Activator
	checker   Checker
	now       func() time.Time
}

// New creates an Installer from its collaborators
func New(stages *stage.Manager, tracker *progress.Tracker, projects ProjectResolver, activator Activator, checker Checker) *Installer {
	return &Installer{
		stages:    stages,
		tracker:   tracker,
		projects:  projects,
		activator: activator,
		checker:   checker,
		now:       time.Now,
	}
}

func (in *Installer) startPhase(ctx context.Context, phase string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := telemetry.StartSpan(ctx, "installer."+phase, trace.WithAttributes(attrs...))
	return ctx, span, time.Now()
}

func (in *Installer) finishPhase(span trace.Span, phase string, started time.Time, err error) {
	telemetry.RecordError(span, err)
	telemetry.RecordPhase(phase, started, err)
	span.End()
}

func (in *Installer) fail(phase string, err error, fields map[string]interface{}) *Failure {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	fields["phase"] = phase
	logging.Err(err, "Install phase failed", fields)
	return newFailure(phase, err)
}

// Begin creates a new stage. When one already exists it returns a *Locked
// error; unlockURL is offered only when breaking the lock is safe.
func (in *Installer) Begin(ctx context.Context, unlockURL string) (res Result, err error) {
	ctx, span, started := in.startPhase(ctx, PhaseCreate)
	defer func() { in.finishPhase(span, PhaseCreate, started, err) }()

	existing, err := in.stages.Current(ctx)
	if err != nil {
		return Result{}, in.fail(PhaseCreate, err, nil)
	}
	if existing != nil {
		return Result{}, in.locked(ctx, existing, unlockURL)
	}

	results := in.checker.Run(ctx)
	for _, w := range systemcheck.Warnings(results) {
		logging.Warnf("Environment check warning: %s", w)
	}
	if errs := systemcheck.Errors(results); len(errs) > 0 {
		return Result{}, in.fail(PhaseCreate, &ValidationError{Messages: errs}, nil)
	}

	lock, err := in.stages.Create(ctx)
	if err != nil {
		if lockErr, ok := asLocked(err); ok {
			return Result{}, in.locked(ctx, lockErr.Lock, unlockURL)
		}
		return Result{}, in.fail(PhaseCreate, err, nil)
	}

	span.SetAttributes(attribute.String("stage.id", lock.ID))
	return Result{Phase: PhaseCreate, Status: StatusOK, StageID: lock.ID}, nil
}

func (in *Installer) locked(ctx context.Context, lock *stage.Lock, unlockURL string) *Locked {
	if !lock.Mine {
		return &Locked{
			Message: "The process for adding projects was locked by something else outside of Project Browser. Projects can be added to the site once the process is unlocked. Try again in a few minutes.",
		}
	}
	unlockURL = pinStage(unlockURL, lock.ID)

	first, ok, err := in.tracker.FirstUpdatedTime(ctx)
	if err != nil {
		logging.Warnf("Could not read install progress timestamp: %v", err)
	}
	if !ok {
		return &Locked{
			Message:   "The process for adding projects is locked, but that lock has expired. Use the unlock link to unlock the process and try to add the project again.",
			UnlockURL: unlockURL,
		}
	}

	elapsed := in.now().Sub(first)
	age := progress.FormatAge(elapsed)
	switch {
	case lock.Applying:
		return &Locked{
			Message: fmt.Sprintf("The process for adding the project that was locked %s ago cannot be unlocked because it is in the process of being applied to the site. Try again in a few minutes.", age),
		}
	case elapsed < GraceWindow:
		return &Locked{
			Message:   fmt.Sprintf("The process for adding the project was locked %s ago. It may still be in progress, consider waiting a few minutes before using the unlock link.", age),
			UnlockURL: unlockURL,
		}
	default:
		return &Locked{
			Message:   fmt.Sprintf("The process for adding the project was locked %s ago. Use the unlock link to unlock the process.", age),
			UnlockURL: unlockURL,
		}
	}
}

// pinStage ties an unlock link to the stage it was offered for, so a stale
// link cannot destroy a stage created after it.
func pinStage(unlockURL, stageID string) string {
	if unlockURL == "" {
		return ""
	}
	u, err := url.Parse(unlockURL)
	if err != nil {
		return unlockURL
	}
	q := u.Query()
	q.Set("stage_id", stageID)
	u.RawQuery = q.Encode()
	return u.String()
}

// Require resolves projectIDs and requires their packages in one batch.
// Any failure rolls the whole attempt back.
func (in *Installer) Require(ctx context.Context, stageID string, projectIDs []string) (res Result, err error) {
	ctx, span, started := in.startPhase(ctx, PhaseRequire,
		attribute.String("stage.id", stageID), attribute.StringSlice("project.ids", projectIDs))
	defer func() { in.finishPhase(span, PhaseRequire, started, err) }()

	if len(projectIDs) == 0 {
		return Result{}, in.fail(PhaseRequire, fmt.Errorf("no projects to require"), nil)
	}

	packages := make([]string, 0, len(projectIDs))
	for _, id := range projectIDs {
		p, err := in.projects.GetStoredProject(ctx, id)
		if err != nil {
			return Result{}, in.rollback(ctx, PhaseRequire, stageID, err)
		}
		if err := in.tracker.SetState(ctx, id, progress.PhaseRequiring); err != nil {
			return Result{}, in.rollback(ctx, PhaseRequire, stageID, err)
		}
		packages = append(packages, p.PackageName)
	}

	s, err := in.stages.Claim(ctx, stageID)
	if err != nil {
		return Result{}, in.rollback(ctx, PhaseRequire, stageID, err)
	}
	if err := s.Require(ctx, packages); err != nil {
		return Result{}, in.rollback(ctx, PhaseRequire, stageID, err)
	}

	return Result{Phase: PhaseRequire, Status: StatusOK, StageID: stageID}, nil
}

// Apply moves every tracked project to applying and applies the stage to
// the live site. Failure rolls the attempt back.
func (in *Installer) Apply(ctx context.Context, stageID string) (res Result, err error) {
	ctx, span, started := in.startPhase(ctx, PhaseApply, attribute.String("stage.id", stageID))
	defer func() { in.finishPhase(span, PhaseApply, started, err) }()

	states, err := in.tracker.ToArray(ctx)
	if err != nil {
		return Result{}, in.rollback(ctx, PhaseApply, stageID, err)
	}
	for id := range states {
		if err := in.tracker.SetState(ctx, id, progress.PhaseApplying); err != nil {
			return Result{}, in.rollback(ctx, PhaseApply, stageID, err)
		}
	}

	s, err := in.stages.Claim(ctx, stageID)
	if err != nil {
		return Result{}, in.rollback(ctx, PhaseApply, stageID, err)
	}
	if err := s.Apply(ctx); err != nil {
		return Result{}, in.rollback(ctx, PhaseApply, stageID, err)
	}

	return Result{Phase: PhaseApply, Status: StatusOK, StageID: stageID}, nil
}

// rollback clears progress and force-destroys the stage when it is ours,
// then reports cause as a failure of phase.
func (in *Installer) rollback(ctx context.Context, phase, stageID string, cause error) *Failure {
	failure := in.fail(phase, cause, map[string]interface{}{"stage_id": stageID})

	// The request context may already be cancelled; cleanup still has to run.
	ctx = context.WithoutCancel(ctx)

	if err := in.tracker.DeleteAll(ctx); err != nil {
		logging.Err(err, "Failed to clear install progress during rollback", map[string]interface{}{"phase": phase})
	}

	lock, err := in.stages.Current(ctx)
	if err != nil {
		logging.Err(err, "Failed to read stage lock during rollback", map[string]interface{}{"phase": phase})
		return failure
	}
	if lock != nil && lock.Mine {
		if err := in.stages.ForceDestroy(ctx); err != nil {
			logging.Err(err, "Failed to destroy stage during rollback", map[string]interface{}{"phase": phase, "stage_id": lock.ID})
		}
	}
	return failure
}

// PostApply runs post-apply tasks. Failures are reported without rollback
// since the live site has already changed.
func (in *Installer) PostApply(ctx context.Context, stageID string) (res Result, err error) {
	ctx, span, started := in.startPhase(ctx, PhasePostApply, attribute.String("stage.id", stageID))
	defer func() { in.finishPhase(span, PhasePostApply, started, err) }()

	s, err := in.stages.Claim(ctx, stageID)
	if err != nil {
		return Result{}, in.fail(PhasePostApply, err, map[string]interface{}{"stage_id": stageID})
	}
	if err := s.PostApply(ctx); err != nil {
		return Result{}, in.fail(PhasePostApply, err, map[string]interface{}{"stage_id": stageID})
	}
	return Result{Phase: PhasePostApply, Status: StatusOK, StageID: stageID}, nil
}

// Destroy removes the stage. Failures are reported, not retried.
func (in *Installer) Destroy(ctx context.Context, stageID string) (res Result, err error) {
	ctx, span, started := in.startPhase(ctx, PhaseDestroy, attribute.String("stage.id", stageID))
	defer func() { in.finishPhase(span, PhaseDestroy, started, err) }()

	s, err := in.stages.Claim(ctx, stageID)
	if err != nil {
		return Result{}, in.fail(PhaseDestroy, err, map[string]interface{}{"stage_id": stageID})
	}
	if err := s.Destroy(ctx, false); err != nil {
		return Result{}, in.fail(PhaseDestroy, err, map[string]interface{}{"stage_id": stageID})
	}
	return Result{Phase: PhaseDestroy, Status: StatusOK, StageID: stageID}, nil
}

// Activate enables each project in turn. Progress is cleared after every
// project whether or not it succeeded; the first failure stops the loop.
// It returns the last activator response, or a plain success.
func (in *Installer) Activate(ctx context.Context, projectIDs []string) (resp *activation.Response, err error) {
	ctx, span, started := in.startPhase(ctx, "activate", attribute.StringSlice("project.ids", projectIDs))
	defer func() { in.finishPhase(span, "activate", started, err) }()

	var last *activation.Response
	for _, id := range projectIDs {
		r, err := in.activateOne(ctx, id)
		if err != nil {
			return nil, in.fail(PhaseActivate, err, map[string]interface{}{"project_id": id})
		}
		if r != nil {
			last = r
		}
	}

	if last == nil {
		return &activation.Response{Status: StatusOK}, nil
	}
	return last, nil
}

func (in *Installer) activateOne(ctx context.Context, id string) (*activation.Response, error) {
	defer func() {
		if err := in.tracker.DeleteAll(context.WithoutCancel(ctx)); err != nil {
			logging.Err(err, "Failed to clear install progress after activation", map[string]interface{}{"project_id": id})
		}
	}()

	if err := in.tracker.SetState(ctx, id, progress.PhaseActivating); err != nil {
		return nil, err
	}
	p, err := in.projects.GetStoredProject(ctx, id)
	if err != nil {
		return nil, err
	}
	resp, err := in.activator.Activate(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := in.tracker.SetState(ctx, id, progress.PhaseInstalled); err != nil {
		return nil, err
	}
	return resp, nil
}

// Unlock force-destroys the current stage and clears progress. It refuses
// while the stage is applying. When stageID is set, a different current
// stage is left alone.
func (in *Installer) Unlock(ctx context.Context, stageID string) (err error) {
	ctx, span, started := in.startPhase(ctx, "unlock", attribute.String("stage.id", stageID))
	defer func() { in.finishPhase(span, "unlock", started, err) }()

	lock, err := in.stages.Current(ctx)
	if err != nil {
		return in.fail("", err, nil)
	}
	if lock != nil && stageID != "" && lock.ID != stageID {
		return in.fail("", fmt.Errorf("%w: %s is no longer the current stage", stage.ErrNotClaimable, stageID), nil)
	}
	if lock != nil && lock.Applying {
		logging.Warnf("Refusing to unlock stage %s while it is applying", lock.ID)
		return &Failure{Message: "A stage can not be unlocked while applying.", Err: errUnlockWhileApplying}
	}
	if err := in.stages.ForceDestroy(ctx); err != nil {
		return in.fail("", err, nil)
	}
	if err := in.tracker.DeleteAll(ctx); err != nil {
		return in.fail("", err, nil)
	}

	logging.Infof("Install process unlocked")
	return nil
}

// State is a snapshot of the current install
type State struct {
	Stage        *stage.Lock               `json:"stage,omitempty"`
	Projects     map[string]progress.Phase `json:"projects"`
	FirstUpdated *time.Time                `json:"first_updated,omitempty"`
}

// State reports the current stage and tracked project phases
func (in *Installer) State(ctx context.Context) (State, error) {
	lock, err := in.stages.Current(ctx)
	if err != nil {
		return State{}, err
	}
	projects, err := in.tracker.ToArray(ctx)
	if err != nil {
		return State{}, err
	}
	st := State{Stage: lock, Projects: projects}
	if first, ok, err := in.tracker.FirstUpdatedTime(ctx); err != nil {
		return State{}, err
	} else if ok {
		st.FirstUpdated = &first
	}
	return st, nil
}
