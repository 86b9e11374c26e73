package installer

import (
	"errors"
	"fmt"

	"projectbrowser/internal/activation"
	"projectbrowser/internal/catalog"
	"projectbrowser/internal/command"
	"projectbrowser/internal/stage"
)

// Phase labels reported to callers
const (
	PhaseCreate    = "create"
	PhaseRequire   = "require"
	PhaseApply     = "apply"
	PhasePostApply = "post apply"
	PhaseDestroy   = "destroy"
	PhaseActivate  = "project install"
)

// StatusOK is the status code of every successful phase
const StatusOK = 0

// Result is the success payload of a workflow phase
type Result struct {
	Phase   string `json:"phase"`
	Status  int    `json:"status"`
	StageID string `json:"stage_id,omitempty"`
}

// Failure is returned when a phase fails. Message is safe to show to users;
// Err keeps the full cause for logs.
type Failure struct {
	Phase   string `json:"phase,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (f *Failure) Error() string {
	if f.Phase == "" {
		return f.Message
	}
	return fmt.Sprintf("%s: %s", f.Phase, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// Locked is returned by Begin when a stage already exists. UnlockURL is
// empty when the lock must not be broken from here.
type Locked struct {
	Message   string `json:"message"`
	UnlockURL string `json:"unlock_url"`
}

func (l *Locked) Error() string { return l.Message }

// ValidationError lists the environment checks that blocked Begin
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 1 {
		return e.Messages[0]
	}
	msg := fmt.Sprintf("%d environment checks failed", len(e.Messages))
	for _, m := range e.Messages {
		msg += "; " + m
	}
	return msg
}

var errUnlockWhileApplying = errors.New("a stage can not be unlocked while applying")

func classify(err error) string {
	var (
		cmdErr  *command.Error
		valErr  *ValidationError
		lockErr *stage.LockedError
	)
	switch {
	case errors.As(err, &valErr):
		return "Environment check failed"
	case errors.As(err, &lockErr):
		return "Stage locked"
	case errors.Is(err, stage.ErrNotClaimable):
		return "Stage not claimable"
	case errors.Is(err, stage.ErrApplying), errors.Is(err, errUnlockWhileApplying):
		return "Stage is applying"
	case errors.Is(err, catalog.ErrProjectNotFound), errors.Is(err, catalog.ErrUnknownSource):
		return "Unknown project"
	case errors.Is(err, activation.ErrUnsupported):
		return "Activation unavailable"
	case errors.As(err, &cmdErr):
		return "Package manager error"
	default:
		return "Unexpected error"
	}
}

func newFailure(phase string, err error) *Failure {
	return &Failure{
		Phase:   phase,
		Message: fmt.Sprintf("%s: %s", classify(err), userMessage(err)),
		Err:     err,
	}
}

// userMessage drops wrapping context down to the innermost useful message
func userMessage(err error) string {
	var cmdErr *command.Error
	if errors.As(err, &cmdErr) {
		return cmdErr.Error()
	}
	return err.Error()
}

func asLocked(err error) (*stage.LockedError, bool) {
	var lockErr *stage.LockedError
	if errors.As(err, &lockErr) {
		return lockErr, true
	}
	return nil, false
}
