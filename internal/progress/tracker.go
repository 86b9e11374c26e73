// Package progress tracks per-project install phases in durable storage.
package progress

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// Phase is the install phase recorded for a project
type Phase string

const (
	PhaseRequiring  Phase = "requiring"
	PhaseApplying   Phase = "applying"
	PhaseActivating Phase = "activating"
	PhaseInstalled  Phase = "installed"
)

// Collection is the key/value collection holding install state
const Collection = "project_browser.install_state"

// timestampKey cannot collide with project ids, which always contain a slash
const timestampKey = "__timestamp"

// Store is the storage the tracker needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	GetAll(ctx context.Context) (map[string][]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetIfNotExists(ctx context.Context, key string, value []byte) (bool, error)
	DeleteAll(ctx context.Context) error
}

// Tracker manages install phases for projects in the current attempt
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker creates a new progress tracker
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// SetState records phase for a project. The first call after DeleteAll also
// records the attempt's first-updated time.
func (t *Tracker) SetState(ctx context.Context, projectID string, phase Phase) error {
	stamp := []byte(strconv.FormatInt(t.now().Unix(), 10))
	if _, err := t.store.SetIfNotExists(ctx, timestampKey, stamp); err != nil {
		return fmt.Errorf("failed to record install timestamp: %w", err)
	}
	if err := t.store.Set(ctx, projectID, []byte(phase)); err != nil {
		return fmt.Errorf("failed to record install state for %s: %w", projectID, err)
	}
	return nil
}

// ToArray returns a snapshot of every tracked project and its phase
func (t *Tracker) ToArray(ctx context.Context) (map[string]Phase, error) {
	all, err := t.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read install state: %w", err)
	}

	result := make(map[string]Phase, len(all))
	for k, v := range all {
		if k == timestampKey {
			continue
		}
		result[k] = Phase(v)
	}
	return result, nil
}

// FirstUpdatedTime returns when the current attempt was first updated.
// ok is false when nothing has been recorded since the last DeleteAll.
func (t *Tracker) FirstUpdatedTime(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := t.store.Get(ctx, timestampKey)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read install timestamp: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	secs, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt install timestamp %q: %w", raw, err)
	}
	return time.Unix(secs, 0), true, nil
}

// DeleteAll clears every state and the timestamp
func (t *Tracker) DeleteAll(ctx context.Context) error {
	if err := t.store.DeleteAll(ctx); err != nil {
		return fmt.Errorf("failed to clear install state: %w", err)
	}
	return nil
}

// FormatAge formats a lock age for display
func FormatAge(d time.Duration) string {
	if d < time.Minute {
		return "less than 1 minute"
	}

	minutes := int(d.Minutes())
	hours := minutes / 60
	remainingMinutes := minutes % 60

	if hours == 0 {
		return plural(minutes, "minute")
	}
	return plural(hours, "hour") + ", " + plural(remainingMinutes, "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
