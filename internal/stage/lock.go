// Package stage holds the single site-wide package manager transaction.
//
// A stage is a copy of the site's composer manifests in which packages are
// required before being applied to the live site. Its row in stage_lock is
// the lock: at most one stage exists at a time.
package stage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotClaimable is returned when a stage id does not name the current, owned stage
	ErrNotClaimable = errors.New("stage cannot be claimed")
	// ErrApplying is returned when an operation would interrupt an apply
	ErrApplying = errors.New("stage is applying changes")
)

// Lock describes the current stage. Mine reports whether this process's
// owner marker created it.
type Lock struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	Applying  bool      `json:"applying"`
	Mine      bool      `json:"mine"`
}

// LockedError is returned by Create when a stage already exists
type LockedError struct {
	Lock *Lock
}

func (e *LockedError) Error() string {
	owner := "another process"
	if e.Lock.Mine {
		owner = "this site"
	}
	return fmt.Sprintf("stage %s already exists, created by %s at %s", e.Lock.ID, owner, e.Lock.CreatedAt.Format(time.RFC3339))
}

func (m *Manager) current(ctx context.Context) (*Lock, error) {
	var (
		l        Lock
		applying int
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT stage_id, owner, applying, created_at FROM stage_lock WHERE id = 1`).
		Scan(&l.ID, &l.Owner, &applying, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read stage lock: %w", err)
	}
	l.Applying = applying != 0
	l.Mine = l.Owner == m.owner
	return &l, nil
}

// Current returns the existing stage lock, or nil when the stage is available
func (m *Manager) Current(ctx context.Context) (*Lock, error) {
	return m.current(ctx)
}

// IsAvailable reports whether no stage exists
func (m *Manager) IsAvailable(ctx context.Context) (bool, error) {
	l, err := m.current(ctx)
	if err != nil {
		return false, err
	}
	return l == nil, nil
}

// IsApplying reports whether the current stage is applying changes
func (m *Manager) IsApplying(ctx context.Context) (bool, error) {
	l, err := m.current(ctx)
	if err != nil {
		return false, err
	}
	return l != nil && l.Applying, nil
}

func (m *Manager) acquire(ctx context.Context, id string) (bool, error) {
	res, err := m.db.ExecContext(ctx,
		`INSERT INTO stage_lock (id, stage_id, owner, applying, created_at) VALUES (1, ?, ?, 0, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, m.owner, m.now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to acquire stage lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check stage lock: %w", err)
	}
	return n == 1, nil
}

func (m *Manager) setApplying(ctx context.Context, id string, applying bool) error {
	flag := 0
	if applying {
		flag = 1
	}
	res, err := m.db.ExecContext(ctx,
		`UPDATE stage_lock SET applying = ? WHERE id = 1 AND stage_id = ?`, flag, id)
	if err != nil {
		return fmt.Errorf("failed to update stage lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotClaimable, id)
	}
	return nil
}

func (m *Manager) release(ctx context.Context, id string) error {
	if _, err := m.db.ExecContext(ctx,
		`DELETE FROM stage_lock WHERE id = 1 AND stage_id = ?`, id); err != nil {
		return fmt.Errorf("failed to release stage lock: %w", err)
	}
	return nil
}
