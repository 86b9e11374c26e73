// Package activation turns installed packages into enabled site features.
package activation

import (
	"context"
	"errors"
	"fmt"

	"projectbrowser/internal/catalog"
)

// ErrUnsupported is returned when no activator handles a project
var ErrUnsupported = errors.New("no activator supports this project")

// Response is what an activator reports back after enabling a project
type Response struct {
	Status   int    `json:"status"`
	Message  string `json:"message,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

// Activator enables one kind of project
type Activator interface {
	Supports(p catalog.Project) bool
	Status(ctx context.Context, p catalog.Project) (catalog.ActivationStatus, error)
	Instructions(ctx context.Context, p catalog.Project) (*catalog.Instructions, error)
	// Activate may return a nil response when there is nothing to report.
	Activate(ctx context.Context, p catalog.Project) (*Response, error)
}

// Manager dispatches to the first activator that supports a project
type Manager struct {
	activators []Activator
}

// NewManager creates a Manager trying activators in order
func NewManager(activators ...Activator) *Manager {
	return &Manager{activators: activators}
}

func (m *Manager) activatorFor(p catalog.Project) (Activator, error) {
	for _, a := range m.activators {
		if a.Supports(p) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupported, p.ID, p.Type)
}

// Status implements catalog.StatusProvider
func (m *Manager) Status(ctx context.Context, p catalog.Project) (catalog.ActivationStatus, error) {
	a, err := m.activatorFor(p)
	if err != nil {
		return "", err
	}
	return a.Status(ctx, p)
}

// Instructions implements catalog.StatusProvider
func (m *Manager) Instructions(ctx context.Context, p catalog.Project) (*catalog.Instructions, error) {
	if !p.IsCompatible {
		if p.URL == "" {
			return nil, nil
		}
		return &catalog.Instructions{URL: p.URL}, nil
	}
	a, err := m.activatorFor(p)
	if err != nil {
		return nil, err
	}
	return a.Instructions(ctx, p)
}

// Activate enables p with the matching activator
func (m *Manager) Activate(ctx context.Context, p catalog.Project) (*Response, error) {
	a, err := m.activatorFor(p)
	if err != nil {
		return nil, err
	}
	return a.Activate(ctx, p)
}
