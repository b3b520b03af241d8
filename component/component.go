// Package component is the host side of the component lifecycle: instances are
// registered with a Manager, which owns them from then on, sets them up in
// registration order and runs them until stopped.
package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Component is a unit owned by the host runtime.
type Component interface {
	ID() string
	// Setup prepares the component. It is called once, in registration order.
	Setup(ctx context.Context) error
	// Run blocks until ctx is cancelled or the component fails.
	Run(ctx context.Context) error
}

// Registry accepts components for the host to own.
type Registry interface {
	Register(c Component) error
	Unregister(id string)
}

var (
	ErrDuplicateID    = errors.New("duplicate component id")
	ErrEmptyID        = errors.New("empty component id")
	ErrManagerStarted = errors.New("manager already started")
)

// RegistrationError is returned when the host refuses a component.
type RegistrationError struct {
	ID  string
	Err error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("failed to register component %q: %v", e.ID, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// Manager is the host lifecycle manager.
type Manager struct {
	mu         sync.Mutex
	components []Component
	started    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	failures   map[string]error
}

func NewManager() *Manager {
	return &Manager{failures: make(map[string]error)}
}

func (m *Manager) Register(c Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := c.ID()
	if id == "" {
		return &RegistrationError{ID: id, Err: ErrEmptyID}
	}
	if m.started {
		return &RegistrationError{ID: id, Err: ErrManagerStarted}
	}
	for _, existing := range m.components {
		if existing.ID() == id {
			return &RegistrationError{ID: id, Err: ErrDuplicateID}
		}
	}

	m.components = append(m.components, c)
	slog.Debug("Component registered", "id", id)
	return nil
}

// Unregister removes a component that has not been started. Unknown ids are ignored.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	for i, c := range m.components {
		if c.ID() == id {
			m.components = append(m.components[:i], m.components[i+1:]...)
			slog.Debug("Component unregistered", "id", id)
			return
		}
	}
}

// Components returns the registered components in registration order.
func (m *Manager) Components() []Component {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Component, len(m.components))
	copy(out, m.components)
	return out
}

// Failure returns the error a component's Run returned, if any.
func (m *Manager) Failure(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[id]
}

// Start sets up every component in registration order and then runs them.
// If a Setup fails, the components already running are stopped and the error
// is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerStarted
	}
	m.started = true
	components := make([]Component, len(m.components))
	copy(components, m.components)
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	for _, c := range components {
		if err := c.Setup(runCtx); err != nil {
			m.Stop()
			return fmt.Errorf("setup of component %q failed: %w", c.ID(), err)
		}
		m.wg.Add(1)
		go m.run(runCtx, c)
	}

	slog.Info("Components started", "count", len(components))
	return nil
}

func (m *Manager) run(ctx context.Context, c Component) {
	defer m.wg.Done()

	err := c.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Component stopped with error", "id", c.ID(), "error", err)
		m.mu.Lock()
		m.failures[c.ID()] = err
		m.mu.Unlock()
	}
}

// Stop cancels all running components and waits for them to return.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	slog.Info("Components stopped")
}
