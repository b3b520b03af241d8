package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ftp-http-proxy/binder"
	"ftp-http-proxy/component"
	"ftp-http-proxy/storage"
)

var (
	ErrRuntimeStarted    = errors.New("runtime already started")
	ErrRuntimeNotStarted = errors.New("runtime not started")
)

// Runtime binds the configured proxy entries into a component manager and
// owns it. Reload replaces the manager with one built from new entries.
type Runtime struct {
	S3ClientManager *storage.S3ClientManager

	factory binder.Factory

	mu      sync.Mutex
	ctx     context.Context
	manager *component.Manager
	entries []map[string]any
	started bool
}

// NewRuntime creates a runtime. A nil factory creates real proxies sharing the
// runtime's S3 clients.
func NewRuntime(factory binder.Factory) *Runtime {
	s3ClientManager := storage.NewS3ClientManager()
	if factory == nil {
		factory = binder.ProxyFactory(s3ClientManager)
	}
	return &Runtime{
		S3ClientManager: s3ClientManager,
		factory:         factory,
	}
}

func (r *Runtime) bind(entries []map[string]any) (*component.Manager, error) {
	manager := component.NewManager()
	if _, err := binder.New(manager, r.factory).BindAll(entries); err != nil {
		return nil, err
	}
	return manager, nil
}

// Start binds entries and starts every proxy. Nothing is left running if it
// fails.
func (r *Runtime) Start(ctx context.Context, entries []map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return ErrRuntimeStarted
	}

	manager, err := r.bind(entries)
	if err != nil {
		return err
	}
	if err := manager.Start(ctx); err != nil {
		return err
	}

	r.ctx = ctx
	r.manager = manager
	r.entries = entries
	r.started = true

	slog.Info("Runtime started - serving proxies", "proxies", len(entries))
	return nil
}

// Reload swaps in a manager built from entries. Entries that fail to bind are
// rejected and the running proxies are kept. If the new proxies fail to start,
// the previous entries are started again.
func (r *Runtime) Reload(entries []map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return ErrRuntimeNotStarted
	}

	next, err := r.bind(entries)
	if err != nil {
		slog.Error("Reload rejected - keeping current proxies", "error", err)
		return fmt.Errorf("reload rejected: %w", err)
	}

	// The old proxies must release their ports first.
	r.manager.Stop()

	if err := next.Start(r.ctx); err != nil {
		slog.Error("Reloaded proxies failed to start - restoring previous configuration", "error", err)
		previous, bindErr := r.bind(r.entries)
		if bindErr == nil {
			bindErr = previous.Start(r.ctx)
		}
		if bindErr != nil {
			r.manager = component.NewManager()
			return fmt.Errorf("reload failed: %w (restore failed: %v)", err, bindErr)
		}
		r.manager = previous
		return fmt.Errorf("reload failed, previous configuration restored: %w", err)
	}

	r.manager = next
	r.entries = entries
	slog.Info("Runtime reloaded", "proxies", len(entries))
	return nil
}

// Stop stops all proxies and releases the S3 clients.
func (r *Runtime) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.manager != nil {
		r.manager.Stop()
	}
	if r.S3ClientManager != nil {
		r.S3ClientManager.Close()
	}
	r.started = false
	slog.Info("Runtime stopped")
}

// Components returns the components of the current manager.
func (r *Runtime) Components() []component.Component {
	r.mu.Lock()
	manager := r.manager
	r.mu.Unlock()

	if manager == nil {
		return nil
	}
	return manager.Components()
}

// Failure returns the error a component of the current manager stopped with.
func (r *Runtime) Failure(id string) error {
	r.mu.Lock()
	manager := r.manager
	r.mu.Unlock()

	if manager == nil {
		return nil
	}
	return manager.Failure(id)
}
