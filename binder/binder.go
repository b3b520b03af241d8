// Package binder turns validated proxy entries into registered, configured
// component instances.
package binder

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"ftp-http-proxy/component"
	"ftp-http-proxy/proxy"
	"ftp-http-proxy/schema"
	"ftp-http-proxy/storage"
)

// Target is the instance being configured.
type Target interface {
	component.Component
	SetFTPServer(server string) error
	SetUsername(username string) error
	SetPassword(password string) error
	SetLocalPort(port uint16) error
	AddRemotePath(remotePath string) error
}

// Factory creates an unconfigured instance bound to id.
type Factory func(id string, opts proxy.Options) (Target, error)

// ProxyFactory creates real proxies. S3 caches share clients from s3Clients.
func ProxyFactory(s3Clients *storage.S3ClientManager) Factory {
	return func(id string, opts proxy.Options) (Target, error) {
		opts.S3Clients = s3Clients
		return proxy.New(id, opts)
	}
}

// Option configures a Binder.
type Option func(*Binder)

// WithIDGenerator replaces the UUID generator used for entries without an id.
func WithIDGenerator(fn func() string) Option {
	return func(b *Binder) {
		b.newID = fn
	}
}

// Binder binds validated entries onto new instances.
type Binder struct {
	registry    component.Registry
	newInstance Factory
	newID       func() string
}

func New(registry component.Registry, factory Factory, opts ...Option) *Binder {
	b := &Binder{
		registry:    registry,
		newInstance: factory,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OptionsFor maps the creation-time settings of cfg onto proxy options.
func OptionsFor(cfg *schema.Config) proxy.Options {
	return proxy.Options{
		Protocol:   cfg.Protocol,
		RemotePort: cfg.RemotePort,
		Timeout:    cfg.Timeout,
		Cache: storage.Config{
			Type: cfg.Cache.Type,
			Path: cfg.Cache.Path,
			S3: storage.S3Config{
				Endpoint:  cfg.Cache.Endpoint,
				AccessKey: cfg.Cache.AccessKey,
				SecretKey: cfg.Cache.SecretKey,
				SSL:       cfg.Cache.SSL,
				Region:    cfg.Cache.Region,
			},
			Bucket:   cfg.Cache.Bucket,
			Address:  cfg.Cache.Address,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			TTL:      cfg.Cache.TTL,
		},
	}
}

// Bind creates an instance, registers it and transfers cfg onto it. A
// registration error is returned unchanged. If a setter fails the instance is
// unregistered again.
func (b *Binder) Bind(cfg *schema.Config) (Target, error) {
	id := cfg.ID
	if id == "" {
		id = b.newID()
	}

	instance, err := b.newInstance(id, OptionsFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create instance %q: %w", id, err)
	}

	if err := b.registry.Register(instance); err != nil {
		return nil, err
	}

	if err := configure(instance, cfg); err != nil {
		b.registry.Unregister(id)
		return nil, fmt.Errorf("failed to configure instance %q: %w", id, err)
	}

	slog.Debug("Proxy entry bound", "config", cfg)
	return instance, nil
}

func configure(t Target, cfg *schema.Config) error {
	if err := t.SetFTPServer(cfg.Server); err != nil {
		return fmt.Errorf("set_ftp_server: %w", err)
	}
	if err := t.SetUsername(cfg.Username); err != nil {
		return fmt.Errorf("set_username: %w", err)
	}
	if err := t.SetPassword(cfg.Password); err != nil {
		return fmt.Errorf("set_password: %w", err)
	}
	if err := t.SetLocalPort(cfg.LocalPort); err != nil {
		return fmt.Errorf("set_local_port: %w", err)
	}
	for _, remotePath := range cfg.RemotePaths {
		if err := t.AddRemotePath(remotePath); err != nil {
			return fmt.Errorf("add_remote_path(%q): %w", remotePath, err)
		}
	}
	return nil
}

// BindAll validates every entry before binding any of them. If binding one
// fails, the instances bound so far are unregistered.
func (b *Binder) BindAll(entries []map[string]any) ([]Target, error) {
	configs := make([]*schema.Config, 0, len(entries))
	var errs []error
	for i, raw := range entries {
		cfg, err := schema.Validate(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("proxy entry %d: %w", i+1, err))
			continue
		}
		configs = append(configs, cfg)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	bound := make([]Target, 0, len(configs))
	for i, cfg := range configs {
		t, err := b.Bind(cfg)
		if err != nil {
			for _, done := range bound {
				b.registry.Unregister(done.ID())
			}
			return nil, fmt.Errorf("proxy entry %d: %w", i+1, err)
		}
		bound = append(bound, t)
	}
	return bound, nil
}
