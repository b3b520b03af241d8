// Package storage holds the local cache of files fetched from the remote server.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotExist is returned by Open when the cache has no entry for a name.
var ErrNotExist = errors.New("cache entry does not exist")

// Store caches files by their request name (slash separated, no leading slash).
type Store interface {
	// Open returns the cached content and its size, or ErrNotExist.
	Open(ctx context.Context, name string) (io.ReadCloser, int64, error)
	Put(ctx context.Context, name string, r io.Reader) error
	// Delete removes an entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, name string) error
}

// S3Config identifies an S3 endpoint and its credentials.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	SSL       bool
	Region    string
}

// Config selects and configures a Store backend.
type Config struct {
	Type string

	// filesystem
	Path string

	// s3
	S3     S3Config
	Bucket string

	// redis
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

// New builds the store described by cfg. S3 clients are taken from clients so
// that proxies pointing at the same endpoint share one client.
func New(ctx context.Context, cfg Config, clients *S3ClientManager) (Store, error) {
	switch cfg.Type {
	case "", "filesystem":
		return NewFilesystem(cfg.Path)
	case "s3":
		if clients == nil {
			return nil, fmt.Errorf("s3 cache requires a client manager")
		}
		client, err := clients.GetOrCreateClient(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to get S3 client: %w", err)
		}
		return NewS3(ctx, client, cfg.Bucket)
	case "redis":
		return NewRedis(ctx, cfg.Address, cfg.Password, cfg.DB, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown cache type: %s", cfg.Type)
	}
}
