package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
)

// s3ClientKey identifies a shared client. The secret key is left out so that
// it never ends up in map keys or logs.
type s3ClientKey struct {
	endpoint  string
	accessKey string
	region    string
	ssl       bool
}

func (k s3ClientKey) String() string {
	scheme := "http"
	if k.ssl {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s@%s/%s", scheme, k.accessKey, k.endpoint, k.region)
}

type s3Client struct {
	client *MinIO
	secret [sha256.Size]byte
}

// S3ClientManager shares one MinIO client between all proxies whose S3 cache
// uses the same endpoint, access key and region.
type S3ClientManager struct {
	clients map[s3ClientKey]s3Client
	mutex   sync.RWMutex
}

func NewS3ClientManager() *S3ClientManager {
	return &S3ClientManager{
		clients: make(map[s3ClientKey]s3Client),
	}
}

func clientKey(cfg S3Config) s3ClientKey {
	return s3ClientKey{
		endpoint:  cfg.Endpoint,
		accessKey: cfg.AccessKey,
		region:    cfg.Region,
		ssl:       cfg.SSL,
	}
}

// lookup returns the cached client for cfg. stale is true when a client exists
// for the key but was built with a different secret.
func (scm *S3ClientManager) lookup(key s3ClientKey, secret [sha256.Size]byte) (client *MinIO, stale bool) {
	entry, exists := scm.clients[key]
	if !exists {
		return nil, false
	}
	if entry.secret != secret {
		return nil, true
	}
	return entry.client, false
}

// GetOrCreateClient returns the shared client for cfg, creating and health
// checking it on first use. A rotated secret replaces the cached client.
func (scm *S3ClientManager) GetOrCreateClient(ctx context.Context, cfg S3Config) (*MinIO, error) {
	key := clientKey(cfg)
	secret := sha256.Sum256([]byte(cfg.SecretKey))

	scm.mutex.RLock()
	client, _ := scm.lookup(key, secret)
	scm.mutex.RUnlock()
	if client != nil {
		return client, nil
	}

	scm.mutex.Lock()
	defer scm.mutex.Unlock()

	client, stale := scm.lookup(key, secret)
	if client != nil {
		return client, nil
	}
	if stale {
		slog.Info("S3 credentials changed, replacing client", "client", key.String())
		delete(scm.clients, key)
	}

	client, err := NewMinIOConnection(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.Region, cfg.SSL)
	if err != nil {
		return nil, fmt.Errorf("error creating MinIO client: %w", err)
	}
	if err := client.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("MinIO health check failed for %s: %w", key, err)
	}

	scm.clients[key] = s3Client{client: client, secret: secret}
	slog.Info("S3 cache client ready", "client", key.String())

	return client, nil
}

// Close forgets all clients. minio clients hold no connections of their own.
func (scm *S3ClientManager) Close() {
	scm.mutex.Lock()
	defer scm.mutex.Unlock()

	count := len(scm.clients)
	clear(scm.clients)
	slog.Info("S3 cache clients released", "count", count)
}

func (scm *S3ClientManager) GetActiveClientCount() int {
	scm.mutex.RLock()
	defer scm.mutex.RUnlock()
	return len(scm.clients)
}
