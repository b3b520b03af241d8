package storage

import (
	"context"
	"crypto/sha256"
	"strings"
	"sync"
	"testing"
)

func testS3Config() S3Config {
	return S3Config{
		Endpoint:  "s3.amazonaws.com",
		AccessKey: "key1",
		SecretKey: "secret1",
		SSL:       true,
		Region:    "us-east-1",
	}
}

func TestNewS3ClientManager(t *testing.T) {
	manager := NewS3ClientManager()

	if manager == nil {
		t.Fatal("NewS3ClientManager() should not return nil")
	}
	if manager.GetActiveClientCount() != 0 {
		t.Error("active client count should be 0 initially")
	}
}

func TestClientKey(t *testing.T) {
	base := testS3Config()

	tests := []struct {
		name         string
		modify       func(c *S3Config)
		shouldBeSame bool
	}{
		{"identical configs", func(c *S3Config) {}, true},
		{"different secret key", func(c *S3Config) { c.SecretKey = "secret2" }, true},
		{"different endpoint", func(c *S3Config) { c.Endpoint = "localhost:9000" }, false},
		{"different access key", func(c *S3Config) { c.AccessKey = "key2" }, false},
		{"different SSL", func(c *S3Config) { c.SSL = false }, false},
		{"different region", func(c *S3Config) { c.Region = "eu-central-1" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.modify(&other)

			same := clientKey(base) == clientKey(other)
			if same != tt.shouldBeSame {
				t.Errorf("keys equal = %v, want %v", same, tt.shouldBeSame)
			}
		})
	}
}

func TestClientKey_StringOmitsSecret(t *testing.T) {
	key := clientKey(testS3Config())

	if got, want := key.String(), "https://key1@s3.amazonaws.com/us-east-1"; got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
	if strings.Contains(key.String(), "secret1") {
		t.Error("String() must not contain the secret key")
	}
}

func TestS3ClientManager_ReusesClient(t *testing.T) {
	manager := NewS3ClientManager()
	cfg := testS3Config()
	cached := &MinIO{}
	manager.clients[clientKey(cfg)] = s3Client{client: cached, secret: sha256.Sum256([]byte(cfg.SecretKey))}

	client, err := manager.GetOrCreateClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GetOrCreateClient() error = %v", err)
	}
	if client != cached {
		t.Error("expected the cached client to be reused")
	}
}

func TestS3ClientManager_ReplacesClientOnSecretChange(t *testing.T) {
	manager := NewS3ClientManager()
	cfg := testS3Config()
	// An empty endpoint makes the replacement fail without touching the network
	cfg.Endpoint = ""
	manager.clients[clientKey(cfg)] = s3Client{client: &MinIO{}, secret: sha256.Sum256([]byte("old-secret"))}

	client, err := manager.GetOrCreateClient(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error creating the replacement client")
	}
	if client != nil {
		t.Error("the client built with the old secret must not be returned")
	}
	if manager.GetActiveClientCount() != 0 {
		t.Errorf("active clients = %d, want 0 after dropping the stale client", manager.GetActiveClientCount())
	}
}

func TestS3ClientManager_GetOrCreateClient_InvalidConfig(t *testing.T) {
	manager := NewS3ClientManager()

	cfg := testS3Config()
	cfg.Endpoint = ""

	client, err := manager.GetOrCreateClient(context.Background(), cfg)
	if err == nil {
		t.Error("expected error for empty endpoint")
	}
	if client != nil {
		t.Error("client should be nil when an error occurs")
	}
	if manager.GetActiveClientCount() != 0 {
		t.Error("failed client creation should not be cached")
	}
}

func TestS3ClientManager_Close(t *testing.T) {
	manager := NewS3ClientManager()
	manager.clients[clientKey(testS3Config())] = s3Client{client: &MinIO{}}

	manager.Close()

	if manager.GetActiveClientCount() != 0 {
		t.Error("should have 0 active clients after Close()")
	}
}

func TestS3ClientManager_ConcurrentAccess(t *testing.T) {
	manager := NewS3ClientManager()
	cfg := testS3Config()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if clientKey(cfg).String() == "" {
					t.Error("empty key generated")
					return
				}
				_ = manager.GetActiveClientCount()
			}
		}()
	}
	wg.Wait()
}
