package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "ftp_http_proxy:"
	// MaxRedisEntrySize bounds the files kept in Redis; they are held in memory while cached.
	MaxRedisEntrySize = 32 << 20
)

var ErrEntryTooLarge = errors.New("file too large for redis cache")

// Redis caches small files as string values with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address must not be empty")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Redis{client: rdb, ttl: ttl}, nil
}

func (r *Redis) key(name string) string {
	return redisKeyPrefix + name
}

func (r *Redis) Open(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if err == redis.Nil {
		return nil, 0, ErrNotExist
	}
	if err != nil {
		return nil, 0, fmt.Errorf("redis get failed: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (r *Redis) Put(ctx context.Context, name string, src io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(src, MaxRedisEntrySize+1))
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) > MaxRedisEntrySize {
		return ErrEntryTooLarge
	}
	if err := r.client.Set(ctx, r.key(name), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, r.key(name)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
