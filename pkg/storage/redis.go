package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix prefixes every snapshot key.
const KeyPrefix = "chronocast:snapshot:"

// DefaultRedisTTL applies when RedisConfig.TTL is zero.
const DefaultRedisTTL = 30 * time.Minute

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisStore keeps one hash per snapshot name, so several forecaster
// instances serve the same results:
//
//	chronocast:snapshot:{name}  generated_at  unix milliseconds
//	                            data          snapshot JSON
//
// The hash expires TTL after the last accepted Put.
type RedisStore struct {
	client    *redis.Client
	ttl       time.Duration
	closeOnce sync.Once
	closeErr  error
}

// putScript writes the snapshot only when it is at least as new as the
// stored one. It returns 1 when written.
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'generated_at')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'generated_at', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if cfg.DB < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultRedisTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

func snapshotKey(name string) string { return KeyPrefix + name }

// Put stores s unless a newer snapshot is already held under its name.
func (r *RedisStore) Put(ctx context.Context, s Snapshot) error {
	if err := checkName(s.Name); err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	err = putScript.Run(ctx, r.client, []string{snapshotKey(s.Name)},
		s.GeneratedAt.UnixMilli(), data, r.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("store snapshot %s: %w", s.Name, err)
	}
	return nil
}

// GetLatest returns the snapshot stored under name. A missing or expired key
// is not an error; found is false.
func (r *RedisStore) GetLatest(ctx context.Context, name string) (Snapshot, bool, error) {
	if err := checkName(name); err != nil {
		return Snapshot{}, false, err
	}

	data, err := r.client.HGet(ctx, snapshotKey(name), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot %s: %w", name, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot %s: %w", name, err)
	}
	return snap, true, nil
}

// Ping checks the connection; the router uses it for /healthz.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client. Later calls return the first result.
func (r *RedisStore) Close() error {
	r.closeOnce.Do(func() { r.closeErr = r.client.Close() })
	return r.closeErr
}
