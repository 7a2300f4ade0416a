package alerting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Digest fingerprints the items of a payload, ignoring its timestamp. Two
// evaluation passes over unchanged data produce the same digest.
func Digest(payload Payload) string {
	data, err := json.Marshal(payload.Items)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Deduper remembers the digest of the last delivered batch so an unchanged
// notifiable set is not re-sent on every pass.
type Deduper interface {
	Changed(ctx context.Context, digest string) (bool, error)
	Commit(ctx context.Context, digest string) error
}

// MemoryDeduper keeps the last digest in process memory.
type MemoryDeduper struct {
	mu   sync.Mutex
	last string
}

// NewMemoryDeduper returns an empty in-memory deduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{}
}

// Changed reports whether digest differs from the last committed one.
func (d *MemoryDeduper) Changed(_ context.Context, digest string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last != digest, nil
}

// Commit records digest as delivered.
func (d *MemoryDeduper) Commit(_ context.Context, digest string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = digest
	return nil
}

// RedisOptions configure the Redis-backed deduper.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// RedisDeduper persists the last digest so restarts do not re-send.
type RedisDeduper struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisDeduper connects and pings Redis.
func NewRedisDeduper(ctx context.Context, opts RedisOptions) (*RedisDeduper, error) {
	client := redis.NewClient(&redis.Options{
		Addr:       opts.Addr,
		Password:   opts.Password,
		DB:         opts.DB,
		MaxRetries: 3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return newRedisDeduper(client, opts), nil
}

func newRedisDeduper(client *redis.Client, opts RedisOptions) *RedisDeduper {
	key := opts.Key
	if key == "" {
		key = "kpiwatch:notify:last_digest"
	}
	return &RedisDeduper{client: client, key: key, ttl: opts.TTL}
}

// Changed compares digest with the stored one; a missing key counts as changed.
func (d *RedisDeduper) Changed(ctx context.Context, digest string) (bool, error) {
	last, err := d.client.Get(ctx, d.key).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get digest: %w", err)
	}
	return last != digest, nil
}

// Commit stores digest with the configured TTL (0 keeps it forever).
func (d *RedisDeduper) Commit(ctx context.Context, digest string) error {
	if err := d.client.Set(ctx, d.key, digest, d.ttl).Err(); err != nil {
		return fmt.Errorf("redis set digest: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

var (
	_ Deduper = (*MemoryDeduper)(nil)
	_ Deduper = (*RedisDeduper)(nil)
)
