package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

// DefaultKeyPrefix namespaces lock keys in a shared Redis.
const DefaultKeyPrefix = "commerce:lock:"

// Lock implements DistributedLock with SET NX PX. Every instance carries a
// random owner token, and release/extend only touch keys holding that token.
type Lock struct {
	client  redis.UniversalClient
	prefix  string
	ownerID string
}

// LockOption configures a Lock.
type LockOption func(*Lock)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) LockOption {
	return func(l *Lock) { l.prefix = prefix }
}

// WithOwnerID fixes the owner token, mainly for tests.
func WithOwnerID(id string) LockOption {
	return func(l *Lock) { l.ownerID = id }
}

// NewLock creates a Redis-backed distributed lock. client may be a single
// node, sentinel or cluster client.
func NewLock(client redis.UniversalClient, opts ...LockOption) *Lock {
	l := &Lock{
		client: client,
		prefix: DefaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ownerID == "" {
		l.ownerID = generateOwnerID()
	}
	return l
}

// generateOwnerID returns hostname:pid:random.
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	randomBytes := make([]byte, 8)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(randomBytes))
}

func (l *Lock) key(name string) string {
	return l.prefix + name
}

// Acquire takes the lock if nobody holds it. The lock is not reentrant: a
// second Acquire by the same instance returns false.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(name), l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Release deletes the key only if this instance still owns it.
func (l *Lock) Release(ctx context.Context, name string) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, l.ownerID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// Extend resets the TTL of a lock owned by this instance.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key(name)}, l.ownerID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s not held by this instance", name)
	}
	return nil
}

// Holder returns the owner token currently stored for name, or "" when the
// lock is free.
func (l *Lock) Holder(ctx context.Context, name string) (string, error) {
	owner, err := l.client.Get(ctx, l.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lock %s: %w", name, err)
	}
	return owner, nil
}

// Ping checks if the Redis backend is healthy.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// OwnerID returns the token identifying this instance.
func (l *Lock) OwnerID() string {
	return l.ownerID
}
