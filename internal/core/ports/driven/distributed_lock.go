package driven

import (
	"context"
	"time"
)

// DistributedLock guards work that must run on at most one instance at a
// time, such as the refresh sweep.
type DistributedLock interface {
	// Acquire tries to take the named lock for ttl without blocking.
	// acquired is false when another instance holds it.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release gives up the named lock. Releasing a lock that is not held,
	// or has already expired, is not an error.
	Release(ctx context.Context, name string) error

	// Extend pushes the expiry of a held lock out to ttl from now.
	// Backends without expiry treat this as a no-op.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks if the lock backend is healthy.
	Ping(ctx context.Context) error
}
