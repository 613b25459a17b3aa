// Package lease provides a Redis-backed lock with an expiring lease and a
// monotonic fencing token. Workers take a lease per task to keep duplicate
// deliveries from being processed twice, and maintenance sweeps take one so
// only a single worker sweeps at a time.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// leaseKey returns the Redis key holding the lease value for a resource.
func leaseKey(resource string) string {
	return "lease:" + resource
}

// epochKey returns the Redis key of the fencing counter for a resource. The
// counter only ever increases, so a token from an older acquisition is
// always smaller than the current holder's.
func epochKey(resource string) string {
	return "lease:" + resource + ":epoch"
}

// renewScript extends the lease TTL only when the caller still holds it.
const renewScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('PEXPIRE', KEYS[1], ARGV[2])
else
	return 0
end`

// releaseScript deletes the lease only when the caller still holds it.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
else
	return 0
end`

// Manager acquires, renews, and releases leases.
type Manager struct {
	rdb *redis.Client
}

// NewManager creates a lease manager on the given Redis client.
func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// Acquire attempts to take the lease on a resource for ttl. It returns the
// fencing token and true on success, or zero and false when another owner
// holds the lease. The stored value is "owner:token" so renew and release
// succeed only for the exact acquisition that took the lease.
func (m *Manager) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (int64, bool, error) {
	token, err := m.rdb.Incr(ctx, epochKey(resource)).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to advance fencing counter: %w", err)
	}

	ok, err := m.rdb.SetNX(ctx, leaseKey(resource), holderValue(owner, token), ttl).Result()
	if err != nil {
		return 0, false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		return 0, false, nil
	}
	return token, true, nil
}

// Renew extends the lease TTL, succeeding only while the caller still holds
// the lease taken with the given token.
func (m *Manager) Renew(ctx context.Context, resource, owner string, token int64, ttl time.Duration) (bool, error) {
	cmd := m.rdb.Eval(ctx, renewScript,
		[]string{leaseKey(resource)},
		holderValue(owner, token), ttl.Milliseconds())
	if err := cmd.Err(); err != nil {
		return false, fmt.Errorf("failed to renew lease: %w", err)
	}
	n, _ := cmd.Int()
	return n == 1, nil
}

// Release gives the lease up, succeeding only while the caller still holds
// the lease taken with the given token. Releasing an already-expired lease
// is not an error.
func (m *Manager) Release(ctx context.Context, resource, owner string, token int64) (bool, error) {
	cmd := m.rdb.Eval(ctx, releaseScript,
		[]string{leaseKey(resource)},
		holderValue(owner, token))
	if err := cmd.Err(); err != nil {
		return false, fmt.Errorf("failed to release lease: %w", err)
	}
	n, _ := cmd.Int()
	return n == 1, nil
}

func holderValue(owner string, token int64) string {
	return fmt.Sprintf("%s:%d", owner, token)
}
