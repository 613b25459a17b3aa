package lease

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TASKRELAY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TASKRELAY_TEST_REDIS_URL not set; skipping lease integration test")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	require.NoError(t, rdb.Ping(context.Background()).Err())
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func testResource(t *testing.T) string {
	t.Helper()
	return "test:" + uuid.New().String()[:8]
}

func TestAcquireContendRelease(t *testing.T) {
	rdb := testRedis(t)
	m := NewManager(rdb)
	ctx := context.Background()
	resource := testResource(t)

	token, ok, err := m.Acquire(ctx, resource, "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Positive(t, token)

	// A second owner cannot take the lease while it is held.
	_, ok, err = m.Acquire(ctx, resource, "w2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := m.Release(ctx, resource, "w1", token)
	require.NoError(t, err)
	assert.True(t, released)

	// After release the lease is free again.
	token2, ok, err := m.Acquire(ctx, resource, "w2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Greater(t, token2, token, "fencing tokens must be monotonic")
}

func TestRenewOnlyForHolder(t *testing.T) {
	rdb := testRedis(t)
	m := NewManager(rdb)
	ctx := context.Background()
	resource := testResource(t)

	token, ok, err := m.Acquire(ctx, resource, "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	renewed, err := m.Renew(ctx, resource, "w1", token, time.Minute)
	require.NoError(t, err)
	assert.True(t, renewed)

	// A stale token or a different owner cannot renew.
	renewed, err = m.Renew(ctx, resource, "w1", token-1, time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed)
	renewed, err = m.Renew(ctx, resource, "w2", token, time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed)

	_, err = m.Release(ctx, resource, "w1", token)
	require.NoError(t, err)
}

func TestReleaseWithStaleTokenIsNoop(t *testing.T) {
	rdb := testRedis(t)
	m := NewManager(rdb)
	ctx := context.Background()
	resource := testResource(t)

	token, ok, err := m.Acquire(ctx, resource, "w1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := m.Release(ctx, resource, "w1", token-1)
	require.NoError(t, err)
	assert.False(t, released, "a stale token must not release the current lease")

	// The real holder can still release.
	released, err = m.Release(ctx, resource, "w1", token)
	require.NoError(t, err)
	assert.True(t, released)

	// Releasing an already-released lease is not an error.
	released, err = m.Release(ctx, resource, "w1", token)
	require.NoError(t, err)
	assert.False(t, released)
}

func TestExpiredLeaseCanBeReacquired(t *testing.T) {
	rdb := testRedis(t)
	m := NewManager(rdb)
	ctx := context.Background()
	resource := testResource(t)

	token, ok, err := m.Acquire(ctx, resource, "w1", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok, err := m.Acquire(ctx, resource, "w2", time.Minute)
		return err == nil && ok
	}, 5*time.Second, 25*time.Millisecond)

	// The first holder's renew now fails, signalling the lost lease.
	renewed, err := m.Renew(ctx, resource, "w1", token, time.Minute)
	require.NoError(t, err)
	assert.False(t, renewed)
}
