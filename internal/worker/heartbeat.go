package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/taskrelay/internal/queue"
)

// SetHeartbeat writes the worker's liveness key with the given TTL. A worker
// must set it before moving any record into its processing list; until the
// key exists the orphan sweep treats that list as belonging to a dead worker
// and requeues it.
func SetHeartbeat(ctx context.Context, rdb *redis.Client, workerID string, ttl time.Duration) error {
	if err := rdb.Set(ctx, queue.HeartbeatKey(workerID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to set worker heartbeat: %w", err)
	}
	return nil
}

// StartHeartbeat refreshes the worker's liveness key until the context is
// cancelled. The key's TTL outliving the refresh interval is what lets the
// orphan sweep distinguish a crashed worker from a busy one.
func StartHeartbeat(ctx context.Context, rdb *redis.Client, workerID string, ttl, interval time.Duration, logger *slog.Logger) {
	key := queue.HeartbeatKey(workerID)

	if err := SetHeartbeat(ctx, rdb, workerID, ttl); err != nil {
		logger.Error("failed to set worker heartbeat", "worker_id", workerID, "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Drop the key on clean shutdown so orphan requeue of our
			// processing list does not wait out the TTL.
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = rdb.Del(cleanupCtx, key).Err()
			cancel()
			return
		case <-ticker.C:
			if err := SetHeartbeat(ctx, rdb, workerID, ttl); err != nil {
				logger.Error("failed to refresh worker heartbeat", "worker_id", workerID, "error", err)
			}
		}
	}
}
