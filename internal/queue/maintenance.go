package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/taskrelay/internal/domain"
)

// MoveDueDelayed moves records whose retry time has passed from the delayed
// set to the ready list, at most limit at a time, and returns how many were
// moved. The removal and re-insertion run in one transaction so a record is
// never in both places and never in neither.
func MoveDueDelayed(ctx context.Context, rdb *redis.Client, queue string, limit int) (int, error) {
	now := time.Now().Unix()
	items, err := rdb.ZRangeByScore(ctx, DelayedKey(queue), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(now, 10),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to query due delayed tasks: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	pipe := rdb.TxPipeline()
	for _, m := range items {
		pipe.ZRem(ctx, DelayedKey(queue), m)
		pipe.RPush(ctx, ReadyKey(queue), m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to move due delayed tasks: %w", err)
	}
	return len(items), nil
}

// RequeueOrphans scans the processing lists of the named queue and moves
// every record owned by a worker without a live heartbeat back to the ready
// list. Returns the number of requeued records. Redelivery after a worker
// crash is where at-least-once comes from.
func RequeueOrphans(ctx context.Context, rdb *redis.Client, queue string) (int, error) {
	prefix := processingPrefix(queue)
	requeued := 0

	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, prefix+"*", 64).Result()
		if err != nil {
			return requeued, fmt.Errorf("failed to scan processing lists: %w", err)
		}

		for _, key := range keys {
			workerID := strings.TrimPrefix(key, prefix)
			alive, err := rdb.Exists(ctx, HeartbeatKey(workerID)).Result()
			if err != nil {
				return requeued, fmt.Errorf("failed to check worker heartbeat: %w", err)
			}
			if alive > 0 {
				continue
			}

			// Drain the orphaned list one record at a time; LMove is atomic
			// so a crash mid-drain loses nothing.
			for {
				err := rdb.LMove(ctx, key, ReadyKey(queue), "LEFT", "RIGHT").Err()
				if errors.Is(err, redis.Nil) {
					break
				}
				if err != nil {
					return requeued, fmt.Errorf("failed to requeue orphaned task: %w", err)
				}
				requeued++
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return requeued, nil
}

// Depths is a point-in-time census of a named queue.
type Depths struct {
	Ready      int64 `json:"ready"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Dead       int64 `json:"dead"`
}

// Depth reports how many records sit in each part of the named queue.
func Depth(ctx context.Context, rdb *redis.Client, queue string) (Depths, error) {
	var d Depths
	var err error

	if d.Ready, err = rdb.LLen(ctx, ReadyKey(queue)).Result(); err != nil {
		return d, fmt.Errorf("failed to read ready depth: %w", err)
	}
	if d.Delayed, err = rdb.ZCard(ctx, DelayedKey(queue)).Result(); err != nil {
		return d, fmt.Errorf("failed to read delayed depth: %w", err)
	}
	if d.Dead, err = rdb.LLen(ctx, DeadKey(queue)).Result(); err != nil {
		return d, fmt.Errorf("failed to read dead depth: %w", err)
	}

	prefix := processingPrefix(queue)
	var cursor uint64
	for {
		keys, next, err := rdb.Scan(ctx, cursor, prefix+"*", 64).Result()
		if err != nil {
			return d, fmt.Errorf("failed to scan processing lists: %w", err)
		}
		for _, key := range keys {
			n, err := rdb.LLen(ctx, key).Result()
			if err != nil {
				return d, fmt.Errorf("failed to read processing depth: %w", err)
			}
			d.Processing += n
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return d, nil
}

// ListDead returns up to n raw payloads from the head of the dead list
// without removing them.
func ListDead(ctx context.Context, rdb *redis.Client, queue string, n int64) ([]string, error) {
	items, err := rdb.LRange(ctx, DeadKey(queue), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead tasks: %w", err)
	}
	return items, nil
}

// ReplayDead moves up to count records from the dead list back to the ready
// list with a fresh attempt budget, and returns how many were replayed.
// Payloads that no longer decode are pushed back to the tail of the dead
// list and skipped.
func ReplayDead(ctx context.Context, rdb *redis.Client, queue string, count int) (int, error) {
	replayed := 0
	for i := 0; i < count; i++ {
		raw, err := rdb.LPop(ctx, DeadKey(queue)).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return replayed, fmt.Errorf("failed to pop dead task: %w", err)
		}

		var t domain.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			if err := rdb.RPush(ctx, DeadKey(queue), raw).Err(); err != nil {
				return replayed, fmt.Errorf("failed to return malformed payload to dead list: %w", err)
			}
			continue
		}

		t.Status = domain.TaskStatusPending
		t.Attempt = 0
		payload, err := json.Marshal(&t)
		if err != nil {
			return replayed, fmt.Errorf("failed to marshal replayed task %s: %w", t.ID, err)
		}
		if err := rdb.RPush(ctx, ReadyKey(queue), payload).Err(); err != nil {
			return replayed, fmt.Errorf("failed to replay dead task %s: %w", t.ID, err)
		}
		replayed++
	}
	return replayed, nil
}
