// Package queue implements the durable named task queue on Redis.
//
// Records rest in a ready list until a consumer moves them into its own
// processing list (at-least-once delivery: nothing is removed before an
// acknowledgment). Failed records wait in a delayed sorted set between
// redelivery attempts and end up in a dead list once their attempt budget is
// exhausted.
package queue

// ReadyKey returns the Redis key of the list holding records awaiting
// delivery for the named queue.
func ReadyKey(queue string) string {
	return "queue:" + queue + ":ready"
}

// ProcessingKey returns the Redis key of the per-worker list holding records
// that have been delivered but not yet acknowledged.
func ProcessingKey(queue, workerID string) string {
	return "queue:" + queue + ":processing:" + workerID
}

// processingPrefix is the common prefix of all processing lists for a queue,
// used when scanning for orphans.
func processingPrefix(queue string) string {
	return "queue:" + queue + ":processing:"
}

// DelayedKey returns the Redis key of the sorted set holding records waiting
// out a retry backoff. The score is the redelivery unix time.
func DelayedKey(queue string) string {
	return "queue:" + queue + ":delayed"
}

// DeadKey returns the Redis key of the dead-letter list for the named queue.
func DeadKey(queue string) string {
	return "queue:" + queue + ":dead"
}

// HeartbeatKey returns the Redis key of a worker's liveness marker. The key
// carries a TTL; a missing key means the worker is gone and its processing
// list may be requeued.
func HeartbeatKey(workerID string) string {
	return "worker:" + workerID + ":heartbeat"
}
