package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/taskrelay/internal/domain"
)

// testRedis connects to the broker named by TASKRELAY_TEST_REDIS_URL, or
// skips the test when the variable is unset so the suite runs without
// external dependencies.
func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TASKRELAY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TASKRELAY_TEST_REDIS_URL not set; skipping broker integration test")
	}
	rdb, err := Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

// testQueueName returns a unique queue name so parallel test runs never see
// each other's records.
func testQueueName(t *testing.T) string {
	t.Helper()
	return "test-" + uuid.New().String()[:8]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestConsumer(rdb *redis.Client, queueName, workerID string, maxAttempts int) *Consumer {
	return NewConsumer(rdb, ConsumerConfig{
		Queue:              queueName,
		WorkerID:           workerID,
		BlockTimeout:       time.Second,
		DefaultMaxAttempts: maxAttempts,
		RetryBaseDelay:     time.Millisecond,
		RetryMaxDelay:      time.Second,
	}, testLogger())
}

func mustNewTask(t *testing.T, prompt string, taskType domain.TaskType) *domain.Task {
	t.Helper()
	task, err := domain.NewTask(prompt, taskType, 0)
	require.NoError(t, err)
	return task
}

// A published record is delivered exactly once and the queue drains to zero
// after the ack.
func TestPublishConsumeAck(t *testing.T) {
	rdb := testRedis(t)
	queueName := testQueueName(t)
	ctx := context.Background()

	task := mustNewTask(t, "add two numbers", domain.TaskTypeCode)
	require.NoError(t, NewPublisher(rdb, queueName, testLogger()).Publish(ctx, task))

	consumer := newTestConsumer(rdb, queueName, "w1", 3)

	d, err := consumer.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, d.Task.ID)
	assert.Equal(t, task.Prompt, d.Task.Prompt)
	assert.Equal(t, task.Type, d.Task.Type)

	// In flight: out of ready, held in processing.
	depths, err := Depth(ctx, rdb, queueName)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depths.Ready)
	assert.Equal(t, int64(1), depths.Processing)

	require.NoError(t, consumer.Ack(ctx, d))

	depths, err = Depth(ctx, rdb, queueName)
	require.NoError(t, err)
	assert.Equal(t, Depths{}, depths, "queue should drain to zero after ack")
}

// A record published before any worker exists is still delivered once a
// worker connects.
func TestDeliveryAfterLateConsumerStart(t *testing.T) {
	rdb := testRedis(t)
	queueName := testQueueName(t)
	ctx := context.Background()

	task := mustNewTask(t, "published before any worker", domain.TaskTypeGeneral)
	require.NoError(t, NewPublisher(rdb, queueName, testLogger()).Publish(ctx, task))

	// The consumer is created only after the record is already enqueued.
	consumer := newTestConsumer(rdb, queueName, "late-worker", 3)
	d, err := consumer.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, d.Task.ID)
	require.NoError(t, consumer.Ack(ctx, d))
}

// With a delivery budget of one, a failing record is dead-lettered and never
// redelivered.
func TestNackExhaustedGoesDead(t *testing.T) {
	rdb := testRedis(t)
	queueName := testQueueName(t)
	ctx := context.Background()

	task := mustNewTask(t, "always fails", domain.TaskTypeFix)
	task.MaxAttempts = 1
	require.NoError(t, NewPublisher(rdb, queueName, testLogger()).Publish(ctx, task))

	consumer := newTestConsumer(rdb, queueName, "w1", 3)
	d, err := consumer.Next(ctx)
	require.NoError(t, err)

	disp, err := consumer.Nack(ctx, d, assert.AnError)
	require.NoError(t, err)
	assert.Equal(t, DispositionDeadLettered, disp)

	depths, err := Depth(ctx, rdb, queueName)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depths.Ready)
	assert.Equal(t, int64(0), depths.Processing)
	assert.Equal(t, int64(0), depths.Delayed)
	assert.Equal(t, int64(1), depths.Dead)

	// The dead copy carries the final status and attempt count.
	raws, err := ListDead(ctx, rdb, queueName, 10)
	require.NoError(t, err)
	require.Len(t, raws, 1)
	var deadTask domain.Task
	require.NoError(t, json.Unmarshal([]byte(raws[0]), &deadTask))
	assert.Equal(t, task.ID, deadTask.ID)
	assert.Equal(t, domain.TaskStatusDead, deadTask.Status)
	assert.Equal(t, 1, deadTask.Attempt)
}

// With budget remaining, a nacked record waits in the delayed set and is
// redelivered after the sweep promotes it.
func TestNackRetriesThroughDelayed(t *testing.T) {
	rdb := testRedis(t)
	queueName := testQueueName(t)
	ctx := context.Background()

	task := mustNewTask(t, "fails once", domain.TaskTypeTest)
	task.MaxAttempts = 3
	require.NoError(t, NewPublisher(rdb, queueName, testLogger()).Publish(ctx, task))

	consumer := newTestConsumer(rdb, queueName, "w1", 3)
	d, err := consumer.Next(ctx)
	require.NoError(t, err)

	disp, err := consumer.Nack(ctx, d, assert.AnError)
	require.NoError(t, err)
	assert.Equal(t, DispositionRetried, disp)

	depths, err := Depth(ctx, rdb, queueName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths.Delayed)

	// The retry delay is one millisecond; once due, the sweep promotes it.
	require.Eventually(t, func() bool {
		moved, err := MoveDueDelayed(ctx, rdb, queueName, 10)
		return err == nil && moved == 1
	}, 5*time.Second, 50*time.Millisecond)

	d, err = consumer.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, d.Task.ID)
	assert.Equal(t, 1, d.Task.Attempt)
	assert.Equal(t, domain.TaskStatusPending, d.Task.Status)
	require.NoError(t, consumer.Ack(ctx, d))
}

// Requeue parks a delivery without consuming attempt budget; the record
// comes back unchanged after the delay.
func TestRequeueKeepsAttemptBudget(t *testing.T) {
	rdb := testRedis(t)
	queueName := testQueueName(t)
	ctx := context.Background()

	task := mustNewTask(t, "parked and retried later", domain.TaskTypeGeneral)
	require.NoError(t, NewPublisher(rdb, queueName, testLogger()).Publish(ctx, task))

	consumer := newTestConsumer(rdb, queueName, "w1", 3)
	d, err := consumer.Next(ctx)
	require.NoError(t, err)

	require.NoError(t, consumer.Requeue(ctx, d, 0))

	depths, err := Depth(ctx, rdb, queueName)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depths.Processing)
	assert.Equal(t, int64(1), depths.Delayed)

	require.Eventually(t, func() bool {
		moved, err := MoveDueDelayed(ctx, rdb, queueName, 10)
		return err == nil && moved == 1
	}, 5*time.Second, 50*time.Millisecond)

	d, err = consumer.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, d.Task.ID)
	assert.Equal(t, 0, d.Task.Attempt, "requeue must not spend an attempt")
	assert.Equal(t, domain.TaskStatusPending, d.Task.Status)
	require.NoError(t, consumer.Ack(ctx, d))
}

// A payload that does not decode into a valid record is dead-lettered
// without ever reaching the caller.
func TestMalformedPayloadDeadLettered(t *testing.T) {
	rdb := testRedis(t)
	queueName := testQueueName(t)
	ctx := context.Background()

	require.NoError(t, rdb.RPush(ctx, ReadyKey(queueName), "{not json").Err())
	task := mustNewTask(t, "valid record behind the poison one", domain.TaskTypeGeneral)
	require.NoError(t, NewPublisher(rdb, queueName, testLogger()).Publish(ctx, task))

	consumer := newTestConsumer(rdb, queueName, "w1", 3)
	d, err := consumer.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, d.Task.ID, "consumer should skip the poison payload")
	require.NoError(t, consumer.Ack(ctx, d))

	depths, err := Depth(ctx, rdb, queueName)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths.Dead)
}

// Records stranded in the processing list of a worker without a heartbeat
// are requeued; records of live workers are left alone.
func TestRequeueOrphans(t *testing.T) {
	rdb := testRedis(t)
	queueName := testQueueName(t)
	ctx := context.Background()

	publisher := NewPublisher(rdb, queueName, testLogger())
	crashed := mustNewTask(t, "held by a crashed worker", domain.TaskTypeGeneral)
	require.NoError(t, publisher.Publish(ctx, crashed))
	live := mustNewTask(t, "held by a live worker", domain.TaskTypeGeneral)
	require.NoError(t, publisher.Publish(ctx, live))

	deadConsumer := newTestConsumer(rdb, queueName, "crashed-worker", 3)
	d1, err := deadConsumer.Next(ctx)
	require.NoError(t, err)

	liveConsumer := newTestConsumer(rdb, queueName, "live-worker", 3)
	d2, err := liveConsumer.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, rdb.Set(ctx, HeartbeatKey("live-worker"), "1", time.Minute).Err())

	// Only the record of the heartbeat-less worker comes back.
	requeued, err := RequeueOrphans(ctx, rdb, queueName)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	redelivered, err := liveConsumer.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, d1.Task.ID, redelivered.Task.ID)

	require.NoError(t, liveConsumer.Ack(ctx, redelivered))
	require.NoError(t, liveConsumer.Ack(ctx, d2))
}

// Replayed dead records return to ready with a fresh attempt budget.
func TestReplayDead(t *testing.T) {
	rdb := testRedis(t)
	queueName := testQueueName(t)
	ctx := context.Background()

	task := mustNewTask(t, "dead then replayed", domain.TaskTypeAnalysis)
	task.MaxAttempts = 1
	require.NoError(t, NewPublisher(rdb, queueName, testLogger()).Publish(ctx, task))

	consumer := newTestConsumer(rdb, queueName, "w1", 3)
	d, err := consumer.Next(ctx)
	require.NoError(t, err)
	disp, err := consumer.Nack(ctx, d, assert.AnError)
	require.NoError(t, err)
	require.Equal(t, DispositionDeadLettered, disp)

	replayed, err := ReplayDead(ctx, rdb, queueName, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed)

	d, err = consumer.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, d.Task.ID)
	assert.Equal(t, 0, d.Task.Attempt)
	assert.Equal(t, domain.TaskStatusPending, d.Task.Status)
	require.NoError(t, consumer.Ack(ctx, d))
}

// PublishDelayed holds a record back until the sweep promotes it.
func TestPublishDelayed(t *testing.T) {
	rdb := testRedis(t)
	queueName := testQueueName(t)
	ctx := context.Background()

	task := mustNewTask(t, "delayed submission", domain.TaskTypeGeneral)
	require.NoError(t, NewPublisher(rdb, queueName, testLogger()).PublishDelayed(ctx, task, time.Now().Add(-time.Second)))

	depths, err := Depth(ctx, rdb, queueName)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depths.Ready)
	assert.Equal(t, int64(1), depths.Delayed)

	moved, err := MoveDueDelayed(ctx, rdb, queueName, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	consumer := newTestConsumer(rdb, queueName, "w1", 3)
	d, err := consumer.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, d.Task.ID)
	require.NoError(t, consumer.Ack(ctx, d))
}

// Publish validates at the boundary: an invalid record is never enqueued.
func TestPublishRejectsInvalidTask(t *testing.T) {
	rdb := testRedis(t)
	queueName := testQueueName(t)
	ctx := context.Background()

	task := mustNewTask(t, "valid", domain.TaskTypeGeneral)
	task.Prompt = ""

	err := NewPublisher(rdb, queueName, testLogger()).Publish(ctx, task)
	assert.ErrorIs(t, err, domain.ErrValidation)

	depths, err := Depth(ctx, rdb, queueName)
	require.NoError(t, err)
	assert.Equal(t, Depths{}, depths)
}
