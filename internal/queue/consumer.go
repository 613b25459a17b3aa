package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/taskrelay/internal/domain"
)

// Disposition describes what the queue did with a negatively-acknowledged
// record.
type Disposition string

// Possible dispositions of a Nack.
const (
	DispositionRetried      Disposition = "retried"
	DispositionDeadLettered Disposition = "dead_lettered"
)

// Delivery is one received record together with the raw payload needed to
// acknowledge it.
type Delivery struct {
	Task *domain.Task

	// raw is the exact payload moved into the processing list. Ack and Nack
	// remove it by value, so it must not be re-marshaled.
	raw string
}

// ConsumerConfig holds the settings of a queue consumer.
type ConsumerConfig struct {
	// Queue is the named queue to consume from.
	Queue string

	// WorkerID identifies this consumer; it names the processing list and
	// the heartbeat key.
	WorkerID string

	// BlockTimeout bounds each blocking wait so the consumer can notice a
	// cancelled context. Defaults to 5 seconds.
	BlockTimeout time.Duration

	// DefaultMaxAttempts is the delivery budget for records that carry
	// max_attempts = 0. Defaults to 3.
	DefaultMaxAttempts int

	// RetryBaseDelay and RetryMaxDelay bound the exponential backoff between
	// redeliveries.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
}

// Consumer delivers task records from a named queue to a single worker,
// one at a time. The only blocking operation is the network wait for the
// next record.
type Consumer struct {
	rdb    *redis.Client
	cfg    ConsumerConfig
	logger *slog.Logger
}

// NewConsumer creates a Consumer for the named queue. Zero config values
// fall back to defaults.
func NewConsumer(rdb *redis.Client, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.DefaultMaxAttempts <= 0 {
		cfg.DefaultMaxAttempts = 3
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 5 * time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 5 * time.Minute
	}
	return &Consumer{
		rdb:    rdb,
		cfg:    cfg,
		logger: logger,
	}
}

// Next blocks until a record is available, moves it into this worker's
// processing list, and returns it. Payloads that cannot be decoded or fail
// validation are moved straight to the dead list and consumption continues;
// a poison record never reaches the caller. Returns the context error when
// the context is cancelled.
func (c *Consumer) Next(ctx context.Context) (*Delivery, error) {
	ready := ReadyKey(c.cfg.Queue)
	processing := ProcessingKey(c.cfg.Queue, c.cfg.WorkerID)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := c.rdb.BLMove(ctx, ready, processing, "LEFT", "RIGHT", c.cfg.BlockTimeout).Result()
		if errors.Is(err, redis.Nil) {
			// Timed out waiting; loop to re-check the context.
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to wait for next task: %w", err)
		}

		var t domain.Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			c.deadLetterRaw(ctx, processing, raw, fmt.Errorf("%w: %v", domain.ErrMalformedRecord, err))
			continue
		}
		if err := t.Validate(); err != nil {
			c.deadLetterRaw(ctx, processing, raw, err)
			continue
		}

		c.logger.Debug("task received",
			"task_id", t.ID,
			"task_type", t.Type,
			"attempt", t.Attempt,
			"queue", c.cfg.Queue)
		return &Delivery{Task: &t, raw: raw}, nil
	}
}

// Ack acknowledges a delivery, removing the record from the processing list.
// The record is gone for good afterwards.
func (c *Consumer) Ack(ctx context.Context, d *Delivery) error {
	processing := ProcessingKey(c.cfg.Queue, c.cfg.WorkerID)
	if err := c.rdb.LRem(ctx, processing, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("failed to ack task %s: %w", d.Task.ID, err)
	}
	return nil
}

// Nack negatively acknowledges a delivery. The attempt counter is
// incremented; if the record still has budget it is parked in the delayed
// set with exponential backoff and status pending, otherwise it is moved to
// the dead list with status dead. Either way it leaves the processing list
// atomically with the re-enqueue.
func (c *Consumer) Nack(ctx context.Context, d *Delivery, cause error) (Disposition, error) {
	processing := ProcessingKey(c.cfg.Queue, c.cfg.WorkerID)

	maxAttempts := d.Task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.DefaultMaxAttempts
	}
	attempt := d.Task.Attempt + 1

	next := *d.Task
	next.Attempt = attempt

	if attempt >= maxAttempts {
		next.Status = domain.TaskStatusDead
		payload, err := json.Marshal(&next)
		if err != nil {
			return "", fmt.Errorf("failed to marshal dead task %s: %w", next.ID, err)
		}

		pipe := c.rdb.TxPipeline()
		pipe.LRem(ctx, processing, 1, d.raw)
		pipe.RPush(ctx, DeadKey(c.cfg.Queue), payload)
		if _, err := pipe.Exec(ctx); err != nil {
			return "", fmt.Errorf("failed to dead-letter task %s: %w", next.ID, err)
		}

		c.logger.Warn("task dead-lettered",
			"task_id", next.ID,
			"task_type", next.Type,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", cause)
		return DispositionDeadLettered, nil
	}

	next.Status = domain.TaskStatusPending
	payload, err := json.Marshal(&next)
	if err != nil {
		return "", fmt.Errorf("failed to marshal retried task %s: %w", next.ID, err)
	}

	delay := RetryDelay(attempt, c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay)
	deliverAt := time.Now().Add(delay)

	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, processing, 1, d.raw)
	pipe.ZAdd(ctx, DelayedKey(c.cfg.Queue), redis.Z{
		Score:  float64(deliverAt.Unix()),
		Member: string(payload),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to requeue task %s: %w", next.ID, err)
	}

	c.logger.Info("task scheduled for retry",
		"task_id", next.ID,
		"task_type", next.Type,
		"attempt", attempt,
		"max_attempts", maxAttempts,
		"retry_delay", delay,
		"error", cause)
	return DispositionRetried, nil
}

// Requeue returns a delivery to the delayed set unchanged, to be redelivered
// after delay. Unlike Nack it does not touch the attempt counter: it settles
// deliveries this worker must not process at all, such as a record whose
// lease another worker still holds. The payload leaves the processing list
// atomically with the re-enqueue, so the record is never lost in between.
func (c *Consumer) Requeue(ctx context.Context, d *Delivery, delay time.Duration) error {
	processing := ProcessingKey(c.cfg.Queue, c.cfg.WorkerID)

	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, processing, 1, d.raw)
	pipe.ZAdd(ctx, DelayedKey(c.cfg.Queue), redis.Z{
		Score:  float64(time.Now().Add(delay).Unix()),
		Member: d.raw,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to requeue task %s: %w", d.Task.ID, err)
	}

	c.logger.Info("task requeued unsettled",
		"task_id", d.Task.ID,
		"task_type", d.Task.Type,
		"attempt", d.Task.Attempt,
		"delay", delay)
	return nil
}

// deadLetterRaw moves a payload that never decoded into a valid record from
// the processing list to the dead list as-is.
func (c *Consumer) deadLetterRaw(ctx context.Context, processing, raw string, cause error) {
	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, processing, 1, raw)
	pipe.RPush(ctx, DeadKey(c.cfg.Queue), raw)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("failed to dead-letter malformed payload",
			"queue", c.cfg.Queue,
			"error", err)
		return
	}
	c.logger.Warn("malformed payload dead-lettered",
		"queue", c.cfg.Queue,
		"error", cause)
}
