package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/taskrelay/internal/domain"
)

// Connect establishes a Redis connection from a URL of the form
// redis://[:password@]host:port[/database] and verifies it with a ping.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse broker URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to reach broker: %w", err)
	}
	return rdb, nil
}

// Publisher publishes task records onto a durable named queue.
type Publisher struct {
	rdb    *redis.Client
	queue  string
	logger *slog.Logger
}

// NewPublisher creates a Publisher bound to the named queue.
func NewPublisher(rdb *redis.Client, queue string, logger *slog.Logger) *Publisher {
	return &Publisher{
		rdb:    rdb,
		queue:  queue,
		logger: logger,
	}
}

// Publish validates the task record and appends it to the ready list.
// On broker failure the error is returned and the record is unsent; there is
// no outbox. The caller bounds the call with a context deadline.
func (p *Publisher) Publish(ctx context.Context, t *domain.Task) error {
	payload, err := encodeTask(t)
	if err != nil {
		return err
	}

	if err := p.rdb.RPush(ctx, ReadyKey(p.queue), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish task %s: %w", t.ID, err)
	}

	p.logger.Debug("task published",
		"task_id", t.ID,
		"task_type", t.Type,
		"queue", p.queue)
	return nil
}

// PublishDelayed validates the task record and parks it in the delayed set
// until the given time, after which a maintenance sweep moves it to ready.
func (p *Publisher) PublishDelayed(ctx context.Context, t *domain.Task, at time.Time) error {
	payload, err := encodeTask(t)
	if err != nil {
		return err
	}

	err = p.rdb.ZAdd(ctx, DelayedKey(p.queue), redis.Z{
		Score:  float64(at.Unix()),
		Member: payload,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish delayed task %s: %w", t.ID, err)
	}

	p.logger.Debug("task published delayed",
		"task_id", t.ID,
		"task_type", t.Type,
		"queue", p.queue,
		"deliver_at", at.UTC())
	return nil
}

// encodeTask validates a record and marshals it to the UTF-8 JSON wire form.
func encodeTask(t *domain.Task) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
	}
	return string(payload), nil
}

// ResultPublisher publishes result records onto the result queue. The
// mechanics are the same list operations the task queue uses.
type ResultPublisher struct {
	rdb    *redis.Client
	queue  string
	logger *slog.Logger
}

// NewResultPublisher creates a ResultPublisher bound to the named queue.
func NewResultPublisher(rdb *redis.Client, queue string, logger *slog.Logger) *ResultPublisher {
	return &ResultPublisher{
		rdb:    rdb,
		queue:  queue,
		logger: logger,
	}
}

// Publish appends a result record to the result queue.
func (p *ResultPublisher) Publish(ctx context.Context, r *domain.Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal result for task %s: %w", r.TaskID, err)
	}
	if err := p.rdb.RPush(ctx, ReadyKey(p.queue), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish result for task %s: %w", r.TaskID, err)
	}
	p.logger.Debug("result published",
		"task_id", r.TaskID,
		"status", r.Status,
		"queue", p.queue)
	return nil
}
