package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/phrazzld/taskrelay/internal/queue"
)

// delayedSweepBatch bounds how many due delayed records one sweep moves.
const delayedSweepBatch = 100

// Sweeper runs the periodic queue maintenance jobs: promoting due delayed
// records to ready and requeuing processing lists orphaned by dead workers.
// Every worker runs a sweeper, but each job takes a lease first so only one
// sweeps at a time.
type Sweeper struct {
	rdb      *redis.Client
	leaser   Leaser
	queue    string
	workerID string
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper for the named queue.
func NewSweeper(rdb *redis.Client, leaser Leaser, queueName, workerID string, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{
		rdb:      rdb,
		leaser:   leaser,
		queue:    queueName,
		workerID: workerID,
		interval: interval,
		logger:   logger,
	}
}

// Start schedules the maintenance jobs and returns the running scheduler.
// The caller stops it with Stop() on shutdown.
func (s *Sweeper) Start() (*cron.Cron, error) {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)

	if _, err := c.AddFunc(spec, s.sweepDelayed); err != nil {
		return nil, fmt.Errorf("failed to schedule delayed sweep: %w", err)
	}
	if _, err := c.AddFunc(spec, s.sweepOrphans); err != nil {
		return nil, fmt.Errorf("failed to schedule orphan sweep: %w", err)
	}

	c.Start()
	s.logger.Info("queue maintenance scheduled",
		"queue", s.queue,
		"interval", s.interval)
	return c, nil
}

// sweepDelayed moves due records from the delayed set to the ready list.
func (s *Sweeper) sweepDelayed() {
	s.withLease("sweep:delayed:"+s.queue, func(ctx context.Context) {
		moved, err := queue.MoveDueDelayed(ctx, s.rdb, s.queue, delayedSweepBatch)
		if err != nil {
			s.logger.Error("delayed sweep failed", "queue", s.queue, "error", err)
			return
		}
		if moved > 0 {
			s.logger.Info("due delayed tasks moved to ready",
				"queue", s.queue,
				"count", moved)
		}
	})
}

// sweepOrphans requeues records stranded in the processing lists of workers
// whose heartbeat has lapsed.
func (s *Sweeper) sweepOrphans() {
	s.withLease("sweep:orphans:"+s.queue, func(ctx context.Context) {
		requeued, err := queue.RequeueOrphans(ctx, s.rdb, s.queue)
		if err != nil {
			s.logger.Error("orphan sweep failed", "queue", s.queue, "error", err)
			return
		}
		if requeued > 0 {
			s.logger.Warn("orphaned tasks requeued",
				"queue", s.queue,
				"count", requeued)
		}
	})
}

// withLease runs fn only if this worker wins the lease on the resource, so
// a given sweep runs on one worker at a time across the fleet.
func (s *Sweeper) withLease(resource string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	token, ok, err := s.leaser.Acquire(ctx, resource, s.workerID, 2*s.interval)
	if err != nil {
		s.logger.Error("failed to acquire sweep lease", "resource", resource, "error", err)
		return
	}
	if !ok {
		return
	}
	defer func() {
		if _, err := s.leaser.Release(ctx, resource, s.workerID, token); err != nil {
			s.logger.Error("failed to release sweep lease", "resource", resource, "error", err)
		}
	}()

	fn(ctx)
}
