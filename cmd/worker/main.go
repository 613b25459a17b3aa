// Package main implements the task queue worker: a process that consumes
// task records from the durable queue, processes them, and publishes
// results.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/taskrelay/internal/config"
	"github.com/phrazzld/taskrelay/internal/lease"
	"github.com/phrazzld/taskrelay/internal/platform/gemini"
	"github.com/phrazzld/taskrelay/internal/platform/logger"
	"github.com/phrazzld/taskrelay/internal/platform/postgres"
	"github.com/phrazzld/taskrelay/internal/processor"
	"github.com/phrazzld/taskrelay/internal/queue"
	"github.com/phrazzld/taskrelay/internal/store"
	"github.com/phrazzld/taskrelay/internal/worker"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	// Interrupt or SIGTERM cancels the context; runners finish their current
	// record and disconnect cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerID := newWorkerID()
	log.Info("worker starting",
		"worker_id", workerID,
		"queue", cfg.Broker.TaskQueue,
		"concurrency", cfg.Worker.Concurrency)

	rdb, err := connectBroker(ctx, cfg.Broker.URL, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	var archiver worker.ResultArchiver
	if cfg.Database.URL != "" {
		db, err := store.Open(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to archive database: %w", err)
		}
		defer db.Close()
		if err := runMigrations(db); err != nil {
			return err
		}
		archiver = postgres.NewResultStore(db)
		log.Info("result archive enabled")
	}

	registry, err := buildRegistry(ctx, cfg, log)
	if err != nil {
		return err
	}

	consumer := queue.NewConsumer(rdb, queue.ConsumerConfig{
		Queue:              cfg.Broker.TaskQueue,
		WorkerID:           workerID,
		DefaultMaxAttempts: cfg.Worker.MaxAttempts,
		RetryBaseDelay:     cfg.Worker.RetryBaseDelay,
		RetryMaxDelay:      cfg.Worker.RetryMaxDelay,
	}, log)
	results := queue.NewResultPublisher(rdb, cfg.Broker.ResultQueue, log)
	leaser := lease.NewManager(rdb)

	sweeper := worker.NewSweeper(rdb, leaser, cfg.Broker.TaskQueue, workerID, cfg.Worker.SweepInterval, log)
	sched, err := sweeper.Start()
	if err != nil {
		return err
	}
	defer sched.Stop()

	// The liveness key must exist before any runner moves a record into this
	// worker's processing list; otherwise a concurrent orphan sweep would
	// requeue work this worker just picked up.
	if err := worker.SetHeartbeat(ctx, rdb, workerID, cfg.Worker.HeartbeatTTL); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		worker.StartHeartbeat(ctx, rdb, workerID, cfg.Worker.HeartbeatTTL, cfg.Worker.HeartbeatInterval, log)
		return nil
	})

	for i := 0; i < cfg.Worker.Concurrency; i++ {
		runner := worker.NewRunner(consumer, registry, results, archiver, leaser, worker.RunnerConfig{
			WorkerID:       workerID,
			LeaseTTL:       cfg.Worker.LeaseTTL,
			ProcessTimeout: cfg.Worker.ProcessTimeout,
		}, log)
		g.Go(func() error {
			return runner.Run(ctx)
		})
	}

	err = g.Wait()
	log.Info("worker stopped", "worker_id", workerID)
	return err
}

// buildRegistry wires the processing strategy: the Gemini generator when an
// API key is configured, the echo processor otherwise.
func buildRegistry(ctx context.Context, cfg *config.Config, log *slog.Logger) (*processor.Registry, error) {
	registry := processor.NewRegistry()

	if cfg.LLM.GeminiAPIKey != "" {
		gen, err := gemini.NewGenerator(ctx, log, cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to build gemini generator: %w", err)
		}
		registry.RegisterAll(processor.Generation(gen))
		log.Info("processing strategy: gemini", "model", cfg.LLM.ModelName)
		return registry, nil
	}

	registry.RegisterAll(processor.Echo())
	log.Info("processing strategy: echo (no LLM configured)")
	return registry, nil
}

// connectBroker dials the broker with bounded exponential backoff so a
// worker started before the broker comes up does not immediately die.
func connectBroker(ctx context.Context, url string, log *slog.Logger) (*redis.Client, error) {
	var rdb *redis.Client

	backoff := retry.WithMaxRetries(5, retry.WithCappedDuration(10*time.Second, retry.NewExponential(500*time.Millisecond)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		rdb, err = queue.Connect(ctx, url)
		if err != nil {
			log.Warn("broker not reachable, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	return rdb, nil
}

// newWorkerID builds a fleet-unique worker identity from the hostname and a
// random suffix, so processing lists and leases from different runs never
// collide.
func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}
