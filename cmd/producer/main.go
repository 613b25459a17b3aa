// Package main implements the task submission CLI. It builds a task record
// from the command line and publishes it onto the durable task queue.
//
// Usage:
//
//	producer [flags] <prompt> [type]
//
// The prompt is required. The optional type is one of general, code,
// analysis, test, fix (default general). Exit code is 0 on success and 1 on
// any failure; the published task id is printed to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/phrazzld/taskrelay/internal/config"
	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/platform/logger"
	"github.com/phrazzld/taskrelay/internal/queue"
)

// publishTimeout bounds the whole submission; the producer must not block
// indefinitely on an unreachable broker.
const publishTimeout = 30 * time.Second

func main() {
	priority := flag.Int("priority", 0, "application-defined task priority")
	maxAttempts := flag.Int("max-attempts", 0, "delivery budget before dead-lettering (0 = worker default)")
	delay := flag.Duration("delay", 0, "hold the task back for this long before delivery")
	queueName := flag.String("queue", "", "override the configured task queue name")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 || flag.NArg() > 2 {
		usage()
		os.Exit(1)
	}
	prompt := flag.Arg(0)
	taskType := domain.TaskType(flag.Arg(1))

	if err := submit(prompt, taskType, *priority, *maxAttempts, *delay, *queueName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func submit(prompt string, taskType domain.TaskType, priority, maxAttempts int, delay time.Duration, queueOverride string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	// Producer boundary: an invalid record is rejected here and never
	// published.
	task, err := domain.NewTask(prompt, taskType, priority)
	if err != nil {
		return err
	}
	if maxAttempts < 0 {
		return fmt.Errorf("%w: max-attempts cannot be negative", domain.ErrValidation)
	}
	task.MaxAttempts = maxAttempts

	queueName := cfg.Broker.TaskQueue
	if queueOverride != "" {
		queueName = queueOverride
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	rdb, err := connectBroker(ctx, cfg.Broker.URL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	publisher := queue.NewPublisher(rdb, queueName, log)
	if delay > 0 {
		err = publisher.PublishDelayed(ctx, task, time.Now().Add(delay))
	} else {
		err = publisher.Publish(ctx, task)
	}
	if err != nil {
		return err
	}

	log.Info("task submitted",
		"task_id", task.ID,
		"task_type", task.Type,
		"queue", queueName,
		"delay", delay)
	fmt.Println(task.ID)
	return nil
}

// connectBroker dials the broker with a few quick backoff retries inside
// the overall publish timeout.
func connectBroker(ctx context.Context, url string) (rdb *redis.Client, err error) {
	backoff := retry.WithMaxRetries(3, retry.WithCappedDuration(2*time.Second, retry.NewExponential(250*time.Millisecond)))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var cerr error
		rdb, cerr = queue.Connect(ctx, url)
		if cerr != nil {
			return retry.RetryableError(cerr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	return rdb, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: producer [flags] <prompt> [type]

Submit a task to the durable task queue. The optional type is one of
general, code, analysis, test, fix (default general).

Flags:
`)
	flag.PrintDefaults()
}
