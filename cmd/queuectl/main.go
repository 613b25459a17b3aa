// Package main implements queuectl, the operational CLI for the task queue:
// queue depths, dead-letter inspection and replay, and archived results.
//
// Usage:
//
//	queuectl depth
//	queuectl dead [-n N]
//	queuectl replay [-n N]
//	queuectl results [-n N]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/phrazzld/taskrelay/internal/config"
	"github.com/phrazzld/taskrelay/internal/platform/logger"
	"github.com/phrazzld/taskrelay/internal/platform/postgres"
	"github.com/phrazzld/taskrelay/internal/queue"
	"github.com/phrazzld/taskrelay/internal/store"
)

// commandTimeout bounds every queuectl operation.
const commandTimeout = 30 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	if err := run(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if _, err := logger.Setup(cfg.Log); err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch command {
	case "depth":
		return depth(ctx, cfg)
	case "dead":
		n := countFlag("dead", args, 10)
		return dead(ctx, cfg, int64(n))
	case "replay":
		n := countFlag("replay", args, 10)
		return replay(ctx, cfg, n)
	case "results":
		n := countFlag("results", args, 10)
		return results(ctx, cfg, n)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

// countFlag parses the shared -n flag of a subcommand.
func countFlag(name string, args []string, def int) int {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	n := fs.Int("n", def, "maximum number of records")
	fs.Parse(args)
	return *n
}

func depth(ctx context.Context, cfg *config.Config) error {
	rdb, err := queue.Connect(ctx, cfg.Broker.URL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	d, err := queue.Depth(ctx, rdb, cfg.Broker.TaskQueue)
	if err != nil {
		return err
	}
	return printJSON(d)
}

func dead(ctx context.Context, cfg *config.Config, n int64) error {
	rdb, err := queue.Connect(ctx, cfg.Broker.URL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	items, err := queue.ListDead(ctx, rdb, cfg.Broker.TaskQueue, n)
	if err != nil {
		return err
	}
	for _, item := range items {
		fmt.Println(item)
	}
	return nil
}

func replay(ctx context.Context, cfg *config.Config, n int) error {
	rdb, err := queue.Connect(ctx, cfg.Broker.URL)
	if err != nil {
		return err
	}
	defer rdb.Close()

	replayed, err := queue.ReplayDead(ctx, rdb, cfg.Broker.TaskQueue, n)
	if err != nil {
		return err
	}
	fmt.Printf("replayed %d\n", replayed)
	return nil
}

func results(ctx context.Context, cfg *config.Config, n int) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("results requires a configured archive database (TASKRELAY_DATABASE_URL)")
	}

	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	rs, err := postgres.NewResultStore(db).RecentResults(ctx, n)
	if err != nil {
		return err
	}
	for _, r := range rs {
		if err := printJSON(r); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(v any) error {
	out, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: queuectl <command> [flags]

Commands:
  depth            print queue depths as JSON
  dead [-n N]      print up to N dead-lettered payloads
  replay [-n N]    move up to N dead-lettered tasks back to ready
  results [-n N]   print up to N archived results (requires database)
`)
}
