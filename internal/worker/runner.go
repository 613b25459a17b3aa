// Package worker implements the consumer runtime: runners that pull task
// records off the queue one at a time, process them through a strategy, and
// settle each delivery with an ack or a nack.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/phrazzld/taskrelay/internal/domain"
	logctx "github.com/phrazzld/taskrelay/internal/platform/logger"
	"github.com/phrazzld/taskrelay/internal/processor"
	"github.com/phrazzld/taskrelay/internal/queue"
)

// TaskSource delivers task records and settles them. *queue.Consumer is the
// production implementation.
type TaskSource interface {
	Next(ctx context.Context) (*queue.Delivery, error)
	Ack(ctx context.Context, d *queue.Delivery) error
	Nack(ctx context.Context, d *queue.Delivery, cause error) (queue.Disposition, error)

	// Requeue re-parks a delivery for later redelivery without consuming
	// attempt budget.
	Requeue(ctx context.Context, d *queue.Delivery, delay time.Duration) error
}

// ResultSink receives result records. *queue.ResultPublisher is the
// production implementation.
type ResultSink interface {
	Publish(ctx context.Context, r *domain.Result) error
}

// ResultArchiver persists result records. *postgres.ResultStore is the
// production implementation; a nil archiver disables archiving.
type ResultArchiver interface {
	SaveResult(ctx context.Context, r *domain.Result) error
}

// Leaser grants expiring, fenced leases. *lease.Manager is the production
// implementation.
type Leaser interface {
	Acquire(ctx context.Context, resource, owner string, ttl time.Duration) (int64, bool, error)
	Renew(ctx context.Context, resource, owner string, token int64, ttl time.Duration) (bool, error)
	Release(ctx context.Context, resource, owner string, token int64) (bool, error)
}

// RunnerConfig holds the settings of a single runner.
type RunnerConfig struct {
	// WorkerID identifies this worker process; leases and processing lists
	// are taken in its name.
	WorkerID string

	// LeaseTTL is how long the per-task lease lives without renewal.
	LeaseTTL time.Duration

	// ProcessTimeout bounds one task execution.
	ProcessTimeout time.Duration
}

// Runner is the two-state consumer loop: awaiting a record, processing a
// record. It blocks only on the network wait for the next delivery.
type Runner struct {
	source   TaskSource
	proc     processor.Processor
	results  ResultSink
	archiver ResultArchiver
	leaser   Leaser
	cfg      RunnerConfig
	logger   *slog.Logger
}

// NewRunner creates a runner. results, archiver, and leaser may be nil to
// disable result publishing, archiving, and lease-based dedup respectively.
func NewRunner(
	source TaskSource,
	proc processor.Processor,
	results ResultSink,
	archiver ResultArchiver,
	leaser Leaser,
	cfg RunnerConfig,
	logger *slog.Logger,
) *Runner {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = 10 * time.Minute
	}
	return &Runner{
		source:   source,
		proc:     proc,
		results:  results,
		archiver: archiver,
		leaser:   leaser,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run consumes and processes records until the context is cancelled, then
// returns nil. Transient broker errors are logged and retried after a short
// pause rather than killing the worker.
func (r *Runner) Run(ctx context.Context) error {
	for {
		d, err := r.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("runner stopping", "worker_id", r.cfg.WorkerID)
				return nil
			}
			r.logger.Error("failed to receive next task", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		r.processDelivery(ctx, d)
	}
}

// processDelivery handles one received record end to end.
func (r *Runner) processDelivery(ctx context.Context, d *queue.Delivery) {
	t := d.Task
	logger := r.logger.With(
		"task_id", t.ID,
		"task_type", t.Type,
		"attempt", t.Attempt,
		"worker_id", r.cfg.WorkerID,
	)
	// Everything downstream of the runner logs with the per-task attributes.
	ctx = logctx.WithLogger(ctx, logger)

	// Settlement must survive a cancelled run context, so it uses its own.
	settleCtx, cancelSettle := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelSettle()

	// Per-task lease: at-least-once delivery means duplicates are possible;
	// holding the lease keeps two workers from processing the same record
	// concurrently.
	var token int64
	if r.leaser != nil {
		resource := "task:" + t.ID.String()
		var ok bool
		var err error
		token, ok, err = r.leaser.Acquire(ctx, resource, r.cfg.WorkerID, r.cfg.LeaseTTL)
		if err != nil {
			logger.Error("failed to acquire task lease", "error", err)
			if _, nerr := r.source.Nack(settleCtx, d, err); nerr != nil {
				logger.Error("failed to nack task", "error", nerr)
			}
			return
		}
		if !ok {
			// Another worker holds the lease. It may still crash before
			// settling, so the record goes back to the delayed set rather
			// than being acked away; once the lease has run out either the
			// holder has settled it or this redelivery processes it.
			logger.Info("task lease held elsewhere, requeueing delivery")
			if err := r.source.Requeue(settleCtx, d, r.cfg.LeaseTTL); err != nil {
				logger.Error("failed to requeue leased task", "error", err)
			}
			return
		}
		defer func() {
			if _, err := r.leaser.Release(settleCtx, resource, r.cfg.WorkerID, token); err != nil {
				logger.Error("failed to release task lease", "error", err)
			}
		}()

		// Renew the lease while processing runs; if renewal ever fails the
		// lease expired and another worker may own the record, so abort.
		renewCtx, stopRenew := context.WithCancel(ctx)
		defer stopRenew()
		go r.renewLease(renewCtx, resource, token, logger)
	}

	if err := domain.ValidateTransition(t.Status, domain.TaskStatusProcessing); err != nil {
		logger.Warn("unexpected task status on delivery", "status", t.Status, "error", err)
	}
	t.Status = domain.TaskStatusProcessing

	logger.Info("processing task")
	started := time.Now().UTC()

	procCtx, cancelProc := context.WithTimeout(ctx, r.cfg.ProcessTimeout)
	output, procErr := r.proc.Process(procCtx, t)
	cancelProc()

	finished := time.Now().UTC()

	result := &domain.Result{
		TaskID:     t.ID,
		WorkerID:   r.cfg.WorkerID,
		Attempt:    t.Attempt + 1,
		StartedAt:  started,
		FinishedAt: finished,
	}

	if procErr != nil {
		logger.Error("task execution failed", "error", procErr)

		disp, err := r.source.Nack(settleCtx, d, procErr)
		if err != nil {
			logger.Error("failed to nack task", "error", err)
			return
		}
		result.Status = domain.TaskStatusFailed
		if disp == queue.DispositionDeadLettered {
			result.Status = domain.TaskStatusDead
		}
		result.Error = procErr.Error()
	} else {
		logger.Info("task completed successfully", "duration", result.Duration())

		if err := r.source.Ack(settleCtx, d); err != nil {
			// The record stays in the processing list; the orphan sweep will
			// redeliver it after this worker's heartbeat lapses.
			logger.Error("failed to ack task", "error", err)
			return
		}
		result.Status = domain.TaskStatusSucceeded
		result.Output = output
	}

	r.emitResult(settleCtx, result, logger)
}

// emitResult publishes and archives a result record. Neither failure undoes
// the settlement; they are logged and the worker moves on.
func (r *Runner) emitResult(ctx context.Context, result *domain.Result, logger *slog.Logger) {
	if r.results != nil {
		if err := r.results.Publish(ctx, result); err != nil {
			logger.Error("failed to publish result", "error", err)
		}
	}
	if r.archiver != nil {
		if err := r.archiver.SaveResult(ctx, result); err != nil {
			logger.Error("failed to archive result", "error", err)
		}
	}
}

// renewLease extends the per-task lease on a fraction of its TTL until the
// context is cancelled.
func (r *Runner) renewLease(ctx context.Context, resource string, token int64, logger *slog.Logger) {
	interval := r.cfg.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := r.leaser.Renew(ctx, resource, r.cfg.WorkerID, token, r.cfg.LeaseTTL)
			if err != nil {
				logger.Error("failed to renew task lease", "error", err)
				continue
			}
			if !ok {
				logger.Warn("task lease lost during processing")
				return
			}
		}
	}
}
