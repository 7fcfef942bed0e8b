package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/netctl/internal/broker"
	"github.com/ternarybob/netctl/internal/jobtype"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
)

// PoolConfig tunes the pool's polling and stagger behavior.
type PoolConfig struct {
	Concurrency  int
	PollInterval time.Duration

	// PollRatePerSecond and PollBurst bound the pool's aggregate rate of
	// broker.Receive calls across every worker goroutine, replacing the
	// per-worker ticker as the sole throttle once Concurrency grows large
	// enough that tickers alone would hammer the shared SQLite-backed
	// broker. Zero means derive a rate from PollInterval/Concurrency.
	PollRatePerSecond float64
	PollBurst         int
}

// DefaultPoolConfig is the worker tier's stock tuning.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Concurrency: 4, PollInterval: 1 * time.Second}
}

// WorkerPool polls one or more broker queues and dispatches received
// messages to the registered Handler for the message's task name. The
// queue set is configurable: the default queue plus every enabled
// region's queue.
type WorkerPool struct {
	broker   *broker.Broker
	store    store.Store
	handlers map[string]Handler
	queues   []string
	config   PoolConfig
	logger   arbor.ILogger
	limiter  *rate.Limiter

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool builds a pool that polls queues in round-robin per worker
// goroutine. The pool's poll limiter is shared across every worker
// goroutine: Concurrency workers each waiting on their own ticker would
// otherwise let aggregate Receive throughput scale with Concurrency alone,
// saturating the broker's shared SQLite file under high fan-out.
func NewWorkerPool(b *broker.Broker, s store.Store, queues []string, config PoolConfig, logger arbor.ILogger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	if len(queues) == 0 {
		queues = []string{models.DefaultQueueName}
	}

	ratePerSecond := config.PollRatePerSecond
	if ratePerSecond <= 0 {
		concurrency := config.Concurrency
		if concurrency <= 0 {
			concurrency = 1
		}
		interval := config.PollInterval
		if interval <= 0 {
			interval = time.Second
		}
		ratePerSecond = float64(concurrency) / interval.Seconds()
	}
	burst := config.PollBurst
	if burst <= 0 {
		burst = config.Concurrency
		if burst <= 0 {
			burst = 1
		}
	}

	return &WorkerPool{
		broker:   b,
		store:    s,
		handlers: make(map[string]Handler),
		queues:   queues,
		config:   config,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler registers h for taskName (the value jobtype.TaskName
// produces for a JobType).
func (wp *WorkerPool) RegisterHandler(taskName string, h Handler) {
	wp.handlers[taskName] = h
	wp.logger.Debug().Str("task_name", taskName).Msg("job handler registered")
}

// Start launches Concurrency worker goroutines, one per queue in the
// pool's queue set, round-robin assigned.
func (wp *WorkerPool) Start() {
	wp.logger.Info().Int("concurrency", wp.config.Concurrency).Int("queues", len(wp.queues)).Msg("starting worker pool")
	for i := 0; i < wp.config.Concurrency; i++ {
		wp.wg.Add(1)
		go wp.worker(i, wp.queues[i%len(wp.queues)])
	}
}

// Stop cancels the pool's context and waits for every worker goroutine to
// return, including one still running a handler; such a handler sees the
// cancelled context at its next ctx.Done() check.
func (wp *WorkerPool) Stop() {
	wp.logger.Info().Msg("stopping worker pool")
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info().Msg("worker pool stopped")
}

func (wp *WorkerPool) worker(workerID int, queueName string) {
	defer wp.wg.Done()

	staggerDelay := (wp.config.PollInterval / time.Duration(wp.config.Concurrency)) * time.Duration(workerID)
	if staggerDelay > 0 {
		select {
		case <-time.After(staggerDelay):
		case <-wp.ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case <-ticker.C:
			if err := wp.limiter.Wait(wp.ctx); err != nil {
				continue
			}
			if err := wp.processMessage(workerID, queueName); err != nil {
				if !isExpectedPollError(err) {
					wp.logger.Warn().Err(err).Int("worker_id", workerID).Str("queue", queueName).Msg("error processing message")
				}
			}
		}
	}
}

func isExpectedPollError(err error) bool {
	if errors.Is(err, broker.ErrNoMessage) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func (wp *WorkerPool) processMessage(workerID int, queueName string) error {
	msg, deleteFn, err := wp.broker.Receive(wp.ctx, queueName)
	if err != nil {
		return err
	}

	h, ok := wp.handlers[msg.TaskName]
	if !ok {
		wp.logger.Error().Str("task_name", msg.TaskName).Str("job_id", msg.JobID).Msg("no handler registered for task")
		return wp.retryDelete(queueName, deleteFn)
	}

	var args jobtype.Args
	if err := json.Unmarshal(msg.Args, &args); err != nil {
		wp.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("invalid dispatch args, dropping message")
		return wp.retryDelete(queueName, deleteFn)
	}

	job, err := wp.store.GetJob(wp.ctx, msg.JobID)
	if err != nil {
		wp.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("job not found for dispatched message, dropping")
		return wp.retryDelete(queueName, deleteFn)
	}
	if job.Status.Terminal() || job.Status == models.StatusCancelled {
		wp.logger.Info().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("job already in terminal state, skipping redelivered message")
		return wp.retryDelete(queueName, deleteFn)
	}

	start := time.Now()
	handlerErr := h.Handle(wp.ctx, job, args)
	duration := time.Since(start)

	if handlerErr != nil {
		wp.logger.Error().Err(handlerErr).Str("job_id", job.ID).Dur("duration", duration).Int("worker_id", workerID).Msg("handler returned an error")
	} else {
		wp.logger.Info().Str("job_id", job.ID).Dur("duration", duration).Int("worker_id", workerID).Msg("job dispatch completed")
	}

	if err := wp.retryDelete(queueName, deleteFn); err != nil {
		return err
	}
	return handlerErr
}

// retryDelete retries a message delete with exponential backoff on
// SQLITE_BUSY, since goqite's delete shares the Job Store's SQLite file.
func (wp *WorkerPool) retryDelete(queueName string, deleteFn func() error) error {
	delay := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		lastErr = deleteFn()
		if lastErr == nil {
			return nil
		}
		msg := lastErr.Error()
		if !strings.Contains(msg, "database is locked") && !strings.Contains(msg, "SQLITE_BUSY") {
			return lastErr
		}
		if attempt == 3 {
			break
		}
		select {
		case <-time.After(delay):
		case <-wp.ctx.Done():
			return wp.ctx.Err()
		}
		delay *= 2
	}
	wp.logger.Error().Err(lastErr).Str("queue", queueName).Msg("exhausted retries deleting queue message")
	return lastErr
}

// RegisterDefaultHandlers wires the seven job-type handlers onto their
// jobtype.Registry task names.
func RegisterDefaultHandlers(wp *WorkerPool, rt *Runtime) {
	wp.RegisterHandler("run_commands", &RunCommandsHandler{Runtime: rt})
	wp.RegisterHandler("config_backup", &ConfigBackupHandler{Runtime: rt})
	wp.RegisterHandler("config_deploy_preview", &ConfigDeployHandler{Runtime: rt, DryRun: true})
	wp.RegisterHandler("config_deploy_commit", &ConfigDeployHandler{Runtime: rt, DryRun: false})
	wp.RegisterHandler("compliance_check", &ComplianceCheckHandler{Runtime: rt})
	wp.RegisterHandler("topology_discovery", &TopologyDiscoveryHandler{Runtime: rt})
	wp.RegisterHandler("check_reachability", &CheckReachabilityHandler{Runtime: rt})
}
