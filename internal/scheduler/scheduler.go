// Package scheduler is a single active-instance loop that releases due
// scheduled jobs, reconciles stale queued jobs, and advances recurring
// Schedule rows into fresh Jobs, plus a daily retention sweep.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/jobservice"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
)

// Config tunes the release/reconciliation/retention cadences.
type Config struct {
	TickInterval            time.Duration
	BatchSize               int
	ReconciliationThreshold time.Duration
	RetentionInterval       time.Duration
	LogRetention            time.Duration
	JobRetention            time.Duration
}

// Service runs the Scheduler's loops. It never drives a job to a
// terminal state directly — only CreateJob (via the Job Service) and the
// CAS-guarded scheduled->queued release, both pre-terminal edges.
type Service struct {
	store  store.Store
	jobs   *jobservice.Service
	parser cron.Parser
	config Config
	logger arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Scheduler Service. The cron.Parser accepts robfig/cron's
// standard five-field format.
func New(s store.Store, jobs *jobservice.Service, config Config, logger arbor.ILogger) *Service {
	if config.TickInterval <= 0 {
		config.TickInterval = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.ReconciliationThreshold <= 0 {
		config.ReconciliationThreshold = 2 * time.Minute
	}
	if config.RetentionInterval <= 0 {
		config.RetentionInterval = 24 * time.Hour
	}
	if config.LogRetention <= 0 {
		config.LogRetention = 30 * 24 * time.Hour
	}
	if config.JobRetention <= 0 {
		config.JobRetention = 180 * 24 * time.Hour
	}
	return &Service{
		store:  s,
		jobs:   jobs,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		config: config,
		logger: logger,
	}
}

// Start launches the release/reconciliation tick loop and the retention
// sweep loop as background goroutines.
func (s *Service) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(2)
	go s.tickLoop()
	go s.retentionLoop()
	s.logger.Info().
		Dur("tick_interval", s.config.TickInterval).
		Dur("retention_interval", s.config.RetentionInterval).
		Msg("scheduler started")
}

// Stop cancels both loops and waits for the in-flight tick to finish.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Service) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.releaseDue(s.ctx)
			s.reconcileStale(s.ctx)
			s.evaluateSchedules(s.ctx)
		}
	}
}

func (s *Service) retentionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.RetentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runRetention(s.ctx)
		}
	}
}

// releaseDue moves jobs in status=scheduled whose ScheduledFor has
// arrived to queued via CAS, then dispatches them.
func (s *Service) releaseDue(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.DueScheduledJobs(ctx, now, s.config.BatchSize)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list due scheduled jobs")
		return
	}
	for _, job := range due {
		if err := s.jobs.SetStatus(ctx, job.ID, models.StatusQueued, nil); err != nil {
			s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("failed to release scheduled job, will retry next tick")
			continue
		}
		s.logger.Info().Str("job_id", job.ID).Msg("released scheduled job")
	}
}

// reconcileStale treats jobs stuck in queued past the reconciliation
// threshold as lost dispatches and re-submits them to the broker via the
// Job Service's RedispatchJob path. The job row is left in place;
// duplicate delivery is absorbed by the worker tier's job-level
// idempotency.
func (s *Service) reconcileStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.ReconciliationThreshold)
	stale, err := s.store.StaleQueuedJobs(ctx, cutoff, s.config.BatchSize)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list stale queued jobs")
		return
	}
	for _, job := range stale {
		if job.Status != models.StatusQueued {
			// Running jobs past the threshold are logged, not re-dispatched:
			// a worker may legitimately still be executing a long fan-out.
			s.logger.Warn().Str("job_id", job.ID).Str("status", string(job.Status)).
				Msg("job exceeded reconciliation threshold while running, leaving in place")
			continue
		}
		if err := s.jobs.RedispatchJob(ctx, job.ID); err != nil {
			s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("failed to reconcile stale queued job")
			continue
		}
		s.logger.Info().Str("job_id", job.ID).Msg("re-dispatched stale queued job")
	}
}

// evaluateSchedules fires recurring Schedule rows whose NextFireAt has
// arrived: each creates a fresh Job and advances to the next fire time,
// computed from the Cron expression (or IntervalSeconds when no Cron is
// set).
func (s *Service) evaluateSchedules(ctx context.Context) {
	now := time.Now().UTC()
	due, err := s.store.DueSchedules(ctx, now, s.config.BatchSize)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to list due schedules")
		return
	}
	for _, sched := range due {
		if _, err := s.jobs.CreateJob(ctx, sched.CustomerID, "", sched.JobType, sched.TargetSummary, sched.Payload, nil); err != nil {
			s.logger.Warn().Str("schedule_id", sched.ID).Err(err).Msg("failed to create job from schedule")
			continue
		}
		next, err := s.nextFireAfter(sched, now)
		if err != nil {
			s.logger.Warn().Str("schedule_id", sched.ID).Err(err).Msg("failed to compute next fire time, disabling schedule")
			continue
		}
		if err := s.store.AdvanceSchedule(ctx, sched.ID, next); err != nil {
			s.logger.Warn().Str("schedule_id", sched.ID).Err(err).Msg("failed to advance schedule")
			continue
		}
		s.logger.Info().Str("schedule_id", sched.ID).Str("next_fire_at", next.Format(time.RFC3339)).Msg("fired schedule and advanced")
	}
}

func (s *Service) nextFireAfter(sched *models.Schedule, from time.Time) (time.Time, error) {
	if sched.Cron != nil && *sched.Cron != "" {
		expr, err := s.parser.Parse(*sched.Cron)
		if err != nil {
			return time.Time{}, err
		}
		return expr.Next(from).UTC(), nil
	}
	interval := 24 * time.Hour
	if sched.IntervalSeconds != nil && *sched.IntervalSeconds > 0 {
		interval = time.Duration(*sched.IntervalSeconds) * time.Second
	}
	return from.Add(interval), nil
}

// runRetention purges JobLog rows older than LogRetention and terminal
// Job rows older than JobRetention.
func (s *Service) runRetention(ctx context.Context) {
	now := time.Now().UTC()
	logCutoff := now.Add(-s.config.LogRetention)
	jobCutoff := now.Add(-s.config.JobRetention)

	if n, err := s.store.PurgeLogsOlderThan(ctx, logCutoff); err != nil {
		s.logger.Warn().Err(err).Msg("log retention sweep failed")
	} else if n > 0 {
		s.logger.Info().Int("purged", n).Msg("purged expired job logs")
	}

	if n, err := s.store.PurgeTerminalJobsOlderThan(ctx, jobCutoff); err != nil {
		s.logger.Warn().Err(err).Msg("job retention sweep failed")
	} else if n > 0 {
		s.logger.Info().Int("purged", n).Msg("purged expired terminal jobs")
	}
}
