// Package jobservice is the orchestration core: create/enqueue, status
// transitions, retry, and cancel for automation jobs. It is the only
// mutator of Job state beyond the Job Store's primitives.
package jobservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/apperr"
	"github.com/ternarybob/netctl/internal/broker"
	"github.com/ternarybob/netctl/internal/jobtype"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/region"
	"github.com/ternarybob/netctl/internal/store"
)

// ErrInvalidTransition is returned when SetStatus is asked to perform an
// edge not present in models.Transitions; it is a Fatal-class error.
var ErrInvalidTransition = errors.New("invalid job status transition")

// ErrNotCancellable is returned when CancelJob is called on a job whose
// status is not in {scheduled, queued}.
var ErrNotCancellable = errors.New("job is not cancellable")

// Service orchestrates the job lifecycle end to end.
type Service struct {
	store  store.Store
	broker *broker.Broker
	router *region.Router
	events EventEmitter
	logger arbor.ILogger
}

// New builds a Job Service.
func New(s store.Store, b *broker.Broker, r *region.Router, events EventEmitter, logger arbor.ILogger) *Service {
	if events == nil {
		events = NopEmitter{}
	}
	return &Service{store: s, broker: b, router: r, events: events, logger: logger}
}

// CreateJob validates the payload for jobType, persists a new Job,
// routes and dispatches it, and emits job.created.
func (s *Service) CreateJob(ctx context.Context, customerID, userID string, jobType models.JobType, targets models.TargetFilters, rawPayload json.RawMessage, scheduledFor *time.Time) (*models.Job, error) {
	if !jobtype.Known(jobType) {
		return nil, fmt.Errorf("%w: unknown job type %s", apperr.ErrValidation, jobType)
	}
	payload, err := jobtype.ValidatePayload(jobType, rawPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	if jobType == models.JobTypeConfigDeployCommit {
		if err := s.checkPreviewPrecondition(ctx, customerID, payload.(*jobtype.PayloadConfigDeployCommit)); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	job := &models.Job{
		Type:          jobType,
		Status:        models.InitialStatus(scheduledFor, now),
		CustomerID:    customerID,
		UserID:        userID,
		TargetSummary: targets,
		Payload:       rawPayload,
		RequestedAt:   now,
		ScheduledFor:  scheduledFor,
	}

	created, err := s.store.CreateJob(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.emit(ctx, created.CustomerID, models.EventJobCreated, created)

	if created.Status == models.StatusQueued {
		s.dispatch(ctx, created)
	}
	return created, nil
}

// checkPreviewPrecondition enforces the config_deploy_commit
// precondition: PreviousJobID must reference a config_deploy_preview job
// that succeeded within the same customer, or creation is rejected.
func (s *Service) checkPreviewPrecondition(ctx context.Context, customerID string, p *jobtype.PayloadConfigDeployCommit) error {
	prev, err := s.store.GetJobForTenant(ctx, p.PreviousJobID, []string{customerID})
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			return fmt.Errorf("%w: preview job must be successful", apperr.ErrConflict)
		}
		return err
	}
	if prev.Type != models.JobTypeConfigDeployPreview || prev.Status != models.StatusSuccess {
		return fmt.Errorf("%w: preview job must be successful", apperr.ErrConflict)
	}
	return nil
}

// dispatch routes a queued job to its region (or default) queue. Broker
// failures do not fail the caller; the job remains queued and the
// scheduler's reconciliation sweep retries it later.
func (s *Service) dispatch(ctx context.Context, job *models.Job) {
	var identifier *string
	if job.RegionID != nil {
		// Already routed on a prior dispatch attempt; region_id is immutable
		// once recorded, so reuse it rather than re-routing.
		if regions, err := s.store.Regions(ctx, []string{*job.RegionID}); err == nil && len(regions) == 1 {
			identifier = &regions[0].Identifier
		}
	} else {
		reg, err := s.router.Select(ctx, job.CustomerID, job.TargetSummary)
		if err != nil {
			s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("region routing failed, using default queue")
		}
		if reg != nil {
			if err := s.store.SetRegion(ctx, job.ID, reg.ID); err != nil {
				s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("failed to persist routed region")
			}
			identifier = &reg.Identifier
		}
	}

	taskName, err := jobtype.TaskName(job.Type)
	if err != nil {
		s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("no task name for job type, leaving queued for reconciliation")
		return
	}
	args, err := jobtype.BuildArgs(job)
	if err != nil {
		s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("failed to build dispatch args, leaving queued for reconciliation")
		return
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("failed to marshal dispatch args, leaving queued for reconciliation")
		return
	}

	queueName := broker.QueueFor(identifier)

	if err := s.broker.Enqueue(ctx, queueName, broker.Message{TaskName: taskName, JobID: job.ID, Args: argsJSON}); err != nil {
		s.logger.Warn().Str("job_id", job.ID).Str("queue", queueName).Err(err).Msg("broker enqueue failed, leaving queued for reconciliation")
	}
}

// RedispatchJob re-submits a still-queued job's broker message, used by
// the scheduler's reconciliation sweep when the original dispatch appears
// lost. The job row itself is untouched; a duplicate message is harmless
// under at-least-once delivery since handlers are idempotent at the job
// level.
func (s *Service) RedispatchJob(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != models.StatusQueued {
		return fmt.Errorf("%w: job %s is %s, not queued", apperr.ErrConflict, id, job.Status)
	}
	s.dispatch(ctx, job)
	return nil
}

// RetryJob clones type/customer/targets/payload of id into a fresh queued
// job and dispatches it; the source job is left unchanged.
func (s *Service) RetryJob(ctx context.Context, id string, accessibleCustomerIDs []string) (*models.Job, error) {
	source, err := s.store.GetJobForTenant(ctx, id, accessibleCustomerIDs)
	if err != nil {
		return nil, err
	}
	return s.CreateJob(ctx, source.CustomerID, source.UserID, source.Type, source.TargetSummary, source.Payload, nil)
}

// CancelJob cancels a job in {scheduled, queued}. Cancelling a running
// job is not supported through this path; see the cooperative abort the
// Worker Runtime implements for that case.
func (s *Service) CancelJob(ctx context.Context, id, byUserID string, accessibleCustomerIDs []string) (*models.Job, error) {
	job, err := s.store.GetJobForTenant(ctx, id, accessibleCustomerIDs)
	if err != nil {
		return nil, err
	}
	if job.Status != models.StatusScheduled && job.Status != models.StatusQueued {
		return nil, fmt.Errorf("%w: %w", apperr.ErrConflict, ErrNotCancellable)
	}

	now := time.Now().UTC()
	ok, err := s.store.UpdateStatus(ctx, id, []models.Status{job.Status}, models.StatusCancelled, store.StatusTimestamps{FinishedAt: &now}, nil)
	if err != nil {
		return nil, fmt.Errorf("cancel job: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %w", apperr.ErrConflict, ErrNotCancellable)
	}

	if _, err := s.store.AppendLog(ctx, id, models.LogInfo, nil, fmt.Sprintf("Job cancelled by user %s", byUserID), nil); err != nil {
		s.logger.Warn().Str("job_id", id).Err(err).Msg("failed to append cancellation log")
	}

	job.Status = models.StatusCancelled
	job.FinishedAt = &now
	s.emit(ctx, job.CustomerID, models.EventJobCancelled, job)
	return job, nil
}

// SetStatus performs the CAS transition a Worker Runtime handler calls
// on job lifecycle events: on first entry into running it sets StartedAt
// if unset; on a terminal transition it sets FinishedAt and
// ResultSummary.
func (s *Service) SetStatus(ctx context.Context, jobID string, to models.Status, result json.RawMessage) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if !models.CanTransition(job.Status, to) {
		s.logger.Error().Str("job_id", jobID).Str("from", string(job.Status)).Str("to", string(to)).Msg("illegal job status transition")
		return fmt.Errorf("%w: %w: %s -> %s", apperr.ErrFatal, ErrInvalidTransition, job.Status, to)
	}

	ts := store.StatusTimestamps{}
	now := time.Now().UTC()
	if to == models.StatusRunning && job.StartedAt == nil {
		ts.StartedAt = &now
	}
	if to.Terminal() {
		ts.FinishedAt = &now
	}

	ok, err := s.store.UpdateStatus(ctx, jobID, []models.Status{job.Status}, to, ts, result)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %w: job %s was concurrently modified", apperr.ErrConflict, ErrInvalidTransition, jobID)
	}

	job.Status = to
	if ts.StartedAt != nil {
		job.StartedAt = ts.StartedAt
	}
	if ts.FinishedAt != nil {
		job.FinishedAt = ts.FinishedAt
	}
	s.emit(ctx, job.CustomerID, models.EventJobUpdated, job)
	if evtType, ok := models.TerminalEventFor(to); ok {
		s.emit(ctx, job.CustomerID, evtType, job)
	}
	return nil
}

func (s *Service) emit(ctx context.Context, customerID string, eventType models.EventType, payload interface{}) {
	evt := models.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		CustomerID: customerID,
		Payload:    payload,
	}
	if err := s.events.Emit(ctx, evt); err != nil {
		s.logger.Warn().Str("event_type", string(eventType)).Err(err).Msg("event emission failed")
	}
}
