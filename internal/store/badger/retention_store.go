package badger

import (
	"context"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/netctl/internal/models"
)

// PurgeLogsOlderThan deletes job_logs rows older than cutoff, per the log
// retention policy.
func (s *Store) PurgeLogsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := badgerhold.Where("TS").Lt(cutoff)
	n, err := s.db.Store().Count(&models.JobLog{}, query)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.db.Store().DeleteMatching(&models.JobLog{}, query); err != nil {
		return 0, err
	}
	return int(n), nil
}

var terminalStatuses = []models.Status{
	models.StatusSuccess, models.StatusPartial, models.StatusFailed, models.StatusCancelled,
}

// PurgeTerminalJobsOlderThan deletes terminal jobs (and their logs, via
// manual cascade) finished before cutoff, per the job retention policy.
func (s *Store) PurgeTerminalJobsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	statusVals := make([]interface{}, len(terminalStatuses))
	for i, st := range terminalStatuses {
		statusVals[i] = st
	}
	query := badgerhold.Where("Status").In(statusVals...).And("FinishedAt").Lt(cutoff)

	var rows []models.Job
	if err := s.db.Store().Find(&rows, query); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	ids := make([]string, len(rows))
	idVals := make([]interface{}, len(rows))
	for i, j := range rows {
		ids[i] = j.ID
		idVals[i] = j.ID
		if err := s.db.Store().Delete(j.ID, &models.Job{}); err != nil {
			return i, err
		}
	}
	if err := s.db.Store().DeleteMatching(&models.JobLog{}, badgerhold.Where("JobID").In(idVals...)); err != nil {
		return len(ids), err
	}
	return len(ids), nil
}

// StaleQueuedJobs returns jobs still in a non-terminal status whose
// requested_at is older than olderThan, the elapsed-time heuristic the
// Scheduler's reconciliation sweep uses in place of broker introspection.
func (s *Store) StaleQueuedJobs(ctx context.Context, olderThan time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := badgerhold.Where("Status").In(models.StatusQueued, models.StatusRunning).
		And("RequestedAt").Lt(olderThan).SortBy("RequestedAt").Limit(limit)

	var rows []models.Job
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, err
	}
	out := make([]*models.Job, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// DueScheduledJobs returns jobs in status=scheduled whose scheduled_for
// has arrived, for the Scheduler's release sweep.
func (s *Store) DueScheduledJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := badgerhold.Where("Status").Eq(models.StatusScheduled).
		And("ScheduledFor").Le(now).SortBy("ScheduledFor").Limit(limit)

	var rows []models.Job
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, err
	}
	out := make([]*models.Job, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}
