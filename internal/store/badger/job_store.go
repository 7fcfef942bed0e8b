package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
)

// Store implements store.Store over badgerhold. Writes that must observe
// a compare-and-swap invariant (UpdateStatus, SetRegion, AdvanceSchedule)
// are serialized by mu, the same single-writer discipline the sqlite
// sibling uses, since badgerhold's read-modify-write helpers do not
// enforce one on their own.
type Store struct {
	db     *DB
	logger arbor.ILogger
	mu     sync.Mutex
}

// New creates a Store backed by db.
func New(db *DB, logger arbor.ILogger) store.Store {
	return &Store{db: db, logger: logger}
}

// CreateJob inserts job, assigning a fresh ID and RequestedAt if unset.
func (s *Store) CreateJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}
	if job.Payload == nil {
		job.Payload = json.RawMessage("{}")
	}
	if err := s.db.Store().Insert(job.ID, job); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by id, regardless of tenant.
func (s *Store) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, store.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// GetJobForTenant fetches a job, scoped to accessibleCustomerIDs.
func (s *Store) GetJobForTenant(ctx context.Context, id string, accessibleCustomerIDs []string) (*models.Job, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !contains(accessibleCustomerIDs, job.CustomerID) {
		return nil, store.ErrJobNotFound
	}
	return job, nil
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// ListJobs returns jobs visible to accessibleCustomerIDs matching filters,
// newest-first, plus the total matching count. Hostname is matched as a
// substring against TargetSummary after the indexed fields narrow the
// candidate set, since badgerhold has no substring operator over a nested
// struct field.
func (s *Store) ListJobs(ctx context.Context, accessibleCustomerIDs []string, filters store.JobFilters) ([]*models.Job, int, error) {
	if len(accessibleCustomerIDs) == 0 {
		return nil, 0, nil
	}

	query := badgerhold.Where("CustomerID").In(toInterfaceSlice(accessibleCustomerIDs)...)
	if filters.Type != "" {
		query = query.And("Type").Eq(filters.Type)
	}
	if filters.Status != "" {
		query = query.And("Status").Eq(filters.Status)
	}
	query = query.SortBy("RequestedAt").Reverse()

	var rows []models.Job
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, 0, err
	}

	matched := make([]*models.Job, 0, len(rows))
	for i := range rows {
		j := &rows[i]
		if filters.Hostname != "" && !strings.Contains(strings.ToLower(j.TargetSummary.Hostname), strings.ToLower(filters.Hostname)) {
			continue
		}
		matched = append(matched, j)
	}

	total := len(matched)
	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	skip := filters.Skip
	if skip > len(matched) {
		skip = len(matched)
	}
	end := skip + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[skip:end], total, nil
}

// UpdateStatus performs the compare-and-swap write that is the only legal
// way to move a job between statuses: the write only applies if the
// current status is one of fromAllowed.
func (s *Store) UpdateStatus(ctx context.Context, id string, fromAllowed []models.Status, to models.Status, ts store.StatusTimestamps, result json.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return false, nil
		}
		return false, err
	}

	allowed := false
	for _, from := range fromAllowed {
		if job.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}

	job.Status = to
	if ts.StartedAt != nil {
		job.StartedAt = ts.StartedAt
	}
	if ts.FinishedAt != nil {
		job.FinishedAt = ts.FinishedAt
	}
	if result != nil {
		job.ResultSummary = result
	}
	if err := s.db.Store().Upsert(id, &job); err != nil {
		return false, err
	}
	return true, nil
}

// SetRegion records the routed region on a job.
func (s *Store) SetRegion(ctx context.Context, id string, regionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return store.ErrJobNotFound
		}
		return err
	}
	job.RegionID = &regionID
	return s.db.Store().Upsert(id, &job)
}

// AppendLog inserts an immutable JobLog row with a server-assigned,
// millisecond-precision UTC timestamp. The storage key is a composite of
// jobID, the timestamp, and a process-local sequence counter, since
// JobLog has no natural unique field badgerhold can key by.
func (s *Store) AppendLog(ctx context.Context, jobID string, level models.LogLevel, host *string, message string, extra json.RawMessage) (*models.JobLog, error) {
	entry := &models.JobLog{
		ID:      uuid.New().String(),
		JobID:   jobID,
		TS:      time.Now().UTC().Truncate(time.Millisecond),
		Level:   level,
		Host:    host,
		Message: message,
		Extra:   extra,
	}
	key := fmt.Sprintf("%s_%d_%d", jobID, entry.TS.UnixNano(), nextLogSequence())
	if err := s.db.Store().Insert(key, entry); err != nil {
		return nil, fmt.Errorf("append log: %w", err)
	}
	return entry, nil
}

// ListLogs returns logs for jobID strictly time-ascending, optionally
// filtered to ts > sinceTS.
func (s *Store) ListLogs(ctx context.Context, jobID string, sinceTS *time.Time, limit int) ([]*models.JobLog, error) {
	query := badgerhold.Where("JobID").Eq(jobID)
	if sinceTS != nil {
		query = query.And("TS").Gt(*sinceTS)
	}
	query = query.SortBy("TS")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.JobLog
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, err
	}
	out := make([]*models.JobLog, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// CreateSchedule inserts sched, assigning a fresh ID if unset.
func (s *Store) CreateSchedule(ctx context.Context, sched *models.Schedule) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sched.ID == "" {
		sched.ID = uuid.New().String()
	}
	if sched.Payload == nil {
		sched.Payload = json.RawMessage("{}")
	}
	if err := s.db.Store().Insert(sched.ID, sched); err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	return sched, nil
}

// DueSchedules returns enabled schedules whose next_fire_at has elapsed,
// ordered oldest-first.
func (s *Store) DueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	query := badgerhold.Where("Enabled").Eq(true).And("NextFireAt").Le(now).SortBy("NextFireAt").Limit(limit)
	var rows []models.Schedule
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, err
	}
	out := make([]*models.Schedule, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// AdvanceSchedule moves a schedule's next_fire_at forward after it fires.
func (s *Store) AdvanceSchedule(ctx context.Context, id string, nextFireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sched models.Schedule
	if err := s.db.Store().Get(id, &sched); err != nil {
		if err == badgerhold.ErrNotFound {
			return store.ErrScheduleNotFound
		}
		return err
	}
	sched.NextFireAt = nextFireAt
	return s.db.Store().Upsert(id, &sched)
}

func (s *Store) Close() error {
	return s.db.Close()
}
