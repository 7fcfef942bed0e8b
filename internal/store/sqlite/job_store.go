package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
)

// JobStore implements store.Store over a SQLite database. Writes are
// serialized by mu in addition to the single-connection pool; reads are
// unguarded.
type JobStore struct {
	db     *DB
	logger arbor.ILogger
	mu     sync.Mutex
}

// New creates a Store backed by db.
func New(db *DB, logger arbor.ILogger) store.Store {
	return &JobStore{db: db, logger: logger}
}

// Raw exposes the underlying database handle. Provisioning/import tooling
// and tests seed tenant, device, and credential rows through it; job
// execution never touches it.
func (s *JobStore) Raw() *sql.DB {
	return s.db.Raw()
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeFromNullable(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringFromNullable(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

// CreateJob inserts job, assigning a fresh ID and RequestedAt if unset.
func (s *JobStore) CreateJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = time.Now().UTC()
	}

	targetJSON, err := json.Marshal(job.TargetSummary)
	if err != nil {
		return nil, fmt.Errorf("marshal target summary: %w", err)
	}
	if job.Payload == nil {
		job.Payload = json.RawMessage("{}")
	}

	err = retryBusy(ctx, s.logger, func() error {
		_, err := s.db.Raw().ExecContext(ctx, `
			INSERT INTO jobs (id, type, status, customer_id, user_id, region_id, target_summary, payload,
				result_summary, requested_at, scheduled_for, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			job.ID, string(job.Type), string(job.Status), job.CustomerID, job.UserID,
			nullableString(job.RegionID), string(targetJSON), string(job.Payload),
			nullRawMessage(job.ResultSummary), job.RequestedAt.UnixMilli(),
			nullableTime(job.ScheduledFor), nullableTime(job.StartedAt), nullableTime(job.FinishedAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func nullRawMessage(r json.RawMessage) sql.NullString {
	if len(r) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(r), Valid: true}
}

const jobColumns = `id, type, status, customer_id, user_id, region_id, target_summary, payload,
	result_summary, requested_at, scheduled_for, started_at, finished_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*models.Job, error) {
	var (
		j                                   models.Job
		typ, status                         string
		regionID, resultSummary             sql.NullString
		targetJSON, payload                 string
		requestedAt                         int64
		scheduledFor, startedAt, finishedAt sql.NullInt64
	)
	if err := row.Scan(&j.ID, &typ, &status, &j.CustomerID, &j.UserID, &regionID, &targetJSON, &payload,
		&resultSummary, &requestedAt, &scheduledFor, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	j.Type = models.JobType(typ)
	j.Status = models.Status(status)
	j.RegionID = stringFromNullable(regionID)
	j.Payload = json.RawMessage(payload)
	if resultSummary.Valid {
		j.ResultSummary = json.RawMessage(resultSummary.String)
	}
	if err := json.Unmarshal([]byte(targetJSON), &j.TargetSummary); err != nil {
		return nil, fmt.Errorf("unmarshal target summary: %w", err)
	}
	j.RequestedAt = time.UnixMilli(requestedAt).UTC()
	j.ScheduledFor = timeFromNullable(scheduledFor)
	j.StartedAt = timeFromNullable(startedAt)
	j.FinishedAt = timeFromNullable(finishedAt)
	return &j, nil
}

// GetJob fetches a job by id, regardless of tenant.
func (s *JobStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.Raw().QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetJobForTenant fetches a job, scoped to accessibleCustomerIDs.
func (s *JobStore) GetJobForTenant(ctx context.Context, id string, accessibleCustomerIDs []string) (*models.Job, error) {
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

// ListJobs returns jobs visible to accessibleCustomerIDs matching filters,
// ordered by requested_at descending, plus the total matching count.
func (s *JobStore) ListJobs(ctx context.Context, accessibleCustomerIDs []string, filters store.JobFilters) ([]*models.Job, int, error) {
	if len(accessibleCustomerIDs) == 0 {
		return nil, 0, nil
	}

	where := []string{inClause("customer_id", len(accessibleCustomerIDs))}
	args := make([]interface{}, 0, len(accessibleCustomerIDs)+4)
	for _, id := range accessibleCustomerIDs {
		args = append(args, id)
	}
	if filters.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filters.Type))
	}
	if filters.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filters.Status))
	}
	if filters.Hostname != "" {
		where = append(where, "target_summary LIKE ?")
		args = append(args, "%"+filters.Hostname+"%")
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	if err := s.db.Raw().QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	queryArgs := append(append([]interface{}{}, args...), limit, filters.Skip)
	rows, err := s.db.Raw().QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE "+whereClause+" ORDER BY requested_at DESC LIMIT ? OFFSET ?",
		queryArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

func inClause(column string, n int) string {
	placeholders := make([]string, n)
	for i := range placeholders {
		placeholders[i] = "?"
	}
	return column + " IN (" + strings.Join(placeholders, ",") + ")"
}

// UpdateStatus performs the compare-and-swap write that is the only legal
// way to move a job between statuses: the UPDATE only applies if the
// current status is one of fromAllowed.
func (s *JobStore) UpdateStatus(ctx context.Context, id string, fromAllowed []models.Status, to models.Status, ts store.StatusTimestamps, result json.RawMessage) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(fromAllowed) == 0 {
		return false, fmt.Errorf("no allowed source statuses given")
	}

	setClauses := []string{"status = ?"}
	args := []interface{}{string(to)}
	if ts.StartedAt != nil {
		setClauses = append(setClauses, "started_at = ?")
		args = append(args, ts.StartedAt.UnixMilli())
	}
	if ts.FinishedAt != nil {
		setClauses = append(setClauses, "finished_at = ?")
		args = append(args, ts.FinishedAt.UnixMilli())
	}
	if result != nil {
		setClauses = append(setClauses, "result_summary = ?")
		args = append(args, string(result))
	}

	where := "id = ? AND " + inClause("status", len(fromAllowed))
	args = append(args, id)
	for _, from := range fromAllowed {
		args = append(args, string(from))
	}

	query := "UPDATE jobs SET " + strings.Join(setClauses, ", ") + " WHERE " + where

	var affected int64
	err := retryBusy(ctx, s.logger, func() error {
		res, err := s.db.Raw().ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetRegion records the routed region on a job. It must only be called
// before dispatch; callers enforce that, not this method.
func (s *JobStore) SetRegion(ctx context.Context, id string, regionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return retryBusy(ctx, s.logger, func() error {
		_, err := s.db.Raw().ExecContext(ctx, "UPDATE jobs SET region_id = ? WHERE id = ?", regionID, id)
		return err
	})
}

// AppendLog inserts an immutable JobLog row with a server-assigned,
// millisecond-precision UTC timestamp.
func (s *JobStore) AppendLog(ctx context.Context, jobID string, level models.LogLevel, host *string, message string, extra json.RawMessage) (*models.JobLog, error) {
	entry := &models.JobLog{
		ID:      uuid.New().String(),
		JobID:   jobID,
		TS:      time.Now().UTC().Truncate(time.Millisecond),
		Level:   level,
		Host:    host,
		Message: message,
		Extra:   extra,
	}
	err := retryBusy(ctx, s.logger, func() error {
		_, err := s.db.Raw().ExecContext(ctx,
			"INSERT INTO job_logs (id, job_id, ts, level, host, message, extra) VALUES (?, ?, ?, ?, ?, ?, ?)",
			entry.ID, entry.JobID, entry.TS.UnixMilli(), string(entry.Level), nullableString(entry.Host), entry.Message, nullRawMessage(entry.Extra))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("append log: %w", err)
	}
	return entry, nil
}

// ListLogs returns logs for jobID strictly time-ascending, optionally
// filtered to ts > sinceTS, used for both initial replay and tailing.
func (s *JobStore) ListLogs(ctx context.Context, jobID string, sinceTS *time.Time, limit int) ([]*models.JobLog, error) {
	query := "SELECT id, job_id, ts, level, host, message, extra FROM job_logs WHERE job_id = ?"
	args := []interface{}{jobID}
	if sinceTS != nil {
		query += " AND ts > ?"
		args = append(args, sinceTS.UnixMilli())
	}
	query += " ORDER BY ts ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Raw().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.JobLog
	for rows.Next() {
		var (
			l           models.JobLog
			level       string
			host, extra sql.NullString
			ts          int64
		)
		if err := rows.Scan(&l.ID, &l.JobID, &ts, &level, &host, &l.Message, &extra); err != nil {
			return nil, err
		}
		l.TS = time.UnixMilli(ts).UTC()
		l.Level = models.LogLevel(level)
		l.Host = stringFromNullable(host)
		if extra.Valid {
			l.Extra = json.RawMessage(extra.String)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// CreateSchedule inserts sched, assigning a fresh ID if unset.
func (s *JobStore) CreateSchedule(ctx context.Context, sched *models.Schedule) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sched.ID == "" {
		sched.ID = uuid.New().String()
	}
	targetJSON, err := json.Marshal(sched.TargetSummary)
	if err != nil {
		return nil, fmt.Errorf("marshal target summary: %w", err)
	}
	if sched.Payload == nil {
		sched.Payload = json.RawMessage("{}")
	}

	err = retryBusy(ctx, s.logger, func() error {
		_, err := s.db.Raw().ExecContext(ctx, `
			INSERT INTO schedules (id, customer_id, job_type, target_summary, payload, cron,
				interval_seconds, next_fire_at, enabled)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sched.ID, sched.CustomerID, string(sched.JobType), string(targetJSON), string(sched.Payload),
			nullableString(sched.Cron), nullableInt(sched.IntervalSeconds), sched.NextFireAt.UnixMilli(), sched.Enabled)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}
	return sched, nil
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intFromNullable(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func scanSchedule(row interface{ Scan(...interface{}) error }) (*models.Schedule, error) {
	var (
		sched               models.Schedule
		jobType             string
		targetJSON, payload string
		cron                sql.NullString
		intervalSeconds     sql.NullInt64
		nextFireAt          int64
		enabled             int
	)
	if err := row.Scan(&sched.ID, &sched.CustomerID, &jobType, &targetJSON, &payload, &cron,
		&intervalSeconds, &nextFireAt, &enabled); err != nil {
		return nil, err
	}
	sched.JobType = models.JobType(jobType)
	sched.Payload = json.RawMessage(payload)
	sched.Cron = stringFromNullable(cron)
	sched.IntervalSeconds = intFromNullable(intervalSeconds)
	sched.NextFireAt = time.UnixMilli(nextFireAt).UTC()
	sched.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(targetJSON), &sched.TargetSummary); err != nil {
		return nil, fmt.Errorf("unmarshal target summary: %w", err)
	}
	return &sched, nil
}

const scheduleColumns = `id, customer_id, job_type, target_summary, payload, cron, interval_seconds, next_fire_at, enabled`

// DueSchedules returns enabled schedules whose next_fire_at has elapsed,
// ordered oldest-first, for the Scheduler's release sweep.
func (s *JobStore) DueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Raw().QueryContext(ctx,
		"SELECT "+scheduleColumns+" FROM schedules WHERE enabled = 1 AND next_fire_at <= ? ORDER BY next_fire_at ASC LIMIT ?",
		now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, rows.Err()
}

// AdvanceSchedule moves a schedule's next_fire_at forward after it fires.
func (s *JobStore) AdvanceSchedule(ctx context.Context, id string, nextFireAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return retryBusy(ctx, s.logger, func() error {
		res, err := s.db.Raw().ExecContext(ctx, "UPDATE schedules SET next_fire_at = ? WHERE id = ?",
			nextFireAt.UnixMilli(), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrScheduleNotFound
		}
		return nil
	})
}

// Devices returns devices visible to filters.CustomerID matching
// filters.Filters, the inventory the Region Router and Worker fan-out
// operate over.
func (s *JobStore) Devices(ctx context.Context, filters store.DeviceFilters) ([]*models.Device, error) {
	where := []string{"customer_id = ?", "enabled = 1"}
	args := []interface{}{filters.CustomerID}

	f := filters.Filters
	if f.Site != "" {
		where = append(where, "site = ?")
		args = append(args, f.Site)
	}
	if f.Role != "" {
		where = append(where, "role = ?")
		args = append(args, f.Role)
	}
	if f.Vendor != "" {
		where = append(where, "vendor = ?")
		args = append(args, f.Vendor)
	}
	if f.Hostname != "" {
		where = append(where, "hostname = ?")
		args = append(args, f.Hostname)
	}
	if len(f.DeviceIDs) > 0 {
		where = append(where, inClause("id", len(f.DeviceIDs)))
		for _, id := range f.DeviceIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.Raw().QueryContext(ctx,
		"SELECT id, customer_id, hostname, management_ip, vendor, platform, role, site, tags, enabled, region_id, credential_id, extra, created_at FROM devices WHERE "+strings.Join(where, " AND "),
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		var (
			d                                 models.Device
			role, site, tags, regionID, extra sql.NullString
			enabled                           int
			createdAt                         int64
		)
		if err := rows.Scan(&d.ID, &d.CustomerID, &d.Hostname, &d.ManagementIP, &d.Vendor, &d.Platform,
			&role, &site, &tags, &enabled, &regionID, &d.CredentialID, &extra, &createdAt); err != nil {
			return nil, err
		}
		d.Role = role.String
		d.Site = site.String
		d.Enabled = enabled != 0
		d.RegionID = stringFromNullable(regionID)
		d.CreatedAt = time.UnixMilli(createdAt).UTC()
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &d.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		if extra.Valid && extra.String != "" {
			if err := json.Unmarshal([]byte(extra.String), &d.Extra); err != nil {
				return nil, fmt.Errorf("unmarshal extra: %w", err)
			}
		}
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}

// Regions returns the regions identified by ids, or every region when ids
// is empty.
func (s *JobStore) Regions(ctx context.Context, ids []string) ([]*models.Region, error) {
	query := "SELECT id, identifier, name, priority, enabled, health FROM regions"
	var args []interface{}
	if len(ids) > 0 {
		query += " WHERE " + inClause("id", len(ids))
		for _, id := range ids {
			args = append(args, id)
		}
	}
	rows, err := s.db.Raw().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var regions []*models.Region
	for rows.Next() {
		var (
			r       models.Region
			health  string
			enabled int
		)
		if err := rows.Scan(&r.ID, &r.Identifier, &r.Name, &r.Priority, &enabled, &health); err != nil {
			return nil, err
		}
		r.Enabled = enabled != 0
		r.Health = models.Health(health)
		regions = append(regions, &r)
	}
	return regions, rows.Err()
}

// GetUser fetches a user by id.
func (s *JobStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var (
		u         models.User
		active    int
		createdAt int64
	)
	err := s.db.Raw().QueryRowContext(ctx, "SELECT id, email, active, created_at FROM users WHERE id = ?", userID).
		Scan(&u.ID, &u.Email, &active, &createdAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Active = active != 0
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &u, nil
}

// MembershipsForUser returns every customer a user belongs to, with their
// scoped role.
func (s *JobStore) MembershipsForUser(ctx context.Context, userID string) ([]models.Membership, error) {
	rows, err := s.db.Raw().QueryContext(ctx,
		"SELECT user_id, customer_id, role FROM memberships WHERE user_id = ?", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Membership
	for rows.Next() {
		var m models.Membership
		var role string
		if err := rows.Scan(&m.UserID, &m.CustomerID, &role); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

// IPRangesForLookup returns every IP range, for the tenant resolver's CIDR
// containment scan.
func (s *JobStore) IPRangesForLookup(ctx context.Context) ([]models.IPRange, error) {
	rows, err := s.db.Raw().QueryContext(ctx, "SELECT id, customer_id, cidr FROM ip_ranges")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.IPRange
	for rows.Next() {
		var r models.IPRange
		if err := rows.Scan(&r.ID, &r.CustomerID, &r.CIDR); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PurgeLogsOlderThan deletes job_logs rows older than cutoff, per the
// 30-day log retention policy.
func (s *JobStore) PurgeLogsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	err := retryBusy(ctx, s.logger, func() error {
		res, err := s.db.Raw().ExecContext(ctx, "DELETE FROM job_logs WHERE ts < ?", cutoff.UnixMilli())
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return int(affected), err
}

// PurgeTerminalJobsOlderThan deletes terminal jobs (and their logs, via
// manual cascade since SQLite foreign keys do not cascade across these
// tables) finished before cutoff, per the 180-day job retention policy.
func (s *JobStore) PurgeTerminalJobsOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected int64
	err := retryBusy(ctx, s.logger, func() error {
		tx, err := s.db.Raw().BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		terminalStatuses := []models.Status{models.StatusSuccess, models.StatusPartial, models.StatusFailed, models.StatusCancelled}
		args := []interface{}{cutoff.UnixMilli()}
		for _, st := range terminalStatuses {
			args = append(args, string(st))
		}
		query := "SELECT id FROM jobs WHERE finished_at < ? AND " + inClause("status", len(terminalStatuses))
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return tx.Commit()
		}

		idArgs := make([]interface{}, len(ids))
		for i, id := range ids {
			idArgs[i] = id
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM job_logs WHERE "+inClause("job_id", len(ids)), idArgs...); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE "+inClause("id", len(ids)), idArgs...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	return int(affected), err
}

// StaleQueuedJobs returns jobs still in a non-terminal status whose
// requested_at is older than olderThan, the elapsed-time heuristic the
// Scheduler's reconciliation sweep uses in place of broker introspection.
func (s *JobStore) StaleQueuedJobs(ctx context.Context, olderThan time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Raw().QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE status IN ('queued', 'running') AND requested_at < ? ORDER BY requested_at ASC LIMIT ?",
		olderThan.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DueScheduledJobs returns jobs in status=scheduled whose scheduled_for
// has arrived, for the Scheduler's release sweep.
func (s *JobStore) DueScheduledJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Raw().QueryContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE status = 'scheduled' AND scheduled_for <= ? ORDER BY scheduled_for ASC LIMIT ?",
		now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *JobStore) Close() error {
	return s.db.Close()
}
