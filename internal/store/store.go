// Package store defines the Job Store contract: the single source of
// truth for Job, JobLog, and Schedule rows, owning every compare-and-swap
// status transition. internal/store/sqlite and internal/store/badger each
// implement Store in full; callers (Job Service, Worker Runtime,
// Scheduler, Region Router, Log Stream Bus) depend only on this interface.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ternarybob/netctl/internal/models"
)

// ErrJobNotFound is returned when a job id resolves to no row.
var ErrJobNotFound = errors.New("job not found")

// ErrScheduleNotFound is returned when a schedule id resolves to no row.
var ErrScheduleNotFound = errors.New("schedule not found")

// ErrRegionNotFound is returned when a region id resolves to no row.
var ErrRegionNotFound = errors.New("region not found")

// ErrUserNotFound is returned when a user id resolves to no row.
var ErrUserNotFound = errors.New("user not found")

// ErrCredentialNotFound is returned when a credential id resolves to no row.
var ErrCredentialNotFound = errors.New("credential not found")

// JobFilters narrows ListJobs results. Zero values mean "no filter".
type JobFilters struct {
	Type     models.JobType
	Status   models.Status
	Hostname string
	Skip     int
	Limit    int
}

// StatusTimestamps carries the timestamp fields UpdateStatus may set as
// part of a single CAS write.
type StatusTimestamps struct {
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// DeviceFilters narrows the device set a job targets; this is
// models.TargetFilters scoped to one customer for store queries.
type DeviceFilters struct {
	CustomerID string
	Filters    models.TargetFilters
}

// Store is the full Job Store contract.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *models.Job) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetJobForTenant(ctx context.Context, id string, accessibleCustomerIDs []string) (*models.Job, error)
	ListJobs(ctx context.Context, accessibleCustomerIDs []string, filters JobFilters) ([]*models.Job, int, error)
	UpdateStatus(ctx context.Context, id string, fromAllowed []models.Status, to models.Status, ts StatusTimestamps, result json.RawMessage) (bool, error)
	SetRegion(ctx context.Context, id string, regionID string) error

	// Logs
	AppendLog(ctx context.Context, jobID string, level models.LogLevel, host *string, message string, extra json.RawMessage) (*models.JobLog, error)
	ListLogs(ctx context.Context, jobID string, sinceTS *time.Time, limit int) ([]*models.JobLog, error)

	// Schedules
	CreateSchedule(ctx context.Context, sched *models.Schedule) (*models.Schedule, error)
	DueSchedules(ctx context.Context, now time.Time, limit int) ([]*models.Schedule, error)
	AdvanceSchedule(ctx context.Context, id string, nextFireAt time.Time) error

	// Devices & regions, consumed by the Region Router and inventory build.
	Devices(ctx context.Context, filters DeviceFilters) ([]*models.Device, error)
	DeviceByHostname(ctx context.Context, customerID, hostname string) (*models.Device, error)
	Regions(ctx context.Context, ids []string) ([]*models.Region, error)

	// CredentialByID fetches the ciphertext credential a device references,
	// consumed by the Worker Runtime to build a devicedriver.Target.
	CredentialByID(ctx context.Context, customerID, credentialID string) (*models.Credential, error)

	// Worker Runtime outputs.
	SaveConfigSnapshot(ctx context.Context, snap *models.ConfigSnapshot) (*models.ConfigSnapshot, error)
	ConfigSnapshotsByJob(ctx context.Context, jobID string) ([]*models.ConfigSnapshot, error)
	// LatestConfigSnapshot returns the device's most recent snapshot, or
	// nil when the device has never been backed up; the config_backup
	// handler compares against it to detect drift.
	LatestConfigSnapshot(ctx context.Context, customerID, deviceID string) (*models.ConfigSnapshot, error)
	SaveComplianceResult(ctx context.Context, res *models.ComplianceResult) (*models.ComplianceResult, error)
	UpsertTopologyLink(ctx context.Context, link *models.TopologyLink) error
	CreateDiscoveredDevice(ctx context.Context, dd *models.DiscoveredDevice) (*models.DiscoveredDevice, error)

	// Tenant tables, consumed by internal/tenant.
	GetUser(ctx context.Context, userID string) (*models.User, error)
	MembershipsForUser(ctx context.Context, userID string) ([]models.Membership, error)
	IPRangesForLookup(ctx context.Context) ([]models.IPRange, error)

	// Retention, consumed by the Scheduler's retention sweep.
	PurgeLogsOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	PurgeTerminalJobsOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Reconciliation support, consumed by the Scheduler sweep.
	StaleQueuedJobs(ctx context.Context, olderThan time.Time, limit int) ([]*models.Job, error)

	// DueScheduledJobs returns jobs in status=scheduled whose ScheduledFor
	// has arrived, consumed by the Scheduler's release sweep. Distinct from
	// DueSchedules, which evaluates recurring Schedule rows.
	DueScheduledJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)

	Close() error
}
