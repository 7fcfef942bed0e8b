// Package worker is the Worker Runtime: a WorkerPool that polls broker
// queues and dispatches to a per-JobType Handler, plus the seven concrete
// handlers themselves. Each handler fans out per-host device work under a
// bounded concurrency cap and reports per-host outcomes as job logs.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/credstore"
	"github.com/ternarybob/netctl/internal/devicedriver"
	"github.com/ternarybob/netctl/internal/jobservice"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
	"github.com/ternarybob/netctl/internal/worker/fanout"
)

// DefaultCommandTimeout bounds a per-host command when a payload omits
// TimeoutSeconds.
const DefaultCommandTimeout = 30 * time.Second

// Runtime bundles the dependencies every job-type Handler needs: Job Store
// access for inventory/output/log writes, the Job Service for CAS status
// transitions, a DeviceDriver for the actual device I/O, a credential Box
// to decrypt device secrets at handler entry, and an EventEmitter for the
// finding-level notifications (compliance violations, config drift) that
// handlers produce in addition to the Job Service's lifecycle events.
type Runtime struct {
	Store     store.Store
	Jobs      *jobservice.Service
	Events    jobservice.EventEmitter
	Driver    devicedriver.Driver
	Creds     *credstore.Box
	Logger    arbor.ILogger
	MaxFanout int
}

// emitEvent publishes a notification event from handler context. A nil
// emitter or a failed emit never affects the job outcome.
func (r *Runtime) emitEvent(ctx context.Context, customerID string, eventType models.EventType, payload interface{}) {
	if r.Events == nil {
		return
	}
	evt := models.Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		CustomerID: customerID,
		Payload:    payload,
	}
	if err := r.Events.Emit(ctx, evt); err != nil {
		r.Logger.Warn().Str("event_type", string(eventType)).Err(err).Msg("event emission failed")
	}
}

// buildInventory resolves the devices a job's filters select (the same
// predicate set the Region Router uses, minus region scoping).
func (r *Runtime) buildInventory(ctx context.Context, customerID string, filters models.TargetFilters) ([]*models.Device, error) {
	return r.Store.Devices(ctx, store.DeviceFilters{CustomerID: customerID, Filters: filters})
}

// buildTarget decrypts d's credential into a devicedriver.Target snapshot,
// taken once at handler entry and never re-fetched mid-job.
func (r *Runtime) buildTarget(ctx context.Context, d *models.Device, timeout time.Duration) (devicedriver.Target, error) {
	cred, err := r.Store.CredentialByID(ctx, d.CustomerID, d.CredentialID)
	if err != nil {
		return devicedriver.Target{}, fmt.Errorf("load credential for %s: %w", d.Hostname, err)
	}
	password, err := r.Creds.Open(cred.EncryptedPassword)
	if err != nil {
		return devicedriver.Target{}, fmt.Errorf("decrypt password for %s: %w", d.Hostname, err)
	}
	enable, err := r.Creds.Open(cred.EncryptedEnablePasswd)
	if err != nil {
		return devicedriver.Target{}, fmt.Errorf("decrypt enable password for %s: %w", d.Hostname, err)
	}
	return devicedriver.Target{
		Hostname:       d.Hostname,
		ManagementIP:   d.ManagementIP,
		Vendor:         d.Vendor,
		Platform:       d.Platform,
		Username:       cred.Username,
		Password:       string(password),
		EnablePassword: string(enable),
		Timeout:        timeout,
	}, nil
}

// commandTimeout resolves a payload's optional TimeoutSeconds against
// the default.
func commandTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultCommandTimeout
	}
	return time.Duration(seconds) * time.Second
}

// isCancelled re-reads job status for the between-batches cooperative-
// abort check; it never fails the caller on a read error.
func (r *Runtime) isCancelled(ctx context.Context, jobID string) bool {
	job, err := r.Store.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Status == models.StatusCancelled
}

// logHost appends one per-host log row, INFO on success or ERROR on
// failure, carrying the host in the Host column.
func (r *Runtime) logHost(ctx context.Context, jobID, hostname string, err error, message string) {
	level := models.LogInfo
	if err != nil {
		level = models.LogError
		message = fmt.Sprintf("%s: %v", message, err)
	}
	if _, logErr := r.Store.AppendLog(ctx, jobID, level, &hostname, message, nil); logErr != nil {
		r.Logger.Warn().Str("job_id", jobID).Str("host", hostname).Err(logErr).Msg("failed to append job log")
	}
}

// failEmptyInventory handles an empty inventory: one ERROR log naming
// the miss, then terminal failed with the canonical "no devices" result
// summary.
func (r *Runtime) failEmptyInventory(ctx context.Context, job *models.Job) {
	if _, err := r.Store.AppendLog(ctx, job.ID, models.LogError, nil, "No devices matched targets", nil); err != nil {
		r.Logger.Warn().Str("job_id", job.ID).Err(err).Msg("failed to append empty-inventory log")
	}
	result, _ := json.Marshal(map[string]string{"error": "no devices"})
	if err := r.Jobs.SetStatus(ctx, job.ID, models.StatusFailed, result); err != nil {
		r.Logger.Error().Str("job_id", job.ID).Err(err).Msg("failed to set job failed status")
	}
}

// failJob transitions job to failed with a job-level error (inventory
// build failure, malformed payload).
func (r *Runtime) failJob(ctx context.Context, job *models.Job, reason string) {
	if _, err := r.Store.AppendLog(ctx, job.ID, models.LogError, nil, reason, nil); err != nil {
		r.Logger.Warn().Str("job_id", job.ID).Err(err).Msg("failed to append failure log")
	}
	result, _ := json.Marshal(map[string]string{"error": reason})
	if err := r.Jobs.SetStatus(ctx, job.ID, models.StatusFailed, result); err != nil {
		r.Logger.Error().Str("job_id", job.ID).Err(err).Msg("failed to set job failed status")
	}
}

// finishJob sets job's terminal status from its per-host outcome tally,
// unless cancellation was already observed between batches — in that case
// the cancelled status set elsewhere is left alone rather than clobbered
// by a would-be success/partial/failed transition the status machine
// would reject anyway.
func (r *Runtime) finishJob(ctx context.Context, job *models.Job, processed, failed int, result json.RawMessage) error {
	if r.isCancelled(ctx, job.ID) {
		return nil
	}
	return r.Jobs.SetStatus(ctx, job.ID, terminalStatus(processed, failed), result)
}

// terminalStatus chooses the terminal status from per-host outcomes:
// failed if every host failed, partial if some did, success if none did.
func terminalStatus(total, failed int) models.Status {
	switch {
	case total == 0:
		return models.StatusFailed
	case failed == 0:
		return models.StatusSuccess
	case failed == total:
		return models.StatusFailed
	default:
		return models.StatusPartial
	}
}

// chunkDevices splits devices into sequential batches of at most size,
// so a handler's cooperative-cancellation check runs between concurrent
// fan-out rounds, never mid-host.
func chunkDevices(devices []*models.Device, size int) [][]*models.Device {
	if size <= 0 {
		size = len(devices)
	}
	var batches [][]*models.Device
	for i := 0; i < len(devices); i += size {
		end := i + size
		if end > len(devices) {
			end = len(devices)
		}
		batches = append(batches, devices[i:end])
	}
	return batches
}

func maxFanout(n int) int {
	if n <= 0 {
		return fanout.DefaultMaxConcurrency
	}
	return n
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
