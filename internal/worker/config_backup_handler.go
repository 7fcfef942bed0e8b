package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/netctl/internal/jobtype"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/worker/fanout"
)

// ConfigBackupHandler implements the config_backup job type: retrieve
// each host's running config and persist a ConfigSnapshot.
type ConfigBackupHandler struct {
	*Runtime
}

func (h *ConfigBackupHandler) Handle(ctx context.Context, job *models.Job, args jobtype.Args) error {
	var payload jobtype.PayloadConfigBackup
	if err := json.Unmarshal(args.Payload, &payload); err != nil {
		h.failJob(ctx, job, fmt.Sprintf("invalid config_backup payload: %v", err))
		return nil
	}
	if err := h.Jobs.SetStatus(ctx, job.ID, models.StatusRunning, nil); err != nil {
		return err
	}

	devices, err := h.buildInventory(ctx, job.CustomerID, args.TargetSummary)
	if err != nil {
		h.failJob(ctx, job, fmt.Sprintf("inventory build failed: %v", err))
		return nil
	}
	if len(devices) == 0 {
		h.failEmptyInventory(ctx, job)
		return nil
	}

	failedCount, processed := 0, 0
	for _, batch := range chunkDevices(devices, maxFanout(h.MaxFanout)) {
		if h.isCancelled(ctx, job.ID) {
			h.Logger.Info().Str("job_id", job.ID).Msg("job cancelled, stopping config_backup fan-out")
			break
		}
		results := fanout.Run(ctx, batch, maxFanout(h.MaxFanout), func(ctx context.Context, d *models.Device) error {
			return h.backupHost(ctx, job, d)
		})
		for _, res := range results {
			processed++
			if res.Err != nil {
				failedCount++
			}
		}
	}

	result, _ := json.Marshal(jobtype.ResultHostTally{Targets: args.TargetSummary, Processed: processed, Failed: failedCount})
	return h.finishJob(ctx, job, processed, failedCount, result)
}

func (h *ConfigBackupHandler) backupHost(ctx context.Context, job *models.Job, d *models.Device) error {
	timeout := DefaultCommandTimeout
	target, err := h.buildTarget(ctx, d, timeout)
	if err != nil {
		h.logHost(ctx, job.ID, d.Hostname, err, "Failed to prepare connection")
		return err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	text, err := h.Driver.GetConfig(cmdCtx, target)
	if err != nil {
		h.logHost(ctx, job.ID, d.Hostname, err, "Failed to retrieve running config")
		return err
	}

	// Previous snapshot is read before the new one lands, so the drift
	// comparison never races the row it just wrote.
	prev, err := h.Store.LatestConfigSnapshot(ctx, job.CustomerID, d.ID)
	if err != nil {
		h.Logger.Warn().Str("job_id", job.ID).Str("host", d.Hostname).Err(err).Msg("failed to load previous snapshot for drift check")
		prev = nil
	}

	snap := &models.ConfigSnapshot{
		JobID:      job.ID,
		DeviceID:   d.ID,
		CustomerID: job.CustomerID,
		Text:       text,
		Hash:       sha256Hex(text),
	}
	if _, err := h.Store.SaveConfigSnapshot(ctx, snap); err != nil {
		h.logHost(ctx, job.ID, d.Hostname, err, "Failed to persist config snapshot")
		return err
	}

	if prev != nil && prev.Hash != snap.Hash {
		h.logHost(ctx, job.ID, d.Hostname, nil, fmt.Sprintf("Configuration drift detected (previous %.12s, current %.12s)", prev.Hash, snap.Hash))
		h.emitEvent(ctx, job.CustomerID, models.EventDriftDetected, snap)
	}

	h.logHost(ctx, job.ID, d.Hostname, nil, fmt.Sprintf("Backed up config (%d bytes)", len(text)))
	return nil
}
