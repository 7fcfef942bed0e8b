package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/netctl/internal/jobtype"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/worker/fanout"
)

// CheckReachabilityHandler implements the check_reachability job type:
// probe each host and record reachable/unreachable per device.
type CheckReachabilityHandler struct {
	*Runtime
}

func (h *CheckReachabilityHandler) Handle(ctx context.Context, job *models.Job, args jobtype.Args) error {
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
			h.Logger.Info().Str("job_id", job.ID).Msg("job cancelled, stopping check_reachability fan-out")
			break
		}
		results := fanout.Run(ctx, batch, maxFanout(h.MaxFanout), func(ctx context.Context, d *models.Device) error {
			return h.probeHost(ctx, job.ID, d)
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

func (h *CheckReachabilityHandler) probeHost(ctx context.Context, jobID string, d *models.Device) error {
	timeout := DefaultCommandTimeout
	target, err := h.buildTarget(ctx, d, timeout)
	if err != nil {
		h.logHost(ctx, jobID, d.Hostname, err, "Failed to prepare connection")
		return err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	reachable, latency, err := h.Driver.CheckReachable(cmdCtx, target)
	if err != nil || !reachable {
		if err == nil {
			err = fmt.Errorf("device unreachable")
		}
		h.logHost(ctx, jobID, d.Hostname, err, "Reachability check failed")
		return err
	}

	h.logHost(ctx, jobID, d.Hostname, nil, fmt.Sprintf("Reachable (%s)", latency))
	return nil
}
