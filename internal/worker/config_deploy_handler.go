package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/netctl/internal/jobtype"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/worker/fanout"
)

// ConfigDeployHandler implements both config_deploy_preview and
// config_deploy_commit: DryRun distinguishes the two — preview records a
// diff without applying, commit applies for real.
type ConfigDeployHandler struct {
	*Runtime
	DryRun bool
}

func (h *ConfigDeployHandler) Handle(ctx context.Context, job *models.Job, args jobtype.Args) error {
	var payload jobtype.PayloadConfigDeployPreview
	if !h.DryRun {
		var commit jobtype.PayloadConfigDeployCommit
		if err := json.Unmarshal(args.Payload, &commit); err != nil {
			h.failJob(ctx, job, fmt.Sprintf("invalid config_deploy_commit payload: %v", err))
			return nil
		}
		payload = jobtype.PayloadConfigDeployPreview{Mode: commit.Mode, Snippet: commit.Snippet}
	} else if err := json.Unmarshal(args.Payload, &payload); err != nil {
		h.failJob(ctx, job, fmt.Sprintf("invalid config_deploy_preview payload: %v", err))
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
			h.Logger.Info().Str("job_id", job.ID).Msg("job cancelled, stopping config deploy fan-out")
			break
		}
		results := fanout.Run(ctx, batch, maxFanout(h.MaxFanout), func(ctx context.Context, d *models.Device) error {
			return h.deployHost(ctx, job, d, payload.Mode, payload.Snippet)
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

func (h *ConfigDeployHandler) deployHost(ctx context.Context, job *models.Job, d *models.Device, mode, snippet string) error {
	timeout := DefaultCommandTimeout
	target, err := h.buildTarget(ctx, d, timeout)
	if err != nil {
		h.logHost(ctx, job.ID, d.Hostname, err, "Failed to prepare connection")
		return err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	diff, err := h.Driver.ApplyConfig(cmdCtx, target, mode, snippet, h.DryRun)
	if err != nil {
		action := "commit"
		if h.DryRun {
			action = "preview"
		}
		h.logHost(ctx, job.ID, d.Hostname, err, fmt.Sprintf("Config %s failed", action))
		return err
	}

	verb := "Committed"
	if h.DryRun {
		verb = "Previewed"
	}
	h.logHost(ctx, job.ID, d.Hostname, nil, fmt.Sprintf("%s config change:\n%s", verb, diff))
	return nil
}
