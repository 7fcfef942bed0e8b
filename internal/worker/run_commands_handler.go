package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/netctl/internal/jobtype"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/worker/fanout"
)

// RunCommandsHandler implements the run_commands job type: execute a
// fixed command list on every targeted host.
type RunCommandsHandler struct {
	*Runtime
}

func (h *RunCommandsHandler) Handle(ctx context.Context, job *models.Job, args jobtype.Args) error {
	var payload jobtype.PayloadRunCommands
	if err := json.Unmarshal(args.Payload, &payload); err != nil {
		h.failJob(ctx, job, fmt.Sprintf("invalid run_commands payload: %v", err))
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

	timeout := commandTimeout(payload.TimeoutSeconds)
	perHost := make(map[string]jobtype.ResultRunHost, len(devices))
	failedCount, processed := 0, 0

	for _, batch := range chunkDevices(devices, maxFanout(h.MaxFanout)) {
		if h.isCancelled(ctx, job.ID) {
			h.Logger.Info().Str("job_id", job.ID).Msg("job cancelled, stopping run_commands fan-out")
			break
		}
		results := fanout.Run(ctx, batch, maxFanout(h.MaxFanout), func(ctx context.Context, d *models.Device) error {
			return h.runCommandsOnHost(ctx, job.ID, d, payload.Commands, timeout)
		})
		for _, res := range results {
			processed++
			hr := jobtype.ResultRunHost{CommandsRun: len(payload.Commands)}
			if res.Err != nil {
				failedCount++
				hr.Failures = []string{res.Err.Error()}
			}
			perHost[res.Item.Hostname] = hr
		}
	}

	result := jobtype.ResultRunCommands{
		Commands: len(payload.Commands),
		Targets:  args.TargetSummary,
		PerHost:  perHost,
	}
	resultJSON, _ := json.Marshal(result)
	return h.finishJob(ctx, job, processed, failedCount, resultJSON)
}

func (h *RunCommandsHandler) runCommandsOnHost(ctx context.Context, jobID string, d *models.Device, commands []string, timeout time.Duration) error {
	target, err := h.buildTarget(ctx, d, timeout)
	if err != nil {
		h.logHost(ctx, jobID, d.Hostname, err, "Failed to prepare connection")
		return err
	}
	for _, cmd := range commands {
		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		_, err := h.Driver.RunCommand(cmdCtx, target, cmd)
		cancel()
		if err != nil {
			h.logHost(ctx, jobID, d.Hostname, err, fmt.Sprintf("Command failed: %s", cmd))
			return err
		}
	}
	h.logHost(ctx, jobID, d.Hostname, nil, fmt.Sprintf("Ran %d commands", len(commands)))
	return nil
}
