package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/netctl/internal/jobtype"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/worker/fanout"
)

// TopologyDiscoveryHandler implements the topology_discovery job type:
// run CDP/LLDP on each host, upsert observed TopologyLink rows, and
// optionally create DiscoveredDevice rows for unknown neighbors.
type TopologyDiscoveryHandler struct {
	*Runtime
}

func (h *TopologyDiscoveryHandler) Handle(ctx context.Context, job *models.Job, args jobtype.Args) error {
	var payload jobtype.PayloadTopologyDiscovery
	if err := json.Unmarshal(args.Payload, &payload); err != nil {
		h.failJob(ctx, job, fmt.Sprintf("invalid topology_discovery payload: %v", err))
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
			h.Logger.Info().Str("job_id", job.ID).Msg("job cancelled, stopping topology_discovery fan-out")
			break
		}
		results := fanout.Run(ctx, batch, maxFanout(h.MaxFanout), func(ctx context.Context, d *models.Device) error {
			return h.discoverHost(ctx, job, d, payload.Protocol, payload.AutoCreateDevices)
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

func (h *TopologyDiscoveryHandler) discoverHost(ctx context.Context, job *models.Job, d *models.Device, protocol string, autoCreate bool) error {
	timeout := DefaultCommandTimeout
	target, err := h.buildTarget(ctx, d, timeout)
	if err != nil {
		h.logHost(ctx, job.ID, d.Hostname, err, "Failed to prepare connection")
		return err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	neighbors, err := h.Driver.DiscoverNeighbors(cmdCtx, target, protocol)
	if err != nil {
		h.logHost(ctx, job.ID, d.Hostname, err, "Neighbor discovery failed")
		return err
	}

	for _, n := range neighbors {
		link := &models.TopologyLink{
			JobID:           job.ID,
			CustomerID:      job.CustomerID,
			LocalDeviceID:   d.ID,
			LocalInterface:  n.LocalInterface,
			RemoteHostname:  n.RemoteHostname,
			RemoteInterface: n.RemoteInterface,
			Protocol:        models.Protocol(protocol),
		}
		if err := h.Store.UpsertTopologyLink(ctx, link); err != nil {
			h.logHost(ctx, job.ID, d.Hostname, err, fmt.Sprintf("Failed to record adjacency to %s", n.RemoteHostname))
			continue
		}

		if !autoCreate {
			continue
		}
		known, err := h.Store.DeviceByHostname(ctx, job.CustomerID, n.RemoteHostname)
		if err != nil {
			h.logHost(ctx, job.ID, d.Hostname, err, fmt.Sprintf("Failed to look up neighbor %s", n.RemoteHostname))
			continue
		}
		if known == nil {
			if _, err := h.Store.CreateDiscoveredDevice(ctx, &models.DiscoveredDevice{
				JobID:      job.ID,
				CustomerID: job.CustomerID,
				Hostname:   n.RemoteHostname,
			}); err != nil {
				h.logHost(ctx, job.ID, d.Hostname, err, fmt.Sprintf("Failed to record discovered device %s", n.RemoteHostname))
			}
		}
	}

	h.logHost(ctx, job.ID, d.Hostname, nil, fmt.Sprintf("Discovered %d neighbor(s)", len(neighbors)))
	return nil
}
