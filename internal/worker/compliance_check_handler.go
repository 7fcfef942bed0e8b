package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/netctl/internal/jobtype"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/worker/fanout"
)

// ComplianceCheckHandler implements the compliance_check job type: run a
// named policy's rule set against each targeted host's running config and
// persist one ComplianceResult per device.
type ComplianceCheckHandler struct {
	*Runtime
}

// PolicyRule is a single required or forbidden substring check against a
// device's running config, the minimal policy representation the Worker
// Runtime evaluates; richer policy sourcing (a policy store/DSL) is out of
// scope here per the Worker Runtime's External Interfaces boundary.
type PolicyRule struct {
	Description string
	Contains    string
	MustNotHave string
}

func (h *ComplianceCheckHandler) Handle(ctx context.Context, job *models.Job, args jobtype.Args) error {
	var payload jobtype.PayloadComplianceCheck
	if err := json.Unmarshal(args.Payload, &payload); err != nil {
		h.failJob(ctx, job, fmt.Sprintf("invalid compliance_check payload: %v", err))
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
			h.Logger.Info().Str("job_id", job.ID).Msg("job cancelled, stopping compliance_check fan-out")
			break
		}
		results := fanout.Run(ctx, batch, maxFanout(h.MaxFanout), func(ctx context.Context, d *models.Device) error {
			return h.checkHost(ctx, job, d, payload.PolicyID)
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

func (h *ComplianceCheckHandler) checkHost(ctx context.Context, job *models.Job, d *models.Device, policyID string) error {
	timeout := DefaultCommandTimeout
	target, err := h.buildTarget(ctx, d, timeout)
	if err != nil {
		h.logHost(ctx, job.ID, d.Hostname, err, "Failed to prepare connection")
		return err
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	config, err := h.Driver.GetConfig(cmdCtx, target)
	if err != nil {
		h.logHost(ctx, job.ID, d.Hostname, err, "Failed to retrieve running config for compliance check")
		return err
	}

	violations := evaluatePolicy(policyID, config)
	res := &models.ComplianceResult{
		JobID:      job.ID,
		DeviceID:   d.ID,
		PolicyID:   policyID,
		Compliant:  len(violations) == 0,
		Violations: violations,
	}
	if _, err := h.Store.SaveComplianceResult(ctx, res); err != nil {
		h.logHost(ctx, job.ID, d.Hostname, err, "Failed to persist compliance result")
		return err
	}

	if len(violations) > 0 {
		h.emitEvent(ctx, job.CustomerID, models.EventComplianceViolation, res)
		err := fmt.Errorf("%d violation(s): %s", len(violations), strings.Join(violations, "; "))
		h.logHost(ctx, job.ID, d.Hostname, err, "Compliance check found violations")
		return err
	}
	h.logHost(ctx, job.ID, d.Hostname, nil, "Compliant")
	return nil
}

// builtinPolicies is a small static rule registry; rules are substring
// checks against the running config text. A richer policy store/DSL lives
// outside this runtime.
var builtinPolicies = map[string][]PolicyRule{
	"no-telnet": {
		{Description: "telnet transport disabled", MustNotHave: "transport input telnet"},
	},
	"ntp-configured": {
		{Description: "NTP server configured", Contains: "ntp server"},
	},
}

// evaluatePolicy runs policyID's rule set against config text, returning
// a human-readable violation string per failed rule. An unknown policyID
// evaluates to a single violation rather than a job-level failure —
// per-device evaluation failures stay per-host.
func evaluatePolicy(policyID, config string) []string {
	rules, ok := builtinPolicies[policyID]
	if !ok {
		return []string{fmt.Sprintf("unknown policy %q", policyID)}
	}
	var violations []string
	for _, rule := range rules {
		if rule.Contains != "" && !strings.Contains(config, rule.Contains) {
			violations = append(violations, rule.Description)
		}
		if rule.MustNotHave != "" && strings.Contains(config, rule.MustNotHave) {
			violations = append(violations, rule.Description)
		}
	}
	return violations
}
