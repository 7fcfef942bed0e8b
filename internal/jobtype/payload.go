// Package jobtype is the statically checked registry the Design Notes call
// for in place of stringly-typed payload dicts: one Go struct per job type,
// validated at both create and execute boundaries, plus the
// jobType -> (task name, argument builder) table that is the contract
// between the API and the worker tier.
package jobtype

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/netctl/internal/models"
)

// PayloadRunCommands is the run_commands job's parameters.
type PayloadRunCommands struct {
	Commands       []string `json:"commands" validate:"required,min=1,dive,required"`
	TimeoutSeconds int      `json:"timeout,omitempty" validate:"omitempty,min=1"`
}

// PayloadConfigBackup is the config_backup job's parameters.
type PayloadConfigBackup struct {
	SourceLabel string `json:"source_label,omitempty"`
}

// PayloadConfigDeployPreview is the config_deploy_preview job's parameters.
type PayloadConfigDeployPreview struct {
	Mode    string `json:"mode" validate:"required,oneof=merge replace"`
	Snippet string `json:"snippet" validate:"required"`
}

// PayloadConfigDeployCommit is the config_deploy_commit job's parameters.
// PreviousJobID must reference a config_deploy_preview job that succeeded
// within the same customer (enforced by the Job Service, not here).
type PayloadConfigDeployCommit struct {
	Mode          string `json:"mode" validate:"required,oneof=merge replace"`
	Snippet       string `json:"snippet" validate:"required"`
	PreviousJobID string `json:"previous_job_id" validate:"required"`
}

// PayloadComplianceCheck is the compliance_check job's parameters.
type PayloadComplianceCheck struct {
	PolicyID string `json:"policy_id" validate:"required"`
}

// PayloadTopologyDiscovery is the topology_discovery job's parameters.
type PayloadTopologyDiscovery struct {
	Protocol          string `json:"protocol" validate:"required,oneof=cdp lldp both"`
	AutoCreateDevices bool   `json:"auto_create_devices,omitempty"`
}

// PayloadCheckReachability is the check_reachability job's parameters; it
// carries no fields beyond the job's TargetSummary.
type PayloadCheckReachability struct{}

// ResultRunHost is one host's outcome in a run_commands result summary.
type ResultRunHost struct {
	CommandsRun int      `json:"commands_run"`
	Failures    []string `json:"failures,omitempty"`
}

// ResultRunCommands is the run_commands terminal result summary.
type ResultRunCommands struct {
	Commands int                      `json:"commands"`
	Targets  models.TargetFilters     `json:"targets"`
	PerHost  map[string]ResultRunHost `json:"per_host"`
}

// ResultError is the terminal result summary for a job-level failure
// (inventory build failure, policy load failure, empty inventory).
type ResultError struct {
	Error string `json:"error"`
}

// ResultHostTally is the terminal result summary shared by job types
// whose detailed per-device output already lives in its own table
// (ConfigSnapshot, ComplianceResult, TopologyLink) rather than the job's
// ResultSummary column: config_backup, config_deploy_preview,
// config_deploy_commit, compliance_check, topology_discovery,
// check_reachability.
type ResultHostTally struct {
	Targets   models.TargetFilters `json:"targets"`
	Processed int                  `json:"processed"`
	Failed    int                  `json:"failed"`
}

// UnmarshalPayload decodes raw into a pointer-typed payload struct for the
// given job type, returning ErrUnknownType for an unrecognized type.
func UnmarshalPayload(t models.JobType, raw json.RawMessage) (interface{}, error) {
	def, ok := Registry[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	payload := def.NewPayload()
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("decode payload for %s: %w", t, err)
	}
	return payload, nil
}
