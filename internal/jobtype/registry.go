package jobtype

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/netctl/internal/models"
)

// ErrUnknownType is returned when a job type has no registry entry.
var ErrUnknownType = errors.New("unknown job type")

var validate = validator.New()

// Args is the minimal argument tuple a worker handler receives: the
// resolved target filters plus the type-specific payload, exactly the
// shape BuildArgs produces from a Job row.
type Args struct {
	TargetSummary models.TargetFilters `json:"target_summary"`
	Payload       json.RawMessage      `json:"payload"`
}

// Definition is one job type's registry entry: its broker task name and a
// constructor for its payload struct. Validation and dispatch-args building
// are package functions (ValidatePayload, BuildArgs), not fields here.
type Definition struct {
	TaskName   string
	NewPayload func() interface{}
}

// Registry is the static jobType -> Definition table. It is the contract
// between the API (which validates payload shape at create time) and the
// worker tier (whose handlers must accept args in exactly this shape).
var Registry = map[models.JobType]Definition{
	models.JobTypeRunCommands: {
		TaskName:   "run_commands",
		NewPayload: func() interface{} { return &PayloadRunCommands{} },
	},
	models.JobTypeConfigBackup: {
		TaskName:   "config_backup",
		NewPayload: func() interface{} { return &PayloadConfigBackup{} },
	},
	models.JobTypeConfigDeployPreview: {
		TaskName:   "config_deploy_preview",
		NewPayload: func() interface{} { return &PayloadConfigDeployPreview{} },
	},
	models.JobTypeConfigDeployCommit: {
		TaskName:   "config_deploy_commit",
		NewPayload: func() interface{} { return &PayloadConfigDeployCommit{} },
	},
	models.JobTypeComplianceCheck: {
		TaskName:   "compliance_check",
		NewPayload: func() interface{} { return &PayloadComplianceCheck{} },
	},
	models.JobTypeTopologyDiscovery: {
		TaskName:   "topology_discovery",
		NewPayload: func() interface{} { return &PayloadTopologyDiscovery{} },
	},
	models.JobTypeCheckReachability: {
		TaskName:   "check_reachability",
		NewPayload: func() interface{} { return &PayloadCheckReachability{} },
	},
}

// Known reports whether t has a registry entry.
func Known(t models.JobType) bool {
	_, ok := Registry[t]
	return ok
}

// ValidatePayload validates raw against t's payload schema, returning the
// unmarshalled, validated payload struct.
func ValidatePayload(t models.JobType, raw json.RawMessage) (interface{}, error) {
	payload, err := UnmarshalPayload(t, raw)
	if err != nil {
		return nil, err
	}
	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return payload, nil
}

// ErrValidation wraps go-playground/validator failures in a sentinel the
// caller can match with errors.Is.
var ErrValidation = errors.New("payload validation failed")

// TaskName returns the broker task name for job type t.
func TaskName(t models.JobType) (string, error) {
	def, ok := Registry[t]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return def.TaskName, nil
}

// BuildArgs extracts the dispatch argument tuple from a persisted Job:
// the only place that turns a Job row into what the worker tier receives
// on the wire.
func BuildArgs(job *models.Job) (Args, error) {
	if !Known(job.Type) {
		return Args{}, fmt.Errorf("%w: %s", ErrUnknownType, job.Type)
	}
	return Args{
		TargetSummary: job.TargetSummary,
		Payload:       job.Payload,
	}, nil
}
