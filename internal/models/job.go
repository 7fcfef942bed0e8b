package models

import (
	"encoding/json"
	"time"
)

// Status is a Job's lifecycle state. Transitions between states are
// enforced by the Job Store's compare-and-swap update, never by the
// application layer mutating a row directly.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is one of the statuses after which no further
// transition is legal.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusPartial, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Transitions is the full allowed transition matrix. Any edge not present
// here is rejected by the Job Store.
var Transitions = map[Status][]Status{
	StatusScheduled: {StatusQueued, StatusCancelled},
	StatusQueued:    {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusSuccess, StatusPartial, StatusFailed, StatusCancelled},
}

// CanTransition reports whether moving from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, allowed := range Transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TargetFilters is the discriminated filter set describing which devices a
// job targets. Exactly which fields are set determines the device
// inventory; an entirely empty TargetFilters targets every enabled device
// of the customer.
type TargetFilters struct {
	Site       string   `json:"site,omitempty"`
	Role       string   `json:"role,omitempty"`
	Vendor     string   `json:"vendor,omitempty"`
	Hostname   string   `json:"hostname,omitempty"`
	DeviceIDs  []string `json:"device_ids,omitempty"`
	IPRangeIDs []string `json:"ip_range_ids,omitempty"`
}

// Empty reports whether no filter key has been set, meaning the job targets
// the customer's full enabled fleet.
func (f TargetFilters) Empty() bool {
	return f.Site == "" && f.Role == "" && f.Vendor == "" && f.Hostname == "" &&
		len(f.DeviceIDs) == 0 && len(f.IPRangeIDs) == 0
}

// JobType identifies the worker handler a job dispatches to.
type JobType string

const (
	JobTypeRunCommands         JobType = "run_commands"
	JobTypeConfigBackup        JobType = "config_backup"
	JobTypeConfigDeployPreview JobType = "config_deploy_preview"
	JobTypeConfigDeployCommit  JobType = "config_deploy_commit"
	JobTypeComplianceCheck     JobType = "compliance_check"
	JobTypeTopologyDiscovery   JobType = "topology_discovery"
	JobTypeCheckReachability   JobType = "check_reachability"
)

// Job is the central orchestration entity. Payload and ResultSummary are
// kept as raw JSON at this layer; the jobtype package owns marshaling them
// to/from the typed, per-JobType structs validated at create and execute
// boundaries.
type Job struct {
	ID            string          `json:"id"`
	Type          JobType         `json:"type"`
	Status        Status          `json:"status"`
	CustomerID    string          `json:"customer_id"`
	UserID        string          `json:"user_id"`
	RegionID      *string         `json:"region_id,omitempty"`
	TargetSummary TargetFilters   `json:"target_summary"`
	Payload       json.RawMessage `json:"payload"`
	ResultSummary json.RawMessage `json:"result_summary,omitempty"`
	RequestedAt   time.Time       `json:"requested_at"`
	ScheduledFor  *time.Time      `json:"scheduled_for,omitempty"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// InitialStatus computes the status a freshly created job should start in.
func InitialStatus(scheduledFor *time.Time, now time.Time) Status {
	if scheduledFor != nil && scheduledFor.After(now) {
		return StatusScheduled
	}
	return StatusQueued
}

// LogLevel is a JobLog severity.
type LogLevel string

const (
	LogDebug LogLevel = "DEBUG"
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// JobLog is a single, immutable trace row. Multiple producers may append
// logs for the same job; rows are never mutated or deleted except by the
// retention sweep.
type JobLog struct {
	ID      string          `json:"id"`
	JobID   string          `json:"job_id"`
	TS      time.Time       `json:"ts"`
	Level   LogLevel        `json:"level"`
	Host    *string         `json:"host,omitempty"`
	Message string          `json:"message"`
	Extra   json.RawMessage `json:"extra,omitempty"`
}

// Schedule is a recurrence descriptor that produces Jobs at fire time via
// the Job Service. Exactly one of Cron / IntervalSeconds should be set.
type Schedule struct {
	ID              string          `json:"id"`
	CustomerID      string          `json:"customer_id"`
	JobType         JobType         `json:"job_type"`
	TargetSummary   TargetFilters   `json:"target_summary"`
	Payload         json.RawMessage `json:"payload"`
	Cron            *string         `json:"cron,omitempty"`
	IntervalSeconds *int            `json:"interval_seconds,omitempty"`
	NextFireAt      time.Time       `json:"next_fire_at"`
	Enabled         bool            `json:"enabled"`
}
