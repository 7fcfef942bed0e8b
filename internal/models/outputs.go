package models

import "time"

// ConfigSnapshot is the output of a config_backup job for one device.
type ConfigSnapshot struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	DeviceID   string    `json:"device_id"`
	CustomerID string    `json:"customer_id"`
	Text       string    `json:"text"`
	Hash       string    `json:"hash"` // lowercase hex sha256 of Text
	CreatedAt  time.Time `json:"created_at"`
}

// ComplianceResult is one device's verdict for a compliance_check job.
type ComplianceResult struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	DeviceID   string    `json:"device_id"`
	PolicyID   string    `json:"policy_id"`
	Compliant  bool      `json:"compliant"`
	Violations []string  `json:"violations,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Protocol is a topology discovery transport.
type Protocol string

const (
	ProtocolCDP  Protocol = "cdp"
	ProtocolLLDP Protocol = "lldp"
	ProtocolBoth Protocol = "both"
)

// TopologyLink is an observed adjacency, upserted keyed by
// (CustomerID, LocalDeviceID, LocalInterface, RemoteHostname, RemoteInterface).
type TopologyLink struct {
	ID              string    `json:"id"`
	JobID           string    `json:"job_id"`
	CustomerID      string    `json:"customer_id"`
	LocalDeviceID   string    `json:"local_device_id"`
	LocalInterface  string    `json:"local_interface"`
	RemoteHostname  string    `json:"remote_hostname"`
	RemoteInterface string    `json:"remote_interface"`
	Protocol        Protocol  `json:"protocol"`
	ObservedAt      time.Time `json:"observed_at"`
}

// DiscoveredDeviceStatus tracks auto-created devices pending operator review.
type DiscoveredDeviceStatus string

const (
	DiscoveredPending  DiscoveredDeviceStatus = "pending"
	DiscoveredAccepted DiscoveredDeviceStatus = "accepted"
	DiscoveredRejected DiscoveredDeviceStatus = "rejected"
)

// DiscoveredDevice is a neighbor observed by topology discovery that did not
// match any known Device.
type DiscoveredDevice struct {
	ID         string                 `json:"id"`
	JobID      string                 `json:"job_id"`
	CustomerID string                 `json:"customer_id"`
	Hostname   string                 `json:"hostname"`
	Status     DiscoveredDeviceStatus `json:"status"`
	CreatedAt  time.Time              `json:"created_at"`
}
