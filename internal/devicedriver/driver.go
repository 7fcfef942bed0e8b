// Package devicedriver defines the DeviceDriver capability the Worker
// Runtime's handlers consume, and an SSH-backed default implementation.
// Device protocol internals (NETCONF/SNMP/CDP parsing) are deliberately
// shallow here — the handlers only need the driver's behavioral contract.
package devicedriver

import (
	"context"
	"time"
)

// Neighbor is one CDP/LLDP-discovered adjacency.
type Neighbor struct {
	LocalInterface  string
	RemoteHostname  string
	RemoteInterface string
}

// Driver is the capability the Worker Runtime's handlers depend on.
// Implementations talk to a single device at a time; callers supply
// connection details per call so a driver instance can be shared/pooled.
type Driver interface {
	RunCommand(ctx context.Context, target Target, command string) (output string, err error)
	GetConfig(ctx context.Context, target Target) (config string, err error)
	ApplyConfig(ctx context.Context, target Target, mode string, snippet string, dryRun bool) (diff string, err error)
	DiscoverNeighbors(ctx context.Context, target Target, protocol string) ([]Neighbor, error)
	CheckReachable(ctx context.Context, target Target) (reachable bool, latency time.Duration, err error)
}

// Target names the device and credential a driver call connects with.
// Credential is a decrypted, in-memory-only snapshot taken at handler
// entry, never re-fetched mid-job.
type Target struct {
	Hostname       string
	ManagementIP   string
	Vendor         string
	Platform       string
	Username       string
	Password       string
	EnablePassword string
	Timeout        time.Duration
}
