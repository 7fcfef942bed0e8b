package devicedriver

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHDriver talks to devices over SSH exec sessions, the lowest-common-
// denominator transport across the vendor platforms this system targets.
// It is intentionally simple: one connection per call, no session reuse
// (each fan-out goroutine owns its own connection).
type SSHDriver struct {
	// DialTimeout bounds the TCP+handshake phase; per-command timeouts are
	// taken from Target.Timeout (defaulting to 30s).
	DialTimeout time.Duration
}

// NewSSHDriver returns a Driver with sane connection defaults.
func NewSSHDriver() *SSHDriver {
	return &SSHDriver{DialTimeout: 10 * time.Second}
}

func (d *SSHDriver) dial(ctx context.Context, t Target) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            t.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(t.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // device fleets rarely carry known_hosts entries
		Timeout:         d.DialTimeout,
	}
	addr := t.ManagementIP + ":22"
	client, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return client, nil
}

func (d *SSHDriver) runOne(ctx context.Context, t Target, command string) (string, error) {
	client, err := d.dial(ctx, t)
	if err != nil {
		return "", err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	case <-time.After(timeout):
		session.Signal(ssh.SIGKILL)
		return "", fmt.Errorf("command timed out after %s", timeout)
	case err := <-done:
		if err != nil {
			return stdout.String(), fmt.Errorf("command %q: %w: %s", command, err, stderr.String())
		}
		return stdout.String(), nil
	}
}

// RunCommand executes a single command over a fresh SSH session.
func (d *SSHDriver) RunCommand(ctx context.Context, target Target, command string) (string, error) {
	return d.runOne(ctx, target, command)
}

// GetConfig retrieves the device's running configuration.
func (d *SSHDriver) GetConfig(ctx context.Context, target Target) (string, error) {
	return d.runOne(ctx, target, showRunningConfigCommand(target.Vendor))
}

// ApplyConfig applies (or, when dryRun, previews) a configuration snippet.
// Vendor-specific dry-run syntax is approximated here; most platforms
// support a "merge candidate, show diff, discard" style workflow.
func (d *SSHDriver) ApplyConfig(ctx context.Context, target Target, mode string, snippet string, dryRun bool) (string, error) {
	lines := strings.Split(snippet, "\n")
	var commands []string
	commands = append(commands, "configure terminal")
	commands = append(commands, lines...)
	if dryRun {
		commands = append(commands, "show configuration candidate | compare", "rollback 0")
	} else {
		if mode == "replace" {
			commands = append(commands, "commit replace")
		} else {
			commands = append(commands, "commit")
		}
	}
	commands = append(commands, "end")
	return d.runOne(ctx, target, strings.Join(commands, "\n"))
}

// DiscoverNeighbors runs the neighbor-discovery command for protocol and
// parses the tabular output into Neighbor rows. Parsing is deliberately
// tolerant: unrecognized lines are skipped rather than erroring the job.
func (d *SSHDriver) DiscoverNeighbors(ctx context.Context, target Target, protocol string) ([]Neighbor, error) {
	var commands []string
	switch protocol {
	case "cdp":
		commands = []string{"show cdp neighbors detail"}
	case "lldp":
		commands = []string{"show lldp neighbors detail"}
	default:
		commands = []string{"show cdp neighbors detail", "show lldp neighbors detail"}
	}

	var neighbors []Neighbor
	for _, cmd := range commands {
		out, err := d.runOne(ctx, target, cmd)
		if err != nil {
			return neighbors, err
		}
		neighbors = append(neighbors, parseNeighbors(out)...)
	}
	return neighbors, nil
}

// CheckReachable probes a device by attempting a full SSH dial (including
// password authentication) and measuring its latency; a rejected
// credential is reported as unreachable.
func (d *SSHDriver) CheckReachable(ctx context.Context, target Target) (bool, time.Duration, error) {
	start := time.Now()
	client, err := d.dial(ctx, target)
	latency := time.Since(start)
	if err != nil {
		return false, latency, err
	}
	client.Close()
	return true, latency, nil
}

func showRunningConfigCommand(vendor string) string {
	switch strings.ToLower(vendor) {
	case "juniper":
		return "show configuration | display set"
	default:
		return "show running-config"
	}
}

// parseNeighbors extracts "Local Interface"/"Port ID"/device-id style
// fields from CDP/LLDP detail output. Real vendor output is far more
// varied than this; the handler treats a parse miss as zero neighbors
// rather than a job failure.
func parseNeighbors(output string) []Neighbor {
	var neighbors []Neighbor
	var current Neighbor
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Device ID:"):
			if current.RemoteHostname != "" {
				neighbors = append(neighbors, current)
			}
			current = Neighbor{RemoteHostname: strings.TrimSpace(strings.TrimPrefix(line, "Device ID:"))}
		case strings.HasPrefix(line, "Interface:"):
			parts := strings.SplitN(strings.TrimPrefix(line, "Interface:"), ",", 2)
			if len(parts) > 0 {
				current.LocalInterface = strings.TrimSpace(parts[0])
			}
			if len(parts) > 1 {
				current.RemoteInterface = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(parts[1]), "Port ID (outgoing port):"))
			}
		}
	}
	if current.RemoteHostname != "" {
		neighbors = append(neighbors, current)
	}
	return neighbors
}
