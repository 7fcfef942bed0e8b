// Package ssh is the interactive device-shell subscription channel that
// sits alongside the Log Stream Bus: a per-device (not per-job)
// WebSocket bridge onto a single live SSH session. It shares the Log
// Stream Bus's per-connection-mutex-guarded-client shape but needs its
// own session abstraction, since internal/devicedriver.Driver exposes
// only one-shot RunCommand/GetConfig calls and has no interactive shell
// of its own.
package ssh

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	gossh "golang.org/x/crypto/ssh"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/credstore"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
)

// ErrConflict is returned when a second subscription is attempted for a
// (user, device) tuple that already has a live session.
var ErrConflict = errors.New("a session for this user and device is already open")

var exitCommands = map[string]bool{"exit": true, "quit": true, "logout": true}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Config tunes connection and per-command timeouts.
type Config struct {
	DialTimeout    time.Duration
	CommandTimeout time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig matches the devicedriver SSH defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout:    10 * time.Second,
		CommandTimeout: 30 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// clientFrame is what the bridge accepts from the connected client.
type clientFrame struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// serverFrame is what the bridge sends back.
type serverFrame struct {
	Type       string `json:"type"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	ExitStatus int    `json:"exit_status,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Bridge manages live interactive SSH sessions bridged over WebSocket,
// one per (user, device) tuple.
type Bridge struct {
	store  store.Store
	creds  *credstore.Box
	logger arbor.ILogger
	config Config

	sessions sync.Map // key: userID+"|"+deviceID, value: struct{}
}

// New creates a Bridge backed by s and creds.
func New(s store.Store, creds *credstore.Box, logger arbor.ILogger, config Config) *Bridge {
	if config.DialTimeout <= 0 && config.CommandTimeout <= 0 && config.WriteTimeout <= 0 {
		config = DefaultConfig()
	}
	return &Bridge{store: s, creds: creds, logger: logger, config: config}
}

func sessionKey(userID, deviceID string) string {
	return userID + "|" + deviceID
}

// ServeDeviceShell upgrades r to a WebSocket and bridges it to an
// interactive SSH session on deviceID, scoped to customerID.
// accessibleCustomerIDs is the caller's already-resolved tenant scope.
func (b *Bridge) ServeDeviceShell(w http.ResponseWriter, r *http.Request, deviceID, userID, customerID string, accessibleCustomerIDs []string) {
	ctx := r.Context()

	if !contains(accessibleCustomerIDs, customerID) {
		http.Error(w, "access denied", http.StatusForbidden)
		return
	}

	devices, err := b.store.Devices(ctx, store.DeviceFilters{CustomerID: customerID})
	if err != nil {
		http.Error(w, "failed to resolve device", http.StatusInternalServerError)
		return
	}
	var device *models.Device
	for _, d := range devices {
		if d.ID == deviceID {
			device = d
			break
		}
	}
	if device == nil {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}

	key := sessionKey(userID, deviceID)
	if _, loaded := b.sessions.LoadOrStore(key, struct{}{}); loaded {
		http.Error(w, ErrConflict.Error(), http.StatusConflict)
		return
	}
	defer b.sessions.Delete(key)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to upgrade device shell websocket")
		return
	}
	defer conn.Close()

	client, session, stdin, lines, err := b.dial(ctx, device, customerID)
	if err != nil {
		b.writeFrame(conn, serverFrame{Type: "closed", Error: err.Error()})
		return
	}
	defer client.Close()
	defer session.Close()

	b.writeFrame(conn, serverFrame{Type: "connected"})

	for {
		var in clientFrame
		if err := conn.ReadJSON(&in); err != nil {
			break
		}
		if in.Type != "command" {
			continue
		}
		trimmed := strings.TrimSpace(strings.ToLower(in.Command))
		if exitCommands[trimmed] {
			break
		}

		stdout, stderr, exitStatus := b.runCommand(stdin, lines, in.Command)
		if !b.writeFrame(conn, serverFrame{Type: "output", Stdout: stdout, Stderr: stderr, ExitStatus: exitStatus}) {
			break
		}
	}

	b.writeFrame(conn, serverFrame{Type: "closed"})
}

// dial opens the device's decrypted credential and an interactive shell
// session, returning the session's stdin pipe and a channel fed by a
// single long-lived reader goroutine over the session's combined output.
// The reader goroutine outlives any one command, so runCommand never
// starts its own reader — bufio.Scanner is not safe to drive from more
// than one goroutine, and a per-command reader would race the next call
// against a goroutine from the last one still draining late output.
func (b *Bridge) dial(ctx context.Context, device *models.Device, customerID string) (*gossh.Client, *gossh.Session, io.Writer, <-chan string, error) {
	cred, err := b.store.CredentialByID(ctx, customerID, device.CredentialID)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load credential: %w", err)
	}
	password, err := b.creds.Open(cred.EncryptedPassword)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("decrypt credential: %w", err)
	}

	config := &gossh.ClientConfig{
		User:            cred.Username,
		Auth:            []gossh.AuthMethod{gossh.Password(string(password))},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(), //nolint:gosec // device fleets rarely carry known_hosts entries
		Timeout:         b.config.DialTimeout,
	}
	addr := device.ManagementIP + ":22"
	client, err := gossh.Dial("tcp", addr, config)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, nil, nil, nil, fmt.Errorf("new session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, nil, nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	modes := gossh.TerminalModes{
		gossh.ECHO: 0,
	}
	if err := session.RequestPty("xterm", 80, 40, modes); err != nil {
		session.Close()
		client.Close()
		return nil, nil, nil, nil, fmt.Errorf("request pty: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, nil, nil, nil, fmt.Errorf("start shell: %w", err)
	}

	lines := make(chan string, 256)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	return client, session, stdin, lines, nil
}

// runCommand writes command to the session's stdin and drains lines
// arriving on the session's shared output channel within the bridge's
// command timeout. Interactive shells have no natural end-of-output
// marker, so this is a best-effort drain bounded by a quiet period
// rather than a true request/response protocol.
func (b *Bridge) runCommand(stdin io.Writer, lines <-chan string, command string) (stdout, stderr string, exitStatus int) {
	if _, err := stdin.Write([]byte(command + "\n")); err != nil {
		return "", err.Error(), 1
	}

	var sb strings.Builder
	deadline := time.After(b.config.CommandTimeout)
	quiet := time.NewTimer(300 * time.Millisecond)
	defer quiet.Stop()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return sb.String(), "", 0
			}
			sb.WriteString(line)
			sb.WriteString("\n")
			if !quiet.Stop() {
				<-quiet.C
			}
			quiet.Reset(300 * time.Millisecond)
		case <-quiet.C:
			return sb.String(), "", 0
		case <-deadline:
			return sb.String(), "command timed out", 1
		}
	}
}

func (b *Bridge) writeFrame(conn *websocket.Conn, f serverFrame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to marshal device shell frame")
		return false
	}
	conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		b.logger.Warn().Err(err).Msg("device shell write failed")
		return false
	}
	return true
}

func contains(vals []string, v string) bool {
	for _, x := range vals {
		if x == v {
			return true
		}
	}
	return false
}
