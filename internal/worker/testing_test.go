package worker

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/broker"
	"github.com/ternarybob/netctl/internal/credstore"
	"github.com/ternarybob/netctl/internal/devicedriver"
	"github.com/ternarybob/netctl/internal/jobservice"
	"github.com/ternarybob/netctl/internal/jobtype"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/region"
	"github.com/ternarybob/netctl/internal/store"
	"github.com/ternarybob/netctl/internal/store/sqlite"
)

// testEnv bundles a real temp-file sqlite store, broker, and job service,
// mirroring internal/jobservice's own test harness so handler tests run
// against the genuine persistence layer rather than a mock.
type testEnv struct {
	store  store.Store
	broker *broker.Broker
	jobs   *jobservice.Service
	creds  *credstore.Box
	logger arbor.ILogger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := arbor.NewLogger()

	db, err := sqlite.Open(logger, sqlite.DefaultConfig(filepath.Join(dir, "test.db")))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := sqlite.New(db, logger)
	b, err := broker.New(context.Background(), db.Raw(), logger)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	router := region.New(st)
	svc := jobservice.New(st, b, router, nil, logger)

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	box, err := credstore.New(key)
	if err != nil {
		t.Fatalf("new credstore box: %v", err)
	}

	if _, err := db.Raw().Exec("INSERT INTO customers (id, name, created_at) VALUES ('cust-1', 'Acme', ?)", time.Now().UnixMilli()); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	if _, err := db.Raw().Exec("INSERT INTO users (id, email, active, created_at) VALUES ('user-1', 'a@example.com', 1, ?)", time.Now().UnixMilli()); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	return &testEnv{store: st, broker: b, jobs: svc, creds: box, logger: logger}
}

// seedCredential inserts a credential row, encrypting password/enable with
// env's Box, and returns its id.
func (e *testEnv) seedCredential(t *testing.T, password, enable string) string {
	t.Helper()
	sealedPW, err := e.creds.Seal([]byte(password))
	if err != nil {
		t.Fatalf("seal password: %v", err)
	}
	var sealedEnable []byte
	if enable != "" {
		sealedEnable, err = e.creds.Seal([]byte(enable))
		if err != nil {
			t.Fatalf("seal enable password: %v", err)
		}
	}
	db := e.store.(*sqlite.JobStore)
	id := "cred-1"
	if _, err := db.Raw().Exec(
		`INSERT INTO credentials (id, customer_id, name, username, encrypted_password, encrypted_enable_password, created_at)
		 VALUES (?, 'cust-1', 'default', 'admin', ?, ?, ?)`,
		id, sealedPW, sealedEnable, time.Now().UnixMilli(),
	); err != nil {
		t.Fatalf("seed credential: %v", err)
	}
	return id
}

// seedDevice inserts a device row under cust-1 with the given hostname,
// wired to credentialID, and returns its id.
func (e *testEnv) seedDevice(t *testing.T, hostname, credentialID string) string {
	t.Helper()
	db := e.store.(*sqlite.JobStore)
	id := "dev-" + hostname
	if _, err := db.Raw().Exec(
		`INSERT INTO devices (id, customer_id, hostname, management_ip, vendor, platform, enabled, credential_id, created_at)
		 VALUES (?, 'cust-1', ?, '10.0.0.1', 'cisco', 'ios', 1, ?, ?)`,
		id, hostname, credentialID, time.Now().UnixMilli(),
	); err != nil {
		t.Fatalf("seed device: %v", err)
	}
	return id
}

// createQueuedJob inserts a job directly in the queued state (bypassing
// jobservice.CreateJob's broker dispatch) so handler tests can call
// Handle without a worker pool in front of them.
func (e *testEnv) createQueuedJob(t *testing.T, jobType models.JobType, targets models.TargetFilters, payload interface{}) *models.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	job := &models.Job{
		Type:          jobType,
		Status:        models.StatusQueued,
		CustomerID:    "cust-1",
		UserID:        "user-1",
		TargetSummary: targets,
		Payload:       raw,
	}
	created, err := e.store.CreateJob(context.Background(), job)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return created
}

// args builds the jobtype.Args tuple a handler's Handle receives.
func (e *testEnv) args(targets models.TargetFilters, payload interface{}) jobtype.Args {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return jobtype.Args{TargetSummary: targets, Payload: raw}
}

func (e *testEnv) runtime(driver devicedriver.Driver) *Runtime {
	return &Runtime{
		Store:     e.store,
		Jobs:      e.jobs,
		Driver:    driver,
		Creds:     e.creds,
		Logger:    e.logger,
		MaxFanout: 4,
	}
}

// captureEmitter records every emitted event, standing in for the Event
// Publisher in tests that assert finding-level notifications.
type captureEmitter struct {
	events []models.Event
}

func (c *captureEmitter) Emit(ctx context.Context, event models.Event) error {
	c.events = append(c.events, event)
	return nil
}

// stubDriver is a devicedriver.Driver test double; every method is
// overridable, defaulting to a benign success so tests only wire up the
// behavior they care about.
type stubDriver struct {
	runCommand        func(ctx context.Context, target devicedriver.Target, command string) (string, error)
	getConfig         func(ctx context.Context, target devicedriver.Target) (string, error)
	applyConfig       func(ctx context.Context, target devicedriver.Target, mode, snippet string, dryRun bool) (string, error)
	discoverNeighbors func(ctx context.Context, target devicedriver.Target, protocol string) ([]devicedriver.Neighbor, error)
	checkReachable    func(ctx context.Context, target devicedriver.Target) (bool, time.Duration, error)
}

func (d *stubDriver) RunCommand(ctx context.Context, target devicedriver.Target, command string) (string, error) {
	if d.runCommand != nil {
		return d.runCommand(ctx, target, command)
	}
	return "ok", nil
}

func (d *stubDriver) GetConfig(ctx context.Context, target devicedriver.Target) (string, error) {
	if d.getConfig != nil {
		return d.getConfig(ctx, target)
	}
	return "hostname " + target.Hostname + "\n", nil
}

func (d *stubDriver) ApplyConfig(ctx context.Context, target devicedriver.Target, mode, snippet string, dryRun bool) (string, error) {
	if d.applyConfig != nil {
		return d.applyConfig(ctx, target, mode, snippet, dryRun)
	}
	return "+" + snippet, nil
}

func (d *stubDriver) DiscoverNeighbors(ctx context.Context, target devicedriver.Target, protocol string) ([]devicedriver.Neighbor, error) {
	if d.discoverNeighbors != nil {
		return d.discoverNeighbors(ctx, target, protocol)
	}
	return nil, nil
}

func (d *stubDriver) CheckReachable(ctx context.Context, target devicedriver.Target) (bool, time.Duration, error) {
	if d.checkReachable != nil {
		return d.checkReachable(ctx, target)
	}
	return true, time.Millisecond, nil
}
