package streambus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
	"github.com/ternarybob/netctl/internal/store/sqlite"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	logger := arbor.NewLogger()
	db, err := sqlite.Open(logger, sqlite.DefaultConfig(filepath.Join(dir, "test.db")))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Raw().Exec("INSERT INTO customers (id, name, created_at) VALUES ('cust-1', 'Acme', ?)", time.Now().UnixMilli()); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return sqlite.New(db, logger)
}

func testConfig() Config {
	return Config{
		ReplayLimit:       100,
		PollInterval:      20 * time.Millisecond,
		KeepaliveInterval: 5 * time.Second,
		WriteTimeout:      time.Second,
	}
}

func dialJobStream(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestServeJobStreamSendsStatusAndReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, &models.Job{
		Type: models.JobTypeCheckReachability, Status: models.StatusRunning,
		CustomerID: "cust-1", UserID: "user-1", Payload: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := s.AppendLog(ctx, job.ID, models.LogInfo, nil, "hello", nil); err != nil {
		t.Fatalf("append log: %v", err)
	}

	bus := New(s, arbor.NewLogger(), testConfig())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bus.ServeJobStream(w, r, job.ID, []string{"cust-1"})
	}))
	defer server.Close()

	conn := dialJobStream(t, server)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var statusMsg, logMsg struct {
		Type    string `json:"type"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := conn.ReadJSON(&statusMsg); err != nil {
		t.Fatalf("read status frame: %v", err)
	}
	if statusMsg.Type != "status" || statusMsg.Status != string(models.StatusRunning) {
		t.Fatalf("unexpected status frame: %+v", statusMsg)
	}
	if err := conn.ReadJSON(&logMsg); err != nil {
		t.Fatalf("read log frame: %v", err)
	}
	if logMsg.Type != "log" || logMsg.Message != "hello" {
		t.Fatalf("unexpected log frame: %+v", logMsg)
	}
}

func TestServeJobStreamSendsLiveLogsThenCompletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, &models.Job{
		Type: models.JobTypeCheckReachability, Status: models.StatusRunning,
		CustomerID: "cust-1", UserID: "user-1", Payload: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	bus := New(s, arbor.NewLogger(), testConfig())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bus.ServeJobStream(w, r, job.ID, []string{"cust-1"})
	}))
	defer server.Close()

	conn := dialJobStream(t, server)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var statusMsg struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&statusMsg); err != nil {
		t.Fatalf("read status frame: %v", err)
	}

	if _, err := s.AppendLog(ctx, job.ID, models.LogInfo, nil, "running step", nil); err != nil {
		t.Fatalf("append log: %v", err)
	}

	var logMsg struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := conn.ReadJSON(&logMsg); err != nil {
		t.Fatalf("read live log frame: %v", err)
	}
	if logMsg.Type != "log" || logMsg.Message != "running step" {
		t.Fatalf("unexpected live log frame: %+v", logMsg)
	}

	finished := time.Now().UTC()
	ok, err := s.UpdateStatus(ctx, job.ID, []models.Status{models.StatusRunning}, models.StatusSuccess, store.StatusTimestamps{FinishedAt: &finished}, nil)
	if err != nil || !ok {
		t.Fatalf("transition to success: ok=%v err=%v", ok, err)
	}

	var completeMsg struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	if err := conn.ReadJSON(&completeMsg); err != nil {
		t.Fatalf("read complete frame: %v", err)
	}
	if completeMsg.Type != "complete" || completeMsg.Status != string(models.StatusSuccess) {
		t.Fatalf("unexpected complete frame: %+v", completeMsg)
	}
}

func TestServeJobStreamRejectsWrongTenant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, &models.Job{
		Type: models.JobTypeCheckReachability, Status: models.StatusQueued,
		CustomerID: "cust-1", UserID: "user-1", Payload: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	bus := New(s, arbor.NewLogger(), testConfig())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bus.ServeJobStream(w, r, job.ID, []string{"other-customer"})
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail for an inaccessible tenant")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func TestServeJobStreamAlreadyTerminalClosesImmediately(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.CreateJob(ctx, &models.Job{
		Type: models.JobTypeCheckReachability, Status: models.StatusQueued,
		CustomerID: "cust-1", UserID: "user-1", Payload: []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	finished := time.Now().UTC()
	if ok, err := s.UpdateStatus(ctx, job.ID, []models.Status{models.StatusQueued}, models.StatusCancelled, store.StatusTimestamps{FinishedAt: &finished}, nil); err != nil || !ok {
		t.Fatalf("cancel: ok=%v err=%v", ok, err)
	}

	bus := New(s, arbor.NewLogger(), testConfig())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bus.ServeJobStream(w, r, job.ID, []string{"cust-1"})
	}))
	defer server.Close()

	conn := dialJobStream(t, server)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var statusMsg struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&statusMsg); err != nil {
		t.Fatalf("read status frame: %v", err)
	}
	var completeMsg struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	}
	if err := conn.ReadJSON(&completeMsg); err != nil {
		t.Fatalf("read complete frame: %v", err)
	}
	if completeMsg.Type != "complete" || completeMsg.Status != string(models.StatusCancelled) {
		t.Fatalf("unexpected complete frame for an already-terminal job: %+v", completeMsg)
	}
}
