package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(arbor.NewLogger(), DefaultConfig(filepath.Join(dir, "test.db")))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, arbor.NewLogger())
}

func seedCustomerUser(t *testing.T, s store.Store) (string, string) {
	t.Helper()
	// customers/users are normally seeded by tenant onboarding; inserted
	// directly here since Store has no CreateCustomer/CreateUser method.
	db := s.(*JobStore).db.Raw()
	customerID, userID := "cust-1", "user-1"
	if _, err := db.Exec("INSERT INTO customers (id, name, created_at) VALUES (?, ?, ?)",
		customerID, "Acme", time.Now().UnixMilli()); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	if _, err := db.Exec("INSERT INTO users (id, email, active, created_at) VALUES (?, ?, 1, ?)",
		userID, "a@example.com", time.Now().UnixMilli()); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return customerID, userID
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	customerID, userID := seedCustomerUser(t, s)

	job := &models.Job{
		Type:       models.JobTypeCheckReachability,
		Status:     models.StatusQueued,
		CustomerID: customerID,
		UserID:     userID,
		Payload:    []byte(`{}`),
	}
	created, err := s.CreateJob(ctx, job)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}

	got, err := s.GetJob(ctx, created.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != models.StatusQueued {
		t.Errorf("expected status queued, got %s", got.Status)
	}

	if _, err := s.GetJobForTenant(ctx, created.ID, []string{"other-customer"}); err != store.ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound scoping to a different tenant, got %v", err)
	}
	if _, err := s.GetJobForTenant(ctx, created.ID, []string{customerID}); err != nil {
		t.Errorf("expected access for owning tenant, got %v", err)
	}
}

func TestUpdateStatusIsCompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	customerID, userID := seedCustomerUser(t, s)

	job, err := s.CreateJob(ctx, &models.Job{
		Type:       models.JobTypeCheckReachability,
		Status:     models.StatusQueued,
		CustomerID: customerID,
		UserID:     userID,
		Payload:    []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	// A CAS from the wrong source status must not apply.
	ok, err := s.UpdateStatus(ctx, job.ID, []models.Status{models.StatusScheduled}, models.StatusRunning, store.StatusTimestamps{}, nil)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if ok {
		t.Fatal("expected CAS to reject transition from a non-matching source status")
	}

	now := time.Now().UTC()
	ok, err = s.UpdateStatus(ctx, job.ID, []models.Status{models.StatusQueued}, models.StatusRunning, store.StatusTimestamps{StartedAt: &now}, nil)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if !ok {
		t.Fatal("expected CAS to apply transition from the matching source status")
	}

	got, err := s.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != models.StatusRunning {
		t.Errorf("expected status running, got %s", got.Status)
	}
	if got.StartedAt == nil {
		t.Fatal("expected started_at to be set")
	}
}

func TestAppendAndListLogsOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	customerID, userID := seedCustomerUser(t, s)

	job, err := s.CreateJob(ctx, &models.Job{
		Type:       models.JobTypeRunCommands,
		Status:     models.StatusQueued,
		CustomerID: customerID,
		UserID:     userID,
		Payload:    []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.AppendLog(ctx, job.ID, models.LogInfo, nil, "line", nil); err != nil {
			t.Fatalf("append log %d: %v", i, err)
		}
	}

	logs, err := s.ListLogs(ctx, job.ID, nil, 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 logs, got %d", len(logs))
	}
	for i := 1; i < len(logs); i++ {
		if logs[i].TS.Before(logs[i-1].TS) {
			t.Fatal("expected logs ordered by timestamp ascending")
		}
	}
}

func TestDueSchedulesAndAdvance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	customerID, _ := seedCustomerUser(t, s)

	past := time.Now().UTC().Add(-time.Hour)
	sched, err := s.CreateSchedule(ctx, &models.Schedule{
		CustomerID:    customerID,
		JobType:       models.JobTypeCheckReachability,
		TargetSummary: models.TargetFilters{},
		Payload:       []byte(`{}`),
		NextFireAt:    past,
		Enabled:       true,
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	due, err := s.DueSchedules(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("due schedules: %v", err)
	}
	if len(due) != 1 || due[0].ID != sched.ID {
		t.Fatalf("expected the past-due schedule to be returned, got %d results", len(due))
	}

	future := time.Now().UTC().Add(24 * time.Hour)
	if err := s.AdvanceSchedule(ctx, sched.ID, future); err != nil {
		t.Fatalf("advance schedule: %v", err)
	}

	due, err = s.DueSchedules(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("due schedules after advance: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no due schedules after advancing into the future, got %d", len(due))
	}
}

func TestPurgeTerminalJobsOlderThan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	customerID, userID := seedCustomerUser(t, s)

	finished := time.Now().UTC().Add(-200 * 24 * time.Hour)
	job, err := s.CreateJob(ctx, &models.Job{
		Type:       models.JobTypeCheckReachability,
		Status:     models.StatusQueued,
		CustomerID: customerID,
		UserID:     userID,
		Payload:    []byte(`{}`),
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	ok, err := s.UpdateStatus(ctx, job.ID, []models.Status{models.StatusQueued}, models.StatusRunning, store.StatusTimestamps{}, nil)
	if err != nil || !ok {
		t.Fatalf("transition to running: ok=%v err=%v", ok, err)
	}
	ok, err = s.UpdateStatus(ctx, job.ID, []models.Status{models.StatusRunning}, models.StatusSuccess, store.StatusTimestamps{FinishedAt: &finished}, nil)
	if err != nil || !ok {
		t.Fatalf("transition to success: ok=%v err=%v", ok, err)
	}

	n, err := s.PurgeTerminalJobsOlderThan(ctx, time.Now().UTC().Add(-180*24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged job, got %d", n)
	}
	if _, err := s.GetJob(ctx, job.ID); err != store.ErrJobNotFound {
		t.Errorf("expected purged job to be gone, got %v", err)
	}
}
