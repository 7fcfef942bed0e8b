package jobservice

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/broker"
	"github.com/ternarybob/netctl/internal/models"
	"github.com/ternarybob/netctl/internal/region"
	"github.com/ternarybob/netctl/internal/store/sqlite"
)

func newTestService(t *testing.T) *Service {
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

	if _, err := db.Raw().Exec("INSERT INTO customers (id, name, created_at) VALUES ('cust-1', 'Acme', ?)", time.Now().UnixMilli()); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	if _, err := db.Raw().Exec("INSERT INTO users (id, email, active, created_at) VALUES ('user-1', 'a@example.com', 1, ?)", time.Now().UnixMilli()); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	return New(st, b, router, nil, logger)
}

func TestCreateJobDispatchesToDefaultQueue(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "cust-1", "user-1", models.JobTypeCheckReachability, models.TargetFilters{}, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != models.StatusQueued {
		t.Fatalf("expected queued status, got %s", job.Status)
	}

	msg, deleteFn, err := svc.broker.Receive(ctx, models.DefaultQueueName)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.JobID != job.ID {
		t.Fatalf("expected dispatched message for job %s, got %s", job.ID, msg.JobID)
	}
	if err := deleteFn(); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestCreateJobRejectsInvalidPayload(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateJob(ctx, "cust-1", "user-1", models.JobTypeRunCommands, models.TargetFilters{}, []byte(`{}`), nil)
	if err == nil {
		t.Fatal("expected validation error for run_commands payload with no commands")
	}
}

func TestCancelJobOnlyAllowedPreStart(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "cust-1", "user-1", models.JobTypeCheckReachability, models.TargetFilters{}, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := svc.SetStatus(ctx, job.ID, models.StatusRunning, nil); err != nil {
		t.Fatalf("set status running: %v", err)
	}

	if _, err := svc.CancelJob(ctx, job.ID, "user-1", []string{"cust-1"}); err == nil {
		t.Fatal("expected cancel of a running job to fail through this path")
	}
}

func TestSetStatusRejectsIllegalTransition(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, "cust-1", "user-1", models.JobTypeCheckReachability, models.TargetFilters{}, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := svc.SetStatus(ctx, job.ID, models.StatusSuccess, nil); err == nil {
		t.Fatal("expected queued -> success to be rejected as an illegal transition")
	}
}

func TestRetryJobClonesSourceAndLeavesItUnchanged(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	source, err := svc.CreateJob(ctx, "cust-1", "user-1", models.JobTypeCheckReachability, models.TargetFilters{}, []byte(`{}`), nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	retried, err := svc.RetryJob(ctx, source.ID, []string{"cust-1"})
	if err != nil {
		t.Fatalf("retry job: %v", err)
	}
	if retried.ID == source.ID {
		t.Fatal("expected retry to create a new job id")
	}

	refreshed, err := svc.store.GetJob(ctx, source.ID)
	if err != nil {
		t.Fatalf("get source job: %v", err)
	}
	if refreshed.Status != models.StatusQueued {
		t.Fatalf("expected source job to remain queued, got %s", refreshed.Status)
	}
}

func TestCreateConfigDeployCommitRequiresSuccessfulPreview(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	preview, err := svc.CreateJob(ctx, "cust-1", "user-1", models.JobTypeConfigDeployPreview, models.TargetFilters{},
		[]byte(`{"mode":"merge","snippet":"interface Gi0/1"}`), nil)
	if err != nil {
		t.Fatalf("create preview job: %v", err)
	}

	// Preview has not run yet (still queued) - commit must be rejected.
	_, err = svc.CreateJob(ctx, "cust-1", "user-1", models.JobTypeConfigDeployCommit, models.TargetFilters{},
		[]byte(`{"mode":"merge","snippet":"interface Gi0/1","previous_job_id":"`+preview.ID+`"}`), nil)
	if err == nil {
		t.Fatal("expected commit to be rejected when preview has not succeeded")
	}

	if err := svc.SetStatus(ctx, preview.ID, models.StatusRunning, nil); err != nil {
		t.Fatalf("set preview running: %v", err)
	}
	if err := svc.SetStatus(ctx, preview.ID, models.StatusFailed, []byte(`{"error":"dry run failed"}`)); err != nil {
		t.Fatalf("set preview failed: %v", err)
	}

	_, err = svc.CreateJob(ctx, "cust-1", "user-1", models.JobTypeConfigDeployCommit, models.TargetFilters{},
		[]byte(`{"mode":"merge","snippet":"interface Gi0/1","previous_job_id":"`+preview.ID+`"}`), nil)
	if err == nil {
		t.Fatal("expected commit to be rejected when preview failed")
	}

	preview2, err := svc.CreateJob(ctx, "cust-1", "user-1", models.JobTypeConfigDeployPreview, models.TargetFilters{},
		[]byte(`{"mode":"merge","snippet":"interface Gi0/1"}`), nil)
	if err != nil {
		t.Fatalf("create second preview job: %v", err)
	}
	if err := svc.SetStatus(ctx, preview2.ID, models.StatusRunning, nil); err != nil {
		t.Fatalf("set preview2 running: %v", err)
	}
	if err := svc.SetStatus(ctx, preview2.ID, models.StatusSuccess, []byte(`{}`)); err != nil {
		t.Fatalf("set preview2 success: %v", err)
	}

	commit, err := svc.CreateJob(ctx, "cust-1", "user-1", models.JobTypeConfigDeployCommit, models.TargetFilters{},
		[]byte(`{"mode":"merge","snippet":"interface Gi0/1","previous_job_id":"`+preview2.ID+`"}`), nil)
	if err != nil {
		t.Fatalf("expected commit to succeed against a successful preview: %v", err)
	}
	if commit.Status != models.StatusQueued {
		t.Fatalf("expected commit job to be queued, got %s", commit.Status)
	}
}
