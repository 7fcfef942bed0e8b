package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/netctl/internal/devicedriver"
	"github.com/ternarybob/netctl/internal/jobtype"
	"github.com/ternarybob/netctl/internal/models"
)

func TestCheckReachabilityHandlerAllReachable(t *testing.T) {
	env := newTestEnv(t)
	credID := env.seedCredential(t, "secret", "")
	env.seedDevice(t, "r1.example.com", credID)
	env.seedDevice(t, "r2.example.com", credID)

	h := &CheckReachabilityHandler{Runtime: env.runtime(&stubDriver{})}
	job := env.createQueuedJob(t, models.JobTypeCheckReachability, models.TargetFilters{}, jobtype.PayloadCheckReachability{})

	if err := h.Handle(context.Background(), job, env.args(models.TargetFilters{}, jobtype.PayloadCheckReachability{})); err != nil {
		t.Fatalf("handle: %v", err)
	}

	updated, err := env.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if updated.Status != models.StatusSuccess {
		t.Fatalf("expected success, got %s", updated.Status)
	}

	var result jobtype.ResultHostTally
	if err := json.Unmarshal(updated.ResultSummary, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.Processed != 2 || result.Failed != 0 {
		t.Fatalf("expected 2 processed, 0 failed, got %+v", result)
	}
}

func TestCheckReachabilityHandlerPartialFailure(t *testing.T) {
	env := newTestEnv(t)
	credID := env.seedCredential(t, "secret", "")
	env.seedDevice(t, "up.example.com", credID)
	env.seedDevice(t, "down.example.com", credID)

	driver := &stubDriver{
		checkReachable: func(ctx context.Context, target devicedriver.Target) (bool, time.Duration, error) {
			if target.Hostname == "down.example.com" {
				return false, 0, errors.New("connection refused")
			}
			return true, time.Millisecond, nil
		},
	}
	h := &CheckReachabilityHandler{Runtime: env.runtime(driver)}
	job := env.createQueuedJob(t, models.JobTypeCheckReachability, models.TargetFilters{}, jobtype.PayloadCheckReachability{})

	if err := h.Handle(context.Background(), job, env.args(models.TargetFilters{}, jobtype.PayloadCheckReachability{})); err != nil {
		t.Fatalf("handle: %v", err)
	}

	updated, err := env.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if updated.Status != models.StatusPartial {
		t.Fatalf("expected partial, got %s", updated.Status)
	}
}

func TestCheckReachabilityHandlerNoDevicesFails(t *testing.T) {
	env := newTestEnv(t)
	h := &CheckReachabilityHandler{Runtime: env.runtime(&stubDriver{})}
	job := env.createQueuedJob(t, models.JobTypeCheckReachability, models.TargetFilters{}, jobtype.PayloadCheckReachability{})

	if err := h.Handle(context.Background(), job, env.args(models.TargetFilters{}, jobtype.PayloadCheckReachability{})); err != nil {
		t.Fatalf("handle: %v", err)
	}

	updated, err := env.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if updated.Status != models.StatusFailed {
		t.Fatalf("expected failed for empty inventory, got %s", updated.Status)
	}
}
