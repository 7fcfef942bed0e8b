package worker

import (
	"context"
	"testing"

	"github.com/ternarybob/netctl/internal/devicedriver"
	"github.com/ternarybob/netctl/internal/jobtype"
	"github.com/ternarybob/netctl/internal/models"
)

func TestConfigBackupHandlerSavesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	credID := env.seedCredential(t, "secret", "enable-secret")
	env.seedDevice(t, "fw1.example.com", credID)

	driver := &stubDriver{
		getConfig: func(ctx context.Context, target devicedriver.Target) (string, error) {
			if target.Password != "secret" || target.EnablePassword != "enable-secret" {
				t.Fatalf("expected decrypted credential on target, got %+v", target)
			}
			return "hostname fw1\ninterface Gi0/0\n", nil
		},
	}
	h := &ConfigBackupHandler{Runtime: env.runtime(driver)}
	payload := jobtype.PayloadConfigBackup{}
	job := env.createQueuedJob(t, models.JobTypeConfigBackup, models.TargetFilters{}, payload)

	if err := h.Handle(context.Background(), job, env.args(models.TargetFilters{}, payload)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	updated, err := env.store.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if updated.Status != models.StatusSuccess {
		t.Fatalf("expected success, got %s", updated.Status)
	}
}

// Drift is detected against the device's previous snapshot: the first
// backup emits nothing, a second backup with changed config emits one
// drift.detected event.
func TestConfigBackupHandlerEmitsDriftOnChangedConfig(t *testing.T) {
	env := newTestEnv(t)
	credID := env.seedCredential(t, "secret", "")
	env.seedDevice(t, "fw1.example.com", credID)

	config := "hostname fw1\n"
	driver := &stubDriver{
		getConfig: func(ctx context.Context, target devicedriver.Target) (string, error) {
			return config, nil
		},
	}
	emitter := &captureEmitter{}
	rt := env.runtime(driver)
	rt.Events = emitter
	h := &ConfigBackupHandler{Runtime: rt}
	payload := jobtype.PayloadConfigBackup{}

	first := env.createQueuedJob(t, models.JobTypeConfigBackup, models.TargetFilters{}, payload)
	if err := h.Handle(context.Background(), first, env.args(models.TargetFilters{}, payload)); err != nil {
		t.Fatalf("first backup: %v", err)
	}
	for _, evt := range emitter.events {
		if evt.Type == models.EventDriftDetected {
			t.Fatal("did not expect drift on a device's first backup")
		}
	}

	config = "hostname fw1\nntp server 10.0.0.1\n"
	second := env.createQueuedJob(t, models.JobTypeConfigBackup, models.TargetFilters{}, payload)
	if err := h.Handle(context.Background(), second, env.args(models.TargetFilters{}, payload)); err != nil {
		t.Fatalf("second backup: %v", err)
	}

	var driftEvents int
	for _, evt := range emitter.events {
		if evt.Type == models.EventDriftDetected {
			driftEvents++
		}
	}
	if driftEvents != 1 {
		t.Fatalf("expected one drift.detected event after the config changed, got %d", driftEvents)
	}
}

func TestConfigDeployHandlerPreviewDoesNotRequireCommit(t *testing.T) {
	env := newTestEnv(t)
	credID := env.seedCredential(t, "secret", "")
	env.seedDevice(t, "fw1.example.com", credID)

	var sawDryRun bool
	driver := &stubDriver{
		applyConfig: func(ctx context.Context, target devicedriver.Target, mode, snippet string, dryRun bool) (string, error) {
			sawDryRun = dryRun
			return "+ " + snippet, nil
		},
	}
	h := &ConfigDeployHandler{Runtime: env.runtime(driver), DryRun: true}
	payload := jobtype.PayloadConfigDeployPreview{Mode: "merge", Snippet: "no ip http server"}
	job := env.createQueuedJob(t, models.JobTypeConfigDeployPreview, models.TargetFilters{}, payload)

	if err := h.Handle(context.Background(), job, env.args(models.TargetFilters{}, payload)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !sawDryRun {
		t.Fatal("expected preview handler to call ApplyConfig with dryRun=true")
	}
}

func TestConfigDeployHandlerCommitAppliesForReal(t *testing.T) {
	env := newTestEnv(t)
	credID := env.seedCredential(t, "secret", "")
	env.seedDevice(t, "fw1.example.com", credID)

	var sawDryRun bool
	driver := &stubDriver{
		applyConfig: func(ctx context.Context, target devicedriver.Target, mode, snippet string, dryRun bool) (string, error) {
			sawDryRun = dryRun
			return "+ " + snippet, nil
		},
	}
	h := &ConfigDeployHandler{Runtime: env.runtime(driver), DryRun: false}
	payload := jobtype.PayloadConfigDeployCommit{Mode: "merge", Snippet: "no ip http server", PreviousJobID: "prior-job"}
	job := env.createQueuedJob(t, models.JobTypeConfigDeployCommit, models.TargetFilters{}, payload)

	if err := h.Handle(context.Background(), job, env.args(models.TargetFilters{}, payload)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if sawDryRun {
		t.Fatal("expected commit handler to call ApplyConfig with dryRun=false")
	}
}
