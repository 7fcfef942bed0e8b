package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/netctl/internal/broker"
	"github.com/ternarybob/netctl/internal/jobtype"
	"github.com/ternarybob/netctl/internal/models"
)

// recordingHandler counts invocations and returns a canned error, letting
// tests assert whether the pool actually dispatched to it.
type recordingHandler struct {
	calls int
	err   error
}

func (h *recordingHandler) Handle(ctx context.Context, job *models.Job, args jobtype.Args) error {
	h.calls++
	return h.err
}

func newTestPool(env *testEnv, queue string) *WorkerPool {
	return NewWorkerPool(env.broker, env.store, []string{queue}, DefaultPoolConfig(), arbor.NewLogger())
}

func TestProcessMessageDispatchesToRegisteredHandler(t *testing.T) {
	env := newTestEnv(t)
	job := env.createQueuedJob(t, models.JobTypeCheckReachability, models.TargetFilters{}, jobtype.PayloadCheckReachability{})

	wp := newTestPool(env, models.DefaultQueueName)
	h := &recordingHandler{}
	wp.RegisterHandler("check_reachability", h)

	argsJSON, _ := json.Marshal(jobtype.Args{TargetSummary: models.TargetFilters{}, Payload: []byte(`{}`)})
	if err := env.broker.Enqueue(context.Background(), models.DefaultQueueName, broker.Message{
		TaskName: "check_reachability",
		JobID:    job.ID,
		Args:     argsJSON,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := wp.processMessage(0, models.DefaultQueueName); err != nil {
		t.Fatalf("process message: %v", err)
	}
	if h.calls != 1 {
		t.Fatalf("expected handler to be invoked once, got %d", h.calls)
	}

	if _, _, err := env.broker.Receive(context.Background(), models.DefaultQueueName); !errors.Is(err, broker.ErrNoMessage) {
		t.Fatalf("expected message to be deleted after processing, got %v", err)
	}
}

func TestProcessMessageSkipsAlreadyTerminalJobWithoutInvokingHandler(t *testing.T) {
	env := newTestEnv(t)
	job := env.createQueuedJob(t, models.JobTypeCheckReachability, models.TargetFilters{}, jobtype.PayloadCheckReachability{})
	if err := env.jobs.SetStatus(context.Background(), job.ID, models.StatusRunning, nil); err != nil {
		t.Fatalf("set running: %v", err)
	}
	if err := env.jobs.SetStatus(context.Background(), job.ID, models.StatusSuccess, nil); err != nil {
		t.Fatalf("set success: %v", err)
	}

	wp := newTestPool(env, models.DefaultQueueName)
	h := &recordingHandler{}
	wp.RegisterHandler("check_reachability", h)

	argsJSON, _ := json.Marshal(jobtype.Args{})
	if err := env.broker.Enqueue(context.Background(), models.DefaultQueueName, broker.Message{
		TaskName: "check_reachability",
		JobID:    job.ID,
		Args:     argsJSON,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := wp.processMessage(0, models.DefaultQueueName); err != nil {
		t.Fatalf("process message: %v", err)
	}
	if h.calls != 0 {
		t.Fatalf("expected a redelivered message for an already-terminal job to skip the handler, got %d calls", h.calls)
	}
}

func TestProcessMessageDropsUnknownTaskName(t *testing.T) {
	env := newTestEnv(t)
	job := env.createQueuedJob(t, models.JobTypeCheckReachability, models.TargetFilters{}, jobtype.PayloadCheckReachability{})

	wp := newTestPool(env, models.DefaultQueueName)
	// No handler registered for "nonexistent_task".

	argsJSON, _ := json.Marshal(jobtype.Args{})
	if err := env.broker.Enqueue(context.Background(), models.DefaultQueueName, broker.Message{
		TaskName: "nonexistent_task",
		JobID:    job.ID,
		Args:     argsJSON,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := wp.processMessage(0, models.DefaultQueueName); err != nil {
		t.Fatalf("expected unknown task name to be dropped without error, got %v", err)
	}

	if _, _, err := env.broker.Receive(context.Background(), models.DefaultQueueName); !errors.Is(err, broker.ErrNoMessage) {
		t.Fatalf("expected the undispatchable message to be deleted, got %v", err)
	}
}

func TestProcessMessageReturnsHandlerError(t *testing.T) {
	env := newTestEnv(t)
	job := env.createQueuedJob(t, models.JobTypeCheckReachability, models.TargetFilters{}, jobtype.PayloadCheckReachability{})

	wp := newTestPool(env, models.DefaultQueueName)
	wantErr := errors.New("boom")
	wp.RegisterHandler("check_reachability", &recordingHandler{err: wantErr})

	argsJSON, _ := json.Marshal(jobtype.Args{})
	if err := env.broker.Enqueue(context.Background(), models.DefaultQueueName, broker.Message{
		TaskName: "check_reachability",
		JobID:    job.ID,
		Args:     argsJSON,
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := wp.processMessage(0, models.DefaultQueueName); !errors.Is(err, wantErr) {
		t.Fatalf("expected handler error to propagate, got %v", err)
	}

	// The message must still be deleted even though the handler errored —
	// redelivery is not how the worker pool retries.
	if _, _, err := env.broker.Receive(context.Background(), models.DefaultQueueName); !errors.Is(err, broker.ErrNoMessage) {
		t.Fatalf("expected message deleted despite handler error, got %v", err)
	}
}

func TestRegisterDefaultHandlersWiresAllSevenTaskNames(t *testing.T) {
	env := newTestEnv(t)
	wp := newTestPool(env, models.DefaultQueueName)
	RegisterDefaultHandlers(wp, env.runtime(&stubDriver{}))

	for _, taskName := range []string{
		"run_commands", "config_backup", "config_deploy_preview", "config_deploy_commit",
		"compliance_check", "topology_discovery", "check_reachability",
	} {
		if _, ok := wp.handlers[taskName]; !ok {
			t.Errorf("expected a handler registered for task %q", taskName)
		}
	}
}
