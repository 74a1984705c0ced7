package server

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cwbudde/secantfit/internal/store"
)

func TestRunJob_Success(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{Optimizer: "bfgs", Steps: 30, Seed: seedPtr(42)})

	if err := runJob(context.Background(), jm, nil, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}
	if updated.TrainState != "max_iters_reached" {
		t.Errorf("Expected max_iters_reached, got %s", updated.TrainState)
	}
	if updated.Iterations != 30 {
		t.Errorf("Expected 30 iterations, got %d", updated.Iterations)
	}
	if len(updated.Params) != 114 {
		t.Errorf("Expected 114 params, got %d", len(updated.Params))
	}
	if updated.Loss >= updated.InitialLoss {
		t.Errorf("Loss did not decrease: initial=%g final=%g", updated.InitialLoss, updated.Loss)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}

	losses, _ := jm.Losses(job.ID, 0)
	if len(losses) != 30 {
		t.Errorf("Expected 30 recorded losses, got %d", len(losses))
	}
}

func TestRunJob_InvalidConfig(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{Optimizer: "adam"})

	if err := runJob(context.Background(), jm, nil, job.ID); err == nil {
		t.Error("runJob should fail with unknown optimizer")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if updated.Error == "" {
		t.Error("Error message should be set")
	}
}

func TestRunJob_NotFound(t *testing.T) {
	if err := runJob(context.Background(), NewJobManager(), nil, "missing"); err == nil {
		t.Error("runJob should fail for unknown job")
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{Optimizer: "armijo", Steps: 1000000})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error)
	go func() {
		done <- runJob(ctx, jm, nil, job.ID)
	}()

	waitFor(t, func() bool {
		j, _ := jm.GetJob(job.ID)
		return j.Iterations > 0
	})
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runJob did not return after cancellation")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
	if updated.TrainState != "interrupted" {
		t.Errorf("Expected interrupted train state, got %s", updated.TrainState)
	}
	if len(updated.Params) != 114 {
		t.Error("Cancelled job should keep its last parameters")
	}
}

func TestRunJob_CancelledBeforeStart(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{})
	jm.Cancel(job.ID)

	if err := runJob(context.Background(), jm, nil, job.ID); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	updated, _ := jm.GetJob(job.ID)
	if updated.Iterations != 0 {
		t.Error("Cancelled job should not train")
	}
}

func TestRunJob_CancelledWhilePickedUp(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{Optimizer: "armijo", Steps: 1000})

	// The worker has already read the pending job when the cancel arrives.
	jm.beforeStart = func(id string) {
		exists, err := jm.Cancel(id)
		if !exists || err != nil {
			t.Errorf("Cancel(%s) = %v, %v", id, exists, err)
		}
	}

	if err := runJob(context.Background(), jm, nil, job.ID); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Expected state %s, got %s", StateCancelled, updated.State)
	}
	if updated.Iterations != 0 {
		t.Errorf("Cancelled job trained for %d iterations", updated.Iterations)
	}
}

func TestJobManager_MarkRunning(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{})

	if err := jm.markRunning(job.ID, func() {}); err != nil {
		t.Fatalf("markRunning failed: %v", err)
	}
	if err := jm.markRunning(job.ID, func() {}); err == nil {
		t.Error("Expected error when starting a running job twice")
	}
	if err := jm.markRunning("missing", func() {}); err == nil {
		t.Error("Expected error for unknown job")
	}

	cancelled := jm.CreateJob(JobConfig{})
	jm.Cancel(cancelled.ID)
	if err := jm.markRunning(cancelled.ID, func() {}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	updated, _ := jm.GetJob(cancelled.ID)
	if updated.State != StateCancelled {
		t.Errorf("Expected state %s, got %s", StateCancelled, updated.State)
	}
}

func TestRunJob_SavesCheckpointAndTrace(t *testing.T) {
	dir := t.TempDir()
	fs, err := store.NewFSStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	jm := NewJobManager()
	job := jm.CreateJob(JobConfig{Optimizer: "ibfgs", Steps: 20, CheckpointEvery: 5})

	if err := runJob(context.Background(), jm, fs, job.ID); err != nil {
		t.Fatalf("runJob failed: %v", err)
	}

	cp, err := fs.LoadCheckpoint(job.ID)
	if err != nil {
		t.Fatalf("LoadCheckpoint failed: %v", err)
	}
	if err := cp.Validate(); err != nil {
		t.Errorf("Saved checkpoint invalid: %v", err)
	}
	if cp.Iteration != 20 || cp.State != "max_iters_reached" {
		t.Errorf("Expected final checkpoint at iteration 20, got %d (%s)", cp.Iteration, cp.State)
	}
	if cp.Config.Optimizer != "ibfgs" {
		t.Errorf("Checkpoint config not saved: %+v", cp.Config)
	}

	if _, err := os.Stat(filepath.Join(dir, "runs", job.ID, "trace.jsonl")); err != nil {
		t.Fatalf("Trace not written: %v", err)
	}
	reader, err := store.NewTraceReader(dir, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	entries, err := reader.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 20 {
		t.Errorf("Expected 20 trace entries, got %d", len(entries))
	}
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
