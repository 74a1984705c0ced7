package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/secantfit/internal/data"
	"github.com/cwbudde/secantfit/internal/run"
	"github.com/cwbudde/secantfit/internal/store"
	"github.com/cwbudde/secantfit/internal/train"
)

// baseDirer is implemented by stores that keep per-run files on disk.
type baseDirer interface {
	BaseDir() string
}

// runJob executes a training job in the background.
// If checkpointStore is not nil, a checkpoint is saved when the job ends and
// every Config.CheckpointEvery iterations; filesystem stores also get a loss trace.
func runJob(ctx context.Context, jm *JobManager, checkpointStore store.Store, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if jm.beforeStart != nil {
		jm.beforeStart(jobID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := jm.markRunning(jobID, cancel); err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "optimizer", job.Config.Optimizer)

	session, err := run.New(job.Config, data.Default(), nil)
	if err != nil {
		markJobFailed(jm, jobID, fmt.Errorf("failed to set up run: %w", err))
		return err
	}
	jm.UpdateJob(jobID, func(j *Job) {
		j.Config = session.Config
	})

	var trace *store.TraceWriter
	if fs, ok := checkpointStore.(baseDirer); ok {
		trace, err = store.NewTraceWriter(fs.BaseDir(), jobID, false)
		if err != nil {
			slog.Warn("Loss trace disabled", "job_id", jobID, "error", err)
		}
	}

	session.Loop.OnStep(func(info train.StepInfo) {
		params := append([]float64(nil), info.Params...)
		jm.UpdateJob(jobID, func(j *Job) {
			if info.Iteration == 1 {
				j.InitialLoss = info.Loss
			}
			j.Iterations = info.Iteration
			j.Loss = info.Loss
			j.Params = params
			j.losses = append(j.losses, info.Loss)
			if info.LineSearchFailed {
				j.LineSearchFailures++
			}
		})

		jm.broadcaster.Broadcast(ProgressEvent{
			JobID:      jobID,
			State:      StateRunning,
			Iterations: info.Iteration,
			Loss:       info.Loss,
			Timestamp:  time.Now(),
		})

		if trace != nil {
			if err := trace.Write(store.TraceEntry{
				Iteration:        info.Iteration,
				Loss:             info.Loss,
				Timestamp:        time.Now(),
				LineSearchFailed: info.LineSearchFailed,
			}); err != nil {
				slog.Warn("Failed to write trace entry", "job_id", jobID, "error", err)
			}
		}

		every := session.Config.CheckpointEvery
		if checkpointStore != nil && every > 0 && info.Iteration%every == 0 {
			if err := saveCheckpoint(jm, checkpointStore, jobID, string(train.StateRunning)); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	})

	start := time.Now()
	result, runErr := session.Run(ctx)
	elapsed := time.Since(start)

	if trace != nil {
		if err := trace.Close(); err != nil {
			slog.Warn("Failed to close trace", "job_id", jobID, "error", err)
		}
	}

	if result != nil {
		jm.UpdateJob(jobID, func(j *Job) {
			j.Params = append([]float64(nil), result.Params...)
			j.Loss = result.FinalLoss
			j.InitialLoss = result.InitialLoss
			j.Iterations = result.Iterations
			j.LineSearchFailures = result.LineSearchFailures
			j.TrainState = string(result.State)
		})
		if checkpointStore != nil && result.Iterations > 0 {
			if err := saveCheckpoint(jm, checkpointStore, jobID, string(result.State)); err != nil {
				slog.Error("Failed to save checkpoint", "job_id", jobID, "error", err)
			}
		}
	}

	var final JobState
	switch {
	case result != nil && result.State == train.StateInterrupted:
		markJobCancelled(jm, jobID)
		final = StateCancelled
		runErr = context.Canceled
	case runErr != nil:
		markJobFailed(jm, jobID, runErr)
		final = StateFailed
	default:
		endTime := time.Now()
		jm.UpdateJob(jobID, func(j *Job) {
			j.State = StateCompleted
			j.EndTime = &endTime
		})
		final = StateCompleted
		slog.Info("Job completed",
			"job_id", jobID,
			"elapsed", elapsed,
			"train_state", result.State,
			"initial_loss", result.InitialLoss,
			"final_loss", result.FinalLoss,
		)
	}

	finished, _ := jm.GetJob(jobID)
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:      jobID,
		State:      final,
		Iterations: finished.Iterations,
		Loss:       finished.Loss,
		Timestamp:  time.Now(),
	})

	return runErr
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
		if j.TrainState == "" {
			j.TrainState = string(train.StateFailed)
		}
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}

// saveCheckpoint saves a checkpoint of the job's current parameters
func saveCheckpoint(jm *JobManager, checkpointStore store.Store, jobID, state string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if len(job.Params) == 0 {
		slog.Debug("Skipping checkpoint, no parameters yet", "job_id", jobID)
		return nil
	}

	checkpoint := store.NewCheckpoint(
		jobID,
		job.Params,
		job.Loss,
		job.InitialLoss,
		job.Iterations,
		state,
		job.Config,
	)
	if err := checkpoint.Validate(); err != nil {
		return fmt.Errorf("invalid checkpoint: %w", err)
	}

	if err := checkpointStore.SaveCheckpoint(jobID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	slog.Info("Checkpoint saved",
		"job_id", jobID,
		"iteration", job.Iterations,
		"loss", job.Loss,
	)
	return nil
}

// isCancelled reports whether err is the cancellation error returned by runJob.
func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
