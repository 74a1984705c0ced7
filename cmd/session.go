package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/secantfit/internal/run"
	"github.com/cwbudde/secantfit/internal/store"
	"github.com/cwbudde/secantfit/internal/train"
)

// sessionOptions controls the side effects of executeSession.
type sessionOptions struct {
	dataDir    string
	trace      bool
	checkpoint bool

	// resume settings
	appendTrace     bool
	iterationOffset int
	initialLoss     *float64
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := context.Background()
	if cmd != nil && cmd.Context() != nil {
		parent = cmd.Context()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// executeSession runs s, writing the loss trace and checkpoints under
// opts.dataDir as requested. The checkpoint is saved even when training
// fails, holding the last valid parameters.
func executeSession(ctx context.Context, s *run.Session, runID string, opts sessionOptions) (*train.Result, error) {
	var fs *store.FSStore
	if opts.trace || opts.checkpoint {
		var err error
		fs, err = store.NewFSStore(opts.dataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
		}
	}

	if opts.trace {
		tw, err := store.NewTraceWriter(fs.BaseDir(), runID, opts.appendTrace)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := tw.Close(); err != nil {
				slog.Warn("Failed to close trace", "run_id", runID, "error", err)
			}
		}()
		s.Loop.OnStep(func(info train.StepInfo) {
			entry := store.TraceEntry{
				Iteration:        opts.iterationOffset + info.Iteration,
				Loss:             info.Loss,
				Timestamp:        time.Now(),
				LineSearchFailed: info.LineSearchFailed,
			}
			if err := tw.Write(entry); err != nil {
				slog.Warn("Failed to write trace entry", "run_id", runID, "error", err)
			}
		})
	}

	var firstLoss *float64
	s.Loop.OnStep(func(info train.StepInfo) {
		if firstLoss == nil {
			l := info.Loss
			firstLoss = &l
		}
	})

	initialLoss := func(res *train.Result) float64 {
		if opts.initialLoss != nil {
			return *opts.initialLoss
		}
		return res.InitialLoss
	}

	if opts.checkpoint && s.Config.CheckpointEvery > 0 {
		every := s.Config.CheckpointEvery
		s.Loop.OnStep(func(info train.StepInfo) {
			if info.Iteration%every != 0 {
				return
			}
			initial := info.Loss
			if opts.initialLoss != nil {
				initial = *opts.initialLoss
			} else if firstLoss != nil {
				initial = *firstLoss
			}
			cp := store.NewCheckpoint(runID, info.Params, info.Loss, initial,
				opts.iterationOffset+info.Iteration, string(train.StateRunning), s.Config)
			if err := fs.SaveCheckpoint(runID, cp); err != nil {
				slog.Error("Failed to save checkpoint", "run_id", runID, "error", err)
			}
		})
	}

	res, runErr := s.Run(ctx)
	if res == nil {
		return nil, runErr
	}

	if opts.checkpoint && res.Iterations > 0 {
		cp := run.Checkpoint(runID, s.Config, res, opts.iterationOffset, initialLoss(res))
		if err := cp.Validate(); err != nil {
			slog.Error("Not saving invalid checkpoint", "run_id", runID, "error", err)
		} else if err := fs.SaveCheckpoint(runID, cp); err != nil {
			slog.Error("Failed to save checkpoint", "run_id", runID, "error", err)
			if runErr == nil {
				runErr = err
			}
		} else {
			slog.Info("Checkpoint saved", "run_id", runID, "iteration", cp.Iteration, "state", cp.State)
		}
	}

	return res, runErr
}

// printSummary prints the outcome of a run.
func printSummary(runID string, s *run.Session, res *train.Result, iterationOffset int) {
	fmt.Printf("Run %s: %s after %d iterations (%s)\n",
		runID, res.State, iterationOffset+res.Iterations, res.Elapsed.Round(time.Millisecond))
	if len(res.LossHistory) > 0 {
		fmt.Printf("  Loss: %.6g -> %.6g\n", res.InitialLoss, res.FinalLoss)
	}
	fmt.Printf("  Accuracy: %.1f%%\n", 100*s.Model.Accuracy(s.Data))
	if res.LineSearchFailures > 0 {
		fmt.Printf("  Line search failures: %d\n", res.LineSearchFailures)
	}
	st := res.Stats
	if st.CurvatureSkips > 0 || st.Resets > 0 || st.Fallbacks > 0 {
		fmt.Printf("  Curvature skips: %d, resets: %d, fallbacks: %d\n", st.CurvatureSkips, st.Resets, st.Fallbacks)
	}
}
