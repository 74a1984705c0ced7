package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cwbudde/secantfit/internal/data"
	"github.com/cwbudde/secantfit/internal/run"
	"github.com/cwbudde/secantfit/internal/store"
)

var (
	resumeDataDir   string
	resumeSteps     int
	resumeOptimizer string
	resumeTrace     bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume training from a checkpoint",
	Long: `Loads the checkpoint of a previous run and continues training from its
parameters. The optimizer starts fresh: curvature information from the
previous run is not saved, so the first step is a plain line-search step.
The checkpoint is overwritten when the resumed run ends.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
	resumeCmd.Flags().IntVar(&resumeSteps, "nsteps", 0, "Additional iterations (0 = the run's original step count)")
	resumeCmd.Flags().StringVar(&resumeOptimizer, "optimizer", "", "Switch to another optimizer (default: keep the run's optimizer)")
	resumeCmd.Flags().BoolVar(&resumeTrace, "trace", true, "Append to the run's loss trace")

	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	checkpointStore, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	cp, err := checkpointStore.LoadCheckpoint(runID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no checkpoint for run %s in %s", runID, resumeDataDir)
	}
	if err != nil {
		return err
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("checkpoint for run %s is invalid: %w", runID, err)
	}

	cfg := cp.Config
	if resumeSteps > 0 {
		cfg.Steps = resumeSteps
	}
	if resumeOptimizer != "" {
		cfg.Optimizer = resumeOptimizer
		cfg.Strategy = ""
	}
	if err := cp.IsCompatible(cfg); err != nil {
		return err
	}

	session, err := run.New(cfg, data.Default(), cp.Params)
	if err != nil {
		return err
	}

	slog.Info("Resuming run",
		"run_id", runID,
		"from_iteration", cp.Iteration,
		"previous_state", cp.State,
		"optimizer", session.Optimizer.Kind(),
	)

	ctx, stop := signalContext(cmd)
	defer stop()

	initialLoss := cp.InitialLoss
	res, err := executeSession(ctx, session, runID, sessionOptions{
		dataDir:         resumeDataDir,
		trace:           resumeTrace,
		checkpoint:      true,
		appendTrace:     true,
		iterationOffset: cp.Iteration,
		initialLoss:     &initialLoss,
	})
	if res != nil {
		printSummary(runID, session, res, cp.Iteration)
	}
	return err
}
