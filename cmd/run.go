package main

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cwbudde/secantfit/internal/data"
	"github.com/cwbudde/secantfit/internal/run"
	"github.com/cwbudde/secantfit/internal/store"
)

var (
	optimizerName   string
	strategy        string
	gamma           float64
	beta            float64
	learningRate    float64
	nsteps          int
	batchSize       int
	seed            int64
	widths          []int
	tol             float64
	dataDir         string
	writeTrace      bool
	writeCheckpoint bool
	checkpointEvery int
	warmStartIters  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Train the network on the built-in dataset",
	Long: `Trains the network with the selected optimizer and prints a summary.

Optimizers: armijo, bfgs, ibfgs, bb (bbv1), bbv2, bbv3 (alternating), backprop.
Ctrl-C stops training after the current iteration; the run is then saved as
interrupted when --checkpoint is set and can be continued with "resume".`,
	Args: cobra.NoArgs,
	RunE: runTraining,
}

func init() {
	runCmd.Flags().StringVar(&optimizerName, "optimizer", run.DefaultOptimizer, "Optimizer: armijo, bfgs, ibfgs, bb, bbv1, bbv2, bbv3, backprop")
	runCmd.Flags().StringVar(&strategy, "strategy", "", "Barzilai-Borwein step formula override: v1, v2, alt")
	runCmd.Flags().Float64Var(&gamma, "gamma", 0, "Armijo sufficient-decrease constant (0 = optimizer default)")
	runCmd.Flags().Float64Var(&beta, "beta", 0, "Backtracking shrink factor (0 = optimizer default)")
	runCmd.Flags().Float64Var(&learningRate, "lr", 0, "Learning rate for backprop (0 = default 0.5)")
	runCmd.Flags().IntVar(&nsteps, "nsteps", run.DefaultSteps, "Number of training iterations")
	runCmd.Flags().IntVar(&batchSize, "batchsize", run.DefaultBatchSize, "Samples per batch")
	runCmd.Flags().Int64Var(&seed, "seed", run.DefaultSeed, "Random seed for initialization and batching")
	runCmd.Flags().IntSliceVar(&widths, "widths", run.DefaultWidths, "Layer widths including input and output")
	runCmd.Flags().Float64Var(&tol, "tol", 0, "Stop when the loss changes by less than tol (0 = run all steps)")
	runCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Base directory for checkpoints and traces")
	runCmd.Flags().BoolVar(&writeTrace, "trace", false, "Write the loss trace to <data-dir>/runs/<id>/trace.jsonl")
	runCmd.Flags().BoolVar(&writeCheckpoint, "checkpoint", false, "Save a checkpoint when training ends")
	runCmd.Flags().IntVar(&checkpointEvery, "checkpoint-every", 0, "Also checkpoint every N iterations (requires --checkpoint)")
	runCmd.Flags().IntVar(&warmStartIters, "warm-start-iters", 0, "Mayfly iterations to pick starting weights (0 = disabled)")

	rootCmd.AddCommand(runCmd)
}

// runConfigFromFlags collects the run flags into a run configuration.
func runConfigFromFlags() store.RunConfig {
	seedValue := seed
	return store.RunConfig{
		Optimizer:       optimizerName,
		Strategy:        strategy,
		Gamma:           gamma,
		Beta:            beta,
		LearningRate:    learningRate,
		Widths:          append([]int(nil), widths...),
		Steps:           nsteps,
		BatchSize:       batchSize,
		Seed:            &seedValue,
		Tol:             tol,
		DataDir:         dataDir,
		WarmStartIter:   warmStartIters,
		CheckpointEvery: checkpointEvery,
	}
}

func runTraining(cmd *cobra.Command, args []string) error {
	cfg := runConfigFromFlags()
	if nsteps <= 0 {
		return fmt.Errorf("--nsteps must be positive, got %d", nsteps)
	}
	if tol < 0 {
		return fmt.Errorf("--tol must not be negative, got %g", tol)
	}

	session, err := run.New(cfg, data.Default(), nil)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	slog.Info("Starting run", "run_id", runID, "optimizer", session.Optimizer.Kind(), "nparams", session.Model.NParams())

	ctx, stop := signalContext(cmd)
	defer stop()

	res, err := executeSession(ctx, session, runID, sessionOptions{
		dataDir:    dataDir,
		trace:      writeTrace,
		checkpoint: writeCheckpoint,
	})
	if res != nil {
		printSummary(runID, session, res, 0)
	}
	return err
}
