package store

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/secantfit/internal/model"
)

// RunConfig holds the settings of a training run (checkpoint copy).
// It is kept separate from the server and cmd types to avoid import cycles.
type RunConfig struct {
	Optimizer     string  `json:"optimizer"`
	Strategy      string  `json:"strategy,omitempty"`
	Gamma         float64 `json:"gamma,omitempty"`
	Beta          float64 `json:"beta,omitempty"`
	LearningRate  float64 `json:"learningRate,omitempty"`
	Widths        []int   `json:"widths"`
	Steps         int     `json:"steps"`
	BatchSize     int     `json:"batchSize"`
	Tol           float64 `json:"tol,omitempty"`
	DataDir       string  `json:"dataDir,omitempty"`
	WarmStartIter int     `json:"warmStartIters,omitempty"`

	// Seed drives initialization and batch order. Nil selects the default
	// seed; zero is a valid seed.
	Seed *int64 `json:"seed,omitempty"`

	// CheckpointEvery saves an intermediate checkpoint every N iterations
	// (0 = only at the end of the run).
	CheckpointEvery int `json:"checkpointEvery,omitempty"`
}

// Clone returns a copy of c that shares no memory with it.
func (c RunConfig) Clone() RunConfig {
	c.Widths = append([]int(nil), c.Widths...)
	if c.Seed != nil {
		seed := *c.Seed
		c.Seed = &seed
	}
	return c
}

// Checkpoint is a saved training state that can be resumed later.
//
// Only the model parameters are saved. The optimizer's curvature state
// (Hessian approximation, previous secant pair) is not: a resumed run starts
// a fresh optimizer from Params, so its first step is a plain line-search
// step and the loss trajectory differs from an uninterrupted run.
type Checkpoint struct {
	// RunID is the unique identifier of the training run
	RunID string `json:"runId"`

	// Params is the flat parameter vector after the last applied iteration
	Params []float64 `json:"params"`

	// Loss is the last recorded batch loss
	Loss float64 `json:"loss"`

	// InitialLoss is the loss of the first iteration of the original run
	InitialLoss float64 `json:"initialLoss"`

	// Iteration is the number of completed iterations
	Iteration int `json:"iteration"`

	// State is the terminal state of the run that wrote the checkpoint
	State string `json:"state"`

	Timestamp time.Time `json:"timestamp"`

	// Config is needed to rebuild the model and validate a resume.
	Config RunConfig `json:"config"`
}

// CheckpointInfo contains checkpoint metadata without the parameter vector.
type CheckpointInfo struct {
	RunID     string    `json:"runId"`
	Loss      float64   `json:"loss"`
	Iteration int       `json:"iteration"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Optimizer string    `json:"optimizer"`
	Widths    []int     `json:"widths"`
}

// NewCheckpoint creates a checkpoint from run state.
func NewCheckpoint(runID string, params []float64, loss, initialLoss float64, iteration int, state string, config RunConfig) *Checkpoint {
	return &Checkpoint{
		RunID:       runID,
		Params:      append([]float64(nil), params...),
		Loss:        loss,
		InitialLoss: initialLoss,
		Iteration:   iteration,
		State:       state,
		Timestamp:   time.Now(),
		Config:      config.Clone(),
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		RunID:     c.RunID,
		Loss:      c.Loss,
		Iteration: c.Iteration,
		State:     c.State,
		Timestamp: c.Timestamp,
		Optimizer: c.Config.Optimizer,
		Widths:    append([]int(nil), c.Config.Widths...),
	}
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if len(c.Params) == 0 {
		return &ValidationError{Field: "Params", Reason: "cannot be empty"}
	}
	for _, v := range c.Params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: "Params", Reason: "must be finite"}
		}
	}
	if c.Loss < 0 || math.IsNaN(c.Loss) {
		return &ValidationError{Field: "Loss", Reason: "must be a non-negative number"}
	}
	if c.InitialLoss < 0 || math.IsNaN(c.InitialLoss) {
		return &ValidationError{Field: "InitialLoss", Reason: "must be a non-negative number"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Optimizer == "" {
		return &ValidationError{Field: "Config.Optimizer", Reason: "cannot be empty"}
	}
	if len(c.Config.Widths) < 2 {
		return &ValidationError{Field: "Config.Widths", Reason: "needs at least an input and an output layer"}
	}
	for _, w := range c.Config.Widths {
		if w <= 0 {
			return &ValidationError{Field: "Config.Widths", Reason: "must all be positive"}
		}
	}
	if c.Config.BatchSize <= 0 {
		return &ValidationError{Field: "Config.BatchSize", Reason: "must be positive"}
	}
	expected := model.ParamCount(c.Config.Widths)
	if len(c.Params) != expected {
		return &ValidationError{
			Field:  "Params",
			Reason: fmt.Sprintf("length mismatch: expected %d params for widths %v", expected, c.Config.Widths),
		}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
// Only the network shape has to match; the optimizer may change on resume.
func (c *Checkpoint) IsCompatible(config RunConfig) error {
	if fmt.Sprint(c.Config.Widths) != fmt.Sprint(config.Widths) {
		return &CompatibilityError{
			Field:    "Widths",
			Expected: fmt.Sprint(c.Config.Widths),
			Actual:   fmt.Sprint(config.Widths),
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
