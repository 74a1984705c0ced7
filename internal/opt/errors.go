package opt

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors reported by the optimizers. Use errors.Is to match them;
// the returned errors carry additional context and a stack trace.
var (
	// ErrInvalidConfiguration is returned at construction time, before any
	// step runs.
	ErrInvalidConfiguration = errors.New("invalid optimizer configuration")

	// ErrInvalidDescentDirection is returned by the line search when
	// ⟨grad, direction⟩ ≥ 0. It indicates a mismatch between optimizer and
	// gradient and is not retried.
	ErrInvalidDescentDirection = errors.New("search direction is not a descent direction")

	// ErrLineSearchFailed is returned when no step length satisfying the
	// Armijo condition was found within the shrink cap.
	ErrLineSearchFailed = errors.New("line search failed")

	// ErrNumericalInstability is returned when non-finite values show up in
	// the gradient, the objective, the step or the updated parameters.
	ErrNumericalInstability = errors.New("numerical instability")
)

// ConfigError describes a rejected configuration field.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid optimizer configuration: %s=%v %s", e.Field, e.Value, e.Reason)
}

// Is reports ConfigError as ErrInvalidConfiguration.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfiguration
}

func configError(field string, value interface{}, reason string) error {
	return errors.WithStack(&ConfigError{Field: field, Value: value, Reason: reason})
}
