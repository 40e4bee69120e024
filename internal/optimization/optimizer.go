package optimization

import (
	"context"
)

// Solver defines the interface for iterative minimization algorithms
type Solver interface {
	// Solve runs the minimization until a stopping rule fires and returns the last record
	Solve(ctx context.Context) (IterationRecord, error)

	// Results returns the iteration log of the last solve. Once a solve has
	// started it holds at least the seed record; before that it is empty.
	Results() []IterationRecord

	// Stop requests cooperative cancellation of a running solve
	Stop()
}

// InitialPointMethod selects how the starting point of a solve is chosen.
type InitialPointMethod int

const (
	// Manual uses Config.InitialPoint as given.
	Manual InitialPointMethod = iota
	// Random draws a point uniformly inside Config.Bounds.
	Random
)

// String returns the name of the method.
func (m InitialPointMethod) String() string {
	switch m {
	case Manual:
		return "manual"
	case Random:
		return "random"
	default:
		return "unknown"
	}
}

// Config contains the settings shared by all solvers
type Config struct {
	// Maximum number of outer iterations
	MaxIterations int

	// A sweep whose position change is below this value counts as converged
	MinPositionChange float64

	// A sweep whose function change is below this value counts as converged
	MinFunctionChange float64

	// Starting point, used with the Manual method
	InitialPoint Point

	// How the starting point is chosen
	InitializationMethod InitialPointMethod

	// Bounds for each dimension [min, max], used with the Random method
	Bounds [][2]float64

	// Random seed for reproducibility of the Random method
	RandomSeed int64
}

// DefaultConfig returns the default solver settings.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     100,
		MinPositionChange: 1e-3,
		MinFunctionChange: 1e-3,
	}
}

// Validate checks the thresholds of the configuration.
func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return WrapErrorf(ErrInvalidConfig, "max iterations must be positive, got %d", c.MaxIterations)
	}
	if !(c.MinPositionChange > 0) || !(c.MinFunctionChange > 0) {
		return WrapErrorf(ErrInvalidConfig, "convergence thresholds must be positive, got position=%v function=%v",
			c.MinPositionChange, c.MinFunctionChange)
	}
	return nil
}

// Solution represents a point together with the value of the minimized function there
type Solution struct {
	Point Point
	Value float64
}
