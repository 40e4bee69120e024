// Package directional minimizes a multivariate function along a single
// coordinate axis while all other coordinates are held fixed.
//
// A Minimizer instance keeps per-call state and is not safe for concurrent use;
// parallel searches need separate instances.
package directional

import (
	"fmt"
	"math"

	"github.com/copyleftdev/qfe/internal/optimization"
)

// Minimizer finds a local minimum of a function restricted to one axis.
type Minimizer interface {
	// FindMinimum searches along axis starting from start. start is not modified.
	FindMinimum(start optimization.Point, axis int) (optimization.Solution, error)
}

// Strategy selects a Minimizer implementation for coordinate descent.
type Strategy int

const (
	// StrategyNewton uses Newton steps with a golden-section escape.
	StrategyNewton Strategy = iota
	// StrategyGoldenSection uses golden-section search on brackets estimated
	// from a local quadratic model.
	StrategyGoldenSection
)

// String returns the name of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyNewton:
		return "newton"
	case StrategyGoldenSection:
		return "golden-section"
	default:
		return "unknown"
	}
}

// ParseStrategy converts a strategy name to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "newton", "":
		return StrategyNewton, nil
	case "golden-section", "golden":
		return StrategyGoldenSection, nil
	default:
		return 0, fmt.Errorf("unknown directional strategy %q", name)
	}
}

// Settings holds the tolerances shared by all strategies.
type Settings struct {
	// Function tolerance, also used as derivative tolerance and bracket width
	MaxError float64
	// Newton steps shorter than this are considered stagnation
	MinPointChange float64
	// Maximum number of steps of one search
	MaxIterations int
}

// DefaultMaxIterations bounds a single directional search.
const DefaultMaxIterations = 1000

// New builds the Minimizer for strategy over f.
func New(strategy Strategy, f optimization.CostFunction, s Settings) (Minimizer, error) {
	if s.MaxIterations <= 0 {
		s.MaxIterations = DefaultMaxIterations
	}
	switch strategy {
	case StrategyNewton:
		n := NewNewton(f, s.MaxError, s.MinPointChange)
		n.MaxIterations = s.MaxIterations
		return n, nil
	case StrategyGoldenSection:
		g := NewGoldenSectionInterpolated(f, s.MaxError)
		g.MaxIterations = s.MaxIterations
		return g, nil
	default:
		return nil, optimization.WrapErrorf(optimization.ErrInvalidConfig, "unknown directional strategy %d", int(strategy))
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
