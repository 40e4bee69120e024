package directional

import (
	"math"

	"github.com/copyleftdev/qfe/internal/optimization"
	"github.com/copyleftdev/qfe/internal/optimization/numdiff"
)

const (
	// curvatureEpsilon is the smallest |f''| trusted as curvature.
	curvatureEpsilon = 1e-12
	// escapeScale widens the escape bracket relative to the last step.
	escapeScale = 1000.0
)

// Newton root-finds the first derivative along one axis with Newton steps.
//
// A vanishing derivative with positive curvature is a minimum, and a short step
// with positive curvature is still taken. Where the curvature is not positive
// and the derivative vanishes or steps stagnate, the neighbouring values are
// probed; a point lower than both neighbours is a minimum. Otherwise, with
// Escape enabled, a golden-section search over a much wider bracket jumps over
// the flat or saddle region.
type Newton struct {
	Function optimization.CostFunction
	// Function-change and derivative tolerance; also the probe distance
	MaxError float64
	// Position-change tolerance
	MinPointChange float64
	// Maximum number of Newton steps
	MaxIterations int
	// Finite-difference step
	Step float64
	// Leap over flat regions with a golden-section search
	Escape bool

	escape GoldenSection
}

// NewNewton creates a Newton search with escape enabled.
func NewNewton(f optimization.CostFunction, maxError, minPointChange float64) *Newton {
	return &Newton{
		Function:       f,
		MaxError:       maxError,
		MinPointChange: minPointChange,
		MaxIterations:  DefaultMaxIterations,
		Step:           numdiff.DefaultStep,
		Escape:         true,
	}
}

// FindMinimum searches along axis starting from start. Reaching MaxIterations is
// not an error; the last point is returned.
func (n *Newton) FindMinimum(start optimization.Point, axis int) (optimization.Solution, error) {
	point := start.Clone()
	value := n.Function(point)
	if !isFinite(value) {
		return optimization.Solution{Point: point, Value: value},
			optimization.NewDivergenceError("newton", axis, point, start[axis], value)
	}

	lastStep := n.MaxError
	for iteration := 0; iteration < n.MaxIterations; iteration++ {
		lastPosition, lastValue := point[axis], value

		df := numdiff.First(n.Function, point, axis, n.Step)
		d2f := numdiff.Second(n.Function, point, axis, n.Step)

		stalled := math.Abs(df) < n.MaxError ||
			(math.Abs(d2f) >= curvatureEpsilon && math.Abs(df/d2f) < n.MinPointChange)

		switch {
		case stalled && d2f > curvatureEpsilon && math.Abs(df) < n.MaxError:
			// Local minimum.
			return optimization.Solution{Point: point, Value: value}, nil
		case stalled && d2f <= curvatureEpsilon:
			left := numdiff.Left(n.Function, point, axis, n.MaxError)
			right := numdiff.Right(n.Function, point, axis, n.MaxError)
			if left > value && right > value {
				return optimization.Solution{Point: point, Value: value}, nil
			}
			if !n.Escape {
				return optimization.Solution{Point: point, Value: value}, nil
			}
			res, improved, err := n.leap(point, axis, value, left, right, lastStep)
			if err != nil {
				return optimization.Solution{Point: point, Value: value}, err
			}
			if !improved {
				return optimization.Solution{Point: point, Value: value}, nil
			}
			// The leap length is not a Newton step and must not widen the next bracket.
			point, value = res.Point, res.Value
			continue
		default:
			if math.Abs(d2f) < curvatureEpsilon {
				d2f = 1.0
			}
			step := math.Abs(df / d2f)
			if df > 0.0 {
				point[axis] -= step
			} else {
				point[axis] += step
			}
			value = n.Function(point)
			if !isFinite(value) {
				return optimization.Solution{Point: point, Value: value},
					optimization.NewDivergenceError("newton", axis, point, lastPosition, value)
			}
			lastStep = step
		}

		if math.Abs(lastValue-value) < n.MaxError && math.Abs(lastPosition-point[axis]) < n.MinPointChange {
			break
		}
	}

	return optimization.Solution{Point: point, Value: value}, nil
}

// leap searches a bracket of escapeScale times the last step toward the lower
// neighbour, or on both sides when the neighbours do not tell. The result is
// used only if it improves on value.
func (n *Newton) leap(point optimization.Point, axis int, value, left, right, lastStep float64) (optimization.Solution, bool, error) {
	n.escape.Function = n.Function
	n.escape.MaxError = n.MaxError

	x0 := point[axis]
	width := escapeScale * math.Max(lastStep, n.MaxError)

	var best optimization.Solution
	switch {
	case left < right:
		res, err := n.escape.search(point, axis, x0-width, x0)
		if err != nil {
			return best, false, err
		}
		best = res
	case right < left:
		res, err := n.escape.search(point, axis, x0, x0+width)
		if err != nil {
			return best, false, err
		}
		best = res
	default:
		lower, err := n.escape.search(point, axis, x0-width, x0)
		if err != nil {
			return best, false, err
		}
		upper, err := n.escape.search(point, axis, x0, x0+width)
		if err != nil {
			return best, false, err
		}
		best = lower
		if upper.Value < lower.Value || math.IsNaN(lower.Value) {
			best = upper
		}
	}

	if !isFinite(best.Value) {
		return best, false, optimization.NewDivergenceError("newton", axis, best.Point, x0, best.Value)
	}
	return best, best.Value < value, nil
}
