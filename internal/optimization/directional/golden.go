package directional

import (
	"math"

	"github.com/copyleftdev/qfe/internal/optimization"
	"github.com/copyleftdev/qfe/internal/optimization/numdiff"
)

// GoldenRatio is the fraction of the bracket kept after each golden-section step.
const GoldenRatio = 0.6180339887

// GoldenSection searches a fixed bracket [Left, Right] on one axis.
type GoldenSection struct {
	Function optimization.CostFunction
	// Target bracket width
	MaxError float64
	// Bracket on the searched axis
	Left, Right float64
	// Fraction of the bracket kept per step, in (0.5, 1); zero means GoldenRatio
	Ratio float64
	// OnBracket, when set, observes every bracket including the initial one
	OnBracket func(left, right float64)
}

// NewGoldenSection creates a golden-section search over [left, right].
func NewGoldenSection(f optimization.CostFunction, maxError, left, right float64) *GoldenSection {
	return &GoldenSection{
		Function: f,
		MaxError: maxError,
		Left:     left,
		Right:    right,
	}
}

// FindMinimum searches the configured bracket. Only the axis coordinate of start
// is replaced; the others are kept.
func (g *GoldenSection) FindMinimum(start optimization.Point, axis int) (optimization.Solution, error) {
	res, err := g.search(start, axis, g.Left, g.Right)
	if err != nil {
		return res, err
	}
	if !isFinite(res.Value) {
		return res, optimization.NewDivergenceError("golden-section", axis, res.Point, start[axis], res.Value)
	}
	return res, nil
}

func (g *GoldenSection) ratio() float64 {
	if g.Ratio == 0 {
		return GoldenRatio
	}
	return g.Ratio
}

func (g *GoldenSection) search(start optimization.Point, axis int, a, b float64) (optimization.Solution, error) {
	r := g.ratio()
	if !(r > 0.5 && r < 1) {
		return optimization.Solution{}, optimization.WrapErrorf(optimization.ErrInvalidConfig,
			"golden-section ratio must be in (0.5, 1), got %v", r)
	}
	if !(g.MaxError > 0) {
		return optimization.Solution{}, optimization.WrapErrorf(optimization.ErrInvalidConfig,
			"golden-section max error must be positive, got %v", g.MaxError)
	}
	if a > b {
		a, b = b, a
	}

	x := start.Clone()
	eval := func(v float64) float64 {
		x[axis] = v
		return g.Function(x)
	}

	// For very large coordinates consecutive doubles can be further apart than
	// MaxError, so the width may never drop below it. The cap bounds the search
	// and an iteration that leaves the bracket unchanged ends it.
	limit := math.Ceil((b-a)/g.MaxError) + 1
	iterations := math.MaxInt32
	if limit < float64(iterations) {
		iterations = int(limit)
	}

	c := b - r*(b-a)
	d := a + r*(b-a)
	fc, fd := eval(c), eval(d)
	g.notify(a, b)

	for b-a > g.MaxError && iterations > 0 {
		iterations--
		prevA, prevB := a, b
		if fc < fd {
			b, d, fd = d, c, fc
			c = b - r*(b-a)
			fc = eval(c)
		} else {
			a, c, fc = c, d, fd
			d = a + r*(b-a)
			fd = eval(d)
		}
		if a == prevA && b == prevB {
			// Interior points collapsed onto the bounds.
			break
		}
		g.notify(a, b)
	}

	x[axis] = 0.5 * (a + b)
	return optimization.Solution{Point: x, Value: g.Function(x)}, nil
}

func (g *GoldenSection) notify(a, b float64) {
	if g.OnBracket != nil {
		g.OnBracket(a, b)
	}
}

// GoldenSectionInterpolated runs golden-section searches on brackets derived
// from a local quadratic model of the function.
type GoldenSectionInterpolated struct {
	Function optimization.CostFunction
	MaxError float64
	// Maximum number of bracket searches
	MaxIterations int
	// Finite-difference step
	Step float64

	section GoldenSection
}

// NewGoldenSectionInterpolated creates an interpolated golden-section search.
func NewGoldenSectionInterpolated(f optimization.CostFunction, maxError float64) *GoldenSectionInterpolated {
	return &GoldenSectionInterpolated{
		Function:      f,
		MaxError:      maxError,
		MaxIterations: DefaultMaxIterations,
		Step:          numdiff.DefaultStep,
	}
}

// FindMinimum searches along axis starting from start.
func (g *GoldenSectionInterpolated) FindMinimum(start optimization.Point, axis int) (optimization.Solution, error) {
	g.section.Function = g.Function
	g.section.MaxError = g.MaxError

	point := start.Clone()
	value := g.Function(point)
	if !isFinite(value) {
		return optimization.Solution{Point: point, Value: value},
			optimization.NewDivergenceError("golden-section", axis, point, start[axis], value)
	}

	for i := 0; i < g.MaxIterations; i++ {
		// The minimum of the quadratic model lies at dx = -f'(x) / f''(x).
		df := numdiff.First(g.Function, point, axis, g.Step)
		d2f := numdiff.Second(g.Function, point, axis, g.Step)

		if math.Abs(df) < g.MaxError {
			if d2f > 0 {
				break
			}
			// Stationary but not a minimum; move in an arbitrary direction.
			df = 1.0
		}
		if math.Abs(d2f)*1000.0 < math.Abs(df) {
			// Locally linear, so the model has no minimum.
			d2f = 1.0
		}

		dx := -math.Copysign(math.Abs(df/d2f), df)
		if !isFinite(dx) {
			return optimization.Solution{Point: point, Value: value},
				optimization.NewDivergenceError("golden-section", axis, point, start[axis], dx)
		}

		x0 := point[axis]
		res, err := g.section.search(point, axis, x0, x0+dx)
		if err != nil {
			return optimization.Solution{Point: point, Value: value}, err
		}
		if !isFinite(res.Value) {
			return res, optimization.NewDivergenceError("golden-section", axis, res.Point, x0, res.Value)
		}
		if res.Value > value {
			break
		}

		last := value
		point, value = res.Point, res.Value
		if math.Abs(last-value) <= g.MaxError {
			break
		}
	}

	return optimization.Solution{Point: point, Value: value}, nil
}
