package optimization

import (
	"math"
)

// Point is a position in the search space. Minimizers never mutate a point they
// receive; they work on a Clone.
type Point []float64

// Clone returns an independent copy of p.
func (p Point) Clone() Point {
	if p == nil {
		return nil
	}
	c := make(Point, len(p))
	copy(c, p)
	return c
}

// CostFunction maps a point to a scalar. It must be deterministic and free of side
// effects; it may return NaN or Inf where it is undefined.
type CostFunction func(x Point) float64

// ConstraintType tells on which side of zero a constraint function is feasible.
type ConstraintType int

const (
	// LessEqual requires f(x) <= 0.
	LessEqual ConstraintType = iota
	// GreaterEqual requires f(x) >= 0.
	GreaterEqual
	// Equality requires f(x) == 0.
	Equality
)

// String returns the comparison operator of the type.
func (t ConstraintType) String() string {
	switch t {
	case LessEqual:
		return "<="
	case GreaterEqual:
		return ">="
	case Equality:
		return "=="
	default:
		return "?"
	}
}

// Constraint is a constraint function together with its type.
type Constraint struct {
	Function CostFunction
	Type     ConstraintType
}

// Evaluate returns the constraint value normalized so that inequalities are met
// when the result is >= 0; a negative result is the size of the violation.
// Equality constraints return the raw value.
func (c Constraint) Evaluate(x Point) float64 {
	v := c.Function(x)
	if c.Type == LessEqual {
		return -v
	}
	return v
}

// IsMet reports whether x satisfies the constraint within eps.
func (c Constraint) IsMet(x Point, eps float64) bool {
	v := c.Evaluate(x)
	if c.Type == Equality {
		return math.Abs(v) < eps
	}
	return v >= -eps
}

// IsMetLegacy behaves like IsMet except for equality constraints, which are checked
// as |c(x) - eps| < eps. It reproduces results produced by older releases.
func (c Constraint) IsMetLegacy(x Point, eps float64) bool {
	if c.Type != Equality {
		return c.IsMet(x, eps)
	}
	return math.Abs(c.Evaluate(x)-eps) < eps
}

// Task is a minimization problem: dimension, cost function and constraints.
// A Task is never modified after creation and may be shared between solvers.
type Task struct {
	Dimension   int
	Cost        CostFunction
	Constraints []Constraint
}

// Validate checks that the task can be solved.
func (t *Task) Validate() error {
	if t == nil {
		return WrapError(ErrInvalidTask, "task is nil")
	}
	if t.Dimension <= 0 {
		return WrapErrorf(ErrInvalidTask, "dimension must be positive, got %d", t.Dimension)
	}
	if t.Cost == nil {
		return WrapError(ErrInvalidTask, "cost function is required")
	}
	for i, c := range t.Constraints {
		if c.Function == nil {
			return WrapErrorf(ErrInvalidTask, "constraint %d has no function", i)
		}
	}
	return nil
}

// Objective is the function minimized by a coordinate-descent solver.
type Objective interface {
	Dimension() int
	Evaluate(x Point) float64
}

// CostObjective exposes the raw cost of a task as an Objective.
type CostObjective struct {
	Task *Task
}

// Dimension returns the task dimension.
func (o CostObjective) Dimension() int { return o.Task.Dimension }

// Evaluate returns the task cost at x.
func (o CostObjective) Evaluate(x Point) float64 { return o.Task.Cost(x) }

// AllConstraintsMet reports whether x satisfies every constraint of the task within eps.
func (t *Task) AllConstraintsMet(x Point, eps float64, legacy bool) bool {
	for _, c := range t.Constraints {
		met := c.IsMet(x, eps)
		if legacy {
			met = c.IsMetLegacy(x, eps)
		}
		if !met {
			return false
		}
	}
	return true
}
