// Package penalty implements Powell's exterior penalty functions.
//
// For constraints normalized so that c(x) >= 0 is feasible, the penalty is
//
//	P(x) = 0.5 * Σ σ_i * min(0, c_i(x) - θ_i)²
//
// where θ (Theta) shifts each constraint boundary and σ (Sigma) weights it.
// Equality constraints use the untruncated residual (c_i(x) - θ_i)².
// The variants differ only in how θ and σ are updated between outer iterations.
package penalty

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/qfe/internal/optimization"
)

// Function is an adaptive exterior penalty term.
type Function interface {
	// Evaluate returns the penalty at x.
	Evaluate(x optimization.Point) float64
	// MaxConstraint returns the largest constraint violation at x.
	MaxConstraint(x optimization.Point) float64
	// NextIteration updates the penalty state after an outer iteration ended at x.
	NextIteration(x optimization.Point)
	// Reset restores the initial penalty state.
	Reset()
	// Theta returns a copy of the constraint shifts.
	Theta() []float64
	// Sigma returns a copy of the constraint weights.
	Sigma() []float64
}

// Kind names a penalty variant.
type Kind int

const (
	// KindProperTheta is the Powell-Hestenes method with Fletcher's update.
	KindProperTheta Kind = iota
	// KindZeroTheta keeps θ at zero and escalates σ.
	KindZeroTheta
	// KindSimpleTheta shifts θ by the violation every iteration.
	KindSimpleTheta
)

// String returns the name of the variant.
func (k Kind) String() string {
	switch k {
	case KindProperTheta:
		return "proper"
	case KindZeroTheta:
		return "zero"
	case KindSimpleTheta:
		return "simple"
	default:
		return "unknown"
	}
}

// ParseKind converts a variant name to a Kind.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "proper", "":
		return KindProperTheta, nil
	case "zero":
		return KindZeroTheta, nil
	case "simple":
		return KindSimpleTheta, nil
	default:
		return 0, fmt.Errorf("unknown penalty function %q", name)
	}
}

// New creates a penalty of the given kind with default update parameters.
func New(kind Kind, constraints []optimization.Constraint, initialSigma float64) (Function, error) {
	if !(initialSigma > 0) {
		return nil, optimization.WrapErrorf(optimization.ErrInvalidConfig, "initial sigma must be positive, got %v", initialSigma)
	}
	switch kind {
	case KindProperTheta:
		return NewProperTheta(constraints, initialSigma), nil
	case KindZeroTheta:
		return NewZeroTheta(constraints, initialSigma, DefaultMultiplier), nil
	case KindSimpleTheta:
		return NewSimpleTheta(constraints, initialSigma, DefaultMultiplier), nil
	default:
		return nil, optimization.WrapErrorf(optimization.ErrInvalidConfig, "unknown penalty kind %d", int(kind))
	}
}

// state holds what every variant shares: the constraints and the θ/σ vectors.
type state struct {
	constraints  []optimization.Constraint
	theta        []float64
	sigma        []float64
	initialSigma float64
}

func newState(constraints []optimization.Constraint, initialSigma float64) state {
	s := state{
		constraints:  constraints,
		theta:        make([]float64, len(constraints)),
		sigma:        make([]float64, len(constraints)),
		initialSigma: initialSigma,
	}
	s.reset()
	return s
}

func (s *state) reset() {
	for i := range s.theta {
		s.theta[i] = 0
		s.sigma[i] = s.initialSigma
	}
}

// Evaluate returns 0.5 * Σ σ_i * h_i² with h_i the shifted violation.
func (s *state) Evaluate(x optimization.Point) float64 {
	sum := 0.0
	for i, c := range s.constraints {
		v := c.Evaluate(x)
		h := v - s.theta[i]
		if c.Type != optimization.Equality {
			h = math.Min(0.0, h)
		}
		sum += s.sigma[i] * h * h
	}
	return 0.5 * sum
}

// violations returns |min(c_i(x), θ_i)| for every constraint (|c_i(x)| for
// equalities).
func (s *state) violations(x optimization.Point) []float64 {
	out := make([]float64, len(s.constraints))
	for i, c := range s.constraints {
		out[i] = math.Abs(s.clipped(i, c.Evaluate(x)))
	}
	return out
}

func (s *state) clipped(i int, v float64) float64 {
	if s.constraints[i].Type == optimization.Equality {
		return v
	}
	return math.Min(v, s.theta[i])
}

// MaxConstraint returns max_i |min(c_i(x), θ_i)|; zero without constraints.
func (s *state) MaxConstraint(x optimization.Point) float64 {
	if len(s.constraints) == 0 {
		return 0
	}
	return floats.Max(s.violations(x))
}

// shift moves every θ_i by -min(c_i(x), θ_i).
func (s *state) shift(x optimization.Point) {
	for i, c := range s.constraints {
		s.theta[i] -= s.clipped(i, c.Evaluate(x))
	}
}

func (s *state) Theta() []float64 { return append([]float64(nil), s.theta...) }

func (s *state) Sigma() []float64 { return append([]float64(nil), s.sigma...) }
