package penalty

import (
	"gonum.org/v1/gonum/floats"

	"github.com/copyleftdev/qfe/internal/optimization"
)

// DefaultMultiplier is the σ growth factor of ZeroTheta and SimpleTheta.
const DefaultMultiplier = 2.0

// SigmaUpdate selects how ZeroTheta grows σ.
type SigmaUpdate int

const (
	// Multiplicative multiplies σ by the increment.
	Multiplicative SigmaUpdate = iota
	// Additive adds the increment to σ.
	Additive
	// Constant never changes σ.
	Constant
)

// ZeroTheta keeps θ at zero and escalates σ every iteration. It is simple and
// monotone but the subproblems become ill-conditioned as σ grows.
type ZeroTheta struct {
	state
	// How σ changes per iteration
	Update SigmaUpdate
	// Factor or summand applied to σ
	Increment float64
}

// NewZeroTheta creates a ZeroTheta penalty with multiplicative σ growth.
func NewZeroTheta(constraints []optimization.Constraint, initialSigma, multiplier float64) *ZeroTheta {
	return &ZeroTheta{
		state:     newState(constraints, initialSigma),
		Update:    Multiplicative,
		Increment: multiplier,
	}
}

// NextIteration grows σ.
func (p *ZeroTheta) NextIteration(optimization.Point) {
	switch p.Update {
	case Multiplicative:
		floats.Scale(p.Increment, p.sigma)
	case Additive:
		floats.AddConst(p.Increment, p.sigma)
	}
}

// Reset restores θ = 0 and the initial σ.
func (p *ZeroTheta) Reset() { p.reset() }

// SimpleTheta multiplies σ and shifts θ by the current violation, scaled down by
// the multiplier. It approximates the Powell update and is less reliable than
// ProperTheta.
type SimpleTheta struct {
	state
	Multiplier float64
}

// NewSimpleTheta creates a SimpleTheta penalty.
func NewSimpleTheta(constraints []optimization.Constraint, initialSigma, multiplier float64) *SimpleTheta {
	return &SimpleTheta{
		state:      newState(constraints, initialSigma),
		Multiplier: multiplier,
	}
}

// NextIteration applies σ *= m, θ -= min(c(x), θ), θ /= m.
func (p *SimpleTheta) NextIteration(x optimization.Point) {
	floats.Scale(p.Multiplier, p.sigma)
	p.shift(x)
	floats.Scale(1/p.Multiplier, p.theta)
}

// Reset restores θ = 0 and the initial σ.
func (p *SimpleTheta) Reset() { p.reset() }

const (
	// DefaultFactor is the σ growth factor of ProperTheta.
	DefaultFactor = 10.0
	// DefaultRatio is the fraction of the previous violation a constraint must
	// keep to be punished.
	DefaultRatio = 0.25
)

// ProperTheta is the Powell-Hestenes-Powell penalty with Fletcher's update rule.
//
// If the largest violation is not smaller than the previous one, every
// constraint whose violation is at least Ratio of the previous maximum gets
// σ_i *= Factor and θ_i /= Factor. Otherwise θ is shifted by the violation, and
// constraints that still violate by at least Ratio of the previous maximum are
// punished as above. The previous maximum starts at zero, so the first
// violated iteration after Reset always punishes.
type ProperTheta struct {
	state
	Factor float64
	Ratio  float64

	previousMaxConstraint float64
}

// NewProperTheta creates a ProperTheta penalty with the default factor and ratio.
func NewProperTheta(constraints []optimization.Constraint, initialSigma float64) *ProperTheta {
	return &ProperTheta{
		state:  newState(constraints, initialSigma),
		Factor: DefaultFactor,
		Ratio:  DefaultRatio,
	}
}

// NextIteration updates θ and σ after an outer iteration ended at x. A point
// without any violation leaves θ and σ untouched.
func (p *ProperTheta) NextIteration(x optimization.Point) {
	if len(p.constraints) == 0 {
		return
	}
	violations := p.violations(x)
	maxConstraint := floats.Max(violations)
	if maxConstraint == 0 {
		p.previousMaxConstraint = 0
		return
	}

	if maxConstraint >= p.previousMaxConstraint {
		p.punish(violations)
	} else {
		p.shift(x)
		if maxConstraint >= p.Ratio*p.previousMaxConstraint {
			p.punish(violations)
		}
	}
	p.previousMaxConstraint = maxConstraint
}

func (p *ProperTheta) punish(violations []float64) {
	threshold := p.Ratio * p.previousMaxConstraint
	for i, v := range violations {
		if v >= threshold {
			p.sigma[i] *= p.Factor
			p.theta[i] /= p.Factor
		}
	}
}

// PreviousMaxConstraint returns the violation recorded by the last iteration;
// zero after Reset.
func (p *ProperTheta) PreviousMaxConstraint() float64 { return p.previousMaxConstraint }

// Reset restores θ = 0, the initial σ and a zero previous violation.
func (p *ProperTheta) Reset() {
	p.reset()
	p.previousMaxConstraint = 0
}
