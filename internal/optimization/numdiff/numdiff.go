// Package numdiff estimates derivatives of a cost function along a single
// coordinate axis by finite differences.
//
// Every function temporarily moves x along the axis and restores the
// coordinate before returning, so the caller never observes a mutation.
// NaN and Inf produced by the function are propagated unchanged.
//
// # Reference:
//
//   - https://en.wikipedia.org/wiki/Finite_difference
package numdiff

import (
	"github.com/copyleftdev/qfe/internal/optimization"
)

// DefaultStep is the step used by the directional minimizers.
const DefaultStep = 1e-4

// First returns the central difference (f(x+h) - f(x-h)) / 2h.
func First(f optimization.CostFunction, x optimization.Point, axis int, h float64) float64 {
	x0 := x[axis]
	defer func() { x[axis] = x0 }()

	x[axis] = x0 + h
	b := f(x)
	x[axis] = x0 - h
	a := f(x)
	return (b - a) / (2 * h)
}

// FirstForward returns the forward difference (f(x+h) - f(x)) / h.
func FirstForward(f optimization.CostFunction, x optimization.Point, axis int, h float64) float64 {
	x0 := x[axis]
	defer func() { x[axis] = x0 }()

	a := f(x)
	x[axis] = x0 + h
	b := f(x)
	return (b - a) / h
}

// FirstBackward returns the backward difference (f(x) - f(x-h)) / h.
func FirstBackward(f optimization.CostFunction, x optimization.Point, axis int, h float64) float64 {
	x0 := x[axis]
	defer func() { x[axis] = x0 }()

	b := f(x)
	x[axis] = x0 - h
	a := f(x)
	return (b - a) / h
}

// Second returns (f(x+h) - 2f(x) + f(x-h)) / h^2.
func Second(f optimization.CostFunction, x optimization.Point, axis int, h float64) float64 {
	x0 := x[axis]
	defer func() { x[axis] = x0 }()

	b := f(x)
	x[axis] = x0 + h
	c := f(x)
	x[axis] = x0 - h
	a := f(x)
	return (c - 2.0*b + a) / (h * h)
}

// Left returns f(x-h).
func Left(f optimization.CostFunction, x optimization.Point, axis int, h float64) float64 {
	x0 := x[axis]
	defer func() { x[axis] = x0 }()

	x[axis] = x0 - h
	return f(x)
}

// Right returns f(x+h).
func Right(f optimization.CostFunction, x optimization.Point, axis int, h float64) float64 {
	x0 := x[axis]
	defer func() { x[axis] = x0 }()

	x[axis] = x0 + h
	return f(x)
}
