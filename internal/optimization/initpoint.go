package optimization

import (
	"math/rand"
	"time"
)

// ResolveInitialPoint returns the starting point of a solve for the given dimension.
func ResolveInitialPoint(cfg Config, dimension int) (Point, error) {
	switch cfg.InitializationMethod {
	case Manual:
		if len(cfg.InitialPoint) != dimension {
			return nil, WrapErrorf(ErrDimensionMismatch, "initial point has %d coordinates, task has %d",
				len(cfg.InitialPoint), dimension).WithOperation("ResolveInitialPoint")
		}
		return cfg.InitialPoint.Clone(), nil
	case Random:
		if len(cfg.Bounds) != dimension {
			return nil, WrapErrorf(ErrDimensionMismatch, "bounds have %d entries, task has %d",
				len(cfg.Bounds), dimension).WithOperation("ResolveInitialPoint")
		}
		for i, b := range cfg.Bounds {
			if b[0] > b[1] {
				return nil, WrapErrorf(ErrInvalidConfig, "bound %d is inverted: [%v, %v]", i, b[0], b[1])
			}
		}
		// Initialize random number generator
		rng := rand.New(rand.NewSource(cfg.RandomSeed))
		if cfg.RandomSeed == 0 {
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		return UniformPoint(rng, cfg.Bounds), nil
	default:
		return nil, WrapErrorf(ErrInvalidConfig, "unknown initialization method %d", int(cfg.InitializationMethod))
	}
}

// UniformPoint draws a point uniformly inside bounds.
func UniformPoint(rng *rand.Rand, bounds [][2]float64) Point {
	x := make(Point, len(bounds))
	for i, b := range bounds {
		min, max := b[0], b[1]
		x[i] = min + rng.Float64()*(max-min)
	}
	return x
}
