// Package gaussseidel implements coordinate descent ("Gauss-Seidel" sweeps) and
// its constrained extension driven by an exterior penalty function.
package gaussseidel

import (
	"context"
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/copyleftdev/qfe/internal/optimization"
	"github.com/copyleftdev/qfe/internal/optimization/directional"
)

// Option configures a solver.
type Option func(*options)

type options struct {
	strategy directional.Strategy
	logger   *zap.Logger
}

func defaultOptions() options {
	return options{
		strategy: directional.StrategyNewton,
		logger:   zap.NewNop(),
	}
}

// WithStrategy selects the directional minimizer used for every axis.
func WithStrategy(s directional.Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithLogger sets the logger used to trace outer iterations.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Solver minimizes an objective by repeated sweeps of directional
// minimizations over all axes.
type Solver struct {
	objective optimization.Objective
	config    optimization.Config
	opts      options

	history    optimization.History
	terminated atomic.Bool
}

var _ optimization.Solver = (*Solver)(nil)

// NewSolver creates a coordinate-descent solver for objective.
func NewSolver(objective optimization.Objective, config optimization.Config, opts ...Option) (*Solver, error) {
	if objective == nil || objective.Dimension() <= 0 {
		return nil, optimization.WrapError(optimization.ErrInvalidTask, "objective with a positive dimension is required").
			WithComponent("gauss-seidel")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Solver{
		objective: objective,
		config:    config,
		opts:      o,
	}, nil
}

// Solve runs sweeps until Stop is called, ctx is done, the iteration cap is
// exceeded or a whole sweep changes both position and value by less than the
// thresholds. A stopped solve returns its last record without error; a
// cancelled context additionally returns ctx.Err().
func (s *Solver) Solve(ctx context.Context) (optimization.IterationRecord, error) {
	dim := s.objective.Dimension()
	x0, err := optimization.ResolveInitialPoint(s.config, dim)
	if err != nil {
		return optimization.IterationRecord{}, err
	}

	minimizer, err := directional.New(s.opts.strategy, s.objective.Evaluate, directional.Settings{
		MaxError:       s.config.MinFunctionChange,
		MinPointChange: s.config.MinPositionChange,
	})
	if err != nil {
		return optimization.IterationRecord{}, err
	}

	f0 := s.objective.Evaluate(x0)
	seed := optimization.SeedRecord(x0, f0, f0, 0, true)
	s.history.Reset(dim + 1)
	s.history.Append(seed)

	start := seed
	for iteration := 1; ; iteration++ {
		last, err := s.sweep(minimizer, start, iteration)
		if err != nil {
			return last, err
		}

		positionChange := optimization.Distance(start.Point, last.Point)
		functionChange := math.Abs(last.Cost - start.Cost)
		s.opts.logger.Debug("sweep completed",
			zap.Int("iteration", iteration),
			zap.Float64("cost", last.Cost),
			zap.Float64("position_change", positionChange),
			zap.Float64("function_change", functionChange),
		)

		if s.shouldEnd(ctx, iteration, positionChange, functionChange) {
			return last, ctx.Err()
		}
		start = last
	}
}

// sweep runs one directional minimization per axis, appending a record after each.
func (s *Solver) sweep(minimizer directional.Minimizer, start optimization.IterationRecord, iteration int) (optimization.IterationRecord, error) {
	prev := start
	for axis := 0; axis < s.objective.Dimension(); axis++ {
		res, err := minimizer.FindMinimum(prev.Point, axis)
		if err != nil {
			return prev, optimization.WrapErrorf(err, "iteration %d, axis %d", iteration, axis).
				WithComponent("gauss-seidel").WithOperation("Solve")
		}

		rec := optimization.IterationRecord{
			Iteration:          iteration,
			Point:              res.Point,
			Function:           res.Value,
			Cost:               res.Value,
			ConstraintsMet:     true,
			LastFunctionChange: math.Abs(res.Value - prev.Cost),
			LastPointChange:    optimization.Distance(res.Point, prev.Point),
		}
		s.history.Append(rec)
		prev = rec
	}
	return prev, nil
}

func (s *Solver) shouldEnd(ctx context.Context, iteration int, positionChange, functionChange float64) bool {
	return s.terminated.Load() ||
		ctx.Err() != nil ||
		iteration > s.config.MaxIterations ||
		(positionChange < s.config.MinPositionChange && functionChange < s.config.MinFunctionChange)
}

// Results returns the iteration log of the last solve, starting with the seed
// record. It is empty until the first Solve, and a solve rejected before
// seeding keeps the previous log.
func (s *Solver) Results() []optimization.IterationRecord {
	return s.history.Snapshot()
}

// Stop asks a running solve to return after the current sweep. It may be
// called from any goroutine and stays in effect for later solves.
func (s *Solver) Stop() {
	s.terminated.Store(true)
}
