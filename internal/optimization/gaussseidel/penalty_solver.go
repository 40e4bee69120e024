package gaussseidel

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/copyleftdev/qfe/internal/optimization"
	"github.com/copyleftdev/qfe/internal/optimization/penalty"
)

// PenaltyConfig configures a PenaltySolver.
type PenaltyConfig struct {
	optimization.Config

	// Largest constraint violation accepted at convergence
	MaxConstraintError float64

	// Initial σ of every constraint
	InitialSigma float64

	// Penalty variant, ignored when a penalty is injected with WithPenalty
	Penalty penalty.Kind

	// Check equality constraints as |c(x) - ε| < ε like older releases did
	LegacyEqualityCheck bool
}

// DefaultPenaltyConfig returns the default constrained solver settings.
func DefaultPenaltyConfig() PenaltyConfig {
	return PenaltyConfig{
		Config:             optimization.DefaultConfig(),
		MaxConstraintError: 1e-4,
		InitialSigma:       1.0,
		Penalty:            penalty.KindProperTheta,
	}
}

// Validate checks the configuration.
func (c PenaltyConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if !(c.MaxConstraintError > 0) {
		return optimization.WrapErrorf(optimization.ErrInvalidConfig, "max constraint error must be positive, got %v", c.MaxConstraintError)
	}
	return nil
}

// augmentedObjective adds the penalty term to the raw task cost.
type augmentedObjective struct {
	task    *optimization.Task
	penalty penalty.Function
}

func (o augmentedObjective) Dimension() int { return o.task.Dimension }

func (o augmentedObjective) Evaluate(x optimization.Point) float64 {
	return o.task.Cost(x) + o.penalty.Evaluate(x)
}

// PenaltySolver minimizes a constrained task as a sequence of unconstrained
// coordinate-descent solves of the penalty-augmented cost.
type PenaltySolver struct {
	task    *optimization.Task
	config  PenaltyConfig
	opts    options
	penalty penalty.Function

	history    optimization.History
	terminated atomic.Bool

	mu    sync.Mutex
	inner *Solver
}

var _ optimization.Solver = (*PenaltySolver)(nil)

// PenaltyOption configures a PenaltySolver.
type PenaltyOption func(*PenaltySolver)

// WithPenalty replaces the penalty built from PenaltyConfig.Penalty.
func WithPenalty(p penalty.Function) PenaltyOption {
	return func(s *PenaltySolver) { s.penalty = p }
}

// WithSolverOptions passes options to the solver and its inner solvers.
func WithSolverOptions(opts ...Option) PenaltyOption {
	return func(s *PenaltySolver) {
		for _, opt := range opts {
			opt(&s.opts)
		}
	}
}

// NewPenaltySolver creates a constrained solver for task.
func NewPenaltySolver(task *optimization.Task, config PenaltyConfig, opts ...PenaltyOption) (*PenaltySolver, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &PenaltySolver{
		task:   task,
		config: config,
		opts:   defaultOptions(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.penalty == nil {
		p, err := penalty.New(config.Penalty, task.Constraints, config.InitialSigma)
		if err != nil {
			return nil, err
		}
		s.penalty = p
	}
	return s, nil
}

// Penalty returns the penalty function driven by the solver.
func (s *PenaltySolver) Penalty() penalty.Function { return s.penalty }

// MaxOuterIterations returns the outer iteration cap. The adaptive variant
// runs a full inner solve per outer iteration, so its cap grows with the
// square root of MaxIterations.
func (s *PenaltySolver) MaxOuterIterations() int {
	if _, ok := s.penalty.(*penalty.ProperTheta); ok {
		return int(math.Ceil(2 * math.Sqrt(float64(s.config.MaxIterations))))
	}
	return s.config.MaxIterations
}

// Solve resets the penalty and runs outer iterations until Stop is called,
// ctx is done, the outer cap is exceeded, or the violation is below
// MaxConstraintError while the last outer iteration moved less than the
// thresholds.
func (s *PenaltySolver) Solve(ctx context.Context) (optimization.IterationRecord, error) {
	x0, err := optimization.ResolveInitialPoint(s.config.Config, s.task.Dimension)
	if err != nil {
		return optimization.IterationRecord{}, err
	}

	s.penalty.Reset()
	objective := augmentedObjective{task: s.task, penalty: s.penalty}

	f0, cost0, max0 := s.measure(x0)
	seed := optimization.SeedRecord(x0, f0, cost0, max0, s.constraintsMet(x0))
	s.history.Reset(s.task.Dimension + 1)
	s.history.Append(seed)

	// Inner solves must resolve positions at least as finely as the violation
	// the outer loop accepts.
	innerConfig := s.config.Config
	innerConfig.InitializationMethod = optimization.Manual
	innerConfig.MinPositionChange = math.Min(s.config.MinPositionChange, s.config.MaxConstraintError)

	start := seed
	for iteration := 1; ; iteration++ {
		innerConfig.InitialPoint = start.Point
		inner, err := NewSolver(objective, innerConfig, WithStrategy(s.opts.strategy), WithLogger(s.opts.logger))
		if err != nil {
			return start, err
		}
		s.setInner(inner)

		_, solveErr := inner.Solve(ctx)
		last := s.appendInner(inner.Results(), start, iteration)
		if solveErr != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, optimization.WrapErrorf(solveErr, "outer iteration %d", iteration).
				WithComponent("gauss-seidel-penalty").WithOperation("Solve")
		}

		s.penalty.NextIteration(last.Point)

		positionChange := optimization.Distance(start.Point, last.Point)
		functionChange := math.Abs(last.Function - start.Function)
		s.opts.logger.Debug("outer iteration completed",
			zap.Int("iteration", iteration),
			zap.Float64("function", last.Function),
			zap.Float64("max_constraint", last.MaxConstraint),
			zap.Float64s("sigma", s.penalty.Sigma()),
			zap.Float64s("theta", s.penalty.Theta()),
		)

		if s.shouldEnd(ctx, iteration, last, positionChange, functionChange) {
			return last, ctx.Err()
		}
		start = last
	}
}

// appendInner copies the sub-steps of an inner solve into the outer log,
// re-measuring every point, and returns the last outer record.
func (s *PenaltySolver) appendInner(records []optimization.IterationRecord, start optimization.IterationRecord, iteration int) optimization.IterationRecord {
	prev := start
	if len(records) == 0 {
		return prev
	}
	for _, r := range records[1:] {
		f, cost, maxConstraint := s.measure(r.Point)
		rec := optimization.IterationRecord{
			Iteration:          iteration,
			Point:              r.Point,
			Function:           f,
			Cost:               cost,
			MaxConstraint:      maxConstraint,
			LastFunctionChange: math.Abs(cost - prev.Cost),
			LastPointChange:    optimization.Distance(r.Point, prev.Point),
			ConstraintsMet:     s.constraintsMet(r.Point),
		}
		s.history.Append(rec)
		prev = rec
	}
	return prev
}

func (s *PenaltySolver) measure(x optimization.Point) (function, cost, maxConstraint float64) {
	function = s.task.Cost(x)
	return function, function + s.penalty.Evaluate(x), s.penalty.MaxConstraint(x)
}

func (s *PenaltySolver) constraintsMet(x optimization.Point) bool {
	return s.task.AllConstraintsMet(x, s.config.MaxConstraintError, s.config.LegacyEqualityCheck)
}

func (s *PenaltySolver) shouldEnd(ctx context.Context, iteration int, last optimization.IterationRecord, positionChange, functionChange float64) bool {
	return s.terminated.Load() ||
		ctx.Err() != nil ||
		iteration > s.MaxOuterIterations() ||
		(last.MaxConstraint < s.config.MaxConstraintError &&
			positionChange < s.config.MinPositionChange &&
			functionChange < s.config.MinFunctionChange)
}

func (s *PenaltySolver) setInner(inner *Solver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inner = inner
	if s.terminated.Load() {
		inner.Stop()
	}
}

// Results returns the outer iteration log of the last solve, starting with
// the seed record. It is empty until the first Solve, and a solve rejected
// before seeding keeps the previous log.
func (s *PenaltySolver) Results() []optimization.IterationRecord {
	return s.history.Snapshot()
}

// Stop asks a running solve to return after the current inner sweep.
func (s *PenaltySolver) Stop() {
	s.terminated.Store(true)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inner != nil {
		s.inner.Stop()
	}
}

// ForTask returns the solver matching task: coordinate descent on the raw
// cost when the task has no constraints, a PenaltySolver otherwise.
func ForTask(task *optimization.Task, config PenaltyConfig, opts ...Option) (optimization.Solver, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if len(task.Constraints) > 0 {
		return NewPenaltySolver(task, config, WithSolverOptions(opts...))
	}
	return NewSolver(optimization.CostObjective{Task: task}, config.Config, opts...)
}
