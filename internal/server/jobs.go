package server

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copyleftdev/qfe/internal/config"
	"github.com/copyleftdev/qfe/internal/errors"
	"github.com/copyleftdev/qfe/internal/logging"
	"github.com/copyleftdev/qfe/internal/optimization"
	"github.com/copyleftdev/qfe/internal/optimization/directional"
	"github.com/copyleftdev/qfe/internal/optimization/gaussseidel"
	"github.com/copyleftdev/qfe/internal/optimization/penalty"
	"github.com/copyleftdev/qfe/internal/taskparser"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// SolveRequest describes a solve job. Zero values select the server defaults.
type SolveRequest struct {
	// Task description in the sectioned text format
	Task string `json:"task"`
	// Starting point; required unless RandomStart is set
	InitialPoint []float64 `json:"initial_point,omitempty"`
	// Draw the starting point uniformly inside Bounds
	RandomStart bool         `json:"random_start,omitempty"`
	Bounds      [][2]float64 `json:"bounds,omitempty"`
	Seed        int64        `json:"seed,omitempty"`

	MaxIterations       int     `json:"max_iterations,omitempty"`
	MinPositionChange   float64 `json:"min_position_change,omitempty"`
	MinFunctionChange   float64 `json:"min_function_change,omitempty"`
	MaxConstraintError  float64 `json:"max_constraint_error,omitempty"`
	InitialSigma        float64 `json:"initial_sigma,omitempty"`
	Penalty             string  `json:"penalty,omitempty"`
	Strategy            string  `json:"strategy,omitempty"`
	LegacyEqualityCheck bool    `json:"legacy_equality_check,omitempty"`
}

// Job is a solve running or finished on the server.
type Job struct {
	ID string

	mu              sync.RWMutex
	status          string
	startTime       time.Time
	endTime         *time.Time
	result          *optimization.IterationRecord
	err             error
	cancelRequested bool

	solver optimization.Solver
	cancel context.CancelFunc
}

func (j *Job) setStatus(status string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
}

// Status returns the current status of the job.
func (j *Job) Status() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

func (j *Job) terminal() bool {
	switch j.status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// requestCancel stops the solver and cancels the job context.
func (j *Job) requestCancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminal() {
		return errors.Wrapf(errors.ErrConflict, "cannot cancel job with status %s", j.status)
	}
	j.cancelRequested = true
	j.solver.Stop()
	j.cancel()
	return nil
}

// finish records the outcome of the solve and returns the final status.
func (j *Job) finish(last optimization.IterationRecord, err error) string {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	j.endTime = &now
	j.result = &last
	j.err = err
	switch {
	case j.cancelRequested:
		j.status = StatusCancelled
	case err != nil:
		j.status = StatusFailed
	default:
		j.status = StatusCompleted
	}
	return j.status
}

// expired reports whether the job finished before cutoff.
func (j *Job) expired(cutoff time.Time) bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.endTime != nil && j.endTime.Before(cutoff)
}

// view renders the job for status responses. Non-finite numbers become null.
func (j *Job) view(withHistory bool) map[string]interface{} {
	j.mu.RLock()
	defer j.mu.RUnlock()

	response := map[string]interface{}{
		"job_id":     j.ID,
		"status":     j.status,
		"start_time": j.startTime.Format(time.RFC3339),
	}
	if j.endTime != nil {
		response["end_time"] = j.endTime.Format(time.RFC3339)
	}
	if j.err != nil {
		response["error"] = j.err.Error()
	}

	records := j.solver.Results()
	response["records"] = len(records)
	if n := len(records); n > 0 {
		response["iteration"] = records[n-1].Iteration
		response["current"] = recordView(records[n-1])
	}
	if j.result != nil {
		response["result"] = recordView(*j.result)
	}
	if withHistory {
		history := make([]map[string]interface{}, len(records))
		for i, r := range records {
			history[i] = recordView(r)
		}
		response["history"] = history
	}
	return response
}

func recordView(r optimization.IterationRecord) map[string]interface{} {
	point := make([]interface{}, len(r.Point))
	for i, v := range r.Point {
		point[i] = finite(v)
	}
	return map[string]interface{}{
		"iteration":            r.Iteration,
		"point":                point,
		"function":             finite(r.Function),
		"cost":                 finite(r.Cost),
		"max_constraint":       finite(r.MaxConstraint),
		"last_function_change": finite(r.LastFunctionChange),
		"last_point_change":    finite(r.LastPointChange),
		"constraints_met":      r.ConstraintsMet,
	}
}

func finite(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// newSolver compiles the task of req and builds the matching solver.
func newSolver(defaults *config.Config, req SolveRequest, logger *logging.Logger) (optimization.Solver, error) {
	task, err := taskparser.Parse(req.Task)
	if err != nil {
		return nil, invalidArgument(err, "invalid task")
	}

	cfg := gaussseidel.PenaltyConfig{
		Config: optimization.Config{
			MaxIterations:     pick(req.MaxIterations, defaults.Solver.MaxIterations),
			MinPositionChange: pick(req.MinPositionChange, defaults.Solver.MinPositionChange),
			MinFunctionChange: pick(req.MinFunctionChange, defaults.Solver.MinFunctionChange),
			InitialPoint:      req.InitialPoint,
			Bounds:            req.Bounds,
			RandomSeed:        req.Seed,
		},
		MaxConstraintError:  pick(req.MaxConstraintError, defaults.Solver.MaxConstraintError),
		InitialSigma:        pick(req.InitialSigma, defaults.Solver.InitialSigma),
		LegacyEqualityCheck: req.LegacyEqualityCheck,
	}
	if req.RandomStart {
		cfg.InitializationMethod = optimization.Random
	}

	kind, err := penalty.ParseKind(pick(req.Penalty, defaults.Solver.Penalty))
	if err != nil {
		return nil, invalidArgument(err, "invalid penalty")
	}
	cfg.Penalty = kind

	strategy, err := directional.ParseStrategy(pick(req.Strategy, defaults.Solver.Strategy))
	if err != nil {
		return nil, invalidArgument(err, "invalid strategy")
	}

	// Resolve the starting point now so that bad points are reported to the
	// client instead of failing the job.
	if _, err := optimization.ResolveInitialPoint(cfg.Config, task.Dimension); err != nil {
		return nil, invalidArgument(err, "invalid starting point")
	}

	opts := []gaussseidel.Option{
		gaussseidel.WithStrategy(strategy),
		gaussseidel.WithLogger(logging.NewZapLogger(logger)),
	}

	solver, err := gaussseidel.ForTask(task, cfg, opts...)
	if err != nil {
		return nil, invalidArgument(err, "invalid solver settings")
	}
	return solver, nil
}

func pick[T comparable](value, fallback T) T {
	var zero T
	if value == zero {
		return fallback
	}
	return value
}

func invalidArgument(err error, msg string) error {
	return errors.Wrap(fmt.Errorf("%w: %w", errors.ErrInvalidArgument, err), msg).
		WithComponent("server").
		WithOperation("solve.start")
}

// newJob registers a pending job for solver.
func (s *Server) newJob(solver optimization.Solver) *Job {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Solver.Timeout)
	job := &Job{
		ID:        uuid.NewString(),
		status:    StatusPending,
		startTime: time.Now(),
		solver:    solver,
		cancel:    cancel,
	}

	s.jobsMu.Lock()
	s.pruneJobs(job.startTime)
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()

	s.wg.Add(1)
	go s.runJob(ctx, job)
	return job
}

// pruneJobs drops jobs that finished longer than the retention period before
// now. The caller holds jobsMu.
func (s *Server) pruneJobs(now time.Time) {
	retention := s.cfg.Solver.JobRetention
	if retention <= 0 {
		return
	}
	cutoff := now.Add(-retention)
	for id, job := range s.jobs {
		if job.expired(cutoff) {
			delete(s.jobs, id)
		}
	}
}

// runJob waits for a worker slot and runs the solve.
func (s *Server) runJob(ctx context.Context, job *Job) {
	defer s.wg.Done()
	defer job.cancel()

	select {
	case s.workers <- struct{}{}:
		defer func() { <-s.workers }()
	case <-ctx.Done():
		s.complete(job, optimization.IterationRecord{}, ctx.Err(), 0)
		return
	}

	job.setStatus(StatusRunning)
	s.metrics.running.Inc()
	defer s.metrics.running.Dec()

	start := time.Now()
	last, err := job.solver.Solve(ctx)
	s.complete(job, last, err, time.Since(start))
}

func (s *Server) complete(job *Job, last optimization.IterationRecord, err error, elapsed time.Duration) {
	status := job.finish(last, err)

	s.metrics.jobs.WithLabelValues(status).Inc()
	if elapsed > 0 {
		s.metrics.duration.Observe(elapsed.Seconds())
		s.metrics.iterations.Observe(float64(last.Iteration))
	}

	fields := map[string]interface{}{
		"job_id":    job.ID,
		"status":    status,
		"iteration": last.Iteration,
		"elapsed":   elapsed.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Warn("Solve finished with error", fields)
		return
	}
	s.logger.Info("Solve finished", fields)
}
