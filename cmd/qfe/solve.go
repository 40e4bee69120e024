package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/qfe/internal/logging"
	"github.com/copyleftdev/qfe/internal/optimization"
	"github.com/copyleftdev/qfe/internal/optimization/directional"
	"github.com/copyleftdev/qfe/internal/optimization/gaussseidel"
	"github.com/copyleftdev/qfe/internal/optimization/penalty"
	"github.com/copyleftdev/qfe/internal/taskparser"
)

type solveOptions struct {
	x0                 []float64
	penalty            string
	strategy           string
	maxIterations      int
	minPositionChange  float64
	minFunctionChange  float64
	maxConstraintError float64
	initialSigma       float64
	legacyEquality     bool
	randomStart        bool
	bounds             string
	seed               int64
	timeout            time.Duration
	output             string
	trace              bool
}

func newSolveCmd(root *rootOptions) *cobra.Command {
	opts := &solveOptions{}
	defaults := gaussseidel.DefaultPenaltyConfig()

	cmd := &cobra.Command{
		Use:   "solve <task-file>",
		Short: "Solve a task file and print the iteration log",
		Long: `Reads a task in the sectioned format ($variables, $parameters, $function,
$constraints) from the given file, or from stdin when the file is "-", and
minimizes it. Unconstrained tasks use plain coordinate descent; constrained
tasks add a Powell penalty.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(cmd, root, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.Float64SliceVar(&opts.x0, "x0", nil, "Initial point, comma separated")
	f.StringVar(&opts.penalty, "penalty", defaults.Penalty.String(), "Penalty function: proper, zero, simple")
	f.StringVar(&opts.strategy, "strategy", directional.StrategyNewton.String(), "Directional search: newton, golden-section")
	f.IntVar(&opts.maxIterations, "max-iterations", defaults.MaxIterations, "Maximum number of outer iterations")
	f.Float64Var(&opts.minPositionChange, "min-position-change", defaults.MinPositionChange, "Convergence threshold on the position change")
	f.Float64Var(&opts.minFunctionChange, "min-function-change", defaults.MinFunctionChange, "Convergence threshold on the function change")
	f.Float64Var(&opts.maxConstraintError, "max-constraint-error", defaults.MaxConstraintError, "Largest constraint violation accepted")
	f.Float64Var(&opts.initialSigma, "initial-sigma", defaults.InitialSigma, "Initial penalty weight of every constraint")
	f.BoolVar(&opts.legacyEquality, "legacy-equality", false, "Check equality constraints as |c(x) - eps| < eps")
	f.BoolVar(&opts.randomStart, "random-start", false, "Draw the initial point uniformly inside --bounds")
	f.StringVar(&opts.bounds, "bounds", "", "Bounds for --random-start as min:max pairs, comma separated")
	f.Int64Var(&opts.seed, "seed", 0, "Random seed for --random-start (0 picks one from the clock)")
	f.DurationVar(&opts.timeout, "timeout", 0, "Abort the solve after this duration (0 disables)")
	f.StringVarP(&opts.output, "output", "o", "table", "Output format: table, json")
	f.BoolVar(&opts.trace, "trace", false, "Trace every sweep to stderr")

	cmd.MarkFlagsMutuallyExclusive("x0", "random-start")
	return cmd
}

func runSolve(cmd *cobra.Command, root *rootOptions, opts *solveOptions, path string) error {
	logger := root.logger
	if logger == nil {
		logger = newLogger(cmd.ErrOrStderr(), root.logLevel, root.noColor)
	}

	source, err := readTask(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}
	task, err := taskparser.Parse(source)
	if err != nil {
		return err
	}

	cfg, err := opts.config()
	if err != nil {
		return err
	}
	strategy, err := directional.ParseStrategy(opts.strategy)
	if err != nil {
		return err
	}

	solverOpts := []gaussseidel.Option{gaussseidel.WithStrategy(strategy)}
	if opts.trace {
		tracer, err := logging.NewLogger(&logging.Config{Level: "debug", Format: "text", Output: "stderr"})
		if err != nil {
			return err
		}
		solverOpts = append(solverOpts, gaussseidel.WithLogger(logging.NewZapLogger(tracer)))
	}

	solver, err := gaussseidel.ForTask(task, cfg, solverOpts...)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	logger.Debug("solving",
		"dimension", task.Dimension,
		"constraints", len(task.Constraints),
		"strategy", strategy.String(),
		"penalty", cfg.Penalty.String(),
	)

	start := time.Now()
	last, solveErr := solver.Solve(ctx)
	records := solver.Results()

	if len(records) > 0 {
		if err := writeRecords(cmd.OutOrStdout(), opts.output, records); err != nil {
			return err
		}
	}

	switch {
	case solveErr == nil:
		logger.Info("solve finished",
			"iterations", last.Iteration,
			"function", last.Function,
			"constraints_met", last.ConstraintsMet,
			"elapsed", time.Since(start).Round(time.Microsecond),
		)
		return nil
	case errors.Is(solveErr, context.Canceled), errors.Is(solveErr, context.DeadlineExceeded):
		logger.Warn("solve interrupted", "iterations", last.Iteration, "reason", solveErr)
	default:
		logger.Error("solve failed", "iterations", last.Iteration, "error", solveErr)
	}
	return solveErr
}

// config turns the flags into solver settings.
func (o *solveOptions) config() (gaussseidel.PenaltyConfig, error) {
	kind, err := penalty.ParseKind(o.penalty)
	if err != nil {
		return gaussseidel.PenaltyConfig{}, err
	}

	cfg := gaussseidel.PenaltyConfig{
		Config: optimization.Config{
			MaxIterations:     o.maxIterations,
			MinPositionChange: o.minPositionChange,
			MinFunctionChange: o.minFunctionChange,
			InitialPoint:      o.x0,
			RandomSeed:        o.seed,
		},
		MaxConstraintError:  o.maxConstraintError,
		InitialSigma:        o.initialSigma,
		Penalty:             kind,
		LegacyEqualityCheck: o.legacyEquality,
	}
	if o.randomStart {
		bounds, err := parseBounds(o.bounds)
		if err != nil {
			return gaussseidel.PenaltyConfig{}, err
		}
		cfg.InitializationMethod = optimization.Random
		cfg.Bounds = bounds
	}
	return cfg, nil
}

// parseBounds parses "min:max,min:max" into one interval per variable.
func parseBounds(s string) ([][2]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("--random-start requires --bounds")
	}

	parts := strings.Split(s, ",")
	bounds := make([][2]float64, len(parts))
	for i, part := range parts {
		lo, hi, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("bound %d: expected min:max, got %q", i, part)
		}
		min, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		if err != nil {
			return nil, fmt.Errorf("bound %d: %w", i, err)
		}
		max, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		if err != nil {
			return nil, fmt.Errorf("bound %d: %w", i, err)
		}
		bounds[i] = [2]float64{min, max}
	}
	return bounds, nil
}

func readTask(stdin io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read task: %w", err)
	}
	return string(data), nil
}
