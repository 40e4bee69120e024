package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/qfe/internal/logging"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}
	Logging logging.Config `envPrefix:"LOG_"`
	// Defaults for solve requests that do not override them
	Solver struct {
		MaxIterations      int     `env:"SOLVER_MAX_ITERATIONS" envDefault:"100"`
		MinPositionChange  float64 `env:"SOLVER_MIN_POSITION_CHANGE" envDefault:"0.001"`
		MinFunctionChange  float64 `env:"SOLVER_MIN_FUNCTION_CHANGE" envDefault:"0.001"`
		MaxConstraintError float64 `env:"SOLVER_MAX_CONSTRAINT_ERROR" envDefault:"0.0001"`
		InitialSigma       float64 `env:"SOLVER_INITIAL_SIGMA" envDefault:"1"`
		Penalty            string  `env:"SOLVER_PENALTY" envDefault:"proper"`
		Strategy           string  `env:"SOLVER_STRATEGY" envDefault:"newton"`
		// Upper bound on the wall time of a single solve
		Timeout time.Duration `env:"SOLVER_TIMEOUT" envDefault:"5m"`
		// How long finished jobs stay queryable; zero keeps them forever
		JobRetention time.Duration `env:"SOLVER_JOB_RETENTION" envDefault:"1h"`
	}
	Optimization struct {
		// Maximum number of solves running at the same time
		WorkerCount int `env:"OPT_WORKER_COUNT" envDefault:"10"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
		if cfg.Environment == "development" {
			cfg.Logging.Level = "debug"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values the environment parser cannot.
func (c *Config) Validate() error {
	if c.Optimization.WorkerCount < 1 {
		return fmt.Errorf("OPT_WORKER_COUNT must be positive, got %d", c.Optimization.WorkerCount)
	}
	if c.Solver.MaxIterations < 1 {
		return fmt.Errorf("SOLVER_MAX_ITERATIONS must be positive, got %d", c.Solver.MaxIterations)
	}
	if !(c.Solver.MinPositionChange > 0) || !(c.Solver.MinFunctionChange > 0) || !(c.Solver.MaxConstraintError > 0) {
		return fmt.Errorf("solver thresholds must be positive")
	}
	if !(c.Solver.InitialSigma > 0) {
		return fmt.Errorf("SOLVER_INITIAL_SIGMA must be positive, got %v", c.Solver.InitialSigma)
	}
	return nil
}
