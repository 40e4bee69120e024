package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 30*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 100, cfg.Solver.MaxIterations)
	assert.Equal(t, 1e-3, cfg.Solver.MinPositionChange)
	assert.Equal(t, 1e-4, cfg.Solver.MaxConstraintError)
	assert.Equal(t, "proper", cfg.Solver.Penalty)
	assert.Equal(t, "newton", cfg.Solver.Strategy)
	assert.Equal(t, 5*time.Minute, cfg.Solver.Timeout)
	assert.Equal(t, time.Hour, cfg.Solver.JobRetention)
	assert.Equal(t, 10, cfg.Optimization.WorkerCount)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("SOLVER_MAX_ITERATIONS", "250")
	t.Setenv("SOLVER_PENALTY", "zero")
	t.Setenv("OPT_WORKER_COUNT", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 250, cfg.Solver.MaxIterations)
	assert.Equal(t, "zero", cfg.Solver.Penalty)
	assert.Equal(t, 2, cfg.Optimization.WorkerCount)
}

func TestLoad_Logging(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "stderr", cfg.Logging.Output)

	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("LOG_OUTPUT", "stdout")

	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "stdout", cfg.Logging.Output)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"OPT_WORKER_COUNT":            "0",
		"SOLVER_MAX_ITERATIONS":       "-3",
		"SOLVER_MIN_FUNCTION_CHANGE":  "0",
		"SOLVER_INITIAL_SIGMA":        "-1",
		"HTTP_PORT":                   "not-a-number",
		"SOLVER_MAX_CONSTRAINT_ERROR": "0",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
