package optimization

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identity(x Point) float64 { return x[0] }

func TestConstraint_Evaluate(t *testing.T) {
	x := Point{3}

	assert.Equal(t, -3.0, Constraint{Function: identity, Type: LessEqual}.Evaluate(x))
	assert.Equal(t, 3.0, Constraint{Function: identity, Type: GreaterEqual}.Evaluate(x))
	assert.Equal(t, 3.0, Constraint{Function: identity, Type: Equality}.Evaluate(x))
}

func TestConstraint_IsMet(t *testing.T) {
	const eps = 1e-3

	tests := []struct {
		name   string
		typ    ConstraintType
		x      float64
		met    bool
		legacy bool
	}{
		{"less-equal inside", LessEqual, -1, true, true},
		{"less-equal within tolerance", LessEqual, 0.5e-3, true, true},
		{"less-equal outside", LessEqual, 2e-3, false, false},
		{"greater-equal inside", GreaterEqual, 5, true, true},
		{"greater-equal outside", GreaterEqual, -2e-3, false, false},
		{"equality exact", Equality, 0, true, false},
		{"equality within tolerance", Equality, -0.5e-3, true, false},
		{"equality shifted by tolerance", Equality, 1.5e-3, false, true},
		{"equality outside", Equality, 3e-3, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Constraint{Function: identity, Type: tt.typ}
			x := Point{tt.x}
			assert.Equal(t, tt.met, c.IsMet(x, eps))
			assert.Equal(t, tt.legacy, c.IsMetLegacy(x, eps))
		})
	}
}

func TestTask_AllConstraintsMet(t *testing.T) {
	task := &Task{
		Dimension: 2,
		Cost:      func(x Point) float64 { return 0 },
		Constraints: []Constraint{
			{Function: func(x Point) float64 { return x[0] - 1 }, Type: LessEqual},
			{Function: func(x Point) float64 { return x[1] }, Type: Equality},
		},
	}

	assert.True(t, task.AllConstraintsMet(Point{0, 0}, 1e-4, false))
	assert.False(t, task.AllConstraintsMet(Point{2, 0}, 1e-4, false))
	assert.False(t, task.AllConstraintsMet(Point{0, 1}, 1e-4, false))
	assert.False(t, task.AllConstraintsMet(Point{0, 0}, 1e-4, true))
}

func TestTask_Validate(t *testing.T) {
	var nilTask *Task
	assert.ErrorIs(t, nilTask.Validate(), ErrInvalidTask)
	assert.ErrorIs(t, (&Task{Dimension: 0, Cost: identity}).Validate(), ErrInvalidTask)
	assert.ErrorIs(t, (&Task{Dimension: 1}).Validate(), ErrInvalidTask)
	assert.ErrorIs(t, (&Task{Dimension: 1, Cost: identity, Constraints: []Constraint{{}}}).Validate(), ErrInvalidTask)
	assert.NoError(t, (&Task{Dimension: 1, Cost: identity}).Validate())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MinFunctionChange = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.MaxIterations = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestResolveInitialPoint(t *testing.T) {
	t.Run("manual copies the point", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.InitialPoint = Point{1, 2}

		x, err := ResolveInitialPoint(cfg, 2)
		require.NoError(t, err)
		x[0] = 100
		assert.Equal(t, Point{1, 2}, cfg.InitialPoint)
	})

	t.Run("manual dimension mismatch", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.InitialPoint = Point{1}

		_, err := ResolveInitialPoint(cfg, 2)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("random within bounds and reproducible", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.InitializationMethod = Random
		cfg.Bounds = [][2]float64{{-1, 1}, {10, 20}, {5, 5}}
		cfg.RandomSeed = 7

		x, err := ResolveInitialPoint(cfg, 3)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, x[0], -1.0)
		assert.Less(t, x[0], 1.0)
		assert.GreaterOrEqual(t, x[1], 10.0)
		assert.Less(t, x[1], 20.0)
		assert.Equal(t, 5.0, x[2])

		again, err := ResolveInitialPoint(cfg, 3)
		require.NoError(t, err)
		assert.Equal(t, x, again)
	})

	t.Run("random with inverted bounds", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.InitializationMethod = Random
		cfg.Bounds = [][2]float64{{1, -1}}

		_, err := ResolveInitialPoint(cfg, 1)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("random bounds mismatch", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.InitializationMethod = Random

		_, err := ResolveInitialPoint(cfg, 1)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

func TestUniformPoint(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	bounds := [][2]float64{{0, 1}, {-3, -2}}

	for i := 0; i < 100; i++ {
		x := UniformPoint(rng, bounds)
		for j, b := range bounds {
			assert.GreaterOrEqual(t, x[j], b[0])
			assert.LessOrEqual(t, x[j], b[1])
		}
	}
}

func TestSeedRecord(t *testing.T) {
	x := Point{3, 4}
	r := SeedRecord(x, 2, -7, 0.5, false)
	x[0] = 100

	assert.Equal(t, 0, r.Iteration)
	assert.Equal(t, Point{3, 4}, r.Point)
	assert.Equal(t, 7.0, r.LastFunctionChange)
	assert.InDelta(t, 5.0, r.LastPointChange, 1e-12)
	assert.Equal(t, 0.5, r.MaxConstraint)
	assert.False(t, r.ConstraintsMet)
}

func TestHistory(t *testing.T) {
	var h History
	_, ok := h.Last()
	assert.False(t, ok)

	h.Reset(4)
	for i := 0; i < 3; i++ {
		h.Append(IterationRecord{Iteration: i})
	}

	assert.Equal(t, 3, h.Len())
	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, 2, last.Iteration)

	snapshot := h.Snapshot()
	snapshot[0].Iteration = 42
	assert.Equal(t, 0, h.Snapshot()[0].Iteration)

	h.Reset(0)
	assert.Zero(t, h.Len())
}

func TestHistory_ConcurrentReaders(t *testing.T) {
	var h History
	h.Reset(0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			h.Append(IterationRecord{Iteration: i})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			s := h.Snapshot()
			for j := range s {
				assert.Equal(t, j, s[j].Iteration)
			}
		}
	}()
	wg.Wait()

	assert.Equal(t, 1000, h.Len())
}

func TestDivergenceError(t *testing.T) {
	err := NewDivergenceError("newton", 1, Point{1, 2}, 0.5, 0)

	assert.ErrorIs(t, err, ErrNumericalDivergence)
	assert.False(t, errors.Is(err, ErrInvalidTask))

	var divergence *DivergenceError
	require.ErrorAs(t, err, &divergence)
	assert.Equal(t, 1, divergence.Axis)
	assert.Equal(t, Point{1, 2}, divergence.Point)
	assert.Contains(t, err.Error(), "newton: FindMinimum")
}

func TestError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"message only", NewError("no progress"), "no progress"},
		{"formatted", NewErrorf("axis %d", 3), "axis 3"},
		{"component", NewError("no progress").WithComponent("penalty"), "penalty: no progress"},
		{"operation", NewError("no progress").WithOperation("Solve"), "Solve: no progress"},
		{"wrapped", WrapError(ErrInvalidTask, "task is nil").WithComponent("gauss-seidel").WithOperation("Solve"),
			"gauss-seidel: Solve: task is nil: invalid task"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}

	assert.Nil(t, WrapError(nil, "ignored"))
	assert.Nil(t, WrapErrorf(nil, "ignored %d", 1))

	_, ok := IsOptimizationError(errors.New("plain"))
	assert.False(t, ok)
	oe, ok := IsOptimizationError(WrapErrorf(ErrInvalidConfig, "ratio %v", 0.5))
	require.True(t, ok)
	assert.Equal(t, "ratio 0.5", oe.Message)
}
