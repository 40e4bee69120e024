// Package taskparser compiles textual task descriptions into optimization
// tasks.
//
// A description consists of sections:
//
//	$variables: 2;
//	$parameters: a = 1; b = [2.1, 3.5];
//	$function: (x[0] - a)^2 + b[0] * x[1]^2;
//	$constraints: x[1] >= -1; x[0] + x[1] <= 3;
//
// Expressions are compiled with expr-lang/expr. The point is available as x,
// parameters by name, and pi, e and common math functions are predefined.
// Evaluation errors such as an index out of range yield NaN.
package taskparser

import (
	stderrors "errors"
	"maps"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/copyleftdev/qfe/internal/errors"
	"github.com/copyleftdev/qfe/internal/optimization"
)

var (
	// ErrSyntax is returned for descriptions that cannot be split into valid sections.
	ErrSyntax = stderrors.New("task syntax error")
	// ErrCompile is returned for expressions that do not compile or parameters
	// that cannot be evaluated.
	ErrCompile = stderrors.New("task compilation error")
)

// builtins are available in every expression.
var builtins = map[string]interface{}{
	"pi":    math.Pi,
	"e":     math.E,
	"sin":   math.Sin,
	"cos":   math.Cos,
	"tan":   math.Tan,
	"asin":  math.Asin,
	"acos":  math.Acos,
	"atan":  math.Atan,
	"sinh":  math.Sinh,
	"cosh":  math.Cosh,
	"tanh":  math.Tanh,
	"exp":   math.Exp,
	"sqrt":  math.Sqrt,
	"ln":    math.Log,
	"log2":  math.Log2,
	"log10": math.Log10,
	"log":   func(x, base float64) float64 { return math.Log(x) / math.Log(base) },
	"pow":   math.Pow,
	"pow2":  func(x float64) float64 { return x * x },
	"pow3":  func(x float64) float64 { return x * x * x },
	"pow4":  func(x float64) float64 { return x * x * x * x },
	"pow5":  func(x float64) float64 { return x * x * x * x * x },
}

func reserved(name string) bool {
	if name == "x" {
		return true
	}
	_, ok := builtins[name]
	return ok
}

// Parse compiles a task description.
func Parse(input string) (*optimization.Task, error) {
	sections, err := ParseSections(input)
	if err != nil {
		return nil, err
	}
	return Compile(sections)
}

// Compile evaluates the parameters and compiles the cost function and the
// constraints of sections.
func Compile(s *Sections) (*optimization.Task, error) {
	env, err := evaluateParameters(s.Parameters)
	if err != nil {
		return nil, err
	}

	cost, err := compileFunction(env, s.Function)
	if err != nil {
		return nil, err
	}

	constraints := make([]optimization.Constraint, 0, len(s.Constraints))
	for _, c := range s.Constraints {
		f, err := compileFunction(env, c.Expression())
		if err != nil {
			return nil, err
		}
		constraints = append(constraints, optimization.Constraint{Function: f, Type: c.Type})
	}

	task := &optimization.Task{
		Dimension:   s.Dimension,
		Cost:        cost,
		Constraints: constraints,
	}
	return task, task.Validate()
}

// evaluateParameters evaluates parameters in order; each may refer to the
// ones defined before it.
func evaluateParameters(params []Parameter) (map[string]interface{}, error) {
	env := maps.Clone(builtins)
	for _, p := range params {
		program, err := expr.Compile(p.Expression, expr.Env(env))
		if err != nil {
			return nil, compileError(err, "parameter %q", p.Name)
		}
		value, err := expr.Run(program, env)
		if err != nil {
			return nil, compileError(err, "parameter %q", p.Name)
		}
		env[p.Name] = value
	}
	return env, nil
}

// compileFunction compiles source into a cost function of x.
func compileFunction(base map[string]interface{}, source string) (optimization.CostFunction, error) {
	env := maps.Clone(base)
	env["x"] = []float64{}

	program, err := expr.Compile(source, expr.Env(env), expr.AsFloat64())
	if err != nil {
		return nil, compileError(err, "expression %q", source)
	}
	return newFunction(program, base), nil
}

func newFunction(program *vm.Program, base map[string]interface{}) optimization.CostFunction {
	return func(x optimization.Point) float64 {
		env := maps.Clone(base)
		env["x"] = []float64(x)

		out, err := expr.Run(program, env)
		if err != nil {
			return math.NaN()
		}
		v, ok := out.(float64)
		if !ok {
			return math.NaN()
		}
		return v
	}
}

func compileError(err error, format string, args ...interface{}) error {
	return errors.Wrapf(stderrors.Join(ErrCompile, err), format, args...).
		WithOperation("Compile").
		WithComponent("taskparser")
}
