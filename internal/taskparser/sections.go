package taskparser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/copyleftdev/qfe/internal/errors"
	"github.com/copyleftdev/qfe/internal/optimization"
)

// Section names accepted in a task description.
const (
	SectionVariables   = "variables"
	SectionParameters  = "parameters"
	SectionFunction    = "function"
	SectionConstraints = "constraints"
)

var (
	sectionHeader = regexp.MustCompile(`\$([A-Za-z_]+)\s*:`)
	comparison    = regexp.MustCompile(`<=|>=|==`)
	identifier    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

var operators = map[string]optimization.ConstraintType{
	"<=": optimization.LessEqual,
	">=": optimization.GreaterEqual,
	"==": optimization.Equality,
}

// Parameter is a named constant defined in the parameters section.
type Parameter struct {
	Name       string
	Expression string
}

// RawConstraint is a constraint before compilation.
type RawConstraint struct {
	Lhs      string
	Rhs      string
	Operator string
	Type     optimization.ConstraintType
}

// Expression returns the constraint as a single expression compared with zero.
func (c RawConstraint) Expression() string {
	return strings.TrimSpace(c.Lhs) + " - (" + strings.TrimSpace(c.Rhs) + ")"
}

// Sections is the split and validated content of a task description.
type Sections struct {
	Dimension   int
	Parameters  []Parameter
	Function    string
	Constraints []RawConstraint
}

// ParseSections splits input into its sections and validates each of them.
// The variables and function sections are required; every section may appear
// at most once.
func ParseSections(input string) (*Sections, error) {
	raw, err := split(input)
	if err != nil {
		return nil, err
	}

	var s Sections
	variables, ok := raw[SectionVariables]
	if !ok {
		return nil, syntaxError("section $%s is required", SectionVariables)
	}
	if s.Dimension, err = parseDimension(variables); err != nil {
		return nil, err
	}

	function, ok := raw[SectionFunction]
	if !ok {
		return nil, syntaxError("section $%s is required", SectionFunction)
	}
	if s.Function, err = parseFunction(function); err != nil {
		return nil, err
	}

	if content, ok := raw[SectionParameters]; ok {
		if s.Parameters, err = parseParameters(content); err != nil {
			return nil, err
		}
	}
	if content, ok := raw[SectionConstraints]; ok {
		if s.Constraints, err = parseConstraints(content); err != nil {
			return nil, err
		}
	}
	return &s, nil
}

// split maps section names to their raw content.
func split(input string) (map[string]string, error) {
	headers := sectionHeader.FindAllStringSubmatchIndex(input, -1)
	if len(headers) == 0 {
		return nil, syntaxError("no sections found")
	}
	if lead := strings.TrimSpace(input[:headers[0][0]]); lead != "" {
		return nil, syntaxError("unexpected text before the first section: %q", lead)
	}

	sections := make(map[string]string, len(headers))
	for i, h := range headers {
		name := input[h[2]:h[3]]
		switch name {
		case SectionVariables, SectionParameters, SectionFunction, SectionConstraints:
		default:
			return nil, syntaxError("unknown section $%s", name)
		}
		if _, dup := sections[name]; dup {
			return nil, syntaxError("section $%s appears more than once", name)
		}

		end := len(input)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		sections[name] = input[h[1]:end]
	}
	return sections, nil
}

// statements splits content on semicolons. Every statement must be terminated.
func statements(section, content string) ([]string, error) {
	parts := strings.Split(content, ";")
	if rest := strings.TrimSpace(parts[len(parts)-1]); rest != "" {
		return nil, syntaxError("section $%s: statement %q must end with a semicolon", section, rest)
	}

	out := make([]string, 0, len(parts)-1)
	for _, p := range parts[:len(parts)-1] {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

func parseDimension(content string) (int, error) {
	stmts, err := statements(SectionVariables, content)
	if err != nil {
		return 0, err
	}
	if len(stmts) != 1 {
		return 0, syntaxError("section $%s must contain exactly one positive integer", SectionVariables)
	}
	n, err := strconv.Atoi(stmts[0])
	if err != nil || n <= 0 {
		return 0, syntaxError("section $%s must contain exactly one positive integer, got %q", SectionVariables, stmts[0])
	}
	return n, nil
}

func parseFunction(content string) (string, error) {
	stmts, err := statements(SectionFunction, content)
	if err != nil {
		return "", err
	}
	if len(stmts) != 1 {
		return "", syntaxError("section $%s must contain exactly one expression", SectionFunction)
	}
	return stmts[0], nil
}

func parseParameters(content string) ([]Parameter, error) {
	stmts, err := statements(SectionParameters, content)
	if err != nil {
		return nil, err
	}

	params := make([]Parameter, 0, len(stmts))
	seen := make(map[string]bool, len(stmts))
	for _, stmt := range stmts {
		name, expression, ok := strings.Cut(stmt, "=")
		name, expression = strings.TrimSpace(name), strings.TrimSpace(expression)
		if !ok || expression == "" || strings.HasPrefix(expression, "=") {
			return nil, syntaxError("parameter %q must have the form name = expression", stmt)
		}
		if !identifier.MatchString(name) {
			return nil, syntaxError("invalid parameter name %q", name)
		}
		if reserved(name) {
			return nil, syntaxError("parameter name %q is reserved", name)
		}
		if seen[name] {
			return nil, syntaxError("parameter %q is defined more than once", name)
		}
		seen[name] = true
		params = append(params, Parameter{Name: name, Expression: expression})
	}
	return params, nil
}

func parseConstraints(content string) ([]RawConstraint, error) {
	stmts, err := statements(SectionConstraints, content)
	if err != nil {
		return nil, err
	}

	constraints := make([]RawConstraint, 0, len(stmts))
	for _, stmt := range stmts {
		loc := comparison.FindAllStringIndex(stmt, -1)
		if len(loc) != 1 {
			return nil, syntaxError("constraint %q must contain exactly one of <=, >=, ==", stmt)
		}
		op := stmt[loc[0][0]:loc[0][1]]
		c := RawConstraint{
			Lhs:      strings.TrimSpace(stmt[:loc[0][0]]),
			Rhs:      strings.TrimSpace(stmt[loc[0][1]:]),
			Operator: op,
			Type:     operators[op],
		}
		if c.Lhs == "" || c.Rhs == "" {
			return nil, syntaxError("constraint %q needs expressions on both sides", stmt)
		}
		constraints = append(constraints, c)
	}
	return constraints, nil
}

func syntaxError(format string, args ...interface{}) error {
	return errors.Wrapf(ErrSyntax, format, args...).
		WithOperation("ParseSections").
		WithComponent("taskparser")
}
