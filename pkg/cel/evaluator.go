package cel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

const costLimit = 10000

// Compiler compiles rule condition expressions. An expression sees the
// resolved field as `value` (null when absent) and `present`.
type Compiler struct {
	env *cel.Env
}

func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("present", cel.BoolType),
		cel.Function("majorVersion",
			cel.Overload("majorVersion_string", []*cel.Type{cel.StringType}, cel.IntType,
				cel.UnaryBinding(componentBinding(0)),
			),
		),
		cel.Function("minorVersion",
			cel.Overload("minorVersion_string", []*cel.Type{cel.StringType}, cel.IntType,
				cel.UnaryBinding(componentBinding(1)),
			),
		),
		cel.Function("versionAtLeast",
			cel.Overload("versionAtLeast_string_string", []*cel.Type{cel.StringType, cel.StringType}, cel.BoolType,
				cel.BinaryBinding(versionAtLeast),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Compiler{env: env}, nil
}

func (c *Compiler) ValidateExpression(expression string) error {
	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return fmt.Errorf("condition expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// Compile checks and plans expression once; the returned predicate may be
// evaluated any number of times.
func (c *Compiler) Compile(expression string) (func(value any, present bool) (bool, error), error) {
	if err := c.ValidateExpression(expression); err != nil {
		return nil, err
	}

	ast, _ := c.env.Compile(expression)
	program, err := c.env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return func(value any, present bool) (bool, error) {
		if !present {
			value = nil
		}

		result, _, err := program.Eval(map[string]any{
			"value":   value,
			"present": present,
		})
		if err != nil {
			return false, fmt.Errorf("failed to evaluate CEL expression %q: %w", expression, err)
		}

		boolVal, ok := result.Value().(bool)
		if !ok {
			return false, fmt.Errorf("CEL expression %q did not return bool, got %T", expression, result.Value())
		}

		return boolVal, nil
	}, nil
}

func componentBinding(n int) func(ref.Val) ref.Val {
	return func(v ref.Val) ref.Val {
		s, ok := v.Value().(string)
		if !ok {
			return types.MaybeNoSuchOverloadErr(v)
		}
		parts, err := parseVersion(s)
		if err != nil {
			return types.NewErr("%s", err.Error())
		}
		if n >= len(parts) {
			return types.NewErr("version %q has no component %d", s, n)
		}
		return types.Int(parts[n])
	}
}

func versionAtLeast(lhs, rhs ref.Val) ref.Val {
	a, ok := lhs.Value().(string)
	if !ok {
		return types.MaybeNoSuchOverloadErr(lhs)
	}
	b, ok := rhs.Value().(string)
	if !ok {
		return types.MaybeNoSuchOverloadErr(rhs)
	}

	va, err := parseVersion(a)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	vb, err := parseVersion(b)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}

	for i := 0; i < len(va) || i < len(vb); i++ {
		var x, y int
		if i < len(va) {
			x = va[i]
		}
		if i < len(vb) {
			y = vb[i]
		}
		if x != y {
			return types.Bool(x > y)
		}
	}
	return types.True
}

func parseVersion(version string) ([]int, error) {
	fields := strings.Split(version, ".")
	parts := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("version %q component %d is not numeric", version, i)
		}
		parts[i] = v
	}
	return parts, nil
}
