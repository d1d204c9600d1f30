package cel

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"fluxrules/internal/rete"
)

// Evaluator type-checks boolean expressions over a single `fact` map.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(cel.Variable("fact", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Export renders c as CEL and type-checks the result.
func (e *Evaluator) Export(c rete.Condition) (string, error) {
	expr, err := Translate(c)
	if err != nil {
		return "", fmt.Errorf("failed to translate condition: %w", err)
	}
	if _, err := e.check(expr); err != nil {
		return "", err
	}
	return expr, nil
}

// check compiles expression and requires a bool result.
func (e *Evaluator) check(expression string) (*cel.Ast, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("condition expression must return bool, got %v", ast.OutputType())
	}
	return ast, nil
}
