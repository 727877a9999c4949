// Package filter provides a CEL-based predicate used by expunge-style
// forceMerge policies to decide whether a tombstoned or source document
// qualifies for removal, e.g. "expunge any tombstone older than a given
// source field". Grounded on the teacher's cel/cel.go evaluator, which
// compiles a named expression once and evaluates it repeatedly against
// map[string]any inputs.
package filter

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
)

// Evaluator holds a compiled CEL expression over a single "doc" map
// variable (a decoded JSON source document plus version-map bookkeeping
// fields such as "_isDelete" and "_timeMillis") and returns a bool.
type Evaluator struct {
	Expression string
	program    cel.Program
}

// NewEvaluator compiles expression, which must evaluate to a bool given
// a "doc" variable of type map(string, any).
func NewEvaluator(expression string) (*Evaluator, error) {
	if expression == "" {
		return nil, fmt.Errorf("filter: expression must not be empty")
	}
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.AnyType)),
	)
	if err != nil {
		return nil, fmt.Errorf("filter: new CEL env: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filter: compile %q: %w", expression, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter: program %q: %w", expression, err)
	}
	return &Evaluator{Expression: expression, program: prg}, nil
}

// Matches evaluates the compiled expression against doc and returns the
// resulting boolean.
func (e *Evaluator) Matches(doc map[string]any) (bool, error) {
	out, _, err := e.program.Eval(map[string]any{"doc": doc})
	if err != nil {
		return false, fmt.Errorf("filter: eval: %w", err)
	}
	b, err := out.ConvertToNative(reflect.TypeOf(false))
	if err != nil {
		return false, fmt.Errorf("filter: expression %q did not evaluate to bool: %w", e.Expression, err)
	}
	return b.(bool), nil
}
