package evaluate

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/veridocs/inspection-engine/internal/answer"
	"github.com/veridocs/inspection-engine/internal/rulebook"
)

// evaluateExpr compiles the rule's boolean CEL expression and evaluates it
// over the target field values, exposed as fields["名称"].
func (e *Evaluator) evaluateExpr(rule *rulebook.Rule, tree *answer.Tree) (*Result, error) {
	env, err := cel.NewEnv(
		cel.Variable("fields", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(rule.Params.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("rule %q expression: %w", rule.Name, issues.Err())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("rule %q program: %w", rule.Name, err)
	}

	fields := make(map[string]string, len(rule.Fields))
	for _, field := range rule.Fields {
		fields[field] = tree.Get(field).Value()
	}
	out, _, err := prog.Eval(map[string]any{"fields": fields})
	if err != nil {
		return nil, fmt.Errorf("rule %q eval: %w", rule.Name, err)
	}
	verdict, ok := out.Value().(bool)
	if !ok {
		return nil, fmt.Errorf("rule %q expression is not boolean", rule.Name)
	}

	res := baseResult(rule, tree)
	res.IsCompliance = compliant(verdict)
	if verdict {
		res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchSuccess, Matched: true, ReasonText: "表达式判定通过"})
	} else {
		res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchFailed, ReasonText: "表达式判定未通过"})
		res.Suggestion = rule.Params.Suggestion
	}
	return res, nil
}
