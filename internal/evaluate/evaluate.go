package evaluate

import (
	"context"
	"fmt"
	"regexp"

	"github.com/veridocs/inspection-engine/internal/answer"
	"github.com/veridocs/inspection-engine/internal/paradiff"
	"github.com/veridocs/inspection-engine/internal/rulebook"
)

// Evaluator runs declarative rules. Coded schema validators are dispatched
// through the registry; checkpoint rules are owned by the judgment runner,
// not by this package.
type Evaluator struct {
	// Integrity expands trimmed diff windows over numbered lists; nil
	// disables the expansion.
	Integrity paradiff.IntegrityFunc
}

// Evaluate runs one rule against one answer tree. Pure rule kinds never
// return an error; template rules may surface context cancellation from the
// integrity callback.
func (e *Evaluator) Evaluate(ctx context.Context, rule *rulebook.Rule, tree *answer.Tree) (*Result, error) {
	switch rule.Kind {
	case rulebook.KindRegex:
		return e.evaluateRegex(rule, tree)
	case rulebook.KindEmpty:
		return e.evaluateEmpty(rule, tree), nil
	case rulebook.KindExpr:
		return e.evaluateExpr(rule, tree)
	case rulebook.KindCondition:
		return e.evaluateCondition(ctx, rule, tree)
	case rulebook.KindTemplate:
		return e.evaluateTemplate(ctx, rule, tree), nil
	case rulebook.KindSchema:
		return nil, fmt.Errorf("schema rule %q must run through the validator registry", rule.Name)
	case rulebook.KindCheckPoint:
		return nil, fmt.Errorf("checkpoint rule %q must run through the judgment runner", rule.Name)
	case rulebook.KindExternal:
		return nil, fmt.Errorf("external rule %q has no local evaluator", rule.Name)
	default:
		return nil, fmt.Errorf("unknown rule kind %q", rule.Kind)
	}
}

func (e *Evaluator) evaluateRegex(rule *rulebook.Rule, tree *answer.Tree) (*Result, error) {
	res := baseResult(rule, tree)
	pattern, err := regexp.Compile(rule.Params.Pattern)
	if err != nil {
		return nil, fmt.Errorf("rule %q pattern: %w", rule.Name, err)
	}
	matched := true
	for _, field := range rule.Fields {
		a := tree.Get(field)
		if !pattern.MatchString(a.Value()) {
			matched = false
			res.Reasons = append(res.Reasons, Reason{
				Type:       ReasonMatchFailed,
				ReasonText: fmt.Sprintf("“%s”未匹配规则要求", field),
				Page:       a.Page(),
				Outlines:   a.Outlines(),
			})
		}
	}
	if matched {
		res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchSuccess, Matched: true, ReasonText: "已匹配规则要求"})
	} else {
		res.Suggestion = rule.Params.Suggestion
	}
	res.IsCompliance = compliant(matched)
	return res, nil
}

func (e *Evaluator) evaluateEmpty(rule *rulebook.Rule, tree *answer.Tree) *Result {
	res := baseResult(rule, tree)
	matched := true
	for _, field := range rule.Fields {
		if tree.Get(field).Value() == "" {
			matched = false
			res.Reasons = append(res.Reasons, Reason{
				Type:       ReasonSchemaFailed,
				ReasonText: fmt.Sprintf("要素“%s”为空", field),
				Suggestion: fmt.Sprintf("请补充“%s”", field),
			})
			res.Suggestion = appendSuggestion(res.Suggestion, fmt.Sprintf("请补充“%s”", field))
		}
	}
	if matched {
		res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchSuccess, Matched: true, ReasonText: "要素均不为空"})
	}
	res.IsCompliance = compliant(matched)
	return res
}

func (e *Evaluator) evaluateCondition(ctx context.Context, rule *rulebook.Rule, tree *answer.Tree) (*Result, error) {
	if !tree.VerifyConditions(rule.Params.Conditions) {
		res := baseResult(rule, tree)
		res.Reasons = append(res.Reasons, Reason{Type: ReasonIgnoreCondition, ReasonText: "不满足适用条件"})
		return res, nil
	}
	// The content assertion behind a satisfied condition is the template
	// comparison of its groups.
	if len(rule.Params.Groups) > 0 {
		return e.evaluateTemplate(ctx, rule, tree), nil
	}
	res := baseResult(rule, tree)
	res.IsCompliance = compliant(true)
	res.Reasons = append(res.Reasons, Reason{Type: ReasonMatchSuccess, Matched: true, ReasonText: "满足适用条件"})
	return res, nil
}

func baseResult(rule *rulebook.Rule, tree *answer.Tree) *Result {
	res := newResult(rule.Name, rule.RelatedName, rule.Label, string(rule.Kind))
	res.RuleID = rule.ID
	res.OriginContents = rule.Origin
	res.ContractContent = rule.Params.Content
	res.SchemaResults = tree.BuildSchemaResults(rule.Fields)
	return res
}

func appendSuggestion(existing, add string) string {
	if add == "" {
		return existing
	}
	if existing == "" {
		return add
	}
	return existing + "\n" + add
}
