package evaluate

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/veridocs/inspection-engine/internal/answer"
	"github.com/veridocs/inspection-engine/internal/interdoc"
	"github.com/veridocs/inspection-engine/internal/rulebook"
)

// answerKey builds the compact JSON key for a dotted field path, with idx on
// the final segment.
func answerKey(path string, idx int) string {
	parts := strings.Split(path, "-")
	segs := make([]string, 0, len(parts)+1)
	segs = append(segs, "合同:0")
	for i, p := range parts {
		if i == len(parts)-1 {
			segs = append(segs, p+":"+string(rune('0'+idx)))
		} else {
			segs = append(segs, p+":0")
		}
	}
	b, _ := json.Marshal(segs)
	return string(b)
}

func enumItem(path string, values ...string) *answer.Item {
	return &answer.Item{Key: answerKey(path, 0), Values: values}
}

func textItem(path, text string) *answer.Item { return textItemAt(path, 0, text) }

func textItemAt(path string, idx int, text string) *answer.Item {
	return &answer.Item{Key: answerKey(path, idx), Data: []answer.DataItem{{
		Text:  text,
		Boxes: []answer.DataBox{{Page: 2, Box: interdoc.Box{60, 120, 360, 150}, Text: text}},
	}}}
}

func treeOf(items ...*answer.Item) *answer.Tree {
	return answer.NewTree(items, nil, nil, nil)
}

func TestEvaluateRegexPass(t *testing.T) {
	rule := &rulebook.Rule{
		ID:     11,
		Name:   "基金名称应含私募字样",
		Kind:   rulebook.KindRegex,
		Fields: []string{"基金名称"},
		Params: rulebook.Params{Pattern: "私募", Suggestion: "请在基金名称中加入“私募”字样"},
		Origin: []string{"《私募投资基金命名指引》", "名称应当标明“私募”字样。"},
	}
	tree := treeOf(textItem("基金名称", "明世伙伴价值成长一号私募证券投资基金"))

	res, err := (&Evaluator{}).Evaluate(context.Background(), rule, tree)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Compliant() {
		t.Fatal("matching value should be compliant")
	}
	if len(res.Reasons) != 1 || res.Reasons[0].Type != ReasonMatchSuccess || res.Reasons[0].ReasonText != "已匹配规则要求" {
		t.Errorf("reasons = %+v", res.Reasons)
	}
	if res.RuleID != 11 || len(res.OriginContents) != 2 {
		t.Errorf("rule metadata not carried: id=%d origins=%v", res.RuleID, res.OriginContents)
	}
	if len(res.SchemaResults) != 1 || !res.SchemaResults[0].Matched {
		t.Errorf("schema results = %+v", res.SchemaResults)
	}
}

func TestEvaluateRegexFail(t *testing.T) {
	rule := &rulebook.Rule{
		ID:     11,
		Name:   "基金名称应含私募字样",
		Kind:   rulebook.KindRegex,
		Fields: []string{"基金名称"},
		Params: rulebook.Params{Pattern: "私募", Suggestion: "请在基金名称中加入“私募”字样"},
	}
	tree := treeOf(textItem("基金名称", "示范价值成长一号基金"))

	res, err := (&Evaluator{}).Evaluate(context.Background(), rule, tree)
	if err != nil {
		t.Fatal(err)
	}
	if res.Compliant() || res.NotApplicable() {
		t.Fatal("mismatch should be explicit non-compliance")
	}
	if len(res.Reasons) != 1 || res.Reasons[0].Type != ReasonMatchFailed {
		t.Fatalf("reasons = %+v", res.Reasons)
	}
	if res.Reasons[0].ReasonText != "“基金名称”未匹配规则要求" {
		t.Errorf("reason text = %q", res.Reasons[0].ReasonText)
	}
	if res.Suggestion != rule.Params.Suggestion {
		t.Errorf("suggestion = %q", res.Suggestion)
	}
}

func TestEvaluateRegexBadPattern(t *testing.T) {
	rule := &rulebook.Rule{Name: "坏规则", Kind: rulebook.KindRegex, Params: rulebook.Params{Pattern: "("}}
	if _, err := (&Evaluator{}).Evaluate(context.Background(), rule, treeOf()); err == nil {
		t.Fatal("invalid pattern must error")
	}
}

func TestEvaluateEmpty(t *testing.T) {
	rule := &rulebook.Rule{
		ID:     12,
		Name:   "要素不得为空",
		Kind:   rulebook.KindEmpty,
		Fields: []string{"基金名称", "存续期"},
	}
	tree := treeOf(textItem("基金名称", "示范基金"))

	res, err := (&Evaluator{}).Evaluate(context.Background(), rule, tree)
	if err != nil {
		t.Fatal(err)
	}
	if res.Compliant() {
		t.Fatal("missing field should fail")
	}
	if len(res.Reasons) != 1 || res.Reasons[0].ReasonText != "要素“存续期”为空" {
		t.Fatalf("reasons = %+v", res.Reasons)
	}
	if res.Suggestion != "请补充“存续期”" {
		t.Errorf("suggestion = %q", res.Suggestion)
	}

	full := treeOf(textItem("基金名称", "示范基金"), textItem("存续期", "10年"))
	res, err = (&Evaluator{}).Evaluate(context.Background(), rule, full)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Compliant() || res.Reasons[0].ReasonText != "要素均不为空" {
		t.Errorf("full tree: compliance=%v reasons=%+v", res.IsCompliance, res.Reasons)
	}
}

func TestEvaluateExpr(t *testing.T) {
	rule := &rulebook.Rule{
		ID:     13,
		Name:   "封闭式基金不设开放日",
		Kind:   rulebook.KindExpr,
		Fields: []string{"运作方式"},
		Params: rulebook.Params{Expression: `fields["运作方式"] == "封闭式"`, Suggestion: "请修改运作方式"},
	}

	res, err := (&Evaluator{}).Evaluate(context.Background(), rule, treeOf(enumItem("运作方式", "封闭式")))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Compliant() || res.Reasons[0].ReasonText != "表达式判定通过" {
		t.Errorf("true verdict: compliance=%v reasons=%+v", res.IsCompliance, res.Reasons)
	}

	res, err = (&Evaluator{}).Evaluate(context.Background(), rule, treeOf(enumItem("运作方式", "开放式")))
	if err != nil {
		t.Fatal(err)
	}
	if res.Compliant() || res.Reasons[0].ReasonText != "表达式判定未通过" || res.Suggestion != "请修改运作方式" {
		t.Errorf("false verdict: %+v", res)
	}
}

func TestEvaluateExprNotBoolean(t *testing.T) {
	rule := &rulebook.Rule{
		Name:   "坏表达式",
		Kind:   rulebook.KindExpr,
		Fields: []string{"运作方式"},
		Params: rulebook.Params{Expression: `fields["运作方式"]`},
	}
	if _, err := (&Evaluator{}).Evaluate(context.Background(), rule, treeOf()); err == nil {
		t.Fatal("non-boolean expression must error")
	}
}

func TestEvaluateConditionNotApplicable(t *testing.T) {
	rule := &rulebook.Rule{
		ID:   14,
		Name: "股权类基金专用条款",
		Kind: rulebook.KindCondition,
		Params: rulebook.Params{Conditions: []answer.Condition{{
			Name:   "基金类型",
			Values: []answer.ValuePredicate{{Relation: answer.RelationEqual, Value: "股权类"}},
		}}},
	}
	tree := answer.NewTree(nil, nil, nil, map[string][]string{"基金类型": {"证券类"}})

	res, err := (&Evaluator{}).Evaluate(context.Background(), rule, tree)
	if err != nil {
		t.Fatal(err)
	}
	if !res.NotApplicable() {
		t.Fatal("unsatisfied condition must yield a not-applicable result")
	}
	if len(res.Reasons) != 1 || res.Reasons[0].Type != ReasonIgnoreCondition || res.Reasons[0].ReasonText != "不满足适用条件" {
		t.Errorf("reasons = %+v", res.Reasons)
	}
}

func TestEvaluateConditionSatisfiedWithoutGroups(t *testing.T) {
	rule := &rulebook.Rule{
		ID:   14,
		Name: "证券类基金专用条款",
		Kind: rulebook.KindCondition,
		Params: rulebook.Params{Conditions: []answer.Condition{{
			Name:   "基金类型",
			Values: []answer.ValuePredicate{{Relation: answer.RelationEqual, Value: "证券类"}},
		}}},
	}
	tree := answer.NewTree(nil, nil, nil, map[string][]string{"基金类型": {"证券类"}})

	res, err := (&Evaluator{}).Evaluate(context.Background(), rule, tree)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Compliant() || res.Reasons[0].ReasonText != "满足适用条件" {
		t.Errorf("compliance=%v reasons=%+v", res.IsCompliance, res.Reasons)
	}
}

func TestEvaluateConditionDelegatesToGroups(t *testing.T) {
	rule := &rulebook.Rule{
		ID:   15,
		Name: "证券类基金应载明范文条款",
		Kind: rulebook.KindCondition,
		Params: rulebook.Params{
			Conditions: []answer.Condition{{
				Name:   "基金类型",
				Values: []answer.ValuePredicate{{Relation: answer.RelationEqual, Value: "证券类"}},
			}},
			Groups: []rulebook.TemplateGroup{{
				Label:    "范文",
				Contents: []rulebook.TemplateContent{{Content: "基金托管人按约定保管基金财产。"}},
			}},
		},
	}
	// No reader attached: the group cannot be compared and fails closed.
	tree := answer.NewTree(nil, nil, nil, map[string][]string{"基金类型": {"证券类"}})

	res, err := (&Evaluator{}).Evaluate(context.Background(), rule, tree)
	if err != nil {
		t.Fatal(err)
	}
	if res.Compliant() || res.NotApplicable() {
		t.Fatal("satisfied condition with unmatched groups must fail")
	}
	if len(res.Reasons) != 1 || res.Reasons[0].Type != ReasonConflict {
		t.Fatalf("reasons = %+v", res.Reasons)
	}
	if res.Reasons[0].ReasonText != "未找到与范文相同的内容" {
		t.Errorf("reason text = %q", res.Reasons[0].ReasonText)
	}
}

func TestEvaluateRejectsDelegatedKinds(t *testing.T) {
	for _, kind := range []rulebook.Kind{
		rulebook.KindSchema,
		rulebook.KindCheckPoint,
		rulebook.KindExternal,
		rulebook.Kind("bogus"),
	} {
		rule := &rulebook.Rule{Name: "规则", Kind: kind}
		if _, err := (&Evaluator{}).Evaluate(context.Background(), rule, treeOf()); err == nil {
			t.Errorf("kind %q must not evaluate locally", kind)
		}
	}
}

func TestRegistryRun(t *testing.T) {
	reg := DefaultRegistry()
	rule := &rulebook.Rule{
		ID:     439,
		Name:   "管理人不得超过一家",
		Kind:   rulebook.KindSchema,
		Params: rulebook.Params{Validator: "schema_439_2"},
	}
	tree := treeOf(textItem("基金管理人概况-名称", "示范基金管理有限公司"))

	res, err := reg.Run(rule, tree)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Compliant() {
		t.Error("single manager should pass")
	}
	if res.RuleID != 439 {
		t.Errorf("RuleID = %d, want the dispatching rule's id", res.RuleID)
	}
}

func TestRegistryRunUnknownValidator(t *testing.T) {
	rule := &rulebook.Rule{Name: "规则", Kind: rulebook.KindSchema, Params: rulebook.Params{Validator: "schema_999"}}
	if _, err := DefaultRegistry().Run(rule, treeOf()); err == nil {
		t.Fatal("unknown validator label must error")
	}
}

func TestNewRegistryRejectsDuplicateLabel(t *testing.T) {
	if _, err := NewRegistry(&OpenDayValidator{}, &OpenDayValidator{}); err == nil {
		t.Fatal("duplicate label must be rejected")
	}
}
