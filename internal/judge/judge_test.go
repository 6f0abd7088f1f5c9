package judge

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/veridocs/inspection-engine/internal/checkpoint"
	"github.com/veridocs/inspection-engine/internal/evaluate"
	"github.com/veridocs/inspection-engine/internal/interdoc"
	"github.com/veridocs/inspection-engine/internal/rulebook"
)

type scriptedCaller struct {
	responses []string
	calls     int
	prompts   []string
}

func (c *scriptedCaller) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	i := c.calls
	c.calls++
	c.prompts = append(c.prompts, prompt)
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", fmt.Errorf("unexpected call %d", i)
}

func testCheckPoint() *checkpoint.CheckPoint {
	return &checkpoint.CheckPoint{
		ID:          42,
		Name:        "备案时限",
		RuleContent: "第九条　管理人应当在募集完毕后20个工作日内备案。",
		CheckType:   checkpoint.CheckRequired,
		Subject:     "基金管理人",
		Core:        "备案时限",
		CheckMethod: "检查合同是否约定备案时限",
	}
}

func testSnippets() []Snippet {
	return []Snippet{{
		Text:     "管理人将在募集完毕后20个工作日内办理备案。",
		Outlines: interdoc.Outlines{3: {{60, 150, 360, 180}}},
	}}
}

func TestBuildQuestionDefault(t *testing.T) {
	clause := &checkpoint.Clause{
		Content:   "第九条　管理人应当办理备案手续。",
		Keywords:  []string{"备案", "管理人"},
		Scenarios: []string{"证券类"},
	}
	q := BuildQuestion(clause)
	if !strings.Contains(q, clause.Content) {
		t.Error("question must embed the clause content")
	}
	if !strings.Contains(q, "备案, 管理人") || !strings.Contains(q, "证券类") {
		t.Errorf("question missing keywords or scenarios: %q", q)
	}
}

func TestBuildQuestionCustomPrompt(t *testing.T) {
	clause := &checkpoint.Clause{
		Content: "第九条　管理人应当办理备案手续。",
		Prompt:  "请在合同中查找：{{ .Content }}",
	}
	q := BuildQuestion(clause)
	if q != "请在合同中查找：第九条　管理人应当办理备案手续。" {
		t.Errorf("q = %q", q)
	}
}

func TestBuildQuestionBrokenPromptFallsBack(t *testing.T) {
	clause := &checkpoint.Clause{Content: "内容", Prompt: "坏模板 {{ .Content"}
	if q := BuildQuestion(clause); q != clause.Prompt {
		t.Errorf("broken template should be returned verbatim, got %q", q)
	}
}

func TestJudgeCheckPointVerdicts(t *testing.T) {
	cases := []struct {
		name       string
		status     string
		compliance *bool
	}{
		{"compliant", "合规", boolPtr(true)},
		{"non-compliant", "不合规", boolPtr(false)},
		{"undecidable", "无法判断", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			caller := &scriptedCaller{responses: []string{fmt.Sprintf(
				`{"check_points":[{"id":42,"check_type":"义务性","judgment_basis":"合同约定了明确的备案时限","compliance_status":"%s","suggestion":"建议内容"}]}`,
				tc.status,
			)}}
			runner := NewRunner(caller, nil, nil, nil)

			res := runner.JudgeCheckPoint(context.Background(), testCheckPoint(), "备案须知", testSnippets())
			if res.JudgeStatus != StatusSuccess {
				t.Fatalf("status = %s", res.JudgeStatus)
			}
			if (res.IsCompliance == nil) != (tc.compliance == nil) {
				t.Fatalf("compliance = %v, want %v", res.IsCompliance, tc.compliance)
			}
			if tc.compliance != nil && *res.IsCompliance != *tc.compliance {
				t.Errorf("compliance = %v, want %v", *res.IsCompliance, *tc.compliance)
			}
			if res.IsComplianceAI == nil && tc.compliance != nil {
				t.Error("AI verdict should mirror the verdict")
			}
			if len(res.Reasons) != 1 || res.Reasons[0].ReasonText != "合同约定了明确的备案时限" {
				t.Errorf("reasons = %+v", res.Reasons)
			}
			if res.Suggestion != "建议内容" || res.SuggestionAI != "建议内容" {
				t.Errorf("suggestion = %q / %q", res.Suggestion, res.SuggestionAI)
			}
			if len(res.SchemaResults) != 1 || res.SchemaResults[0].Page != 3 {
				t.Errorf("schema results = %+v", res.SchemaResults)
			}
			if res.OrderKey != "000301500060" {
				t.Errorf("order key = %q", res.OrderKey)
			}
			if len(res.OriginContents) != 2 || res.OriginContents[0] != "备案须知" {
				t.Errorf("origins = %v", res.OriginContents)
			}
		})
	}
}

func TestJudgeCheckPointNoSnippetsFails(t *testing.T) {
	runner := NewRunner(&scriptedCaller{}, nil, nil, nil)
	res := runner.JudgeCheckPoint(context.Background(), testCheckPoint(), "备案须知", nil)
	if res.JudgeStatus != StatusFailed {
		t.Fatalf("status = %s", res.JudgeStatus)
	}
	if res.IsCompliance == nil || *res.IsCompliance {
		t.Error("failed judgment is non-compliant")
	}
	if res.IsComplianceAI == nil || !*res.IsComplianceAI {
		t.Error("failure inverts the AI flag")
	}
	if res.Reasons == nil || len(res.Reasons) != 0 {
		t.Errorf("reasons = %+v", res.Reasons)
	}
	if res.SchemaResults != nil || res.Suggestion != "" {
		t.Error("failed judgment carries no evidence")
	}
}

func TestJudgeCheckPointMissingMethodFails(t *testing.T) {
	cp := testCheckPoint()
	cp.CheckMethod = ""
	runner := NewRunner(&scriptedCaller{}, nil, nil, nil)
	res := runner.JudgeCheckPoint(context.Background(), cp, "备案须知", testSnippets())
	if res.JudgeStatus != StatusFailed {
		t.Errorf("status = %s", res.JudgeStatus)
	}
}

func TestJudgmentBasisSnippetRewrite(t *testing.T) {
	caller := &scriptedCaller{responses: []string{
		`{"check_points":[{"id":42,"check_type":"义务性","judgment_basis":"片段1显示合同约定了备案时限","compliance_status":"合规","suggestion":""}]}`,
		"合同约定了备案时限",
	}}
	runner := NewRunner(caller, nil, nil, nil)

	res := runner.JudgeCheckPoint(context.Background(), testCheckPoint(), "备案须知", testSnippets())
	if caller.calls != 2 {
		t.Fatalf("expected a rewrite call, got %d calls", caller.calls)
	}
	if !strings.Contains(caller.prompts[1], "片段1显示合同约定了备案时限") {
		t.Error("rewrite prompt must carry the original basis")
	}
	if res.Reasons[0].ReasonText != "合同约定了备案时限" {
		t.Errorf("basis = %q", res.Reasons[0].ReasonText)
	}
}

func templateReader(paras ...string) *interdoc.Reader {
	doc := &interdoc.Document{
		Paragraphs: []interdoc.Element{{
			Index: 0, Type: interdoc.ElementParagraph,
			Text: "第一章 基金的基本情况", Page: 1,
			Outline: interdoc.Box{60, 80, 360, 110},
		}},
	}
	for i, text := range paras {
		doc.Paragraphs = append(doc.Paragraphs, interdoc.Element{
			Index: i + 1, Type: interdoc.ElementParagraph, Text: text, Page: 1,
			Outline: interdoc.Box{60, float64(150 + i*40), 360, float64(180 + i*40)},
		})
	}
	doc.Syllabuses = []interdoc.Syllabus{{
		Index: 0, Title: "第一章 基金的基本情况", Level: 1, Range: [2]int{0, len(paras) + 1},
	}}
	return interdoc.NewReader(doc)
}

func TestJudgeTemplate(t *testing.T) {
	cp := &checkpoint.CheckPoint{
		ID:          7,
		Name:        "基金合同范文核对",
		RuleContent: "基金名称：示范基金。",
		Templates: []rulebook.TemplateGroup{{
			Label:    "范文",
			Contents: []rulebook.TemplateContent{{Content: "基金名称：示范基金。"}},
		}},
	}
	runner := NewRunner(&scriptedCaller{}, nil, nil, &evaluate.Evaluator{})

	res := runner.JudgeTemplate(context.Background(), cp, "合同指引", templateReader("基金名称：示范基金。"))
	if res.JudgeStatus != StatusSuccess {
		t.Fatalf("status = %s", res.JudgeStatus)
	}
	if res.IsCompliance == nil || !*res.IsCompliance {
		t.Errorf("compliance = %v", res.IsCompliance)
	}
	if res.RuleType != string(rulebook.KindTemplate) {
		t.Errorf("rule type = %q", res.RuleType)
	}
	if res.OrderKey == "" {
		t.Error("matched template should yield a document position")
	}
}

func TestJudgeTemplateRejectsFreeTextCheckPoint(t *testing.T) {
	runner := NewRunner(&scriptedCaller{}, nil, nil, &evaluate.Evaluator{})
	res := runner.JudgeTemplate(context.Background(), testCheckPoint(), "合同指引", templateReader())
	if res.JudgeStatus != StatusFailed {
		t.Errorf("status = %s", res.JudgeStatus)
	}
}

func TestOrderKey(t *testing.T) {
	rows := []struct {
		name string
		in   []Snippet
		want string
	}{
		{"empty", nil, ""},
		{"single", []Snippet{{Text: "a", Outlines: interdoc.Outlines{2: {{60, 150, 360, 180}}}}}, "000201500060"},
	}
	for _, tc := range rows {
		got := orderKey(snippetSchemaResults("x", tc.in))
		if got != tc.want {
			t.Errorf("%s: orderKey = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestSortJudgments(t *testing.T) {
	a := &JudgmentResult{Name: "后", OrderKey: "000500100010"}
	b := &JudgmentResult{Name: "前", OrderKey: "000200100010"}
	c := &JudgmentResult{Name: "无位置", OrderKey: ""}
	results := []*JudgmentResult{c, a, b}
	SortJudgments(results)
	if results[0] != b || results[1] != a || results[2] != c {
		t.Errorf("order = %s, %s, %s", results[0].Name, results[1].Name, results[2].Name)
	}
}

func TestAsResult(t *testing.T) {
	jr := &JudgmentResult{
		FID:            9,
		Name:           "备案时限",
		IsCompliance:   boolPtr(true),
		OriginContents: []string{"备案须知", "第九条"},
		Reasons:        []evaluate.Reason{{Type: evaluate.ReasonMatchSuccess, ReasonText: "依据", Matched: true}},
		RuleType:       "schema",
		Suggestion:     "建议",
	}
	res := jr.AsResult()
	if res.Name != "备案时限" || !res.Compliant() || res.FID != 9 {
		t.Errorf("res = %+v", res)
	}
	if res.Suggestion != "建议" || len(res.OriginContents) != 2 || len(res.Reasons) != 1 {
		t.Errorf("fields not carried: %+v", res)
	}
}

func TestFilterTree(t *testing.T) {
	tree := []*TreeNode{
		{
			Name:     "法规库",
			NodeType: nodeTypeFolder,
			Children: []*TreeNode{
				{Name: "备案须知", Ext: ".pdf", DocStatus: docStatusReady},
				{Name: "失败文档", DocStatus: -10},
			},
		},
		{
			Name:     "空目录",
			NodeType: nodeTypeFolder,
			Children: []*TreeNode{{Name: "解析中", DocStatus: 100}},
		},
		{Name: "附件", NodeType: nodeTypeAttachment, DocStatus: docStatusReady},
		{Name: "坏附件", NodeType: nodeTypeAttachment, DocStatus: -10},
		{
			Name:      "空文档带子节点",
			DocStatus: docStatusEmpty,
			Children:  []*TreeNode{{Name: "子附件", NodeType: nodeTypeAttachment, DocStatus: docStatusReady}},
		},
	}
	kept := FilterTree(tree)
	if len(kept) != 3 {
		t.Fatalf("kept %d nodes", len(kept))
	}
	if !kept[0].IsFolder || len(kept[0].Children) != 1 {
		t.Errorf("folder = %+v", kept[0])
	}
	if kept[0].Children[0].Name != "备案须知.pdf" {
		t.Errorf("extension not re-attached: %q", kept[0].Children[0].Name)
	}
	if kept[1].Name != "附件" {
		t.Errorf("kept[1] = %q", kept[1].Name)
	}
	if !kept[2].IsEmpty || !kept[2].IsFile {
		t.Errorf("empty file = %+v", kept[2])
	}
}
