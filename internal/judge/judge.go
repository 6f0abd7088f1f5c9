// Package judge runs approved check points against an uploaded contract:
// snippet extraction through the document-QA service, a strict-JSON
// compliance judgment, and the template comparison path.
package judge

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"text/template"

	"github.com/veridocs/inspection-engine/internal/answer"
	"github.com/veridocs/inspection-engine/internal/checkpoint"
	"github.com/veridocs/inspection-engine/internal/evaluate"
	"github.com/veridocs/inspection-engine/internal/interdoc"
	"github.com/veridocs/inspection-engine/internal/llm"
	"github.com/veridocs/inspection-engine/internal/memo"
	"github.com/veridocs/inspection-engine/internal/rulebook"
)

type JudgeStatus string

const (
	StatusTodo    JudgeStatus = "todo"
	StatusDoing   JudgeStatus = "doing"
	StatusSuccess JudgeStatus = "success"
	StatusPartial JudgeStatus = "partial"
	StatusFailed  JudgeStatus = "failed"
	StatusMissing JudgeStatus = "missing"
)

// JudgmentResult is the persisted outcome of one check point on one
// contract.
type JudgmentResult struct {
	CheckPointID   int64                 `json:"cp_id"`
	FID            int64                 `json:"fid"`
	Name           string                `json:"name"`
	IsCompliance   *bool                 `json:"is_compliance"`
	IsComplianceAI *bool                 `json:"is_compliance_ai"`
	OrderKey       string                `json:"order_key,omitempty"`
	OriginContents []string              `json:"origin_contents"`
	Reasons        []evaluate.Reason     `json:"reasons"`
	RuleType       string                `json:"rule_type"`
	SchemaResults  []answer.SchemaResult `json:"schema_results"`
	Suggestion     string                `json:"suggestion,omitempty"`
	SuggestionAI   string                `json:"suggestion_ai,omitempty"`
	JudgeStatus    JudgeStatus           `json:"judge_status"`
}

// Snippet is one extracted contract excerpt with its page boxes.
type Snippet struct {
	Text     string
	Outlines interdoc.Outlines
}

type Runner struct {
	exec      *llm.Executor
	caller    llm.Caller
	chatdoc   *ChatDocClient
	memoiser  *memo.Memoiser
	evaluator *evaluate.Evaluator
}

func NewRunner(caller llm.Caller, chatdoc *ChatDocClient, memoiser *memo.Memoiser, evaluator *evaluate.Evaluator) *Runner {
	return &Runner{
		exec:      llm.NewExecutor(caller),
		caller:    caller,
		chatdoc:   chatdoc,
		memoiser:  memoiser,
		evaluator: evaluator,
	}
}

var defaultQuestionTpl = template.Must(template.New("question").Parse(`请根据以下法规条款分析合同内容，找出相关的原文片段：

法规条款：{{ .Content }}
{{ if .Keywords }}
关键字： {{ .Keywords }}
{{ end }}{{ if .Scenarios }}
适用场景：{{ .Scenarios }}
{{ end }}
请在合同中找出与此法规条款相关的内容，输出具体的原文片段。`))

// BuildQuestion renders the snippet-extraction question for one clause,
// preferring the clause's own prompt template.
func BuildQuestion(clause *checkpoint.Clause) string {
	data := map[string]string{
		"Content":   clause.Content,
		"Keywords":  strings.Join(clause.Keywords, ", "),
		"Scenarios": strings.Join(clause.Scenarios, ", "),
	}
	tpl := defaultQuestionTpl
	if clause.Prompt != "" {
		custom, err := template.New("clause").Parse(clause.Prompt)
		if err != nil {
			log.Printf("clause %d prompt template: %v", clause.ID, err)
			return clause.Prompt
		}
		tpl = custom
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		log.Printf("clause %d prompt render: %v", clause.ID, err)
		return clause.Content
	}
	return sb.String()
}

// ExtractSnippets asks the QA service for the contract text relevant to one
// clause and traces the answer back to page boxes. Results are memoised per
// (upload, clause); an answer filtered out by the clause keywords yields an
// empty slice.
func (r *Runner) ExtractSnippets(ctx context.Context, uploadID string, clause *checkpoint.Clause) ([]Snippet, error) {
	return memo.Do(ctx, r.memoiser, "extract_contract_contents", []any{uploadID, clause.ID, clause.Content},
		func(ctx context.Context) ([]Snippet, error) {
			question := BuildQuestion(clause)
			interaction, err := r.chatdoc.Ask(ctx, uploadID, question)
			if err != nil {
				return nil, err
			}
			answers := clause.FilterByKeywords([]string{interaction.Answer}, strings.Contains)
			if len(answers) == 0 {
				return nil, nil
			}
			outlines, err := r.chatdoc.DetailTrace(ctx, interaction.ID, interaction.Answer,
				[2]int{1, len([]rune(interaction.Answer))})
			if err != nil {
				return nil, err
			}
			return []Snippet{{Text: answers[0], Outlines: outlines}}, nil
		})
}

var complianceTpl = template.Must(template.New("compliance").Parse(`你需要基于以下已拆分的审核点，审核用户提供的文档片段是否合规。审核点的类型（禁止性/程序性/义务性）决定了审核的核心逻辑和验证方向，请严格按类型对应的规则执行审核。具体要求如下：

---

### **一、任务目标**
根据给定的审核点（包含法规依据、类型、行为主体、核心要求、验证方式），检查用户提供的合同片段是否满足所有相关审核点的要求。审核点的类型（禁止性/程序性/义务性）将直接决定审核的**关注方向**和**验证规则**，需严格按类型逻辑执行判断，输出合规性结论及依据。

---

### **二、输入内容**
#### 1. 法规信息
法规名称: {{ .LawName }}

#### 2. 审核点列表
{{ range .CheckPoints }}
**审核点ID({{ .ID }}):**
- 审核点名称: {{ .Name }}
- 条款原文: {{ .RuleContent }}
- 类型: {{ .CheckType }}
- 行为主体: {{ .Subject }}
- 核心要求: {{ .Core }}
- 验证方式: {{ .CheckMethod }}
{{ end }}
#### 3. 待审核的合同片段
{{ range .Contents }}
**合同内容:**
{{ . }}

{{ end }}
---

### **三、审核逻辑说明（类型的核心作用）**
审核点的“类型”字段（禁止性/程序性/义务性）是本次审核的**核心逻辑开关**，具体作用如下：

| **类型**    | **审核逻辑方向**                                            | **验证重点** |
|------------|-----------------------------------------------------------|-----------------------------------------------------------------------------|
| **禁止性**  | 检查合同是否存在“禁止行为”或“违反禁止要求”的内容（如“不得做某事”）。  | 合同中是否包含禁止性表述（如“初始实缴≥1000万元”）；是否存在违反禁止的行为（如“初始实缴800万元”“短期赎回”）。|
| **程序性**  | 检查合同是否“规定了正确的流程或时限”（如“应该怎么做”）。            | 合同中是否明确了流程步骤（如“停止申购→清算”）；是否规定了时限（如“5个工作日内披露”）。  |
| **义务性**  | 检查合同是否“必须履行某类义务”（如“应当做某事”）。                 | 合同中是否明确规定了必须履行的义务（如“管理人需在5个工作日内披露”）；是否遗漏义务条款。  |

---

### **四、输出格式（严格按JSON输出，无额外解释）**
{"check_points": [{"id": 0, "check_type": "...", "judgment_basis": "...", "compliance_status": "合规|不合规|无法判断", "suggestion": "..."}]}
`))

type promptCheckPoint struct {
	ID          int64
	Name        string
	RuleContent string
	CheckType   string
	Subject     string
	Core        string
	CheckMethod string
}

type complianceVerdict struct {
	ID               int64  `json:"id"`
	CheckType        string `json:"check_type"`
	JudgmentBasis    string `json:"judgment_basis"`
	ComplianceStatus string `json:"compliance_status"`
	Suggestion       string `json:"suggestion"`
}

type complianceResponse struct {
	CheckPoints []complianceVerdict `json:"check_points"`
}

// checkCompliance judges the extracted snippets against one check point.
// Judgment bases mentioning 片段 numbering get a cleanup rewrite pass.
func (r *Runner) checkCompliance(ctx context.Context, cp *checkpoint.CheckPoint, lawName string, contents []string) (*complianceVerdict, error) {
	var sb strings.Builder
	err := complianceTpl.Execute(&sb, map[string]any{
		"LawName": lawName,
		"CheckPoints": []promptCheckPoint{{
			ID:          cp.ID,
			Name:        cp.DisplayName(),
			RuleContent: cp.RuleContent,
			CheckType:   cp.CheckType.String(),
			Subject:     cp.Subject,
			Core:        cp.Core,
			CheckMethod: cp.CheckMethod,
		}},
		"Contents": contents,
	})
	if err != nil {
		return nil, err
	}
	var resp complianceResponse
	if _, err := r.exec.Run(ctx, "check compliance", sb.String(), &resp, func() error {
		if len(resp.CheckPoints) == 0 {
			return errors.New("审核结论为空")
		}
		switch resp.CheckPoints[0].ComplianceStatus {
		case "合规", "不合规", "无法判断":
			return nil
		default:
			return fmt.Errorf("合规结论 %q 无效", resp.CheckPoints[0].ComplianceStatus)
		}
	}); err != nil {
		return nil, err
	}
	verdict := resp.CheckPoints[0]
	if strings.Contains(verdict.JudgmentBasis, "片段") {
		rewrite := fmt.Sprintf("移除下面文本中`片段`编号等相关字样，使语句通顺后返回。(可移除不必要部分)\n\n%s", verdict.JudgmentBasis)
		if cleaned, err := r.caller.GenerateJSON(ctx, rewrite); err == nil && strings.TrimSpace(cleaned) != "" {
			verdict.JudgmentBasis = strings.TrimSpace(cleaned)
		} else if err != nil {
			log.Printf("rewrite judgment basis: %v", err)
		}
	}
	return &verdict, nil
}

// JudgeCheckPoint runs the free-text judgment path. It never returns an
// error: every failure becomes a failed result with empty evidence.
func (r *Runner) JudgeCheckPoint(ctx context.Context, cp *checkpoint.CheckPoint, lawName string, snippets []Snippet) *JudgmentResult {
	res := newJudgmentResult(cp, lawName)
	res.RuleType = string(rulebook.KindSchema)

	verdict, err := r.judgeVerdict(ctx, cp, lawName, snippets)
	if err != nil {
		log.Printf("judge check point %d: %v", cp.ID, err)
		return failJudgment(res)
	}

	switch verdict.ComplianceStatus {
	case "合规":
		res.IsCompliance = boolPtr(true)
	case "不合规":
		res.IsCompliance = boolPtr(false)
	}
	res.IsComplianceAI = res.IsCompliance
	res.Reasons = []evaluate.Reason{{Type: evaluate.ReasonMatchSuccess, ReasonText: verdict.JudgmentBasis, Matched: true}}
	res.Suggestion = verdict.Suggestion
	res.SuggestionAI = verdict.Suggestion
	res.SchemaResults = snippetSchemaResults(cp.DisplayName(), snippets)
	res.OrderKey = orderKey(res.SchemaResults)
	res.JudgeStatus = StatusSuccess
	return res
}

func (r *Runner) judgeVerdict(ctx context.Context, cp *checkpoint.CheckPoint, lawName string, snippets []Snippet) (*complianceVerdict, error) {
	if cp.CheckMethod == "" {
		return nil, fmt.Errorf("check point %d has no check_method", cp.ID)
	}
	if len(snippets) == 0 {
		return nil, errors.New("no contract snippets extracted")
	}
	contents := make([]string, 0, len(snippets))
	for _, s := range snippets {
		contents = append(contents, s.Text)
	}
	return r.checkCompliance(ctx, cp, lawName, contents)
}

// JudgeTemplate runs the template comparison path over the parsed contract.
// Like the free-text path it never returns an error.
func (r *Runner) JudgeTemplate(ctx context.Context, cp *checkpoint.CheckPoint, lawName string, reader *interdoc.Reader) *JudgmentResult {
	res := newJudgmentResult(cp, lawName)
	res.RuleType = string(rulebook.KindTemplate)

	if cp.CheckMethod != "" || !cp.IsTemplate() {
		log.Printf("judge template %d: check point is not a template", cp.ID)
		return failJudgment(res)
	}
	rule := &rulebook.Rule{
		ID:     cp.ID,
		Name:   cp.DisplayName(),
		Kind:   rulebook.KindTemplate,
		Params: rulebook.Params{Groups: cp.Templates},
		Origin: []string{lawName, cp.RuleContent},
	}
	tree := answer.NewTree(nil, reader, nil, nil)
	out, err := r.evaluator.Evaluate(ctx, rule, tree)
	if err != nil {
		log.Printf("judge template %d: %v", cp.ID, err)
		return failJudgment(res)
	}
	res.IsCompliance = out.IsCompliance
	res.IsComplianceAI = out.IsCompliance
	res.Reasons = out.Reasons
	res.Suggestion = out.Suggestion
	res.SuggestionAI = out.Suggestion
	res.SchemaResults = out.SchemaResults
	res.OrderKey = orderKey(res.SchemaResults)
	res.JudgeStatus = StatusSuccess
	return res
}

func newJudgmentResult(cp *checkpoint.CheckPoint, lawName string) *JudgmentResult {
	return &JudgmentResult{
		CheckPointID:   cp.ID,
		Name:           cp.DisplayName(),
		OriginContents: []string{lawName, cp.RuleContent},
	}
}

// failJudgment fills the fixed failure shape: non-compliant verdict, the
// AI flag inverted, no evidence.
func failJudgment(res *JudgmentResult) *JudgmentResult {
	res.IsCompliance = boolPtr(false)
	res.IsComplianceAI = boolPtr(true)
	res.Reasons = []evaluate.Reason{}
	res.SchemaResults = nil
	res.Suggestion = ""
	res.SuggestionAI = ""
	res.JudgeStatus = StatusFailed
	return res
}

// snippetSchemaResults builds one result row per snippet box group; the row
// page is the lowest page the group touches.
func snippetSchemaResults(name string, snippets []Snippet) []answer.SchemaResult {
	var results []answer.SchemaResult
	for _, s := range snippets {
		if len(s.Outlines) == 0 {
			continue
		}
		page := 0
		for p := range s.Outlines {
			if page == 0 || p < page {
				page = p
			}
		}
		results = append(results, answer.SchemaResult{
			Name:     name,
			Matched:  true,
			Text:     s.Text,
			Page:     page,
			Outlines: s.Outlines,
		})
	}
	return results
}

// orderKey positions a judgment in document order from its earliest box:
// zero-padded page, top, left.
func orderKey(results []answer.SchemaResult) string {
	type position struct {
		page      int
		top, left float64
	}
	var best *position
	for _, sr := range results {
		boxes := sr.Outlines[sr.Page]
		if len(boxes) == 0 {
			continue
		}
		pos := position{page: sr.Page, top: boxes[0][1], left: boxes[0][0]}
		if best == nil || less(pos.page, pos.top, pos.left, best.page, best.top, best.left) {
			p := pos
			best = &p
		}
	}
	if best == nil {
		return ""
	}
	return fmt.Sprintf("%04d%04d%04d", best.page, int(best.top), int(best.left))
}

func less(page int, top, left float64, bPage int, bTop, bLeft float64) bool {
	if page != bPage {
		return page < bPage
	}
	if top != bTop {
		return top < bTop
	}
	return left < bLeft
}

func boolPtr(v bool) *bool { return &v }

// AsResult adapts a judgment into the common result envelope.
func (r *JudgmentResult) AsResult() *evaluate.Result {
	res := evaluate.NewFailedResult(r.Name, "", "", r.RuleType)
	res.IsCompliance = r.IsCompliance
	res.Reasons = r.Reasons
	res.Suggestion = r.Suggestion
	res.SchemaResults = r.SchemaResults
	res.OriginContents = r.OriginContents
	res.FID = r.FID
	return res
}

// SortJudgments orders results by their document position, empty keys last.
func SortJudgments(results []*JudgmentResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].OrderKey, results[j].OrderKey
		if (a == "") != (b == "") {
			return a != ""
		}
		return a < b
	})
}
