// Package evaluate executes one rule against one document's answers and
// parsed text, producing the structured result envelope listeners consume.
package evaluate

import (
	"github.com/google/uuid"
	"github.com/veridocs/inspection-engine/internal/answer"
	"github.com/veridocs/inspection-engine/internal/interdoc"
)

type ReasonType string

const (
	ReasonMatchSuccess    ReasonType = "match_success"
	ReasonMatchFailed     ReasonType = "match_failed"
	ReasonIgnoreCondition ReasonType = "ignore_condition"
	ReasonSchemaFailed    ReasonType = "schema_failed"
	ReasonNoMatch         ReasonType = "no_match"
	ReasonConflict        ReasonType = "tpl_conflict"
)

// DiffItem is one rendered diff row inside a template reason.
type DiffItem struct {
	HTML  string `json:"html"`
	Left  string `json:"left"`
	Right string `json:"right"`
	Type  string `json:"type"`
	IsTop bool   `json:"is_top,omitempty"`
}

// TemplateRef names the reference content a reason compared against.
type TemplateRef struct {
	Name         string `json:"name"`
	Content      string `json:"content"`
	ContentTitle string `json:"content_title,omitempty"`
}

type Reason struct {
	Type       ReasonType        `json:"type"`
	ReasonText string            `json:"reason_text"`
	Matched    bool              `json:"matched"`
	Page       int               `json:"page,omitempty"`
	Outlines   interdoc.Outlines `json:"outlines,omitempty"`
	XPath      string            `json:"xpath,omitempty"`
	Diff       []DiffItem        `json:"diff,omitempty"`
	Template   *TemplateRef      `json:"template,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
}

// Result is the outcome of one rule on one document. IsCompliance nil means
// the rule did not apply.
type Result struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	RelatedName    string                `json:"related_name,omitempty"`
	IsCompliance   *bool                 `json:"is_compliance"`
	Reasons        []Reason              `json:"reasons"`
	Suggestion     string                `json:"suggestion,omitempty"`
	SchemaID       int64                 `json:"schema_id,omitempty"`
	FID            int64                 `json:"fid"`
	SchemaResults  []answer.SchemaResult `json:"schema_results,omitempty"`
	Label          string                `json:"label,omitempty"`
	RuleType       string                `json:"rule_type"`
	OriginContents []string              `json:"origin_contents,omitempty"`
	ContractContent string               `json:"contract_content,omitempty"`
	RuleID         int64                 `json:"rule_id,omitempty"`
}

func newResult(name, relatedName, label, ruleType string) *Result {
	return &Result{
		ID:          uuid.NewString(),
		Name:        name,
		RelatedName: relatedName,
		Label:       label,
		RuleType:    ruleType,
	}
}

func compliant(v bool) *bool { return &v }

// NewFailedResult builds a non-compliant result envelope for callers
// outside the evaluator, such as the orchestrator wrapping a rule panic.
func NewFailedResult(name, relatedName, label, ruleType string) *Result {
	res := newResult(name, relatedName, label, ruleType)
	res.IsCompliance = compliant(false)
	return res
}

// Compliant reports whether the result verdict is an explicit pass.
func (r *Result) Compliant() bool { return r.IsCompliance != nil && *r.IsCompliance }

// NotApplicable reports whether the rule was skipped under its conditions.
func (r *Result) NotApplicable() bool { return r.IsCompliance == nil }
