// Package checkpoint synthesises executable check points from law clauses.
// Statute clauses go through focus-area analysis and a per-focus split
// prompt; template clauses become a single 范文 comparison check point.
package checkpoint

import (
	"errors"
	"fmt"

	"github.com/veridocs/inspection-engine/internal/rulebook"
)

// ClauseStatus tracks a clause through the conversion pipeline.
type ClauseStatus int

const (
	ClauseConvertFailed ClauseStatus = -10
	ClauseDisabled      ClauseStatus = 0
	ClauseInit          ClauseStatus = 1
	ClauseWaiting       ClauseStatus = 3
	ClauseConverting    ClauseStatus = 5
	ClauseConverted     ClauseStatus = 10
)

// ReviewStatus is the manual review state of a check point or its draft.
type ReviewStatus int

const (
	ReviewPending        ReviewStatus = 1
	ReviewRejected       ReviewStatus = 2
	ReviewApproved       ReviewStatus = 3
	ReviewDeletePending  ReviewStatus = 4
	ReviewDeleteRejected ReviewStatus = 5
)

// CheckType classifies the constraint a check point enforces.
type CheckType int

const (
	CheckForbidden  CheckType = -1 // 禁止性
	CheckProcedural CheckType = 0  // 程序性
	CheckRequired   CheckType = 1  // 义务性
)

var checkTypeLabels = map[CheckType]string{
	CheckForbidden:  "禁止性",
	CheckProcedural: "程序性",
	CheckRequired:   "义务性",
}

func (t CheckType) String() string {
	if label, ok := checkTypeLabels[t]; ok {
		return label
	}
	return fmt.Sprintf("CheckType(%d)", int(t))
}

// ParseCheckType maps a model-emitted label to its check type. The label
// "无" marks a candidate that should be dropped and is not parseable.
func ParseCheckType(label string) (CheckType, bool) {
	for t, l := range checkTypeLabels {
		if l == label {
			return t, true
		}
	}
	return 0, false
}

// Clause is one splittable unit of a law, as stored by the law pipeline.
type Clause struct {
	ID        int64
	OrderID   int64
	LawID     int64
	LawName   string
	Content   string
	Template  bool
	Enabled   bool
	Status    ClauseStatus
	Prompt    string
	Keywords  []string
	MatchAll  bool
	Scenarios []string
}

// FilterByKeywords keeps only the snippets containing the clause keywords:
// all of them when MatchAll is set, any of them otherwise. No keywords
// means no filtering.
func (c *Clause) FilterByKeywords(snippets []string, contains func(snippet, keyword string) bool) []string {
	if len(c.Keywords) == 0 {
		return snippets
	}
	var kept []string
	for _, snippet := range snippets {
		matched := 0
		for _, keyword := range c.Keywords {
			if contains(snippet, keyword) {
				matched++
				if !c.MatchAll {
					break
				}
			}
		}
		if (c.MatchAll && matched == len(c.Keywords)) || (!c.MatchAll && matched > 0) {
			kept = append(kept, snippet)
		}
	}
	return kept
}

// CheckPoint is one executable audit point derived from a clause. Exactly
// one of CheckMethod and Templates carries the verification: free-text
// check points describe how to verify, template check points carry the
// reference groups to diff against.
type CheckPoint struct {
	ID              int64
	OrderID         int64
	LawID           int64
	ClauseID        int64
	RuleContent     string
	Name            string
	AliasName       string
	Subject         string
	CheckType       CheckType
	Core            string
	CheckMethod     string
	Templates       []rulebook.TemplateGroup
	ReviewStatus    ReviewStatus
	Enabled         bool
	ParentID        int64
	Abandoned       bool
	AbandonedReason string
	Scenarios       []string
}

// DisplayName prefers the manually assigned alias.
func (cp *CheckPoint) DisplayName() string {
	if cp.AliasName != "" {
		return cp.AliasName
	}
	return cp.Name
}

// IsTemplate reports whether the check point verifies by template diff
// rather than by free-text judgment.
func (cp *CheckPoint) IsTemplate() bool {
	return len(cp.Templates) > 0
}

// Validate rejects check points carrying both a verification method and
// template groups; the two verification paths are mutually exclusive.
func (cp *CheckPoint) Validate() error {
	if cp.CheckMethod != "" && len(cp.Templates) > 0 {
		return errors.New("check point carries both check_method and templates")
	}
	return nil
}

// ValidateScenarios rejects scenarios outside the clause's own scenario
// set.
func (cp *CheckPoint) ValidateScenarios(clause *Clause) error {
	allowed := make(map[string]bool, len(clause.Scenarios))
	for _, s := range clause.Scenarios {
		allowed[s] = true
	}
	for _, s := range cp.Scenarios {
		if !allowed[s] {
			return fmt.Errorf("scenario %q not among the clause scenarios", s)
		}
	}
	return nil
}

// templateCore is the fixed verification description of a template check
// point.
const templateCore = "检查合同中的内容，需与范文/法规保持一致"

// newTemplateCheckPoint builds the single 范文 check point for a template
// clause; name, subject and check type come from the naming prompt.
func newTemplateCheckPoint(clause *Clause) *CheckPoint {
	return &CheckPoint{
		OrderID:     clause.OrderID,
		LawID:       clause.LawID,
		ClauseID:    clause.ID,
		RuleContent: clause.Content,
		Core:        templateCore,
		Templates: []rulebook.TemplateGroup{
			{
				Label: "范文",
				Contents: []rulebook.TemplateContent{
					{Chapters: nil, DiffContext: false, Content: clause.Content},
				},
			},
		},
		ReviewStatus: ReviewPending,
	}
}
