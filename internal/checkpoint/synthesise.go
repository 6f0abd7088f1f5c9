package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/veridocs/inspection-engine/internal/lawsplit"
	"github.com/veridocs/inspection-engine/internal/llm"
)

// DefaultAbandonReason marks check points replaced by a re-conversion.
const DefaultAbandonReason = "重新转换审核规则"

// Store is the persistence slice the synthesiser needs.
type Store interface {
	ClauseByID(ctx context.Context, id int64) (*Clause, error)
	// BeginConvert flips a waiting clause to converting and reports
	// whether the flip happened.
	BeginConvert(ctx context.Context, id int64) (bool, error)
	SetClauseStatus(ctx context.Context, id int64, status ClauseStatus) error
	SetClauseScenarios(ctx context.Context, id int64, scenarios []string) error
	ScenarioNames(ctx context.Context, orderID int64) ([]string, error)
	// ReplaceCheckPoints abandons the clause's live check points, inserts
	// the new batch with the clause's scenarios, and marks the clause
	// converted, all in one transaction.
	ReplaceCheckPoints(ctx context.Context, clause *Clause, reason string, cps []*CheckPoint) error
}

type Synthesiser struct {
	exec  *llm.Executor
	store Store
}

func NewSynthesiser(exec *llm.Executor, store Store) *Synthesiser {
	return &Synthesiser{exec: exec, store: store}
}

type scenarioResponse struct {
	Scenarios []string `json:"scenarios"`
}

type keywordsResponse struct {
	Keywords []string `json:"keywords"`
}

type focusPoint struct {
	FocusName string `json:"focus_name"`
	FocusCore string `json:"focus_core"`
	FocusRisk string `json:"focus_risk"`
}

type focusAnalysis struct {
	LawName     string       `json:"law_name"`
	RuleContent string       `json:"rule_content"`
	Scenario    string       `json:"scenario"`
	FocusArea   []focusPoint `json:"focus_area"`
}

type candidate struct {
	FocusName     string `json:"focus_name"`
	CheckType     string `json:"check_type"`
	Subject       string `json:"subject"`
	LawName       string `json:"law_name"`
	RuleContent   string `json:"rule_content"`
	FocusCore     string `json:"focus_core"`
	CheckMethod   string `json:"check_method"`
	ExcludeReason string `json:"exclude_reason"`
}

type splitResponse struct {
	CheckPoints []candidate `json:"check_points"`
}

type templateNaming struct {
	FocusName string `json:"focus_name"`
	Subject   string `json:"subject"`
	CheckType string `json:"check_type"`
}

// DetermineScenarios picks the applicable scenarios for one clause out of
// the catalogue's scenario list. Failures fall back to all scenarios.
func (s *Synthesiser) DetermineScenarios(ctx context.Context, content string, scenarios []string) []string {
	if len(scenarios) <= 1 {
		return scenarios
	}
	prompt := renderPrompt(scenarioTpl, map[string]string{
		"Scenarios":   strings.Join(scenarios, ","),
		"RuleContent": content,
	})
	var resp scenarioResponse
	if _, err := s.exec.Run(ctx, "determine scenarios", prompt, &resp, func() error {
		allowed := make(map[string]bool, len(scenarios))
		for _, name := range scenarios {
			allowed[name] = true
		}
		for _, name := range resp.Scenarios {
			if !allowed[name] {
				return fmt.Errorf("场景 %q 不在场景列表中", name)
			}
		}
		return nil
	}); err != nil {
		log.Printf("determine scenarios failed, keeping all: %v", err)
		return scenarios
	}
	if len(resp.Scenarios) == 0 {
		return scenarios
	}
	return resp.Scenarios
}

// ExtractKeywords asks for search keywords for one clause. Failures return
// an empty list.
func (s *Synthesiser) ExtractKeywords(ctx context.Context, content string) []string {
	prompt := renderPrompt(keywordsTpl, map[string]string{"RuleContent": content})
	var resp keywordsResponse
	if _, err := s.exec.Run(ctx, "extract keywords", prompt, &resp, func() error { return nil }); err != nil {
		log.Printf("extract keywords failed: %v", err)
		return nil
	}
	return resp.Keywords
}

// Convert turns one clause into its check points. The waiting→converting
// flip guards against concurrent conversions; any failure, including an
// empty synthesis, leaves the clause in the convert-failed state.
func (s *Synthesiser) Convert(ctx context.Context, clauseID int64, abandonReason string) error {
	if abandonReason == "" {
		abandonReason = DefaultAbandonReason
	}
	flipped, err := s.store.BeginConvert(ctx, clauseID)
	if err != nil {
		return fmt.Errorf("begin convert clause %d: %w", clauseID, err)
	}
	if !flipped {
		log.Printf("skip convert clause %d: not waiting", clauseID)
		return nil
	}

	clause, err := s.store.ClauseByID(ctx, clauseID)
	if err != nil {
		return fmt.Errorf("load clause %d: %w", clauseID, err)
	}
	if len(clause.Scenarios) == 0 {
		if names, err := s.store.ScenarioNames(ctx, clause.OrderID); err == nil && len(names) > 0 {
			clause.Scenarios = s.DetermineScenarios(ctx, clause.Content, names)
			if err := s.store.SetClauseScenarios(ctx, clause.ID, clause.Scenarios); err != nil {
				log.Printf("save clause %d scenarios: %v", clause.ID, err)
			}
		}
	}

	cps, err := s.synthesise(ctx, clause)
	if err == nil && len(cps) == 0 {
		err = errors.New("no check points synthesised")
	}
	if err != nil {
		if setErr := s.store.SetClauseStatus(ctx, clause.ID, ClauseConvertFailed); setErr != nil {
			log.Printf("mark clause %d convert failed: %v", clause.ID, setErr)
		}
		return fmt.Errorf("convert clause %d: %w", clause.ID, err)
	}
	if err := s.store.ReplaceCheckPoints(ctx, clause, abandonReason, cps); err != nil {
		if setErr := s.store.SetClauseStatus(ctx, clause.ID, ClauseConvertFailed); setErr != nil {
			log.Printf("mark clause %d convert failed: %v", clause.ID, setErr)
		}
		return fmt.Errorf("persist check points for clause %d: %w", clause.ID, err)
	}
	return nil
}

func (s *Synthesiser) synthesise(ctx context.Context, clause *Clause) ([]*CheckPoint, error) {
	if clause.Template {
		cp, err := s.synthesiseTemplate(ctx, clause)
		if err != nil {
			return nil, err
		}
		return []*CheckPoint{cp}, nil
	}
	return s.synthesiseStatute(ctx, clause)
}

// synthesiseTemplate names the single 范文 check point of a template
// clause.
func (s *Synthesiser) synthesiseTemplate(ctx context.Context, clause *Clause) (*CheckPoint, error) {
	cp := newTemplateCheckPoint(clause)
	prompt := renderPrompt(fillTemplateTpl, map[string]string{"RuleContent": clause.Content})
	var naming templateNaming
	if _, err := s.exec.Run(ctx, "name template check point", prompt, &naming, func() error {
		if naming.FocusName == "" {
			return errors.New("领域名称为空")
		}
		if _, ok := ParseCheckType(naming.CheckType); !ok {
			return fmt.Errorf("约束类型 %q 无效", naming.CheckType)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	cp.Name = naming.FocusName
	cp.Subject = naming.Subject
	cp.CheckType, _ = ParseCheckType(naming.CheckType)
	return cp, nil
}

// synthesiseStatute runs focus-area analysis and one split prompt per
// focus, dropping candidates the model marked 无 and repairing article
// prefixes from the source clause.
func (s *Synthesiser) synthesiseStatute(ctx context.Context, clause *Clause) ([]*CheckPoint, error) {
	scenario := strings.Join(clause.Scenarios, "、")
	analysisPrompt := renderPrompt(focusAreaTpl, map[string]string{
		"Scenario":    scenario,
		"LawName":     clause.LawName,
		"RuleContent": clause.Content,
		"Method":      "提取",
	})
	var analysis focusAnalysis
	if _, err := s.exec.Run(ctx, "analyse focus areas", analysisPrompt, &analysis, func() error {
		if len(analysis.FocusArea) == 0 {
			return errors.New("关注领域为空")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	prefix := lawsplit.ArticlePrefix(clause.Content)
	var cps []*CheckPoint
	for _, focus := range analysis.FocusArea {
		candidates, err := s.splitFocus(ctx, clause, scenario, focus)
		if err != nil {
			return nil, err
		}
		for _, c := range candidates {
			checkType, ok := ParseCheckType(c.CheckType)
			if !ok {
				log.Printf("drop candidate %q: check type %q", c.FocusName, c.CheckType)
				continue
			}
			cps = append(cps, &CheckPoint{
				OrderID:      clause.OrderID,
				LawID:        clause.LawID,
				ClauseID:     clause.ID,
				RuleContent:  lawsplit.RepairArticlePrefix(prefix, c.RuleContent),
				Name:         c.FocusName,
				Subject:      c.Subject,
				CheckType:    checkType,
				Core:         c.FocusCore,
				CheckMethod:  c.CheckMethod,
				ReviewStatus: ReviewPending,
			})
		}
	}
	return cps, nil
}

func (s *Synthesiser) splitFocus(ctx context.Context, clause *Clause, scenario string, focus focusPoint) ([]candidate, error) {
	prompt := renderPrompt(splitCheckPointTpl, map[string]string{
		"LawName":     clause.LawName,
		"RuleContent": clause.Content,
		"Scenario":    scenario,
		"FocusName":   focus.FocusName,
		"FocusCore":   focus.FocusCore,
		"FocusRisk":   focus.FocusRisk,
	})
	var resp splitResponse
	if _, err := s.exec.Run(ctx, "split check points", prompt, &resp, func() error { return nil }); err != nil {
		return nil, err
	}
	return resp.CheckPoints, nil
}
