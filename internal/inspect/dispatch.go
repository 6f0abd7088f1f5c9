package inspect

import (
	"context"
	"fmt"

	"github.com/veridocs/inspection-engine/internal/checkpoint"
	"github.com/veridocs/inspection-engine/internal/evaluate"
	"github.com/veridocs/inspection-engine/internal/interdoc"
	"github.com/veridocs/inspection-engine/internal/judge"
	"github.com/veridocs/inspection-engine/internal/rulebook"
	"github.com/veridocs/inspection-engine/internal/store"
)

// CheckPointSource resolves the definitions behind a checkpoint rule.
type CheckPointSource interface {
	CheckPointByID(ctx context.Context, id int64) (*checkpoint.CheckPoint, error)
	ClauseByID(ctx context.Context, id int64) (*checkpoint.Clause, error)
	LawOrderByID(ctx context.Context, id int64) (*store.LawOrder, error)
}

// JudgeDispatcher routes checkpoint rules through the judgment runner so an
// inspection run carries their verdicts inline.
type JudgeDispatcher struct {
	runner *judge.Runner
	source CheckPointSource
}

func NewJudgeDispatcher(runner *judge.Runner, source CheckPointSource) *JudgeDispatcher {
	return &JudgeDispatcher{runner: runner, source: source}
}

var _ RuleJudge = (*JudgeDispatcher)(nil)

func (d *JudgeDispatcher) JudgeRule(ctx context.Context, doc *store.Document, rule *rulebook.Rule) (*evaluate.Result, error) {
	cp, err := d.source.CheckPointByID(ctx, rule.Params.CheckPointID)
	if err != nil {
		return nil, err
	}
	order, err := d.source.LawOrderByID(ctx, cp.OrderID)
	if err != nil {
		return nil, err
	}

	var judgment *judge.JudgmentResult
	if cp.IsTemplate() {
		idoc, err := interdoc.OpenArchive(doc.Interdoc)
		if err != nil {
			return nil, fmt.Errorf("open interdoc: %w", err)
		}
		judgment = d.runner.JudgeTemplate(ctx, cp, order.Name, interdoc.NewReader(idoc))
	} else {
		clause, err := d.source.ClauseByID(ctx, cp.ClauseID)
		if err != nil {
			return nil, err
		}
		snippets, err := d.runner.ExtractSnippets(ctx, doc.UploadID, clause)
		if err != nil {
			return nil, fmt.Errorf("extract snippets: %w", err)
		}
		judgment = d.runner.JudgeCheckPoint(ctx, cp, order.Name, snippets)
	}
	judgment.FID = doc.ID

	res := judgment.AsResult()
	res.RuleID = rule.ID
	res.Label = rule.Label
	return res, nil
}
