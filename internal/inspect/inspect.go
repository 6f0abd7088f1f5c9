// Package inspect orchestrates one inspection run: load the document's
// answers and parsed text, evaluate the rule catalogue, persist the result
// batch atomically, and notify downstream sinks.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/veridocs/inspection-engine/internal/answer"
	"github.com/veridocs/inspection-engine/internal/evaluate"
	"github.com/veridocs/inspection-engine/internal/interdoc"
	"github.com/veridocs/inspection-engine/internal/rulebook"
	"github.com/veridocs/inspection-engine/internal/store"
)

// Repository is the persistence slice one inspection run needs.
type Repository interface {
	DocumentByID(ctx context.Context, id int64) (*store.Document, error)
	ReplaceResults(ctx context.Context, fid, schemaID int64, answerType int, results []*evaluate.Result) error
	SetAuditStatus(ctx context.Context, documentID int64, status store.AuditStatus) error
}

// TreeSource loads a document's answer tree.
type TreeSource interface {
	Tree(ctx context.Context, doc *store.Document) (*answer.Tree, error)
}

// CatalogueSource loads the rule catalogue for a schema.
type CatalogueSource interface {
	Catalogue(ctx context.Context, schemaID int64, filter rulebook.FilterSpec) (*rulebook.Catalogue, error)
}

// RuleJudge runs a checkpoint rule through the judgment pipeline; wired to
// the judge runner in production, nil when judgments are run separately.
type RuleJudge interface {
	JudgeRule(ctx context.Context, doc *store.Document, rule *rulebook.Rule) (*evaluate.Result, error)
}

// AnswerTypeAI marks engine-produced result batches; user-edited batches
// use separate answer types and are never touched by a run.
const AnswerTypeAI = 0

type Inspector struct {
	repo       Repository
	trees      TreeSource
	catalogues CatalogueSource
	evaluator  *evaluate.Evaluator
	registry   *evaluate.Registry
	judge      RuleJudge
	sinks      []Sink

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewInspector(repo Repository, trees TreeSource, catalogues CatalogueSource, evaluator *evaluate.Evaluator, registry *evaluate.Registry) *Inspector {
	return &Inspector{
		repo:       repo,
		trees:      trees,
		catalogues: catalogues,
		evaluator:  evaluator,
		registry:   registry,
		locks:      map[string]*sync.Mutex{},
	}
}

// WithJudge wires the checkpoint-rule dispatcher.
func (ins *Inspector) WithJudge(j RuleJudge) *Inspector {
	ins.judge = j
	return ins
}

// WithSinks registers downstream notification sinks.
func (ins *Inspector) WithSinks(sinks ...Sink) *Inspector {
	ins.sinks = append(ins.sinks, sinks...)
	return ins
}

// runLock serialises concurrent inspections of the same (document, schema)
// so the persisted row set always comes from exactly one run.
func (ins *Inspector) runLock(documentID, schemaID int64) *sync.Mutex {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	key := fmt.Sprintf("%d/%d", documentID, schemaID)
	l, ok := ins.locks[key]
	if !ok {
		l = &sync.Mutex{}
		ins.locks[key] = l
	}
	return l
}

// Inspect evaluates the catalogue against one document and persists the
// batch. Result order matches catalogue enumeration order; evaluator panics
// and errors become failed results rather than aborting the run.
func (ins *Inspector) Inspect(ctx context.Context, documentID, schemaID int64, labels []string) ([]*evaluate.Result, error) {
	l := ins.runLock(documentID, schemaID)
	l.Lock()
	defer l.Unlock()

	doc, err := ins.repo.DocumentByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	tree, err := ins.trees.Tree(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("load answers for document %d: %w", documentID, err)
	}
	catalogue, err := ins.catalogues.Catalogue(ctx, schemaID, rulebook.FilterSpec{Labels: labels})
	if err != nil {
		return nil, fmt.Errorf("load catalogue for schema %d: %w", schemaID, err)
	}

	results := make([]*evaluate.Result, 0, len(catalogue.Rules()))
	for _, batch := range catalogue.Batches() {
		for _, rule := range batch {
			res := ins.evaluateRule(ctx, doc, rule, tree)
			res.FID = documentID
			res.SchemaID = schemaID
			results = append(results, res)
		}
	}

	if err := ins.repo.ReplaceResults(ctx, documentID, schemaID, AnswerTypeAI, results); err != nil {
		return nil, fmt.Errorf("persist results: %w", err)
	}
	status := RollupAuditStatus(results)
	if err := ins.repo.SetAuditStatus(ctx, documentID, status); err != nil {
		return nil, fmt.Errorf("update audit status: %w", err)
	}

	ins.notify(ctx, doc, results)
	return results, nil
}

// evaluateRule never lets a single rule abort the batch.
func (ins *Inspector) evaluateRule(ctx context.Context, doc *store.Document, rule *rulebook.Rule, tree *answer.Tree) (res *evaluate.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rule %q panicked: %v", rule.Name, r)
			res = failedResult(rule, fmt.Sprintf("panic: %v", r))
		}
	}()

	var err error
	switch rule.Kind {
	case rulebook.KindSchema:
		res, err = ins.registry.Run(rule, tree)
	case rulebook.KindCheckPoint:
		if ins.judge == nil {
			err = fmt.Errorf("no judge wired for checkpoint rule %q", rule.Name)
		} else {
			res, err = ins.judge.JudgeRule(ctx, doc, rule)
		}
	case rulebook.KindExternal:
		res = externalPending(rule)
	default:
		res, err = ins.evaluator.Evaluate(ctx, rule, tree)
	}
	if err != nil {
		log.Printf("rule %q failed: %v", rule.Name, err)
		return failedResult(rule, err.Error())
	}
	return res
}

func failedResult(rule *rulebook.Rule, detail string) *evaluate.Result {
	res := evaluate.NewFailedResult(rule.Name, rule.RelatedName, rule.Label, string(rule.Kind))
	res.RuleID = rule.ID
	res.OriginContents = rule.Origin
	res.Reasons = append(res.Reasons, evaluate.Reason{
		Type:       evaluate.ReasonSchemaFailed,
		ReasonText: fmt.Sprintf("规则执行失败：%s", detail),
	})
	return res
}

// externalPending marks externally computed rules so downstream systems
// fill them in; they never fail an inspection.
func externalPending(rule *rulebook.Rule) *evaluate.Result {
	res := evaluate.NewFailedResult(rule.Name, rule.RelatedName, rule.Label, string(rule.Kind))
	res.RuleID = rule.ID
	res.IsCompliance = nil
	res.Reasons = []evaluate.Reason{{Type: evaluate.ReasonIgnoreCondition, ReasonText: "待外部系统回填"}}
	return res
}

// RollupAuditStatus folds a result batch into the document verdict: any
// explicit failure dominates, passes beat not-applicable, an all-N/A batch
// stays N/A.
func RollupAuditStatus(results []*evaluate.Result) store.AuditStatus {
	if len(results) == 0 {
		return store.AuditPending
	}
	sawCompliant := false
	for _, res := range results {
		if res.NotApplicable() {
			continue
		}
		if !res.Compliant() {
			return store.AuditNonCompliant
		}
		sawCompliant = true
	}
	if sawCompliant {
		return store.AuditCompliant
	}
	return store.AuditNA
}

// FileTreeSource loads answers and the parsed document from local paths:
// the document's interdoc archive plus a sibling answers JSON.
type FileTreeSource struct {
	// AnswersPath maps a document to its stored answer items file.
	AnswersPath func(doc *store.Document) string
}

func (f *FileTreeSource) Tree(ctx context.Context, doc *store.Document) (*answer.Tree, error) {
	idoc, err := interdoc.OpenArchive(doc.Interdoc)
	if err != nil {
		return nil, fmt.Errorf("open interdoc: %w", err)
	}
	raw, err := os.ReadFile(f.AnswersPath(doc))
	if err != nil {
		return nil, fmt.Errorf("read answers: %w", err)
	}
	var items []*answer.Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return answer.NewTree(items, interdoc.NewReader(idoc), nil, nil), nil
}
