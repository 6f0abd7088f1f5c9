package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/veridocs/inspection-engine/internal/checkpoint"
	"github.com/veridocs/inspection-engine/internal/evaluate"
	"github.com/veridocs/inspection-engine/internal/judge"
	"github.com/veridocs/inspection-engine/internal/rulebook"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedLaw(t *testing.T, st *Store) (*LawOrder, *Law) {
	t.Helper()
	ctx := context.Background()
	order := &LawOrder{Name: "私募投资基金备案须知", Scenarios: []string{"证券类", "股权类"}}
	if err := st.SaveLawOrder(ctx, order); err != nil {
		t.Fatal(err)
	}
	law := &Law{OrderID: order.ID, Name: "备案须知 2019", Hash: "abc123", Current: true, Status: LawParsed}
	if err := st.SaveLaw(ctx, law); err != nil {
		t.Fatal(err)
	}
	return order, law
}

func TestDocumentRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	doc := &Document{Name: "示范基金合同.pdf", UploadID: "up-1", SchemaID: 3, Interdoc: "/data/1.zip"}
	if err := st.SaveDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if doc.ID == 0 {
		t.Fatal("id not assigned")
	}

	got, err := st.DocumentByID(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != doc.Name || got.UploadID != "up-1" || got.SchemaID != 3 {
		t.Errorf("got %+v", got)
	}
	if got.AuditStatus != AuditPending {
		t.Errorf("new document defaults to pending, got %s", got.AuditStatus)
	}
	if !got.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, doc.CreatedAt)
	}

	if _, err := st.DocumentByID(ctx, 999); err == nil {
		t.Error("missing document must error")
	}
}

func TestPendingDocuments(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		doc := &Document{Name: name}
		if err := st.SaveDocument(ctx, doc); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, doc.ID)
	}
	if err := st.SetAuditStatus(ctx, ids[0], AuditCompliant); err != nil {
		t.Fatal(err)
	}

	docs, err := st.PendingDocuments(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].ID != ids[1] || docs[1].ID != ids[2] {
		t.Errorf("pending = %+v", docs)
	}

	docs, err = st.PendingDocuments(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Errorf("limit ignored, got %d", len(docs))
	}
}

func TestLawOrderRanks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first := &LawOrder{Name: "第一目录"}
	second := &LawOrder{Name: "第二目录", Scenarios: []string{"证券类"}}
	if err := st.SaveLawOrder(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveLawOrder(ctx, second); err != nil {
		t.Fatal(err)
	}
	if first.Rank != 1 || second.Rank != 2 {
		t.Errorf("ranks = %d, %d", first.Rank, second.Rank)
	}

	got, err := st.LawOrderByID(ctx, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "第二目录" || len(got.Scenarios) != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestReplaceClauses(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	order, law := seedLaw(t, st)

	ids, err := st.ReplaceClauses(ctx, law, []string{"第一条　条款一。", "第二条　条款二。"}, order.Scenarios)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids", len(ids))
	}

	clauses, err := st.ClausesByLaw(ctx, law.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(clauses) != 2 {
		t.Fatalf("got %d clauses", len(clauses))
	}
	c := clauses[0]
	if c.Content != "第一条　条款一。" || c.Status != checkpoint.ClauseInit || c.Enabled {
		t.Errorf("clause = %+v", c)
	}
	if c.LawName != law.Name || len(c.Scenarios) != 2 {
		t.Errorf("joined fields = %q %v", c.LawName, c.Scenarios)
	}

	// A re-split soft-deletes the previous set.
	if _, err := st.ReplaceClauses(ctx, law, []string{"第一条　新条款。"}, order.Scenarios); err != nil {
		t.Fatal(err)
	}
	clauses, err = st.ClausesByLaw(ctx, law.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(clauses) != 1 || clauses[0].Content != "第一条　新条款。" {
		t.Errorf("clauses after re-split = %+v", clauses)
	}
	if _, err := st.ClauseByID(ctx, ids[0]); err == nil {
		t.Error("soft-deleted clause must not resolve")
	}
}

func TestClauseConvertLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	order, law := seedLaw(t, st)
	ids, err := st.ReplaceClauses(ctx, law, []string{"第一条　条款。"}, order.Scenarios)
	if err != nil {
		t.Fatal(err)
	}
	id := ids[0]

	// Not yet waiting: the flip must lose.
	if won, err := st.BeginConvert(ctx, id); err != nil || won {
		t.Fatalf("flip on init clause: won=%v err=%v", won, err)
	}

	if err := st.EnableClause(ctx, id); err != nil {
		t.Fatal(err)
	}
	clause, err := st.ClauseByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !clause.Enabled || clause.Status != checkpoint.ClauseWaiting {
		t.Errorf("enabled clause = %+v", clause)
	}

	won, err := st.BeginConvert(ctx, id)
	if err != nil || !won {
		t.Fatalf("first flip: won=%v err=%v", won, err)
	}
	won, err = st.BeginConvert(ctx, id)
	if err != nil || won {
		t.Fatalf("second flip must lose: won=%v err=%v", won, err)
	}

	if err := st.SetClauseKeywords(ctx, id, []string{"备案", "管理人"}, true); err != nil {
		t.Fatal(err)
	}
	clause, err = st.ClauseByID(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(clause.Keywords) != 2 || !clause.MatchAll {
		t.Errorf("keywords = %v matchAll=%v", clause.Keywords, clause.MatchAll)
	}
}

func newCheckPoint(clause *checkpoint.Clause, name string) *checkpoint.CheckPoint {
	return &checkpoint.CheckPoint{
		OrderID:      clause.OrderID,
		LawID:        clause.LawID,
		ClauseID:     clause.ID,
		RuleContent:  clause.Content,
		Name:         name,
		CheckType:    checkpoint.CheckRequired,
		CheckMethod:  "检查合同条款",
		ReviewStatus: checkpoint.ReviewPending,
		Enabled:      true,
	}
}

func TestReplaceCheckPoints(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	order, law := seedLaw(t, st)
	ids, err := st.ReplaceClauses(ctx, law, []string{"第一条　条款。"}, order.Scenarios)
	if err != nil {
		t.Fatal(err)
	}
	clause, err := st.ClauseByID(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}

	first := newCheckPoint(clause, "审核点一")
	if err := st.ReplaceCheckPoints(ctx, clause, "初次转换", []*checkpoint.CheckPoint{first}); err != nil {
		t.Fatal(err)
	}
	if first.ID == 0 {
		t.Fatal("check point id not assigned")
	}
	got, err := st.CheckPointByID(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "审核点一" || len(got.Scenarios) != 2 {
		t.Errorf("got %+v", got)
	}
	clause, _ = st.ClauseByID(ctx, clause.ID)
	if clause.Status != checkpoint.ClauseConverted {
		t.Errorf("clause status = %d", clause.Status)
	}

	second := newCheckPoint(clause, "审核点二")
	if err := st.ReplaceCheckPoints(ctx, clause, "重新转换审核规则", []*checkpoint.CheckPoint{second}); err != nil {
		t.Fatal(err)
	}
	got, err = st.CheckPointByID(ctx, first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Abandoned || got.AbandonedReason != "重新转换审核规则" {
		t.Errorf("replaced check point = %+v", got)
	}
}

func TestActiveCheckPointsScenarioFilter(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	order, law := seedLaw(t, st)
	ids, err := st.ReplaceClauses(ctx, law, []string{"第一条　条款。"}, order.Scenarios)
	if err != nil {
		t.Fatal(err)
	}
	clause, err := st.ClauseByID(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}

	securities := newCheckPoint(clause, "证券类审核点")
	equity := newCheckPoint(clause, "股权类审核点")
	disabled := newCheckPoint(clause, "停用审核点")
	disabled.Enabled = false

	clause.Scenarios = []string{"证券类"}
	if err := st.ReplaceCheckPoints(ctx, clause, "", []*checkpoint.CheckPoint{securities, disabled}); err != nil {
		t.Fatal(err)
	}
	// Second clause for the other scenario.
	ids2, err := st.ReplaceClauses(ctx, &Law{ID: law.ID + 100, OrderID: order.ID}, []string{"第二条　条款。"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	clause2 := &checkpoint.Clause{ID: ids2[0], OrderID: order.ID, LawID: law.ID + 100, Scenarios: []string{"股权类"}}
	if err := st.ReplaceCheckPoints(ctx, clause2, "", []*checkpoint.CheckPoint{equity}); err != nil {
		t.Fatal(err)
	}

	all, err := st.ActiveCheckPoints(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all active = %d, want 2", len(all))
	}
	sec, err := st.ActiveCheckPoints(ctx, "证券类")
	if err != nil {
		t.Fatal(err)
	}
	if len(sec) != 1 || sec[0].Name != "证券类审核点" {
		t.Errorf("filtered = %+v", sec)
	}
}

func TestDraftLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	parent := &checkpoint.CheckPoint{
		OrderID: 1, LawID: 1, ClauseID: 1,
		RuleContent: "第一条　条款。", Name: "审核点",
		CheckMethod:  "检查条款",
		ReviewStatus: checkpoint.ReviewApproved,
		Enabled:      true,
	}
	if _, err := st.InsertDraft(ctx, parent); err != nil {
		t.Fatal(err)
	}
	if d, err := st.DraftOf(ctx, parent.ID); err != nil || d != nil {
		t.Fatalf("no draft yet: %v %v", d, err)
	}

	draft := &checkpoint.CheckPoint{
		OrderID: 1, LawID: 1, ClauseID: 1,
		RuleContent: "第一条　修订条款。", Name: "审核点（修订）",
		CheckMethod:  "检查修订条款",
		ReviewStatus: checkpoint.ReviewPending,
		ParentID:     parent.ID,
	}
	if _, err := st.InsertDraft(ctx, draft); err != nil {
		t.Fatal(err)
	}
	found, err := st.DraftOf(ctx, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if found == nil || found.ID != draft.ID {
		t.Fatalf("draft lookup = %+v", found)
	}

	if err := st.PromoteDraft(ctx, parent, draft); err != nil {
		t.Fatal(err)
	}
	got, err := st.CheckPointByID(ctx, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "审核点（修订）" || got.ReviewStatus != checkpoint.ReviewApproved {
		t.Errorf("promoted parent = %+v", got)
	}
	if _, err := st.CheckPointByID(ctx, draft.ID); err == nil {
		t.Error("promoted draft must be gone")
	}

	if err := st.DeleteCheckPoint(ctx, parent.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CheckPointByID(ctx, parent.ID); err == nil {
		t.Error("deleted check point must not resolve")
	}
}

func TestCheckPointTemplatesRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	cp := &checkpoint.CheckPoint{
		OrderID: 1, LawID: 1, ClauseID: 1,
		RuleContent: "基金名称：XX基金。",
		Name:        "范文核对",
		Templates: []rulebook.TemplateGroup{{
			Label:    "范文",
			Contents: []rulebook.TemplateContent{{Content: "基金名称：XX基金。"}},
		}},
		ReviewStatus: checkpoint.ReviewPending,
	}
	if _, err := st.InsertDraft(ctx, cp); err != nil {
		t.Fatal(err)
	}
	got, err := st.CheckPointByID(ctx, cp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsTemplate() || got.Templates[0].Label != "范文" {
		t.Errorf("templates = %+v", got.Templates)
	}
	if got.Templates[0].Contents[0].Content != "基金名称：XX基金。" {
		t.Errorf("content = %q", got.Templates[0].Contents[0].Content)
	}
}

func TestReplaceResults(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	batch := []*evaluate.Result{
		evaluate.NewFailedResult("规则一", "", "", "regex"),
		evaluate.NewFailedResult("规则二", "", "", "schema"),
	}
	if err := st.ReplaceResults(ctx, 1, 3, 0, batch); err != nil {
		t.Fatal(err)
	}
	got, err := st.Results(ctx, 1, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "规则一" || got[1].Name != "规则二" {
		t.Errorf("results = %+v", got)
	}

	if err := st.ReplaceResults(ctx, 1, 3, 0, batch[1:]); err != nil {
		t.Fatal(err)
	}
	got, err = st.Results(ctx, 1, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "规则二" {
		t.Errorf("replaced results = %+v", got)
	}

	other, err := st.Results(ctx, 2, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if other != nil {
		t.Errorf("foreign document results = %+v", other)
	}
}

func TestJudgments(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.InitJudgments(ctx, 1, []int64{10, 11, 12}); err != nil {
		t.Fatal(err)
	}
	// Re-init keeps existing rows.
	if err := st.InitJudgments(ctx, 1, []int64{10}); err != nil {
		t.Fatal(err)
	}
	results, err := st.Judgments(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 || results[0].JudgeStatus != judge.StatusTodo {
		t.Fatalf("init rows = %+v", results)
	}

	if err := st.SetJudgeStatus(ctx, 1, 10, judge.StatusDoing); err != nil {
		t.Fatal(err)
	}

	ok := true
	saved := &judge.JudgmentResult{
		CheckPointID:   10,
		FID:            1,
		Name:           "备案时限",
		IsCompliance:   &ok,
		OriginContents: []string{"备案须知", "第九条"},
		JudgeStatus:    judge.StatusSuccess,
	}
	if err := st.SaveJudgment(ctx, 1, saved); err != nil {
		t.Fatal(err)
	}
	if err := st.FailJudgments(ctx, 1, []int64{11, 12}, []string{"备案须知", "第十条"}); err != nil {
		t.Fatal(err)
	}

	results, err = st.Judgments(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d judgments", len(results))
	}
	if results[0].Name != "备案时限" || results[0].JudgeStatus != judge.StatusSuccess || !*results[0].IsCompliance {
		t.Errorf("saved judgment = %+v", results[0])
	}
	failed := results[1]
	if failed.JudgeStatus != judge.StatusFailed || *failed.IsCompliance || !*failed.IsComplianceAI {
		t.Errorf("failed judgment = %+v", failed)
	}
	if len(failed.OriginContents) != 2 {
		t.Errorf("origins = %v", failed.OriginContents)
	}
}
