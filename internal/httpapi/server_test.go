package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/veridocs/inspection-engine/internal/checkpoint"
	"github.com/veridocs/inspection-engine/internal/evaluate"
	"github.com/veridocs/inspection-engine/internal/judge"
	"github.com/veridocs/inspection-engine/internal/store"
)

// fakeAPI backs both the Repository slice and the review store.
type fakeAPI struct {
	docs      map[int64]*store.Document
	nextDoc   int64
	results   []*evaluate.Result
	judgments []*judge.JudgmentResult

	points map[int64]*checkpoint.CheckPoint
	nextCP int64

	enabledClause int64
	keywords      []string
	matchAll      bool
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		docs:   map[int64]*store.Document{},
		points: map[int64]*checkpoint.CheckPoint{},
		nextCP: 100,
	}
}

func (f *fakeAPI) SaveDocument(ctx context.Context, doc *store.Document) error {
	if doc.AuditStatus == "" {
		doc.AuditStatus = store.AuditPending
	}
	f.nextDoc++
	doc.ID = f.nextDoc
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeAPI) DocumentByID(ctx context.Context, id int64) (*store.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %d not found", id)
	}
	return doc, nil
}

func (f *fakeAPI) PendingDocuments(ctx context.Context, limit int) ([]*store.Document, error) {
	var out []*store.Document
	for _, doc := range f.docs {
		if doc.AuditStatus == store.AuditPending && len(out) < limit {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (f *fakeAPI) Results(ctx context.Context, fid, schemaID int64, answerType int) ([]*evaluate.Result, error) {
	return f.results, nil
}

func (f *fakeAPI) Judgments(ctx context.Context, fid int64) ([]*judge.JudgmentResult, error) {
	return f.judgments, nil
}

func (f *fakeAPI) ActiveCheckPoints(ctx context.Context, scenario string) ([]*checkpoint.CheckPoint, error) {
	var out []*checkpoint.CheckPoint
	for _, cp := range f.points {
		if scenario == "" || containsScenario(cp.Scenarios, scenario) {
			out = append(out, cp)
		}
	}
	return out, nil
}

func containsScenario(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (f *fakeAPI) CheckPointByID(ctx context.Context, id int64) (*checkpoint.CheckPoint, error) {
	cp, ok := f.points[id]
	if !ok {
		return nil, fmt.Errorf("check point %d not found", id)
	}
	return cp, nil
}

func (f *fakeAPI) EnableClause(ctx context.Context, id int64) error {
	f.enabledClause = id
	return nil
}

func (f *fakeAPI) SetClauseKeywords(ctx context.Context, id int64, keywords []string, matchAll bool) error {
	f.keywords = keywords
	f.matchAll = matchAll
	return nil
}

func (f *fakeAPI) UpdateCheckPoint(ctx context.Context, cp *checkpoint.CheckPoint) error {
	f.points[cp.ID] = cp
	return nil
}

func (f *fakeAPI) InsertDraft(ctx context.Context, draft *checkpoint.CheckPoint) (int64, error) {
	f.nextCP++
	draft.ID = f.nextCP
	f.points[draft.ID] = draft
	return draft.ID, nil
}

func (f *fakeAPI) PromoteDraft(ctx context.Context, parent, draft *checkpoint.CheckPoint) error {
	parent.Name = draft.Name
	parent.CheckMethod = draft.CheckMethod
	parent.ReviewStatus = checkpoint.ReviewApproved
	delete(f.points, draft.ID)
	return nil
}

func (f *fakeAPI) DraftOf(ctx context.Context, parentID int64) (*checkpoint.CheckPoint, error) {
	for _, cp := range f.points {
		if cp.ParentID == parentID {
			return cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAPI) DeleteCheckPoint(ctx context.Context, id int64) error {
	delete(f.points, id)
	return nil
}

func newTestServer(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	api := newFakeAPI()
	srv := httptest.NewServer(NewServer(api, checkpoint.NewReviewer(api)))
	t.Cleanup(srv.Close)
	return api, srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatal(err)
	}
	return resp, decoded
}

func TestDocumentIntake(t *testing.T) {
	api, srv := newTestServer(t)

	resp, created := postJSON(t, srv.URL+"/v1/documents", map[string]any{
		"name": "示范基金合同.pdf", "upload_id": "up-1", "schema_id": 3,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if created["document_id"].(float64) != 1 || created["audit_status"] != "pending" {
		t.Errorf("created = %v", created)
	}
	if api.docs[1].UploadID != "up-1" {
		t.Errorf("stored doc = %+v", api.docs[1])
	}

	_, fetched := getJSON(t, srv.URL+"/v1/documents/1")
	if fetched["document"].(map[string]any)["Name"] != "示范基金合同.pdf" {
		t.Errorf("fetched = %v", fetched)
	}

	_, listed := getJSON(t, srv.URL+"/v1/documents")
	if len(listed["documents"].([]any)) != 1 {
		t.Errorf("pending = %v", listed)
	}
}

func TestDocumentIntakeRejectsEmptyName(t *testing.T) {
	_, srv := newTestServer(t)
	resp, _ := postJSON(t, srv.URL+"/v1/documents", map[string]any{"upload_id": "up-1"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestDocumentResults(t *testing.T) {
	api, srv := newTestServer(t)
	doc := &store.Document{Name: "合同.pdf", SchemaID: 3, AuditStatus: store.AuditNonCompliant}
	api.nextDoc++
	doc.ID = api.nextDoc
	api.docs[doc.ID] = doc
	api.results = []*evaluate.Result{evaluate.NewFailedResult("基金名称", "", "", "regex")}

	resp, body := getJSON(t, srv.URL+"/v1/documents/1/results")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["audit_status"] != "non_compliant" || len(body["results"].([]any)) != 1 {
		t.Errorf("body = %v", body)
	}

	resp, _ = getJSON(t, srv.URL+"/v1/documents/99/results")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing document status = %d", resp.StatusCode)
	}
}

func TestCheckPointReviewFlow(t *testing.T) {
	api, srv := newTestServer(t)
	api.points[10] = &checkpoint.CheckPoint{
		ID: 10, OrderID: 1, LawID: 2, ClauseID: 3,
		Name: "备案时限", CheckMethod: "检查合同是否约定备案时限",
		ReviewStatus: checkpoint.ReviewApproved,
		Scenarios:    []string{"证券类"},
	}

	resp, proposed := postJSON(t, srv.URL+"/v1/checkpoints/10/edits", map[string]any{
		"name":         "备案时限（修订）",
		"check_method": "检查备案约定与时限",
		"check_type":   "义务性",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("propose status = %d: %v", resp.StatusCode, proposed)
	}
	draftID := int64(proposed["draft_id"].(float64))
	if api.points[draftID].ParentID != 10 {
		t.Fatalf("draft = %+v", api.points[draftID])
	}

	resp, _ = postJSON(t, srv.URL+fmt.Sprintf("/v1/checkpoints/%d/review", draftID), map[string]any{"approve": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("review status = %d", resp.StatusCode)
	}
	if api.points[10].Name != "备案时限（修订）" {
		t.Errorf("parent after promotion = %+v", api.points[10])
	}

	// A settled check point is no longer reviewable.
	resp, _ = postJSON(t, srv.URL+"/v1/checkpoints/10/review", map[string]any{"approve": true})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("settled review status = %d", resp.StatusCode)
	}
}

func TestCheckPointListAndFetch(t *testing.T) {
	api, srv := newTestServer(t)
	api.points[10] = &checkpoint.CheckPoint{ID: 10, Name: "证券类审核点", Scenarios: []string{"证券类"}}
	api.points[11] = &checkpoint.CheckPoint{ID: 11, Name: "股权类审核点", Scenarios: []string{"股权类"}}

	_, listed := getJSON(t, srv.URL+"/v1/checkpoints?scenario=证券类")
	if cps := listed["check_points"].([]any); len(cps) != 1 {
		t.Errorf("filtered list = %v", cps)
	}

	resp, fetched := getJSON(t, srv.URL+"/v1/checkpoints/11")
	if resp.StatusCode != http.StatusOK || fetched["check_point"].(map[string]any)["Name"] != "股权类审核点" {
		t.Errorf("fetched = %v", fetched)
	}
}

func TestRequestDelete(t *testing.T) {
	api, srv := newTestServer(t)
	api.points[10] = &checkpoint.CheckPoint{ID: 10, Name: "备案时限", CheckMethod: "检查", ReviewStatus: checkpoint.ReviewApproved}

	resp, _ := postJSON(t, srv.URL+"/v1/checkpoints/10/delete", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if api.points[10].ReviewStatus != checkpoint.ReviewDeletePending {
		t.Errorf("status = %d", api.points[10].ReviewStatus)
	}
}

func TestClauseEndpoints(t *testing.T) {
	api, srv := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/v1/clauses/7/enable", nil)
	if resp.StatusCode != http.StatusOK || api.enabledClause != 7 {
		t.Errorf("enable: status=%d clause=%d", resp.StatusCode, api.enabledClause)
	}

	resp, _ = postJSON(t, srv.URL+"/v1/clauses/7/keywords", map[string]any{
		"keywords": []string{"备案", "管理人"}, "match_all": true,
	})
	if resp.StatusCode != http.StatusOK || len(api.keywords) != 2 || !api.matchAll {
		t.Errorf("keywords: status=%d kw=%v all=%v", resp.StatusCode, api.keywords, api.matchAll)
	}
}

func TestHealth(t *testing.T) {
	_, srv := newTestServer(t)
	resp, body := getJSON(t, srv.URL+"/v1/health")
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}
