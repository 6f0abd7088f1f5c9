package inspect

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/veridocs/inspection-engine/internal/evaluate"
	"github.com/veridocs/inspection-engine/internal/store"
)

func sinkBatch() (*store.Document, []*evaluate.Result) {
	doc := &store.Document{ID: 1, Name: "示范基金合同.pdf", SchemaID: 3, AuditStatus: store.AuditNonCompliant}
	return doc, []*evaluate.Result{evaluate.NewFailedResult("基金名称", "", "", "regex")}
}

func TestHTTPSinkPush(t *testing.T) {
	var got pushPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer tok" {
			t.Errorf("auth = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
	}))
	defer srv.Close()

	doc, results := sinkBatch()
	if err := NewHTTPSink(srv.URL, "tok").Push(context.Background(), doc, results); err != nil {
		t.Fatal(err)
	}
	if got.DocumentID != 1 || got.AuditStatus != "non_compliant" || len(got.Results) != 1 {
		t.Errorf("payload = %+v", got)
	}
}

func TestHTTPSinkRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	doc, results := sinkBatch()
	if err := NewHTTPSink(srv.URL, "").Push(context.Background(), doc, results); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("got %d calls, want 2", calls)
	}
}

func TestHTTPSinkRejectionIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad batch", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	doc, results := sinkBatch()
	if err := NewHTTPSink(srv.URL, "").Push(context.Background(), doc, results); err == nil {
		t.Fatal("rejected batch must surface an error")
	}
	if calls != 1 {
		t.Errorf("client errors must not be retried, got %d calls", calls)
	}
}
