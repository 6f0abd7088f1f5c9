package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/veridocs/inspection-engine/internal/evaluate"
	"github.com/veridocs/inspection-engine/internal/store"
)

// Sink receives the finished result batch of a run. Sink failures are
// logged and never fail the inspection.
type Sink interface {
	Push(ctx context.Context, doc *store.Document, results []*evaluate.Result) error
}

func (ins *Inspector) notify(ctx context.Context, doc *store.Document, results []*evaluate.Result) {
	for _, sink := range ins.sinks {
		if err := sink.Push(ctx, doc, results); err != nil {
			log.Printf("push results for document %d: %v", doc.ID, err)
		}
	}
}

// HTTPSink POSTs the batch as JSON to a downstream endpoint, retrying
// transient failures with exponential backoff.
type HTTPSink struct {
	URL        string
	AuthToken  string
	MaxTries   uint
	HTTPClient *http.Client
}

func NewHTTPSink(url, authToken string) *HTTPSink {
	return &HTTPSink{
		URL:        url,
		AuthToken:  authToken,
		MaxTries:   3,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type pushPayload struct {
	DocumentID  int64              `json:"document_id"`
	Name        string             `json:"name"`
	SchemaID    int64              `json:"schema_id"`
	AuditStatus string             `json:"audit_status"`
	Results     []*evaluate.Result `json:"results"`
}

func (s *HTTPSink) Push(ctx context.Context, doc *store.Document, results []*evaluate.Result) error {
	payload, err := json.Marshal(pushPayload{
		DocumentID:  doc.ID,
		Name:        doc.Name,
		SchemaID:    doc.SchemaID,
		AuditStatus: string(doc.AuditStatus),
		Results:     results,
	})
	if err != nil {
		return err
	}

	operation := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+s.AuthToken)
		}
		resp, err := s.HTTPClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return struct{}{}, fmt.Errorf("push endpoint returned %s", resp.Status)
		}
		if resp.StatusCode >= 400 {
			return struct{}{}, backoff.Permanent(fmt.Errorf("push endpoint rejected batch: %s", resp.Status))
		}
		return struct{}{}, nil
	}

	_, err = backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.MaxTries))
	return err
}
