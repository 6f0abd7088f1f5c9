package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veridocs/inspection-engine/internal/evaluate"
	"github.com/veridocs/inspection-engine/internal/judge"
)

// AuditStatus is the document-level verdict rolled up from its results.
type AuditStatus string

const (
	AuditPending      AuditStatus = "pending"
	AuditCompliant    AuditStatus = "compliant"
	AuditNonCompliant AuditStatus = "non_compliant"
	AuditNA           AuditStatus = "na"
)

type Document struct {
	ID          int64
	Name        string
	UploadID    string
	SchemaID    int64
	Interdoc    string
	Status      int
	AuditStatus AuditStatus
	CreatedAt   time.Time
}

func (s *Store) SaveDocument(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.AuditStatus == "" {
		doc.AuditStatus = AuditPending
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.ID == 0 {
		res, err := s.db.ExecContext(ctx, `INSERT INTO documents (name, upload_id, schema_id, interdoc, status, audit_status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			doc.Name, doc.UploadID, doc.SchemaID, doc.Interdoc, doc.Status, string(doc.AuditStatus),
			doc.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		doc.ID, err = res.LastInsertId()
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO documents (id, name, upload_id, schema_id, interdoc, status, audit_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Name, doc.UploadID, doc.SchemaID, doc.Interdoc, doc.Status, string(doc.AuditStatus),
		doc.CreatedAt.Format(time.RFC3339Nano))
	return err
}

func (s *Store) DocumentByID(ctx context.Context, id int64) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, upload_id, schema_id, interdoc, status, audit_status, created_at
		FROM documents WHERE id = ?`, id)
	var doc Document
	var auditStatus, createdAt string
	if err := row.Scan(&doc.ID, &doc.Name, &doc.UploadID, &doc.SchemaID, &doc.Interdoc, &doc.Status, &auditStatus, &createdAt); err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("document %d not found", id)
		}
		return nil, err
	}
	doc.AuditStatus = AuditStatus(auditStatus)
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &doc, nil
}

// PendingDocuments lists documents still waiting for an inspection run,
// oldest first.
func (s *Store) PendingDocuments(ctx context.Context, limit int) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, upload_id, schema_id, interdoc, status, audit_status, created_at
		FROM documents WHERE audit_status = ? ORDER BY id LIMIT ?`, string(AuditPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []*Document
	for rows.Next() {
		var doc Document
		var auditStatus, createdAt string
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.UploadID, &doc.SchemaID, &doc.Interdoc, &doc.Status, &auditStatus, &createdAt); err != nil {
			return nil, err
		}
		doc.AuditStatus = AuditStatus(auditStatus)
		doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

func (s *Store) SetAuditStatus(ctx context.Context, documentID int64, status AuditStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE documents SET audit_status = ? WHERE id = ?`, string(status), documentID)
	return err
}

// ReplaceResults atomically swaps the result set for one (document, schema,
// answer type): prior rows are deleted and the new batch inserted in order
// within one transaction.
func (s *Store) ReplaceResults(ctx context.Context, fid, schemaID int64, answerType int, results []*evaluate.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM results WHERE fid = ? AND schema_id = ? AND answer_type = ?`,
		fid, schemaID, answerType); err != nil {
		return err
	}
	for i, result := range results {
		payload, err := json.Marshal(result)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO results (fid, schema_id, answer_type, position, payload) VALUES (?, ?, ?, ?, ?)`,
			fid, schemaID, answerType, i, string(payload)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Results returns the stored batch in its persisted order.
func (s *Store) Results(ctx context.Context, fid, schemaID int64, answerType int) ([]*evaluate.Result, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM results
		WHERE fid = ? AND schema_id = ? AND answer_type = ? ORDER BY position`,
		fid, schemaID, answerType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []*evaluate.Result
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var result evaluate.Result
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			return nil, err
		}
		results = append(results, &result)
	}
	return results, rows.Err()
}

// InitJudgments creates todo rows for a judgment run, keeping rows that
// already exist.
func (s *Store) InitJudgments(ctx context.Context, fid int64, cpIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cpID := range cpIDs {
		if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO judgment_results (fid, cp_id, judge_status) VALUES (?, ?, ?)`,
			fid, cpID, string(judge.StatusTodo)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SetJudgeStatus(ctx context.Context, fid, cpID int64, status judge.JudgeStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE judgment_results SET judge_status = ? WHERE fid = ? AND cp_id = ?`,
		string(status), fid, cpID)
	return err
}

func (s *Store) SaveJudgment(ctx context.Context, fid int64, result *judge.JudgmentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT OR REPLACE INTO judgment_results (fid, cp_id, judge_status, payload) VALUES (?, ?, ?, ?)`,
		fid, result.CheckPointID, string(result.JudgeStatus), string(payload))
	return err
}

// FailJudgments stamps the fixed failure shape onto a set of judgment rows
// when snippet extraction fails before any per-check-point work.
func (s *Store) FailJudgments(ctx context.Context, fid int64, cpIDs []int64, originContents []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cpID := range cpIDs {
		isCompliance := false
		isComplianceAI := true
		result := &judge.JudgmentResult{
			CheckPointID:   cpID,
			FID:            fid,
			IsCompliance:   &isCompliance,
			IsComplianceAI: &isComplianceAI,
			OriginContents: originContents,
			Reasons:        nil,
			JudgeStatus:    judge.StatusFailed,
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO judgment_results (fid, cp_id, judge_status, payload) VALUES (?, ?, ?, ?)`,
			fid, cpID, string(judge.StatusFailed), string(payload)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Judgments(ctx context.Context, fid int64) ([]*judge.JudgmentResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT cp_id, judge_status, payload FROM judgment_results WHERE fid = ? ORDER BY cp_id`, fid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []*judge.JudgmentResult
	for rows.Next() {
		var cpID int64
		var status, payload string
		if err := rows.Scan(&cpID, &status, &payload); err != nil {
			return nil, err
		}
		result := &judge.JudgmentResult{CheckPointID: cpID, FID: fid, JudgeStatus: judge.JudgeStatus(status)}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), result); err != nil {
				return nil, err
			}
			result.CheckPointID = cpID
			result.FID = fid
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
