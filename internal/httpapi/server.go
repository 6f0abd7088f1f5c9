// Package httpapi exposes the engine's management surface over HTTP:
// document intake, inspection results, and the check-point review
// workflow.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/veridocs/inspection-engine/internal/checkpoint"
	"github.com/veridocs/inspection-engine/internal/evaluate"
	"github.com/veridocs/inspection-engine/internal/inspect"
	"github.com/veridocs/inspection-engine/internal/judge"
	"github.com/veridocs/inspection-engine/internal/rulebook"
	"github.com/veridocs/inspection-engine/internal/store"
)

// Repository is the persistence slice the API serves from.
type Repository interface {
	SaveDocument(ctx context.Context, doc *store.Document) error
	DocumentByID(ctx context.Context, id int64) (*store.Document, error)
	PendingDocuments(ctx context.Context, limit int) ([]*store.Document, error)
	Results(ctx context.Context, fid, schemaID int64, answerType int) ([]*evaluate.Result, error)
	Judgments(ctx context.Context, fid int64) ([]*judge.JudgmentResult, error)
	ActiveCheckPoints(ctx context.Context, scenario string) ([]*checkpoint.CheckPoint, error)
	CheckPointByID(ctx context.Context, id int64) (*checkpoint.CheckPoint, error)
	EnableClause(ctx context.Context, id int64) error
	SetClauseKeywords(ctx context.Context, id int64, keywords []string, matchAll bool) error
}

type Server struct {
	repo     Repository
	reviewer *checkpoint.Reviewer
}

func NewServer(repo Repository, reviewer *checkpoint.Reviewer) http.Handler {
	s := &Server{repo: repo, reviewer: reviewer}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/documents", s.handleDocuments)
	mux.HandleFunc("/v1/documents/", s.handleDocument)
	mux.HandleFunc("/v1/checkpoints", s.handleListCheckPoints)
	mux.HandleFunc("/v1/checkpoints/", s.handleCheckPoint)
	mux.HandleFunc("/v1/clauses/", s.handleClause)
	mux.HandleFunc("/v1/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": map[string]any{"message": message},
	})
}

func decodeBody(r *http.Request, dst any) error {
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	return json.Unmarshal(blob, dst)
}

func parseInt(value string, def int) int {
	if strings.TrimSpace(value) == "" {
		return def
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return v
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// splitResource peels "{id}" or "{id}/{action}" off a trimmed sub-path.
func splitResource(path string) (int64, string, bool) {
	path = strings.Trim(path, "/")
	id64 := path
	action := ""
	if i := strings.IndexByte(path, '/'); i >= 0 {
		id64, action = path[:i], path[i+1:]
	}
	id, err := strconv.ParseInt(id64, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, action, true
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			Name     string `json:"name"`
			UploadID string `json:"upload_id"`
			SchemaID int64  `json:"schema_id"`
			Interdoc string `json:"interdoc"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		doc := &store.Document{
			Name:     req.Name,
			UploadID: req.UploadID,
			SchemaID: req.SchemaID,
			Interdoc: req.Interdoc,
		}
		if err := s.repo.SaveDocument(r.Context(), doc); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":           true,
			"document_id":  doc.ID,
			"audit_status": doc.AuditStatus,
		})
	case http.MethodGet:
		limit := parseInt(r.URL.Query().Get("limit"), 50)
		docs, err := s.repo.PendingDocuments(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	id, action, ok := splitResource(strings.TrimPrefix(r.URL.Path, "/v1/documents/"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	doc, err := s.repo.DocumentByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	switch action {
	case "":
		writeJSON(w, http.StatusOK, map[string]any{"document": doc})
	case "results":
		results, err := s.repo.Results(r.Context(), doc.ID, doc.SchemaID, inspect.AnswerTypeAI)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"document_id":  doc.ID,
			"audit_status": doc.AuditStatus,
			"results":      results,
		})
	case "judgments":
		judgments, err := s.repo.Judgments(r.Context(), doc.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		judge.SortJudgments(judgments)
		writeJSON(w, http.StatusOK, map[string]any{
			"document_id": doc.ID,
			"judgments":   judgments,
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleListCheckPoints(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	scenario := strings.TrimSpace(r.URL.Query().Get("scenario"))
	cps, err := s.repo.ActiveCheckPoints(r.Context(), scenario)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"check_points": cps})
}

func (s *Server) handleCheckPoint(w http.ResponseWriter, r *http.Request) {
	id, action, ok := splitResource(strings.TrimPrefix(r.URL.Path, "/v1/checkpoints/"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if action == "" {
		if !methodOnly(w, r, http.MethodGet) {
			return
		}
		cp, err := s.repo.CheckPointByID(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"check_point": cp})
		return
	}

	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	switch action {
	case "edits":
		s.handleProposeEdit(w, r, id)
	case "review":
		var req struct {
			Approve bool `json:"approve"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.reviewer.Review(r.Context(), id, req.Approve); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "delete":
		if err := s.reviewer.RequestDelete(r.Context(), id); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleProposeEdit(w http.ResponseWriter, r *http.Request, parentID int64) {
	var req struct {
		Name        string                   `json:"name"`
		AliasName   string                   `json:"alias_name"`
		Subject     string                   `json:"subject"`
		CheckType   string                   `json:"check_type"`
		Core        string                   `json:"core"`
		RuleContent string                   `json:"rule_content"`
		CheckMethod string                   `json:"check_method"`
		Templates   []rulebook.TemplateGroup `json:"templates"`
		Scenarios   []string                 `json:"scenarios"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	draft := &checkpoint.CheckPoint{
		Name:        req.Name,
		AliasName:   req.AliasName,
		Subject:     req.Subject,
		Core:        req.Core,
		RuleContent: req.RuleContent,
		CheckMethod: req.CheckMethod,
		Templates:   req.Templates,
		Scenarios:   req.Scenarios,
	}
	if req.CheckType != "" {
		checkType, ok := checkpoint.ParseCheckType(req.CheckType)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown check_type "+strconv.Quote(req.CheckType))
			return
		}
		draft.CheckType = checkType
	}

	draftID, err := s.reviewer.ProposeEdit(r.Context(), parentID, draft)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "draft_id": draftID})
}

func (s *Server) handleClause(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	id, action, ok := splitResource(strings.TrimPrefix(r.URL.Path, "/v1/clauses/"))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch action {
	case "enable":
		if err := s.repo.EnableClause(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "keywords":
		var req struct {
			Keywords []string `json:"keywords"`
			MatchAll bool     `json:"match_all"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.repo.SetClauseKeywords(r.Context(), id, req.Keywords, req.MatchAll); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
