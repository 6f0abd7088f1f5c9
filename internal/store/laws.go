package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/veridocs/inspection-engine/internal/checkpoint"
	"github.com/veridocs/inspection-engine/internal/rulebook"
)

// LawStatus tracks a law file through fetch, parse and split.
type LawStatus int

const (
	LawParseFail LawStatus = -15
	LawFetchFail LawStatus = -25
	LawSplitFail LawStatus = -35
	LawInit      LawStatus = 0
	LawPending   LawStatus = 5
	LawParsing   LawStatus = 15
	LawFetching  LawStatus = 25
	LawParsed    LawStatus = 30
	LawSplitting LawStatus = 35
	LawSplit     LawStatus = 50
)

type LawOrder struct {
	ID        int64
	Name      string
	Rank      int64
	Template  bool
	Status    int
	Scenarios []string
}

type Law struct {
	ID      int64
	OrderID int64
	Name    string
	Hash    string
	Current bool
	Status  LawStatus
}

// SaveLawOrder inserts or updates an order. New orders get the next rank.
func (s *Store) SaveLawOrder(ctx context.Context, order *LawOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.ID == 0 {
		var maxRank int64
		if err := s.db.GetContext(ctx, &maxRank, `SELECT COALESCE(MAX(rank), 0) FROM law_orders`); err != nil {
			return err
		}
		order.Rank = maxRank + 1
		res, err := s.db.ExecContext(ctx, `INSERT INTO law_orders (name, rank, template, status, scenarios) VALUES (?, ?, ?, ?, ?)`,
			order.Name, order.Rank, boolToInt(order.Template), order.Status, marshalJSON(order.Scenarios))
		if err != nil {
			return err
		}
		order.ID, err = res.LastInsertId()
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO law_orders (id, name, rank, template, status, scenarios) VALUES (?, ?, ?, ?, ?, ?)`,
		order.ID, order.Name, order.Rank, boolToInt(order.Template), order.Status, marshalJSON(order.Scenarios))
	return err
}

func (s *Store) LawOrderByID(ctx context.Context, id int64) (*LawOrder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, rank, template, status, scenarios FROM law_orders WHERE id = ?`, id)
	var order LawOrder
	var template int
	var scenarios string
	if err := row.Scan(&order.ID, &order.Name, &order.Rank, &template, &order.Status, &scenarios); err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("law order %d not found", id)
		}
		return nil, err
	}
	order.Template = template != 0
	order.Scenarios = unmarshalStrings(scenarios)
	return &order, nil
}

func (s *Store) SaveLaw(ctx context.Context, law *Law) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if law.ID == 0 {
		res, err := s.db.ExecContext(ctx, `INSERT INTO laws (order_id, name, hash, current, status) VALUES (?, ?, ?, ?, ?)`,
			law.OrderID, law.Name, law.Hash, boolToInt(law.Current), int(law.Status))
		if err != nil {
			return err
		}
		law.ID, err = res.LastInsertId()
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO laws (id, order_id, name, hash, current, status) VALUES (?, ?, ?, ?, ?, ?)`,
		law.ID, law.OrderID, law.Name, law.Hash, boolToInt(law.Current), int(law.Status))
	return err
}

func (s *Store) SetLawStatus(ctx context.Context, lawID int64, status LawStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE laws SET status = ? WHERE id = ?`, int(status), lawID)
	return err
}

// ReplaceClauses swaps a law's clause set in one transaction: prior clauses
// are soft-deleted, the new texts inserted in order, and the law marked
// split.
func (s *Store) ReplaceClauses(ctx context.Context, law *Law, texts []string, scenarios []string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE law_clauses SET deleted = 1 WHERE law_id = ? AND deleted = 0`, law.ID); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(texts))
	for _, text := range texts {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO law_clauses (order_id, law_id, content, status, scenarios) VALUES (?, ?, ?, ?, ?)`,
			law.OrderID, law.ID, text, int(checkpoint.ClauseInit), marshalJSON(scenarios))
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE laws SET status = ? WHERE id = ?`, int(LawSplit), law.ID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

const clauseColumns = `c.id, c.order_id, c.law_id, l.name, o.template, c.content, c.enabled, c.status, c.prompt, c.keywords, c.match_all, c.scenarios`

func (s *Store) scanClause(row interface{ Scan(...any) error }) (*checkpoint.Clause, error) {
	var c checkpoint.Clause
	var enabled, matchAll, template int
	var status int
	var keywords, scenarios string
	if err := row.Scan(&c.ID, &c.OrderID, &c.LawID, &c.LawName, &template, &c.Content,
		&enabled, &status, &c.Prompt, &keywords, &matchAll, &scenarios); err != nil {
		return nil, err
	}
	c.Enabled = enabled != 0
	c.MatchAll = matchAll != 0
	c.Template = template != 0
	c.Status = checkpoint.ClauseStatus(status)
	c.Keywords = unmarshalStrings(keywords)
	c.Scenarios = unmarshalStrings(scenarios)
	return &c, nil
}

func (s *Store) ClauseByID(ctx context.Context, id int64) (*checkpoint.Clause, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clauseColumns+`
		FROM law_clauses c JOIN laws l ON l.id = c.law_id JOIN law_orders o ON o.id = c.order_id
		WHERE c.id = ? AND c.deleted = 0`, id)
	clause, err := s.scanClause(row)
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("clause %d not found", id)
		}
		return nil, err
	}
	return clause, nil
}

func (s *Store) ClausesByLaw(ctx context.Context, lawID int64) ([]*checkpoint.Clause, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clauseColumns+`
		FROM law_clauses c JOIN laws l ON l.id = c.law_id JOIN law_orders o ON o.id = c.order_id
		WHERE c.law_id = ? AND c.deleted = 0 ORDER BY c.id`, lawID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var clauses []*checkpoint.Clause
	for rows.Next() {
		clause, err := s.scanClause(rows)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
	}
	return clauses, rows.Err()
}

// BeginConvert flips waiting → converting and reports whether this caller
// won the flip.
func (s *Store) BeginConvert(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE law_clauses SET status = ? WHERE id = ? AND status = ? AND deleted = 0`,
		int(checkpoint.ClauseConverting), id, int(checkpoint.ClauseWaiting))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) SetClauseStatus(ctx context.Context, id int64, status checkpoint.ClauseStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE law_clauses SET status = ? WHERE id = ?`, int(status), id)
	return err
}

func (s *Store) SetClauseScenarios(ctx context.Context, id int64, scenarios []string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE law_clauses SET scenarios = ? WHERE id = ?`, marshalJSON(scenarios), id)
	return err
}

func (s *Store) SetClauseKeywords(ctx context.Context, id int64, keywords []string, matchAll bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE law_clauses SET keywords = ?, match_all = ? WHERE id = ?`,
		marshalJSON(keywords), boolToInt(matchAll), id)
	return err
}

// EnableClause turns a freshly split clause on and queues it for
// conversion.
func (s *Store) EnableClause(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE law_clauses SET enabled = 1, status = ? WHERE id = ? AND deleted = 0`,
		int(checkpoint.ClauseWaiting), id)
	return err
}

func (s *Store) ScenarioNames(ctx context.Context, orderID int64) ([]string, error) {
	var raw string
	if err := s.db.GetContext(ctx, &raw, `SELECT scenarios FROM law_orders WHERE id = ?`, orderID); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return unmarshalStrings(raw), nil
}

// ReplaceCheckPoints abandons a clause's live check points, inserts the
// fresh batch carrying the clause scenarios, and marks the clause
// converted, all in one transaction.
func (s *Store) ReplaceCheckPoints(ctx context.Context, clause *checkpoint.Clause, reason string, cps []*checkpoint.CheckPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE check_points SET abandoned = 1, abandoned_reason = ? WHERE clause_id = ? AND abandoned = 0`,
		reason, clause.ID); err != nil {
		return err
	}
	for _, cp := range cps {
		cp.Scenarios = clause.Scenarios
		if err := insertCheckPoint(ctx, tx, cp); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE law_clauses SET status = ? WHERE id = ?`,
		int(checkpoint.ClauseConverted), clause.ID); err != nil {
		return err
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCheckPoint(ctx context.Context, tx execer, cp *checkpoint.CheckPoint) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO check_points
		(order_id, law_id, clause_id, rule_content, name, alias_name, subject, check_type, core,
		 check_method, templates, review_status, enabled, parent_id, abandoned, abandoned_reason, scenarios)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.OrderID, cp.LawID, cp.ClauseID, cp.RuleContent, cp.Name, cp.AliasName, cp.Subject,
		int(cp.CheckType), cp.Core, cp.CheckMethod, marshalTemplates(cp.Templates),
		int(cp.ReviewStatus), boolToInt(cp.Enabled), cp.ParentID,
		boolToInt(cp.Abandoned), cp.AbandonedReason, marshalJSON(cp.Scenarios))
	if err != nil {
		return err
	}
	cp.ID, err = res.LastInsertId()
	return err
}

func marshalTemplates(groups []rulebook.TemplateGroup) string {
	if len(groups) == 0 {
		return ""
	}
	return marshalJSON(groups)
}

func unmarshalTemplates(raw string) []rulebook.TemplateGroup {
	if raw == "" {
		return nil
	}
	var groups []rulebook.TemplateGroup
	_ = json.Unmarshal([]byte(raw), &groups)
	return groups
}

var _ checkpoint.Store = (*Store)(nil)
