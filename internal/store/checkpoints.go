package store

import (
	"context"
	"fmt"

	"github.com/veridocs/inspection-engine/internal/checkpoint"
)

const checkPointColumns = `id, order_id, law_id, clause_id, rule_content, name, alias_name, subject,
	check_type, core, check_method, templates, review_status, enabled, parent_id,
	abandoned, abandoned_reason, scenarios`

func scanCheckPoint(row interface{ Scan(...any) error }) (*checkpoint.CheckPoint, error) {
	var cp checkpoint.CheckPoint
	var checkType, reviewStatus, enabled, abandoned int
	var templates, scenarios string
	if err := row.Scan(&cp.ID, &cp.OrderID, &cp.LawID, &cp.ClauseID, &cp.RuleContent, &cp.Name,
		&cp.AliasName, &cp.Subject, &checkType, &cp.Core, &cp.CheckMethod, &templates,
		&reviewStatus, &enabled, &cp.ParentID, &abandoned, &cp.AbandonedReason, &scenarios); err != nil {
		return nil, err
	}
	cp.CheckType = checkpoint.CheckType(checkType)
	cp.ReviewStatus = checkpoint.ReviewStatus(reviewStatus)
	cp.Enabled = enabled != 0
	cp.Abandoned = abandoned != 0
	cp.Templates = unmarshalTemplates(templates)
	cp.Scenarios = unmarshalStrings(scenarios)
	return &cp, nil
}

func (s *Store) CheckPointByID(ctx context.Context, id int64) (*checkpoint.CheckPoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkPointColumns+` FROM check_points WHERE id = ? AND deleted = 0`, id)
	cp, err := scanCheckPoint(row)
	if err != nil {
		if noRows(err) {
			return nil, fmt.Errorf("check point %d not found", id)
		}
		return nil, err
	}
	return cp, nil
}

// CheckPointsByIDs loads check points including abandoned ones: judgments
// against historical check points must still resolve their definitions.
func (s *Store) CheckPointsByIDs(ctx context.Context, ids []int64) ([]*checkpoint.CheckPoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := inQuery(`SELECT `+checkPointColumns+` FROM check_points WHERE id IN (?`, ids)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cps []*checkpoint.CheckPoint
	for rows.Next() {
		cp, err := scanCheckPoint(rows)
		if err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

func inQuery(prefix string, ids []int64) (string, []any, error) {
	query := prefix
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ", ?"
		}
		args = append(args, id)
	}
	return query + ")", args, nil
}

// ActiveCheckPoints lists the enabled, non-abandoned, current check points
// for one scenario; an empty scenario lists them all.
func (s *Store) ActiveCheckPoints(ctx context.Context, scenario string) ([]*checkpoint.CheckPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+checkPointColumns+` FROM check_points
		WHERE enabled = 1 AND abandoned = 0 AND parent_id = 0 AND deleted = 0 ORDER BY order_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cps []*checkpoint.CheckPoint
	for rows.Next() {
		cp, err := scanCheckPoint(rows)
		if err != nil {
			return nil, err
		}
		if scenario != "" && !containsString(cp.Scenarios, scenario) {
			continue
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func (s *Store) UpdateCheckPoint(ctx context.Context, cp *checkpoint.CheckPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE check_points SET
		rule_content = ?, name = ?, alias_name = ?, subject = ?, check_type = ?, core = ?,
		check_method = ?, templates = ?, review_status = ?, enabled = ?, parent_id = ?,
		abandoned = ?, abandoned_reason = ?, scenarios = ?
		WHERE id = ?`,
		cp.RuleContent, cp.Name, cp.AliasName, cp.Subject, int(cp.CheckType), cp.Core,
		cp.CheckMethod, marshalTemplates(cp.Templates), int(cp.ReviewStatus), boolToInt(cp.Enabled),
		cp.ParentID, boolToInt(cp.Abandoned), cp.AbandonedReason, marshalJSON(cp.Scenarios), cp.ID)
	return err
}

func (s *Store) InsertDraft(ctx context.Context, draft *checkpoint.CheckPoint) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := insertCheckPoint(ctx, s.db, draft); err != nil {
		return 0, err
	}
	return draft.ID, nil
}

func (s *Store) DraftOf(ctx context.Context, parentID int64) (*checkpoint.CheckPoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+checkPointColumns+` FROM check_points
		WHERE parent_id = ? AND deleted = 0 LIMIT 1`, parentID)
	cp, err := scanCheckPoint(row)
	if err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return cp, nil
}

// PromoteDraft copies the draft's fields onto the parent, marks the parent
// approved, and removes the draft, in one transaction.
func (s *Store) PromoteDraft(ctx context.Context, parent, draft *checkpoint.CheckPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE check_points SET
		rule_content = ?, name = ?, alias_name = ?, subject = ?, check_type = ?, core = ?,
		check_method = ?, templates = ?, scenarios = ?, review_status = ?
		WHERE id = ?`,
		draft.RuleContent, draft.Name, draft.AliasName, draft.Subject, int(draft.CheckType), draft.Core,
		draft.CheckMethod, marshalTemplates(draft.Templates), marshalJSON(draft.Scenarios),
		int(checkpoint.ReviewApproved), parent.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE check_points SET deleted = 1 WHERE id = ?`, draft.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteCheckPoint(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE check_points SET deleted = 1, enabled = 0 WHERE id = ?`, id)
	return err
}

var _ checkpoint.ReviewStore = (*Store)(nil)
