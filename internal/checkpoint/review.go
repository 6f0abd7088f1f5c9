package checkpoint

import (
	"context"
	"fmt"
)

// ReviewStore is the persistence slice of the review workflow.
type ReviewStore interface {
	CheckPointByID(ctx context.Context, id int64) (*CheckPoint, error)
	UpdateCheckPoint(ctx context.Context, cp *CheckPoint) error
	// InsertDraft stores an edit draft under its parent; at most one live
	// draft per check point.
	InsertDraft(ctx context.Context, draft *CheckPoint) (int64, error)
	// PromoteDraft copies the draft's fields onto the parent and drops
	// the draft, in one transaction.
	PromoteDraft(ctx context.Context, parent, draft *CheckPoint) error
	DraftOf(ctx context.Context, parentID int64) (*CheckPoint, error)
	DeleteCheckPoint(ctx context.Context, id int64) error
}

// Reviewer drives the manual check-point review workflow.
type Reviewer struct {
	store ReviewStore
}

func NewReviewer(store ReviewStore) *Reviewer {
	return &Reviewer{store: store}
}

// ProposeEdit stores an edited copy of a check point as a pending draft.
// The live check point keeps serving until the draft is approved.
func (r *Reviewer) ProposeEdit(ctx context.Context, parentID int64, edit *CheckPoint) (int64, error) {
	if err := edit.Validate(); err != nil {
		return 0, err
	}
	parent, err := r.store.CheckPointByID(ctx, parentID)
	if err != nil {
		return 0, err
	}
	if parent.ParentID != 0 {
		return 0, fmt.Errorf("check point %d is itself a draft", parentID)
	}
	if existing, err := r.store.DraftOf(ctx, parentID); err != nil {
		return 0, err
	} else if existing != nil {
		return 0, fmt.Errorf("check point %d already has a pending draft", parentID)
	}
	edit.ParentID = parentID
	edit.OrderID = parent.OrderID
	edit.LawID = parent.LawID
	edit.ClauseID = parent.ClauseID
	edit.ReviewStatus = ReviewPending
	return r.store.InsertDraft(ctx, edit)
}

// RequestDelete flags a live check point for removal pending review.
func (r *Reviewer) RequestDelete(ctx context.Context, id int64) error {
	cp, err := r.store.CheckPointByID(ctx, id)
	if err != nil {
		return err
	}
	switch cp.ReviewStatus {
	case ReviewDeletePending:
		return nil
	case ReviewPending:
		return fmt.Errorf("check point %d still has an unreviewed change", id)
	}
	cp.ReviewStatus = ReviewDeletePending
	return r.store.UpdateCheckPoint(ctx, cp)
}

// Review settles a pending state. Approving an edit draft promotes it onto
// its parent; approving a delete request removes the check point.
func (r *Reviewer) Review(ctx context.Context, id int64, approve bool) error {
	cp, err := r.store.CheckPointByID(ctx, id)
	if err != nil {
		return err
	}
	switch cp.ReviewStatus {
	case ReviewPending:
		if !approve {
			cp.ReviewStatus = ReviewRejected
			return r.store.UpdateCheckPoint(ctx, cp)
		}
		if cp.ParentID != 0 {
			parent, err := r.store.CheckPointByID(ctx, cp.ParentID)
			if err != nil {
				return err
			}
			return r.store.PromoteDraft(ctx, parent, cp)
		}
		cp.ReviewStatus = ReviewApproved
		return r.store.UpdateCheckPoint(ctx, cp)
	case ReviewDeletePending:
		if approve {
			return r.store.DeleteCheckPoint(ctx, id)
		}
		cp.ReviewStatus = ReviewDeleteRejected
		return r.store.UpdateCheckPoint(ctx, cp)
	default:
		return fmt.Errorf("check point %d is not awaiting review (status %d)", id, cp.ReviewStatus)
	}
}
