package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"defectflow/internal/domain/defect"
	"defectflow/internal/ports"
)

// ApproveReview records a positive human decision on a review-type stage and
// advances. Approving the final confirmation stage closes the defect instead.
func (s *Service) ApproveReview(ctx context.Context, input ApproveReviewInput) (ApproveReviewResult, error) {
	if err := s.guard(ctx); err != nil {
		return ApproveReviewResult{}, err
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return ApproveReviewResult{}, errActorRequired
	}

	var result ApproveReviewResult
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		d, stage, pipeline, err := s.loadDefectTx(txCtx, input.DefectNumber)
		if err != nil {
			return err
		}
		if d.Status.Final() {
			return defect.ErrDefectFinal
		}
		if d.Status == defect.DefectSuspended {
			return defect.ErrDefectSuspended
		}

		stageDef, err := defect.LookupStageType(stage.StageType)
		if err != nil {
			return err
		}
		if !stageDef.IsReview() {
			return fmt.Errorf("%w: %s", defect.ErrNotReviewStage, stage.StageType)
		}
		if stage.Status != defect.StageInProgress && stage.Status != defect.StagePendingUpdate {
			return fmt.Errorf("%w: stage %s is %s", defect.ErrStageNotSubmittable, stage.StageType, stage.Status)
		}

		now := nowUTCString()

		if pipeline.IsLast(stage.StageType) {
			// End of the line: the confirmer's approval finishes the defect.
			if err := s.repo.CompleteStage(txCtx, stage.StageID, actor, now); err != nil {
				return err
			}
			if err := s.repo.SetDefectStatus(txCtx, d.DefectID, defect.DefectClosed, now); err != nil {
				return err
			}
			result.Closed = true
			return appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
				DefectID:  d.DefectID,
				FromStage: stage.StageType,
				Action:    defect.ActionClose,
				Actor:     actor,
				Note:      input.Note,
				CreatedAt: now,
			})
		}

		next, err := pipeline.Next(stage.StageType)
		if err != nil {
			return err
		}
		if _, err := s.advanceTx(txCtx, d, stage, next, actor, input.NextAssignee, now); err != nil {
			return err
		}
		result.Advanced = true
		result.NextStage = next.Type

		return appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   next.Type,
			Action:    defect.ActionApprove,
			Actor:     actor,
			Note:      input.Note,
			CreatedAt: now,
		})
	})
	if err != nil {
		return ApproveReviewResult{}, err
	}
	return result, nil
}

// Reassign hands the current stage instance to a new assignee in place. No new
// instance is created; the transfer is an audit entry, not a workflow move.
func (s *Service) Reassign(ctx context.Context, input ReassignInput) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return errActorRequired
	}
	newAssignee := strings.TrimSpace(input.NewAssignee)
	if newAssignee == "" {
		return errors.New("new assignee is required")
	}

	var (
		notifyTitle string
		notifyBody  string
	)
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		d, stage, _, err := s.loadDefectTx(txCtx, input.DefectNumber)
		if err != nil {
			return err
		}
		if d.Status.Final() {
			return defect.ErrDefectFinal
		}
		if !stage.Status.Active() || stage.Status == defect.StageEvaluating {
			return fmt.Errorf("%w: stage %s is %s", defect.ErrStageNotSubmittable, stage.StageType, stage.Status)
		}

		now := nowUTCString()
		if err := s.repo.SetStageAssignee(txCtx, stage.StageID, newAssignee, input.Note, stage.Status, now); err != nil {
			return err
		}

		if err := appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   stage.StageType,
			Action:    defect.ActionTransfer,
			Actor:     actor,
			Note:      fmt.Sprintf("%s -> %s: %s", stage.Assignee, newAssignee, input.Note),
			CreatedAt: now,
		}); err != nil {
			return err
		}

		notifyTitle = fmt.Sprintf("Defect %s assigned to you", d.Number)
		notifyBody = fmt.Sprintf("Stage %s was transferred to you by %s.", stage.StageType, actor)
		return nil
	}); err != nil {
		return err
	}

	s.notifyBestEffort(ctx, newAssignee, notifyTitle, notifyBody)
	return nil
}
