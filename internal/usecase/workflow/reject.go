package workflow

import (
	"context"
	"fmt"
	"strings"

	"defectflow/internal/domain/defect"
	"defectflow/internal/ports"
)

// RejectStage rolls the workflow back one hop: the current instance becomes
// REJECTED and the instance it grew from is reactivated as PENDING_UPDATE.
// Rollback always reuses the prior instance; only forward movement allocates
// new ones. The rollback cascades to collaborator records: active ones on the
// rejected instance, and every record of the reactivated instance that still
// counts, completed ones included, so its holders rework their parts.
func (s *Service) RejectStage(ctx context.Context, input RejectStageInput) (RejectStageResult, error) {
	if err := s.guard(ctx); err != nil {
		return RejectStageResult{}, err
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return RejectStageResult{}, errActorRequired
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return RejectStageResult{}, errReasonRequired
	}

	var (
		result       RejectStageResult
		notifyTarget string
		notifyNumber string
		notifyStage  defect.StageTypeKey
		cascaded     []ports.Collaborator
	)
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		d, stage, _, err := s.loadDefectTx(txCtx, input.DefectNumber)
		if err != nil {
			return err
		}
		if d.Status.Final() {
			return defect.ErrDefectFinal
		}
		if d.Status == defect.DefectSuspended {
			return defect.ErrDefectSuspended
		}
		if stage.PreviousID == nil {
			return defect.ErrNothingToRollBack
		}

		prior, err := s.repo.GetStage(txCtx, *stage.PreviousID)
		if err != nil {
			return err
		}
		if !defect.CanReactivate(prior.Status) {
			return fmt.Errorf("prior stage %s is %s and cannot be reactivated", prior.StageType, prior.Status)
		}

		now := nowUTCString()
		if err := s.repo.SetStageStatus(txCtx, stage.StageID, defect.StageRejected, now); err != nil {
			return err
		}
		if err := s.repo.ReactivateStage(txCtx, prior.StageID, now); err != nil {
			return err
		}
		if err := s.repo.SetCurrentStage(txCtx, d.DefectID, prior.StageID, now); err != nil {
			return err
		}

		// Falling back out of confirmation reopens the defect.
		if d.Status == defect.DefectResolved {
			if err := s.repo.SetDefectStatus(txCtx, d.DefectID, defect.DefectOpen, now); err != nil {
				return err
			}
		}

		// In-flight work on the rejected instance dies with it.
		collabs, err := s.repo.ListCollaborators(txCtx, stage.StageID)
		if err != nil {
			return err
		}
		for _, c := range collabs {
			if !c.Status.StillActive() {
				continue
			}
			if err := s.repo.RejectCollaborator(txCtx, c.CollaboratorID, defect.CollabRejected, reason, now); err != nil {
				return err
			}
			result.CascadedRecords = append(result.CascadedRecords, c.CollaboratorID)
			cascaded = append(cascaded, c)
		}

		// The reactivated instance's records go back to their holders for
		// rework. Completed records are reset too: their content is exactly
		// what the rejection found wanting.
		priorCollabs, err := s.repo.ListCollaborators(txCtx, prior.StageID)
		if err != nil {
			return err
		}
		for _, c := range priorCollabs {
			if !c.Status.StillActive() && c.Status != defect.CollabCompleted {
				continue
			}
			if err := s.repo.RejectCollaborator(txCtx, c.CollaboratorID, defect.CollabRejected, reason, now); err != nil {
				return err
			}
			result.CascadedRecords = append(result.CascadedRecords, c.CollaboratorID)
			cascaded = append(cascaded, c)
		}

		// The rejection record is typed by what the rollback lands on and
		// points at the content being sent back for rework.
		rejType := defect.RejectStage
		switch prior.StageType {
		case defect.StageAnalysis:
			rejType = defect.RejectAnalysis
		case defect.StageSolution:
			rejType = defect.RejectSolution
		}
		var dataID *uint64
		rows, err := s.currentRows(txCtx, prior.StageID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			if rows, err = s.currentRows(txCtx, stage.StageID); err != nil {
				return err
			}
		}
		if len(rows) > 0 {
			id := rows[0].DataID
			dataID = &id
		}
		prevID := prior.StageID
		if _, err := s.repo.CreateRejection(txCtx, ports.Rejection{
			DefectID:        d.DefectID,
			Type:            rejType,
			Reason:          reason,
			Actor:           actor,
			StageID:         stage.StageID,
			DataID:          dataID,
			PreviousStageID: &prevID,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		if err := appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   prior.StageType,
			Action:    defect.ActionReject,
			Actor:     actor,
			Note:      reason,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		result.ReactivatedStage = prior.StageType
		result.RejectionCount = prior.RejectionCount + 1
		notifyTarget = prior.Assignee
		notifyNumber = d.Number
		notifyStage = prior.StageType
		return nil
	})
	if err != nil {
		return RejectStageResult{}, err
	}

	s.notifyBestEffort(ctx, notifyTarget,
		fmt.Sprintf("Defect %s sent back to %s", notifyNumber, notifyStage),
		reason)
	for _, c := range cascaded {
		s.notifyBestEffort(ctx, c.Assignee,
			fmt.Sprintf("Defect %s stage rejected", notifyNumber),
			reason)
	}
	return result, nil
}

// AbandonCollaborator cancels one fan-out record by the assigner's hand. If
// the record was the last outstanding one and the rest completed, the stage
// proceeds to the gate just as a final submission would have taken it there.
func (s *Service) AbandonCollaborator(ctx context.Context, input AbandonCollaboratorInput) (SubmitStageDataResult, error) {
	if err := s.guard(ctx); err != nil {
		return SubmitStageDataResult{}, err
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return SubmitStageDataResult{}, errActorRequired
	}

	var (
		result  SubmitStageDataResult
		runGate bool
		gateRef gateContext
	)
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		d, stage, pipeline, err := s.loadDefectTx(txCtx, input.DefectNumber)
		if err != nil {
			return err
		}
		if d.Status.Final() {
			return defect.ErrDefectFinal
		}

		collab, err := s.repo.GetCollaborator(txCtx, input.CollaboratorID)
		if err != nil {
			return err
		}
		if collab.StageID != stage.StageID {
			return defect.ErrStageMismatch
		}
		if !collab.Status.AcceptsSubmission() {
			return defect.ErrCollaboratorFinal
		}

		now := nowUTCString()
		if err := s.repo.SetCollaboratorStatus(txCtx, collab.CollaboratorID, defect.CollabCancelled, now); err != nil {
			return err
		}
		// A cancelled record's contribution no longer counts as current.
		if err := s.repo.ClearCurrentStageData(txCtx, ports.StageDataKey{
			StageID:        stage.StageID,
			CollaboratorID: &collab.CollaboratorID,
		}); err != nil {
			return err
		}

		if err := appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   stage.StageType,
			Action:    defect.ActionCancel,
			Actor:     actor,
			Note:      fmt.Sprintf("cancelled %s for %s: %s", collab.Role, collab.Assignee, input.Reason),
			CreatedAt: now,
		}); err != nil {
			return err
		}

		if !stage.Status.AcceptsSubmission() {
			return nil
		}
		all, err := s.repo.ListCollaborators(txCtx, stage.StageID)
		if err != nil {
			return err
		}
		statuses := make([]defect.CollaboratorStatus, 0, len(all))
		for _, c := range all {
			statuses = append(statuses, c.Status)
		}
		if !defect.AllDone(statuses) {
			return nil
		}

		if err := s.repo.SetStageStatus(txCtx, stage.StageID, defect.StageEvaluating, now); err != nil {
			return err
		}
		if err := appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   stage.StageType,
			Action:    defect.ActionValSubmit,
			Actor:     actor,
			Internal:  true,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		runGate = true
		gateRef = gateContext{defect: d, stage: stage, pipeline: pipeline, actor: actor}
		return nil
	}); err != nil {
		return SubmitStageDataResult{}, err
	}

	if !runGate {
		return result, nil
	}
	gate, err := s.runEvaluation(ctx, gateRef)
	if err != nil {
		return result, err
	}
	result.Evaluated = true
	result.Advanced = gate.advanced
	result.NextStage = gate.nextStage
	result.Score = gate.score
	result.Suggestion = gate.suggestion
	result.RunID = gate.runID
	return result, nil
}
