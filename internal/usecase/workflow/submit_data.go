package workflow

import (
	"context"
	"fmt"
	"strings"

	"defectflow/internal/domain/defect"
	"defectflow/internal/ports"
)

// SubmitStageData records content for the current stage and, unless the
// submission is a draft or the stage is still waiting on collaborators, runs
// the scoring gate. The gate call happens outside the write transaction; a
// second transaction persists the verdict or reverts the stage.
func (s *Service) SubmitStageData(ctx context.Context, input SubmitStageDataInput) (SubmitStageDataResult, error) {
	if err := s.guard(ctx); err != nil {
		return SubmitStageDataResult{}, err
	}
	submitter := strings.TrimSpace(input.Submitter)
	if submitter == "" {
		return SubmitStageDataResult{}, errActorRequired
	}
	content := input.Content
	if strings.TrimSpace(content) == "" {
		return SubmitStageDataResult{}, fmt.Errorf("stage content is required")
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
		if d.Status == defect.DefectSuspended {
			return defect.ErrDefectSuspended
		}

		stageDef, err := defect.LookupStageType(stage.StageType)
		if err != nil {
			return err
		}
		if stageDef.IsReview() {
			return defect.ErrReviewStageData
		}
		if input.Kind != stageDef.DataKind {
			return fmt.Errorf("%w: stage %s takes %s, got %s",
				defect.ErrWrongDataKind, stage.StageType, stageDef.DataKind, input.Kind)
		}
		if !stage.Status.AcceptsSubmission() {
			return fmt.Errorf("%w: stage %s is %s", defect.ErrStageNotSubmittable, stage.StageType, stage.Status)
		}

		pipeStage, err := pipeline.Stage(stage.StageType)
		if err != nil {
			return err
		}
		if input.CollaboratorID != nil && !pipeStage.FanOut {
			return defect.ErrFanOutNotAllowed
		}

		// A collaborator submission must come through a record that is still
		// expected to produce work on this very stage.
		if input.CollaboratorID != nil {
			collab, err := s.repo.GetCollaborator(txCtx, *input.CollaboratorID)
			if err != nil {
				return err
			}
			if collab.StageID != stage.StageID {
				return defect.ErrStageMismatch
			}
			if !collab.Status.AcceptsSubmission() {
				return defect.ErrCollaboratorFinal
			}
		}

		now := nowUTCString()

		// Detect no-op resubmissions against the current row of the same key.
		key := ports.StageDataKey{StageID: stage.StageID, Kind: input.Kind, CollaboratorID: input.CollaboratorID}
		changed := true
		prior, err := s.repo.ListStageData(txCtx, ports.StageDataFilter{
			StageID:        stage.StageID,
			Kind:           input.Kind,
			CollaboratorID: input.CollaboratorID,
			OnlyCurrent:    true,
			IncludeDrafts:  true,
		})
		if err != nil {
			return err
		}
		for _, row := range prior {
			if (row.CollaboratorID == nil) != (input.CollaboratorID == nil) {
				continue
			}
			if defect.Fingerprint(row.Content) == defect.Fingerprint(content) {
				changed = false
			}
			break
		}

		if err := s.repo.ClearCurrentStageData(txCtx, key); err != nil {
			return err
		}
		created, err := s.repo.CreateStageData(txCtx, ports.StageData{
			StageID:        stage.StageID,
			Kind:           input.Kind,
			Content:        content,
			Submitter:      submitter,
			CollaboratorID: input.CollaboratorID,
			IsDraft:        input.Draft,
			IsCurrent:      true,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		result.DataID = created.DataID
		result.Changed = changed

		if input.Draft {
			return appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
				DefectID:  d.DefectID,
				FromStage: stage.StageType,
				ToStage:   stage.StageType,
				Action:    defect.ActionUpdate,
				Actor:     submitter,
				Note:      "draft saved",
				Internal:  true,
				CreatedAt: now,
			})
		}

		// The first real submission takes a draft defect live.
		if d.Status == defect.DefectDraft {
			if err := s.repo.SetDefectStatus(txCtx, d.DefectID, defect.DefectOpen, now); err != nil {
				return err
			}
			d.Status = defect.DefectOpen
		}

		action := defect.ActionSubmit
		if stage.StageType == defect.StageSolution {
			action = defect.ActionSubmitSolution
		}
		if err := appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   stage.StageType,
			Action:    action,
			Actor:     submitter,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		// A collaborator submission completes its record; the gate only runs
		// once every counting record on the stage is done.
		if input.CollaboratorID != nil {
			if err := s.repo.SetCollaboratorStatus(txCtx, *input.CollaboratorID, defect.CollabCompleted, now); err != nil {
				return err
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
		} else if pipeStage.FanOut {
			// The assignee's own submission on a fan-out stage waits for any
			// record that may still deliver, and cannot take the stage through
			// the gate unless at least one counting record completed.
			all, err := s.repo.ListCollaborators(txCtx, stage.StageID)
			if err != nil {
				return err
			}
			statuses := make([]defect.CollaboratorStatus, 0, len(all))
			for _, c := range all {
				if c.Status.AcceptsSubmission() {
					return nil
				}
				statuses = append(statuses, c.Status)
			}
			if !defect.AllDone(statuses) {
				return defect.ErrNoActiveCollaborators
			}
		}

		if err := s.repo.SetStageStatus(txCtx, stage.StageID, defect.StageEvaluating, now); err != nil {
			return err
		}
		if err := appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   stage.StageType,
			Action:    defect.ActionValSubmit,
			Actor:     submitter,
			Internal:  true,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		runGate = true
		gateRef = gateContext{
			defect:       d,
			stage:        stage,
			pipeline:     pipeline,
			actor:        submitter,
			nextAssignee: input.NextAssignee,
		}
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
