package workflow

import (
	"context"
	"fmt"
	"strings"

	"defectflow/internal/domain/defect"
	"defectflow/internal/ports"
)

// Suspend parks the defect. The current stage instance is frozen alongside so
// a later reopen knows where to resume.
func (s *Service) Suspend(ctx context.Context, input LifecycleInput) error {
	return s.lifecycle(ctx, input, func(d ports.Defect, stage ports.StageInstance) (lifecycleMove, error) {
		if d.Status != defect.DefectOpen && d.Status != defect.DefectResolved && d.Status != defect.DefectDraft {
			return lifecycleMove{}, fmt.Errorf("defect %s is %s and cannot be suspended", d.Number, d.Status)
		}
		return lifecycleMove{
			defectStatus: defect.DefectSuspended,
			stageStatus:  defect.StageSuspended,
			action:       defect.ActionSuspend,
		}, nil
	})
}

// Reopen resumes a suspended defect on the stage it was parked at.
func (s *Service) Reopen(ctx context.Context, input LifecycleInput) error {
	return s.lifecycle(ctx, input, func(d ports.Defect, stage ports.StageInstance) (lifecycleMove, error) {
		if d.Status != defect.DefectSuspended {
			return lifecycleMove{}, defect.ErrDefectNotSuspended
		}
		resumed := defect.StageInProgress
		if stage.RejectionCount > 0 && stage.CompletedAt == nil {
			resumed = defect.StagePendingUpdate
		}
		return lifecycleMove{
			defectStatus: defect.DefectOpen,
			stageStatus:  resumed,
			action:       defect.ActionReopen,
		}, nil
	})
}

// Terminate abandons the defect for good. Terminal in the strict sense; no
// reopen path exists.
func (s *Service) Terminate(ctx context.Context, input LifecycleInput) error {
	if strings.TrimSpace(input.Note) == "" {
		return errReasonRequired
	}
	return s.lifecycle(ctx, input, func(d ports.Defect, stage ports.StageInstance) (lifecycleMove, error) {
		if d.Status.Final() {
			return lifecycleMove{}, defect.ErrDefectFinal
		}
		return lifecycleMove{
			defectStatus: defect.DefectTerminated,
			stageStatus:  defect.StageTerminated,
			action:       defect.ActionTerminate,
		}, nil
	})
}

// RejectDefect throws the defect out at review time, typically because the
// report is invalid or will not be fixed.
func (s *Service) RejectDefect(ctx context.Context, input LifecycleInput) error {
	if strings.TrimSpace(input.Note) == "" {
		return errReasonRequired
	}
	return s.lifecycle(ctx, input, func(d ports.Defect, stage ports.StageInstance) (lifecycleMove, error) {
		if d.Status.Final() {
			return lifecycleMove{}, defect.ErrDefectFinal
		}
		return lifecycleMove{
			defectStatus: defect.DefectRejected,
			stageStatus:  defect.StageNotPass,
			action:       defect.ActionReject,
		}, nil
	})
}

type lifecycleMove struct {
	defectStatus defect.DefectStatus
	stageStatus  defect.StageStatus
	action       defect.Action
}

func (s *Service) lifecycle(ctx context.Context, input LifecycleInput, decide func(ports.Defect, ports.StageInstance) (lifecycleMove, error)) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return errActorRequired
	}

	return s.uow.WithTx(ctx, func(txCtx context.Context) error {
		d, stage, _, err := s.loadDefectTx(txCtx, input.DefectNumber)
		if err != nil {
			return err
		}

		move, err := decide(d, stage)
		if err != nil {
			return err
		}

		now := nowUTCString()
		if err := s.repo.SetDefectStatus(txCtx, d.DefectID, move.defectStatus, now); err != nil {
			return err
		}
		if stage.Status.Active() {
			if err := s.repo.SetStageStatus(txCtx, stage.StageID, move.stageStatus, now); err != nil {
				return err
			}
		}

		return appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   stage.StageType,
			Action:    move.action,
			Actor:     actor,
			Note:      input.Note,
			CreatedAt: now,
		})
	})
}
