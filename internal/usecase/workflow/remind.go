package workflow

import (
	"context"
	"fmt"
	"strings"

	"defectflow/internal/domain/defect"
	"defectflow/internal/ports"
)

// Remind nudges one collaborator still expected to produce work. The reminder
// is persisted and counted on the record; delivery is best effort.
func (s *Service) Remind(ctx context.Context, input RemindInput) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return errActorRequired
	}

	var (
		notifyRecipient string
		notifyTitle     string
	)
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		d, stage, _, err := s.loadDefectTx(txCtx, input.DefectNumber)
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
		if !collab.Status.StillActive() {
			return defect.ErrCollaboratorFinal
		}

		now := nowUTCString()
		if err := s.repo.BumpCollaboratorReminder(txCtx, collab.CollaboratorID, now); err != nil {
			return err
		}
		if _, err := s.repo.CreateReminder(txCtx, ports.Reminder{
			CollaboratorID: collab.CollaboratorID,
			Type:           string(collab.Role),
			Message:        input.Message,
			Status:         defect.ReminderSent,
			CreatedAt:      now,
		}); err != nil {
			return err
		}

		if err := appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   stage.StageType,
			Action:    defect.ActionRemind,
			Actor:     actor,
			Note:      collab.Assignee,
			Internal:  true,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		notifyRecipient = collab.Assignee
		notifyTitle = fmt.Sprintf("Defect %s: reminder on stage %s", d.Number, stage.StageType)
		return nil
	}); err != nil {
		return err
	}

	s.notifyBestEffort(ctx, notifyRecipient, notifyTitle, input.Message)
	return nil
}
