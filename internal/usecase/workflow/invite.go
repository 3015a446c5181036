package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"defectflow/internal/domain/defect"
	"defectflow/internal/ports"
)

// Invite adds an analysis collaborator to the current stage. The invitee may
// accept, decline or transfer before producing any content.
func (s *Service) Invite(ctx context.Context, input InviteInput) (uint64, error) {
	return s.addCollaborator(ctx, input, defect.RoleInvitation, defect.ActionInviteToAnalyze)
}

// AssignDivision splits the current stage's work onto another assignee. Unlike
// invitations, divisions start accepted; the assigner decides, not the invitee.
func (s *Service) AssignDivision(ctx context.Context, input InviteInput) (uint64, error) {
	return s.addCollaborator(ctx, input, defect.RoleDivision, defect.ActionAssignDivision)
}

func (s *Service) addCollaborator(ctx context.Context, input InviteInput, role defect.CollaboratorRole, action defect.Action) (uint64, error) {
	if err := s.guard(ctx); err != nil {
		return 0, err
	}
	inviter := strings.TrimSpace(input.Inviter)
	if inviter == "" {
		return 0, errActorRequired
	}
	invitee := strings.TrimSpace(input.Invitee)
	if invitee == "" {
		return 0, errors.New("invitee is required")
	}

	status := defect.CollabPending
	if role == defect.RoleDivision {
		status = defect.CollabAccepted
	}

	var (
		createdID   uint64
		notifyTitle string
	)
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
		if !stage.Status.AcceptsSubmission() {
			return fmt.Errorf("%w: stage %s is %s", defect.ErrStageNotSubmittable, stage.StageType, stage.Status)
		}

		pipeStage, err := pipeline.Stage(stage.StageType)
		if err != nil {
			return err
		}
		if !pipeStage.FanOut || pipeStage.FanOutRole != role {
			return fmt.Errorf("%w: stage %s", defect.ErrFanOutNotAllowed, stage.StageType)
		}

		// One assignee, one live record per stage. Earlier terminal records
		// allow a fresh cycle unless the assignee declined outright.
		existing, err := s.repo.ListCollaborators(txCtx, stage.StageID)
		if err != nil {
			return err
		}
		var purgeID *uint64
		for _, c := range existing {
			if c.Assignee != invitee {
				continue
			}
			if err := defect.CanReinvite(c.Status); err != nil {
				return err
			}
			if s.opts.CompactReinvites {
				id := c.CollaboratorID
				purgeID = &id
			}
		}
		if purgeID != nil {
			if err := s.repo.PurgeCollaboratorCycle(txCtx, *purgeID); err != nil {
				return err
			}
		}

		now := nowUTCString()
		created, err := s.repo.CreateCollaborator(txCtx, ports.Collaborator{
			StageID:   stage.StageID,
			Role:      role,
			Assigner:  inviter,
			Assignee:  invitee,
			Rationale: strings.TrimSpace(input.Reason),
			Status:    status,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		createdID = created.CollaboratorID

		if err := appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   stage.StageType,
			Action:    action,
			Actor:     inviter,
			Note:      invitee,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		notifyTitle = fmt.Sprintf("Defect %s: %s on stage %s", d.Number, strings.ToLower(string(role)), stage.StageType)
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.notifyBestEffort(ctx, invitee, notifyTitle, input.Reason)
	return createdID, nil
}

// AcceptInvitation moves a pending invitation to accepted.
func (s *Service) AcceptInvitation(ctx context.Context, input InvitationActionInput) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return errActorRequired
	}

	return s.uow.WithTx(ctx, func(txCtx context.Context) error {
		d, stage, collab, err := s.loadInvitationTx(txCtx, input.DefectNumber, input.CollaboratorID)
		if err != nil {
			return err
		}
		now := nowUTCString()
		if err := s.repo.SetCollaboratorStatus(txCtx, collab.CollaboratorID, defect.CollabAccepted, now); err != nil {
			return err
		}
		return appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   stage.StageType,
			Action:    defect.ActionUpdate,
			Actor:     actor,
			Note:      fmt.Sprintf("invitation accepted by %s", collab.Assignee),
			Internal:  true,
			CreatedAt: now,
		})
	})
}

// DeclineInvitation ends the record permanently for this assignee on this
// stage: a declined invitee cannot be re-invited to the same instance.
func (s *Service) DeclineInvitation(ctx context.Context, input InvitationActionInput) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return errActorRequired
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return errReasonRequired
	}

	var (
		notifyRecipient string
		notifyTitle     string
		notifyBody      string
	)
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		d, stage, collab, err := s.loadInvitationTx(txCtx, input.DefectNumber, input.CollaboratorID)
		if err != nil {
			return err
		}
		now := nowUTCString()
		if err := s.repo.RejectCollaborator(txCtx, collab.CollaboratorID, defect.CollabInvitationRejected, reason, now); err != nil {
			return err
		}
		if _, err := s.repo.CreateRejection(txCtx, ports.Rejection{
			DefectID:       d.DefectID,
			Type:           defect.RejectInvitation,
			Reason:         reason,
			Actor:          actor,
			StageID:        stage.StageID,
			CollaboratorID: &collab.CollaboratorID,
			CreatedAt:      now,
		}); err != nil {
			return err
		}
		if err := appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   stage.StageType,
			Action:    defect.ActionReject,
			Actor:     actor,
			Note:      fmt.Sprintf("invitation declined: %s", reason),
			CreatedAt: now,
		}); err != nil {
			return err
		}

		notifyRecipient = collab.Assigner
		notifyTitle = fmt.Sprintf("Defect %s: invitation declined", d.Number)
		notifyBody = fmt.Sprintf("%s declined: %s", collab.Assignee, reason)
		return nil
	}); err != nil {
		return err
	}

	s.notifyBestEffort(ctx, notifyRecipient, notifyTitle, notifyBody)
	return nil
}

// TransferInvitation hands a pending record to someone else. The original
// record closes as TRANSFERRED and a fresh pending record carries the work.
func (s *Service) TransferInvitation(ctx context.Context, input TransferInvitationInput) (uint64, error) {
	if err := s.guard(ctx); err != nil {
		return 0, err
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return 0, errActorRequired
	}
	newAssignee := strings.TrimSpace(input.NewAssignee)
	if newAssignee == "" {
		return 0, errors.New("new assignee is required")
	}

	var (
		createdID   uint64
		notifyTitle string
		notifyBody  string
	)
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		d, stage, collab, err := s.loadInvitationTx(txCtx, input.DefectNumber, input.CollaboratorID)
		if err != nil {
			return err
		}
		if newAssignee == collab.Assignee {
			return errors.New("cannot transfer to the current assignee")
		}

		now := nowUTCString()
		if err := s.repo.SetCollaboratorStatus(txCtx, collab.CollaboratorID, defect.CollabTransferred, now); err != nil {
			return err
		}
		created, err := s.repo.CreateCollaborator(txCtx, ports.Collaborator{
			StageID:   stage.StageID,
			Role:      collab.Role,
			Assigner:  collab.Assignee,
			Assignee:  newAssignee,
			Rationale: collab.Rationale,
			Status:    defect.CollabPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		createdID = created.CollaboratorID

		if err := appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   stage.StageType,
			Action:    defect.ActionTransfer,
			Actor:     actor,
			Note:      fmt.Sprintf("%s -> %s", collab.Assignee, newAssignee),
			CreatedAt: now,
		}); err != nil {
			return err
		}

		notifyTitle = fmt.Sprintf("Defect %s: work transferred to you", d.Number)
		notifyBody = fmt.Sprintf("%s handed over stage %s.", collab.Assignee, stage.StageType)
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.notifyBestEffort(ctx, newAssignee, notifyTitle, notifyBody)
	return createdID, nil
}

// loadInvitationTx resolves a collaborator record still open to invitation
// actions, verifying it belongs to the defect's current stage.
func (s *Service) loadInvitationTx(ctx context.Context, number string, collaboratorID uint64) (ports.Defect, ports.StageInstance, ports.Collaborator, error) {
	d, stage, _, err := s.loadDefectTx(ctx, number)
	if err != nil {
		return ports.Defect{}, ports.StageInstance{}, ports.Collaborator{}, err
	}
	if d.Status.Final() {
		return ports.Defect{}, ports.StageInstance{}, ports.Collaborator{}, defect.ErrDefectFinal
	}

	collab, err := s.repo.GetCollaborator(ctx, collaboratorID)
	if err != nil {
		return ports.Defect{}, ports.StageInstance{}, ports.Collaborator{}, err
	}
	if collab.StageID != stage.StageID {
		return ports.Defect{}, ports.StageInstance{}, ports.Collaborator{}, defect.ErrStageMismatch
	}
	if collab.Status != defect.CollabPending {
		return ports.Defect{}, ports.StageInstance{}, ports.Collaborator{}, defect.ErrCollaboratorFinal
	}
	return d, stage, collab, nil
}
