package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"defectflow/internal/domain/defect"
	"defectflow/internal/ports"
)

// loadDefectTx resolves a defect by number together with its pipeline and
// current stage. Every mutating operation starts here, inside the tx, so the
// checks and the mutation see the same state.
func (s *Service) loadDefectTx(ctx context.Context, number string) (ports.Defect, ports.StageInstance, defect.Pipeline, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return ports.Defect{}, ports.StageInstance{}, defect.Pipeline{}, errors.New("defect number is required")
	}

	d, err := s.repo.GetDefectByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, ports.ErrDefectNotFound) {
			return ports.Defect{}, ports.StageInstance{}, defect.Pipeline{}, fmt.Errorf("defect %s not found", number)
		}
		return ports.Defect{}, ports.StageInstance{}, defect.Pipeline{}, err
	}

	pipeline, err := s.pipelines.Lookup(d.Pipeline)
	if err != nil {
		return ports.Defect{}, ports.StageInstance{}, defect.Pipeline{}, err
	}

	stage, err := s.repo.GetStage(ctx, d.CurrentStageID)
	if err != nil {
		return ports.Defect{}, ports.StageInstance{}, defect.Pipeline{}, err
	}
	if stage.DefectID != d.DefectID {
		return ports.Defect{}, ports.StageInstance{}, defect.Pipeline{}, defect.ErrStageMismatch
	}

	return d, stage, pipeline, nil
}

func appendHistoryTx(ctx context.Context, repo ports.WorkflowRepository, e ports.FlowEntry) error {
	if strings.TrimSpace(e.Actor) == "" {
		return errActorRequired
	}
	if e.CreatedAt == "" {
		e.CreatedAt = nowUTCString()
	}
	return repo.AppendHistory(ctx, e)
}

// advanceTx moves the defect forward: completes the current instance, creates
// the next one and repoints the current-stage reference. Forward movement
// always allocates a fresh instance.
func (s *Service) advanceTx(
	ctx context.Context,
	d ports.Defect,
	from ports.StageInstance,
	next defect.PipelineStage,
	completer string,
	nextAssignee string,
	now string,
) (ports.StageInstance, error) {
	if err := s.repo.CompleteStage(ctx, from.StageID, completer, now); err != nil {
		return ports.StageInstance{}, err
	}

	assignee := strings.TrimSpace(nextAssignee)
	if assignee == "" {
		assignee = d.Creator
	}

	prevID := from.StageID
	created, err := s.repo.CreateStage(ctx, ports.StageInstance{
		DefectID:   d.DefectID,
		StageType:  next.Type,
		Assignee:   assignee,
		Status:     defect.StageInProgress,
		PreviousID: &prevID,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return ports.StageInstance{}, err
	}

	if err := s.repo.SetCurrentStage(ctx, d.DefectID, created.StageID, now); err != nil {
		return ports.StageInstance{}, err
	}

	// Reaching confirmation means the fix survived regression.
	if next.Type == defect.StageConfirmation && d.Status == defect.DefectOpen {
		if err := s.repo.SetDefectStatus(ctx, d.DefectID, defect.DefectResolved, now); err != nil {
			return ports.StageInstance{}, err
		}
	}

	return created, nil
}
