package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"defectflow/internal/domain/defect"
	"defectflow/internal/ports"
)

// CreateDefect registers a new defect and allocates its first stage instance.
// The date-seeded number is drawn under a row lock so concurrent creations
// never collide.
func (s *Service) CreateDefect(ctx context.Context, input CreateDefectInput) (string, error) {
	if err := s.guard(ctx); err != nil {
		return "", err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return "", errTitleRequired
	}
	creator := strings.TrimSpace(input.Creator)
	if creator == "" {
		return "", errors.New("creator is required")
	}

	severity, err := defect.ParseSeverity(strings.ToUpper(strings.TrimSpace(input.Severity)))
	if err != nil {
		return "", err
	}
	repro, err := defect.ParseReproducibility(strings.ToUpper(strings.TrimSpace(input.Reproducibility)))
	if err != nil {
		return "", err
	}

	pipelineKey := strings.TrimSpace(input.Pipeline)
	if pipelineKey == "" {
		pipelineKey = defect.PipelineFull
	}
	pipeline, err := s.pipelines.Lookup(pipelineKey)
	if err != nil {
		return "", err
	}

	// A defect belongs to a project or to a version, never both, never neither.
	if (input.ProjectID == nil) == (input.VersionID == nil) {
		return "", defect.ErrAssociationRequired
	}

	now := time.Now().UTC()
	nowText := now.Format(time.RFC3339Nano)

	defectStatus := defect.DefectOpen
	stageStatus := defect.StageInProgress
	if input.Draft {
		defectStatus = defect.DefectDraft
		stageStatus = defect.StageDraft
	}

	number := ""
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		seq, err := s.repo.NextDefectNumber(txCtx, defect.CounterDay(now))
		if err != nil {
			return err
		}
		number = defect.FormatNumber(now, seq)

		created, err := s.repo.CreateDefect(txCtx, ports.Defect{
			Number:          number,
			Title:           title,
			Description:     strings.TrimSpace(input.Description),
			Severity:        severity,
			Reproducibility: repro,
			Creator:         creator,
			Status:          defectStatus,
			Pipeline:        pipeline.Key,
			ProjectID:       input.ProjectID,
			VersionID:       input.VersionID,
			CreatedAt:       nowText,
			UpdatedAt:       nowText,
		})
		if err != nil {
			return err
		}

		first := pipeline.First()
		stage, err := s.repo.CreateStage(txCtx, ports.StageInstance{
			DefectID:  created.DefectID,
			StageType: first.Type,
			Assignee:  creator,
			Status:    stageStatus,
			CreatedAt: nowText,
			UpdatedAt: nowText,
		})
		if err != nil {
			return err
		}

		if err := s.repo.SetCurrentStage(txCtx, created.DefectID, stage.StageID, nowText); err != nil {
			return err
		}

		return appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  created.DefectID,
			ToStage:   first.Type,
			Action:    defect.ActionCreate,
			Actor:     creator,
			Note:      title,
			CreatedAt: nowText,
		})
	}); err != nil {
		return "", err
	}

	return number, nil
}

// MarkDuplicate links a defect to the one it duplicates. The defect itself is
// never deleted; the self-reference is resolved by lookup, not embedding.
func (s *Service) MarkDuplicate(ctx context.Context, number string, duplicateOfNumber string, actor string) error {
	if err := s.guard(ctx); err != nil {
		return err
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return errActorRequired
	}

	return s.uow.WithTx(ctx, func(txCtx context.Context) error {
		d, _, _, err := s.loadDefectTx(txCtx, number)
		if err != nil {
			return err
		}
		original, _, _, err := s.loadDefectTx(txCtx, duplicateOfNumber)
		if err != nil {
			return err
		}
		if original.DefectID == d.DefectID {
			return errors.New("defect cannot duplicate itself")
		}

		now := nowUTCString()
		if err := s.repo.SetDuplicateOf(txCtx, d.DefectID, original.DefectID, now); err != nil {
			return err
		}

		return appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			Action:    defect.ActionUpdate,
			Actor:     actor,
			Note:      "marked duplicate of " + original.Number,
			CreatedAt: now,
		})
	})
}
