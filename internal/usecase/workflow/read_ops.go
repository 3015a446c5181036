package workflow

import (
	"context"
	"strings"

	"defectflow/internal/domain/defect"
	"defectflow/internal/ports"
)

// DefectDetail is the full read model of one defect: the defect row, its
// instance trail, the live content and the fan-out records on the current
// stage.
type DefectDetail struct {
	Defect        ports.Defect
	CurrentStage  ports.StageInstance
	Stages        []ports.StageInstance
	CurrentData   []ports.StageData
	Collaborators []ports.Collaborator
}

func (s *Service) GetDefect(ctx context.Context, number string) (DefectDetail, error) {
	if err := s.guard(ctx); err != nil {
		return DefectDetail{}, err
	}

	d, err := s.repo.GetDefectByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return DefectDetail{}, err
	}
	stage, err := s.repo.GetStage(ctx, d.CurrentStageID)
	if err != nil {
		return DefectDetail{}, err
	}
	stages, err := s.repo.ListStages(ctx, d.DefectID)
	if err != nil {
		return DefectDetail{}, err
	}
	data, err := s.repo.ListStageData(ctx, ports.StageDataFilter{
		StageID:       stage.StageID,
		OnlyCurrent:   true,
		IncludeDrafts: true,
	})
	if err != nil {
		return DefectDetail{}, err
	}
	collabs, err := s.repo.ListCollaborators(ctx, stage.StageID)
	if err != nil {
		return DefectDetail{}, err
	}

	return DefectDetail{
		Defect:        d,
		CurrentStage:  stage,
		Stages:        stages,
		CurrentData:   data,
		Collaborators: collabs,
	}, nil
}

func (s *Service) ListDefects(ctx context.Context, filter ports.DefectFilter) ([]ports.Defect, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListDefects(ctx, filter)
}

// History returns the defect's flow log, oldest first. Internal bookkeeping
// entries are filtered out unless explicitly asked for.
func (s *Service) History(ctx context.Context, number string, includeInternal bool) ([]ports.FlowEntry, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	d, err := s.repo.GetDefectByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, d.DefectID, includeInternal)
}

// Rejections returns the defect's rollback ledger, oldest first.
func (s *Service) Rejections(ctx context.Context, number string) ([]ports.Rejection, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}
	d, err := s.repo.GetDefectByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return nil, err
	}
	return s.repo.ListRejections(ctx, d.DefectID)
}

// StageVersions returns every content row ever written for one stage type of
// the defect, newest instance first. The append-only trail is the point;
// nothing here filters on the current flag.
func (s *Service) StageVersions(ctx context.Context, number string, stageType defect.StageTypeKey) ([]ports.StageData, error) {
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	d, err := s.repo.GetDefectByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return nil, err
	}
	stages, err := s.repo.ListStages(ctx, d.DefectID)
	if err != nil {
		return nil, err
	}

	var out []ports.StageData
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i].StageType != stageType {
			continue
		}
		rows, err := s.repo.ListStageData(ctx, ports.StageDataFilter{
			StageID:       stages[i].StageID,
			IncludeDrafts: true,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}
