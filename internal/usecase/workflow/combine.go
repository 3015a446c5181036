package workflow

import (
	"context"
	"errors"
	"strings"

	"defectflow/internal/domain/defect"
	"defectflow/internal/ports"
)

// combineTx folds a fan-out stage's accepted rows into one combine record.
// Source rows stay in place, flagged combined; upsert keeps one record per
// stage instance across gate retries.
func (s *Service) combineTx(ctx context.Context, d ports.Defect, stage ports.StageInstance, rows []ports.StageData, v ports.EvalResult, now string) error {
	sourceIDs := make([]uint64, 0, len(rows))
	parts := make([]string, 0, len(rows))
	for i, row := range rows {
		sourceIDs = append(sourceIDs, row.DataID)
		if i < len(v.Verdicts) && strings.TrimSpace(v.Verdicts[i].Suggestion) != "" {
			parts = append(parts, v.Verdicts[i].Suggestion)
		}
	}

	if _, err := s.repo.UpsertCombine(ctx, ports.CombineRecord{
		DefectID:   d.DefectID,
		StageID:    stage.StageID,
		SourceIDs:  sourceIDs,
		Suggestion: strings.Join(parts, "\n"),
		Score:      lowestScore(v),
		CombinedAt: now,
	}); err != nil {
		return err
	}
	return s.repo.MarkStageDataCombined(ctx, sourceIDs)
}

// Combine is the read-side accessor for the folded output of a fan-out stage.
func (s *Service) Combine(ctx context.Context, number string, stageType defect.StageTypeKey) (ports.CombineRecord, error) {
	if err := s.guard(ctx); err != nil {
		return ports.CombineRecord{}, err
	}

	d, err := s.repo.GetDefectByNumber(ctx, strings.TrimSpace(number))
	if err != nil {
		return ports.CombineRecord{}, err
	}
	stages, err := s.repo.ListStages(ctx, d.DefectID)
	if err != nil {
		return ports.CombineRecord{}, err
	}
	// Instances are listed oldest first; the newest matching one wins.
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i].StageType != stageType {
			continue
		}
		record, err := s.repo.GetCombine(ctx, stages[i].StageID)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, ports.ErrCombineNotFound) {
			return ports.CombineRecord{}, err
		}
	}
	return ports.CombineRecord{}, ports.ErrCombineNotFound
}
