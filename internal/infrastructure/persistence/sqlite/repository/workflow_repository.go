package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"defectflow/internal/domain/defect"
	"defectflow/internal/errs"
	"defectflow/internal/infrastructure/persistence/sqlite/model"
	"defectflow/internal/ports"
)

type WorkflowRepository struct {
	db *gorm.DB
}

var _ ports.WorkflowRepository = (*WorkflowRepository)(nil)

func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

// translate maps storage integrity failures onto the domain-facing sentinel.
func translate(err error, msg string) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "UNIQUE constraint") ||
		strings.Contains(err.Error(), "FOREIGN KEY constraint") ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return errs.Wrap(fmt.Errorf("%w: %v", ports.ErrConflict, err), msg)
	}
	return errs.Wrap(err, msg)
}

// --- reads ---

func (r *WorkflowRepository) GetDefect(ctx context.Context, defectID uint64) (ports.Defect, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Defect{}, err
	}

	var row model.Defect
	if err := db.Where("defect_id = ?", defectID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Defect{}, ports.ErrDefectNotFound
		}
		return ports.Defect{}, errs.Wrap(err, "query defect")
	}
	return mapDefect(row), nil
}

func (r *WorkflowRepository) GetDefectByNumber(ctx context.Context, number string) (ports.Defect, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Defect{}, err
	}

	var row model.Defect
	if err := db.Where("number = ?", strings.TrimSpace(number)).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Defect{}, ports.ErrDefectNotFound
		}
		return ports.Defect{}, errs.Wrap(err, "query defect by number")
	}
	return mapDefect(row), nil
}

func (r *WorkflowRepository) ListDefects(ctx context.Context, filter ports.DefectFilter) ([]ports.Defect, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Defect{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if creator := strings.TrimSpace(filter.Creator); creator != "" {
		query = query.Where("creator = ?", creator)
	}
	if filter.Pipeline != "" {
		query = query.Where("pipeline = ?", filter.Pipeline)
	}
	if filter.Stage != "" {
		sub := db.Model(&model.StageInstance{}).
			Select("stage_id").
			Where("stage_type = ?", string(filter.Stage))
		query = query.Where("current_stage_id IN (?)", sub)
	}

	var rows []model.Defect
	if err := query.Order("defect_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query defects")
	}

	items := make([]ports.Defect, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapDefect(row))
	}
	return items, nil
}

func (r *WorkflowRepository) GetStage(ctx context.Context, stageID uint64) (ports.StageInstance, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.StageInstance{}, err
	}

	var row model.StageInstance
	if err := db.Where("stage_id = ?", stageID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.StageInstance{}, ports.ErrStageNotFound
		}
		return ports.StageInstance{}, errs.Wrap(err, "query stage")
	}
	return mapStage(row), nil
}

func (r *WorkflowRepository) ListStages(ctx context.Context, defectID uint64) ([]ports.StageInstance, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.StageInstance
	if err := db.
		Where("defect_id = ?", defectID).
		Order("stage_id asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query stages")
	}

	items := make([]ports.StageInstance, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapStage(row))
	}
	return items, nil
}

func (r *WorkflowRepository) GetStageData(ctx context.Context, dataID uint64) (ports.StageData, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.StageData{}, err
	}

	var row model.StageData
	if err := db.Where("data_id = ?", dataID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.StageData{}, ports.ErrStageDataNotFound
		}
		return ports.StageData{}, errs.Wrap(err, "query stage data")
	}
	return mapStageData(row), nil
}

func (r *WorkflowRepository) ListStageData(ctx context.Context, filter ports.StageDataFilter) ([]ports.StageData, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.StageData{}).Where("stage_id = ?", filter.StageID)
	if filter.Kind != "" {
		query = query.Where("kind = ?", string(filter.Kind))
	}
	if filter.CollaboratorID != nil {
		query = query.Where("collaborator_id = ?", *filter.CollaboratorID)
	}
	if filter.OnlyCurrent {
		query = query.Where("is_current = ?", true)
	}
	if !filter.IncludeDrafts {
		query = query.Where("is_draft = ?", false)
	}

	var rows []model.StageData
	if err := query.Order("data_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query stage data rows")
	}

	items := make([]ports.StageData, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapStageData(row))
	}
	return items, nil
}

func (r *WorkflowRepository) GetCollaborator(ctx context.Context, collaboratorID uint64) (ports.Collaborator, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Collaborator{}, err
	}

	var row model.Collaborator
	if err := db.Where("collaborator_id = ?", collaboratorID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Collaborator{}, ports.ErrCollaboratorNotFound
		}
		return ports.Collaborator{}, errs.Wrap(err, "query collaborator")
	}
	return mapCollaborator(row), nil
}

func (r *WorkflowRepository) ListCollaborators(ctx context.Context, stageID uint64) ([]ports.Collaborator, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Collaborator
	if err := db.
		Where("stage_id = ?", stageID).
		Order("collaborator_id asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query collaborators")
	}

	items := make([]ports.Collaborator, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapCollaborator(row))
	}
	return items, nil
}

func (r *WorkflowRepository) GetCombine(ctx context.Context, stageID uint64) (ports.CombineRecord, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.CombineRecord{}, err
	}

	var row model.CombineRecord
	if err := db.Where("stage_id = ?", stageID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.CombineRecord{}, ports.ErrCombineNotFound
		}
		return ports.CombineRecord{}, errs.Wrap(err, "query combine record")
	}
	return mapCombine(row)
}

func (r *WorkflowRepository) ListHistory(ctx context.Context, defectID uint64, includeInternal bool) ([]ports.FlowEntry, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.FlowHistory{}).Where("defect_id = ?", defectID)
	if !includeInternal {
		query = query.Where("internal = ?", false)
	}

	var rows []model.FlowHistory
	if err := query.Order("entry_id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query flow history")
	}

	items := make([]ports.FlowEntry, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.FlowEntry{
			EntryID:   row.EntryID,
			DefectID:  row.DefectID,
			FromStage: defect.StageTypeKey(row.FromStage),
			ToStage:   defect.StageTypeKey(row.ToStage),
			Action:    defect.Action(row.Action),
			Actor:     row.Actor,
			Note:      row.Note,
			EvalRunID: row.EvalRunID,
			Internal:  row.Internal,
			CreatedAt: row.CreatedAt,
		})
	}
	return items, nil
}

func (r *WorkflowRepository) ListRejections(ctx context.Context, defectID uint64) ([]ports.Rejection, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Rejection
	if err := db.
		Where("defect_id = ?", defectID).
		Order("rejection_id asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query rejections")
	}

	items := make([]ports.Rejection, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.Rejection{
			RejectionID:     row.RejectionID,
			DefectID:        row.DefectID,
			Type:            defect.RejectionType(row.Type),
			Reason:          row.Reason,
			Actor:           row.Actor,
			StageID:         row.StageID,
			CollaboratorID:  row.CollaboratorID,
			DataID:          row.DataID,
			PreviousStageID: row.PreviousStageID,
			CreatedAt:       row.CreatedAt,
		})
	}
	return items, nil
}

func (r *WorkflowRepository) ListReminders(ctx context.Context, collaboratorID uint64) ([]ports.Reminder, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Reminder
	if err := db.
		Where("collaborator_id = ?", collaboratorID).
		Order("reminder_id asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query reminders")
	}

	items := make([]ports.Reminder, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.Reminder{
			ReminderID:     row.ReminderID,
			CollaboratorID: row.CollaboratorID,
			Type:           row.Type,
			Message:        row.Message,
			Status:         defect.ReminderStatus(row.Status),
			CreatedAt:      row.CreatedAt,
		})
	}
	return items, nil
}

// --- writes ---

func (r *WorkflowRepository) NextDefectNumber(ctx context.Context, day string) (int, error) {
	if ports.TxFromContext(ctx) != nil {
		db, err := r.dbFromContext(ctx)
		if err != nil {
			return 0, err
		}

		var counter model.NumberCounter
		err = db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("day = ?", day).
			Take(&counter).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			counter = model.NumberCounter{Day: day, NextSeq: 2}
			if err := db.Create(&counter).Error; err != nil {
				return 0, translate(err, "insert number counter")
			}
			return 1, nil
		}
		if err != nil {
			return 0, errs.Wrap(err, "lock number counter")
		}

		seq := counter.NextSeq
		if err := db.Model(&model.NumberCounter{}).
			Where("day = ?", day).
			Update("next_seq", seq+1).Error; err != nil {
			return 0, errs.Wrap(err, "advance number counter")
		}
		return seq, nil
	}

	seq := 0
	if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		got, err := r.NextDefectNumber(ports.WithTxContext(ctx, tx), day)
		if err != nil {
			return err
		}
		seq = got
		return nil
	}); err != nil {
		return 0, err
	}
	return seq, nil
}

func (r *WorkflowRepository) CreateDefect(ctx context.Context, d ports.Defect) (ports.Defect, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Defect{}, err
	}

	row := model.Defect{
		Number:          d.Number,
		Title:           d.Title,
		Description:     d.Description,
		Severity:        string(d.Severity),
		Reproducibility: string(d.Reproducibility),
		Creator:         d.Creator,
		Status:          string(d.Status),
		Pipeline:        d.Pipeline,
		CurrentStageID:  d.CurrentStageID,
		ProjectID:       d.ProjectID,
		VersionID:       d.VersionID,
		DuplicateOfID:   d.DuplicateOfID,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.Defect{}, translate(err, "insert defect")
	}
	return mapDefect(row), nil
}

func (r *WorkflowRepository) SetDefectStatus(ctx context.Context, defectID uint64, status defect.DefectStatus, updatedAt string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.Defect{}).
		Where("defect_id = ?", defectID).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": updatedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "update defect status")
	}
	return nil
}

func (r *WorkflowRepository) SetCurrentStage(ctx context.Context, defectID uint64, stageID uint64, updatedAt string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.Defect{}).
		Where("defect_id = ?", defectID).
		Updates(map[string]any{
			"current_stage_id": stageID,
			"updated_at":       updatedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "update defect current stage")
	}
	return nil
}

func (r *WorkflowRepository) SetDuplicateOf(ctx context.Context, defectID uint64, duplicateOfID uint64, updatedAt string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.Defect{}).
		Where("defect_id = ?", defectID).
		Updates(map[string]any{
			"duplicate_of_id": duplicateOfID,
			"updated_at":      updatedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "update defect duplicate link")
	}
	return nil
}

func (r *WorkflowRepository) CreateStage(ctx context.Context, s ports.StageInstance) (ports.StageInstance, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.StageInstance{}, err
	}

	row := model.StageInstance{
		DefectID:       s.DefectID,
		StageType:      string(s.StageType),
		Assignee:       s.Assignee,
		Completer:      s.Completer,
		Status:         string(s.Status),
		PreviousID:     s.PreviousID,
		RejectionCount: s.RejectionCount,
		Note:           s.Note,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		CompletedAt:    s.CompletedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.StageInstance{}, translate(err, "insert stage instance")
	}
	return mapStage(row), nil
}

func (r *WorkflowRepository) SetStageStatus(ctx context.Context, stageID uint64, status defect.StageStatus, updatedAt string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.StageInstance{}).
		Where("stage_id = ?", stageID).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": updatedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "update stage status")
	}
	return nil
}

func (r *WorkflowRepository) CompleteStage(ctx context.Context, stageID uint64, completer string, completedAt string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.StageInstance{}).
		Where("stage_id = ?", stageID).
		Updates(map[string]any{
			"status":       string(defect.StageCompleted),
			"completer":    completer,
			"completed_at": completedAt,
			"updated_at":   completedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "complete stage")
	}
	return nil
}

func (r *WorkflowRepository) ReactivateStage(ctx context.Context, stageID uint64, updatedAt string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.StageInstance{}).
		Where("stage_id = ?", stageID).
		Updates(map[string]any{
			"status":          string(defect.StagePendingUpdate),
			"rejection_count": gorm.Expr("rejection_count + 1"),
			"completer":       "",
			"completed_at":    nil,
			"updated_at":      updatedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "reactivate stage")
	}
	return nil
}

func (r *WorkflowRepository) SetStageAssignee(ctx context.Context, stageID uint64, assignee string, note string, status defect.StageStatus, updatedAt string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"assignee":   assignee,
		"updated_at": updatedAt,
	}
	if note != "" {
		updates["note"] = note
	}
	if status != "" {
		updates["status"] = string(status)
	}

	if err := db.Model(&model.StageInstance{}).
		Where("stage_id = ?", stageID).
		Updates(updates).Error; err != nil {
		return errs.Wrap(err, "update stage assignee")
	}
	return nil
}

func (r *WorkflowRepository) ClearCurrentStageData(ctx context.Context, key ports.StageDataKey) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	query := db.Model(&model.StageData{}).
		Where("stage_id = ? AND is_current = ?", key.StageID, true)
	if key.Kind != "" {
		query = query.Where("kind = ?", string(key.Kind))
	}
	if key.CollaboratorID != nil {
		query = query.Where("collaborator_id = ?", *key.CollaboratorID)
	} else {
		query = query.Where("collaborator_id IS NULL")
	}

	if err := query.Update("is_current", false).Error; err != nil {
		return errs.Wrap(err, "clear current stage data")
	}
	return nil
}

func (r *WorkflowRepository) CreateStageData(ctx context.Context, d ports.StageData) (ports.StageData, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.StageData{}, err
	}

	row := model.StageData{
		StageID:        d.StageID,
		Kind:           string(d.Kind),
		Content:        d.Content,
		Submitter:      d.Submitter,
		CollaboratorID: d.CollaboratorID,
		IsDraft:        d.IsDraft,
		IsCurrent:      d.IsCurrent,
		IsCombined:     d.IsCombined,
		EvalMethod:     string(d.EvalMethod),
		EvalSuggestion: d.EvalSuggestion,
		EvalScore:      d.EvalScore,
		EvaluatedAt:    d.EvaluatedAt,
		CreatedAt:      d.CreatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.StageData{}, translate(err, "insert stage data")
	}
	return mapStageData(row), nil
}

func (r *WorkflowRepository) SetStageDataEvaluation(ctx context.Context, dataID uint64, method defect.EvalMethod, suggestion string, score int, evaluatedAt string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.StageData{}).
		Where("data_id = ?", dataID).
		Updates(map[string]any{
			"eval_method":     string(method),
			"eval_suggestion": suggestion,
			"eval_score":      score,
			"evaluated_at":    evaluatedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "update stage data evaluation")
	}
	return nil
}

func (r *WorkflowRepository) MarkStageDataCombined(ctx context.Context, dataIDs []uint64) error {
	if len(dataIDs) == 0 {
		return nil
	}

	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.StageData{}).
		Where("data_id IN ?", dataIDs).
		Update("is_combined", true).Error; err != nil {
		return errs.Wrap(err, "mark stage data combined")
	}
	return nil
}

func (r *WorkflowRepository) CreateCollaborator(ctx context.Context, c ports.Collaborator) (ports.Collaborator, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Collaborator{}, err
	}

	row := model.Collaborator{
		StageID:        c.StageID,
		Role:           string(c.Role),
		Assigner:       c.Assigner,
		Assignee:       c.Assignee,
		Rationale:      c.Rationale,
		Status:         string(c.Status),
		RemindCount:    c.RemindCount,
		LastRemindedAt: c.LastRemindedAt,
		RejectReason:   c.RejectReason,
		RejectedAt:     c.RejectedAt,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.Collaborator{}, translate(err, "insert collaborator")
	}
	return mapCollaborator(row), nil
}

func (r *WorkflowRepository) SetCollaboratorStatus(ctx context.Context, collaboratorID uint64, status defect.CollaboratorStatus, updatedAt string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.Collaborator{}).
		Where("collaborator_id = ?", collaboratorID).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": updatedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "update collaborator status")
	}
	return nil
}

func (r *WorkflowRepository) RejectCollaborator(ctx context.Context, collaboratorID uint64, status defect.CollaboratorStatus, reason string, rejectedAt string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.Collaborator{}).
		Where("collaborator_id = ?", collaboratorID).
		Updates(map[string]any{
			"status":        string(status),
			"reject_reason": reason,
			"rejected_at":   rejectedAt,
			"updated_at":    rejectedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "reject collaborator")
	}
	return nil
}

func (r *WorkflowRepository) BumpCollaboratorReminder(ctx context.Context, collaboratorID uint64, remindedAt string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.Collaborator{}).
		Where("collaborator_id = ?", collaboratorID).
		Updates(map[string]any{
			"remind_count":     gorm.Expr("remind_count + 1"),
			"last_reminded_at": remindedAt,
			"updated_at":       remindedAt,
		}).Error; err != nil {
		return errs.Wrap(err, "bump collaborator reminder")
	}
	return nil
}

func (r *WorkflowRepository) PurgeCollaboratorCycle(ctx context.Context, collaboratorID uint64) error {
	if ports.TxFromContext(ctx) != nil {
		db, err := r.dbFromContext(ctx)
		if err != nil {
			return err
		}

		if err := db.Where("collaborator_id = ?", collaboratorID).Delete(&model.StageData{}).Error; err != nil {
			return errs.Wrap(err, "delete collaborator stage data")
		}
		if err := db.Where("collaborator_id = ?", collaboratorID).Delete(&model.Collaborator{}).Error; err != nil {
			return errs.Wrap(err, "delete collaborator record")
		}
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.PurgeCollaboratorCycle(ports.WithTxContext(ctx, tx), collaboratorID)
	})
}

func (r *WorkflowRepository) CreateReminder(ctx context.Context, rem ports.Reminder) (ports.Reminder, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Reminder{}, err
	}

	row := model.Reminder{
		CollaboratorID: rem.CollaboratorID,
		Type:           rem.Type,
		Message:        rem.Message,
		Status:         string(rem.Status),
		CreatedAt:      rem.CreatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.Reminder{}, translate(err, "insert reminder")
	}
	rem.ReminderID = row.ReminderID
	return rem, nil
}

func (r *WorkflowRepository) UpsertCombine(ctx context.Context, c ports.CombineRecord) (ports.CombineRecord, error) {
	sourceJSON, err := json.Marshal(c.SourceIDs)
	if err != nil {
		return ports.CombineRecord{}, errs.Wrap(err, "marshal combine sources")
	}

	if ports.TxFromContext(ctx) != nil {
		db, err := r.dbFromContext(ctx)
		if err != nil {
			return ports.CombineRecord{}, err
		}

		row := model.CombineRecord{
			DefectID:   c.DefectID,
			StageID:    c.StageID,
			SourceIDs:  string(sourceJSON),
			Suggestion: c.Suggestion,
			Score:      c.Score,
			CombinedAt: c.CombinedAt,
		}
		if err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stage_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"source_ids":  row.SourceIDs,
				"suggestion":  row.Suggestion,
				"score":       row.Score,
				"combined_at": row.CombinedAt,
			}),
		}).Create(&row).Error; err != nil {
			return ports.CombineRecord{}, translate(err, "upsert combine record")
		}

		return r.GetCombine(ctx, c.StageID)
	}

	var out ports.CombineRecord
	if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		got, err := r.UpsertCombine(ports.WithTxContext(ctx, tx), c)
		if err != nil {
			return err
		}
		out = got
		return nil
	}); err != nil {
		return ports.CombineRecord{}, err
	}
	return out, nil
}

func (r *WorkflowRepository) CreateRejection(ctx context.Context, rej ports.Rejection) (ports.Rejection, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Rejection{}, err
	}

	row := model.Rejection{
		DefectID:        rej.DefectID,
		Type:            string(rej.Type),
		Reason:          rej.Reason,
		Actor:           rej.Actor,
		StageID:         rej.StageID,
		CollaboratorID:  rej.CollaboratorID,
		DataID:          rej.DataID,
		PreviousStageID: rej.PreviousStageID,
		CreatedAt:       rej.CreatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.Rejection{}, translate(err, "insert rejection")
	}
	rej.RejectionID = row.RejectionID
	return rej, nil
}

func (r *WorkflowRepository) AppendHistory(ctx context.Context, e ports.FlowEntry) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row := model.FlowHistory{
		DefectID:  e.DefectID,
		FromStage: string(e.FromStage),
		ToStage:   string(e.ToStage),
		Action:    string(e.Action),
		Actor:     e.Actor,
		Note:      e.Note,
		EvalRunID: e.EvalRunID,
		Internal:  e.Internal,
		CreatedAt: e.CreatedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert flow history")
	}
	return nil
}

// --- mapping ---

func mapDefect(row model.Defect) ports.Defect {
	return ports.Defect{
		DefectID:        row.DefectID,
		Number:          row.Number,
		Title:           row.Title,
		Description:     row.Description,
		Severity:        defect.Severity(row.Severity),
		Reproducibility: defect.Reproducibility(row.Reproducibility),
		Creator:         row.Creator,
		Status:          defect.DefectStatus(row.Status),
		Pipeline:        row.Pipeline,
		CurrentStageID:  row.CurrentStageID,
		ProjectID:       row.ProjectID,
		VersionID:       row.VersionID,
		DuplicateOfID:   row.DuplicateOfID,
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
	}
}

func mapStage(row model.StageInstance) ports.StageInstance {
	return ports.StageInstance{
		StageID:        row.StageID,
		DefectID:       row.DefectID,
		StageType:      defect.StageTypeKey(row.StageType),
		Assignee:       row.Assignee,
		Completer:      row.Completer,
		Status:         defect.StageStatus(row.Status),
		PreviousID:     row.PreviousID,
		RejectionCount: row.RejectionCount,
		Note:           row.Note,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		CompletedAt:    row.CompletedAt,
	}
}

func mapStageData(row model.StageData) ports.StageData {
	return ports.StageData{
		DataID:         row.DataID,
		StageID:        row.StageID,
		Kind:           defect.DataKind(row.Kind),
		Content:        row.Content,
		Submitter:      row.Submitter,
		CollaboratorID: row.CollaboratorID,
		IsDraft:        row.IsDraft,
		IsCurrent:      row.IsCurrent,
		IsCombined:     row.IsCombined,
		EvalMethod:     defect.EvalMethod(row.EvalMethod),
		EvalSuggestion: row.EvalSuggestion,
		EvalScore:      row.EvalScore,
		EvaluatedAt:    row.EvaluatedAt,
		CreatedAt:      row.CreatedAt,
	}
}

func mapCollaborator(row model.Collaborator) ports.Collaborator {
	return ports.Collaborator{
		CollaboratorID: row.CollaboratorID,
		StageID:        row.StageID,
		Role:           defect.CollaboratorRole(row.Role),
		Assigner:       row.Assigner,
		Assignee:       row.Assignee,
		Rationale:      row.Rationale,
		Status:         defect.CollaboratorStatus(row.Status),
		RemindCount:    row.RemindCount,
		LastRemindedAt: row.LastRemindedAt,
		RejectReason:   row.RejectReason,
		RejectedAt:     row.RejectedAt,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
}

func mapCombine(row model.CombineRecord) (ports.CombineRecord, error) {
	var sources []uint64
	if row.SourceIDs != "" {
		if err := json.Unmarshal([]byte(row.SourceIDs), &sources); err != nil {
			return ports.CombineRecord{}, errs.Wrap(err, "unmarshal combine sources")
		}
	}

	return ports.CombineRecord{
		CombineID:  row.CombineID,
		DefectID:   row.DefectID,
		StageID:    row.StageID,
		SourceIDs:  sources,
		Suggestion: row.Suggestion,
		Score:      row.Score,
		CombinedAt: row.CombinedAt,
	}, nil
}
