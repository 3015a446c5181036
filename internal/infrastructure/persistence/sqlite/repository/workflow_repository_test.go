package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"defectflow/internal/domain/defect"
	"defectflow/internal/infrastructure/persistence/sqlite/model"
	"defectflow/internal/ports"
)

func setupRepo(t *testing.T) *WorkflowRepository {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "repo.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Exec("PRAGMA foreign_keys = ON;").Error; err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Defect{},
		&model.StageInstance{},
		&model.StageData{},
		&model.Collaborator{},
		&model.CombineRecord{},
		&model.Reminder{},
		&model.Rejection{},
		&model.FlowHistory{},
		&model.NumberCounter{},
		&model.WorkflowKV{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return NewWorkflowRepository(db)
}

const ts = "2026-03-07T12:00:00Z"

func seedDefect(t *testing.T, r *WorkflowRepository, number string) (ports.Defect, ports.StageInstance) {
	t.Helper()

	ctx := context.Background()
	projectID := uint64(1)
	d, err := r.CreateDefect(ctx, ports.Defect{
		Number:          number,
		Title:           "seed",
		Severity:        defect.SeverityMajor,
		Reproducibility: defect.ReproAlways,
		Creator:         "alice",
		Status:          defect.DefectOpen,
		Pipeline:        defect.PipelineFull,
		ProjectID:       &projectID,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	})
	if err != nil {
		t.Fatalf("CreateDefect() error = %v", err)
	}

	stage, err := r.CreateStage(ctx, ports.StageInstance{
		DefectID:  d.DefectID,
		StageType: defect.StageDescription,
		Assignee:  "alice",
		Status:    defect.StageInProgress,
		CreatedAt: ts,
		UpdatedAt: ts,
	})
	if err != nil {
		t.Fatalf("CreateStage() error = %v", err)
	}
	if err := r.SetCurrentStage(ctx, d.DefectID, stage.StageID, ts); err != nil {
		t.Fatalf("SetCurrentStage() error = %v", err)
	}
	return d, stage
}

func TestNextDefectNumberSequencesPerDay(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := r.NextDefectNumber(ctx, "20260307")
		if err != nil {
			t.Fatalf("NextDefectNumber() error = %v", err)
		}
		if got != want {
			t.Fatalf("NextDefectNumber() = %d, want %d", got, want)
		}
	}

	// A new day starts a fresh counter.
	got, err := r.NextDefectNumber(ctx, "20260308")
	if err != nil {
		t.Fatalf("NextDefectNumber(new day) error = %v", err)
	}
	if got != 1 {
		t.Fatalf("NextDefectNumber(new day) = %d, want 1", got)
	}
}

func TestDuplicateDefectNumberConflicts(t *testing.T) {
	r := setupRepo(t)
	seedDefect(t, r, "D20260307-0001")

	projectID := uint64(1)
	_, err := r.CreateDefect(context.Background(), ports.Defect{
		Number:          "D20260307-0001",
		Title:           "twin",
		Severity:        defect.SeverityMajor,
		Reproducibility: defect.ReproAlways,
		Creator:         "alice",
		Status:          defect.DefectOpen,
		Pipeline:        defect.PipelineFull,
		ProjectID:       &projectID,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	})
	if !errors.Is(err, ports.ErrConflict) {
		t.Fatalf("CreateDefect(duplicate number) error = %v, want ErrConflict", err)
	}
}

func TestClearCurrentStageDataScoping(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	_, stage := seedDefect(t, r, "D20260307-0001")

	collabID := uint64(77)
	mk := func(kind defect.DataKind, collaborator *uint64) ports.StageData {
		t.Helper()
		row, err := r.CreateStageData(ctx, ports.StageData{
			StageID:        stage.StageID,
			Kind:           kind,
			Content:        "content",
			Submitter:      "alice",
			CollaboratorID: collaborator,
			IsCurrent:      true,
			CreatedAt:      ts,
		})
		if err != nil {
			t.Fatalf("CreateStageData() error = %v", err)
		}
		return row
	}

	own := mk(defect.KindDescription, nil)
	collab := mk(defect.KindDescription, &collabID)

	// A kind-scoped clear without a collaborator only hits the assignee row.
	if err := r.ClearCurrentStageData(ctx, ports.StageDataKey{
		StageID: stage.StageID,
		Kind:    defect.KindDescription,
	}); err != nil {
		t.Fatalf("ClearCurrentStageData() error = %v", err)
	}
	gotOwn, err := r.GetStageData(ctx, own.DataID)
	if err != nil {
		t.Fatalf("GetStageData() error = %v", err)
	}
	if gotOwn.IsCurrent {
		t.Fatal("assignee row still current after clear")
	}
	gotCollab, err := r.GetStageData(ctx, collab.DataID)
	if err != nil {
		t.Fatalf("GetStageData() error = %v", err)
	}
	if !gotCollab.IsCurrent {
		t.Fatal("collaborator row lost its current flag")
	}

	// An empty kind with a collaborator clears that record's rows wholesale.
	if err := r.ClearCurrentStageData(ctx, ports.StageDataKey{
		StageID:        stage.StageID,
		CollaboratorID: &collabID,
	}); err != nil {
		t.Fatalf("ClearCurrentStageData(wildcard kind) error = %v", err)
	}
	gotCollab, err = r.GetStageData(ctx, collab.DataID)
	if err != nil {
		t.Fatalf("GetStageData() error = %v", err)
	}
	if gotCollab.IsCurrent {
		t.Fatal("collaborator row still current after wildcard clear")
	}
}

func TestReactivateStageIncrementsRejectionCount(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	_, stage := seedDefect(t, r, "D20260307-0001")

	if err := r.CompleteStage(ctx, stage.StageID, "alice", ts); err != nil {
		t.Fatalf("CompleteStage() error = %v", err)
	}

	for want := 1; want <= 2; want++ {
		if err := r.ReactivateStage(ctx, stage.StageID, ts); err != nil {
			t.Fatalf("ReactivateStage() error = %v", err)
		}
		got, err := r.GetStage(ctx, stage.StageID)
		if err != nil {
			t.Fatalf("GetStage() error = %v", err)
		}
		if got.Status != defect.StagePendingUpdate {
			t.Fatalf("status = %s, want PENDING_UPDATE", got.Status)
		}
		if got.RejectionCount != want {
			t.Fatalf("rejection count = %d, want %d", got.RejectionCount, want)
		}
	}
}

func TestUpsertCombineKeepsOneRecordPerStage(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	d, stage := seedDefect(t, r, "D20260307-0001")

	first, err := r.UpsertCombine(ctx, ports.CombineRecord{
		DefectID:   d.DefectID,
		StageID:    stage.StageID,
		SourceIDs:  []uint64{10, 11},
		Suggestion: "first pass",
		Score:      70,
		CombinedAt: ts,
	})
	if err != nil {
		t.Fatalf("UpsertCombine() error = %v", err)
	}

	second, err := r.UpsertCombine(ctx, ports.CombineRecord{
		DefectID:   d.DefectID,
		StageID:    stage.StageID,
		SourceIDs:  []uint64{10, 11, 12},
		Suggestion: "retry",
		Score:      85,
		CombinedAt: ts,
	})
	if err != nil {
		t.Fatalf("second UpsertCombine() error = %v", err)
	}
	if second.CombineID != first.CombineID {
		t.Fatalf("upsert created a second record: %d then %d", first.CombineID, second.CombineID)
	}

	got, err := r.GetCombine(ctx, stage.StageID)
	if err != nil {
		t.Fatalf("GetCombine() error = %v", err)
	}
	if got.Score != 85 || got.Suggestion != "retry" {
		t.Fatalf("combine after upsert = %+v", got)
	}
	if len(got.SourceIDs) != 3 {
		t.Fatalf("source ids = %v, want 3 entries", got.SourceIDs)
	}
}

func TestGetCombineMissing(t *testing.T) {
	r := setupRepo(t)
	_, stage := seedDefect(t, r, "D20260307-0001")

	if _, err := r.GetCombine(context.Background(), stage.StageID); !errors.Is(err, ports.ErrCombineNotFound) {
		t.Fatalf("GetCombine() error = %v, want ErrCombineNotFound", err)
	}
}

func TestMarkStageDataCombined(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	_, stage := seedDefect(t, r, "D20260307-0001")

	row, err := r.CreateStageData(ctx, ports.StageData{
		StageID:   stage.StageID,
		Kind:      defect.KindDescription,
		Content:   "content",
		Submitter: "alice",
		IsCurrent: true,
		CreatedAt: ts,
	})
	if err != nil {
		t.Fatalf("CreateStageData() error = %v", err)
	}

	if err := r.MarkStageDataCombined(ctx, []uint64{row.DataID}); err != nil {
		t.Fatalf("MarkStageDataCombined() error = %v", err)
	}
	got, err := r.GetStageData(ctx, row.DataID)
	if err != nil {
		t.Fatalf("GetStageData() error = %v", err)
	}
	if !got.IsCombined {
		t.Fatal("row not flagged combined")
	}
}

func TestPurgeCollaboratorCycle(t *testing.T) {
	r := setupRepo(t)
	ctx := context.Background()
	_, stage := seedDefect(t, r, "D20260307-0001")

	collab, err := r.CreateCollaborator(ctx, ports.Collaborator{
		StageID:   stage.StageID,
		Role:      defect.RoleInvitation,
		Assigner:  "alice",
		Assignee:  "bob",
		Status:    defect.CollabCancelled,
		CreatedAt: ts,
		UpdatedAt: ts,
	})
	if err != nil {
		t.Fatalf("CreateCollaborator() error = %v", err)
	}
	if _, err := r.CreateStageData(ctx, ports.StageData{
		StageID:        stage.StageID,
		Kind:           defect.KindCauseAnalysis,
		Content:        "partial work",
		Submitter:      "bob",
		CollaboratorID: &collab.CollaboratorID,
		IsCurrent:      true,
		CreatedAt:      ts,
	}); err != nil {
		t.Fatalf("CreateStageData() error = %v", err)
	}

	if err := r.PurgeCollaboratorCycle(ctx, collab.CollaboratorID); err != nil {
		t.Fatalf("PurgeCollaboratorCycle() error = %v", err)
	}

	if _, err := r.GetCollaborator(ctx, collab.CollaboratorID); !errors.Is(err, ports.ErrCollaboratorNotFound) {
		t.Fatalf("GetCollaborator() after purge error = %v, want ErrCollaboratorNotFound", err)
	}
	rows, err := r.ListStageData(ctx, ports.StageDataFilter{
		StageID:        stage.StageID,
		CollaboratorID: &collab.CollaboratorID,
		IncludeDrafts:  true,
	})
	if err != nil {
		t.Fatalf("ListStageData() error = %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("stage data after purge = %d rows, want 0", len(rows))
	}
}
