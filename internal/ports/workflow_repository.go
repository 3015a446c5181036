package ports

import (
	"context"
	"errors"

	"defectflow/internal/domain/defect"
)

var (
	ErrDefectNotFound       = errors.New("defect not found")
	ErrStageNotFound        = errors.New("stage instance not found")
	ErrStageDataNotFound    = errors.New("stage data not found")
	ErrCollaboratorNotFound = errors.New("collaborator record not found")
	ErrCombineNotFound      = errors.New("combine record not found")

	// ErrConflict is the translation of a storage constraint violation.
	ErrConflict = errors.New("storage constraint violation")
)

// Timestamps travel as RFC3339Nano UTC strings end to end.

type Defect struct {
	DefectID        uint64
	Number          string
	Title           string
	Description     string
	Severity        defect.Severity
	Reproducibility defect.Reproducibility
	Creator         string
	Status          defect.DefectStatus
	Pipeline        string
	CurrentStageID  uint64
	ProjectID       *uint64
	VersionID       *uint64
	DuplicateOfID   *uint64
	CreatedAt       string
	UpdatedAt       string
}

type DefectFilter struct {
	Status   defect.DefectStatus
	Creator  string
	Pipeline string
	Stage    defect.StageTypeKey
}

type StageInstance struct {
	StageID        uint64
	DefectID       uint64
	StageType      defect.StageTypeKey
	Assignee       string
	Completer      string
	Status         defect.StageStatus
	PreviousID     *uint64
	RejectionCount int
	Note           string
	CreatedAt      string
	UpdatedAt      string
	CompletedAt    *string
}

type StageData struct {
	DataID         uint64
	StageID        uint64
	Kind           defect.DataKind
	Content        string
	Submitter      string
	CollaboratorID *uint64
	IsDraft        bool
	IsCurrent      bool
	IsCombined     bool
	EvalMethod     defect.EvalMethod
	EvalSuggestion string
	EvalScore      *int
	EvaluatedAt    *string
	CreatedAt      string
}

// StageDataKey addresses the current-flag scope: one (stage, kind, collaborator)
// key has at most one current row. An empty Kind matches every kind.
type StageDataKey struct {
	StageID        uint64
	Kind           defect.DataKind
	CollaboratorID *uint64
}

type StageDataFilter struct {
	StageID        uint64
	Kind           defect.DataKind
	CollaboratorID *uint64
	OnlyCurrent    bool
	IncludeDrafts  bool
}

type Collaborator struct {
	CollaboratorID uint64
	StageID        uint64
	Role           defect.CollaboratorRole
	Assigner       string
	Assignee       string
	Rationale      string
	Status         defect.CollaboratorStatus
	RemindCount    int
	LastRemindedAt *string
	RejectReason   string
	RejectedAt     *string
	CreatedAt      string
	UpdatedAt      string
}

type CombineRecord struct {
	CombineID  uint64
	DefectID   uint64
	StageID    uint64
	SourceIDs  []uint64
	Suggestion string
	Score      int
	CombinedAt string
}

type Reminder struct {
	ReminderID     uint64
	CollaboratorID uint64
	Type           string
	Message        string
	Status         defect.ReminderStatus
	CreatedAt      string
}

type Rejection struct {
	RejectionID     uint64
	DefectID        uint64
	Type            defect.RejectionType
	Reason          string
	Actor           string
	StageID         uint64
	CollaboratorID  *uint64
	DataID          *uint64
	PreviousStageID *uint64
	CreatedAt       string
}

type FlowEntry struct {
	EntryID   uint64
	DefectID  uint64
	FromStage defect.StageTypeKey
	ToStage   defect.StageTypeKey
	Action    defect.Action
	Actor     string
	Note      string
	EvalRunID string
	Internal  bool
	CreatedAt string
}

type WorkflowReadRepository interface {
	GetDefect(ctx context.Context, defectID uint64) (Defect, error)
	GetDefectByNumber(ctx context.Context, number string) (Defect, error)
	ListDefects(ctx context.Context, filter DefectFilter) ([]Defect, error)

	GetStage(ctx context.Context, stageID uint64) (StageInstance, error)
	ListStages(ctx context.Context, defectID uint64) ([]StageInstance, error)

	GetStageData(ctx context.Context, dataID uint64) (StageData, error)
	ListStageData(ctx context.Context, filter StageDataFilter) ([]StageData, error)

	GetCollaborator(ctx context.Context, collaboratorID uint64) (Collaborator, error)
	ListCollaborators(ctx context.Context, stageID uint64) ([]Collaborator, error)

	GetCombine(ctx context.Context, stageID uint64) (CombineRecord, error)
	ListHistory(ctx context.Context, defectID uint64, includeInternal bool) ([]FlowEntry, error)
	ListRejections(ctx context.Context, defectID uint64) ([]Rejection, error)
	ListReminders(ctx context.Context, collaboratorID uint64) ([]Reminder, error)
}

type WorkflowRepository interface {
	WorkflowReadRepository

	// NextDefectNumber allocates the next per-day sequence under a row lock
	// so concurrent creations never share a number.
	NextDefectNumber(ctx context.Context, day string) (int, error)

	CreateDefect(ctx context.Context, d Defect) (Defect, error)
	SetDefectStatus(ctx context.Context, defectID uint64, status defect.DefectStatus, updatedAt string) error
	SetCurrentStage(ctx context.Context, defectID uint64, stageID uint64, updatedAt string) error
	SetDuplicateOf(ctx context.Context, defectID uint64, duplicateOfID uint64, updatedAt string) error

	CreateStage(ctx context.Context, s StageInstance) (StageInstance, error)
	SetStageStatus(ctx context.Context, stageID uint64, status defect.StageStatus, updatedAt string) error
	CompleteStage(ctx context.Context, stageID uint64, completer string, completedAt string) error
	// ReactivateStage flips a historical instance back to PENDING_UPDATE and
	// increments its rejection count. It never allocates a new instance.
	ReactivateStage(ctx context.Context, stageID uint64, updatedAt string) error
	SetStageAssignee(ctx context.Context, stageID uint64, assignee string, note string, status defect.StageStatus, updatedAt string) error

	// ClearCurrentStageData flips every current row matching the key off.
	ClearCurrentStageData(ctx context.Context, key StageDataKey) error
	CreateStageData(ctx context.Context, d StageData) (StageData, error)
	SetStageDataEvaluation(ctx context.Context, dataID uint64, method defect.EvalMethod, suggestion string, score int, evaluatedAt string) error
	MarkStageDataCombined(ctx context.Context, dataIDs []uint64) error

	CreateCollaborator(ctx context.Context, c Collaborator) (Collaborator, error)
	SetCollaboratorStatus(ctx context.Context, collaboratorID uint64, status defect.CollaboratorStatus, updatedAt string) error
	RejectCollaborator(ctx context.Context, collaboratorID uint64, status defect.CollaboratorStatus, reason string, rejectedAt string) error
	BumpCollaboratorReminder(ctx context.Context, collaboratorID uint64, remindedAt string) error
	// PurgeCollaboratorCycle removes one record and its stage-data rows.
	// Only the explicitly configured re-invite compaction calls this.
	PurgeCollaboratorCycle(ctx context.Context, collaboratorID uint64) error

	CreateReminder(ctx context.Context, r Reminder) (Reminder, error)
	UpsertCombine(ctx context.Context, c CombineRecord) (CombineRecord, error)
	CreateRejection(ctx context.Context, r Rejection) (Rejection, error)
	AppendHistory(ctx context.Context, e FlowEntry) error
}
