package workflow

import (
	"context"
	"errors"
	"time"

	"defectflow/internal/domain/defect"
	"defectflow/internal/ports"
)

var (
	errActorRequired  = errors.New("actor is required")
	errReasonRequired = errors.New("reason is required")
	errTitleRequired  = errors.New("title is required")
)

// Options carry the engine's tunables chosen at bootstrap.
type Options struct {
	// CompactReinvites purges the prior cycle's collaborator and stage-data
	// rows when re-inviting after a rejection. Off by default; the purge
	// destroys part of the audit trail.
	CompactReinvites bool

	// SelfEvalTTL bounds how long a self-evaluation preview stays reusable.
	SelfEvalTTL time.Duration
}

type Service struct {
	repo      ports.WorkflowRepository
	uow       ports.UnitOfWork
	cache     ports.Cache
	evaluator ports.Evaluator
	notifier  ports.Notifier
	pipelines defect.Pipelines
	opts      Options
}

// NewService wires the workflow engine with its collaborators. Evaluator and
// notifier may be nil in reduced setups; operations that need them say so.
func NewService(
	repo ports.WorkflowRepository,
	uow ports.UnitOfWork,
	cache ports.Cache,
	evaluator ports.Evaluator,
	notifier ports.Notifier,
	pipelines defect.Pipelines,
	opts Options,
) *Service {
	return &Service{
		repo:      repo,
		uow:       uow,
		cache:     cache,
		evaluator: evaluator,
		notifier:  notifier,
		pipelines: pipelines,
		opts:      opts,
	}
}

func (s *Service) guard(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.repo == nil {
		return errors.New("workflow repository is required")
	}
	if s.uow == nil {
		return errors.New("workflow unit of work is required")
	}
	return nil
}

type CreateDefectInput struct {
	Title           string
	Description     string
	Severity        string
	Reproducibility string
	Creator         string
	Pipeline        string
	ProjectID       *uint64
	VersionID       *uint64
	Draft           bool
}

type SubmitStageDataInput struct {
	DefectNumber   string
	Kind           defect.DataKind
	Content        string
	Submitter      string
	Draft          bool
	CollaboratorID *uint64
	// NextAssignee receives the following stage when the gate passes.
	// Defaults to the defect creator.
	NextAssignee string
}

type SubmitStageDataResult struct {
	DataID     uint64
	Changed    bool
	Evaluated  bool
	Advanced   bool
	NextStage  defect.StageTypeKey
	Score      int
	Suggestion string
	RunID      string
}

type ApproveReviewInput struct {
	DefectNumber string
	Actor        string
	Note         string
	NextAssignee string
}

type ApproveReviewResult struct {
	Advanced  bool
	NextStage defect.StageTypeKey
	Closed    bool
}

type ReassignInput struct {
	DefectNumber string
	NewAssignee  string
	Note         string
	Actor        string
}

type InviteInput struct {
	DefectNumber string
	Inviter      string
	Invitee      string
	Reason       string
}

type InvitationActionInput struct {
	DefectNumber   string
	CollaboratorID uint64
	Actor          string
	Reason         string
}

type TransferInvitationInput struct {
	DefectNumber   string
	CollaboratorID uint64
	NewAssignee    string
	Actor          string
}

type RejectStageInput struct {
	DefectNumber string
	Actor        string
	Reason       string
}

type RejectStageResult struct {
	ReactivatedStage defect.StageTypeKey
	RejectionCount   int
	CascadedRecords  []uint64
}

type AbandonCollaboratorInput struct {
	DefectNumber   string
	CollaboratorID uint64
	Reason         string
	Actor          string
}

type RemindInput struct {
	DefectNumber   string
	CollaboratorID uint64
	Actor          string
	Message        string
}

type SelfEvaluateInput struct {
	DefectNumber string
	Requester    string
}

type SelfEvaluateResult struct {
	Suggestion string
	Score      int
	RunID      string
	FromCache  bool
}

type ForceEvaluateInput struct {
	DefectNumber string
	Actor        string
	NextAssignee string
}

type LifecycleInput struct {
	DefectNumber string
	Actor        string
	Note         string
}
