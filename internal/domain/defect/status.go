package defect

import "fmt"

// DefectStatus is the lifecycle status of a defect as a whole.
// Stage-level progress lives on StageStatus.
type DefectStatus string

const (
	DefectDraft      DefectStatus = "DRAFT"
	DefectOpen       DefectStatus = "OPEN"
	DefectResolved   DefectStatus = "RESOLVED"
	DefectClosed     DefectStatus = "CLOSED"
	DefectRejected   DefectStatus = "REJECTED"
	DefectTerminated DefectStatus = "TERMINATED"
	DefectSuspended  DefectStatus = "SUSPENDED"
)

func (s DefectStatus) Valid() bool {
	switch s {
	case DefectDraft, DefectOpen, DefectResolved, DefectClosed,
		DefectRejected, DefectTerminated, DefectSuspended:
		return true
	}
	return false
}

// Final reports whether no further workflow action may touch the defect.
func (s DefectStatus) Final() bool {
	switch s {
	case DefectClosed, DefectRejected, DefectTerminated:
		return true
	case DefectDraft, DefectOpen, DefectResolved, DefectSuspended:
		return false
	}
	return false
}

// StageStatus is the status of a single stage instance.
type StageStatus string

const (
	StageDraft         StageStatus = "DRAFT"
	StageInProgress    StageStatus = "IN_PROGRESS"
	StagePendingUpdate StageStatus = "PENDING_UPDATE"
	StageEvaluating    StageStatus = "EVALUATING"
	StageCompleted     StageStatus = "COMPLETED"
	StageRejected      StageStatus = "REJECTED"
	StageCancelled     StageStatus = "CANCELLED"
	StageNotPass       StageStatus = "NOT_PASS"
	StageTerminated    StageStatus = "TERMINATED"
	StageSuspended     StageStatus = "SUSPENDED"
)

func (s StageStatus) Valid() bool {
	switch s {
	case StageDraft, StageInProgress, StagePendingUpdate, StageEvaluating,
		StageCompleted, StageRejected, StageCancelled, StageNotPass,
		StageTerminated, StageSuspended:
		return true
	}
	return false
}

// Active reports whether the instance is the defect's live stage.
func (s StageStatus) Active() bool {
	switch s {
	case StageDraft, StageInProgress, StagePendingUpdate, StageEvaluating, StageSuspended:
		return true
	case StageCompleted, StageRejected, StageCancelled, StageNotPass, StageTerminated:
		return false
	}
	return false
}

// AcceptsSubmission reports whether stage data may be written to the instance.
func (s StageStatus) AcceptsSubmission() bool {
	return s == StageDraft || s == StageInProgress || s == StagePendingUpdate
}

// CollaboratorRole distinguishes analysis invitations from solution divisions.
// The two are structurally parallel and share one record shape.
type CollaboratorRole string

const (
	RoleInvitation CollaboratorRole = "INVITATION"
	RoleDivision   CollaboratorRole = "DIVISION"
)

func (r CollaboratorRole) Valid() bool {
	return r == RoleInvitation || r == RoleDivision
}

// CollaboratorStatus is the status of one fan-out participant record.
type CollaboratorStatus string

const (
	CollabPending            CollaboratorStatus = "PENDING"
	CollabTransferred        CollaboratorStatus = "TRANSFERRED"
	CollabAccepted           CollaboratorStatus = "ACCEPTED"
	CollabRejected           CollaboratorStatus = "REJECTED"
	CollabInvitationRejected CollaboratorStatus = "INVITATION_REJECTED"
	CollabCancelled          CollaboratorStatus = "CANCELLED"
	CollabCompleted          CollaboratorStatus = "COMPLETED"
)

func (s CollaboratorStatus) Valid() bool {
	switch s {
	case CollabPending, CollabTransferred, CollabAccepted, CollabRejected,
		CollabInvitationRejected, CollabCancelled, CollabCompleted:
		return true
	}
	return false
}

// CountsTowardDone reports whether the record participates in the
// all-collaborators-done tally. Cancelled and declined records do not.
func (s CollaboratorStatus) CountsTowardDone() bool {
	switch s {
	case CollabPending, CollabTransferred, CollabAccepted, CollabRejected, CollabCompleted:
		return true
	case CollabCancelled, CollabInvitationRejected:
		return false
	}
	return false
}

// AcceptsSubmission reports whether the record may still deliver content.
// A rejected record stays open: rollback asks its holder for rework.
func (s CollaboratorStatus) AcceptsSubmission() bool {
	return s.StillActive() || s == CollabRejected
}

// StillActive reports whether the collaborator is expected to produce work.
func (s CollaboratorStatus) StillActive() bool {
	switch s {
	case CollabPending, CollabTransferred, CollabAccepted:
		return true
	case CollabRejected, CollabInvitationRejected, CollabCancelled, CollabCompleted:
		return false
	}
	return false
}

// DataKind is the kind of content a stage-data row carries.
type DataKind string

const (
	KindDescription   DataKind = "DESCRIPTION"
	KindCauseAnalysis DataKind = "CAUSE_ANALYSIS"
	KindSolution      DataKind = "SOLUTION"
	KindTestResult    DataKind = "TEST_RESULT"
)

func (k DataKind) Valid() bool {
	switch k {
	case KindDescription, KindCauseAnalysis, KindSolution, KindTestResult:
		return true
	}
	return false
}

// Action tags a flow-history entry.
type Action string

const (
	ActionCreate          Action = "CREATE"
	ActionSubmit          Action = "SUBMIT"
	ActionUpdate          Action = "UPDATE"
	ActionApprove         Action = "APPROVE"
	ActionInviteToAnalyze Action = "INVITE_TO_ANALYZE"
	ActionInviteCoAnalyze Action = "INVITE_CO_ANALYZE"
	ActionReject          Action = "REJECT"
	ActionCancel          Action = "CANCEL"
	ActionTransfer        Action = "TRANSFER"
	ActionTerminate       Action = "TERMINATE"
	ActionAssignDivision  Action = "ASSIGN_DIVISION"
	ActionSubmitSolution  Action = "SUBMIT_SOLUTION"
	ActionRemind          Action = "REMIND"
	ActionValSelf         Action = "VAL_SELF"
	ActionValSubmit       Action = "VAL_SUBMIT"
	ActionClose           Action = "CLOSE"
	ActionSuspend         Action = "SUSPEND"
	ActionReopen          Action = "REOPEN"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionSubmit, ActionUpdate, ActionApprove,
		ActionInviteToAnalyze, ActionInviteCoAnalyze, ActionReject, ActionCancel,
		ActionTransfer, ActionTerminate, ActionAssignDivision, ActionSubmitSolution,
		ActionRemind, ActionValSelf, ActionValSubmit, ActionClose,
		ActionSuspend, ActionReopen:
		return true
	}
	return false
}

// RejectionType classifies what a rollback record targets.
type RejectionType string

const (
	RejectStage      RejectionType = "STAGE"
	RejectInvitation RejectionType = "INVITATION"
	RejectAnalysis   RejectionType = "ANALYSIS"
	RejectSolution   RejectionType = "SOLUTION"
)

func (t RejectionType) Valid() bool {
	switch t {
	case RejectStage, RejectInvitation, RejectAnalysis, RejectSolution:
		return true
	}
	return false
}

// ReminderStatus tracks what happened to a nudge.
type ReminderStatus string

const (
	ReminderSent   ReminderStatus = "SENT"
	ReminderViewed ReminderStatus = "VIEWED"
	ReminderActed  ReminderStatus = "ACTED"
)

// EvalMethod records how a stage-data row got its score.
type EvalMethod string

const (
	EvalAuto EvalMethod = "AUTO"
	EvalSelf EvalMethod = "SELF"
)

// Severity is the reporter-assigned impact of a defect.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityMajor    Severity = "MAJOR"
	SeverityMinor    Severity = "MINOR"
	SeverityTrivial  Severity = "TRIVIAL"
)

func ParseSeverity(raw string) (Severity, error) {
	switch Severity(raw) {
	case SeverityCritical, SeverityMajor, SeverityMinor, SeverityTrivial:
		return Severity(raw), nil
	}
	return "", fmt.Errorf("%w: severity %q", ErrInvalidEnum, raw)
}

// Reproducibility is how reliably the defect can be triggered.
type Reproducibility string

const (
	ReproAlways    Reproducibility = "ALWAYS"
	ReproSometimes Reproducibility = "SOMETIMES"
	ReproRarely    Reproducibility = "RARELY"
	ReproUnable    Reproducibility = "UNABLE"
)

func ParseReproducibility(raw string) (Reproducibility, error) {
	switch Reproducibility(raw) {
	case ReproAlways, ReproSometimes, ReproRarely, ReproUnable:
		return Reproducibility(raw), nil
	}
	return "", fmt.Errorf("%w: reproducibility %q", ErrInvalidEnum, raw)
}
