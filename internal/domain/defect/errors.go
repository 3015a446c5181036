package defect

import "errors"

var (
	ErrInvalidEnum      = errors.New("invalid enum value")
	ErrUnknownStageType = errors.New("unknown stage type")
	ErrUnknownPipeline  = errors.New("unknown pipeline")
	ErrInvalidNumber    = errors.New("invalid defect number")

	// Business-rule violations. These are surfaced, never swallowed.
	ErrNothingToRollBack     = errors.New("first stage has nothing to roll back to")
	ErrNoActiveCollaborators = errors.New("stage has no valid collaborators")
	ErrAlreadyDeclined       = errors.New("assignee already declined this stage")
	ErrAlreadyInvited        = errors.New("assignee already has an active record for this stage")
	ErrStageMismatch         = errors.New("stage instance does not belong to defect")
	ErrStageNotSubmittable   = errors.New("stage does not accept submissions in its current status")
	ErrStageNotEvaluating    = errors.New("stage is not awaiting evaluation")
	ErrFanOutNotAllowed      = errors.New("stage does not allow fan-out collaboration")
	ErrPipelineExhausted     = errors.New("pipeline has no further stage")
	ErrDefectFinal           = errors.New("defect is in a final status")
	ErrDefectSuspended       = errors.New("defect is suspended")
	ErrDefectNotSuspended    = errors.New("defect is not suspended")
	ErrWrongDataKind         = errors.New("data kind does not match the current stage")
	ErrReviewStageData       = errors.New("review stages take decisions, not data submissions")
	ErrNotReviewStage        = errors.New("stage is not a review stage")
	ErrCollaboratorFinal     = errors.New("collaborator record is already in a terminal status")
	ErrAssociationRequired   = errors.New("exactly one of project or version association is required")
)
