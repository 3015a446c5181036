package ports

import (
	"context"

	"defectflow/internal/domain/defect"
)

// EvalItem is one content slot sent to the scoring collaborator.
type EvalItem struct {
	Kind    defect.DataKind
	Content string
}

type EvalRequest struct {
	DefectNumber string
	Stage        defect.StageTypeKey
	Items        []EvalItem
	Metadata     map[string]string
}

// EvalVerdict is the scorer's judgment for one submitted item.
type EvalVerdict struct {
	Suggestion string
	Score      int
}

type EvalResult struct {
	RunID    string
	Verdicts []EvalVerdict
}

// Evaluator is the external scoring collaborator. Calls are blocking with a
// coarse timeout; the engine never cancels an in-flight call. Any error means
// the gate did not pass and the stage must fall back to IN_PROGRESS.
type Evaluator interface {
	Evaluate(ctx context.Context, req EvalRequest) (EvalResult, error)
}
