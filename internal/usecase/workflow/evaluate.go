package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"defectflow/internal/bootstrap/logging"
	"defectflow/internal/domain/defect"
	"defectflow/internal/errs"
	"defectflow/internal/ports"
)

// passScore is the gate threshold. Verdicts below it keep the stage open.
const passScore = 60

// gateContext is the state carried from the submitting transaction to the
// out-of-transaction evaluation call.
type gateContext struct {
	defect       ports.Defect
	stage        ports.StageInstance
	pipeline     defect.Pipeline
	actor        string
	nextAssignee string
}

type gateOutcome struct {
	advanced   bool
	nextStage  defect.StageTypeKey
	score      int
	suggestion string
	runID      string
}

// runEvaluation drives the scoring gate for a stage already marked EVALUATING.
// The external call happens outside any transaction; a second transaction then
// either persists the verdict and advances, or reverts the stage so the
// assignee can rework and resubmit.
func (s *Service) runEvaluation(ctx context.Context, g gateContext) (gateOutcome, error) {
	if s.evaluator == nil {
		return gateOutcome{}, errors.New("scoring evaluator is not configured")
	}

	rows, err := s.currentRows(ctx, g.stage.StageID)
	if err != nil {
		return gateOutcome{}, err
	}
	if len(rows) == 0 {
		return gateOutcome{}, ports.ErrStageDataNotFound
	}

	// A self-evaluation preview over the exact same bytes already carries the
	// verdict; the gate reuses it instead of calling out again.
	verdict, fromCache := s.cachedVerdict(ctx, g.defect.DefectID, g.actor, rows)
	method := defect.EvalAuto
	var evalErr error
	if fromCache {
		method = defect.EvalSelf
	} else {
		verdict, evalErr = s.evaluator.Evaluate(ctx, ports.EvalRequest{
			DefectNumber: g.defect.Number,
			Stage:        g.stage.StageType,
			Items:        evalItems(rows),
			Metadata: map[string]string{
				"severity": string(g.defect.Severity),
				"pipeline": g.pipeline.Key,
			},
		})
	}
	now := nowUTCString()

	if evalErr != nil || lowestScore(verdict) < passScore {
		// Gate closed: record the verdict if we got one, then hand the stage
		// back to the assignee.
		if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
			if evalErr == nil {
				if err := s.persistVerdictTx(txCtx, rows, verdict, method, now); err != nil {
					return err
				}
			}
			return s.repo.SetStageStatus(txCtx, g.stage.StageID, defect.StageInProgress, now)
		}); err != nil {
			return gateOutcome{}, err
		}
		if evalErr != nil {
			logging.Warn(ctx, "scoring call failed, stage reverted",
				slog.String("defect", g.defect.Number),
				slog.String("stage", string(g.stage.StageType)),
				slog.Any("err", errs.Loggable(evalErr)),
			)
			return gateOutcome{}, errs.Wrapf(evalErr, "evaluate defect %s stage %s", g.defect.Number, g.stage.StageType)
		}
		return gateOutcome{
			score:      lowestScore(verdict),
			suggestion: firstSuggestion(verdict),
			runID:      verdict.RunID,
		}, nil
	}

	var out gateOutcome
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.persistVerdictTx(txCtx, rows, verdict, method, now); err != nil {
			return err
		}

		// Fan-out output is folded into one combine record before the move.
		pipeStage, err := g.pipeline.Stage(g.stage.StageType)
		if err != nil {
			return err
		}
		if pipeStage.FanOut {
			if err := s.combineTx(txCtx, g.defect, g.stage, rows, verdict, now); err != nil {
				return err
			}
		}

		next, err := g.pipeline.Next(g.stage.StageType)
		if err != nil {
			return err
		}
		if _, err := s.advanceTx(txCtx, g.defect, g.stage, next, g.actor, g.nextAssignee, now); err != nil {
			return err
		}

		out = gateOutcome{
			advanced:   true,
			nextStage:  next.Type,
			score:      lowestScore(verdict),
			suggestion: firstSuggestion(verdict),
			runID:      verdict.RunID,
		}
		return appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  g.defect.DefectID,
			FromStage: g.stage.StageType,
			ToStage:   next.Type,
			Action:    defect.ActionApprove,
			Actor:     g.actor,
			EvalRunID: verdict.RunID,
			CreatedAt: now,
		})
	}); err != nil {
		return gateOutcome{}, err
	}
	return out, nil
}

// ForceEvaluate re-runs the gate for a stage stuck in EVALUATING, typically
// after a scoring outage left the stage mid-flight.
func (s *Service) ForceEvaluate(ctx context.Context, input ForceEvaluateInput) (SubmitStageDataResult, error) {
	if err := s.guard(ctx); err != nil {
		return SubmitStageDataResult{}, err
	}
	actor := strings.TrimSpace(input.Actor)
	if actor == "" {
		return SubmitStageDataResult{}, errActorRequired
	}

	var g gateContext
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		d, stage, pipeline, err := s.loadDefectTx(txCtx, input.DefectNumber)
		if err != nil {
			return err
		}
		if stage.Status != defect.StageEvaluating {
			return fmt.Errorf("%w: stage %s is %s", defect.ErrStageNotEvaluating, stage.StageType, stage.Status)
		}
		g = gateContext{defect: d, stage: stage, pipeline: pipeline, actor: actor, nextAssignee: input.NextAssignee}
		return nil
	}); err != nil {
		return SubmitStageDataResult{}, err
	}

	gate, err := s.runEvaluation(ctx, g)
	if err != nil {
		return SubmitStageDataResult{}, err
	}
	return SubmitStageDataResult{
		Evaluated:  true,
		Advanced:   gate.advanced,
		NextStage:  gate.nextStage,
		Score:      gate.score,
		Suggestion: gate.suggestion,
		RunID:      gate.runID,
	}, nil
}

type selfEvalCacheEntry struct {
	Fingerprint string `json:"fingerprint"`
	Suggestion  string `json:"suggestion"`
	Score       int    `json:"score"`
	RunID       string `json:"run_id"`
}

// SelfEvaluate scores the requester's current content without moving the
// workflow. The verdict is cached per (defect, requester) and reused only
// while the content bytes stay identical.
func (s *Service) SelfEvaluate(ctx context.Context, input SelfEvaluateInput) (SelfEvaluateResult, error) {
	if err := s.guard(ctx); err != nil {
		return SelfEvaluateResult{}, err
	}
	if s.evaluator == nil {
		return SelfEvaluateResult{}, errors.New("scoring evaluator is not configured")
	}
	requester := strings.TrimSpace(input.Requester)
	if requester == "" {
		return SelfEvaluateResult{}, errActorRequired
	}

	var (
		d     ports.Defect
		stage ports.StageInstance
		pipe  defect.Pipeline
		rows  []ports.StageData
	)
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		d, stage, pipe, err = s.loadDefectTx(txCtx, input.DefectNumber)
		if err != nil {
			return err
		}
		// The preview is for unfinished work, so drafts count here.
		rows, err = s.stageRows(txCtx, stage.StageID, true)
		return err
	}); err != nil {
		return SelfEvaluateResult{}, err
	}
	if len(rows) == 0 {
		return SelfEvaluateResult{}, ports.ErrStageDataNotFound
	}

	fingerprint := rowsFingerprint(rows)
	key := selfEvalCacheKey(d.DefectID, requester)

	if cached, ok := s.cachedVerdict(ctx, d.DefectID, requester, rows); ok {
		return SelfEvaluateResult{
			Suggestion: firstSuggestion(cached),
			Score:      lowestScore(cached),
			RunID:      cached.RunID,
			FromCache:  true,
		}, nil
	}

	verdict, err := s.evaluator.Evaluate(ctx, ports.EvalRequest{
		DefectNumber: d.Number,
		Stage:        stage.StageType,
		Items:        evalItems(rows),
		Metadata: map[string]string{
			"severity": string(d.Severity),
			"pipeline": pipe.Key,
			"preview":  "true",
		},
	})
	if err != nil {
		return SelfEvaluateResult{}, errs.Wrapf(err, "self-evaluate defect %s", d.Number)
	}

	result := SelfEvaluateResult{
		Suggestion: firstSuggestion(verdict),
		Score:      lowestScore(verdict),
		RunID:      verdict.RunID,
	}

	ttl := s.opts.SelfEvalTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if encoded, encErr := json.Marshal(selfEvalCacheEntry{
		Fingerprint: fingerprint,
		Suggestion:  result.Suggestion,
		Score:       result.Score,
		RunID:       result.RunID,
	}); encErr == nil {
		s.setCacheBestEffort(ctx, key, string(encoded), ttl)
	}

	now := nowUTCString()
	if err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.persistVerdictTx(txCtx, rows, verdict, defect.EvalSelf, now); err != nil {
			return err
		}
		return appendHistoryTx(txCtx, s.repo, ports.FlowEntry{
			DefectID:  d.DefectID,
			FromStage: stage.StageType,
			ToStage:   stage.StageType,
			Action:    defect.ActionValSelf,
			Actor:     requester,
			EvalRunID: verdict.RunID,
			Internal:  true,
			CreatedAt: now,
		})
	}); err != nil {
		return SelfEvaluateResult{}, err
	}

	return result, nil
}

// cachedVerdict looks up the requester's self-evaluation preview and returns
// it as an evaluation result when the preview scored exactly these rows.
func (s *Service) cachedVerdict(ctx context.Context, defectID uint64, requester string, rows []ports.StageData) (ports.EvalResult, bool) {
	if s.cache == nil {
		return ports.EvalResult{}, false
	}
	raw, found, err := s.cache.Get(ctx, selfEvalCacheKey(defectID, requester))
	if err != nil || !found {
		return ports.EvalResult{}, false
	}
	var entry selfEvalCacheEntry
	if json.Unmarshal([]byte(raw), &entry) != nil || entry.Fingerprint != rowsFingerprint(rows) {
		return ports.EvalResult{}, false
	}
	verdicts := make([]ports.EvalVerdict, len(rows))
	for i := range verdicts {
		verdicts[i] = ports.EvalVerdict{Suggestion: entry.Suggestion, Score: entry.Score}
	}
	return ports.EvalResult{RunID: entry.RunID, Verdicts: verdicts}, true
}

// currentRows gathers the stage's live content in a stable kind-then-id order,
// drafts excluded. This order is also the order items travel to the scorer.
func (s *Service) currentRows(ctx context.Context, stageID uint64) ([]ports.StageData, error) {
	return s.stageRows(ctx, stageID, false)
}

func (s *Service) stageRows(ctx context.Context, stageID uint64, includeDrafts bool) ([]ports.StageData, error) {
	rows, err := s.repo.ListStageData(ctx, ports.StageDataFilter{
		StageID:       stageID,
		OnlyCurrent:   true,
		IncludeDrafts: includeDrafts,
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Kind != rows[j].Kind {
			return rows[i].Kind < rows[j].Kind
		}
		return rows[i].DataID < rows[j].DataID
	})
	return rows, nil
}

func (s *Service) persistVerdictTx(ctx context.Context, rows []ports.StageData, v ports.EvalResult, method defect.EvalMethod, now string) error {
	for i, row := range rows {
		suggestion := ""
		score := 0
		if i < len(v.Verdicts) {
			suggestion = v.Verdicts[i].Suggestion
			score = v.Verdicts[i].Score
		}
		if err := s.repo.SetStageDataEvaluation(ctx, row.DataID, method, suggestion, score, now); err != nil {
			return err
		}
	}
	return nil
}

func evalItems(rows []ports.StageData) []ports.EvalItem {
	items := make([]ports.EvalItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.EvalItem{Kind: row.Kind, Content: row.Content})
	}
	return items
}

func rowsFingerprint(rows []ports.StageData) string {
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(string(row.Kind))
		b.WriteByte(':')
		b.WriteString(row.Content)
		b.WriteByte('\n')
	}
	return defect.Fingerprint(b.String())
}

// lowestScore is the gate's aggregate: the weakest item decides.
func lowestScore(v ports.EvalResult) int {
	if len(v.Verdicts) == 0 {
		return 0
	}
	low := v.Verdicts[0].Score
	for _, verdict := range v.Verdicts[1:] {
		if verdict.Score < low {
			low = verdict.Score
		}
	}
	return low
}

func firstSuggestion(v ports.EvalResult) string {
	for _, verdict := range v.Verdicts {
		if strings.TrimSpace(verdict.Suggestion) != "" {
			return verdict.Suggestion
		}
	}
	return ""
}
