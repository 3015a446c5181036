package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"defectflow/internal/domain/defect"
	"defectflow/internal/errs"
	"defectflow/internal/ports"
)

// slotOrder fixes the four content slots of the scoring request. Missing
// slots travel as empty strings so the scorer sees a stable shape.
var slotOrder = []defect.DataKind{
	defect.KindDescription,
	defect.KindCauseAnalysis,
	defect.KindSolution,
	defect.KindTestResult,
}

const defaultTimeout = 3 * time.Minute

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPEvaluator calls the external scoring collaborator. The call blocks with
// a coarse timeout and is never cancelled once in flight.
type HTTPEvaluator struct {
	baseURL string
	client  *http.Client
}

var _ ports.Evaluator = (*HTTPEvaluator)(nil)

func NewHTTPEvaluator(cfg Config) (*HTTPEvaluator, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("scoring base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &HTTPEvaluator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type scoreRequest struct {
	Items    []string          `json:"items"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type scoreResponse struct {
	Code     int                 `json:"code"`
	Message  string              `json:"message"`
	Items    [][]json.RawMessage `json:"items"`
	RecordID string              `json:"record_id"`
}

func (e *HTTPEvaluator) Evaluate(ctx context.Context, req ports.EvalRequest) (ports.EvalResult, error) {
	if ctx == nil {
		return ports.EvalResult{}, errors.New("context is required")
	}
	if len(req.Items) == 0 {
		return ports.EvalResult{}, errors.New("evaluation items are required")
	}

	slots := make([]string, len(slotOrder))
	filled := 0
	for _, item := range req.Items {
		for i, kind := range slotOrder {
			if item.Kind == kind {
				slots[i] = item.Content
				filled++
				break
			}
		}
	}
	if filled == 0 {
		return ports.EvalResult{}, fmt.Errorf("no evaluation item matches a known content slot")
	}

	metadata := map[string]string{
		"defect": req.DefectNumber,
		"stage":  string(req.Stage),
	}
	for k, v := range req.Metadata {
		metadata[k] = v
	}

	body, err := json.Marshal(scoreRequest{Items: slots, Metadata: metadata})
	if err != nil {
		return ports.EvalResult{}, errs.Wrap(err, "marshal scoring request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return ports.EvalResult{}, errs.Wrap(err, "build scoring request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return ports.EvalResult{}, errs.Wrap(err, "call scoring collaborator")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ports.EvalResult{}, errs.Wrap(err, "read scoring response")
	}
	if resp.StatusCode != http.StatusOK {
		return ports.EvalResult{}, fmt.Errorf("scoring collaborator returned HTTP %d", resp.StatusCode)
	}

	var decoded scoreResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ports.EvalResult{}, errs.Wrap(err, "decode scoring response")
	}
	if decoded.Code != 1 {
		msg := strings.TrimSpace(decoded.Message)
		if msg == "" {
			msg = "no message"
		}
		return ports.EvalResult{}, fmt.Errorf("scoring collaborator rejected the request: code %d: %s", decoded.Code, msg)
	}

	verdicts := make([]ports.EvalVerdict, 0, len(decoded.Items))
	for i, pair := range decoded.Items {
		if len(pair) != 2 {
			return ports.EvalResult{}, fmt.Errorf("scoring item %d is not a [suggestion, score] pair", i)
		}

		var verdict ports.EvalVerdict
		if err := json.Unmarshal(pair[0], &verdict.Suggestion); err != nil {
			return ports.EvalResult{}, errs.Wrapf(err, "decode scoring item %d suggestion", i)
		}
		if err := json.Unmarshal(pair[1], &verdict.Score); err != nil {
			return ports.EvalResult{}, errs.Wrapf(err, "decode scoring item %d score", i)
		}
		verdicts = append(verdicts, verdict)
	}
	if len(verdicts) == 0 {
		return ports.EvalResult{}, errors.New("scoring response carries no verdicts")
	}

	runID := strings.TrimSpace(decoded.RecordID)
	if runID == "" {
		runID = uuid.NewString()
	}

	return ports.EvalResult{
		RunID:    runID,
		Verdicts: verdicts,
	}, nil
}
