package defect

import "fmt"

// PipelineStage is one step of a concrete pipeline variant.
type PipelineStage struct {
	Type StageTypeKey

	// FanOut allows multiple collaborator records to jointly produce the
	// stage's content. FanOutRole says which record flavor the stage uses.
	FanOut     bool
	FanOutRole CollaboratorRole
}

// Pipeline is the workflow strategy chosen once at defect creation. It declares
// its own ordered stage list and fan-out rules, so the engine never branches on
// the variant again.
type Pipeline struct {
	Key    string
	Name   string
	Stages []PipelineStage
}

func (p Pipeline) First() PipelineStage {
	return p.Stages[0]
}

// Next returns the stage following key, or ErrPipelineExhausted at the tail.
func (p Pipeline) Next(key StageTypeKey) (PipelineStage, error) {
	for i, s := range p.Stages {
		if s.Type != key {
			continue
		}
		if i+1 >= len(p.Stages) {
			return PipelineStage{}, ErrPipelineExhausted
		}
		return p.Stages[i+1], nil
	}
	return PipelineStage{}, fmt.Errorf("%w: stage %q not in pipeline %q", ErrUnknownStageType, key, p.Key)
}

func (p Pipeline) Stage(key StageTypeKey) (PipelineStage, error) {
	for _, s := range p.Stages {
		if s.Type == key {
			return s, nil
		}
	}
	return PipelineStage{}, fmt.Errorf("%w: stage %q not in pipeline %q", ErrUnknownStageType, key, p.Key)
}

// IsLast reports whether key is the pipeline's final stage.
func (p Pipeline) IsLast(key StageTypeKey) bool {
	return len(p.Stages) > 0 && p.Stages[len(p.Stages)-1].Type == key
}

const (
	PipelineFull        = "full"
	PipelineExpedited   = "expedited"
	PipelineLightweight = "lightweight"
)

var builtinPipelines = map[string]Pipeline{
	PipelineFull: {
		Key:  PipelineFull,
		Name: "Full approval pipeline",
		Stages: []PipelineStage{
			{Type: StageDescription},
			{Type: StageReview},
			{Type: StageAnalysis, FanOut: true, FanOutRole: RoleInvitation},
			{Type: StageSolution, FanOut: true, FanOutRole: RoleDivision},
			{Type: StageSolutionReview},
			{Type: StageRegression},
			{Type: StageConfirmation},
		},
	},
	PipelineExpedited: {
		Key:  PipelineExpedited,
		Name: "Expedited pipeline",
		Stages: []PipelineStage{
			{Type: StageDescription},
			{Type: StageAnalysis, FanOut: true, FanOutRole: RoleInvitation},
			{Type: StageSolution, FanOut: true, FanOutRole: RoleDivision},
			{Type: StageRegression},
			{Type: StageConfirmation},
		},
	},
	PipelineLightweight: {
		Key:  PipelineLightweight,
		Name: "Lightweight pipeline",
		Stages: []PipelineStage{
			{Type: StageDescription},
			{Type: StageSolution},
			{Type: StageConfirmation},
		},
	},
}

// Pipelines is the active registry. Builtin variants may be replaced wholesale
// by a validated profile file, see LoadPipelineProfile.
type Pipelines struct {
	byKey map[string]Pipeline
}

func BuiltinPipelines() Pipelines {
	m := make(map[string]Pipeline, len(builtinPipelines))
	for k, v := range builtinPipelines {
		m[k] = v
	}
	return Pipelines{byKey: m}
}

func (ps Pipelines) Lookup(key string) (Pipeline, error) {
	p, ok := ps.byKey[key]
	if !ok {
		return Pipeline{}, fmt.Errorf("%w: %q", ErrUnknownPipeline, key)
	}
	return p, nil
}

func (ps Pipelines) Keys() []string {
	out := make([]string, 0, len(ps.byKey))
	for k := range ps.byKey {
		out = append(out, k)
	}
	return out
}

func validatePipeline(p Pipeline) error {
	if p.Key == "" {
		return fmt.Errorf("%w: empty key", ErrUnknownPipeline)
	}
	if len(p.Stages) < 2 {
		return fmt.Errorf("pipeline %q needs at least two stages", p.Key)
	}
	if p.Stages[0].Type != StageDescription {
		return fmt.Errorf("pipeline %q must start with the description stage", p.Key)
	}

	seen := make(map[StageTypeKey]struct{}, len(p.Stages))
	for _, s := range p.Stages {
		t, err := LookupStageType(s.Type)
		if err != nil {
			return err
		}
		if _, dup := seen[s.Type]; dup {
			return fmt.Errorf("pipeline %q repeats stage %q", p.Key, s.Type)
		}
		seen[s.Type] = struct{}{}

		if s.FanOut {
			if t.IsReview() {
				return fmt.Errorf("pipeline %q: review stage %q cannot fan out", p.Key, s.Type)
			}
			if !s.FanOutRole.Valid() {
				return fmt.Errorf("pipeline %q: stage %q fan-out needs a collaborator role", p.Key, s.Type)
			}
		}
	}
	return nil
}
