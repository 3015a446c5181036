package defect

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPipelineNextAndIsLast(t *testing.T) {
	p, err := BuiltinPipelines().Lookup(PipelineFull)
	if err != nil {
		t.Fatalf("Lookup(full) error = %v", err)
	}

	next, err := p.Next(StageDescription)
	if err != nil {
		t.Fatalf("Next(DESCRIPTION) error = %v", err)
	}
	if next.Type != StageReview {
		t.Fatalf("Next(DESCRIPTION) = %s, want REVIEW", next.Type)
	}

	if _, err := p.Next(StageConfirmation); !errors.Is(err, ErrPipelineExhausted) {
		t.Fatalf("Next(CONFIRMATION) error = %v, want ErrPipelineExhausted", err)
	}
	if !p.IsLast(StageConfirmation) {
		t.Fatal("IsLast(CONFIRMATION) = false")
	}
	if p.IsLast(StageReview) {
		t.Fatal("IsLast(REVIEW) = true")
	}

	// A stage the variant skips is a hard error, not a silent hop.
	lightweight, err := BuiltinPipelines().Lookup(PipelineLightweight)
	if err != nil {
		t.Fatalf("Lookup(lightweight) error = %v", err)
	}
	if _, err := lightweight.Next(StageAnalysis); !errors.Is(err, ErrUnknownStageType) {
		t.Fatalf("Next(ANALYSIS) on lightweight error = %v, want ErrUnknownStageType", err)
	}
}

func TestBuiltinFanOutRoles(t *testing.T) {
	p, err := BuiltinPipelines().Lookup(PipelineExpedited)
	if err != nil {
		t.Fatalf("Lookup(expedited) error = %v", err)
	}

	analysis, err := p.Stage(StageAnalysis)
	if err != nil {
		t.Fatalf("Stage(ANALYSIS) error = %v", err)
	}
	if !analysis.FanOut || analysis.FanOutRole != RoleInvitation {
		t.Fatalf("analysis fan-out = %+v, want invitation fan-out", analysis)
	}

	solution, err := p.Stage(StageSolution)
	if err != nil {
		t.Fatalf("Stage(SOLUTION) error = %v", err)
	}
	if !solution.FanOut || solution.FanOutRole != RoleDivision {
		t.Fatalf("solution fan-out = %+v, want division fan-out", solution)
	}
}

func TestLookupUnknownPipeline(t *testing.T) {
	if _, err := BuiltinPipelines().Lookup("no-such-variant"); !errors.Is(err, ErrUnknownPipeline) {
		t.Fatalf("Lookup() error = %v, want ErrUnknownPipeline", err)
	}
}

func writeProfile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pipelines.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return path
}

func TestLoadPipelineProfileMergesOverBuiltins(t *testing.T) {
	path := writeProfile(t, `
version = 1

[pipelines.hotfix]
name = "Hotfix pipeline"

[[pipelines.hotfix.stages]]
type = "description"

[[pipelines.hotfix.stages]]
type = "solution"
fan_out = true
fan_out_role = "division"

[[pipelines.hotfix.stages]]
type = "confirmation"
`)

	merged, err := LoadPipelineProfile(path)
	if err != nil {
		t.Fatalf("LoadPipelineProfile() error = %v", err)
	}

	hotfix, err := merged.Lookup("hotfix")
	if err != nil {
		t.Fatalf("Lookup(hotfix) error = %v", err)
	}
	if len(hotfix.Stages) != 3 {
		t.Fatalf("hotfix stages = %d, want 3", len(hotfix.Stages))
	}
	solution, err := hotfix.Stage(StageSolution)
	if err != nil {
		t.Fatalf("Stage(SOLUTION) error = %v", err)
	}
	if !solution.FanOut || solution.FanOutRole != RoleDivision {
		t.Fatalf("solution = %+v, want division fan-out", solution)
	}

	// Builtins survive the merge untouched.
	if _, err := merged.Lookup(PipelineFull); err != nil {
		t.Fatalf("Lookup(full) after merge error = %v", err)
	}
}

func TestLoadPipelineProfileRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{
			name:    "wrong version",
			content: "version = 2\n",
		},
		{
			name: "single stage",
			content: `
version = 1
[pipelines.short]
[[pipelines.short.stages]]
type = "description"
`,
		},
		{
			name: "wrong first stage",
			content: `
version = 1
[pipelines.backwards]
[[pipelines.backwards.stages]]
type = "solution"
[[pipelines.backwards.stages]]
type = "confirmation"
`,
		},
		{
			name: "repeated stage",
			content: `
version = 1
[pipelines.loop]
[[pipelines.loop.stages]]
type = "description"
[[pipelines.loop.stages]]
type = "solution"
[[pipelines.loop.stages]]
type = "solution"
`,
		},
		{
			name: "fan-out without role",
			content: `
version = 1
[pipelines.vague]
[[pipelines.vague.stages]]
type = "description"
[[pipelines.vague.stages]]
type = "solution"
fan_out = true
`,
		},
		{
			name: "fan-out on review stage",
			content: `
version = 1
[pipelines.odd]
[[pipelines.odd.stages]]
type = "description"
[[pipelines.odd.stages]]
type = "review"
fan_out = true
fan_out_role = "invitation"
[[pipelines.odd.stages]]
type = "confirmation"
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeProfile(t, tc.content)
			if _, err := LoadPipelineProfile(path); err == nil {
				t.Fatal("LoadPipelineProfile() error = nil, want validation failure")
			}
		})
	}
}
