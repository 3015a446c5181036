package defect

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

type profileStage struct {
	Type       string `toml:"type"`
	FanOut     bool   `toml:"fan_out"`
	FanOutRole string `toml:"fan_out_role"`
}

type profilePipeline struct {
	Name   string         `toml:"name"`
	Stages []profileStage `toml:"stages"`
}

type pipelineProfile struct {
	Version   int                        `toml:"version"`
	Pipelines map[string]profilePipeline `toml:"pipelines"`
}

// LoadPipelineProfile reads pipeline variants from a toml profile file.
// Profile pipelines are merged over the builtin set; a profile entry with the
// same key replaces the builtin definition.
func LoadPipelineProfile(profileFile string) (Pipelines, error) {
	path := strings.TrimSpace(profileFile)
	if path == "" {
		return Pipelines{}, errors.New("pipeline profile file is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Pipelines{}, err
	}

	var profile pipelineProfile
	if err := toml.Unmarshal(raw, &profile); err != nil {
		return Pipelines{}, err
	}
	if profile.Version != 1 {
		return Pipelines{}, fmt.Errorf("unsupported pipeline profile version %d: expected version = 1", profile.Version)
	}

	merged := BuiltinPipelines()
	for key, entry := range profile.Pipelines {
		key = strings.TrimSpace(key)

		stages := make([]PipelineStage, 0, len(entry.Stages))
		for _, s := range entry.Stages {
			stage := PipelineStage{
				Type:   StageTypeKey(strings.ToUpper(strings.TrimSpace(s.Type))),
				FanOut: s.FanOut,
			}
			if role := strings.ToUpper(strings.TrimSpace(s.FanOutRole)); role != "" {
				stage.FanOutRole = CollaboratorRole(role)
			}
			stages = append(stages, stage)
		}

		p := Pipeline{
			Key:    key,
			Name:   strings.TrimSpace(entry.Name),
			Stages: stages,
		}
		if p.Name == "" {
			p.Name = key
		}
		if err := validatePipeline(p); err != nil {
			return Pipelines{}, err
		}
		merged.byKey[key] = p
	}

	return merged, nil
}
