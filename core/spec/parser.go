package spec

import (
	"fmt"
	"strings"

	"batch-orchestrator/core/models"

	"gopkg.in/yaml.v3"
)

// BatchSpec represents the YAML batch manifest
type BatchSpec struct {
	Batch BatchSpecBatch `yaml:"batch"`
}

// BatchSpecBatch represents the batch section of the manifest
type BatchSpecBatch struct {
	Name     string            `yaml:"name,omitempty"`
	Context  BatchSpecContext  `yaml:"context"`
	Defaults BatchSpecDefaults `yaml:"defaults,omitempty"` // Merged into every effect
	Effects  []BatchSpecEffect `yaml:"effects"`
}

// BatchSpecContext represents the processing context
type BatchSpecContext struct {
	PerformanceTarget string            `yaml:"performance_target"` // speed | balanced | quality
	Urgent            bool              `yaml:"urgent"`
	ComplexityBudget  int               `yaml:"complexity_budget"`
	Metadata          map[string]string `yaml:"metadata,omitempty"`
}

// BatchSpecDefaults are applied to effects that leave a field empty
type BatchSpecDefaults struct {
	Type   string                 `yaml:"type,omitempty"`
	Params map[string]interface{} `yaml:"params,omitempty"`
}

// BatchSpecEffect represents one effect request
type BatchSpecEffect struct {
	ID     string                 `yaml:"id,omitempty"`
	Type   string                 `yaml:"type"`
	Prompt string                 `yaml:"prompt,omitempty"`
	Params map[string]interface{} `yaml:"params,omitempty"`
}

// ParseBatchSpec parses a YAML batch manifest into items and their context
func ParseBatchSpec(specYAML string) ([]models.Item, models.JobContext, error) {
	var spec BatchSpec
	if err := yaml.Unmarshal([]byte(specYAML), &spec); err != nil {
		return nil, models.JobContext{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	jc, err := models.JobContext{
		PerformanceTarget: models.PerformanceTarget(strings.ToLower(spec.Batch.Context.PerformanceTarget)),
		Urgent:            spec.Batch.Context.Urgent,
		ComplexityBudget:  spec.Batch.Context.ComplexityBudget,
		Metadata:          spec.Batch.Context.Metadata,
	}.Normalize()
	if err != nil {
		return nil, models.JobContext{}, err
	}
	if spec.Batch.Name != "" {
		if jc.Metadata == nil {
			jc.Metadata = make(map[string]string)
		}
		if _, ok := jc.Metadata["name"]; !ok {
			jc.Metadata["name"] = spec.Batch.Name
		}
	}

	if len(spec.Batch.Effects) == 0 {
		return nil, models.JobContext{}, models.ErrEmptyBatch
	}

	defaults := spec.Batch.Defaults
	items := make([]models.Item, 0, len(spec.Batch.Effects))
	seen := make(map[string]bool, len(spec.Batch.Effects))
	for i, effect := range spec.Batch.Effects {
		item := models.Item{
			ID:     effect.ID,
			Type:   strings.ToLower(effect.Type),
			Prompt: effect.Prompt,
			Params: mergeParams(defaults.Params, effect.Params),
		}
		if item.ID == "" {
			item.ID = fmt.Sprintf("effect-%d", i)
		}
		if item.Type == "" {
			item.Type = strings.ToLower(defaults.Type)
		}
		if item.Type == "" {
			return nil, models.JobContext{}, fmt.Errorf("effect %s: type is required", item.ID)
		}
		if seen[item.ID] {
			return nil, models.JobContext{}, fmt.Errorf("effect %s: duplicate id", item.ID)
		}
		seen[item.ID] = true
		items = append(items, item)
	}

	return items, jc, nil
}

// mergeParams overlays the effect's own params on the batch defaults
func mergeParams(defaults, own map[string]interface{}) map[string]interface{} {
	if len(defaults) == 0 {
		return own
	}
	merged := make(map[string]interface{}, len(defaults)+len(own))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range own {
		merged[k] = v
	}
	return merged
}
