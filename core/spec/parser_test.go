package spec

import (
	"errors"
	"testing"

	"batch-orchestrator/core/models"
)

const sampleSpec = `
batch:
  name: launch-trailer
  context:
    performance_target: Quality
    urgent: true
    complexity_budget: 6
    metadata:
      owner: vfx-team
  defaults:
    params:
      color: "#ff8800"
  effects:
    - id: sparks
      type: particles
      prompt: sparks falling from a welding torch
      params:
        count: 2500
    - type: Lighting
      params:
        intensity: 1.5
        color: "#ffffff"
`

func TestParseBatchSpec(t *testing.T) {
	items, jc, err := ParseBatchSpec(sampleSpec)
	if err != nil {
		t.Fatalf("ParseBatchSpec failed: %v", err)
	}

	if jc.PerformanceTarget != models.TargetQuality || !jc.Urgent || jc.ComplexityBudget != 6 {
		t.Errorf("unexpected context %+v", jc)
	}
	if jc.Metadata["owner"] != "vfx-team" || jc.Metadata["name"] != "launch-trailer" {
		t.Errorf("unexpected metadata %v", jc.Metadata)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	sparks := items[0]
	if sparks.ID != "sparks" || sparks.Type != "particles" || sparks.Prompt == "" {
		t.Errorf("unexpected first item %+v", sparks)
	}
	if sparks.Params["count"] != 2500 || sparks.Params["color"] != "#ff8800" {
		t.Errorf("expected own params merged over defaults, got %v", sparks.Params)
	}

	light := items[1]
	if light.ID != "effect-1" || light.Type != "lighting" {
		t.Errorf("expected generated id and lower-cased type, got %+v", light)
	}
	if light.Params["color"] != "#ffffff" || light.Params["intensity"] != 1.5 {
		t.Errorf("expected the effect's color to win over the default, got %v", light.Params)
	}
}

func TestParseBatchSpec_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{
			name:    "empty batch",
			yaml:    "batch:\n  effects: []\n",
			wantErr: models.ErrEmptyBatch,
		},
		{
			name:    "unknown target",
			yaml:    "batch:\n  context:\n    performance_target: turbo\n  effects:\n    - type: shader\n",
			wantErr: models.ErrInvalidContext,
		},
		{
			name:    "negative budget",
			yaml:    "batch:\n  context:\n    complexity_budget: -2\n  effects:\n    - type: shader\n",
			wantErr: models.ErrInvalidContext,
		},
		{
			name: "missing type",
			yaml: "batch:\n  effects:\n    - prompt: something\n",
		},
		{
			name: "duplicate ids",
			yaml: "batch:\n  effects:\n    - {id: a, type: shader}\n    - {id: a, type: physics}\n",
		},
		{
			name: "malformed yaml",
			yaml: "batch: [",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ParseBatchSpec(tc.yaml)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestParseBatchSpec_DefaultsToBalanced(t *testing.T) {
	_, jc, err := ParseBatchSpec("batch:\n  effects:\n    - type: morphing\n")
	if err != nil {
		t.Fatalf("ParseBatchSpec failed: %v", err)
	}
	if jc.PerformanceTarget != models.TargetBalanced || jc.Metadata != nil {
		t.Fatalf("expected balanced context without metadata, got %+v", jc)
	}
}
