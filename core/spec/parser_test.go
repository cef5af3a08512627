package spec_test

import (
	"errors"
	"testing"

	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/spec"
)

const fullSpec = `
training:
  model:
    base: meta-llama/Llama-3-8B
    source: huggingface
    quantization: nf4
  algorithm:
    name: qlora
    rank: 16
    scaling_factor: 32
    dropout: 0.05
    target_modules: [q_proj, v_proj]
  dataset: s3://datasets/alpaca.jsonl
  target:
    platform: runpod
    resource: rtx-4090
  project: experiments
  run: baseline-1
`

func TestParse_FullSpec(t *testing.T) {
	cfg, err := spec.Parse(fullSpec)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.BaseModel != "meta-llama/Llama-3-8B" {
		t.Errorf("base model: got %q", cfg.BaseModel)
	}
	if cfg.Algorithm != "qlora" || cfg.Rank != 16 {
		t.Errorf("algorithm: got %s rank %d", cfg.Algorithm, cfg.Rank)
	}
	if cfg.ScalingFactor != 32 || cfg.Dropout != 0.05 {
		t.Errorf("hyperparameters: got alpha %v dropout %v", cfg.ScalingFactor, cfg.Dropout)
	}
	if len(cfg.TargetModules) != 2 || cfg.TargetModules[0] != "q_proj" {
		t.Errorf("target modules: got %v", cfg.TargetModules)
	}
	if cfg.Quantization != "nf4" {
		t.Errorf("quantization: got %q", cfg.Quantization)
	}
	if cfg.PlatformName != "runpod" || cfg.ResourceName != "rtx-4090" {
		t.Errorf("target: got %s/%s", cfg.PlatformName, cfg.ResourceName)
	}
	if cfg.ProjectName != "experiments" || cfg.RunName != "baseline-1" {
		t.Errorf("project/run: got %s/%s", cfg.ProjectName, cfg.RunName)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := spec.Parse(`
training:
  model:
    base: mistral-7b
  dataset: s3://d/x.jsonl
  target:
    platform: together
    resource: a100-80gb
`)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Algorithm != "lora" {
		t.Errorf("default algorithm: got %q, want lora", cfg.Algorithm)
	}
	if cfg.Rank != 8 {
		t.Errorf("default rank: got %d, want 8", cfg.Rank)
	}
	if cfg.Quantization != "none" {
		t.Errorf("default quantization: got %q, want none", cfg.Quantization)
	}
	if cfg.ModelSource != "huggingface" {
		t.Errorf("default source: got %q, want huggingface", cfg.ModelSource)
	}
}

func TestParse_RequiredFields(t *testing.T) {
	cases := []struct {
		name  string
		yaml  string
		field string
	}{
		{"missing base model", `
training:
  dataset: s3://d/x.jsonl
  target: {platform: runpod, resource: rtx-4090}
`, "model.base"},
		{"missing dataset", `
training:
  model: {base: mistral-7b}
  target: {platform: runpod, resource: rtx-4090}
`, "dataset"},
		{"missing platform", `
training:
  model: {base: mistral-7b}
  dataset: s3://d/x.jsonl
  target: {resource: rtx-4090}
`, "target.platform"},
		{"missing resource", `
training:
  model: {base: mistral-7b}
  dataset: s3://d/x.jsonl
  target: {platform: runpod}
`, "target.resource"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := spec.Parse(tc.yaml)
			var validation *fterr.ValidationError
			if !errors.As(err, &validation) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if validation.Field != tc.field {
				t.Errorf("field: got %q, want %q", validation.Field, tc.field)
			}
		})
	}
}

func TestParse_UnsupportedAlgorithm(t *testing.T) {
	_, err := spec.Parse(`
training:
  model: {base: mistral-7b}
  algorithm: {name: full-finetune}
  dataset: s3://d/x.jsonl
  target: {platform: runpod, resource: rtx-4090}
`)
	var validation *fterr.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if validation.Field != "algorithm.name" {
		t.Errorf("field: got %q", validation.Field)
	}
}

func TestParse_RankOutOfRange(t *testing.T) {
	_, err := spec.Parse(`
training:
  model: {base: mistral-7b}
  algorithm: {rank: 4096}
  dataset: s3://d/x.jsonl
  target: {platform: runpod, resource: rtx-4090}
`)
	var validation *fterr.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if validation.Field != "algorithm.rank" {
		t.Errorf("field: got %q", validation.Field)
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := spec.Parse("training: [not: a: mapping")
	if err == nil {
		t.Fatal("expected parse error")
	}
}
