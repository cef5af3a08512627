// Package spec parses the YAML training request the desktop client
// composes.
package spec

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/models"
)

// TrainingSpec is the YAML training request.
type TrainingSpec struct {
	Training TrainingSpecBody `yaml:"training"`
}

// TrainingSpecBody is the training section of the spec.
type TrainingSpecBody struct {
	Model     TrainingSpecModel     `yaml:"model"`
	Algorithm TrainingSpecAlgorithm `yaml:"algorithm"`
	Dataset   string                `yaml:"dataset"`
	Target    TrainingSpecTarget    `yaml:"target"`
	Project   string                `yaml:"project"`
	Run       string                `yaml:"run,omitempty"`
}

// TrainingSpecModel identifies the base model.
type TrainingSpecModel struct {
	Base         string `yaml:"base"`
	Source       string `yaml:"source"`       // huggingface | local | s3
	Quantization string `yaml:"quantization"` // none | int8 | nf4
}

// TrainingSpecAlgorithm holds PEFT hyperparameters.
type TrainingSpecAlgorithm struct {
	Name          string   `yaml:"name"` // lora | qlora | dora
	Rank          int      `yaml:"rank"`
	ScalingFactor float64  `yaml:"scaling_factor"`
	Dropout       float64  `yaml:"dropout"`
	TargetModules []string `yaml:"target_modules"`
}

// TrainingSpecTarget selects the provider and resource.
type TrainingSpecTarget struct {
	Platform string `yaml:"platform"`
	Resource string `yaml:"resource"`
}

// Parse decodes and validates a YAML training spec into a TrainingConfig.
func Parse(raw string) (models.TrainingConfig, error) {
	var parsed TrainingSpec
	if err := yaml.Unmarshal([]byte(raw), &parsed); err != nil {
		return models.TrainingConfig{}, fmt.Errorf("parse training spec: %w", err)
	}

	body := parsed.Training
	switch {
	case body.Model.Base == "":
		return models.TrainingConfig{}, &fterr.ValidationError{Field: "model.base", Reason: "required"}
	case body.Dataset == "":
		return models.TrainingConfig{}, &fterr.ValidationError{Field: "dataset", Reason: "required"}
	case body.Target.Platform == "":
		return models.TrainingConfig{}, &fterr.ValidationError{Field: "target.platform", Reason: "required"}
	case body.Target.Resource == "":
		return models.TrainingConfig{}, &fterr.ValidationError{Field: "target.resource", Reason: "required"}
	}

	algorithm := body.Algorithm.Name
	if algorithm == "" {
		algorithm = "lora"
	}
	switch algorithm {
	case "lora", "qlora", "dora":
	default:
		return models.TrainingConfig{}, &fterr.ValidationError{Field: "algorithm.name", Reason: fmt.Sprintf("unsupported algorithm %q", algorithm)}
	}

	rank := body.Algorithm.Rank
	if rank == 0 {
		rank = 8
	}
	if rank < 0 || rank > 1024 {
		return models.TrainingConfig{}, &fterr.ValidationError{Field: "algorithm.rank", Reason: "must be between 1 and 1024"}
	}

	quantization := body.Model.Quantization
	if quantization == "" {
		quantization = "none"
	}

	source := body.Model.Source
	if source == "" {
		source = "huggingface"
	}

	return models.TrainingConfig{
		BaseModel:     body.Model.Base,
		ModelSource:   source,
		Algorithm:     algorithm,
		Rank:          rank,
		ScalingFactor: body.Algorithm.ScalingFactor,
		Dropout:       body.Algorithm.Dropout,
		TargetModules: body.Algorithm.TargetModules,
		Quantization:  quantization,
		DatasetURI:    body.Dataset,
		PlatformName:  body.Target.Platform,
		ResourceName:  body.Target.Resource,
		ProjectName:   body.Project,
		RunName:       body.Run,
	}, nil
}
