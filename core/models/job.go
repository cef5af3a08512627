package models

import "time"

// TrainingConfig describes a requested fine-tuning job. It is constructed by
// the caller and never mutated after submission.
type TrainingConfig struct {
	BaseModel     string
	ModelSource   string // "huggingface", "local", "s3"
	Algorithm     string // "lora", "qlora", "dora"
	Rank          int
	ScalingFactor float64
	Dropout       float64
	TargetModules []string
	Quantization  string // "none", "int8", "nf4"
	DatasetURI    string
	PlatformName  string
	ResourceName  string
	ProjectName   string
	RunName       string
}

// JobState represents the current state of a job.
type JobState string

const (
	JobStatePending      JobState = "pending"
	JobStateProvisioning JobState = "provisioning"
	JobStateRunning      JobState = "running"
	JobStateCompleted    JobState = "completed"
	JobStateFailed       JobState = "failed"
	JobStateCancelled    JobState = "cancelled"
)

// Terminal reports whether no further transitions are permitted out of s.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// Job tracks one fine-tuning run through its remote lifecycle. The ID is
// assigned by the remote provider at submission. Jobs are never deleted,
// only transitioned to a terminal state.
type Job struct {
	ID           string
	PlatformName string
	State        JobState
	StateReason  string
	Config       TrainingConfig
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	LogCursor    uint64 // last cursor delivered, used to resume streaming
}

// JobEvent records one state transition for a job.
type JobEvent struct {
	JobID  string
	At     time.Time
	From   *JobState
	To     JobState
	Reason string
}
