package orchestrator_test

import (
	"testing"

	"finetune-orchestrator/core/models"
	"finetune-orchestrator/core/orchestrator"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to models.JobState
		want     bool
	}{
		{models.JobStatePending, models.JobStateProvisioning, true},
		{models.JobStatePending, models.JobStateRunning, true},
		{models.JobStatePending, models.JobStateFailed, true},
		{models.JobStatePending, models.JobStateCancelled, true},
		{models.JobStateProvisioning, models.JobStateRunning, true},
		{models.JobStateProvisioning, models.JobStateCompleted, true},
		{models.JobStateRunning, models.JobStateCompleted, true},
		{models.JobStateRunning, models.JobStateFailed, true},
		{models.JobStateRunning, models.JobStateCancelled, true},

		// No self-transitions.
		{models.JobStatePending, models.JobStatePending, false},
		{models.JobStateRunning, models.JobStateRunning, false},

		// Never backward.
		{models.JobStateProvisioning, models.JobStatePending, false},
		{models.JobStateRunning, models.JobStateProvisioning, false},
		{models.JobStateRunning, models.JobStatePending, false},

		// No escape from a terminal state, including to another terminal.
		{models.JobStateCompleted, models.JobStateRunning, false},
		{models.JobStateCompleted, models.JobStateFailed, false},
		{models.JobStateFailed, models.JobStateCompleted, false},
		{models.JobStateFailed, models.JobStateCancelled, false},
		{models.JobStateCancelled, models.JobStateRunning, false},
		{models.JobStateCancelled, models.JobStateCompleted, false},
	}

	for _, tc := range cases {
		if got := orchestrator.CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s): got %t, want %t", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	terminal := []models.JobState{models.JobStateCompleted, models.JobStateFailed, models.JobStateCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	active := []models.JobState{models.JobStatePending, models.JobStateProvisioning, models.JobStateRunning}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
