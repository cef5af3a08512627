package orchestrator

import "finetune-orchestrator/core/models"

// stateRank orders states along the lifecycle. Terminal states share a rank;
// transitions between them are never permitted.
var stateRank = map[models.JobState]int{
	models.JobStatePending:      0,
	models.JobStateProvisioning: 1,
	models.JobStateRunning:      2,
	models.JobStateCompleted:    3,
	models.JobStateFailed:       3,
	models.JobStateCancelled:    3,
}

// CanTransition reports whether a job may move from one state to another.
// Transitions are monotonic: never backward, never out of a terminal state,
// and never terminal-to-terminal. Any non-terminal state may move directly
// to a terminal state (a job can fail or be cancelled at any point).
func CanTransition(from, to models.JobState) bool {
	if from == to {
		return false
	}
	if from.Terminal() {
		return false
	}
	return stateRank[to] > stateRank[from]
}
