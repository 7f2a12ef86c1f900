package tasks

import "github.com/helenavibes/ML-service/internal/models"

// transitions lists the statuses reachable from each non-terminal status
var transitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusPending:    {models.TaskStatusProcessing, models.TaskStatusValidationError},
	models.TaskStatusProcessing: {models.TaskStatusCompleted, models.TaskStatusFailed},
}

// CanTransition reports whether a task may move from one status to another
func CanTransition(from, to models.TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
