package engine

import "github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"

// StateTaskEngine selects batch tasks straight from the run state
type StateTaskEngine struct{}

// ReadyForValidation returns the batch tasks still running after ingestion
func (StateTaskEngine) ReadyForValidation(state *domain.RunState, batchTasks []domain.TaskID) []domain.TaskID {
	return withStatus(state, batchTasks, domain.StatusRunning)
}

// Validated returns the batch tasks that passed validation
func (StateTaskEngine) Validated(state *domain.RunState, batchTasks []domain.TaskID) []domain.TaskID {
	return withStatus(state, batchTasks, domain.StatusValidated)
}

func withStatus(state *domain.RunState, batchTasks []domain.TaskID, status domain.TaskStatus) []domain.TaskID {
	var out []domain.TaskID
	for _, id := range batchTasks {
		if ts := state.Task(id); ts != nil && ts.Status == status {
			out = append(out, id)
		}
	}
	return out
}
