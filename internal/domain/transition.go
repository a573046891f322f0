package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change is not permitted
var ErrInvalidTransition = errors.New("invalid task status transition")

// ErrUnknownTask is returned when a transition targets a task the run does not track
var ErrUnknownTask = errors.New("unknown task")

// ErrBatchCompleted is returned when a batch id is finalized a second time
var ErrBatchCompleted = errors.New("batch already completed")

// allowedTransitions defines the permitted lifecycle changes
var allowedTransitions = map[TaskStatus]map[TaskStatus]struct{}{
	StatusPending: {
		StatusRunning: {},
		StatusSkipped: {},
		StatusFailed:  {},
	},
	StatusRunning: {
		StatusValidated:        {},
		StatusNeedsHumanReview: {},
		StatusNeedsRescope:     {},
		StatusRescopeRequired:  {},
		StatusFailed:           {},
		StatusPending:          {},
	},
	StatusValidated: {
		StatusComplete:         {},
		StatusFailed:           {},
		StatusNeedsHumanReview: {},
		StatusPending:          {},
	},
	StatusRescopeRequired:  {StatusPending: {}},
	StatusNeedsRescope:     {StatusPending: {}},
	StatusNeedsHumanReview: {StatusPending: {}},
	StatusFailed:           {StatusPending: {}},
	StatusComplete:         {},
	StatusSkipped:          {},
}

// IsValidTransition reports whether the lifecycle allows the requested change
func IsValidTransition(from, to TaskStatus) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

func (s *RunState) transition(id TaskID, to TaskStatus) (*TaskState, error) {
	ts := s.Tasks[id]
	if ts == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if !IsValidTransition(ts.Status, to) {
		return nil, fmt.Errorf("%w: %s from %q to %q", ErrInvalidTransition, id, ts.Status, to)
	}
	ts.Status = to
	s.UpdatedAt = time.Now().UTC()
	return ts, nil
}

// MarkRunning starts a new attempt
func (s *RunState) MarkRunning(id TaskID, workspace, branch string) error {
	ts, err := s.transition(id, StatusRunning)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	ts.Attempts++
	ts.StartedAt = &now
	ts.Workspace = workspace
	ts.Branch = branch
	ts.LastError = ""
	return nil
}

// RecordWorkspace fills in the workspace and branch a worker reported when the
// dispatcher did not record them at start
func (s *RunState) RecordWorkspace(id TaskID, workspace, branch string) {
	ts := s.Tasks[id]
	if ts == nil {
		return
	}
	if ts.Workspace == "" {
		ts.Workspace = workspace
	}
	if ts.Branch == "" {
		ts.Branch = branch
	}
}

// MarkValidated records that every blocking validator passed
func (s *RunState) MarkValidated(id TaskID) error {
	_, err := s.transition(id, StatusValidated)
	return err
}

// MarkComplete finishes a task successfully
func (s *RunState) MarkComplete(id TaskID, containerID string) error {
	ts, err := s.transition(id, StatusComplete)
	if err != nil {
		return err
	}
	finish(ts, containerID)
	return nil
}

// MarkFailed finishes a task unsuccessfully
func (s *RunState) MarkFailed(id TaskID, reason, containerID string) error {
	ts, err := s.transition(id, StatusFailed)
	if err != nil {
		return err
	}
	ts.LastError = reason
	finish(ts, containerID)
	return nil
}

// MarkSkipped records that the ledger already holds this task
func (s *RunState) MarkSkipped(id TaskID) error {
	ts, err := s.transition(id, StatusSkipped)
	if err != nil {
		return err
	}
	finish(ts, "")
	return nil
}

// MarkNeedsHumanReview escalates a task
func (s *RunState) MarkNeedsHumanReview(id TaskID, review HumanReview) error {
	ts, err := s.transition(id, StatusNeedsHumanReview)
	if err != nil {
		return err
	}
	ts.HumanReview = &review
	ts.LastError = review.Reason
	return nil
}

// MarkNeedsRescope parks a task whose scope must be widened by hand
func (s *RunState) MarkNeedsRescope(id TaskID, reason string) error {
	ts, err := s.transition(id, StatusNeedsRescope)
	if err != nil {
		return err
	}
	ts.LastError = reason
	return nil
}

// MarkRescopeRequired records an automatic scope expansion in progress
func (s *RunState) MarkRescopeRequired(id TaskID, reason string) error {
	ts, err := s.transition(id, StatusRescopeRequired)
	if err != nil {
		return err
	}
	ts.LastError = reason
	return nil
}

// ResetToPending returns a task to the queue. Attempts are left untouched.
func (s *RunState) ResetToPending(id TaskID, reason string) error {
	ts, err := s.transition(id, StatusPending)
	if err != nil {
		return err
	}
	ts.LastError = reason
	ts.CompletedAt = nil
	ts.ContainerID = ""
	ts.HumanReview = nil
	return nil
}

// ApplyValidatorResult stores r, replacing any earlier result of the same validator
func (s *RunState) ApplyValidatorResult(id TaskID, r ValidatorResult) error {
	ts := s.Tasks[id]
	if ts == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	if r.CheckedAt.IsZero() {
		r.CheckedAt = time.Now().UTC()
	}
	for i := range ts.ValidatorResults {
		if ts.ValidatorResults[i].Validator == r.Validator {
			ts.ValidatorResults[i] = r
			return nil
		}
	}
	ts.ValidatorResults = append(ts.ValidatorResults, r)
	return nil
}

// BatchCompletion carries the inputs of CompleteBatch
type BatchCompletion struct {
	BatchID                 int
	Tasks                   []TaskID
	Status                  BatchStatus
	MergeCommit             string
	IntegrationDoctorPassed *bool
	Canary                  *CanarySummary
}

// CompleteBatch appends the immutable record of a finished batch
func (s *RunState) CompleteBatch(c BatchCompletion) (BatchRecord, error) {
	if s.HasBatch(c.BatchID) {
		return BatchRecord{}, fmt.Errorf("batch %d: %w", c.BatchID, ErrBatchCompleted)
	}
	rec := BatchRecord{
		BatchID:                 c.BatchID,
		Tasks:                   append([]TaskID(nil), c.Tasks...),
		Status:                  c.Status,
		MergeCommit:             c.MergeCommit,
		IntegrationDoctorPassed: c.IntegrationDoctorPassed,
		Canary:                  c.Canary,
		CompletedAt:             time.Now().UTC(),
	}
	s.Batches = append(s.Batches, rec)
	s.UpdatedAt = rec.CompletedAt
	return rec, nil
}

func finish(ts *TaskState, containerID string) {
	now := time.Now().UTC()
	ts.CompletedAt = &now
	if containerID != "" {
		ts.ContainerID = containerID
	}
}
