package domain

import (
	"errors"
	"testing"
)

func newRunWithTask(t *testing.T, id TaskID) *RunState {
	t.Helper()
	s := NewRunState("run-1", "demo", "/repo", "main")
	s.EnsureTask(id)
	return s
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusRunning, StatusValidated, true},
		{StatusRunning, StatusRescopeRequired, true},
		{StatusRescopeRequired, StatusPending, true},
		{StatusValidated, StatusComplete, true},
		{StatusValidated, StatusPending, true},
		{StatusPending, StatusComplete, false},
		{StatusComplete, StatusPending, false},
		{StatusRescopeRequired, StatusComplete, false},
		{StatusSkipped, StatusRunning, false},
	}
	for _, tt := range tests {
		if got := IsValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("IsValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestRunState_MarkRunningCountsAttempts(t *testing.T) {
	s := newRunWithTask(t, "001")

	if err := s.MarkRunning("001", "/ws/001", "task/001"); err != nil {
		t.Fatal(err)
	}
	if err := s.ResetToPending("001", "merge conflict"); err != nil {
		t.Fatal(err)
	}
	if got := s.Task("001").Attempts; got != 1 {
		t.Errorf("Attempts after reset = %d, want 1", got)
	}
	if err := s.MarkRunning("001", "/ws/001", "task/001"); err != nil {
		t.Fatal(err)
	}
	if got := s.Task("001").Attempts; got != 2 {
		t.Errorf("Attempts = %d, want 2", got)
	}
}

func TestRunState_InvalidTransitionDoesNotMutate(t *testing.T) {
	s := newRunWithTask(t, "001")

	err := s.MarkComplete("001", "c-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkComplete from pending error = %v, want ErrInvalidTransition", err)
	}
	ts := s.Task("001")
	if ts.Status != StatusPending || ts.CompletedAt != nil || ts.ContainerID != "" {
		t.Errorf("task mutated by rejected transition: %+v", ts)
	}
}

func TestRunState_UnknownTask(t *testing.T) {
	s := NewRunState("run-1", "demo", "/repo", "main")
	if err := s.MarkValidated("missing"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("error = %v, want ErrUnknownTask", err)
	}
}

func TestRunState_TerminalTransitionSetsCompletion(t *testing.T) {
	s := newRunWithTask(t, "001")
	s.MarkRunning("001", "", "")
	s.MarkValidated("001")

	if err := s.MarkComplete("001", "container-9"); err != nil {
		t.Fatal(err)
	}
	ts := s.Task("001")
	if ts.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if ts.ContainerID != "container-9" {
		t.Errorf("ContainerID = %q, want container-9", ts.ContainerID)
	}
}

func TestRunState_ApplyValidatorResultReplaces(t *testing.T) {
	s := newRunWithTask(t, "001")

	s.ApplyValidatorResult("001", ValidatorResult{Validator: "lint", Status: ValidatorFail})
	s.ApplyValidatorResult("001", ValidatorResult{Validator: "doctor", Status: ValidatorPass})
	s.ApplyValidatorResult("001", ValidatorResult{Validator: "lint", Status: ValidatorPass})

	ts := s.Task("001")
	if len(ts.ValidatorResults) != 2 {
		t.Fatalf("len(ValidatorResults) = %d, want 2", len(ts.ValidatorResults))
	}
	r, ok := ts.ValidatorResult("lint")
	if !ok || r.Status != ValidatorPass {
		t.Errorf("lint result = %+v, want pass", r)
	}
}

func TestRunState_CompleteBatchOnce(t *testing.T) {
	s := NewRunState("run-1", "demo", "/repo", "main")

	if _, err := s.CompleteBatch(BatchCompletion{BatchID: 1, Status: BatchComplete, MergeCommit: "abc"}); err != nil {
		t.Fatal(err)
	}
	if !s.HasBatch(1) || s.HasBatch(2) {
		t.Error("HasBatch does not match the recorded batches")
	}
	if _, err := s.CompleteBatch(BatchCompletion{BatchID: 1, Status: BatchFailed}); !errors.Is(err, ErrBatchCompleted) {
		t.Errorf("second CompleteBatch err = %v, want ErrBatchCompleted", err)
	}
	if got := s.LastBatch(); got == nil || got.MergeCommit != "abc" {
		t.Errorf("LastBatch() = %+v", got)
	}
}

func TestRunState_FinishedCount(t *testing.T) {
	s := NewRunState("run-1", "demo", "/repo", "main")
	for _, id := range []TaskID{"a", "b", "c", "d"} {
		s.EnsureTask(id)
		s.MarkRunning(id, "", "")
	}
	s.MarkValidated("a")
	s.MarkFailed("b", "boom", "")
	s.MarkNeedsHumanReview("c", HumanReview{Reason: "scope"})

	if got := s.FinishedCount(); got != 3 {
		t.Errorf("FinishedCount() = %d, want 3", got)
	}
}
