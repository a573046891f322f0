package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/engine"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/taskstore"
)

type memStore struct {
	runs  map[string]*domain.RunState
	saves int
}

func (m *memStore) Load(runID string) (*domain.RunState, error) {
	if s, ok := m.runs[runID]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", taskstore.ErrRunNotFound, runID)
}

func (m *memStore) Save(state *domain.RunState) error {
	m.saves++
	m.runs[state.RunID] = state
	return nil
}

type fakeHead struct {
	sha string
	err error
}

func (h fakeHead) HeadSHA(ctx context.Context, dir, ref string) (string, error) {
	return h.sha, h.err
}

type fakeLayout struct {
	specs map[domain.TaskID]*domain.TaskSpec
}

func (l fakeLayout) Load(id domain.TaskID) (*domain.TaskSpec, error) {
	if s, ok := l.specs[id]; ok {
		return s, nil
	}
	return nil, errors.New("not found")
}

func (l fakeLayout) WriteManifest(spec *domain.TaskSpec, m domain.TaskManifest) error { return nil }
func (l fakeLayout) Archive(spec *domain.TaskSpec) error                              { return nil }

type fakeLedger struct {
	current map[domain.TaskID]bool
}

func (l fakeLedger) Lookup(project string, spec *domain.TaskSpec) (*domain.LedgerEntry, bool, error) {
	cur, ok := l.current[spec.ID()]
	if !ok {
		return nil, false, nil
	}
	return &domain.LedgerEntry{Project: project, TaskID: spec.ID()}, cur, nil
}

func spec(id domain.TaskID) *domain.TaskSpec {
	return &domain.TaskSpec{Manifest: domain.TaskManifest{ID: id, Name: string(id)}}
}

func TestRunner_LoadOrCreate(t *testing.T) {
	t.Run("new run", func(t *testing.T) {
		r := NewRunner(&memStore{runs: map[string]*domain.RunState{}}, fakeHead{sha: "abc123"}, nil,
			engine.Deps{}, engine.Options{},
			RunConfig{Project: "erp", RepoPath: "/repo", MainBranch: "main", ControlPlane: true})

		state, err := r.loadOrCreate(context.Background(), "run1")
		if err != nil {
			t.Fatalf("loadOrCreate: %v", err)
		}
		if state.RunID != "run1" || state.Project != "erp" || state.MainBranch != "main" {
			t.Errorf("state = %+v", state)
		}
		if state.ControlPlane.BaseSHA != "abc123" || !state.ControlPlane.Enabled {
			t.Errorf("control plane = %+v", state.ControlPlane)
		}
	})

	t.Run("head unavailable", func(t *testing.T) {
		r := NewRunner(&memStore{runs: map[string]*domain.RunState{}}, fakeHead{err: errors.New("no repo")}, nil,
			engine.Deps{}, engine.Options{}, RunConfig{MainBranch: "main"})

		state, err := r.loadOrCreate(context.Background(), "run1")
		if err != nil {
			t.Fatalf("loadOrCreate: %v", err)
		}
		if state.ControlPlane.BaseSHA != "" {
			t.Errorf("BaseSHA = %q, want empty", state.ControlPlane.BaseSHA)
		}
	})

	t.Run("existing run", func(t *testing.T) {
		existing := domain.NewRunState("run1", "erp", "/repo", "main")
		existing.ControlPlane.BaseSHA = "old"
		r := NewRunner(&memStore{runs: map[string]*domain.RunState{"run1": existing}}, fakeHead{sha: "new"}, nil,
			engine.Deps{}, engine.Options{}, RunConfig{})

		state, err := r.loadOrCreate(context.Background(), "run1")
		if err != nil {
			t.Fatalf("loadOrCreate: %v", err)
		}
		if state != existing || state.ControlPlane.BaseSHA != "old" {
			t.Error("existing run was not reused unchanged")
		}
	})
}

func TestRunner_Dispatch(t *testing.T) {
	layout := fakeLayout{specs: map[domain.TaskID]*domain.TaskSpec{
		"a-1": spec("a-1"), "a-2": spec("a-2"), "a-3": spec("a-3"),
	}}
	ledger := fakeLedger{current: map[domain.TaskID]bool{"a-2": true, "a-3": false}}
	r := NewRunner(&memStore{runs: map[string]*domain.RunState{}}, fakeHead{}, ledger,
		engine.Deps{Layout: layout}, engine.Options{}, RunConfig{})

	state := domain.NewRunState("run1", "erp", "/repo", "main")
	done := state.EnsureTask("a-4")
	done.Status = domain.StatusComplete

	f := &File{
		RunID:   "run1",
		BatchID: 1,
		Tasks:   []domain.TaskID{"a-1", "a-2", "a-3", "a-4"},
		Results: []domain.TaskResult{
			{TaskID: "a-1", Success: true, Workspace: "/ws/a-1", Branch: "task/a-1"},
			{TaskID: "a-4", Success: true},
		},
	}
	r.dispatch(state, f)

	tests := []struct {
		id     domain.TaskID
		status domain.TaskStatus
	}{
		{"a-1", domain.StatusRunning},  // has a result
		{"a-2", domain.StatusSkipped},  // landed unchanged
		{"a-3", domain.StatusPending},  // landed, spec changed since
		{"a-4", domain.StatusComplete}, // not pending, left alone
	}
	for _, tt := range tests {
		if got := state.Task(tt.id).Status; got != tt.status {
			t.Errorf("%s status = %s, want %s", tt.id, got, tt.status)
		}
	}
	if ts := state.Task("a-1"); ts.Branch != "task/a-1" || ts.Attempts != 1 {
		t.Errorf("a-1 = %+v", ts)
	}
}

func TestRunner_FinalizeRejectsRepeatedBatch(t *testing.T) {
	existing := domain.NewRunState("run1", "erp", "/repo", "main")
	existing.EnsureTask("T1")
	if _, err := existing.CompleteBatch(domain.BatchCompletion{BatchID: 1, Status: domain.BatchFailed}); err != nil {
		t.Fatal(err)
	}
	store := &memStore{runs: map[string]*domain.RunState{"run1": existing}}
	r := NewRunner(store, fakeHead{}, fakeLedger{}, engine.Deps{}, engine.Options{}, RunConfig{})

	_, err := r.Finalize(context.Background(), &File{
		RunID:   "run1",
		BatchID: 1,
		Tasks:   []domain.TaskID{"T1"},
		Results: []domain.TaskResult{{TaskID: "T1", Success: true, Branch: "task/T1"}},
	})
	if !errors.Is(err, domain.ErrBatchCompleted) {
		t.Fatalf("err = %v, want ErrBatchCompleted", err)
	}
	if store.saves != 0 {
		t.Errorf("saves = %d, want none", store.saves)
	}
	if got := existing.Task("T1").Status; got != domain.StatusPending {
		t.Errorf("T1 status = %s, want pending", got)
	}
}
