package taskstore

import (
	"errors"
	"testing"
	"time"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRun() *domain.RunState {
	state := domain.NewRunState("run-1", "billing", "/repo", "main")
	state.ControlPlane.BaseSHA = "abc123"
	for _, id := range []domain.TaskID{"T1", "T2"} {
		state.EnsureTask(id)
		if err := state.MarkRunning(id, "/ws/"+id.String(), "task/"+id.String()); err != nil {
			panic(err)
		}
	}
	return state
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	state := sampleRun()

	if err := store.Save(state); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Project != "billing" || got.ControlPlane.BaseSHA != "abc123" {
		t.Errorf("loaded run = %+v", got)
	}
	if len(got.Tasks) != 2 {
		t.Fatalf("Tasks count = %d, want 2", len(got.Tasks))
	}
	if got.Tasks["T1"].Status != domain.StatusRunning || got.Tasks["T1"].Attempts != 1 {
		t.Errorf("T1 = %+v", got.Tasks["T1"])
	}
}

func TestStore_ReadAfterWrite(t *testing.T) {
	store := newTestStore(t)
	state := sampleRun()
	if err := store.Save(state); err != nil {
		t.Fatal(err)
	}

	if err := state.MarkValidated("T1"); err != nil {
		t.Fatal(err)
	}
	if err := state.ResetToPending("T2", "merge conflict"); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(state); err != nil {
		t.Fatal(err)
	}

	got, err := store.Load("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Tasks["T1"].Status != domain.StatusValidated {
		t.Errorf("T1 status = %q, want validated", got.Tasks["T1"].Status)
	}

	pending, err := store.TaskIDsByStatus("run-1", domain.StatusPending)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != "T2" {
		t.Errorf("pending = %v, want [T2]", pending)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Load("nope")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestStore_Batches(t *testing.T) {
	store := newTestStore(t)
	state := sampleRun()

	passed := true
	if _, err := state.CompleteBatch(domain.BatchCompletion{
		BatchID:                 1,
		Tasks:                   []domain.TaskID{"T1", "T2"},
		Status:                  domain.BatchComplete,
		MergeCommit:             "deadbeef",
		IntegrationDoctorPassed: &passed,
		Canary:                  &domain.CanarySummary{Status: domain.CanaryExpectedFail, ExitCode: 1, EnvVar: "ORCH_CANARY"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := state.CompleteBatch(domain.BatchCompletion{
		BatchID: 2,
		Tasks:   []domain.TaskID{"T3"},
		Status:  domain.BatchFailed,
	}); err != nil {
		t.Fatal(err)
	}

	// saving twice must not duplicate batch rows
	for i := 0; i < 2; i++ {
		if err := store.Save(state); err != nil {
			t.Fatal(err)
		}
	}

	batches, err := store.ListBatches("run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	first := batches[0]
	if first.MergeCommit != "deadbeef" || first.IntegrationDoctorPassed == nil || !*first.IntegrationDoctorPassed {
		t.Errorf("first batch = %+v", first)
	}
	if first.Canary == nil || first.Canary.Status != domain.CanaryExpectedFail {
		t.Errorf("first canary = %+v", first.Canary)
	}
	second := batches[1]
	if second.Status != domain.BatchFailed || second.IntegrationDoctorPassed != nil || second.Canary != nil {
		t.Errorf("second batch = %+v", second)
	}
}

func TestStore_ListRuns(t *testing.T) {
	store := newTestStore(t)

	a := domain.NewRunState("run-a", "billing", "/repo", "main")
	b := domain.NewRunState("run-b", "payments", "/repo2", "main")
	for _, s := range []*domain.RunState{a, b} {
		if err := store.Save(s); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListRuns("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("all runs = %d, want 2", len(all))
	}

	billing, err := store.ListRuns("billing")
	if err != nil {
		t.Fatal(err)
	}
	if len(billing) != 1 || billing[0].ID != "run-a" {
		t.Errorf("billing runs = %+v", billing)
	}
}

func TestStore_LedgerUpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	entry := domain.LedgerEntry{
		Project:                 "billing",
		TaskID:                  "T1",
		Status:                  domain.StatusComplete,
		Fingerprint:             "sha256:aa",
		MergeCommit:             "c1",
		IntegrationDoctorPassed: true,
		CompletedAt:             time.Now().UTC(),
		RunID:                   "run-1",
		Source:                  "batch",
	}
	if err := store.UpsertLedgerEntry(entry); err != nil {
		t.Fatal(err)
	}
	entry.MergeCommit = "c2"
	entry.RunID = "run-2"
	if err := store.UpsertLedgerEntry(entry); err != nil {
		t.Fatal(err)
	}

	entries, err := store.ListLedger("billing")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if entries[0].MergeCommit != "c2" || entries[0].RunID != "run-2" {
		t.Errorf("entry = %+v", entries[0])
	}

	got, err := store.GetLedgerEntry("billing", "T1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Fingerprint != "sha256:aa" || !got.IntegrationDoctorPassed {
		t.Errorf("GetLedgerEntry = %+v", got)
	}

	if _, err := store.GetLedgerEntry("billing", "T9"); !errors.Is(err, ErrLedgerEntryNotFound) {
		t.Errorf("err = %v, want ErrLedgerEntryNotFound", err)
	}
}
