// Package ledger records completed tasks per project, keyed by a content
// fingerprint, so later runs can skip work that already landed
package ledger

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/tasklayout"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/taskstore"
)

// SourceBatch marks entries written by batch finalization
const SourceBatch = "batch"

// ErrNoTaskDir is returned when a task has no directory to fingerprint
var ErrNoTaskDir = errors.New("task directory not found")

// Store persists ledger entries
type Store interface {
	UpsertLedgerEntry(e domain.LedgerEntry) error
	GetLedgerEntry(project string, taskID domain.TaskID) (*domain.LedgerEntry, error)
	ListLedger(project string) ([]domain.LedgerEntry, error)
}

// Ledger fingerprints task directories and records completions
type Ledger struct {
	store  Store
	layout *tasklayout.Layout
}

// New creates a Ledger
func New(store Store, layout *tasklayout.Layout) *Ledger {
	return &Ledger{store: store, layout: layout}
}

// Fingerprint hashes every regular file of the task directory (manifest,
// spec and attachments) in path order
func (l *Ledger) Fingerprint(spec *domain.TaskSpec) (string, error) {
	if spec == nil || spec.Dir == "" {
		return "", ErrNoTaskDir
	}
	files, err := l.layout.Files(spec)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNoTaskDir, spec.ID(), err)
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrNoTaskDir, spec.ID())
	}

	h := sha256.New()
	for _, rel := range files {
		f, err := l.layout.Fs().Open(filepath.Join(spec.Dir, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s\x00", rel)
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
		h.Write([]byte{0})
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

// Completion describes a task that finished in a merged batch
type Completion struct {
	Project                 string
	RunID                   string
	Spec                    *domain.TaskSpec
	Status                  domain.TaskStatus
	MergeCommit             string
	IntegrationDoctorPassed bool
}

// Record upserts the ledger entry for a completed task. Recording the same
// task with unchanged content rewrites the same logical entry. A skipped task
// whose content still matches keeps the entry of the merge that landed it.
func (l *Ledger) Record(c Completion) (domain.LedgerEntry, error) {
	fp, err := l.Fingerprint(c.Spec)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if c.Status == domain.StatusSkipped {
		existing, err := l.store.GetLedgerEntry(c.Project, c.Spec.ID())
		switch {
		case err == nil && existing.Fingerprint == fp:
			return *existing, nil
		case err != nil && !errors.Is(err, taskstore.ErrLedgerEntryNotFound):
			return domain.LedgerEntry{}, fmt.Errorf("reading ledger entry %s: %w", c.Spec.ID(), err)
		}
	}
	entry := domain.LedgerEntry{
		Project:                 c.Project,
		TaskID:                  c.Spec.ID(),
		Status:                  c.Status,
		Fingerprint:             fp,
		MergeCommit:             c.MergeCommit,
		IntegrationDoctorPassed: c.IntegrationDoctorPassed,
		CompletedAt:             time.Now().UTC(),
		RunID:                   c.RunID,
		Source:                  SourceBatch,
	}
	if err := l.store.UpsertLedgerEntry(entry); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("upserting ledger entry %s: %w", entry.TaskID, err)
	}
	return entry, nil
}

// Lookup returns the ledger entry of a task and whether it still matches the
// task's current content. A missing entry returns (nil, false, nil).
func (l *Ledger) Lookup(project string, spec *domain.TaskSpec) (*domain.LedgerEntry, bool, error) {
	entry, err := l.store.GetLedgerEntry(project, spec.ID())
	if errors.Is(err, taskstore.ErrLedgerEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	fp, err := l.Fingerprint(spec)
	if err != nil {
		return entry, false, err
	}
	return entry, entry.Fingerprint == fp, nil
}

// List returns all entries of a project
func (l *Ledger) List(project string) ([]domain.LedgerEntry, error) {
	return l.store.ListLedger(project)
}
