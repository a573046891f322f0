// Package batch drives batch finalization for a run: batch files dropped in an
// inbox directory are finalized one at a time by a single worker goroutine.
package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
)

// Outcome subdirectories of the inbox
const (
	OutcomeDone   = "done"
	OutcomeFailed = "failed"
)

var batchFileRegex = regexp.MustCompile(`^batch-(\d+)\.json$`)

// File is one batch handed over by the dispatcher: the tasks of the batch and
// the worker results that arrived for them
type File struct {
	RunID   string              `json:"run_id"`
	BatchID int                 `json:"batch_id"`
	Tasks   []domain.TaskID     `json:"tasks"`
	Results []domain.TaskResult `json:"results"`
}

// Validate checks the fields the engine relies on
func (f *File) Validate() error {
	if f.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if f.BatchID <= 0 {
		return fmt.Errorf("batch_id must be positive")
	}
	tasks := make(map[domain.TaskID]bool, len(f.Tasks))
	for _, id := range f.Tasks {
		if _, err := domain.ParseTaskID(id.String()); err != nil {
			return err
		}
		tasks[id] = true
	}
	for _, r := range f.Results {
		if !tasks[r.TaskID] {
			return fmt.Errorf("result for %s which is not part of the batch", r.TaskID)
		}
	}
	return nil
}

// FileName returns the inbox file name of a batch
func FileName(batchID int) string {
	return fmt.Sprintf("batch-%d.json", batchID)
}

// IsBatchFile reports whether name looks like an inbox batch file
func IsBatchFile(name string) bool {
	return batchFileRegex.MatchString(filepath.Base(name))
}

// Inbox is a directory of pending batch files
type Inbox struct {
	dir string
}

// NewInbox creates an Inbox rooted at dir
func NewInbox(dir string) *Inbox {
	return &Inbox{dir: dir}
}

// Dir returns the inbox directory
func (i *Inbox) Dir() string {
	return i.dir
}

// Pending returns the batch files waiting in the inbox, lowest batch id first
func (i *Inbox) Pending() ([]string, error) {
	entries, err := os.ReadDir(i.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	type pending struct {
		id   int
		path string
	}
	var files []pending
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := batchFileRegex.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, _ := strconv.Atoi(m[1])
		files = append(files, pending{id: id, path: filepath.Join(i.dir, e.Name())})
	}
	sort.Slice(files, func(a, b int) bool { return files[a].id < files[b].id })

	paths := make([]string, len(files))
	for n, f := range files {
		paths[n] = f.path
	}
	return paths, nil
}

// Read decodes and validates a batch file
func (i *Inbox) Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filepath.Base(path), err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return &f, nil
}

// Write stores f in the inbox. The file appears atomically so a watcher never
// sees a partial batch.
func (i *Inbox) Write(f *File) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(i.dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(i.dir, FileName(f.BatchID))
	tmp := filepath.Join(i.dir, "."+FileName(f.BatchID)+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// Settle moves a processed batch file into the outcome subdirectory. The run
// id prefixes the name so batches of different runs do not collide.
func (i *Inbox) Settle(path, runID, outcome string) (string, error) {
	dir := filepath.Join(i.dir, outcome)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := filepath.Base(path)
	if runID != "" {
		name = runID + "-" + name
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}
