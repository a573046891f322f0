// Package manifest builds and stores per-task change manifests and
// blast-radius reports
package manifest

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/controlplane"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/spf13/afero"
)

const (
	changeManifestFile = "change-manifest.json"
	blastRadiusFile    = "blast-radius.json"
)

// ChangeManifest summarises what a task changed relative to the run base
type ChangeManifest struct {
	RunID              string        `json:"run_id"`
	TaskID             domain.TaskID `json:"task_id"`
	BaseSHA            string        `json:"base_sha"`
	Branch             string        `json:"branch,omitempty"`
	ChangedFiles       []string      `json:"changed_files"`
	TouchedComponents  []string      `json:"touched_components,omitempty"`
	ImpactedComponents []string      `json:"impacted_components,omitempty"`
	UnmappedFiles      []string      `json:"unmapped_files,omitempty"`
	SurfaceChanges     []string      `json:"surface_changes,omitempty"`
	GeneratedAt        time.Time     `json:"generated_at"`
}

// ImpactedComponent is one entry of a blast-radius report
type ImpactedComponent struct {
	Name   string `json:"name"`
	Direct bool   `json:"direct"` // touched by the task itself
}

// BlastRadius lists every component affected by a task's changes
type BlastRadius struct {
	RunID       string              `json:"run_id"`
	TaskID      domain.TaskID       `json:"task_id"`
	Components  []ImpactedComponent `json:"components"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// BuildChangeManifest derives a manifest from changed files. A nil model
// records the files only.
func BuildChangeManifest(runID string, taskID domain.TaskID, baseSHA, branch string, changed []string, model *controlplane.Model) ChangeManifest {
	cm := ChangeManifest{
		RunID:        runID,
		TaskID:       taskID,
		BaseSHA:      baseSHA,
		Branch:       branch,
		ChangedFiles: append([]string{}, changed...),
		GeneratedAt:  time.Now().UTC(),
	}
	if model == nil {
		return cm
	}
	mp := model.Map(changed)
	cm.TouchedComponents = mp.Touched
	cm.UnmappedFiles = mp.Unmapped
	cm.ImpactedComponents = model.Impacted(mp.Touched)
	cm.SurfaceChanges = model.SurfaceChanges(changed)
	return cm
}

// BuildBlastRadius computes the impacted components of changed files
func BuildBlastRadius(runID string, taskID domain.TaskID, changed []string, model *controlplane.Model) BlastRadius {
	br := BlastRadius{RunID: runID, TaskID: taskID, GeneratedAt: time.Now().UTC(), Components: []ImpactedComponent{}}
	touched := model.Map(changed).Touched
	direct := make(map[string]bool, len(touched))
	for _, name := range touched {
		direct[name] = true
	}
	for _, name := range model.Impacted(touched) {
		br.Components = append(br.Components, ImpactedComponent{Name: name, Direct: direct[name]})
	}
	return br
}

// Writer stores artifacts under <root>/<repo-slug>/runs/<run>/tasks/<task>/
type Writer struct {
	fs   afero.Fs
	root string
}

// NewWriter creates a Writer rooted at the state directory
func NewWriter(fs afero.Fs, root string) *Writer {
	return &Writer{fs: fs, root: root}
}

// TaskDir returns the artifact directory of a task
func (w *Writer) TaskDir(repoPath, runID string, taskID domain.TaskID) string {
	return filepath.Join(w.root, RepoSlug(repoPath), "runs", runID, "tasks", taskID.String())
}

// WriteChangeManifest stores cm and returns its path
func (w *Writer) WriteChangeManifest(repoPath string, cm ChangeManifest) (string, error) {
	path := filepath.Join(w.TaskDir(repoPath, cm.RunID, cm.TaskID), changeManifestFile)
	return path, w.writeJSON(path, cm)
}

// WriteBlastRadius stores br and returns its path
func (w *Writer) WriteBlastRadius(repoPath string, br BlastRadius) (string, error) {
	path := filepath.Join(w.TaskDir(repoPath, br.RunID, br.TaskID), blastRadiusFile)
	return path, w.writeJSON(path, br)
}

// ReadChangeManifest loads a stored change manifest
func (w *Writer) ReadChangeManifest(repoPath, runID string, taskID domain.TaskID) (*ChangeManifest, error) {
	path := filepath.Join(w.TaskDir(repoPath, runID, taskID), changeManifestFile)
	data, err := afero.ReadFile(w.fs, path)
	if err != nil {
		return nil, err
	}
	var cm ChangeManifest
	if err := json.Unmarshal(data, &cm); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &cm, nil
}

// writeJSON writes atomically through a temp file and rename
func (w *Writer) writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := w.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(w.fs, tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return w.fs.Rename(tmp, path)
}

// RepoSlug is a stable directory name for a repository path
func RepoSlug(repoPath string) string {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		abs = repoPath
	}
	sum := sha256.Sum256([]byte(abs))
	name := strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, filepath.Base(abs))
	return fmt.Sprintf("%s-%x", name, sum[:6])
}
