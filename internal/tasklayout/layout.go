// Package tasklayout reads and maintains the on-disk task tree:
// <root>/{active,archive,legacy}/<dir>/{manifest.json,spec.md}
package tasklayout

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/spf13/afero"
)

const (
	ManifestFile = "manifest.json"
	SpecFile     = "spec.md"
)

// ErrTaskNotFound is returned when no stage directory holds the task
var ErrTaskNotFound = errors.New("task spec not found")

// Stages are searched in this order
var Stages = []domain.TaskStage{domain.StageActive, domain.StageArchive, domain.StageLegacy}

// Layout is a task tree rooted at a directory
type Layout struct {
	fs   afero.Fs
	root string
}

// New creates a Layout for root on fs
func New(fs afero.Fs, root string) *Layout {
	return &Layout{fs: fs, root: root}
}

// Root returns the tree root
func (l *Layout) Root() string {
	return l.root
}

// Fs returns the filesystem the layout reads from
func (l *Layout) Fs() afero.Fs {
	return l.fs
}

// StageDir returns the directory of a stage
func (l *Layout) StageDir(stage domain.TaskStage) string {
	return filepath.Join(l.root, string(stage))
}

// List returns every task of the given stages (all stages when none given)
func (l *Layout) List(stages ...domain.TaskStage) ([]*domain.TaskSpec, error) {
	if len(stages) == 0 {
		stages = Stages
	}
	var specs []*domain.TaskSpec
	for _, stage := range stages {
		entries, err := afero.ReadDir(l.fs, l.StageDir(stage))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			spec, err := l.read(stage, e.Name())
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

// Load finds a task by id in any stage
func (l *Layout) Load(id domain.TaskID) (*domain.TaskSpec, error) {
	specs, err := l.List()
	if err != nil {
		return nil, err
	}
	for _, s := range specs {
		if s.ID() == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

func (l *Layout) read(stage domain.TaskStage, dirName string) (*domain.TaskSpec, error) {
	dir := filepath.Join(l.StageDir(stage), dirName)

	data, err := afero.ReadFile(l.fs, filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading manifest of %s: %w", dir, err)
	}
	var m domain.TaskManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest of %s: %w", dir, err)
	}
	if _, err := domain.ParseTaskID(m.ID.String()); err != nil {
		return nil, fmt.Errorf("manifest of %s: %w", dir, err)
	}

	spec := &domain.TaskSpec{Manifest: m, Stage: stage, DirName: dirName, Dir: dir, Title: m.Name}

	content, err := afero.ReadFile(l.fs, filepath.Join(dir, SpecFile))
	if err != nil {
		if os.IsNotExist(err) {
			return spec, nil
		}
		return nil, err
	}
	fm, body, err := ParseFrontmatter(content)
	if err != nil {
		return nil, fmt.Errorf("parsing frontmatter of %s: %w", dir, err)
	}
	switch {
	case fm.Title != "":
		spec.Title = fm.Title
	case spec.Title == "":
		spec.Title = firstHeading(body)
	}
	if len(spec.Manifest.DependsOn) == 0 {
		for _, d := range fm.DependsOn {
			id, err := domain.ParseTaskID(d)
			if err != nil {
				return nil, fmt.Errorf("depends_on of %s: %w", dir, err)
			}
			spec.Manifest.DependsOn = append(spec.Manifest.DependsOn, id)
		}
	}
	return spec, nil
}

// WriteManifest replaces the manifest.json of spec and updates spec in place
func (l *Layout) WriteManifest(spec *domain.TaskSpec, m domain.TaskManifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(spec.Dir, ManifestFile)
	tmp := path + ".tmp"
	if err := afero.WriteFile(l.fs, tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing manifest of %s: %w", spec.ID(), err)
	}
	if err := l.fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing manifest of %s: %w", spec.ID(), err)
	}
	spec.Manifest = m
	return nil
}

// Archive moves an active task to the archive stage. Archived tasks are left
// alone; legacy tasks are refused.
func (l *Layout) Archive(spec *domain.TaskSpec) error {
	switch spec.Stage {
	case domain.StageArchive:
		return nil
	case domain.StageLegacy:
		return fmt.Errorf("task %s is legacy and cannot be archived", spec.ID())
	}

	dst := filepath.Join(l.StageDir(domain.StageArchive), spec.DirName)
	if exists, _ := afero.DirExists(l.fs, dst); exists {
		return fmt.Errorf("archive destination %s already exists", dst)
	}
	if err := l.fs.MkdirAll(l.StageDir(domain.StageArchive), 0755); err != nil {
		return err
	}
	if err := l.fs.Rename(spec.Dir, dst); err != nil {
		return fmt.Errorf("archiving %s: %w", spec.ID(), err)
	}
	spec.Stage = domain.StageArchive
	spec.Dir = dst
	return nil
}

// Files returns the regular files of a task directory as sorted paths
// relative to it
func (l *Layout) Files(spec *domain.TaskSpec) ([]string, error) {
	var files []string
	err := afero.Walk(l.fs, spec.Dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(spec.Dir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
