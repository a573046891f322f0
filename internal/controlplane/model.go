// Package controlplane maps repository paths to components and enforces
// declared task scopes against them
package controlplane

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Component is a named slice of the repository
type Component struct {
	Name      string   `yaml:"name"`
	Paths     []string `yaml:"paths"`
	DependsOn []string `yaml:"depends_on"`
}

// Model is the component dependency model of a repository
type Model struct {
	Components []Component         `yaml:"components"`
	Surfaces   map[string][]string `yaml:"surfaces"`

	byName     map[string]*Component
	dependents map[string][]string // component -> components that depend on it
}

// LoadModel reads and validates a YAML model file
func LoadModel(fs afero.Fs, path string) (*Model, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading control-plane model: %w", err)
	}
	return ParseModel(data)
}

// ParseModel decodes and validates a YAML model
func ParseModel(data []byte) (*Model, error) {
	var m Model
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("parsing control-plane model: %w", err)
	}
	if err := m.index(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Model) index() error {
	m.byName = make(map[string]*Component, len(m.Components))
	m.dependents = make(map[string][]string)

	for i := range m.Components {
		c := &m.Components[i]
		if c.Name == "" {
			return fmt.Errorf("component %d has no name", i)
		}
		if _, dup := m.byName[c.Name]; dup {
			return fmt.Errorf("duplicate component %q", c.Name)
		}
		if len(c.Paths) == 0 {
			return fmt.Errorf("component %q has no paths", c.Name)
		}
		m.byName[c.Name] = c
	}
	for _, c := range m.Components {
		for _, dep := range c.DependsOn {
			if _, ok := m.byName[dep]; !ok {
				return fmt.Errorf("component %q depends on unknown component %q", c.Name, dep)
			}
			m.dependents[dep] = append(m.dependents[dep], c.Name)
		}
	}
	return nil
}

// Component returns the named component
func (m *Model) Component(name string) (*Component, bool) {
	c, ok := m.byName[name]
	return c, ok
}

// ComponentFor maps a repository-relative path to the component owning it.
// When several patterns match, the most specific (longest) pattern wins.
func (m *Model) ComponentFor(path string) (string, bool) {
	best, bestLen := "", -1
	for _, c := range m.Components {
		for _, pattern := range c.Paths {
			if MatchGlob(pattern, path) && len(pattern) > bestLen {
				best, bestLen = c.Name, len(pattern)
			}
		}
	}
	return best, bestLen >= 0
}

// Mapping is the component view of a set of changed files
type Mapping struct {
	Touched  []string            // components owning at least one file
	Files    map[string][]string // component -> files
	Unmapped []string            // files no component owns
}

// Map assigns each file to its component
func (m *Model) Map(files []string) Mapping {
	mp := Mapping{Files: make(map[string][]string)}
	for _, f := range files {
		name, ok := m.ComponentFor(f)
		if !ok {
			mp.Unmapped = append(mp.Unmapped, f)
			continue
		}
		mp.Files[name] = append(mp.Files[name], f)
	}
	for name := range mp.Files {
		mp.Touched = append(mp.Touched, name)
	}
	sort.Strings(mp.Touched)
	return mp
}

// Impacted returns the touched components plus every component that
// transitively depends on one of them, sorted
func (m *Model) Impacted(touched []string) []string {
	visited := make(map[string]bool)
	for _, name := range touched {
		m.collectDependents(name, visited)
	}
	out := make([]string, 0, len(visited))
	for name := range visited {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *Model) collectDependents(name string, visited map[string]bool) {
	if visited[name] {
		return
	}
	visited[name] = true
	for _, dep := range m.dependents[name] {
		m.collectDependents(dep, visited)
	}
}

// SurfaceChanges reports which surface categories the files touch, sorted
func (m *Model) SurfaceChanges(files []string) []string {
	var hit []string
	for surface, patterns := range m.Surfaces {
		if anyFileMatches(patterns, files) {
			hit = append(hit, surface)
		}
	}
	sort.Strings(hit)
	return hit
}

func anyFileMatches(patterns, files []string) bool {
	for _, f := range files {
		for _, p := range patterns {
			if MatchGlob(p, f) {
				return true
			}
		}
	}
	return false
}
