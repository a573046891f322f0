package controlplane

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
)

// MaxRescopes bounds how often a task's scope is widened automatically
const MaxRescopes = 3

// ScopeStatus discriminates ScopeResult
type ScopeStatus string

const (
	ScopePass      ScopeStatus = "pass"
	ScopeUnmapped  ScopeStatus = "unmapped"
	ScopeViolation ScopeStatus = "violation"
)

// ScopeResult is the verdict of checking changed files against a manifest
type ScopeResult struct {
	Status            ScopeStatus
	UnmappedFiles     []string // undeclared files no component owns
	MissingComponents []string // components written without a lock
	ViolatingFiles    []string // undeclared files in missing components
}

// EvaluateScope checks every changed file against the manifest. A file is in
// scope when it matches files.writes or its component is in locks.writes.
func (m *Model) EvaluateScope(manifest domain.TaskManifest, changed []string) ScopeResult {
	locked := make(map[string]bool, len(manifest.Locks.Writes))
	for _, l := range manifest.Locks.Writes {
		locked[l] = true
	}

	missing := make(map[string]bool)
	var res ScopeResult
	for _, f := range changed {
		if declared(manifest.Files.Writes, f) {
			continue
		}
		name, ok := m.ComponentFor(f)
		if !ok {
			res.UnmappedFiles = append(res.UnmappedFiles, f)
			continue
		}
		if !locked[name] {
			missing[name] = true
			res.ViolatingFiles = append(res.ViolatingFiles, f)
		}
	}
	for name := range missing {
		res.MissingComponents = append(res.MissingComponents, name)
	}
	sort.Strings(res.MissingComponents)

	switch {
	case len(res.UnmappedFiles) > 0:
		res.Status = ScopeUnmapped
	case len(res.MissingComponents) > 0:
		res.Status = ScopeViolation
	default:
		res.Status = ScopePass
	}
	return res
}

func declared(patterns []string, file string) bool {
	for _, p := range patterns {
		if MatchGlob(p, file) {
			return true
		}
	}
	return false
}

// Rescope is a widened manifest and what was added to it
type Rescope struct {
	Manifest   domain.TaskManifest
	AddedLocks []string
	AddedFiles []string
}

// Summary describes the additions for a pending-reset reason
func (r Rescope) Summary() string {
	return fmt.Sprintf("rescoped: +locks %v +files %v", r.AddedLocks, r.AddedFiles)
}

var (
	ErrNotRescopable   = errors.New("scope result is not a rescopable violation")
	ErrNothingToAdd    = errors.New("rescope adds nothing to the manifest")
	ErrRescopeExceeded = errors.New("rescope limit reached")
)

// ComputeRescope widens the manifest to cover a violation: missing components
// join locks.writes and violating files join files.writes. The input manifest
// is not modified.
func ComputeRescope(manifest domain.TaskManifest, res ScopeResult) (Rescope, error) {
	if res.Status != ScopeViolation || len(res.UnmappedFiles) > 0 {
		return Rescope{}, ErrNotRescopable
	}
	if manifest.Rescopes >= MaxRescopes {
		return Rescope{}, fmt.Errorf("%w (%d)", ErrRescopeExceeded, MaxRescopes)
	}

	out := manifest
	out.Locks.Writes = append([]string(nil), manifest.Locks.Writes...)
	out.Files.Writes = append([]string(nil), manifest.Files.Writes...)

	var r Rescope
	r.AddedLocks, out.Locks.Writes = addMissing(out.Locks.Writes, res.MissingComponents)
	r.AddedFiles, out.Files.Writes = addMissing(out.Files.Writes, res.ViolatingFiles)
	if len(r.AddedLocks) == 0 && len(r.AddedFiles) == 0 {
		return Rescope{}, ErrNothingToAdd
	}
	out.Rescopes++
	r.Manifest = out
	return r, nil
}

func addMissing(list, add []string) (added, out []string) {
	seen := make(map[string]bool, len(list))
	for _, v := range list {
		seen[v] = true
	}
	out = list
	for _, v := range add {
		if !seen[v] {
			seen[v] = true
			added = append(added, v)
			out = append(out, v)
		}
	}
	return added, out
}
