// Package compliance counts task changes that fall outside the files a task
// declared
package compliance

import (
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/controlplane"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
)

// Result of checking one task
type Result struct {
	ScopeViolations domain.ScopeViolations
	OutOfScope      []string
}

// Checker grades undeclared file changes as warnings or blocks
type Checker struct {
	mode string // "off", "warn" or "block"
}

// NewChecker creates a Checker for the configured compliance mode
func NewChecker(mode string) *Checker {
	return &Checker{mode: mode}
}

// RunForTask checks changed files against the manifest's files.writes.
// Counters only; no task status is changed here.
func (c *Checker) RunForTask(manifest domain.TaskManifest, changed []string) Result {
	var res Result
	if c.mode == "" || c.mode == "off" {
		return res
	}
	for _, f := range changed {
		if !matchesAny(manifest.Files.Writes, f) {
			res.OutOfScope = append(res.OutOfScope, f)
		}
	}
	n := len(res.OutOfScope)
	if c.mode == "block" {
		res.ScopeViolations.BlockCount = n
	} else {
		res.ScopeViolations.WarnCount = n
	}
	return res
}

func matchesAny(patterns []string, file string) bool {
	for _, p := range patterns {
		if controlplane.MatchGlob(p, file) {
			return true
		}
	}
	return false
}
