// Package worker tears down what task workers leave behind: containers and
// workspaces
package worker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Worktrees removes git worktrees
type Worktrees interface {
	IsWorktree(ctx context.Context, repoPath, path string) bool
	RemoveWorktree(ctx context.Context, repoPath, wtPath string) error
}

// ErrNotUnderPrefix is returned when a workspace lies outside the workspaces directory
type ErrNotUnderPrefix struct {
	Target string
	Prefix string
}

func (e *ErrNotUnderPrefix) Error() string {
	return fmt.Sprintf("target %q is not under allowed prefix %q", e.Target, e.Prefix)
}

// Cleaner removes task containers and workspaces
type Cleaner struct {
	repoPath      string
	workspacesDir string
	worktrees     Worktrees
	docker        string
}

// NewCleaner creates a Cleaner. Plain-directory workspaces are only removed
// when they live under workspacesDir.
func NewCleaner(repoPath, workspacesDir string, worktrees Worktrees) *Cleaner {
	return &Cleaner{repoPath: repoPath, workspacesDir: workspacesDir, worktrees: worktrees, docker: "docker"}
}

// RemoveContainer force-removes a container. An already missing container is not an error.
func (c *Cleaner) RemoveContainer(ctx context.Context, containerID string) error {
	if containerID == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, c.docker, "rm", "-f", containerID)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if strings.Contains(strings.ToLower(string(out)), "no such container") {
			return nil
		}
		return fmt.Errorf("%s rm -f %s: %s: %w", c.docker, containerID, strings.TrimSpace(string(out)), err)
	}
	return nil
}

// RemoveWorkspace removes a task workspace: through git when it is a linked
// worktree, otherwise as a directory under the workspaces dir
func (c *Cleaner) RemoveWorkspace(ctx context.Context, workspace string) error {
	if workspace == "" {
		return nil
	}
	if c.worktrees != nil && c.worktrees.IsWorktree(ctx, c.repoPath, workspace) {
		return c.worktrees.RemoveWorktree(ctx, c.repoPath, workspace)
	}
	return SafeRemoveAll(workspace, c.workspacesDir)
}

// SafeRemoveAll removes target only if it resolves to a path strictly below
// allowedPrefix. A missing target is not an error.
func SafeRemoveAll(target, allowedPrefix string) error {
	if allowedPrefix == "" {
		return &ErrNotUnderPrefix{Target: target, Prefix: allowedPrefix}
	}
	cleanTarget := filepath.Clean(target)

	resolvedTarget, err := filepath.EvalSymlinks(cleanTarget)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ErrNotUnderPrefix{Target: target, Prefix: allowedPrefix}
	}
	resolvedPrefix, err := filepath.EvalSymlinks(filepath.Clean(allowedPrefix))
	if err != nil {
		return &ErrNotUnderPrefix{Target: target, Prefix: allowedPrefix}
	}

	if !IsSubpath(resolvedTarget, resolvedPrefix) {
		return &ErrNotUnderPrefix{Target: target, Prefix: allowedPrefix}
	}
	return os.RemoveAll(cleanTarget)
}

// IsSubpath reports whether target is strictly below prefix
func IsSubpath(target, prefix string) bool {
	rel, err := filepath.Rel(prefix, target)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
