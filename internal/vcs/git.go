// Package vcs drives the git CLI for batch integration: temporary integration
// branches, guarded fast-forwards and changed-file listings.
package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
)

// Git runs git commands through the git binary on PATH
type Git struct{}

// New creates a Git
func New() *Git {
	return &Git{}
}

// run executes git in dir and returns trimmed combined output
func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, output)
	}
	return output, nil
}

// HeadSHA resolves ref (HEAD when empty) in dir
func (g *Git) HeadSHA(ctx context.Context, dir, ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	return g.run(ctx, dir, "rev-parse", "--verify", ref+"^{commit}")
}

// Checkout switches the working tree of repoPath to ref
func (g *Git) Checkout(ctx context.Context, repoPath, ref string) error {
	_, err := g.run(ctx, repoPath, "checkout", "--quiet", ref)
	return err
}

// MergeTaskBranchesToTemp creates (or resets) tempBranch at the head of
// mainBranch and merges each branch into it with --no-ff. A branch that
// fails to merge is aborted and reported in Conflicts; the remaining
// branches are still attempted. The working tree is left on tempBranch.
func (g *Git) MergeTaskBranchesToTemp(ctx context.Context, repoPath, mainBranch, tempBranch string, branches []string) (domain.MergeResult, error) {
	result := domain.MergeResult{TempBranch: tempBranch}

	base, err := g.HeadSHA(ctx, repoPath, mainBranch)
	if err != nil {
		return result, fmt.Errorf("resolving %s: %w", mainBranch, err)
	}
	result.BaseSHA = base

	if _, err := g.run(ctx, repoPath, "checkout", "--quiet", "-B", tempBranch, base); err != nil {
		return result, fmt.Errorf("creating integration branch: %w", err)
	}

	for _, branch := range branches {
		msg := fmt.Sprintf("Merge %s into %s", branch, tempBranch)
		if _, err := g.run(ctx, repoPath, "merge", "--no-ff", "--no-edit", "-m", msg, branch); err != nil {
			// Ignore abort errors: nothing to abort when the ref did not resolve
			g.run(ctx, repoPath, "merge", "--abort")
			result.Conflicts = append(result.Conflicts, branch)
			continue
		}
		result.Merged = append(result.Merged, branch)
	}

	return result, nil
}

// FastForward advances mainBranch to targetRef if mainBranch still points at
// expectedBaseSHA and targetRef descends from it. An empty expectedBaseSHA
// skips the advance check. When cleanupBranch is set the target branch is
// deleted after a successful fast-forward.
func (g *Git) FastForward(ctx context.Context, repoPath, mainBranch, targetRef, expectedBaseSHA string, cleanupBranch bool) (domain.FastForwardResult, error) {
	result := domain.FastForwardResult{TargetRef: targetRef}

	current, err := g.HeadSHA(ctx, repoPath, mainBranch)
	if err != nil {
		return result, fmt.Errorf("resolving %s: %w", mainBranch, err)
	}
	result.CurrentHead = current

	if expectedBaseSHA != "" && current != expectedBaseSHA {
		result.Status = domain.MainAdvanced
		result.Reason = "main_advanced"
		result.Message = fmt.Sprintf("%s advanced from %s to %s", mainBranch, short(expectedBaseSHA), short(current))
		return result, nil
	}

	if _, err := g.run(ctx, repoPath, "merge-base", "--is-ancestor", mainBranch, targetRef); err != nil {
		result.Status = domain.FFBlocked
		result.Reason = "not_fast_forward"
		result.Message = fmt.Sprintf("%s is not an ancestor of %s", mainBranch, targetRef)
		return result, nil
	}

	if err := g.Checkout(ctx, repoPath, mainBranch); err != nil {
		result.Status = domain.FFBlocked
		result.Reason = "checkout_failed"
		result.Message = err.Error()
		return result, nil
	}
	if _, err := g.run(ctx, repoPath, "merge", "--ff-only", "--quiet", targetRef); err != nil {
		result.Status = domain.FFBlocked
		result.Reason = "ff_only_failed"
		result.Message = err.Error()
		return result, nil
	}

	head, err := g.HeadSHA(ctx, repoPath, "HEAD")
	if err != nil {
		return result, err
	}
	result.Status = domain.FastForwarded
	result.Head = head

	if cleanupBranch {
		g.run(ctx, repoPath, "branch", "-D", targetRef) // best effort
	}
	return result, nil
}

// ListChangedFiles returns the sorted paths changed in workspace between
// baseSHA and HEAD
func (g *Git) ListChangedFiles(ctx context.Context, workspace, baseSHA string) ([]string, error) {
	if baseSHA == "" {
		return nil, fmt.Errorf("base sha is required")
	}
	out, err := g.run(ctx, workspace, "diff", "--name-only", baseSHA, "HEAD")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	sort.Strings(files)
	return files, nil
}

// RemoveWorktree removes the git worktree at wtPath and deletes its branch
func (g *Git) RemoveWorktree(ctx context.Context, repoPath, wtPath string) error {
	// Get branch name before removing
	branch, _ := g.run(ctx, wtPath, "rev-parse", "--abbrev-ref", "HEAD")

	if _, err := g.run(ctx, repoPath, "worktree", "remove", "--force", wtPath); err != nil {
		return err
	}

	if branch != "" && branch != "HEAD" {
		g.run(ctx, repoPath, "branch", "-D", branch) // Ignore error if branch doesn't exist
	}
	return nil
}

// IsWorktree reports whether path is a linked worktree of repoPath
func (g *Git) IsWorktree(ctx context.Context, repoPath, path string) bool {
	out, err := g.run(ctx, repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimPrefix(line, "worktree ") == path && strings.HasPrefix(line, "worktree ") {
			return true
		}
	}
	return false
}

func short(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
