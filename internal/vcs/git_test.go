package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
)

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %s", args, out)
	}
	return strings.TrimSpace(string(out))
}

func setupGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	git(t, dir, "init", "--quiet")
	git(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	git(t, dir, "config", "user.email", "test@test.com")
	git(t, dir, "config", "user.name", "Test")

	writeFile(t, dir, "README.md", "# Test\n")
	git(t, dir, "add", ".")
	git(t, dir, "commit", "--quiet", "-m", "Initial commit")

	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// commitOnBranch creates branch from main with one commit writing name
func commitOnBranch(t *testing.T, repo, branch, name, content string) {
	t.Helper()
	git(t, repo, "checkout", "--quiet", "-b", branch, "main")
	writeFile(t, repo, name, content)
	git(t, repo, "add", ".")
	git(t, repo, "commit", "--quiet", "-m", "change "+name)
	git(t, repo, "checkout", "--quiet", "main")
}

func TestGit_MergeTaskBranchesToTemp(t *testing.T) {
	repo := setupGitRepo(t)
	commitOnBranch(t, repo, "task/T1", "a.txt", "a\n")
	commitOnBranch(t, repo, "task/T2", "b.txt", "b\n")

	g := New()
	ctx := context.Background()
	mainSHA := git(t, repo, "rev-parse", "main")

	res, err := g.MergeTaskBranchesToTemp(ctx, repo, "main", "orch/integration/r-b1", []string{"task/T1", "task/T2"})
	if err != nil {
		t.Fatal(err)
	}
	if res.BaseSHA != mainSHA {
		t.Errorf("BaseSHA = %s, want %s", res.BaseSHA, mainSHA)
	}
	if len(res.Merged) != 2 || len(res.Conflicts) != 0 {
		t.Errorf("Merged = %v, Conflicts = %v", res.Merged, res.Conflicts)
	}

	// main must be untouched
	if got := git(t, repo, "rev-parse", "main"); got != mainSHA {
		t.Error("main moved during temp merge")
	}
	for _, f := range []string{"a.txt", "b.txt"} {
		if _, err := os.Stat(filepath.Join(repo, f)); err != nil {
			t.Errorf("%s missing on integration branch", f)
		}
	}
}

func TestGit_MergeConflictIsExcluded(t *testing.T) {
	repo := setupGitRepo(t)
	commitOnBranch(t, repo, "task/T1", "README.md", "# One\n")
	commitOnBranch(t, repo, "task/T2", "README.md", "# Two\n")
	commitOnBranch(t, repo, "task/T3", "c.txt", "c\n")

	g := New()
	res, err := g.MergeTaskBranchesToTemp(context.Background(), repo, "main", "orch/integration/r-b1",
		[]string{"task/T1", "task/T2", "task/T3"})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Conflicts) != 1 || res.Conflicts[0] != "task/T2" {
		t.Errorf("Conflicts = %v, want [task/T2]", res.Conflicts)
	}
	if len(res.Merged) != 2 {
		t.Errorf("Merged = %v, want T1 and T3", res.Merged)
	}

	// aborted merge leaves a clean tree
	if status := git(t, repo, "status", "--porcelain"); status != "" {
		t.Errorf("working tree dirty after conflict: %q", status)
	}
}

func TestGit_MissingBranchIsExcluded(t *testing.T) {
	repo := setupGitRepo(t)

	res, err := New().MergeTaskBranchesToTemp(context.Background(), repo, "main", "orch/integration/r-b1",
		[]string{"task/does-not-exist"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Merged) != 0 || len(res.Conflicts) != 1 {
		t.Errorf("Merged = %v, Conflicts = %v", res.Merged, res.Conflicts)
	}
}

func TestGit_FastForward(t *testing.T) {
	repo := setupGitRepo(t)
	commitOnBranch(t, repo, "task/T1", "a.txt", "a\n")

	g := New()
	ctx := context.Background()
	temp := "orch/integration/r-b1"

	merge, err := g.MergeTaskBranchesToTemp(ctx, repo, "main", temp, []string{"task/T1"})
	if err != nil {
		t.Fatal(err)
	}
	tempHead := git(t, repo, "rev-parse", temp)

	ff, err := g.FastForward(ctx, repo, "main", temp, merge.BaseSHA, true)
	if err != nil {
		t.Fatal(err)
	}
	if ff.Status != domain.FastForwarded {
		t.Fatalf("Status = %s (%s)", ff.Status, ff.Message)
	}
	if ff.Head != tempHead {
		t.Errorf("Head = %s, want %s", ff.Head, tempHead)
	}
	if got := git(t, repo, "rev-parse", "main"); got != tempHead {
		t.Errorf("main = %s, want %s", got, tempHead)
	}
	if out := git(t, repo, "branch", "--list", temp); out != "" {
		t.Errorf("temp branch not cleaned up: %q", out)
	}
}

func TestGit_FastForwardMainAdvanced(t *testing.T) {
	repo := setupGitRepo(t)
	commitOnBranch(t, repo, "task/T1", "a.txt", "a\n")

	g := New()
	ctx := context.Background()
	temp := "orch/integration/r-b1"

	merge, err := g.MergeTaskBranchesToTemp(ctx, repo, "main", temp, []string{"task/T1"})
	if err != nil {
		t.Fatal(err)
	}

	// someone else lands on main meanwhile
	git(t, repo, "checkout", "--quiet", "main")
	writeFile(t, repo, "other.txt", "x\n")
	git(t, repo, "add", ".")
	git(t, repo, "commit", "--quiet", "-m", "concurrent")
	advanced := git(t, repo, "rev-parse", "main")

	ff, err := g.FastForward(ctx, repo, "main", temp, merge.BaseSHA, true)
	if err != nil {
		t.Fatal(err)
	}
	if ff.Status != domain.MainAdvanced {
		t.Errorf("Status = %s, want main_advanced", ff.Status)
	}
	if ff.CurrentHead != advanced {
		t.Errorf("CurrentHead = %s, want %s", ff.CurrentHead, advanced)
	}
	if got := git(t, repo, "rev-parse", "main"); got != advanced {
		t.Error("main must not move when it advanced")
	}

	// without the guard the diverged history cannot be fast-forwarded
	ff, err = g.FastForward(ctx, repo, "main", temp, "", true)
	if err != nil {
		t.Fatal(err)
	}
	if ff.Status != domain.FFBlocked {
		t.Errorf("Status = %s, want blocked", ff.Status)
	}
}

func TestGit_ListChangedFiles(t *testing.T) {
	repo := setupGitRepo(t)
	base := git(t, repo, "rev-parse", "HEAD")

	writeFile(t, repo, "src/b.go", "package b\n")
	writeFile(t, repo, "a.txt", "a\n")
	git(t, repo, "add", ".")
	git(t, repo, "commit", "--quiet", "-m", "work")

	g := New()
	files, err := g.ListChangedFiles(context.Background(), repo, base)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0] != "a.txt" || files[1] != "src/b.go" {
		t.Errorf("files = %v", files)
	}

	if _, err := g.ListChangedFiles(context.Background(), repo, ""); err == nil {
		t.Error("expected error without base sha")
	}
}

func TestGit_RemoveWorktree(t *testing.T) {
	repo := setupGitRepo(t)
	wt := filepath.Join(t.TempDir(), "wt")
	git(t, repo, "worktree", "add", "--quiet", "-b", "task/T1", wt, "main")

	g := New()
	ctx := context.Background()
	if !g.IsWorktree(ctx, repo, wt) {
		t.Fatal("expected worktree to be listed")
	}
	if err := g.RemoveWorktree(ctx, repo, wt); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(wt); !os.IsNotExist(err) {
		t.Error("worktree directory still exists")
	}
	if out := git(t, repo, "branch", "--list", "task/T1"); out != "" {
		t.Errorf("branch not deleted: %q", out)
	}
}
