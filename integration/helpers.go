//go:build integration

package integration

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// project is a throwaway repository with its task tree, state and
// workspaces directories
type project struct {
	Root       string
	StateDir   string
	Workspaces string
	Config     string
}

// runGit runs git in dir and returns trimmed stdout
func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// newProject creates a git repository on main with one commit and writes a
// config that points every directory into temp space
func newProject(t *testing.T) *project {
	t.Helper()
	base := t.TempDir()
	p := &project{
		Root:       filepath.Join(base, "repo"),
		StateDir:   filepath.Join(base, "state"),
		Workspaces: filepath.Join(base, "workspaces"),
		Config:     filepath.Join(base, "config.toml"),
	}

	if err := os.MkdirAll(p.Root, 0755); err != nil {
		t.Fatal(err)
	}
	runGit(t, p.Root, "init", "--quiet", "-b", "main")
	runGit(t, p.Root, "config", "user.email", "test@example.com")
	runGit(t, p.Root, "config", "user.name", "Test")
	writeFile(t, filepath.Join(p.Root, "README.md"), "# demo\n")
	writeFile(t, filepath.Join(p.Root, ".gitignore"), ".tasks/\n")
	runGit(t, p.Root, "add", ".")
	runGit(t, p.Root, "commit", "--quiet", "-m", "initial")

	config := `[general]
project_root = "` + p.Root + `"
project = "demo"
state_dir = "` + p.StateDir + `"
database_path = "` + filepath.Join(p.StateDir, "orch.db") + `"
main_branch = "main"
tasks_dir = ".tasks"

[doctor]
command = 'test -z "$ORCH_CANARY"'
timeout_seconds = 60

[doctor.canary]
mode = "env"
env_var = "ORCH_CANARY"

[validators.doctor]
enabled = true
mode = "block"

[cleanup]
workspaces = true
containers = false
workspaces_dir = "` + p.Workspaces + `"

[schedule]
cron = "*/5 * * * *"
inbox_dir = "` + filepath.Join(p.StateDir, "inbox") + `"

[events]
log_dir = "` + filepath.Join(p.StateDir, "events") + `"

[logging]
level = "DEBUG"
file = "` + filepath.Join(p.StateDir, "orch.log") + `"
`
	writeFile(t, p.Config, config)
	return p
}

// addTask writes an active task whose branch adds file in its own worktree.
// It returns the worker result a finished attempt would report.
func (p *project) addTask(t *testing.T, id, file string) map[string]any {
	t.Helper()
	manifest := map[string]any{
		"id":    id,
		"name":  "add " + file,
		"locks": map[string]any{},
		"files": map[string]any{"writes": []string{file}},
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Join(p.Root, ".tasks", "active", id)
	writeFile(t, filepath.Join(dir, "manifest.json"), string(data))
	writeFile(t, filepath.Join(dir, "spec.md"), "# Add "+file+"\n")

	branch := "task/" + id
	ws := filepath.Join(p.Workspaces, id)
	runGit(t, p.Root, "worktree", "add", "--quiet", "-b", branch, ws, "main")
	writeFile(t, filepath.Join(ws, file), id+"\n")
	runGit(t, ws, "add", file)
	runGit(t, ws, "commit", "--quiet", "-m", "add "+file)

	return map[string]any{
		"task_id":   id,
		"success":   true,
		"workspace": ws,
		"branch":    branch,
		"usage":     map[string]any{"input_tokens": 1000, "output_tokens": 200, "cost_usd": 0.05},
	}
}
