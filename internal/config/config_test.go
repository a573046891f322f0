package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.General.MainBranch != "main" {
		t.Errorf("MainBranch = %q, want main", cfg.General.MainBranch)
	}
	if cfg.Doctor.TimeoutSeconds != 600 {
		t.Errorf("Doctor.TimeoutSeconds = %d, want 600", cfg.Doctor.TimeoutSeconds)
	}
	if cfg.Doctor.Canary.EnvVar != "ORCH_CANARY" {
		t.Errorf("Canary.EnvVar = %q, want ORCH_CANARY", cfg.Doctor.Canary.EnvVar)
	}
	if !cfg.Validators.Doctor.Enabled {
		t.Error("doctor validator should be enabled by default")
	}
	if cfg.Budget.Mode != "warn" {
		t.Errorf("Budget.Mode = %q, want warn", cfg.Budget.Mode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeTempConfig(t, `
[general]
project_root = "/test/project"
main_branch = "trunk"

[doctor]
command = "make doctor"
timeout_seconds = 30

[doctor.canary]
mode = "off"

[validators.doctor]
run_every_n_tasks = 4

[[validators.command]]
name = "lint"
command = "make lint"
mode = "block"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.ProjectRoot != "/test/project" {
		t.Errorf("ProjectRoot = %q, want /test/project", cfg.General.ProjectRoot)
	}
	if cfg.General.Project != "project" {
		t.Errorf("Project = %q, want project (derived from root)", cfg.General.Project)
	}
	if cfg.General.MainBranch != "trunk" {
		t.Errorf("MainBranch = %q, want trunk", cfg.General.MainBranch)
	}
	if cfg.Doctor.Command != "make doctor" {
		t.Errorf("Doctor.Command = %q", cfg.Doctor.Command)
	}
	if cfg.Doctor.Timeout().Seconds() != 30 {
		t.Errorf("Doctor.Timeout() = %v, want 30s", cfg.Doctor.Timeout())
	}
	if cfg.Doctor.Canary.Enabled() {
		t.Error("canary should be disabled")
	}
	if cfg.Validators.Doctor.RunEveryNTasks != 4 {
		t.Errorf("RunEveryNTasks = %d, want 4", cfg.Validators.Doctor.RunEveryNTasks)
	}
	// Defaults survive partial sections
	if cfg.Validators.Doctor.Mode != "block" {
		t.Errorf("Validators.Doctor.Mode = %q, want block", cfg.Validators.Doctor.Mode)
	}
	if len(cfg.Validators.Commands) != 1 || cfg.Validators.Commands[0].Name != "lint" {
		t.Errorf("Commands = %+v", cfg.Validators.Commands)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.MainBranch != "main" {
		t.Errorf("MainBranch = %q, want main", cfg.General.MainBranch)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTempConfig(t, "[general\nproject_root = ")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"no main branch", func(c *Config) { c.General.MainBranch = "" }, "main_branch"},
		{"bad canary mode", func(c *Config) { c.Doctor.Canary.Mode = "sometimes" }, "canary.mode"},
		{"canary env without var", func(c *Config) { c.Doctor.Canary.EnvVar = "" }, "env_var"},
		{"bad doctor mode", func(c *Config) { c.Validators.Doctor.Mode = "strict" }, "validators.doctor.mode"},
		{"negative cadence", func(c *Config) { c.Validators.Doctor.RunEveryNTasks = -1 }, "run_every_n_tasks"},
		{"unnamed command", func(c *Config) {
			c.Validators.Commands = []CommandValidatorConfig{{Command: "true"}}
		}, "name and command"},
		{"bad compliance mode", func(c *Config) { c.ControlPlane.ComplianceMode = "loud" }, "compliance_mode"},
		{"scope without model", func(c *Config) { c.ControlPlane.EnforceScope = true }, "model_path"},
		{"bad budget mode", func(c *Config) { c.Budget.Mode = "panic" }, "budget.mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.General.ProjectRoot = "/saved"
	cfg.Budget.MaxTokens = 1000

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.General.ProjectRoot != "/saved" {
		t.Errorf("ProjectRoot = %q, want /saved", loaded.General.ProjectRoot)
	}
	if loaded.Budget.MaxTokens != 1000 {
		t.Errorf("MaxTokens = %d, want 1000", loaded.Budget.MaxTokens)
	}
}

func TestFindLocalConfig(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "sub", "dir")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}

	localConfig := filepath.Join(root, LocalConfigName)
	if err := os.WriteFile(localConfig, []byte("[general]\nproject_root = \"/local\""), 0644); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	if err := os.Chdir(subdir); err != nil {
		t.Fatal(err)
	}

	// Should find config in parent
	found := FindLocalConfig()
	if found != localConfig {
		t.Errorf("FindLocalConfig() = %q, want %q", found, localConfig)
	}
}

func TestFindLocalConfig_NotFound(t *testing.T) {
	root := t.TempDir()

	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	if err := os.Chdir(root); err != nil {
		t.Fatal(err)
	}

	found := FindLocalConfig()
	if found != "" {
		t.Errorf("FindLocalConfig() = %q, want empty string", found)
	}
}

func TestLoadWithLocalFallback_ExplicitPath(t *testing.T) {
	path := writeTempConfig(t, "[general]\nproject_root = \"/explicit\"\n")

	cfg, err := LoadWithLocalFallback(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.ProjectRoot != "/explicit" {
		t.Errorf("ProjectRoot = %q, want /explicit", cfg.General.ProjectRoot)
	}
}

func TestLoadWithLocalFallback_LocalConfig(t *testing.T) {
	root := t.TempDir()
	localConfig := filepath.Join(root, LocalConfigName)

	if err := os.WriteFile(localConfig, []byte("[general]\nproject_root = \"/from-local\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	if err := os.Chdir(root); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadWithLocalFallback("")
	if err != nil {
		t.Fatal(err)
	}

	if cfg.General.ProjectRoot != "/from-local" {
		t.Errorf("ProjectRoot = %q, want /from-local", cfg.General.ProjectRoot)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
