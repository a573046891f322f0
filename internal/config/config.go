package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is the per-repository config file searched for upward from the cwd
const LocalConfigName = ".batch-orch.toml"

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Doctor        DoctorConfig        `toml:"doctor"`
	Validators    ValidatorsConfig    `toml:"validators"`
	ControlPlane  ControlPlaneConfig  `toml:"control_plane"`
	Budget        BudgetConfig        `toml:"budget"`
	Cleanup       CleanupConfig       `toml:"cleanup"`
	Notifications NotificationsConfig `toml:"notifications"`
	Schedule      ScheduleConfig      `toml:"schedule"`
	Events        EventsConfig        `toml:"events"`
	Logging       LoggingConfig       `toml:"logging"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	ProjectRoot  string `toml:"project_root"`
	Project      string `toml:"project"`
	StateDir     string `toml:"state_dir"`
	DatabasePath string `toml:"database_path"`
	MainBranch   string `toml:"main_branch"`
	TasksDir     string `toml:"tasks_dir"`
}

// DoctorConfig configures the integration health check
type DoctorConfig struct {
	Command        string       `toml:"command"`
	TimeoutSeconds int          `toml:"timeout_seconds"`
	Canary         CanaryConfig `toml:"canary"`
}

// Timeout returns the doctor timeout, zero meaning none
func (d DoctorConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// CanaryConfig configures the doctor canary
type CanaryConfig struct {
	Mode                 string `toml:"mode"` // "env" or "off"
	EnvVar               string `toml:"env_var"`
	WarnOnUnexpectedPass bool   `toml:"warn_on_unexpected_pass"`
}

// Enabled reports whether the canary runs after a passing doctor
func (c CanaryConfig) Enabled() bool {
	return c.Mode != "off"
}

// ValidatorsConfig holds per-task validator settings
type ValidatorsConfig struct {
	Doctor   DoctorValidatorConfig    `toml:"doctor"`
	Commands []CommandValidatorConfig `toml:"command"`
}

// DoctorValidatorConfig configures the doctor re-check validator
type DoctorValidatorConfig struct {
	Enabled        bool   `toml:"enabled"`
	Mode           string `toml:"mode"` // "warn" or "block"
	RunEveryNTasks int    `toml:"run_every_n_tasks"`
}

// CommandValidatorConfig runs a shell command inside each task workspace
type CommandValidatorConfig struct {
	Name           string `toml:"name"`
	Command        string `toml:"command"`
	Mode           string `toml:"mode"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ControlPlaneConfig configures component scope enforcement
type ControlPlaneConfig struct {
	Enabled        bool   `toml:"enabled"`
	ModelPath      string `toml:"model_path"`
	EnforceScope   bool   `toml:"enforce_scope"`
	ComplianceMode string `toml:"compliance_mode"` // "off", "warn" or "block"
}

// BudgetConfig holds spend limits for a run
type BudgetConfig struct {
	MaxTokens  int64   `toml:"max_tokens"`
	MaxCostUSD float64 `toml:"max_cost_usd"`
	Mode       string  `toml:"mode"` // "warn" or "block"
}

// CleanupConfig controls post-batch teardown
type CleanupConfig struct {
	Workspaces    bool   `toml:"workspaces"`
	Containers    bool   `toml:"containers"`
	WorkspacesDir string `toml:"workspaces_dir"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// ScheduleConfig drives the batch inbox watcher
type ScheduleConfig struct {
	Cron     string `toml:"cron"`
	InboxDir string `toml:"inbox_dir"`
}

// EventsConfig configures the event log and live stream
type EventsConfig struct {
	LogDir string `toml:"log_dir"`
	Addr   string `toml:"addr"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	stateDir := filepath.Join(home, ".batch-orchestrator")
	return &Config{
		General: GeneralConfig{
			StateDir:     stateDir,
			DatabasePath: filepath.Join(stateDir, "orchestrator.db"),
			MainBranch:   "main",
			TasksDir:     ".tasks",
		},
		Doctor: DoctorConfig{
			TimeoutSeconds: 600,
			Canary: CanaryConfig{
				Mode:                 "env",
				EnvVar:               "ORCH_CANARY",
				WarnOnUnexpectedPass: true,
			},
		},
		Validators: ValidatorsConfig{
			Doctor: DoctorValidatorConfig{
				Enabled: true,
				Mode:    "block",
			},
		},
		ControlPlane: ControlPlaneConfig{
			ComplianceMode: "warn",
		},
		Budget: BudgetConfig{
			Mode: "warn",
		},
		Cleanup: CleanupConfig{
			Workspaces:    true,
			Containers:    true,
			WorkspacesDir: filepath.Join(stateDir, "workspaces"),
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Schedule: ScheduleConfig{
			Cron:     "*/5 * * * *",
			InboxDir: filepath.Join(stateDir, "inbox"),
		},
		Events: EventsConfig{
			LogDir: filepath.Join(stateDir, "events"),
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Expand paths
	cfg.General.ProjectRoot = ExpandPath(cfg.General.ProjectRoot)
	cfg.General.StateDir = ExpandPath(cfg.General.StateDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.ControlPlane.ModelPath = ExpandPath(cfg.ControlPlane.ModelPath)
	cfg.Cleanup.WorkspacesDir = ExpandPath(cfg.Cleanup.WorkspacesDir)
	cfg.Schedule.InboxDir = ExpandPath(cfg.Schedule.InboxDir)
	cfg.Events.LogDir = ExpandPath(cfg.Events.LogDir)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)

	if cfg.General.Project == "" && cfg.General.ProjectRoot != "" {
		cfg.General.Project = filepath.Base(cfg.General.ProjectRoot)
	}

	return cfg, nil
}

// LoadWithLocalFallback loads path if given, else the nearest local config,
// else the default config location
func LoadWithLocalFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig walks up from the working directory looking for LocalConfigName
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Save writes the config as TOML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks settings the engine cannot run without
func (c *Config) Validate() error {
	if c.General.MainBranch == "" {
		return fmt.Errorf("general.main_branch is required")
	}
	if c.Doctor.TimeoutSeconds < 0 {
		return fmt.Errorf("doctor.timeout_seconds must not be negative")
	}
	switch c.Doctor.Canary.Mode {
	case "env":
		if c.Doctor.Canary.EnvVar == "" {
			return fmt.Errorf("doctor.canary.env_var is required when mode is env")
		}
	case "off":
	default:
		return fmt.Errorf("doctor.canary.mode must be env or off, got %q", c.Doctor.Canary.Mode)
	}
	if err := validMode("validators.doctor.mode", c.Validators.Doctor.Mode, "warn", "block"); err != nil {
		return err
	}
	if c.Validators.Doctor.RunEveryNTasks < 0 {
		return fmt.Errorf("validators.doctor.run_every_n_tasks must not be negative")
	}
	for i, v := range c.Validators.Commands {
		if v.Name == "" || v.Command == "" {
			return fmt.Errorf("validators.command[%d]: name and command are required", i)
		}
		if err := validMode(fmt.Sprintf("validators.command[%d].mode", i), v.Mode, "warn", "block"); err != nil {
			return err
		}
	}
	if err := validMode("control_plane.compliance_mode", c.ControlPlane.ComplianceMode, "off", "warn", "block"); err != nil {
		return err
	}
	if c.ControlPlane.EnforceScope && c.ControlPlane.ModelPath == "" {
		return fmt.Errorf("control_plane.model_path is required when enforce_scope is set")
	}
	return validMode("budget.mode", c.Budget.Mode, "warn", "block")
}

func validMode(field, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "batch-orchestrator", "config.toml")
}
