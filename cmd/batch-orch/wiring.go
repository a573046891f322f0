package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/batch"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/budget"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/compliance"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/controlplane"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/doctor"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/engine"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/events"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/ledger"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/logging"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/manifest"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/notify"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/tasklayout"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/taskstore"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/validation"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/vcs"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/worker"
)

// app holds what every command opens: config, logger and the run database
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *taskstore.Store
	fs     afero.Fs
}

func openApp() (*app, error) {
	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, err := logging.NewLogger(cfg.Logging.File, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if cfg.Doctor.Command == "" {
		logger.Warn("doctor.command is not set; batches will fail integration until it is")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0755); err != nil {
		logger.Close()
		return nil, err
	}
	store, err := taskstore.New(cfg.General.DatabasePath)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &app{cfg: cfg, logger: logger, store: store, fs: afero.NewOsFs()}, nil
}

func (a *app) Close() {
	a.store.Close()
	a.logger.Close()
}

func (a *app) requireProject() error {
	if a.cfg.General.ProjectRoot == "" {
		return errors.New("general.project_root not configured")
	}
	return nil
}

func (a *app) layout() *tasklayout.Layout {
	return tasklayout.New(a.fs, filepath.Join(a.cfg.General.ProjectRoot, a.cfg.General.TasksDir))
}

func (a *app) ledger() *ledger.Ledger {
	return ledger.New(a.store, a.layout())
}

func (a *app) stopFile() *batch.StopFile {
	return batch.NewStopFile(a.cfg.General.StateDir)
}

func (a *app) jsonl() *events.JSONLSink {
	return events.NewJSONLSink(a.cfg.Events.LogDir, a.logger)
}

// eventSinks fans engine events out to the run log, the notifiers and any
// extra sinks such as the live hub
func (a *app) eventSinks(extra ...events.Sink) events.Sink {
	sinks := events.Multi{
		a.jsonl(),
		notify.NewEventSink(notify.FromConfig(a.cfg.Notifications), a.logger),
	}
	return append(sinks, extra...)
}

// runner wires the engine collaborators from config
func (a *app) runner(sink events.Sink) (*batch.Runner, error) {
	if err := a.requireProject(); err != nil {
		return nil, err
	}
	cfg := a.cfg

	var model *controlplane.Model
	if cfg.ControlPlane.Enabled && cfg.ControlPlane.ModelPath != "" {
		m, err := controlplane.LoadModel(a.fs, cfg.ControlPlane.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("loading control-plane model: %w", err)
		}
		model = m
	}

	git := vcs.New()
	runner := doctor.NewRunner()
	doc := doctor.New(runner, cfg.Doctor)
	layout := a.layout()
	led := ledger.New(a.store, layout)
	complianceMode := cfg.ControlPlane.ComplianceMode
	if !cfg.ControlPlane.Enabled {
		complianceMode = "off"
	}

	deps := engine.Deps{
		Vcs:        git,
		Validation: validation.NewPipeline(cfg.Validators, runner, doc, cfg.General.ProjectRoot, a.logger),
		Compliance: compliance.NewChecker(complianceMode),
		Budget:     budget.NewTracker(cfg.Budget, a.logger),
		Store:      a.store,
		Worker:     worker.NewCleaner(cfg.General.ProjectRoot, cfg.Cleanup.WorkspacesDir, git),
		Doctor:     doc,
		Reports:    manifest.NewWriter(a.fs, cfg.General.StateDir),
		Layout:     layout,
		Ledger:     led,
		Events:     sink,
		Stop:       a.stopFile(),
		Model:      model,
		Logger:     a.logger,
	}
	opts := engine.Options{
		EnforceScope:      cfg.ControlPlane.EnforceScope,
		DoctorEveryNTasks: cfg.Validators.Doctor.RunEveryNTasks,
		CleanupContainers: cfg.Cleanup.Containers,
		CleanupWorkspaces: cfg.Cleanup.Workspaces,
	}
	run := batch.RunConfig{
		Project:      cfg.General.Project,
		RepoPath:     cfg.General.ProjectRoot,
		MainBranch:   cfg.General.MainBranch,
		ControlPlane: cfg.ControlPlane.Enabled,
	}
	return batch.NewRunner(a.store, git, led, deps, opts, run), nil
}
