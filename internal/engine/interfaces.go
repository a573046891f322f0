package engine

import (
	"context"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/budget"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/compliance"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/ledger"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/manifest"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/validation"
)

// Vcs is the git surface the engine needs. Implemented by vcs.Git.
type Vcs interface {
	MergeTaskBranchesToTemp(ctx context.Context, repoPath, mainBranch, tempBranch string, branches []string) (domain.MergeResult, error)
	FastForward(ctx context.Context, repoPath, mainBranch, targetRef, expectedBaseSHA string, cleanupBranch bool) (domain.FastForwardResult, error)
	Checkout(ctx context.Context, repoPath, ref string) error
	ListChangedFiles(ctx context.Context, workspace, baseSHA string) ([]string, error)
}

// ValidationPipeline runs command validators and the doctor validator.
// Implemented by validation.Pipeline.
type ValidationPipeline interface {
	DoctorEnabled() bool
	RunForTask(ctx context.Context, taskID domain.TaskID, workspace string) domain.ValidationOutcome
	RunDoctorValidation(ctx context.Context, req validation.DoctorRequest) domain.ValidationOutcome
}

// CompliancePipeline counts out-of-scope changes. Implemented by compliance.Checker.
type CompliancePipeline interface {
	RunForTask(manifest domain.TaskManifest, changed []string) compliance.Result
}

// BudgetTracker accumulates spend. Implemented by budget.Tracker.
type BudgetTracker interface {
	RecordUsageUpdates(state *domain.RunState, results []domain.TaskResult)
	EvaluateBreaches(state *domain.RunState) budget.Evaluation
}

// StateStore persists run state with read-after-write semantics.
// Implemented by taskstore.Store.
type StateStore interface {
	Save(state *domain.RunState) error
}

// WorkerRunner tears down what a worker left behind. Implemented by worker.Cleaner.
type WorkerRunner interface {
	RemoveContainer(ctx context.Context, containerID string) error
	RemoveWorkspace(ctx context.Context, workspace string) error
}

// TaskEngine selects batch tasks by lifecycle stage
type TaskEngine interface {
	ReadyForValidation(state *domain.RunState, batchTasks []domain.TaskID) []domain.TaskID
	Validated(state *domain.RunState, batchTasks []domain.TaskID) []domain.TaskID
}

// IntegrationDoctor runs the health check and canary against the repository.
// Implemented by doctor.Doctor.
type IntegrationDoctor interface {
	Run(ctx context.Context, dir string) (domain.CommandResult, error)
	Canary(ctx context.Context, dir string) domain.CanaryResult
	WarnOnUnexpectedPass() bool
}

// ReportWriter stores change manifests and blast-radius reports.
// Implemented by manifest.Writer.
type ReportWriter interface {
	WriteChangeManifest(repoPath string, cm manifest.ChangeManifest) (string, error)
	WriteBlastRadius(repoPath string, br manifest.BlastRadius) (string, error)
}

// TaskLayout reads and moves task directories. Implemented by tasklayout.Layout.
type TaskLayout interface {
	Load(id domain.TaskID) (*domain.TaskSpec, error)
	WriteManifest(spec *domain.TaskSpec, m domain.TaskManifest) error
	Archive(spec *domain.TaskSpec) error
}

// Ledger records completed tasks. Implemented by ledger.Ledger.
type Ledger interface {
	Record(c ledger.Completion) (domain.LedgerEntry, error)
}

// StopSignal reports an operator stop request. Implemented by batch.StopFile.
type StopSignal interface {
	StopRequested(runID string) bool
}
