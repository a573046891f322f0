// Package engine finalizes batches of task results: validation, temp-branch
// integration, the doctor and its canary, guarded fast-forward, ledger,
// archive and cleanup.
//
// An Engine owns one RunState. FinalizeBatch must not be called concurrently
// for the same run; batch.Driver is the single caller in production.
package engine

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/controlplane"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/events"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/logging"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/manifest"
)

// Deps are the collaborators of an Engine. Model, Stop and Events are optional.
type Deps struct {
	Vcs        Vcs
	Validation ValidationPipeline
	Compliance CompliancePipeline
	Budget     BudgetTracker
	Store      StateStore
	Worker     WorkerRunner
	Tasks      TaskEngine
	Doctor     IntegrationDoctor
	Reports    ReportWriter
	Layout     TaskLayout
	Ledger     Ledger
	Events     events.Sink
	Stop       StopSignal
	Model      *controlplane.Model
	Logger     *logging.Logger
}

// Options are the config switches the engine honours
type Options struct {
	EnforceScope      bool
	DoctorEveryNTasks int
	CleanupContainers bool
	CleanupWorkspaces bool
}

// Engine finalizes the batches of one run
type Engine struct {
	Deps
	opts  Options
	state *domain.RunState
}

// New creates an Engine for state
func New(state *domain.RunState, deps Deps, opts Options) *Engine {
	if deps.Logger == nil {
		deps.Logger = logging.NopLogger()
	}
	if deps.Events == nil {
		deps.Events = events.Discard{}
	}
	if deps.Tasks == nil {
		deps.Tasks = StateTaskEngine{}
	}
	return &Engine{Deps: deps, opts: opts, state: state}
}

// State returns the run state the engine mutates
func (e *Engine) State() *domain.RunState {
	return e.state
}

// batchRun carries what the phases of one FinalizeBatch call share
type batchRun struct {
	id           int
	tasks        []domain.TaskID
	results      []domain.TaskResult
	logger       *logging.Logger
	manifests    map[domain.TaskID]*manifest.ChangeManifest
	containers   map[domain.TaskID]string // reported by the worker, set on completion
	pendingReset bool
	stopReason   domain.StopReason
	merge        MergeOutcome
}

// FinalizeBatch runs the finalization phases for one batch in order and
// returns the batch record. A batch id that already has a record is rejected
// before anything runs. Collaborator failures are handled inside the phases;
// only failing to record or persist the batch itself is returned.
func (e *Engine) FinalizeBatch(ctx context.Context, batchID int, batchTasks []domain.TaskID, results []domain.TaskResult) (domain.BatchRecord, error) {
	if e.state.HasBatch(batchID) {
		return domain.BatchRecord{}, fmt.Errorf("finalizing batch %d: %w", batchID, domain.ErrBatchCompleted)
	}
	b := &batchRun{
		id:         batchID,
		tasks:      domain.SortTaskIDs(append([]domain.TaskID(nil), batchTasks...)),
		results:    results,
		logger:     e.Logger.WithRun(e.state.RunID).WithBatch(batchID),
		manifests:  make(map[domain.TaskID]*manifest.ChangeManifest),
		containers: make(map[domain.TaskID]string),
	}
	b.logger.Info("finalizing batch", "tasks", len(b.tasks), "results", len(results))

	e.Budget.RecordUsageUpdates(e.state, results)
	e.ingestResults(ctx, b)
	e.validateTasks(ctx, b)
	e.evaluateBudget(b)
	e.runCadenceDoctor(ctx, b)

	if b.stopReason == domain.StopNone {
		b.merge = e.coordinateMerge(ctx, b)
		b.stopReason = b.merge.StopReason
	} else {
		b.logger.Info("skipping merge", "stop_reason", b.stopReason)
	}

	e.reconcileCanary(ctx, b)
	e.finalizeTasks(b)

	rec, err := e.completeBatch(b)
	if err != nil {
		return domain.BatchRecord{}, err
	}

	e.writeLedger(b)
	e.recheckFailedIntegration(ctx, b)
	e.archiveApplied(b)
	e.cleanup(ctx, b, rec)
	e.emitBatchComplete(b, rec)
	return rec, nil
}

// persist saves state after a phase. A failed save is logged; the next phase
// saves again and the final batch save is checked by completeBatch.
func (e *Engine) persist(b *batchRun, phase string) {
	if err := e.Store.Save(e.state); err != nil {
		b.logger.Error("saving run state failed", "phase", phase, "error", err)
	}
}

func (e *Engine) emit(b *batchRun, eventType string, severity events.Severity, taskID domain.TaskID, msg string, data map[string]any) {
	ev := events.New(eventType, e.state.RunID, b.id)
	ev.Severity = severity
	ev.TaskID = taskID.String()
	ev.Message = msg
	ev.Data = data
	e.Events.Emit(ev)
}

// transition applies a named state transition and logs a refusal. The engine
// never forces a status the lifecycle does not allow.
func (e *Engine) transition(b *batchRun, id domain.TaskID, op string, err error) bool {
	if err != nil {
		b.logger.Warn("task transition refused", "task_id", id.String(), "op", op, "error", err)
		return false
	}
	return true
}

func (e *Engine) resetToPending(b *batchRun, id domain.TaskID, reason string) {
	e.transition(b, id, "reset_to_pending", e.state.ResetToPending(id, reason))
}

func (e *Engine) escalate(b *batchRun, id domain.TaskID, review domain.HumanReview) {
	e.transition(b, id, "needs_human_review", e.state.MarkNeedsHumanReview(id, review))
}

func (e *Engine) tempBranch(batchID int) string {
	return fmt.Sprintf("orch/integration/%s-b%d", e.state.RunID, batchID)
}
