package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/engine"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/logging"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/taskstore"
)

// RunStore loads and saves run state. Implemented by taskstore.Store.
type RunStore interface {
	Load(runID string) (*domain.RunState, error)
	Save(state *domain.RunState) error
}

// HeadResolver resolves the mainline head a new run starts from.
// Implemented by vcs.Git.
type HeadResolver interface {
	HeadSHA(ctx context.Context, dir, ref string) (string, error)
}

// LedgerLookup reports whether a task already landed unchanged.
// Implemented by ledger.Ledger.
type LedgerLookup interface {
	Lookup(project string, spec *domain.TaskSpec) (*domain.LedgerEntry, bool, error)
}

// RunConfig describes the run a Runner creates when none is stored yet
type RunConfig struct {
	Project      string
	RepoPath     string
	MainBranch   string
	ControlPlane bool
}

// Runner turns a batch file into a FinalizeBatch call on the run's state
type Runner struct {
	store  RunStore
	head   HeadResolver
	ledger LedgerLookup
	deps   engine.Deps
	opts   engine.Options
	run    RunConfig
	logger *logging.Logger
}

// NewRunner creates a Runner. ledger may be nil.
func NewRunner(store RunStore, head HeadResolver, ledger LedgerLookup, deps engine.Deps, opts engine.Options, run RunConfig) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Runner{store: store, head: head, ledger: ledger, deps: deps, opts: opts, run: run, logger: logger}
}

// Finalize loads (or starts) the run of f, records the dispatched tasks and
// finalizes the batch
func (r *Runner) Finalize(ctx context.Context, f *File) (domain.BatchRecord, error) {
	state, err := r.loadOrCreate(ctx, f.RunID)
	if err != nil {
		return domain.BatchRecord{}, err
	}
	if state.HasBatch(f.BatchID) {
		return domain.BatchRecord{}, fmt.Errorf("run %s batch %d: %w", f.RunID, f.BatchID, domain.ErrBatchCompleted)
	}
	r.dispatch(state, f)
	if err := r.store.Save(state); err != nil {
		return domain.BatchRecord{}, fmt.Errorf("saving run %s: %w", state.RunID, err)
	}

	eng := engine.New(state, r.deps, r.opts)
	return eng.FinalizeBatch(ctx, f.BatchID, f.Tasks, f.Results)
}

func (r *Runner) loadOrCreate(ctx context.Context, runID string) (*domain.RunState, error) {
	state, err := r.store.Load(runID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, taskstore.ErrRunNotFound) {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}

	state = domain.NewRunState(runID, r.run.Project, r.run.RepoPath, r.run.MainBranch)
	state.ControlPlane.Enabled = r.run.ControlPlane
	base, err := r.head.HeadSHA(ctx, r.run.RepoPath, r.run.MainBranch)
	if err != nil {
		// without a base the engine skips change manifests
		r.logger.Warn("resolving run base failed", "run_id", runID, "error", err)
	}
	state.ControlPlane.BaseSHA = base
	r.logger.Info("starting run", "run_id", runID, "base_sha", base)
	return state, nil
}

// dispatch brings the batch tasks into the state the engine expects: tasks
// with a result are running, tasks without one that already landed
// unchanged are skipped
func (r *Runner) dispatch(state *domain.RunState, f *File) {
	results := make(map[domain.TaskID]domain.TaskResult, len(f.Results))
	for _, res := range f.Results {
		results[res.TaskID] = res
	}

	for _, id := range f.Tasks {
		ts := state.EnsureTask(id)
		if ts.Status != domain.StatusPending {
			continue
		}
		res, ok := results[id]
		if ok {
			if err := state.MarkRunning(id, res.Workspace, res.Branch); err != nil {
				r.logger.Warn("marking task running failed", "task_id", id.String(), "error", err)
			}
			continue
		}
		if r.alreadyLanded(state, id) {
			if err := state.MarkSkipped(id); err != nil {
				r.logger.Warn("marking task skipped failed", "task_id", id.String(), "error", err)
			}
		}
	}
}

func (r *Runner) alreadyLanded(state *domain.RunState, id domain.TaskID) bool {
	if r.ledger == nil || r.deps.Layout == nil {
		return false
	}
	spec, err := r.deps.Layout.Load(id)
	if err != nil {
		return false
	}
	entry, current, err := r.ledger.Lookup(state.Project, spec)
	if err != nil {
		r.logger.Debug("ledger lookup failed", "task_id", id.String(), "error", err)
		return false
	}
	return entry != nil && current
}
