package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/controlplane"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/events"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/manifest"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/tasklayout"
)

const (
	reasonSpecNotFound    = "task spec not found"
	reasonManifestMissing = "change manifest missing; cannot enforce scope"
	reasonUnmapped        = "changed files are not covered by the control-plane model"
)

// ingestResults maps worker results onto task state, writes the side-effect
// reports and enforces scope for successful tasks
func (e *Engine) ingestResults(ctx context.Context, b *batchRun) {
	for _, r := range b.results {
		ts := e.state.Task(r.TaskID)
		if ts == nil || ts.Status != domain.StatusRunning {
			b.logger.Warn("ignoring result for task that is not running", "task_id", r.TaskID.String())
			continue
		}
		e.state.RecordWorkspace(r.TaskID, r.Workspace, r.Branch)
		b.containers[r.TaskID] = r.ContainerID

		if !r.Success {
			reason := r.ErrorMessage
			if reason == "" {
				reason = "worker reported failure"
			}
			if r.ResetToPending {
				b.pendingReset = true
				e.resetToPending(b, r.TaskID, reason)
			} else {
				e.transition(b, r.TaskID, "failed", e.state.MarkFailed(r.TaskID, reason, r.ContainerID))
			}
			continue
		}

		e.writeReports(ctx, b, r.TaskID)
		spec, err := e.Layout.Load(r.TaskID)
		if err != nil {
			if !errors.Is(err, tasklayout.ErrTaskNotFound) {
				b.logger.Warn("loading task spec failed", "task_id", r.TaskID.String(), "error", err)
			}
			e.transition(b, r.TaskID, "failed", e.state.MarkFailed(r.TaskID, reasonSpecNotFound, r.ContainerID))
			continue
		}

		e.checkCompliance(b, spec)
		e.enforceScope(b, spec)
	}
	e.persist(b, "ingest")
}

// writeReports builds the change manifest and blast radius for a task.
// Both are best effort: a failure omits the report and nothing else.
func (e *Engine) writeReports(ctx context.Context, b *batchRun, id domain.TaskID) {
	baseSHA := e.state.ControlPlane.BaseSHA
	if baseSHA == "" {
		b.logger.Info("no base sha, skipping change manifest", "task_id", id.String())
		return
	}
	ts := e.state.Task(id)

	changed, err := e.Vcs.ListChangedFiles(ctx, ts.Workspace, baseSHA)
	if err != nil {
		e.reportFailed(b, id, "change_manifest", err)
		return
	}
	cm := manifest.BuildChangeManifest(e.state.RunID, id, baseSHA, ts.Branch, changed, e.Model)
	if _, err := e.Reports.WriteChangeManifest(e.state.RepoPath, cm); err != nil {
		e.reportFailed(b, id, "change_manifest", err)
		return
	}
	b.manifests[id] = &cm

	if e.Model == nil {
		return
	}
	br := manifest.BuildBlastRadius(e.state.RunID, id, changed, e.Model)
	if _, err := e.Reports.WriteBlastRadius(e.state.RepoPath, br); err != nil {
		e.reportFailed(b, id, "blast_radius", err)
	}
}

func (e *Engine) reportFailed(b *batchRun, id domain.TaskID, report string, err error) {
	b.logger.Warn("report generation failed", "task_id", id.String(), "report", report, "error", err)
	e.emit(b, events.TypeReportFailed, events.SeverityWarn, id, err.Error(), map[string]any{"report": report})
}

func (e *Engine) checkCompliance(b *batchRun, spec *domain.TaskSpec) {
	cm := b.manifests[spec.ID()]
	if cm == nil {
		return
	}
	res := e.Compliance.RunForTask(spec.Manifest, cm.ChangedFiles)
	e.state.Metrics.ScopeViolations.WarnCount += res.ScopeViolations.WarnCount
	e.state.Metrics.ScopeViolations.BlockCount += res.ScopeViolations.BlockCount
	if len(res.OutOfScope) == 0 {
		return
	}
	severity := events.SeverityWarn
	if res.ScopeViolations.BlockCount > 0 {
		severity = events.SeverityError
	}
	e.emit(b, events.TypeScopeViolation, severity, spec.ID(),
		fmt.Sprintf("%d files outside declared scope", len(res.OutOfScope)),
		map[string]any{"files": res.OutOfScope})
}

// enforceScope checks a running task against the control-plane model and
// either leaves it running, escalates it, or widens its manifest and sends it
// back to the queue
func (e *Engine) enforceScope(b *batchRun, spec *domain.TaskSpec) {
	id := spec.ID()
	if !e.opts.EnforceScope || !e.state.ControlPlane.Enabled || e.Model == nil {
		return
	}
	if ts := e.state.Task(id); ts == nil || ts.Status != domain.StatusRunning {
		return
	}

	cm := b.manifests[id]
	if cm == nil {
		e.escalate(b, id, domain.HumanReview{Validator: domain.ValidatorDoctor, Reason: reasonManifestMissing})
		return
	}
	if len(cm.ChangedFiles) == 0 {
		return
	}

	res := e.Model.EvaluateScope(spec.Manifest, cm.ChangedFiles)
	switch res.Status {
	case controlplane.ScopePass:
		return
	case controlplane.ScopeUnmapped:
		summary := fmt.Sprintf("unmapped files: %v; missing components: %v", res.UnmappedFiles, res.MissingComponents)
		e.escalate(b, id, domain.HumanReview{Validator: domain.ValidatorDoctor, Reason: reasonUnmapped, Summary: summary})
		e.emit(b, events.TypeScopeViolation, events.SeverityError, id, reasonUnmapped,
			map[string]any{"unmapped_files": res.UnmappedFiles, "missing_components": res.MissingComponents})
		return
	}

	rescope, err := controlplane.ComputeRescope(spec.Manifest, res)
	if err != nil {
		e.escalate(b, id, domain.HumanReview{
			Validator: domain.ValidatorDoctor,
			Reason:    "scope violation could not be rescoped",
			Summary:   fmt.Sprintf("%v; violating files: %v", err, res.ViolatingFiles),
		})
		return
	}
	// the widened manifest must be on disk before the task is re-queued, or
	// the retry would run under the old scope
	if err := e.Layout.WriteManifest(spec, rescope.Manifest); err != nil {
		e.escalate(b, id, domain.HumanReview{
			Validator: domain.ValidatorDoctor,
			Reason:    "rescoped manifest could not be written",
			Summary:   err.Error(),
		})
		return
	}

	summary := rescope.Summary()
	if !e.transition(b, id, "rescope_required", e.state.MarkRescopeRequired(id, summary)) {
		return
	}
	e.state.Metrics.Rescopes++
	e.resetToPending(b, id, summary)
	e.emit(b, events.TypeScopeRescoped, events.SeverityInfo, id, summary,
		map[string]any{"added_locks": rescope.AddedLocks, "added_files": rescope.AddedFiles})
}
