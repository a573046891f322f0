package engine

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/events"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/ledger"
)

// BatchStatus is failed when any batch task is unfinished or escalated, a
// result asked for a pending reset, or a stop reason was raised
func BatchStatus(state *domain.RunState, batchTasks []domain.TaskID, pendingReset bool, stop domain.StopReason) domain.BatchStatus {
	if pendingReset || stop != domain.StopNone {
		return domain.BatchFailed
	}
	for _, id := range batchTasks {
		if ts := state.Task(id); ts != nil && ts.Status.IsBlocking() {
			return domain.BatchFailed
		}
	}
	return domain.BatchComplete
}

func (e *Engine) completeBatch(b *batchRun) (domain.BatchRecord, error) {
	m := b.merge
	c := domain.BatchCompletion{
		BatchID:                 b.id,
		Tasks:                   b.tasks,
		Status:                  BatchStatus(e.state, b.tasks, b.pendingReset, b.stopReason),
		IntegrationDoctorPassed: m.IntegrationDoctorPassed,
	}
	if m.MergeApplied {
		c.MergeCommit = m.BatchMergeCommit
	}
	if m.CanaryResult != nil {
		c.Canary = m.CanaryResult.Summary()
	}

	rec, err := e.state.CompleteBatch(c)
	if err != nil {
		return domain.BatchRecord{}, fmt.Errorf("completing batch %d: %w", b.id, err)
	}
	if err := e.Store.Save(e.state); err != nil {
		return rec, fmt.Errorf("saving batch %d: %w", b.id, err)
	}
	b.logger.Info("batch completed", "status", rec.Status, "merge_commit", rec.MergeCommit)
	return rec, nil
}

// writeLedger records every completed or skipped batch task of an applied,
// doctor-approved merge. One failing task does not stop the others.
func (e *Engine) writeLedger(b *batchRun) {
	m := b.merge
	if m.BatchMergeCommit == "" || !m.MergeApplied || !doctorPassed(m) {
		return
	}
	for _, id := range b.tasks {
		ts := e.state.Task(id)
		if ts == nil || (ts.Status != domain.StatusComplete && ts.Status != domain.StatusSkipped) {
			continue
		}
		spec, err := e.Layout.Load(id)
		if err != nil {
			b.logger.Warn("ledger write skipped", "task_id", id.String(), "error", err)
			continue
		}
		entry, err := e.Ledger.Record(ledger.Completion{
			Project:                 e.state.Project,
			RunID:                   e.state.RunID,
			Spec:                    spec,
			Status:                  ts.Status,
			MergeCommit:             m.BatchMergeCommit,
			IntegrationDoctorPassed: true,
		})
		if err != nil {
			b.logger.Warn("ledger write failed", "task_id", id.String(), "error", err)
			e.emit(b, events.TypeLedgerWrite, events.SeverityWarn, id, err.Error(), nil)
			continue
		}
		e.emit(b, events.TypeLedgerWrite, events.SeverityInfo, id, "ledger entry recorded",
			map[string]any{"fingerprint": entry.Fingerprint, "merge_commit": entry.MergeCommit})
	}
}

// archiveApplied moves applied tasks from the active stage to the archive
func (e *Engine) archiveApplied(b *batchRun) {
	for _, id := range b.merge.AppliedTasks {
		spec, err := e.Layout.Load(id)
		if err == nil && spec.Stage == domain.StageLegacy {
			continue
		}
		if err == nil {
			err = e.Layout.Archive(spec)
		}
		if err != nil {
			b.logger.Warn("archiving task failed", "task_id", id.String(), "error", err)
			e.emit(b, events.TypeArchiveFailed, events.SeverityWarn, id, err.Error(), nil)
		}
	}
}

// cleanup removes containers and workspaces of successful tasks once the batch
// is fully integrated. A pending stop request keeps them for a later resume.
func (e *Engine) cleanup(ctx context.Context, b *batchRun, rec domain.BatchRecord) {
	if rec.Status != domain.BatchComplete || !doctorPassed(b.merge) {
		return
	}
	if !e.opts.CleanupContainers && !e.opts.CleanupWorkspaces {
		return
	}
	var successful []domain.TaskID
	for _, r := range b.results {
		if r.Success {
			successful = append(successful, r.TaskID)
		}
	}
	if len(successful) == 0 {
		return
	}
	if e.Stop != nil && e.Stop.StopRequested(e.state.RunID) {
		b.logger.Info("stop requested, keeping workspaces and containers")
		return
	}

	for _, id := range successful {
		ts := e.state.Task(id)
		if ts == nil {
			continue
		}
		if e.opts.CleanupContainers && ts.ContainerID != "" {
			if err := e.Worker.RemoveContainer(ctx, ts.ContainerID); err != nil {
				e.cleanupFailed(b, id, "container", err)
			}
		}
		if e.opts.CleanupWorkspaces && ts.Workspace != "" {
			if err := e.Worker.RemoveWorkspace(ctx, ts.Workspace); err != nil {
				e.cleanupFailed(b, id, "workspace", err)
			}
		}
	}
}

func (e *Engine) cleanupFailed(b *batchRun, id domain.TaskID, kind string, err error) {
	b.logger.Warn("cleanup failed", "task_id", id.String(), "kind", kind, "error", err)
	e.emit(b, events.TypeCleanupFailed, events.SeverityWarn, id, err.Error(), map[string]any{"kind": kind})
}

func (e *Engine) emitBatchComplete(b *batchRun, rec domain.BatchRecord) {
	severity := events.SeverityInfo
	if rec.Status == domain.BatchFailed {
		severity = events.SeverityWarn
	}
	data := map[string]any{
		"status":       string(rec.Status),
		"tasks":        len(rec.Tasks),
		"merge_commit": rec.MergeCommit,
		"applied":      len(b.merge.AppliedTasks),
	}
	if b.stopReason != domain.StopNone {
		data["stop_reason"] = string(b.stopReason)
	}
	msg := fmt.Sprintf("batch %d %s", rec.BatchID, rec.Status)
	e.emit(b, events.TypeBatchComplete, severity, "", msg, data)
}
