package engine

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/doctor"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/events"
)

const reasonMergeConflict = "merge conflict"

// MergeOutcome is what merge coordination produced for one batch
type MergeOutcome struct {
	MergedTasks             []domain.TaskID
	AppliedTasks            []domain.TaskID
	MergeApplied            bool
	BatchMergeCommit        string
	IntegrationDoctorPassed *bool // nil when the doctor did not run
	CanaryResult            *domain.CanaryResult
	StopReason              domain.StopReason
	// IntegrationDoctorFailureDetail is the exit code and truncated output of a failed doctor
	IntegrationDoctorFailureDetail string
}

// coordinateMerge merges validated task branches into a temporary integration
// branch, runs the doctor and canary against it and fast-forwards the
// mainline. The working tree is always returned to the mainline.
func (e *Engine) coordinateMerge(ctx context.Context, b *batchRun) (out MergeOutcome) {
	candidates := e.Tasks.Validated(e.state, b.tasks)
	if len(candidates) == 0 {
		b.logger.Info("nothing to merge")
		return out
	}

	repo, mainBranch := e.state.RepoPath, e.state.MainBranch
	defer func() {
		if err := e.Vcs.Checkout(ctx, repo, mainBranch); err != nil {
			b.logger.Warn("checking out mainline after merge failed", "branch", mainBranch, "error", err)
		}
	}()

	byBranch := make(map[string]domain.TaskID, len(candidates))
	var branches []string
	for _, id := range candidates {
		branch := e.state.Task(id).Branch
		if branch == "" {
			e.resetToPending(b, id, "no branch recorded for task")
			b.pendingReset = true
			continue
		}
		byBranch[branch] = id
		branches = append(branches, branch)
	}
	if len(branches) == 0 {
		e.persist(b, "merge")
		return out
	}

	temp := e.tempBranch(b.id)
	mr, err := e.Vcs.MergeTaskBranchesToTemp(ctx, repo, mainBranch, temp, branches)
	if err != nil {
		b.logger.Error("integration merge failed", "temp_branch", temp, "error", err)
		for _, branch := range branches {
			e.resetToPending(b, byBranch[branch], "integration merge failed: "+err.Error())
		}
		b.pendingReset = true
		e.persist(b, "merge")
		return out
	}

	for _, branch := range mr.Conflicts {
		id, ok := byBranch[branch]
		if !ok {
			continue
		}
		e.state.Metrics.MergeConflicts++
		b.pendingReset = true
		e.resetToPending(b, id, reasonMergeConflict)
		e.emit(b, events.TypeMergeConflict, events.SeverityWarn, id, reasonMergeConflict, map[string]any{"branch": branch})
	}
	for _, branch := range mr.Merged {
		if id, ok := byBranch[branch]; ok {
			out.MergedTasks = append(out.MergedTasks, id)
		}
	}
	domain.SortTaskIDs(out.MergedTasks)
	e.persist(b, "merge")

	if len(out.MergedTasks) == 0 {
		b.logger.Info("no branch merged cleanly", "conflicts", len(mr.Conflicts))
		return out
	}

	passed, detail := e.runIntegrationDoctor(ctx, b)
	out.IntegrationDoctorPassed = &passed

	if !passed {
		canary := domain.SkippedCanary("integration doctor failed")
		out.CanaryResult = &canary
		out.IntegrationDoctorFailureDetail = detail
		out.StopReason = domain.StopIntegrationDoctorFailed
		e.state.Status = domain.RunFailed
		b.logger.Error("integration doctor failed, keeping temp branch", "temp_branch", temp)
		e.persist(b, "integration_doctor")
		return out
	}

	canary := e.runCanary(ctx, b)
	out.CanaryResult = &canary

	ff, err := e.Vcs.FastForward(ctx, repo, mainBranch, temp, mr.BaseSHA, true)
	if err != nil {
		ff = domain.FastForwardResult{Status: domain.FFBlocked, Reason: "error", Message: err.Error(), TargetRef: temp}
	}
	e.emit(b, events.TypeFastForward, events.SeverityInfo, "", string(ff.Status), map[string]any{
		"head":         ff.Head,
		"reason":       ff.Reason,
		"message":      ff.Message,
		"current_head": ff.CurrentHead,
		"target_ref":   ff.TargetRef,
	})

	switch ff.Status {
	case domain.FastForwarded:
		out.MergeApplied = true
		out.BatchMergeCommit = ff.Head
		out.AppliedTasks = append([]domain.TaskID(nil), out.MergedTasks...)
		b.logger.Info("mainline fast-forwarded", "head", ff.Head, "tasks", len(out.AppliedTasks))
	default:
		reason := fastForwardReason(ff)
		b.logger.Warn("fast-forward not applied", "status", ff.Status, "reason", reason)
		for _, id := range out.MergedTasks {
			e.resetToPending(b, id, reason)
		}
		b.pendingReset = true
	}
	e.persist(b, "fast_forward")
	return out
}

// runIntegrationDoctor runs the doctor at the repository root. A doctor that
// cannot start counts as failed.
func (e *Engine) runIntegrationDoctor(ctx context.Context, b *batchRun) (bool, string) {
	res, err := e.Doctor.Run(ctx, e.state.RepoPath)

	var passed bool
	var detail string
	switch {
	case err != nil:
		detail = "doctor could not run: " + err.Error()
	case res.Passed():
		passed = true
	default:
		detail = doctor.FailureDetail(res)
	}

	severity := events.SeverityInfo
	if !passed {
		severity = events.SeverityError
	}
	e.emit(b, events.TypeIntegrationDoctor, severity, "", detail, map[string]any{
		"passed":    passed,
		"exit_code": res.ExitCode,
		"timed_out": res.TimedOut,
	})
	return passed, detail
}

func (e *Engine) runCanary(ctx context.Context, b *batchRun) domain.CanaryResult {
	canary := e.Doctor.Canary(ctx, e.state.RepoPath)

	severity := events.SeverityInfo
	msg := string(canary.Status)
	switch canary.Status {
	case domain.CanarySkipped:
		msg = "canary skipped: " + canary.Reason
	case domain.CanaryUnexpectedPass:
		severity = events.SeverityError
		if e.Doctor.WarnOnUnexpectedPass() {
			severity = events.SeverityWarn
		}
		msg = fmt.Sprintf("doctor passed with %s=1; it does not detect injected failures", canary.EnvVar)
	}
	e.emit(b, events.TypeDoctorCanary, severity, "", msg, map[string]any{
		"status":    string(canary.Status),
		"exit_code": canary.ExitCode,
		"env_var":   canary.EnvVar,
	})
	return canary
}

func fastForwardReason(ff domain.FastForwardResult) string {
	if ff.Status == domain.MainAdvanced {
		return fmt.Sprintf("main advanced during merge (now %s)", ff.CurrentHead)
	}
	if ff.Message != "" {
		return "fast-forward blocked: " + ff.Message
	}
	return "fast-forward blocked: " + ff.Reason
}
