package engine

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/events"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/validation"
)

// Doctor validator triggers
const (
	TriggerCadence                 = "cadence"
	TriggerDoctorCanaryFailed      = "doctor_canary_failed"
	TriggerIntegrationDoctorFailed = "integration_doctor_failed"
)

// validateTasks runs the command validators for every task whose workspace
// work is done
func (e *Engine) validateTasks(ctx context.Context, b *batchRun) {
	for _, id := range e.Tasks.ReadyForValidation(e.state, b.tasks) {
		ts := e.state.Task(id)
		outcome := e.Validation.RunForTask(ctx, id, ts.Workspace)
		e.applyResults(b, id, outcome)

		if outcome.IsBlocked() {
			e.blockTask(b, id, outcome)
			continue
		}
		e.transition(b, id, "validated", e.state.MarkValidated(id))
	}
	e.persist(b, "validate")

	b.logger.Debug("validation finished",
		"completed", len(e.state.CompletedTaskIDs()),
		"failed", len(e.state.FailedTaskIDs()))
}

func (e *Engine) applyResults(b *batchRun, id domain.TaskID, outcome domain.ValidationOutcome) {
	for _, r := range outcome.Results {
		if err := e.state.ApplyValidatorResult(id, r); err != nil {
			b.logger.Warn("applying validator result failed", "task_id", id.String(), "validator", r.Validator, "error", err)
		}
	}
}

// blockTask emits one event per blocking validator and escalates the task
// with the first block as its reason
func (e *Engine) blockTask(b *batchRun, id domain.TaskID, outcome domain.ValidationOutcome) {
	for _, blk := range outcome.Blocked {
		data := map[string]any{"validator": blk.Validator}
		if blk.Trigger != "" {
			data["trigger"] = blk.Trigger
		}
		e.emit(b, events.TypeValidatorBlocked, events.SeverityWarn, id, blk.Reason, data)
	}
	first := outcome.Blocked[0]
	e.escalate(b, id, domain.HumanReview{
		Validator: first.Validator,
		Reason:    fmt.Sprintf("blocked by validator %s", first.Validator),
		Summary:   first.Reason,
	})
}

// fanOutDoctor applies one doctor validator outcome to every task in ids.
// With escalate set, a block moves validated tasks to human review;
// otherwise only the results are recorded.
func (e *Engine) fanOutDoctor(b *batchRun, ids []domain.TaskID, outcome domain.ValidationOutcome, escalate bool) {
	for _, id := range ids {
		e.applyResults(b, id, outcome)
		if !outcome.IsBlocked() {
			continue
		}
		if escalate && e.state.Task(id).Status == domain.StatusValidated {
			e.blockTask(b, id, outcome)
			continue
		}
		for _, blk := range outcome.Blocked {
			e.emit(b, events.TypeValidatorBlocked, events.SeverityWarn, id, blk.Reason,
				map[string]any{"validator": blk.Validator, "trigger": blk.Trigger})
		}
	}
}

func (e *Engine) runDoctorValidator(ctx context.Context, b *batchRun, req validation.DoctorRequest) domain.ValidationOutcome {
	outcome := e.Validation.RunDoctorValidation(ctx, req)
	e.state.Validators.DoctorCadence.LastFinishedCount = e.state.FinishedCount()

	status := "none"
	if len(outcome.Results) > 0 {
		status = string(outcome.Results[0].Status)
	}
	e.emit(b, events.TypeDoctorRecheck, events.SeverityInfo, "", "doctor validator ran",
		map[string]any{"trigger": req.Trigger, "status": status, "blocked": outcome.IsBlocked()})
	return outcome
}

func (e *Engine) evaluateBudget(b *batchRun) {
	ev := e.Budget.EvaluateBreaches(e.state)
	for _, breach := range ev.Breaches {
		severity := events.SeverityWarn
		if ev.StopReason != domain.StopNone {
			severity = events.SeverityError
		}
		e.emit(b, events.TypeBudgetBreach, severity, "", breach.String(),
			map[string]any{"kind": breach.Kind, "limit": breach.Limit, "actual": breach.Actual})
	}
	if ev.StopReason != domain.StopNone {
		b.stopReason = ev.StopReason
		b.logger.Warn("budget stops the batch", "stop_reason", ev.StopReason)
	}
}

// runCadenceDoctor runs the doctor validator every n finished tasks
func (e *Engine) runCadenceDoctor(ctx context.Context, b *batchRun) {
	n := e.opts.DoctorEveryNTasks
	if n <= 0 || b.stopReason != domain.StopNone || !e.Validation.DoctorEnabled() {
		return
	}
	finished := e.state.FinishedCount()
	if finished-e.state.Validators.DoctorCadence.LastFinishedCount < n {
		return
	}

	b.logger.Info("running cadence doctor validator", "finished", finished, "every", n)
	outcome := e.runDoctorValidator(ctx, b, validation.DoctorRequest{
		Trigger:      TriggerCadence,
		TriggerNotes: fmt.Sprintf("%d tasks finished", finished),
	})
	e.fanOutDoctor(b, e.Tasks.Validated(e.state, b.tasks), outcome, true)
	e.persist(b, "cadence")
}
