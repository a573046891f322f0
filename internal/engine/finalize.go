package engine

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/validation"
)

// reconcileCanary re-runs the doctor validator when the canary passed
// unexpectedly, since the doctor may be waving broken integrations through
func (e *Engine) reconcileCanary(ctx context.Context, b *batchRun) {
	m := b.merge
	if m.CanaryResult == nil || m.CanaryResult.Status != domain.CanaryUnexpectedPass {
		return
	}
	if len(m.AppliedTasks) == 0 || b.stopReason != domain.StopNone || !e.Validation.DoctorEnabled() {
		return
	}

	b.logger.Warn("canary passed unexpectedly, re-checking applied tasks", "tasks", len(m.AppliedTasks))
	outcome := e.runDoctorValidator(ctx, b, validation.DoctorRequest{
		Trigger:      TriggerDoctorCanaryFailed,
		TriggerNotes: fmt.Sprintf("integration doctor passed with %s=1 set", m.CanaryResult.EnvVar),
	})
	e.fanOutDoctor(b, m.AppliedTasks, outcome, true)
	e.persist(b, "canary_recheck")
}

// finalizeTasks escalates the merged tasks of a failed integration, or
// completes the applied tasks of a successful one
func (e *Engine) finalizeTasks(b *batchRun) {
	m := b.merge
	switch {
	case b.stopReason == domain.StopIntegrationDoctorFailed && m.IntegrationDoctorFailureDetail != "":
		for _, id := range m.MergedTasks {
			e.escalate(b, id, domain.HumanReview{
				Validator: "integration_doctor",
				Reason:    "integration doctor failed",
				Summary:   m.IntegrationDoctorFailureDetail,
			})
		}
	case b.stopReason == domain.StopNone && doctorPassed(m) && m.MergeApplied && len(m.AppliedTasks) > 0:
		for _, id := range m.AppliedTasks {
			if e.state.Task(id).Status != domain.StatusValidated {
				continue
			}
			e.transition(b, id, "complete", e.state.MarkComplete(id, b.containers[id]))
		}
	default:
		return
	}
	e.persist(b, "finalize")
}

// recheckFailedIntegration records a failed doctor validator result on every
// task that was part of a failed integration. The tasks are already escalated;
// only the validator results change.
func (e *Engine) recheckFailedIntegration(ctx context.Context, b *batchRun) {
	m := b.merge
	if m.IntegrationDoctorPassed == nil || *m.IntegrationDoctorPassed || len(m.MergedTasks) == 0 {
		return
	}
	if b.stopReason != domain.StopIntegrationDoctorFailed || !e.Validation.DoctorEnabled() {
		return
	}

	outcome := e.runDoctorValidator(ctx, b, validation.DoctorRequest{
		Trigger:                 TriggerIntegrationDoctorFailed,
		TriggerNotes:            fmt.Sprintf("integration of %d tasks failed", len(m.MergedTasks)),
		IntegrationDoctorOutput: m.IntegrationDoctorFailureDetail,
	})
	e.fanOutDoctor(b, m.MergedTasks, outcome, false)
	e.persist(b, "integration_recheck")
}

func doctorPassed(m MergeOutcome) bool {
	return m.IntegrationDoctorPassed != nil && *m.IntegrationDoctorPassed
}
