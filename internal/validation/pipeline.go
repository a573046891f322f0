// Package validation runs the per-task command validators and the doctor
// validator
package validation

import (
	"context"
	"fmt"
	"time"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/doctor"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/logging"
)

// summaryLimit bounds the output stored in a validator result
const summaryLimit = 500

// Doctor is the health check the doctor validator re-runs
type Doctor interface {
	Configured() bool
	Run(ctx context.Context, dir string) (domain.CommandResult, error)
	Canary(ctx context.Context, dir string) domain.CanaryResult
}

// DoctorRequest describes why the doctor validator runs
type DoctorRequest struct {
	Trigger      string // "cadence", "doctor_canary_failed", "integration_doctor_failed"
	TriggerNotes string
	// IntegrationDoctorOutput carries the failed integration run's output.
	// When set the verdict is taken from it instead of re-running the doctor.
	IntegrationDoctorOutput string
}

// Pipeline runs validators
type Pipeline struct {
	config   config.ValidatorsConfig
	runner   doctor.CommandRunner
	doctor   Doctor
	repoPath string
	logger   *logging.Logger
}

// NewPipeline creates a Pipeline. The doctor validator runs in repoPath.
func NewPipeline(cfg config.ValidatorsConfig, runner doctor.CommandRunner, d Doctor, repoPath string, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Pipeline{config: cfg, runner: runner, doctor: d, repoPath: repoPath, logger: logger}
}

// DoctorEnabled reports whether the doctor validator is switched on
func (p *Pipeline) DoctorEnabled() bool {
	return p.config.Doctor.Enabled
}

// RunForTask runs every command validator in the task workspace
func (p *Pipeline) RunForTask(ctx context.Context, taskID domain.TaskID, workspace string) domain.ValidationOutcome {
	var out domain.ValidationOutcome
	for _, v := range p.config.Commands {
		res := domain.ValidatorResult{Validator: v.Name, CheckedAt: time.Now().UTC()}

		cmdRes, err := p.runner.Run(ctx, workspace, v.Command, time.Duration(v.TimeoutSeconds)*time.Second, nil)
		switch {
		case err != nil:
			res.Status = domain.ValidatorError
			res.Summary = err.Error()
		case cmdRes.Passed():
			res.Status = domain.ValidatorPass
		default:
			res.Status = domain.ValidatorFail
			res.Summary = fmt.Sprintf("exit code %d\n%s", cmdRes.ExitCode, doctor.Truncate(cmdRes.Output(), summaryLimit))
		}

		p.logger.Debug("validator finished", "task_id", taskID.String(), "validator", v.Name, "status", res.Status)
		out.Results = append(out.Results, res)
		if res.Status != domain.ValidatorPass && v.Mode == "block" {
			out.Blocked = append(out.Blocked, domain.ValidatorBlock{
				Validator: v.Name,
				Reason:    fmt.Sprintf("validator %s %s", v.Name, res.Status),
			})
		}
	}
	return out
}

// RunDoctorValidation runs the doctor validator once. The outcome applies to
// the integration as a whole; callers fan it out to the affected tasks.
func (p *Pipeline) RunDoctorValidation(ctx context.Context, req DoctorRequest) domain.ValidationOutcome {
	var out domain.ValidationOutcome
	if !p.config.Doctor.Enabled {
		return out
	}

	res := domain.ValidatorResult{
		Validator: domain.ValidatorDoctor,
		Trigger:   req.Trigger,
		CheckedAt: time.Now().UTC(),
	}

	switch {
	case req.IntegrationDoctorOutput != "":
		res.Status = domain.ValidatorFail
		res.Summary = "integration doctor failed: " + doctor.Truncate(req.IntegrationDoctorOutput, summaryLimit)
	case p.doctor == nil || !p.doctor.Configured():
		res.Status = domain.ValidatorSkipped
		res.Summary = "doctor command not configured"
	default:
		res.Status, res.Summary = p.checkDoctor(ctx)
	}
	if req.TriggerNotes != "" {
		res.Summary = req.TriggerNotes + "; " + res.Summary
	}

	p.logger.Info("doctor validator finished", "trigger", req.Trigger, "status", res.Status)
	out.Results = append(out.Results, res)
	if (res.Status == domain.ValidatorFail || res.Status == domain.ValidatorError) && p.config.Doctor.Mode == "block" {
		out.Blocked = append(out.Blocked, domain.ValidatorBlock{
			Validator: domain.ValidatorDoctor,
			Trigger:   req.Trigger,
			Reason:    res.Summary,
		})
	}
	return out
}

func (p *Pipeline) checkDoctor(ctx context.Context) (domain.ValidatorStatus, string) {
	cmdRes, err := p.doctor.Run(ctx, p.repoPath)
	if err != nil {
		return domain.ValidatorError, err.Error()
	}
	if !cmdRes.Passed() {
		return domain.ValidatorFail, doctor.Truncate(doctor.FailureDetail(cmdRes), summaryLimit)
	}

	canary := p.doctor.Canary(ctx, p.repoPath)
	if canary.Status == domain.CanaryUnexpectedPass {
		return domain.ValidatorFail, fmt.Sprintf("doctor passed with %s=1 set; it does not detect injected failures", canary.EnvVar)
	}
	if canary.Status == domain.CanarySkipped {
		return domain.ValidatorPass, "doctor passed (canary skipped: " + canary.Reason + ")"
	}
	return domain.ValidatorPass, "doctor passed"
}
