package doctor

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
)

// MaxOutput is how much trailing output is kept in summaries and failure details
const MaxOutput = 2000

// ErrNotConfigured is returned by Run when no doctor command is set. An
// integration is never reported healthy without a check having run.
var ErrNotConfigured = errors.New("doctor command not configured")

// CommandRunner executes shell commands without failing on non-zero exits
type CommandRunner interface {
	Run(ctx context.Context, dir, command string, timeout time.Duration, env map[string]string) (domain.CommandResult, error)
}

// Doctor runs the configured health-check command and its canary
type Doctor struct {
	runner  CommandRunner
	command string
	timeout time.Duration
	canary  config.CanaryConfig
}

// New creates a Doctor from config
func New(runner CommandRunner, cfg config.DoctorConfig) *Doctor {
	return &Doctor{
		runner:  runner,
		command: cfg.Command,
		timeout: cfg.Timeout(),
		canary:  cfg.Canary,
	}
}

// Configured reports whether a doctor command is set
func (d *Doctor) Configured() bool {
	return d.command != ""
}

// Command returns the configured doctor command
func (d *Doctor) Command() string {
	return d.command
}

// WarnOnUnexpectedPass reports the configured severity of an unexpected canary pass
func (d *Doctor) WarnOnUnexpectedPass() bool {
	return d.canary.WarnOnUnexpectedPass
}

// Run executes the doctor command in dir. Without a command it returns
// ErrNotConfigured.
func (d *Doctor) Run(ctx context.Context, dir string) (domain.CommandResult, error) {
	if !d.Configured() {
		return domain.CommandResult{}, ErrNotConfigured
	}
	return d.runner.Run(ctx, dir, d.command, d.timeout, nil)
}

// Canary re-runs the doctor with the canary variable set. The doctor is
// expected to fail; a pass means it does not detect injected failures.
func (d *Doctor) Canary(ctx context.Context, dir string) domain.CanaryResult {
	if !d.canary.Enabled() {
		return domain.SkippedCanary("canary disabled")
	}
	if !d.Configured() {
		return domain.SkippedCanary("doctor command not configured")
	}

	res, err := d.runner.Run(ctx, dir, d.command, d.timeout, map[string]string{d.canary.EnvVar: "1"})
	if err != nil {
		return domain.SkippedCanary(fmt.Sprintf("canary could not run: %v", err))
	}

	out := domain.CanaryResult{
		ExitCode: res.ExitCode,
		Output:   Truncate(res.Output(), MaxOutput),
		EnvVar:   d.canary.EnvVar,
	}
	if res.Passed() {
		out.Status = domain.CanaryUnexpectedPass
	} else {
		out.Status = domain.CanaryExpectedFail
	}
	return out
}

// Truncate keeps at most the last max bytes of s, which is where test
// failures end up. The cut never splits a UTF-8 sequence.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "...(truncated)\n" + s[cut:]
}

// FailureDetail summarises a failed doctor run
func FailureDetail(res domain.CommandResult) string {
	return fmt.Sprintf("exit code %d\n%s", res.ExitCode, Truncate(res.Output(), MaxOutput))
}
