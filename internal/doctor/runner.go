// Package doctor runs the user's health-check command and its canary
package doctor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
)

// TimeoutExitCode is reported when a command is killed for exceeding its timeout
const TimeoutExitCode = 124

// killGrace is how long a killed process group gets to release its pipes
const killGrace = 3 * time.Second

// Runner executes shell commands and captures their output
type Runner struct {
	Shell string
}

// NewRunner creates a Runner using /bin/sh
func NewRunner() *Runner {
	return &Runner{Shell: "sh"}
}

// Run executes command with `sh -c` in dir. A non-zero exit, including a
// timeout, is reported in the result and never as an error; an error means the
// command could not be started at all. A zero timeout disables the limit.
func (r *Runner) Run(ctx context.Context, dir, command string, timeout time.Duration, env map[string]string) (domain.CommandResult, error) {
	var result domain.CommandResult

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(runCtx, shell, "-c", command)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), env)

	var stdout, stderr bytes.Buffer
	combined := &lockedBuffer{}
	cmd.Stdout = io.MultiWriter(&stdout, combined)
	cmd.Stderr = io.MultiWriter(&stderr, combined)

	// Own process group so a timeout kills the whole tree
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = killGrace

	if err := cmd.Start(); err != nil {
		return result, fmt.Errorf("starting %q: %w", command, err)
	}
	err := cmd.Wait()

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Combined = combined.String()

	if runCtx.Err() == context.DeadlineExceeded {
		note := fmt.Sprintf("\ncommand timed out after %s", timeout)
		result.TimedOut = true
		result.ExitCode = TimeoutExitCode
		result.Stderr += note
		result.Combined += note
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			if result.ExitCode < 0 {
				// killed by a signal
				result.ExitCode = 1
			}
			return result, nil
		}
		return result, fmt.Errorf("running %q: %w", command, err)
	}

	return result, nil
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(extra))
	env = append(env, base...)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// lockedBuffer collects stdout and stderr in the order they were written. The
// two pipes are copied by separate goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
