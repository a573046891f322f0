package doctor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/hochfrequenz/claude-batch-orchestrator/internal/config"
	"github.com/hochfrequenz/claude-batch-orchestrator/internal/domain"
)

func TestRunner_Run(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner()
	ctx := context.Background()

	tests := []struct {
		name     string
		command  string
		env      map[string]string
		wantExit int
		wantOut  string
	}{
		{"success", "echo hello", nil, 0, "hello"},
		{"non-zero exit", "echo broken >&2; exit 3", nil, 3, "broken"},
		{"env passed", `echo "flag=$ORCH_CANARY"`, map[string]string{"ORCH_CANARY": "1"}, 0, "flag=1"},
		{"runs in dir", "pwd", nil, 0, filepath.Base(dir)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Run(ctx, dir, tt.command, 0, tt.env)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.ExitCode != tt.wantExit {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tt.wantExit)
			}
			if !strings.Contains(res.Output(), tt.wantOut) {
				t.Errorf("Output() = %q, want it to contain %q", res.Output(), tt.wantOut)
			}
		})
	}
}

func TestRunner_Timeout(t *testing.T) {
	r := NewRunner()

	start := time.Now()
	res, err := r.Run(context.Background(), t.TempDir(), "sleep 10", 200*time.Millisecond, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut || res.ExitCode != TimeoutExitCode {
		t.Errorf("result = %+v, want timed out", res)
	}
	if res.Passed() {
		t.Error("timed out command must not pass")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout did not kill the command promptly")
	}
}

func TestRunner_MissingDir(t *testing.T) {
	r := NewRunner()
	if _, err := r.Run(context.Background(), filepath.Join(t.TempDir(), "missing"), "true", 0, nil); err == nil {
		t.Error("expected start error for missing directory")
	}
}

// canaryScript fails only when the canary variable is set, like a doctor that
// honours the injected failure
const canaryScript = `if [ -n "$ORCH_CANARY" ]; then echo "canary tripped"; exit 1; fi; echo ok`

func newDoctor(command string, canary config.CanaryConfig) *Doctor {
	return New(NewRunner(), config.DoctorConfig{Command: command, TimeoutSeconds: 30, Canary: canary})
}

func TestDoctor_Canary(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	envCanary := config.CanaryConfig{Mode: "env", EnvVar: "ORCH_CANARY"}

	tests := []struct {
		name       string
		doctor     *Doctor
		wantStatus domain.CanaryStatus
		wantReason string
	}{
		{"expected fail", newDoctor(canaryScript, envCanary), domain.CanaryExpectedFail, ""},
		{"unexpected pass", newDoctor("true", envCanary), domain.CanaryUnexpectedPass, ""},
		{"disabled", newDoctor(canaryScript, config.CanaryConfig{Mode: "off"}), domain.CanarySkipped, "canary disabled"},
		{"no command", newDoctor("", envCanary), domain.CanarySkipped, "doctor command not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.doctor.Canary(ctx, dir)
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", got.Status, tt.wantStatus)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantReason)
			}
			if got.Status == domain.CanaryExpectedFail && got.EnvVar != "ORCH_CANARY" {
				t.Errorf("EnvVar = %q", got.EnvVar)
			}
		})
	}
}

func TestDoctor_Run(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	res, err := newDoctor("test -f marker", config.CanaryConfig{Mode: "off"}).Run(ctx, dir)
	if err != nil || !res.Passed() {
		t.Errorf("Run() = %+v, %v; want pass", res, err)
	}

	res, err = newDoctor("test -f nope", config.CanaryConfig{Mode: "off"}).Run(ctx, dir)
	if err != nil || res.Passed() {
		t.Errorf("Run() = %+v, %v; want failure", res, err)
	}

}

func TestDoctor_RunNotConfigured(t *testing.T) {
	d := New(NewRunner(), config.Default().Doctor)

	_, err := d.Run(context.Background(), t.TempDir())
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Run() error = %v, want ErrNotConfigured", err)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 50) + "TAIL"

	got := Truncate(long, 10)
	if !strings.HasSuffix(got, "aaaaaaTAIL") {
		t.Errorf("Truncate kept %q, want the tail", got)
	}
	if !strings.HasPrefix(got, "...(truncated)") {
		t.Errorf("Truncate(%q) missing marker", got)
	}
	if Truncate("short", 10) != "short" {
		t.Error("short strings must be unchanged")
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	// "ü" is two bytes; a 5 byte cut of "xüüü" lands inside the first one
	got := Truncate("xüüü", 5)
	if !utf8.ValidString(got) {
		t.Fatalf("Truncate produced invalid UTF-8: %q", got)
	}
	if !strings.HasSuffix(got, "üü") || strings.HasSuffix(got, "üüü") {
		t.Errorf("Truncate kept %q, want the last two runes", got)
	}
}

func TestRunner_CombinedOutputOrder(t *testing.T) {
	r := NewRunner()
	res, err := r.Run(context.Background(), t.TempDir(),
		"echo one; sleep 0.1; echo two >&2; sleep 0.1; echo three", 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Output(), "one\ntwo\nthree\n"; got != want {
		t.Errorf("Output() = %q, want %q", got, want)
	}
	if res.Stdout != "one\nthree\n" || res.Stderr != "two\n" {
		t.Errorf("Stdout = %q, Stderr = %q", res.Stdout, res.Stderr)
	}
}

func TestFailureDetail(t *testing.T) {
	detail := FailureDetail(domain.CommandResult{ExitCode: 2, Stdout: "FAIL: TestX"})
	if !strings.Contains(detail, "exit code 2") || !strings.Contains(detail, "FAIL: TestX") {
		t.Errorf("FailureDetail = %q", detail)
	}
}
