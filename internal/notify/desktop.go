package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier shows notifications through the platform notifier
// (osascript on macOS, notify-send on Linux). Other platforms are ignored.
type DesktopNotifier struct {
	goos string
	exec func(name string, args ...string) error
}

// NewDesktopNotifier creates a notifier for the current platform
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{
		goos: runtime.GOOS,
		exec: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send shows n on the desktop
func (d *DesktopNotifier) Send(n Notification) error {
	name, args, ok := desktopCommand(d.goos, n)
	if !ok {
		return nil
	}
	if err := d.exec(name, args...); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func desktopCommand(goos string, n Notification) (string, []string, bool) {
	title := n.Title
	if n.RunID != "" {
		title = fmt.Sprintf("%s (%s)", n.Title, n.RunID)
	}
	switch goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleScriptString(n.Message), appleScriptString(title))
		return "osascript", []string{"-e", script}, true
	case "linux":
		args := []string{"--app-name", slackFooter, "--icon", desktopIcon(n.Type)}
		if n.Type == NotifyError {
			args = append(args, "--urgency", "critical")
		}
		return "notify-send", append(args, title, n.Message), true
	}
	return "", nil, false
}

// appleScriptString quotes s as an AppleScript string literal
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func desktopIcon(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
