package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier shows run summaries through the OS notification center
// (osascript on macOS, notify-send on Linux). Other platforms are skipped.
type DesktopNotifier struct {
	enabled bool
	goos    string
	run     func(name string, args ...string) error
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{
		enabled: enabled,
		goos:    runtime.GOOS,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send shows the notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	name, args, ok := desktopCommand(d.goos, n)
	if !ok {
		return nil
	}
	if err := d.run(name, args...); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// desktopCommand returns the command line for goos
func desktopCommand(goos string, n Notification) (string, []string, bool) {
	body := desktopBody(n)
	switch goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s",
			appleScriptString(body), appleScriptString(n.Title))
		return "osascript", []string{"-e", script}, true
	case "linux":
		return "notify-send", []string{"-a", "oa-pipeline", "-i", IconForType(n.Type), n.Title, body}, true
	default:
		return "", nil, false
	}
}

// desktopBody is a one-line count summary, falling back to the message
func desktopBody(n Notification) string {
	s := n.Summary
	if s == nil {
		return n.Message
	}
	body := fmt.Sprintf("✓ %d  ✗ %d  (%s processed)", s.Succeeded, s.Failed, s.Progress())
	if len(s.Failures) > 0 {
		body += fmt.Sprintf(", first failure %s", s.Failures[0].ItemID)
	}
	return body
}

// appleScriptString quotes s as an AppleScript string literal
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// IconForType returns a freedesktop icon name for the notification type
func IconForType(t NotificationType) string {
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
