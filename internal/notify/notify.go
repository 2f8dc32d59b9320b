// Package notify provides desktop notification support.
package notify

import (
	"fmt"
	"os/exec"
	"strings"
)

// Send posts a desktop notification, via osascript on macOS or notify-send
// where that exists. Hosts with neither get an error the caller can log and
// move past; approval flow never depends on the notification landing.
func Send(title, message string) error {
	if _, err := exec.LookPath("osascript"); err == nil {
		return sendOsascript(title, message)
	}
	if _, err := exec.LookPath("notify-send"); err == nil {
		return sendNotifySend(title, message)
	}
	return fmt.Errorf("no notification command available (tried osascript, notify-send)")
}

func sendOsascript(title, message string) error {
	title = escapeAppleScript(title)
	message = escapeAppleScript(message)

	script := fmt.Sprintf(
		`display notification %q with title %q sound name "default"`,
		message, title,
	)

	cmd := exec.Command("osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func sendNotifySend(title, message string) error {
	cmd := exec.Command("notify-send", "--app-name=warden", title, message)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify-send: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
