package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// urgency is the freedesktop notification urgency hint.
type urgency byte

const (
	urgencyLow      urgency = 0
	urgencyNormal   urgency = 1
	urgencyCritical urgency = 2
)

// notification is one org.freedesktop.Notifications.Notify call. A non-zero
// ReplaceID updates the bubble in place instead of stacking a new one.
type notification struct {
	AppName   string
	ReplaceID uint32
	Summary   string
	Urgency   urgency
	TimeoutMS int
}

// args renders the busctl argument list for signature susssasa{sv}i.
func (n notification) args() []string {
	return []string{
		n.AppName,
		strconv.FormatUint(uint64(n.ReplaceID), 10),
		"", // icon
		n.Summary,
		"",  // body
		"0", // actions
		"1", "urgency", "y", strconv.Itoa(int(n.Urgency)),
		strconv.Itoa(n.TimeoutMS),
	}
}

// desktopNotify sends n and returns the ID the notification server assigned.
func desktopNotify(ctx context.Context, n notification) (uint32, error) {
	out, err := callNotifications(ctx, "Notify", "susssasa{sv}i", n.args()...)
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify invalid response: %q", out)
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify parse id %q: %w", fields[1], err)
	}
	return uint32(id), nil
}

// desktopDismiss closes a notification by ID.
func desktopDismiss(ctx context.Context, id uint32) error {
	_, err := callNotifications(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10))
	return err
}

// callNotifications invokes one method on the session bus notification
// service through busctl and returns its trimmed reply.
func callNotifications(ctx context.Context, method, signature string, args ...string) (string, error) {
	argv := append([]string{
		"--user",
		"call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
		method,
		signature,
	}, args...)

	out, err := exec.CommandContext(ctx, "busctl", argv...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed == "" {
			return "", fmt.Errorf("%s failed: %w", method, err)
		}
		return "", fmt.Errorf("%s failed: %w (%s)", method, err, trimmed)
	}
	return trimmed, nil
}
