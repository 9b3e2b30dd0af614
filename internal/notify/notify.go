// Package notify dispatches outbound email notifications.
package notify

import (
	"context"
	"log/slog"
	"slices"
	"time"
)

const (
	TemplateLoginConfirmation = "login_confirmation"
	TemplateSecurityAlert     = "security_alert"
	TemplateSessionEvicted    = "session_evicted"
)

// Dispatcher sends a templated message to a recipient
type Dispatcher interface {
	Send(ctx context.Context, to, templateID string, vars map[string]string) error
}

// EmailJob is the message handed to the mail worker
type EmailJob struct {
	To        string            `json:"to"`
	Template  string            `json:"template"`
	Variables map[string]string `json:"variables"`
	QueuedAt  time.Time         `json:"queued_at"`
}

// LogDispatcher logs messages instead of sending them. Variable values may
// carry confirmation links, so only their keys are logged.
type LogDispatcher struct{}

func (LogDispatcher) Send(_ context.Context, to, templateID string, vars map[string]string) error {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	slog.Info("Email notification (log only)", "to", to, "template", templateID, "variables", keys)
	return nil
}
