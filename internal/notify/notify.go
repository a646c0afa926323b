// Package notify delivers out-of-band messages such as abort alerts.
// Delivery is best effort: callers log failures and carry on.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Notifier sends a message with a subject and a plain-text body.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, subject, body string) error {
	n.logger.Warn("Notification", zap.String("subject", subject), zap.String("body", body))
	return nil
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, subject, body string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }
