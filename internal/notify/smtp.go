package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/LiboWorks/screenflow/internal/config"
)

// Sender delivers composed messages. *mail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// SMTPNotifier sends notifications as plain-text e-mail.
type SMTPNotifier struct {
	cfg    config.SMTPConfig
	sender Sender
	logger *zap.Logger
}

// NewSMTPNotifier builds a notifier with a go-mail client for cfg.
func NewSMTPNotifier(cfg config.SMTPConfig, logger *zap.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, errors.New("smtp from and to addresses are required")
	}

	opts := []mail.Option{mail.WithPort(cfg.Port), mail.WithTLSPortPolicy(mail.TLSOpportunistic)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return NewSMTPNotifierWithSender(cfg, client, logger), nil
}

// NewSMTPNotifierWithSender uses sender instead of dialing a server.
func NewSMTPNotifierWithSender(cfg config.SMTPConfig, sender Sender, logger *zap.Logger) *SMTPNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPNotifier{cfg: cfg, sender: sender, logger: logger.Named("smtp")}
}

// Message composes the e-mail for a notification.
func (n *SMTPNotifier) Message(subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(n.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid from address %q: %w", n.cfg.From, err)
	}
	if err := msg.To(n.cfg.To...); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

// Notify implements Notifier.
func (n *SMTPNotifier) Notify(ctx context.Context, subject, body string) error {
	msg, err := n.Message(subject, body)
	if err != nil {
		return err
	}
	if err := n.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send notification %q: %w", subject, err)
	}
	n.logger.Info("Notification sent", zap.String("subject", subject), zap.Strings("to", n.cfg.To))
	return nil
}
