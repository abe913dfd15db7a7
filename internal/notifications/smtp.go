package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/platform/config"
)

// Email is a rendered message ready for delivery.
type Email struct {
	To            string
	Subject       string
	Body          string
	CorrelationID string
}

// Sender delivers rendered email.
type Sender interface {
	Deliver(ctx context.Context, email Email) error
}

// ErrInvalidAddress marks recipients that can never be delivered to.
var ErrInvalidAddress = errors.New("notifications: invalid email address")

// SMTPSender delivers mail with go-mail.
type SMTPSender struct {
	cfg    config.SMTPConfig
	dialer func(ctx context.Context, msg *mail.Msg) error
}

// NewSMTPSender builds a sender from cfg. TLS follows the port: 465 is implicit TLS, 587 requires
// STARTTLS and anything else upgrades opportunistically.
func NewSMTPSender(cfg config.SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, errors.New("smtp sender: host and from address are required")
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(30 * time.Second),
	}
	switch cfg.Port {
	case 465:
		opts = append(opts, mail.WithSSL())
	case 587:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp sender: create client: %w", err)
	}
	return &SMTPSender{
		cfg: cfg,
		dialer: func(ctx context.Context, msg *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
	}, nil
}

func (s *SMTPSender) Deliver(ctx context.Context, email Email) error {
	msg, err := buildMessage(s.cfg.From, email)
	if err != nil {
		return err
	}
	if err := s.dialer(ctx, msg); err != nil {
		return fmt.Errorf("smtp sender: send to %s: %w", email.To, err)
	}
	return nil
}

func buildMessage(from string, email Email) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("%w: from %q: %v", ErrInvalidAddress, from, err)
	}
	if err := msg.To(email.To); err != nil {
		return nil, fmt.Errorf("%w: to %q: %v", ErrInvalidAddress, email.To, err)
	}
	msg.Subject(email.Subject)
	msg.SetBodyString(mail.TypeTextPlain, email.Body)
	if email.CorrelationID != "" {
		msg.SetGenHeader(mail.Header("X-Correlation-ID"), email.CorrelationID)
	}
	return msg, nil
}

// LogSender writes messages to the log instead of sending them. Used for local runs.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Deliver(_ context.Context, email Email) error {
	s.logger.Info("notification delivered to log",
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
		zap.String("correlationId", email.CorrelationID),
		zap.Int("bodyBytes", len(email.Body)),
	)
	return nil
}
