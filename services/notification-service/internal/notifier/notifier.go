package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

// ErrRecipient is returned for an address that can never be delivered to.
var ErrRecipient = errors.New("invalid recipient")

// Notifier delivers one HTML message to a recipient.
type Notifier interface {
	Notify(ctx context.Context, to, subject, body string) error
}

// ConsoleNotifier logs messages instead of sending them.
type ConsoleNotifier struct {
	log *logrus.Logger
}

func NewConsole(log *logrus.Logger) *ConsoleNotifier {
	return &ConsoleNotifier{log: log}
}

func (c *ConsoleNotifier) Notify(_ context.Context, to, subject, body string) error {
	c.log.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("[notify] " + compact(body))
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      mail.TLSPolicy
}

// ParseTLSPolicy maps SMTP_TLS values onto go-mail policies.
func ParseTLSPolicy(s string) (mail.TLSPolicy, error) {
	switch strings.ToLower(s) {
	case "", "mandatory":
		return mail.TLSMandatory, nil
	case "opportunistic":
		return mail.TLSOpportunistic, nil
	case "none":
		return mail.NoTLS, nil
	}
	return 0, fmt.Errorf("unknown smtp tls policy %q", s)
}

// SMTPNotifier sends HTML mail through an SMTP relay.
type SMTPNotifier struct {
	from string
	send func(ctx context.Context, msgs ...*mail.Msg) error
}

func NewSMTP(cfg SMTPConfig) (*SMTPNotifier, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(cfg.TLS),
		mail.WithTimeout(15 * time.Second),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &SMTPNotifier{from: cfg.From, send: client.DialAndSendWithContext}, nil
}

func (s *SMTPNotifier) Notify(ctx context.Context, to, subject, body string) error {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("smtp sender %q: %w", s.from, err)
	}
	if err := m.To(to); err != nil {
		return fmt.Errorf("%w %q: %v", ErrRecipient, to, err)
	}
	m.Subject(subject)
	m.SetMessageID()
	m.SetDate()
	m.SetBodyString(mail.TypeTextHTML, body)
	if err := s.send(ctx, m); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

func compact(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
