package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/crescent-api/pkg/config"
)

// ErrNoRecipients is returned for messages without a To address.
var ErrNoRecipients = errors.New("message has no recipients")

// Message is a plain outbound email.
type Message struct {
	To       []mail.Address
	Subject  string
	TextBody string
	HTMLBody string
}

// Validate checks the message can be delivered.
func (m Message) Validate() error {
	if len(m.To) == 0 {
		return ErrNoRecipients
	}
	if strings.TrimSpace(m.TextBody) == "" && strings.TrimSpace(m.HTMLBody) == "" {
		return errors.New("message has no content")
	}
	return nil
}

// Mailer delivers messages synchronously; callers decide whether to run it in
// the background.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New returns the mailer selected by cfg.Provider.
func New(cfg config.MailConfig, logger *zap.Logger) (Mailer, error) {
	from := mail.Address{Name: cfg.FromName, Address: cfg.FromAddress}
	switch cfg.Provider {
	case config.MailSendgrid:
		return NewSendgrid(cfg.SendgridAPIKey, from, cfg.SubjectPrefix, logger), nil
	case config.MailConsole, "":
		return NewConsole(from, cfg.SubjectPrefix, logger), nil
	default:
		return nil, fmt.Errorf("unsupported mail provider %q", cfg.Provider)
	}
}
