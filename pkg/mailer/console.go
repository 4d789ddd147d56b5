package mailer

import (
	"context"
	"net/mail"
	"sync"

	"go.uber.org/zap"
)

// Console writes messages to the log instead of delivering them and keeps a
// copy of everything it sent.
type Console struct {
	from       mail.Address
	subjPrefix string
	logger     *zap.Logger

	mu   sync.Mutex
	sent []Message
}

// NewConsole builds a console mailer.
func NewConsole(from mail.Address, subjPrefix string, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{from: from, subjPrefix: subjPrefix, logger: logger}
}

// Send logs msg.
func (c *Console) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.Subject = c.subjPrefix + msg.Subject

	to := make([]string, len(msg.To))
	for i, addr := range msg.To {
		to[i] = addr.String()
	}
	c.logger.Info("email",
		zap.String("from", c.from.String()),
		zap.Strings("to", to),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.TextBody),
	)

	c.mu.Lock()
	c.sent = append(c.sent, msg)
	c.mu.Unlock()
	return nil
}

// Sent returns a copy of the delivered messages.
func (c *Console) Sent() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.sent))
	copy(out, c.sent)
	return out
}
