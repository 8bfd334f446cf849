package sender

import (
	"context"
	"fmt"
	"strings"

	"github.com/outboundlab/sequencer/internal/domain"
)

// Message is a fully rendered email ready for delivery.
type Message struct {
	To       string
	From     string
	FromName string
	Subject  string
	HTMLBody string
	TextBody string
}

func (m Message) Validate() error {
	if strings.TrimSpace(m.To) == "" {
		return fmt.Errorf("%w: recipient is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.From) == "" {
		return fmt.Errorf("%w: from address is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.HTMLBody) == "" && strings.TrimSpace(m.TextBody) == "" {
		return fmt.Errorf("%w: message body is required", domain.ErrValidation)
	}
	return nil
}

// Response stores delivery call metadata for audit and persistence.
type Response struct {
	StatusCode int
	Body       string
	MessageID  string
}

// Sender is the outbound email delivery port.
type Sender interface {
	Send(ctx context.Context, msg Message) (*Response, error)
}
