package sender

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// SMTPSender delivers email directly over SMTP.
type SMTPSender struct {
	dialer *gomail.Dialer
	host   string
}

func NewSMTPSender(host string, port int, username, password string) (*SMTPSender, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if port <= 0 {
		return nil, fmt.Errorf("smtp port is required")
	}

	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		host:   host,
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) (*Response, error) {
	if s == nil || s.dialer == nil {
		return nil, fmt.Errorf("sender is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.host)

	m := gomail.NewMessage()
	if msg.FromName != "" {
		m.SetAddressHeader("From", msg.From, msg.FromName)
	} else {
		m.SetHeader("From", msg.From)
	}
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HTMLBody)
	case msg.HTMLBody != "":
		m.SetBody("text/html", msg.HTMLBody)
	default:
		m.SetBody("text/plain", msg.TextBody)
	}

	if err := s.dialer.DialAndSend(m); err != nil {
		return nil, &SendError{
			Message:   "smtp delivery failed",
			Transient: isTransientSMTPError(err),
			Cause:     err,
		}
	}

	return &Response{MessageID: messageID}, nil
}

// isTransientSMTPError inspects the SMTP reply code embedded in the error
// text. 4xx replies are transient by definition; 5xx are permanent. Dial
// and TLS failures carry no code and are treated as transient.
func isTransientSMTPError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	text := err.Error()
	for i := 0; i+3 <= len(text); i++ {
		if (text[i] == '4' || text[i] == '5') && isDigit(text[i+1]) && isDigit(text[i+2]) {
			if i+3 == len(text) || text[i+3] == ' ' || text[i+3] == '-' {
				return text[i] == '4'
			}
		}
	}

	return true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
