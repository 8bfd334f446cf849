package domain

import (
	"fmt"
	"strings"
	"time"
)

// Lead is a campaign recipient. Attributes hold the merge fields available to
// template rendering ({{first_name}}, {{company}}, ...).
type Lead struct {
	ID         string
	Email      string
	Attributes map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (l *Lead) Validate() error {
	email := strings.TrimSpace(l.Email)
	if email == "" {
		return fmt.Errorf("%w: lead email is required", ErrValidation)
	}
	if !strings.Contains(email, "@") {
		return fmt.Errorf("%w: invalid lead email %q", ErrValidation, l.Email)
	}
	return nil
}

// NormalizedEmail lowercases and trims the address for suppression lookups.
func (l *Lead) NormalizedEmail() string {
	return NormalizeEmail(l.Email)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
