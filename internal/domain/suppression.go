package domain

import (
	"fmt"
	"strings"
	"time"
)

// SuppressionType enumerates why an address was suppressed.
type SuppressionType string

const (
	SuppressionTypeBounce      SuppressionType = "bounce"
	SuppressionTypeUnsubscribe SuppressionType = "unsubscribe"
	SuppressionTypeManual      SuppressionType = "manual"
)

func (t SuppressionType) String() string { return string(t) }

func (t SuppressionType) IsValid() bool {
	switch t {
	case SuppressionTypeBounce, SuppressionTypeUnsubscribe, SuppressionTypeManual:
		return true
	}
	return false
}

func ParseSuppressionType(s string) (SuppressionType, error) {
	st := SuppressionType(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid suppression type %q", ErrValidation, s)
	}
	return st, nil
}

// SuppressionEntry is a workspace-wide, insert-only block on an address.
// Once present, the address is ineligible for any future send in any campaign.
type SuppressionEntry struct {
	ID        string
	Email     string
	Type      SuppressionType
	Reason    string
	CreatedAt time.Time
}

func (s *SuppressionEntry) Validate() error {
	if NormalizeEmail(s.Email) == "" {
		return fmt.Errorf("%w: suppression email is required", ErrValidation)
	}
	if !s.Type.IsValid() {
		return fmt.Errorf("%w: invalid suppression type %q", ErrValidation, s.Type)
	}
	return nil
}
