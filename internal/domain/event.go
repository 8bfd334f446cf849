package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventType enumerates engagement event kinds.
type EventType string

const (
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventReplied      EventType = "replied"
	EventBounced      EventType = "bounced"
	EventUnsubscribed EventType = "unsubscribed"
)

func (t EventType) String() string { return string(t) }

func (t EventType) IsValid() bool {
	switch t {
	case EventSent, EventDelivered, EventOpened, EventClicked,
		EventReplied, EventBounced, EventUnsubscribed:
		return true
	}
	return false
}

func ParseEventType(s string) (EventType, error) {
	et := EventType(strings.ToLower(strings.TrimSpace(s)))
	if !et.IsValid() {
		return "", fmt.Errorf("%w: invalid event type %q", ErrValidation, s)
	}
	return et, nil
}

// BounceClass distinguishes permanent from transient bounces.
type BounceClass string

const (
	BouncePermanent BounceClass = "permanent"
	BounceTransient BounceClass = "transient"
)

func (b BounceClass) IsValid() bool {
	return b == BouncePermanent || b == BounceTransient
}

func ParseBounceClass(s string) (BounceClass, error) {
	bc := BounceClass(strings.ToLower(strings.TrimSpace(s)))
	if !bc.IsValid() {
		return "", fmt.Errorf("%w: invalid bounce class %q", ErrValidation, s)
	}
	return bc, nil
}

// EventMetadata carries optional event detail (clicked URL, user agent,
// bounce class). Persisted as jsonb.
type EventMetadata struct {
	URL         string      `json:"url,omitempty"`
	UserAgent   string      `json:"user_agent,omitempty"`
	IPAddress   string      `json:"ip_address,omitempty"`
	MessageID   string      `json:"message_id,omitempty"`
	BounceClass BounceClass `json:"bounce_class,omitempty"`
}

// EngagementEvent is an immutable record of recipient engagement. The event
// log is the source of truth for condition evaluation and analytics.
type EngagementEvent struct {
	ID           string
	CampaignID   string
	LeadID       string
	EnrollmentID string
	StepID       string
	Type         EventType
	Metadata     EventMetadata
	CreatedAt    time.Time
}

func (e *EngagementEvent) Validate() error {
	if strings.TrimSpace(e.CampaignID) == "" {
		return fmt.Errorf("%w: event campaign id is required", ErrValidation)
	}
	if strings.TrimSpace(e.LeadID) == "" {
		return fmt.Errorf("%w: event lead id is required", ErrValidation)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("%w: invalid event type %q", ErrValidation, e.Type)
	}
	return nil
}
