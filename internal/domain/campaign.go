package domain

import (
	"fmt"
	"strings"
	"time"
)

// CampaignStatus represents the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusArchived  CampaignStatus = "archived"
)

func (s CampaignStatus) String() string { return string(s) }

func (s CampaignStatus) IsValid() bool {
	switch s {
	case CampaignStatusDraft, CampaignStatusActive, CampaignStatusPaused,
		CampaignStatusCompleted, CampaignStatusArchived:
		return true
	}
	return false
}

func ParseCampaignStatus(s string) (CampaignStatus, error) {
	st := CampaignStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid campaign status %q", ErrValidation, s)
	}
	return st, nil
}

// ConditionType gates whether a sequence step fires, evaluated against the
// engagement recorded for the previously sent step of the same enrollment.
type ConditionType string

const (
	ConditionAlways  ConditionType = "always"
	ConditionNoReply ConditionType = "no_reply"
	ConditionNoOpen  ConditionType = "no_open"
	ConditionOpened  ConditionType = "opened"
	ConditionClicked ConditionType = "clicked"
)

func (c ConditionType) String() string { return string(c) }

func (c ConditionType) IsValid() bool {
	switch c {
	case ConditionAlways, ConditionNoReply, ConditionNoOpen, ConditionOpened, ConditionClicked:
		return true
	}
	return false
}

func ParseConditionType(s string) (ConditionType, error) {
	ct := ConditionType(strings.ToLower(strings.TrimSpace(s)))
	if !ct.IsValid() {
		return "", fmt.Errorf("%w: invalid condition type %q", ErrValidation, s)
	}
	return ct, nil
}

// Campaign is a configured multi-step outreach definition. DailyLimit of zero
// means unlimited. Timezone names an IANA location used for the daily send
// window and step due-time arithmetic.
type Campaign struct {
	ID          string
	Name        string
	Status      CampaignStatus
	FromAddress string
	DailyLimit  int
	Timezone    string
	StopOnReply bool
	TrackOpens  bool
	TrackClicks bool
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: campaign name is required", ErrValidation)
	}
	if strings.TrimSpace(c.FromAddress) == "" {
		return fmt.Errorf("%w: campaign from address is required", ErrValidation)
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("%w: invalid campaign status %q", ErrValidation, c.Status)
	}
	if c.DailyLimit < 0 {
		return fmt.Errorf("%w: daily limit must be >= 0", ErrValidation)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: invalid timezone %q", ErrValidation, c.Timezone)
	}
	return nil
}

// Location resolves the campaign timezone, defaulting to UTC when unset.
func (c *Campaign) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// SequenceStep is one templated email in a campaign sequence. SequenceNumber
// starts at 1 and defines order; the first step always fires with zero delay.
type SequenceStep struct {
	ID              string
	CampaignID      string
	SequenceNumber  int
	SubjectTemplate string
	BodyTemplate    string
	DelayDays       int
	DelayHours      int
	Condition       ConditionType
	AIPersonalized  bool
	CreatedAt       time.Time
}

func (s *SequenceStep) Validate() error {
	if s.SequenceNumber < 1 {
		return fmt.Errorf("%w: sequence number must be >= 1", ErrValidation)
	}
	if strings.TrimSpace(s.SubjectTemplate) == "" {
		return fmt.Errorf("%w: subject template is required", ErrValidation)
	}
	if strings.TrimSpace(s.BodyTemplate) == "" {
		return fmt.Errorf("%w: body template is required", ErrValidation)
	}
	if s.DelayDays < 0 || s.DelayHours < 0 {
		return fmt.Errorf("%w: step delay must be >= 0", ErrValidation)
	}
	if !s.Condition.IsValid() {
		return fmt.Errorf("%w: invalid condition type %q", ErrValidation, s.Condition)
	}
	return nil
}

// Delay returns the wait between the previous send and this step firing.
func (s *SequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour + time.Duration(s.DelayHours)*time.Hour
}
