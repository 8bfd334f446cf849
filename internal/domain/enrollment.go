package domain

import (
	"fmt"
	"strings"
	"time"
)

// EnrollmentStatus represents the per-lead progress through a campaign
// sequence. The six statuses after in_progress are terminal.
type EnrollmentStatus string

const (
	EnrollmentStatusPending      EnrollmentStatus = "pending"
	EnrollmentStatusScheduled    EnrollmentStatus = "scheduled"
	EnrollmentStatusInProgress   EnrollmentStatus = "in_progress"
	EnrollmentStatusCompleted    EnrollmentStatus = "completed"
	EnrollmentStatusReplied      EnrollmentStatus = "replied"
	EnrollmentStatusUnsubscribed EnrollmentStatus = "unsubscribed"
	EnrollmentStatusBounced      EnrollmentStatus = "bounced"
	EnrollmentStatusFailed       EnrollmentStatus = "failed"
	EnrollmentStatusCancelled    EnrollmentStatus = "cancelled"
)

func (s EnrollmentStatus) String() string { return string(s) }

func (s EnrollmentStatus) IsValid() bool {
	switch s {
	case EnrollmentStatusPending, EnrollmentStatusScheduled, EnrollmentStatusInProgress,
		EnrollmentStatusCompleted, EnrollmentStatusReplied, EnrollmentStatusUnsubscribed,
		EnrollmentStatusBounced, EnrollmentStatusFailed, EnrollmentStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s EnrollmentStatus) IsTerminal() bool {
	switch s {
	case EnrollmentStatusCompleted, EnrollmentStatusReplied, EnrollmentStatusUnsubscribed,
		EnrollmentStatusBounced, EnrollmentStatusFailed, EnrollmentStatusCancelled:
		return true
	}
	return false
}

func ParseEnrollmentStatus(s string) (EnrollmentStatus, error) {
	st := EnrollmentStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid enrollment status %q", ErrValidation, s)
	}
	return st, nil
}

// CanTransition is the single source of truth for enrollment status legality.
// pending -> scheduled -> in_progress cycle until a terminal status is reached;
// any non-terminal status may move straight to a terminal one (stop paths).
func (s EnrollmentStatus) CanTransition(to EnrollmentStatus) bool {
	if !s.IsValid() || !to.IsValid() || s.IsTerminal() {
		return false
	}
	if to.IsTerminal() {
		return true
	}
	switch s {
	case EnrollmentStatusPending:
		return to == EnrollmentStatusScheduled
	case EnrollmentStatusScheduled:
		return to == EnrollmentStatusInProgress
	case EnrollmentStatusInProgress:
		// Advancement schedules the next step for the same enrollment.
		return to == EnrollmentStatusScheduled
	}
	return false
}

// StopReason records why an enrollment stopped before exhausting its sequence.
type StopReason string

const (
	StopReasonReply       StopReason = "reply"
	StopReasonUnsubscribe StopReason = "unsubscribe"
	StopReasonBounce      StopReason = "bounce"
	StopReasonMaxEmails   StopReason = "max_emails"
	StopReasonMaxRetries  StopReason = "max_retries"
	StopReasonManual      StopReason = "manual"
)

func (r StopReason) String() string { return string(r) }

func (r StopReason) IsValid() bool {
	switch r {
	case StopReasonReply, StopReasonUnsubscribe, StopReasonBounce,
		StopReasonMaxEmails, StopReasonMaxRetries, StopReasonManual:
		return true
	}
	return false
}

// LeadEnrollment tracks one lead's progress through one campaign sequence.
// CurrentSequence is the sequence number of the last step consumed, whether
// sent or skipped by its condition; zero means nothing has been consumed yet.
// It only ever increases.
type LeadEnrollment struct {
	ID              string
	CampaignID      string
	LeadID          string
	Status          EnrollmentStatus
	CurrentSequence int
	StoppedReason   *StopReason
	ScheduledAt     *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (e *LeadEnrollment) Validate() error {
	if strings.TrimSpace(e.CampaignID) == "" {
		return fmt.Errorf("%w: enrollment campaign id is required", ErrValidation)
	}
	if strings.TrimSpace(e.LeadID) == "" {
		return fmt.Errorf("%w: enrollment lead id is required", ErrValidation)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid enrollment status %q", ErrValidation, e.Status)
	}
	if e.CurrentSequence < 0 {
		return fmt.Errorf("%w: current sequence must be >= 0", ErrValidation)
	}
	if e.StoppedReason != nil && !e.StoppedReason.IsValid() {
		return fmt.Errorf("%w: invalid stop reason %q", ErrValidation, *e.StoppedReason)
	}
	return nil
}

// IsTerminal reports whether the enrollment can no longer produce sends.
func (e *LeadEnrollment) IsTerminal() bool {
	return e.Status.IsTerminal()
}
