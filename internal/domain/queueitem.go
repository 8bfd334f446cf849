package domain

import (
	"fmt"
	"strings"
	"time"
)

// QueueItemStatus represents the lifecycle of one scheduled send.
type QueueItemStatus string

const (
	QueueItemStatusPending   QueueItemStatus = "pending"
	QueueItemStatusScheduled QueueItemStatus = "scheduled"
	QueueItemStatusSent      QueueItemStatus = "sent"
	QueueItemStatusFailed    QueueItemStatus = "failed"
	QueueItemStatusCancelled QueueItemStatus = "cancelled"
	QueueItemStatusPaused    QueueItemStatus = "paused"
)

func (s QueueItemStatus) String() string { return string(s) }

func (s QueueItemStatus) IsValid() bool {
	switch s {
	case QueueItemStatusPending, QueueItemStatusScheduled, QueueItemStatusSent,
		QueueItemStatusFailed, QueueItemStatusCancelled, QueueItemStatusPaused:
		return true
	}
	return false
}

// IsTerminal reports whether the item has been consumed for good.
func (s QueueItemStatus) IsTerminal() bool {
	switch s {
	case QueueItemStatusSent, QueueItemStatusFailed, QueueItemStatusCancelled:
		return true
	}
	return false
}

func ParseQueueItemStatus(s string) (QueueItemStatus, error) {
	st := QueueItemStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid queue item status %q", ErrValidation, s)
	}
	return st, nil
}

// ScheduleQueueItem is one unit of pending work: a single (enrollment, step)
// send due at ScheduledFor. An enrollment has at most one item in pending or
// scheduled status at any time.
type ScheduleQueueItem struct {
	ID           string
	EnrollmentID string
	CampaignID   string
	LeadID       string
	StepID       string
	ScheduledFor time.Time
	Status       QueueItemStatus
	Attempts     int
	LastError    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (q *ScheduleQueueItem) Validate() error {
	if strings.TrimSpace(q.EnrollmentID) == "" {
		return fmt.Errorf("%w: queue item enrollment id is required", ErrValidation)
	}
	if strings.TrimSpace(q.StepID) == "" {
		return fmt.Errorf("%w: queue item step id is required", ErrValidation)
	}
	if q.ScheduledFor.IsZero() {
		return fmt.Errorf("%w: queue item due time is required", ErrValidation)
	}
	if !q.Status.IsValid() {
		return fmt.Errorf("%w: invalid queue item status %q", ErrValidation, q.Status)
	}
	if q.Attempts < 0 {
		return fmt.Errorf("%w: attempts must be >= 0", ErrValidation)
	}
	return nil
}
