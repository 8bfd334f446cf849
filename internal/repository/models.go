package repository

import (
	"time"

	"github.com/outboundlab/sequencer/internal/domain"
)

// CampaignModel is the persistence model for the campaigns table.
type CampaignModel struct {
	ID          string                `gorm:"type:uuid;primaryKey"`
	Name        string                `gorm:"type:varchar(255);not null"`
	Status      domain.CampaignStatus `gorm:"type:varchar(20);not null"`
	FromAddress string                `gorm:"type:varchar(255);not null"`
	DailyLimit  int                   `gorm:"not null;default:0"`
	Timezone    string                `gorm:"type:varchar(64);not null;default:'UTC'"`
	StopOnReply bool                  `gorm:"not null;default:true"`
	TrackOpens  bool                  `gorm:"not null;default:true"`
	TrackClicks bool                  `gorm:"not null;default:true"`
	StartedAt   *time.Time            `gorm:"type:timestamptz"`
	CompletedAt *time.Time            `gorm:"type:timestamptz"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (CampaignModel) TableName() string { return "campaigns" }

// SequenceStepModel is the persistence model for sequence_steps.
type SequenceStepModel struct {
	ID              string               `gorm:"type:uuid;primaryKey"`
	CampaignID      string               `gorm:"type:uuid;not null;index"`
	SequenceNumber  int                  `gorm:"not null"`
	SubjectTemplate string               `gorm:"type:text;not null"`
	BodyTemplate    string               `gorm:"type:text;not null"`
	DelayDays       int                  `gorm:"not null;default:0"`
	DelayHours      int                  `gorm:"not null;default:0"`
	Condition       domain.ConditionType `gorm:"type:varchar(20);not null;column:condition_type"`
	AIPersonalized  bool                 `gorm:"not null;default:false"`
	CreatedAt       time.Time
}

func (SequenceStepModel) TableName() string { return "sequence_steps" }

// LeadModel is the persistence model for leads.
type LeadModel struct {
	ID         string            `gorm:"type:uuid;primaryKey"`
	Email      string            `gorm:"type:varchar(255);not null"`
	Attributes map[string]string `gorm:"type:jsonb;serializer:json"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (LeadModel) TableName() string { return "leads" }

// LeadEnrollmentModel is the persistence model for lead_enrollments.
type LeadEnrollmentModel struct {
	ID              string                  `gorm:"type:uuid;primaryKey"`
	CampaignID      string                  `gorm:"type:uuid;not null;index"`
	LeadID          string                  `gorm:"type:uuid;not null;index"`
	Status          domain.EnrollmentStatus `gorm:"type:varchar(20);not null"`
	CurrentSequence int                     `gorm:"not null;default:0"`
	StoppedReason   *domain.StopReason      `gorm:"type:varchar(20)"`
	ScheduledAt     *time.Time              `gorm:"type:timestamptz"`
	StartedAt       *time.Time              `gorm:"type:timestamptz"`
	CompletedAt     *time.Time              `gorm:"type:timestamptz"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (LeadEnrollmentModel) TableName() string { return "lead_enrollments" }

// ScheduleQueueItemModel is the persistence model for schedule_queue_items.
type ScheduleQueueItemModel struct {
	ID           string                 `gorm:"type:uuid;primaryKey"`
	EnrollmentID string                 `gorm:"type:uuid;not null"`
	CampaignID   string                 `gorm:"type:uuid;not null;index"`
	LeadID       string                 `gorm:"type:uuid;not null"`
	StepID       string                 `gorm:"type:uuid;not null"`
	ScheduledFor time.Time              `gorm:"type:timestamptz;not null"`
	Status       domain.QueueItemStatus `gorm:"type:varchar(20);not null"`
	Attempts     int                    `gorm:"not null;default:0"`
	LastError    *string                `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (ScheduleQueueItemModel) TableName() string { return "schedule_queue_items" }

// SuppressionEntryModel is the persistence model for suppression_entries.
type SuppressionEntryModel struct {
	ID        string                 `gorm:"type:uuid;primaryKey"`
	Email     string                 `gorm:"type:varchar(255);not null"`
	Type      domain.SuppressionType `gorm:"type:varchar(20);not null;column:suppression_type"`
	Reason    string                 `gorm:"type:text"`
	CreatedAt time.Time
}

func (SuppressionEntryModel) TableName() string { return "suppression_entries" }

// EngagementEventModel is the persistence model for engagement_events.
type EngagementEventModel struct {
	ID           string               `gorm:"type:uuid;primaryKey"`
	CampaignID   string               `gorm:"type:uuid;not null;index"`
	LeadID       string               `gorm:"type:uuid;not null"`
	EnrollmentID string               `gorm:"type:uuid"`
	StepID       string               `gorm:"type:uuid"`
	Type         domain.EventType     `gorm:"type:varchar(20);not null;column:event_type"`
	Metadata     domain.EventMetadata `gorm:"type:jsonb;serializer:json"`
	CreatedAt    time.Time
}

func (EngagementEventModel) TableName() string { return "engagement_events" }

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}
	return &CampaignModel{
		ID:          c.ID,
		Name:        c.Name,
		Status:      c.Status,
		FromAddress: c.FromAddress,
		DailyLimit:  c.DailyLimit,
		Timezone:    c.Timezone,
		StopOnReply: c.StopOnReply,
		TrackOpens:  c.TrackOpens,
		TrackClicks: c.TrackClicks,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}
	return &domain.Campaign{
		ID:          m.ID,
		Name:        m.Name,
		Status:      m.Status,
		FromAddress: m.FromAddress,
		DailyLimit:  m.DailyLimit,
		Timezone:    m.Timezone,
		StopOnReply: m.StopOnReply,
		TrackOpens:  m.TrackOpens,
		TrackClicks: m.TrackClicks,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func stepModelFromDomain(s *domain.SequenceStep) *SequenceStepModel {
	if s == nil {
		return nil
	}
	return &SequenceStepModel{
		ID:              s.ID,
		CampaignID:      s.CampaignID,
		SequenceNumber:  s.SequenceNumber,
		SubjectTemplate: s.SubjectTemplate,
		BodyTemplate:    s.BodyTemplate,
		DelayDays:       s.DelayDays,
		DelayHours:      s.DelayHours,
		Condition:       s.Condition,
		AIPersonalized:  s.AIPersonalized,
		CreatedAt:       s.CreatedAt,
	}
}

func stepModelToDomain(m *SequenceStepModel) *domain.SequenceStep {
	if m == nil {
		return nil
	}
	return &domain.SequenceStep{
		ID:              m.ID,
		CampaignID:      m.CampaignID,
		SequenceNumber:  m.SequenceNumber,
		SubjectTemplate: m.SubjectTemplate,
		BodyTemplate:    m.BodyTemplate,
		DelayDays:       m.DelayDays,
		DelayHours:      m.DelayHours,
		Condition:       m.Condition,
		AIPersonalized:  m.AIPersonalized,
		CreatedAt:       m.CreatedAt,
	}
}

func leadModelFromDomain(l *domain.Lead) *LeadModel {
	if l == nil {
		return nil
	}
	return &LeadModel{
		ID:         l.ID,
		Email:      l.Email,
		Attributes: l.Attributes,
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
	}
}

func leadModelToDomain(m *LeadModel) *domain.Lead {
	if m == nil {
		return nil
	}
	return &domain.Lead{
		ID:         m.ID,
		Email:      m.Email,
		Attributes: m.Attributes,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func enrollmentModelFromDomain(e *domain.LeadEnrollment) *LeadEnrollmentModel {
	if e == nil {
		return nil
	}
	return &LeadEnrollmentModel{
		ID:              e.ID,
		CampaignID:      e.CampaignID,
		LeadID:          e.LeadID,
		Status:          e.Status,
		CurrentSequence: e.CurrentSequence,
		StoppedReason:   e.StoppedReason,
		ScheduledAt:     e.ScheduledAt,
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func enrollmentModelToDomain(m *LeadEnrollmentModel) *domain.LeadEnrollment {
	if m == nil {
		return nil
	}
	return &domain.LeadEnrollment{
		ID:              m.ID,
		CampaignID:      m.CampaignID,
		LeadID:          m.LeadID,
		Status:          m.Status,
		CurrentSequence: m.CurrentSequence,
		StoppedReason:   m.StoppedReason,
		ScheduledAt:     m.ScheduledAt,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func queueItemModelFromDomain(q *domain.ScheduleQueueItem) *ScheduleQueueItemModel {
	if q == nil {
		return nil
	}
	return &ScheduleQueueItemModel{
		ID:           q.ID,
		EnrollmentID: q.EnrollmentID,
		CampaignID:   q.CampaignID,
		LeadID:       q.LeadID,
		StepID:       q.StepID,
		ScheduledFor: q.ScheduledFor,
		Status:       q.Status,
		Attempts:     q.Attempts,
		LastError:    q.LastError,
		CreatedAt:    q.CreatedAt,
		UpdatedAt:    q.UpdatedAt,
	}
}

func queueItemModelToDomain(m *ScheduleQueueItemModel) *domain.ScheduleQueueItem {
	if m == nil {
		return nil
	}
	return &domain.ScheduleQueueItem{
		ID:           m.ID,
		EnrollmentID: m.EnrollmentID,
		CampaignID:   m.CampaignID,
		LeadID:       m.LeadID,
		StepID:       m.StepID,
		ScheduledFor: m.ScheduledFor,
		Status:       m.Status,
		Attempts:     m.Attempts,
		LastError:    m.LastError,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func suppressionModelFromDomain(s *domain.SuppressionEntry) *SuppressionEntryModel {
	if s == nil {
		return nil
	}
	return &SuppressionEntryModel{
		ID:        s.ID,
		Email:     domain.NormalizeEmail(s.Email),
		Type:      s.Type,
		Reason:    s.Reason,
		CreatedAt: s.CreatedAt,
	}
}

func suppressionModelToDomain(m *SuppressionEntryModel) *domain.SuppressionEntry {
	if m == nil {
		return nil
	}
	return &domain.SuppressionEntry{
		ID:        m.ID,
		Email:     m.Email,
		Type:      m.Type,
		Reason:    m.Reason,
		CreatedAt: m.CreatedAt,
	}
}

func eventModelFromDomain(e *domain.EngagementEvent) *EngagementEventModel {
	if e == nil {
		return nil
	}
	return &EngagementEventModel{
		ID:           e.ID,
		CampaignID:   e.CampaignID,
		LeadID:       e.LeadID,
		EnrollmentID: e.EnrollmentID,
		StepID:       e.StepID,
		Type:         e.Type,
		Metadata:     e.Metadata,
		CreatedAt:    e.CreatedAt,
	}
}

func eventModelToDomain(m *EngagementEventModel) *domain.EngagementEvent {
	if m == nil {
		return nil
	}
	return &domain.EngagementEvent{
		ID:           m.ID,
		CampaignID:   m.CampaignID,
		LeadID:       m.LeadID,
		EnrollmentID: m.EnrollmentID,
		StepID:       m.StepID,
		Type:         m.Type,
		Metadata:     m.Metadata,
		CreatedAt:    m.CreatedAt,
	}
}
