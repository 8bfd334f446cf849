package repository

import (
	"context"
	"errors"
	"time"

	"github.com/outboundlab/sequencer/internal/domain"
	"gorm.io/gorm"
)

// EventCount is one row of a per-type aggregation over the event log.
type EventCount struct {
	Type  domain.EventType `gorm:"column:event_type"`
	Count int              `gorm:"column:count"`
}

type EventRepository interface {
	Append(ctx context.Context, e *domain.EngagementEvent) error
	ExistsForStep(ctx context.Context, enrollmentID, stepID string, eventType domain.EventType) (bool, error)
	ExistsSince(ctx context.Context, campaignID, leadID string, eventType domain.EventType, since *time.Time) (bool, error)
	LastSent(ctx context.Context, enrollmentID string) (*domain.EngagementEvent, error)
	CountByType(ctx context.Context, campaignID string) ([]EventCount, error)
	ListByCampaign(ctx context.Context, campaignID string) ([]domain.EngagementEvent, error)
}

type GormEventRepo struct {
	db *gorm.DB
}

func NewGormEventRepo(db *gorm.DB) *GormEventRepo {
	return &GormEventRepo{db: db}
}

func (r *GormEventRepo) Append(ctx context.Context, e *domain.EngagementEvent) error {
	model := eventModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *eventModelToDomain(model)
	}
	return nil
}

func (r *GormEventRepo) ExistsForStep(ctx context.Context, enrollmentID, stepID string, eventType domain.EventType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&EngagementEventModel{}).
		Where("enrollment_id = ? AND step_id = ? AND event_type = ?", enrollmentID, stepID, eventType).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ExistsSince reports whether an event of the given type was recorded for the
// lead within the campaign, optionally restricted to after a point in time.
func (r *GormEventRepo) ExistsSince(ctx context.Context, campaignID, leadID string, eventType domain.EventType, since *time.Time) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&EngagementEventModel{}).
		Where("campaign_id = ? AND lead_id = ? AND event_type = ?", campaignID, leadID, eventType)
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// LastSent returns the most recent sent event of the enrollment, or nil when
// nothing has been sent yet.
func (r *GormEventRepo) LastSent(ctx context.Context, enrollmentID string) (*domain.EngagementEvent, error) {
	var model EngagementEventModel
	err := r.db.WithContext(ctx).
		Where("enrollment_id = ? AND event_type = ?", enrollmentID, domain.EventSent).
		Order("created_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return eventModelToDomain(&model), nil
}

func (r *GormEventRepo) CountByType(ctx context.Context, campaignID string) ([]EventCount, error) {
	var counts []EventCount
	err := r.db.WithContext(ctx).
		Model(&EngagementEventModel{}).
		Select("event_type, COUNT(*) as count").
		Where("campaign_id = ?", campaignID).
		Group("event_type").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *GormEventRepo) ListByCampaign(ctx context.Context, campaignID string) ([]domain.EngagementEvent, error) {
	var models []EngagementEventModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.EngagementEvent, 0, len(models))
	for i := range models {
		events = append(events, *eventModelToDomain(&models[i]))
	}
	return events, nil
}
