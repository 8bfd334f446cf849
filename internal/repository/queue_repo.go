package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/outboundlab/sequencer/internal/domain"
	"gorm.io/gorm"
)

type QueueRepository interface {
	Create(ctx context.Context, item *domain.ScheduleQueueItem) error
	GetByID(ctx context.Context, id string) (*domain.ScheduleQueueItem, error)
	GetDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduleQueueItem, error)
	Claim(ctx context.Context, id string) (bool, error)
	MarkSentWithEvent(ctx context.Context, id string, event *domain.EngagementEvent) (bool, error)
	Reschedule(ctx context.Context, id string, at time.Time) error
	RescheduleRetry(ctx context.Context, id string, at time.Time, lastError string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	MarkCancelled(ctx context.Context, id string) error
	MarkPaused(ctx context.Context, id string) error
	CancelForEnrollment(ctx context.Context, enrollmentID string) (int64, error)
	PauseForCampaign(ctx context.Context, campaignID string) (int64, error)
	ResumeForCampaign(ctx context.Context, campaignID string) (int64, error)
	CancelForCampaign(ctx context.Context, campaignID string) (int64, error)
}

type GormQueueRepo struct {
	db *gorm.DB
}

func NewGormQueueRepo(db *gorm.DB) *GormQueueRepo {
	return &GormQueueRepo{db: db}
}

// Create inserts a pending queue item. The partial unique index on
// (enrollment_id) for open statuses rejects a second in-flight item for the
// same enrollment; that surfaces as ErrConflict.
func (r *GormQueueRepo) Create(ctx context.Context, item *domain.ScheduleQueueItem) error {
	model := queueItemModelFromDomain(item)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	if item != nil {
		*item = *queueItemModelToDomain(model)
	}
	return nil
}

func (r *GormQueueRepo) GetByID(ctx context.Context, id string) (*domain.ScheduleQueueItem, error) {
	var model ScheduleQueueItemModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return queueItemModelToDomain(&model), nil
}

// GetDue returns pending items whose due time has passed, oldest due first,
// FIFO on creation within the same due time.
func (r *GormQueueRepo) GetDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduleQueueItem, error) {
	var models []ScheduleQueueItemModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", domain.QueueItemStatusPending, now).
		Order("scheduled_for ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	items := make([]domain.ScheduleQueueItem, 0, len(models))
	for i := range models {
		items = append(items, *queueItemModelToDomain(&models[i]))
	}
	return items, nil
}

// Claim transitions an item from pending to scheduled in a single conditional
// update. Exactly one of any number of racing dispatchers observes true.
func (r *GormQueueRepo) Claim(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&ScheduleQueueItemModel{}).
		Where("id = ? AND status = ?", id, domain.QueueItemStatusPending).
		Update("status", domain.QueueItemStatusScheduled)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkSentWithEvent consumes the item and appends the sent event in one
// transaction. Returns false without writing anything when the item is no
// longer in scheduled status, which makes executor re-entry after a crash a
// no-op instead of a duplicate send record.
func (r *GormQueueRepo) MarkSentWithEvent(ctx context.Context, id string, event *domain.EngagementEvent) (bool, error) {
	consumed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Model(&ScheduleQueueItemModel{}).
			Where("id = ? AND status = ?", id, domain.QueueItemStatusScheduled).
			Update("status", domain.QueueItemStatusSent)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		if err := tx.Create(eventModelFromDomain(event)).Error; err != nil {
			return err
		}
		consumed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return consumed, nil
}

// Reschedule pushes a claimed item back to pending with a new due time
// without touching the attempt counter (daily-limit deferral, not a failure).
func (r *GormQueueRepo) Reschedule(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ScheduleQueueItemModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.QueueItemStatusPending,
			"scheduled_for": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RescheduleRetry records a transient failure: back to pending at the backoff
// due time with the attempt counter bumped and the error kept for inspection.
func (r *GormQueueRepo) RescheduleRetry(ctx context.Context, id string, at time.Time, lastError string) error {
	result := r.db.WithContext(ctx).
		Model(&ScheduleQueueItemModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.QueueItemStatusPending,
			"scheduled_for": at,
			"attempts":      gorm.Expr("attempts + 1"),
			"last_error":    lastError,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormQueueRepo) MarkFailed(ctx context.Context, id string, lastError string) error {
	result := r.db.WithContext(ctx).
		Model(&ScheduleQueueItemModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     domain.QueueItemStatusFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": lastError,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormQueueRepo) MarkCancelled(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&ScheduleQueueItemModel{}).
		Where("id = ? AND status IN ?", id, []domain.QueueItemStatus{
			domain.QueueItemStatusPending,
			domain.QueueItemStatusScheduled,
			domain.QueueItemStatusPaused,
		}).
		Update("status", domain.QueueItemStatusCancelled)
	if result.Error != nil {
		return result.Error
	}
	return nil
}

func (r *GormQueueRepo) MarkPaused(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&ScheduleQueueItemModel{}).
		Where("id = ? AND status IN ?", id, []domain.QueueItemStatus{
			domain.QueueItemStatusPending,
			domain.QueueItemStatusScheduled,
		}).
		Update("status", domain.QueueItemStatusPaused)
	if result.Error != nil {
		return result.Error
	}
	return nil
}

// PauseForCampaign freezes every open item of a campaign. Paused items are
// invisible to the due scan until ResumeForCampaign flips them back.
func (r *GormQueueRepo) PauseForCampaign(ctx context.Context, campaignID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&ScheduleQueueItemModel{}).
		Where("campaign_id = ? AND status IN ?", campaignID, []domain.QueueItemStatus{
			domain.QueueItemStatusPending,
			domain.QueueItemStatusScheduled,
		}).
		Update("status", domain.QueueItemStatusPaused)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormQueueRepo) ResumeForCampaign(ctx context.Context, campaignID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&ScheduleQueueItemModel{}).
		Where("campaign_id = ? AND status = ?", campaignID, domain.QueueItemStatusPaused).
		Update("status", domain.QueueItemStatusPending)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormQueueRepo) CancelForCampaign(ctx context.Context, campaignID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&ScheduleQueueItemModel{}).
		Where("campaign_id = ? AND status IN ?", campaignID, []domain.QueueItemStatus{
			domain.QueueItemStatusPending,
			domain.QueueItemStatusScheduled,
			domain.QueueItemStatusPaused,
		}).
		Update("status", domain.QueueItemStatusCancelled)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// CancelForEnrollment cancels every open item of an enrollment; stop paths
// call this before or together with finalizing the enrollment itself.
func (r *GormQueueRepo) CancelForEnrollment(ctx context.Context, enrollmentID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&ScheduleQueueItemModel{}).
		Where("enrollment_id = ? AND status IN ?", enrollmentID, []domain.QueueItemStatus{
			domain.QueueItemStatusPending,
			domain.QueueItemStatusScheduled,
			domain.QueueItemStatusPaused,
		}).
		Update("status", domain.QueueItemStatusCancelled)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
