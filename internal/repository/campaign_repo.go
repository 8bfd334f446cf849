package repository

import (
	"context"
	"errors"
	"time"

	"github.com/outboundlab/sequencer/internal/domain"
	"gorm.io/gorm"
)

type CampaignRepository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	GetByID(ctx context.Context, id string) (*domain.Campaign, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error)
	MarkStarted(ctx context.Context, id string, at time.Time) error
	CreateStep(ctx context.Context, s *domain.SequenceStep) error
	GetStep(ctx context.Context, stepID string) (*domain.SequenceStep, error)
	GetStepByNumber(ctx context.Context, campaignID string, sequenceNumber int) (*domain.SequenceStep, error)
	ListSteps(ctx context.Context, campaignID string) ([]domain.SequenceStep, error)
}

type GormCampaignRepo struct {
	db *gorm.DB
}

func NewGormCampaignRepo(db *gorm.DB) *GormCampaignRepo {
	return &GormCampaignRepo{db: db}
}

func (r *GormCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	model := campaignModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if c != nil {
		*c = *campaignModelToDomain(model)
	}
	return nil
}

func (r *GormCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	var model CampaignModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return campaignModelToDomain(&model), nil
}

// UpdateStatus moves a campaign from one status to another in a single
// conditional update. Returns false when the campaign was not in the expected
// source status.
func (r *GormCampaignRepo) UpdateStatus(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormCampaignRepo) MarkStarted(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&CampaignModel{}).
		Where("id = ? AND started_at IS NULL", id).
		Update("started_at", at).Error
}

func (r *GormCampaignRepo) CreateStep(ctx context.Context, s *domain.SequenceStep) error {
	model := stepModelFromDomain(s)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if s != nil {
		*s = *stepModelToDomain(model)
	}
	return nil
}

func (r *GormCampaignRepo) GetStep(ctx context.Context, stepID string) (*domain.SequenceStep, error) {
	var model SequenceStepModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", stepID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return stepModelToDomain(&model), nil
}

func (r *GormCampaignRepo) GetStepByNumber(ctx context.Context, campaignID string, sequenceNumber int) (*domain.SequenceStep, error) {
	var model SequenceStepModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ? AND sequence_number = ?", campaignID, sequenceNumber).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return stepModelToDomain(&model), nil
}

func (r *GormCampaignRepo) ListSteps(ctx context.Context, campaignID string) ([]domain.SequenceStep, error) {
	var models []SequenceStepModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("sequence_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	steps := make([]domain.SequenceStep, 0, len(models))
	for i := range models {
		steps = append(steps, *stepModelToDomain(&models[i]))
	}
	return steps, nil
}
