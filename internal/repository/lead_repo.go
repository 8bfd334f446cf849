package repository

import (
	"context"
	"errors"

	"github.com/outboundlab/sequencer/internal/domain"
	"gorm.io/gorm"
)

type LeadRepository interface {
	Create(ctx context.Context, l *domain.Lead) error
	GetByID(ctx context.Context, id string) (*domain.Lead, error)
	GetByEmail(ctx context.Context, email string) (*domain.Lead, error)
}

type GormLeadRepo struct {
	db *gorm.DB
}

func NewGormLeadRepo(db *gorm.DB) *GormLeadRepo {
	return &GormLeadRepo{db: db}
}

func (r *GormLeadRepo) Create(ctx context.Context, l *domain.Lead) error {
	model := leadModelFromDomain(l)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if l != nil {
		*l = *leadModelToDomain(model)
	}
	return nil
}

func (r *GormLeadRepo) GetByID(ctx context.Context, id string) (*domain.Lead, error) {
	var model LeadModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return leadModelToDomain(&model), nil
}

func (r *GormLeadRepo) GetByEmail(ctx context.Context, email string) (*domain.Lead, error) {
	var model LeadModel
	err := r.db.WithContext(ctx).
		Where("LOWER(email) = ?", domain.NormalizeEmail(email)).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return leadModelToDomain(&model), nil
}
