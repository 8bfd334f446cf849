package repository

import (
	"context"
	"errors"

	"github.com/outboundlab/sequencer/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SuppressionRepository interface {
	Insert(ctx context.Context, entry *domain.SuppressionEntry) error
	IsSuppressed(ctx context.Context, email string) (bool, error)
	GetByEmail(ctx context.Context, email string) (*domain.SuppressionEntry, error)
}

type GormSuppressionRepo struct {
	db *gorm.DB
}

func NewGormSuppressionRepo(db *gorm.DB) *GormSuppressionRepo {
	return &GormSuppressionRepo{db: db}
}

// Insert is idempotent: a second suppression for the same address is silently
// dropped, keeping the earliest entry as the permanent record.
func (r *GormSuppressionRepo) Insert(ctx context.Context, entry *domain.SuppressionEntry) error {
	model := suppressionModelFromDomain(entry)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoNothing: true,
		}).
		Create(model).Error
}

func (r *GormSuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&SuppressionEntryModel{}).
		Where("email = ?", domain.NormalizeEmail(email)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormSuppressionRepo) GetByEmail(ctx context.Context, email string) (*domain.SuppressionEntry, error) {
	var model SuppressionEntryModel
	err := r.db.WithContext(ctx).
		Where("email = ?", domain.NormalizeEmail(email)).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return suppressionModelToDomain(&model), nil
}
