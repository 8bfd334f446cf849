package repository

import (
	"context"
	"errors"
	"time"

	"github.com/outboundlab/sequencer/internal/domain"
	"gorm.io/gorm"
)

var nonTerminalEnrollmentStatuses = []domain.EnrollmentStatus{
	domain.EnrollmentStatusPending,
	domain.EnrollmentStatusScheduled,
	domain.EnrollmentStatusInProgress,
}

type EnrollmentRepository interface {
	Create(ctx context.Context, e *domain.LeadEnrollment) error
	GetByID(ctx context.Context, id string) (*domain.LeadEnrollment, error)
	Transition(ctx context.Context, id string, from, to domain.EnrollmentStatus) (bool, error)
	MarkStarted(ctx context.Context, id string, at time.Time) error
	SetScheduled(ctx context.Context, id string, at time.Time) error
	Advance(ctx context.Context, id string, fromSequence int) (bool, error)
	Finalize(ctx context.Context, id string, status domain.EnrollmentStatus, reason *domain.StopReason, at time.Time) (bool, error)
	ListNonTerminalByLead(ctx context.Context, leadID string) ([]domain.LeadEnrollment, error)
}

type GormEnrollmentRepo struct {
	db *gorm.DB
}

func NewGormEnrollmentRepo(db *gorm.DB) *GormEnrollmentRepo {
	return &GormEnrollmentRepo{db: db}
}

func (r *GormEnrollmentRepo) Create(ctx context.Context, e *domain.LeadEnrollment) error {
	model := enrollmentModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	if e != nil {
		*e = *enrollmentModelToDomain(model)
	}
	return nil
}

func (r *GormEnrollmentRepo) GetByID(ctx context.Context, id string) (*domain.LeadEnrollment, error) {
	var model LeadEnrollmentModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return enrollmentModelToDomain(&model), nil
}

// Transition performs a conditional status move guarded by the legality table
// and by the row's current status; false means another writer got there first.
func (r *GormEnrollmentRepo) Transition(ctx context.Context, id string, from, to domain.EnrollmentStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, domain.ErrConflict
	}

	result := r.db.WithContext(ctx).
		Model(&LeadEnrollmentModel{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormEnrollmentRepo) MarkStarted(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&LeadEnrollmentModel{}).
		Where("id = ? AND started_at IS NULL", id).
		Update("started_at", at).Error
}

func (r *GormEnrollmentRepo) SetScheduled(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&LeadEnrollmentModel{}).
		Where("id = ?", id).
		Update("scheduled_at", at).Error
}

// Advance bumps current_sequence by exactly one, guarded by the expected
// current value so the counter stays monotonic under races.
func (r *GormEnrollmentRepo) Advance(ctx context.Context, id string, fromSequence int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&LeadEnrollmentModel{}).
		Where("id = ? AND current_sequence = ?", id, fromSequence).
		Update("current_sequence", fromSequence+1)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Finalize moves an enrollment into a terminal status, recording the stop
// reason and completion time. The guard on non-terminal source statuses makes
// every stop path idempotent: a second call is a silent no-op.
func (r *GormEnrollmentRepo) Finalize(ctx context.Context, id string, status domain.EnrollmentStatus, reason *domain.StopReason, at time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, domain.ErrConflict
	}

	updates := map[string]any{
		"status":       status,
		"completed_at": at,
	}
	if reason != nil {
		updates["stopped_reason"] = *reason
	}

	result := r.db.WithContext(ctx).
		Model(&LeadEnrollmentModel{}).
		Where("id = ? AND status IN ?", id, nonTerminalEnrollmentStatuses).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *GormEnrollmentRepo) ListNonTerminalByLead(ctx context.Context, leadID string) ([]domain.LeadEnrollment, error) {
	var models []LeadEnrollmentModel
	err := r.db.WithContext(ctx).
		Where("lead_id = ? AND status IN ?", leadID, nonTerminalEnrollmentStatuses).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	enrollments := make([]domain.LeadEnrollment, 0, len(models))
	for i := range models {
		enrollments = append(enrollments, *enrollmentModelToDomain(&models[i]))
	}
	return enrollments, nil
}
