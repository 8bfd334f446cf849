// Package service implements the campaign lifecycle and lead enrollment
// operations exposed over the API.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/outboundlab/sequencer/internal/domain"
	"github.com/outboundlab/sequencer/internal/repository"
	"go.uber.org/zap"
)

type CampaignService struct {
	campaigns    repository.CampaignRepository
	leads        repository.LeadRepository
	enrollments  repository.EnrollmentRepository
	queue        repository.QueueRepository
	suppressions repository.SuppressionRepository
	logger       *zap.Logger
	now          func() time.Time
}

func NewCampaignService(
	campaigns repository.CampaignRepository,
	leads repository.LeadRepository,
	enrollments repository.EnrollmentRepository,
	queue repository.QueueRepository,
	suppressions repository.SuppressionRepository,
	logger *zap.Logger,
) *CampaignService {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CampaignService{
		campaigns:    campaigns,
		leads:        leads,
		enrollments:  enrollments,
		queue:        queue,
		suppressions: suppressions,
		logger:       logger,
		now:          time.Now,
	}
}

// CreateCampaign persists a draft campaign with its sequence steps. Step
// numbers must run 1..n without gaps.
func (s *CampaignService) CreateCampaign(ctx context.Context, campaign *domain.Campaign, steps []domain.SequenceStep) (*domain.Campaign, error) {
	if campaign == nil {
		return nil, fmt.Errorf("%w: campaign is required", domain.ErrValidation)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: at least one sequence step is required", domain.ErrValidation)
	}

	campaign.ID = uuid.NewString()
	campaign.Status = domain.CampaignStatusDraft
	if err := campaign.Validate(); err != nil {
		return nil, err
	}

	for i := range steps {
		steps[i].ID = uuid.NewString()
		steps[i].CampaignID = campaign.ID
		if steps[i].Condition == "" {
			steps[i].Condition = domain.ConditionAlways
		}
		if err := steps[i].Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if steps[i].SequenceNumber != i+1 {
			return nil, fmt.Errorf("%w: step numbers must be contiguous from 1, got %d at position %d",
				domain.ErrValidation, steps[i].SequenceNumber, i+1)
		}
	}

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	for i := range steps {
		if err := s.campaigns.CreateStep(ctx, &steps[i]); err != nil {
			return nil, fmt.Errorf("failed to create step %d: %w", steps[i].SequenceNumber, err)
		}
	}

	s.logger.Info("campaign created",
		zap.String("campaignId", campaign.ID),
		zap.Int("steps", len(steps)),
	)
	return campaign, nil
}

// StartCampaign activates a draft campaign.
func (s *CampaignService) StartCampaign(ctx context.Context, id string) error {
	moved, err := s.campaigns.UpdateStatus(ctx, id, domain.CampaignStatusDraft, domain.CampaignStatusActive)
	if err != nil {
		return fmt.Errorf("failed to start campaign: %w", err)
	}
	if !moved {
		return fmt.Errorf("%w: campaign is not in draft status", domain.ErrConflict)
	}
	if err := s.campaigns.MarkStarted(ctx, id, s.now().UTC()); err != nil {
		s.logger.Warn("failed to record campaign start time", zap.String("campaignId", id), zap.Error(err))
	}

	s.logger.Info("campaign started", zap.String("campaignId", id))
	return nil
}

// PauseCampaign freezes an active campaign and its open queue items.
func (s *CampaignService) PauseCampaign(ctx context.Context, id string) error {
	moved, err := s.campaigns.UpdateStatus(ctx, id, domain.CampaignStatusActive, domain.CampaignStatusPaused)
	if err != nil {
		return fmt.Errorf("failed to pause campaign: %w", err)
	}
	if !moved {
		return fmt.Errorf("%w: campaign is not active", domain.ErrConflict)
	}

	paused, err := s.queue.PauseForCampaign(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to pause queue items: %w", err)
	}

	s.logger.Info("campaign paused",
		zap.String("campaignId", id),
		zap.Int64("itemsPaused", paused),
	)
	return nil
}

// ResumeCampaign reactivates a paused campaign; its frozen items become
// eligible for the next dispatch scan.
func (s *CampaignService) ResumeCampaign(ctx context.Context, id string) error {
	moved, err := s.campaigns.UpdateStatus(ctx, id, domain.CampaignStatusPaused, domain.CampaignStatusActive)
	if err != nil {
		return fmt.Errorf("failed to resume campaign: %w", err)
	}
	if !moved {
		return fmt.Errorf("%w: campaign is not paused", domain.ErrConflict)
	}

	resumed, err := s.queue.ResumeForCampaign(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to resume queue items: %w", err)
	}

	s.logger.Info("campaign resumed",
		zap.String("campaignId", id),
		zap.Int64("itemsResumed", resumed),
	)
	return nil
}

// ArchiveCampaign retires a campaign from any non-archived status and
// cancels whatever was still queued.
func (s *CampaignService) ArchiveCampaign(ctx context.Context, id string) error {
	var moved bool
	for _, from := range []domain.CampaignStatus{
		domain.CampaignStatusDraft,
		domain.CampaignStatusActive,
		domain.CampaignStatusPaused,
		domain.CampaignStatusCompleted,
	} {
		ok, err := s.campaigns.UpdateStatus(ctx, id, from, domain.CampaignStatusArchived)
		if err != nil {
			return fmt.Errorf("failed to archive campaign: %w", err)
		}
		if ok {
			moved = true
			break
		}
	}
	if !moved {
		return fmt.Errorf("%w: campaign is already archived or missing", domain.ErrConflict)
	}

	cancelled, err := s.queue.CancelForCampaign(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to cancel queue items: %w", err)
	}

	s.logger.Info("campaign archived",
		zap.String("campaignId", id),
		zap.Int64("itemsCancelled", cancelled),
	)
	return nil
}

// EnrollmentResult summarizes a batch enrollment call.
type EnrollmentResult struct {
	Enrolled   int      `json:"enrolled"`
	Skipped    int      `json:"skipped"`
	SkippedIDs []string `json:"skipped_ids,omitempty"`
}

// EnrollLeads enrolls each lead into an active campaign and queues its first
// step due immediately. Suppressed addresses and leads already enrolled in
// the campaign are skipped, not errors.
func (s *CampaignService) EnrollLeads(ctx context.Context, campaignID string, leadIDs []string) (*EnrollmentResult, error) {
	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != domain.CampaignStatusActive {
		return nil, fmt.Errorf("%w: campaign is not active", domain.ErrConflict)
	}

	firstStep, err := s.campaigns.GetStepByNumber(ctx, campaignID, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to load first step: %w", err)
	}

	result := &EnrollmentResult{}
	for _, leadID := range leadIDs {
		skipped, err := s.enrollLead(ctx, campaign, firstStep, leadID)
		if err != nil {
			return nil, err
		}
		if skipped {
			result.Skipped++
			result.SkippedIDs = append(result.SkippedIDs, leadID)
			continue
		}
		result.Enrolled++
	}

	s.logger.Info("leads enrolled",
		zap.String("campaignId", campaignID),
		zap.Int("enrolled", result.Enrolled),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *CampaignService) enrollLead(ctx context.Context, campaign *domain.Campaign, firstStep *domain.SequenceStep, leadID string) (skipped bool, err error) {
	lead, err := s.leads.GetByID(ctx, leadID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return true, nil
		}
		return false, err
	}

	suppressed, err := s.suppressions.IsSuppressed(ctx, lead.Email)
	if err != nil {
		return false, fmt.Errorf("failed to check suppression: %w", err)
	}
	if suppressed {
		return true, nil
	}

	now := s.now().UTC()
	enrollment := &domain.LeadEnrollment{
		ID:         uuid.NewString(),
		CampaignID: campaign.ID,
		LeadID:     lead.ID,
		Status:     domain.EnrollmentStatusPending,
	}
	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// Already enrolled in this campaign.
			return true, nil
		}
		return false, fmt.Errorf("failed to create enrollment: %w", err)
	}

	// The first step fires immediately regardless of its configured delay.
	item := &domain.ScheduleQueueItem{
		ID:           uuid.NewString(),
		EnrollmentID: enrollment.ID,
		CampaignID:   campaign.ID,
		LeadID:       lead.ID,
		StepID:       firstStep.ID,
		ScheduledFor: now,
		Status:       domain.QueueItemStatusPending,
	}
	if err := s.queue.Create(ctx, item); err != nil && !errors.Is(err, domain.ErrConflict) {
		return false, fmt.Errorf("failed to queue first step: %w", err)
	}

	if _, err := s.enrollments.Transition(ctx, enrollment.ID, domain.EnrollmentStatusPending, domain.EnrollmentStatusScheduled); err != nil {
		return false, fmt.Errorf("failed to schedule enrollment: %w", err)
	}
	if err := s.enrollments.SetScheduled(ctx, enrollment.ID, now); err != nil {
		return false, err
	}

	return false, nil
}
