package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/outboundlab/sequencer/internal/domain"
	"go.uber.org/zap"
)

// RecordOpen appends an opened event resolved from the tracked queue item.
func (e *Engine) RecordOpen(ctx context.Context, itemID string, meta domain.EventMetadata) error {
	return e.recordItemEvent(ctx, itemID, domain.EventOpened, meta)
}

// RecordClick appends a clicked event resolved from the tracked queue item.
func (e *Engine) RecordClick(ctx context.Context, itemID string, meta domain.EventMetadata) error {
	return e.recordItemEvent(ctx, itemID, domain.EventClicked, meta)
}

func (e *Engine) recordItemEvent(ctx context.Context, itemID string, eventType domain.EventType, meta domain.EventMetadata) error {
	item, err := e.queue.GetByID(ctx, itemID)
	if err != nil {
		return err
	}

	return e.events.Append(ctx, &domain.EngagementEvent{
		ID:           uuid.NewString(),
		CampaignID:   item.CampaignID,
		LeadID:       item.LeadID,
		EnrollmentID: item.EnrollmentID,
		StepID:       item.StepID,
		Type:         eventType,
		Metadata:     meta,
		CreatedAt:    e.now().UTC(),
	})
}

// HandleReply records a reply from the lead. When the campaign stops on
// reply, the lead's enrollment in that campaign halts with its open queue
// items cancelled. Enrollments in other campaigns are untouched.
func (e *Engine) HandleReply(ctx context.Context, campaignID, leadEmail string, meta domain.EventMetadata) error {
	lead, err := e.leads.GetByEmail(ctx, leadEmail)
	if err != nil {
		return fmt.Errorf("failed to resolve lead: %w", err)
	}
	campaign, err := e.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}

	enrollment, err := e.findEnrollment(ctx, campaignID, lead.ID)
	if err != nil {
		return err
	}

	event := &domain.EngagementEvent{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		LeadID:     lead.ID,
		Type:       domain.EventReplied,
		Metadata:   meta,
		CreatedAt:  e.now().UTC(),
	}
	if enrollment != nil {
		event.EnrollmentID = enrollment.ID
	}
	if err := e.events.Append(ctx, event); err != nil {
		return fmt.Errorf("failed to record reply event: %w", err)
	}

	if !campaign.StopOnReply || enrollment == nil {
		return nil
	}

	reason := domain.StopReasonReply
	if err := e.stopEnrollment(ctx, enrollment.ID, domain.EnrollmentStatusReplied, reason); err != nil {
		return err
	}

	e.logger.Info("enrollment stopped on reply",
		zap.String("campaignId", campaignID),
		zap.String("leadId", lead.ID),
	)
	return nil
}

// HandleUnsubscribe suppresses the address workspace-wide and halts every
// non-terminal enrollment the lead has, across all campaigns.
func (e *Engine) HandleUnsubscribe(ctx context.Context, campaignID, leadEmail string, meta domain.EventMetadata) error {
	lead, err := e.leads.GetByEmail(ctx, leadEmail)
	if err != nil {
		return fmt.Errorf("failed to resolve lead: %w", err)
	}

	if err := e.suppressions.Insert(ctx, &domain.SuppressionEntry{
		ID:        uuid.NewString(),
		Email:     lead.NormalizedEmail(),
		Type:      domain.SuppressionTypeUnsubscribe,
		Reason:    "recipient unsubscribed",
		CreatedAt: e.now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to insert suppression: %w", err)
	}

	if err := e.events.Append(ctx, &domain.EngagementEvent{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		LeadID:     lead.ID,
		Type:       domain.EventUnsubscribed,
		Metadata:   meta,
		CreatedAt:  e.now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to record unsubscribe event: %w", err)
	}

	return e.stopAllEnrollments(ctx, lead.ID, domain.EnrollmentStatusUnsubscribed, domain.StopReasonUnsubscribe)
}

// HandleBounce records a bounce. A permanent bounce suppresses the address
// and halts the lead everywhere; a transient bounce is recorded only.
func (e *Engine) HandleBounce(ctx context.Context, campaignID, leadEmail string, class domain.BounceClass, meta domain.EventMetadata) error {
	lead, err := e.leads.GetByEmail(ctx, leadEmail)
	if err != nil {
		return fmt.Errorf("failed to resolve lead: %w", err)
	}

	meta.BounceClass = class
	if err := e.events.Append(ctx, &domain.EngagementEvent{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		LeadID:     lead.ID,
		Type:       domain.EventBounced,
		Metadata:   meta,
		CreatedAt:  e.now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to record bounce event: %w", err)
	}

	if class != domain.BouncePermanent {
		return nil
	}

	if err := e.suppressions.Insert(ctx, &domain.SuppressionEntry{
		ID:        uuid.NewString(),
		Email:     lead.NormalizedEmail(),
		Type:      domain.SuppressionTypeBounce,
		Reason:    "permanent bounce",
		CreatedAt: e.now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to insert suppression: %w", err)
	}

	return e.stopAllEnrollments(ctx, lead.ID, domain.EnrollmentStatusBounced, domain.StopReasonBounce)
}

// StopEnrollment halts a single enrollment manually.
func (e *Engine) StopEnrollment(ctx context.Context, enrollmentID string) error {
	return e.stopEnrollment(ctx, enrollmentID, domain.EnrollmentStatusCancelled, domain.StopReasonManual)
}

func (e *Engine) stopEnrollment(ctx context.Context, enrollmentID string, status domain.EnrollmentStatus, reason domain.StopReason) error {
	if _, err := e.queue.CancelForEnrollment(ctx, enrollmentID); err != nil {
		return fmt.Errorf("failed to cancel queue items: %w", err)
	}
	if _, err := e.enrollments.Finalize(ctx, enrollmentID, status, &reason, e.now().UTC()); err != nil {
		return fmt.Errorf("failed to finalize enrollment: %w", err)
	}
	return nil
}

func (e *Engine) stopAllEnrollments(ctx context.Context, leadID string, status domain.EnrollmentStatus, reason domain.StopReason) error {
	enrollments, err := e.enrollments.ListNonTerminalByLead(ctx, leadID)
	if err != nil {
		return fmt.Errorf("failed to list enrollments: %w", err)
	}

	for i := range enrollments {
		if err := e.stopEnrollment(ctx, enrollments[i].ID, status, reason); err != nil {
			e.logger.Error("failed to stop enrollment",
				zap.String("enrollmentId", enrollments[i].ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (e *Engine) findEnrollment(ctx context.Context, campaignID, leadID string) (*domain.LeadEnrollment, error) {
	enrollments, err := e.enrollments.ListNonTerminalByLead(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	for i := range enrollments {
		if enrollments[i].CampaignID == campaignID {
			return &enrollments[i], nil
		}
	}
	return nil, nil
}
