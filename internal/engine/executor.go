package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/outboundlab/sequencer/internal/domain"
	"github.com/outboundlab/sequencer/internal/personalize"
	"github.com/outboundlab/sequencer/internal/sender"
	"github.com/outboundlab/sequencer/internal/template"
	"go.uber.org/zap"
)

const (
	skipReasonTerminalEnrollment = "terminal_enrollment"
	skipReasonCampaignInactive   = "campaign_inactive"
	skipReasonSuppressed         = "suppressed"
	skipReasonCondition          = "condition_not_met"
	skipReasonDailyLimit         = "daily_limit"

	failReasonPermanent      = "permanent_error"
	failReasonRetryExhausted = "retry_exhausted"
)

// executeItem turns one claimed queue item into a send, a skip, a deferral,
// or a retry. Every exit leaves the item in a consistent state; returning an
// error only means the attempt itself could not be recorded.
func (e *Engine) executeItem(ctx context.Context, itemID string) error {
	item, err := e.queue.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load queue item: %w", err)
	}
	if item.Status != domain.QueueItemStatusScheduled {
		return nil
	}

	enrollment, err := e.enrollments.GetByID(ctx, item.EnrollmentID)
	if err != nil {
		return fmt.Errorf("failed to load enrollment: %w", err)
	}
	if enrollment.IsTerminal() {
		e.metrics.IncSendSkipped(skipReasonTerminalEnrollment)
		return e.queue.MarkCancelled(ctx, item.ID)
	}

	campaign, err := e.campaigns.GetByID(ctx, enrollment.CampaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	switch campaign.Status {
	case domain.CampaignStatusActive:
	case domain.CampaignStatusPaused:
		e.metrics.IncSendSkipped(skipReasonCampaignInactive)
		return e.queue.MarkPaused(ctx, item.ID)
	default:
		e.metrics.IncSendSkipped(skipReasonCampaignInactive)
		if err := e.queue.MarkCancelled(ctx, item.ID); err != nil {
			return err
		}
		reason := domain.StopReasonManual
		_, err := e.enrollments.Finalize(ctx, enrollment.ID, domain.EnrollmentStatusCancelled, &reason, e.now().UTC())
		return err
	}

	lead, err := e.leads.GetByID(ctx, enrollment.LeadID)
	if err != nil {
		return fmt.Errorf("failed to load lead: %w", err)
	}

	suppressed, err := e.suppressions.IsSuppressed(ctx, lead.Email)
	if err != nil {
		return fmt.Errorf("failed to check suppression: %w", err)
	}
	if suppressed {
		e.metrics.IncSendSkipped(skipReasonSuppressed)
		return e.stopSuppressedEnrollment(ctx, lead, enrollment, item)
	}

	step, err := e.campaigns.GetStep(ctx, item.StepID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Broken reference; fail the item rather than retry it forever.
			e.metrics.IncSendFailed(campaign.ID, failReasonPermanent)
			return e.queue.MarkFailed(ctx, item.ID, "sequence step no longer exists")
		}
		return fmt.Errorf("failed to load sequence step: %w", err)
	}

	moved, err := e.enrollments.Transition(ctx, enrollment.ID, domain.EnrollmentStatusScheduled, domain.EnrollmentStatusInProgress)
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("failed to start enrollment: %w", err)
	}
	if !moved {
		// A stop path finalized the enrollment between claim and here.
		e.metrics.IncSendSkipped(skipReasonTerminalEnrollment)
		return e.queue.MarkCancelled(ctx, item.ID)
	}
	if err := e.enrollments.MarkStarted(ctx, enrollment.ID, e.now().UTC()); err != nil {
		e.logger.Warn("failed to record enrollment start", zap.String("enrollmentId", enrollment.ID), zap.Error(err))
	}

	fire, err := e.evaluator.ShouldSend(ctx, enrollment, step)
	if err != nil {
		return fmt.Errorf("failed to evaluate step condition: %w", err)
	}
	if !fire {
		e.metrics.IncSendSkipped(skipReasonCondition)
		if step.Condition == domain.ConditionNoReply {
			return e.finishAnsweredEnrollment(ctx, enrollment, step, item)
		}
		return e.skipStep(ctx, campaign, enrollment, step, item)
	}

	loc, err := campaign.Location()
	if err != nil {
		return fmt.Errorf("failed to resolve campaign timezone: %w", err)
	}

	now := e.now().UTC()
	granted, err := e.limiter.TryAcquire(ctx, campaign.ID, localDay(now, loc), campaign.DailyLimit)
	if err != nil {
		return fmt.Errorf("failed to check daily limit: %w", err)
	}
	if !granted {
		e.metrics.IncSendSkipped(skipReasonDailyLimit)
		return e.deferToNextDay(ctx, enrollment, item, loc)
	}

	msg := e.composeMessage(ctx, campaign, lead, step, item)

	if e.sendLimiter != nil {
		if err := e.sendLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("send rate wait failed: %w", err)
		}
	}

	// A hung provider connection must not stall the worker; timeouts come
	// back as transient errors and retry.
	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	sendStart := e.now()
	resp, sendErr := e.sender.Send(sendCtx, msg)
	cancel()
	e.metrics.ObserveSendDuration(campaign.ID, e.now().Sub(sendStart))

	if sendErr != nil {
		return e.handleSendFailure(ctx, campaign, enrollment, lead, item, sendErr)
	}

	return e.handleSendSuccess(ctx, campaign, enrollment, step, item, resp, now)
}

// composeMessage renders the step templates for the lead, applies optional
// AI personalization, and injects tracking into the HTML body.
func (e *Engine) composeMessage(ctx context.Context, campaign *domain.Campaign, lead *domain.Lead, step *domain.SequenceStep, item *domain.ScheduleQueueItem) sender.Message {
	subject, missingSubject := template.Render(step.SubjectTemplate, lead)
	body, missingBody := template.Render(step.BodyTemplate, lead)
	if len(missingSubject)+len(missingBody) > 0 {
		e.logger.Warn("template fields missing for lead",
			zap.String("leadId", lead.ID),
			zap.String("stepId", step.ID),
			zap.Strings("subjectFields", missingSubject),
			zap.Strings("bodyFields", missingBody),
		)
	}

	if step.AIPersonalized && e.generator != nil {
		out, err := e.generator.Generate(ctx, personalize.Input{Subject: subject, Body: body, Lead: lead})
		if err != nil {
			e.logger.Warn("personalization failed, using template copy",
				zap.String("stepId", step.ID),
				zap.Error(err),
			)
		} else if out != nil {
			if out.Subject != "" {
				subject = out.Subject
			}
			if out.Body != "" {
				body = out.Body
			}
		}
	}

	if campaign.TrackClicks {
		body = e.tracker.RewriteLinks(body, item.ID)
	}
	if campaign.TrackOpens {
		body = e.tracker.InjectOpenPixel(body, item.ID)
	}

	return sender.Message{
		To:       lead.Email,
		From:     campaign.FromAddress,
		FromName: campaign.Name,
		Subject:  subject,
		HTMLBody: body,
	}
}

func (e *Engine) handleSendSuccess(ctx context.Context, campaign *domain.Campaign, enrollment *domain.LeadEnrollment, step *domain.SequenceStep, item *domain.ScheduleQueueItem, resp *sender.Response, sentAt time.Time) error {
	event := &domain.EngagementEvent{
		ID:           uuid.NewString(),
		CampaignID:   campaign.ID,
		LeadID:       enrollment.LeadID,
		EnrollmentID: enrollment.ID,
		StepID:       step.ID,
		Type:         domain.EventSent,
		CreatedAt:    sentAt,
	}
	if resp != nil {
		event.Metadata.MessageID = resp.MessageID
	}

	consumed, err := e.queue.MarkSentWithEvent(ctx, item.ID, event)
	if err != nil {
		return fmt.Errorf("failed to consume queue item: %w", err)
	}
	if !consumed {
		// Another writer consumed the item first; the email may have gone
		// out twice but the record stays single.
		e.logger.Warn("queue item already consumed", zap.String("itemId", item.ID))
		return nil
	}

	e.metrics.IncEmailSent(campaign.ID)
	e.logger.Info("step sent",
		zap.String("campaignId", campaign.ID),
		zap.String("enrollmentId", enrollment.ID),
		zap.Int("sequence", step.SequenceNumber),
	)

	if _, err := e.enrollments.Advance(ctx, enrollment.ID, step.SequenceNumber-1); err != nil {
		return fmt.Errorf("failed to advance enrollment: %w", err)
	}

	return e.scheduleNextOrComplete(ctx, campaign, enrollment, step.SequenceNumber, sentAt)
}

func (e *Engine) handleSendFailure(ctx context.Context, campaign *domain.Campaign, enrollment *domain.LeadEnrollment, lead *domain.Lead, item *domain.ScheduleQueueItem, sendErr error) error {
	attemptNumber := item.Attempts + 1
	transient := sender.IsTransient(sendErr)

	if transient && !e.retry.Exhausted(attemptNumber) {
		retryAt := e.now().UTC().Add(e.retry.Delay(attemptNumber))
		if err := e.queue.RescheduleRetry(ctx, item.ID, retryAt, sendErr.Error()); err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
		if _, err := e.enrollments.Transition(ctx, enrollment.ID, domain.EnrollmentStatusInProgress, domain.EnrollmentStatusScheduled); err != nil {
			return fmt.Errorf("failed to return enrollment to scheduled: %w", err)
		}
		e.metrics.IncRetryScheduled(campaign.ID)
		e.logger.Warn("send failed, retry scheduled",
			zap.String("itemId", item.ID),
			zap.Int("attempt", attemptNumber),
			zap.Time("retryAt", retryAt),
			zap.Error(sendErr),
		)
		return nil
	}

	reason := failReasonPermanent
	stopReason := domain.StopReasonMaxRetries
	if transient {
		reason = failReasonRetryExhausted
	} else {
		// A permanent rejection means the address is undeliverable; suppress
		// it so no other campaign keeps sending there.
		stopReason = domain.StopReasonBounce
		if err := e.suppressions.Insert(ctx, &domain.SuppressionEntry{
			ID:        uuid.NewString(),
			Email:     lead.NormalizedEmail(),
			Type:      domain.SuppressionTypeBounce,
			Reason:    "permanent send failure",
			CreatedAt: e.now().UTC(),
		}); err != nil {
			return fmt.Errorf("failed to insert suppression: %w", err)
		}
	}

	if err := e.queue.MarkFailed(ctx, item.ID, sendErr.Error()); err != nil {
		return fmt.Errorf("failed to mark queue item failed: %w", err)
	}
	if _, err := e.enrollments.Finalize(ctx, enrollment.ID, domain.EnrollmentStatusFailed, &stopReason, e.now().UTC()); err != nil {
		return fmt.Errorf("failed to finalize enrollment: %w", err)
	}

	e.metrics.IncSendFailed(campaign.ID, reason)
	e.logger.Error("send failed permanently",
		zap.String("itemId", item.ID),
		zap.String("enrollmentId", enrollment.ID),
		zap.String("reason", reason),
		zap.Error(sendErr),
	)
	return nil
}

// deferToNextDay pushes a daily-limited item to its wall-clock slot on the
// next day in the campaign's timezone. The attempt counter is untouched. An
// item overdue by more than a day keeps stepping forward until the slot is
// in the future, so it cannot be re-claimed and re-deferred within the same
// exhausted day.
func (e *Engine) deferToNextDay(ctx context.Context, enrollment *domain.LeadEnrollment, item *domain.ScheduleQueueItem, loc *time.Location) error {
	now := e.now().UTC()
	deferred := nextLocalDay(item.ScheduledFor, loc).UTC()
	for !deferred.After(now) {
		deferred = nextLocalDay(deferred, loc).UTC()
	}
	if err := e.queue.Reschedule(ctx, item.ID, deferred); err != nil {
		return fmt.Errorf("failed to defer queue item: %w", err)
	}
	if _, err := e.enrollments.Transition(ctx, enrollment.ID, domain.EnrollmentStatusInProgress, domain.EnrollmentStatusScheduled); err != nil {
		return fmt.Errorf("failed to return enrollment to scheduled: %w", err)
	}
	if err := e.enrollments.SetScheduled(ctx, enrollment.ID, deferred); err != nil {
		return err
	}

	e.logger.Info("daily limit reached, item deferred",
		zap.String("itemId", item.ID),
		zap.Time("deferredTo", deferred),
	)
	return nil
}

func (e *Engine) stopSuppressedEnrollment(ctx context.Context, lead *domain.Lead, enrollment *domain.LeadEnrollment, item *domain.ScheduleQueueItem) error {
	if err := e.queue.MarkCancelled(ctx, item.ID); err != nil {
		return err
	}

	status := domain.EnrollmentStatusCancelled
	reason := domain.StopReasonManual

	entry, err := e.suppressions.GetByEmail(ctx, lead.Email)
	if err == nil {
		switch entry.Type {
		case domain.SuppressionTypeUnsubscribe:
			status = domain.EnrollmentStatusUnsubscribed
			reason = domain.StopReasonUnsubscribe
		case domain.SuppressionTypeBounce:
			status = domain.EnrollmentStatusBounced
			reason = domain.StopReasonBounce
		}
	}

	_, err = e.enrollments.Finalize(ctx, enrollment.ID, status, &reason, e.now().UTC())
	return err
}
