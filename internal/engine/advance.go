package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/outboundlab/sequencer/internal/domain"
	"go.uber.org/zap"
)

// scheduleNextOrComplete creates the queue item for the step after
// fromSequence, due baseTime plus that step's delay. When no step remains the
// enrollment completes. The enrollment moves back to scheduled so the next
// claim finds it in the expected status.
func (e *Engine) scheduleNextOrComplete(ctx context.Context, campaign *domain.Campaign, enrollment *domain.LeadEnrollment, fromSequence int, baseTime time.Time) error {
	next, err := e.campaigns.GetStepByNumber(ctx, campaign.ID, fromSequence+1)
	if errors.Is(err, domain.ErrNotFound) {
		return e.completeEnrollment(ctx, enrollment)
	}
	if err != nil {
		return fmt.Errorf("failed to load next step: %w", err)
	}

	dueAt := baseTime.Add(next.Delay()).UTC()
	item := &domain.ScheduleQueueItem{
		ID:           uuid.NewString(),
		EnrollmentID: enrollment.ID,
		CampaignID:   campaign.ID,
		LeadID:       enrollment.LeadID,
		StepID:       next.ID,
		ScheduledFor: dueAt,
		Status:       domain.QueueItemStatusPending,
	}
	if err := e.queue.Create(ctx, item); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// An open item already exists for this enrollment.
			e.logger.Warn("enrollment already has an open queue item",
				zap.String("enrollmentId", enrollment.ID),
			)
			return nil
		}
		return fmt.Errorf("failed to create queue item: %w", err)
	}

	if _, err := e.enrollments.Transition(ctx, enrollment.ID, domain.EnrollmentStatusInProgress, domain.EnrollmentStatusScheduled); err != nil {
		return fmt.Errorf("failed to return enrollment to scheduled: %w", err)
	}
	if err := e.enrollments.SetScheduled(ctx, enrollment.ID, dueAt); err != nil {
		return err
	}

	e.logger.Info("next step scheduled",
		zap.String("enrollmentId", enrollment.ID),
		zap.Int("sequence", next.SequenceNumber),
		zap.Time("dueAt", dueAt),
	)
	return nil
}

// skipStep consumes an item whose engagement condition failed: the item is
// cancelled, the cursor advances past the step, and the step after it is
// scheduled from the skip time. Repeated skips chain through the remaining
// sequence one dispatch cycle at a time. no_reply failures never come here;
// they end the sequence via finishAnsweredEnrollment.
func (e *Engine) skipStep(ctx context.Context, campaign *domain.Campaign, enrollment *domain.LeadEnrollment, step *domain.SequenceStep, item *domain.ScheduleQueueItem) error {
	if err := e.queue.MarkCancelled(ctx, item.ID); err != nil {
		return fmt.Errorf("failed to cancel skipped item: %w", err)
	}
	if _, err := e.enrollments.Advance(ctx, enrollment.ID, step.SequenceNumber-1); err != nil {
		return fmt.Errorf("failed to advance past skipped step: %w", err)
	}

	e.logger.Info("step skipped by condition",
		zap.String("enrollmentId", enrollment.ID),
		zap.Int("sequence", step.SequenceNumber),
		zap.String("condition", step.Condition.String()),
	)

	return e.scheduleNextOrComplete(ctx, campaign, enrollment, step.SequenceNumber, e.now().UTC())
}

// finishAnsweredEnrollment handles a failed no_reply condition. A reply makes
// the rest of the follow-up sequence moot, so instead of chaining to the next
// step the whole remainder is skipped and the enrollment completes.
func (e *Engine) finishAnsweredEnrollment(ctx context.Context, enrollment *domain.LeadEnrollment, step *domain.SequenceStep, item *domain.ScheduleQueueItem) error {
	if err := e.queue.MarkCancelled(ctx, item.ID); err != nil {
		return fmt.Errorf("failed to cancel skipped item: %w", err)
	}
	if _, err := e.enrollments.Advance(ctx, enrollment.ID, step.SequenceNumber-1); err != nil {
		return fmt.Errorf("failed to advance past skipped step: %w", err)
	}

	e.logger.Info("reply received, remaining sequence skipped",
		zap.String("enrollmentId", enrollment.ID),
		zap.Int("sequence", step.SequenceNumber),
	)
	return e.completeEnrollment(ctx, enrollment)
}

func (e *Engine) completeEnrollment(ctx context.Context, enrollment *domain.LeadEnrollment) error {
	done, err := e.enrollments.Finalize(ctx, enrollment.ID, domain.EnrollmentStatusCompleted, nil, e.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to complete enrollment: %w", err)
	}
	if done {
		e.logger.Info("enrollment completed", zap.String("enrollmentId", enrollment.ID))
	}
	return nil
}
