package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/outboundlab/sequencer/internal/domain"
	"github.com/outboundlab/sequencer/internal/repository"
)

// ConditionEvaluator decides whether a step fires, by checking the event log
// against the step's condition at the moment the step becomes due.
type ConditionEvaluator struct {
	events repository.EventRepository
}

func NewConditionEvaluator(events repository.EventRepository) *ConditionEvaluator {
	return &ConditionEvaluator{events: events}
}

// ShouldSend evaluates the step condition against the engagement recorded for
// the enrollment's most recently sent step. A step with no prior send always
// fires: there is nothing to condition on yet.
func (e *ConditionEvaluator) ShouldSend(ctx context.Context, enrollment *domain.LeadEnrollment, step *domain.SequenceStep) (bool, error) {
	if step.Condition == domain.ConditionAlways {
		return true, nil
	}

	lastSent, err := e.events.LastSent(ctx, enrollment.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load last sent event: %w", err)
	}
	if lastSent == nil {
		return true, nil
	}

	switch step.Condition {
	case domain.ConditionOpened:
		return e.events.ExistsForStep(ctx, enrollment.ID, lastSent.StepID, domain.EventOpened)
	case domain.ConditionClicked:
		return e.events.ExistsForStep(ctx, enrollment.ID, lastSent.StepID, domain.EventClicked)
	case domain.ConditionNoOpen:
		opened, err := e.events.ExistsForStep(ctx, enrollment.ID, lastSent.StepID, domain.EventOpened)
		if err != nil {
			return false, err
		}
		return !opened, nil
	case domain.ConditionNoReply:
		since := lastSent.CreatedAt
		replied, err := e.events.ExistsSince(ctx, enrollment.CampaignID, enrollment.LeadID, domain.EventReplied, &since)
		if err != nil {
			return false, err
		}
		return !replied, nil
	}

	return false, fmt.Errorf("%w: unknown condition %q", domain.ErrValidation, step.Condition)
}

// nextLocalDay returns the same wall-clock time on the following day in the
// campaign's timezone. Daily-limit deferrals land here so a deferred item
// keeps its send slot instead of piling up at midnight.
func nextLocalDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return local.AddDate(0, 0, 1)
}

// localDay formats the campaign-local calendar date used as the daily
// counter key.
func localDay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
