package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/outboundlab/sequencer/internal/domain"
)

type fakeCampaignRepo struct {
	createFunc          func(ctx context.Context, c *domain.Campaign) error
	getByIDFunc         func(ctx context.Context, id string) (*domain.Campaign, error)
	updateStatusFunc    func(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error)
	markStartedFunc     func(ctx context.Context, id string, at time.Time) error
	createStepFunc      func(ctx context.Context, s *domain.SequenceStep) error
	getStepFunc         func(ctx context.Context, stepID string) (*domain.SequenceStep, error)
	getStepByNumberFunc func(ctx context.Context, campaignID string, n int) (*domain.SequenceStep, error)
	listStepsFunc       func(ctx context.Context, campaignID string) ([]domain.SequenceStep, error)
}

func (f *fakeCampaignRepo) Create(ctx context.Context, c *domain.Campaign) error {
	if f.createFunc != nil {
		return f.createFunc(ctx, c)
	}
	return nil
}

func (f *fakeCampaignRepo) GetByID(ctx context.Context, id string) (*domain.Campaign, error) {
	if f.getByIDFunc != nil {
		return f.getByIDFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCampaignRepo) UpdateStatus(ctx context.Context, id string, from, to domain.CampaignStatus) (bool, error) {
	if f.updateStatusFunc != nil {
		return f.updateStatusFunc(ctx, id, from, to)
	}
	return false, nil
}

func (f *fakeCampaignRepo) MarkStarted(ctx context.Context, id string, at time.Time) error {
	if f.markStartedFunc != nil {
		return f.markStartedFunc(ctx, id, at)
	}
	return nil
}

func (f *fakeCampaignRepo) CreateStep(ctx context.Context, s *domain.SequenceStep) error {
	if f.createStepFunc != nil {
		return f.createStepFunc(ctx, s)
	}
	return nil
}

func (f *fakeCampaignRepo) GetStep(ctx context.Context, stepID string) (*domain.SequenceStep, error) {
	if f.getStepFunc != nil {
		return f.getStepFunc(ctx, stepID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCampaignRepo) GetStepByNumber(ctx context.Context, campaignID string, n int) (*domain.SequenceStep, error) {
	if f.getStepByNumberFunc != nil {
		return f.getStepByNumberFunc(ctx, campaignID, n)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeCampaignRepo) ListSteps(ctx context.Context, campaignID string) ([]domain.SequenceStep, error) {
	if f.listStepsFunc != nil {
		return f.listStepsFunc(ctx, campaignID)
	}
	return nil, nil
}

type fakeLeadRepo struct {
	getByIDFunc func(ctx context.Context, id string) (*domain.Lead, error)
}

func (f *fakeLeadRepo) Create(context.Context, *domain.Lead) error { return nil }

func (f *fakeLeadRepo) GetByID(ctx context.Context, id string) (*domain.Lead, error) {
	if f.getByIDFunc != nil {
		return f.getByIDFunc(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeLeadRepo) GetByEmail(context.Context, string) (*domain.Lead, error) {
	return nil, domain.ErrNotFound
}

type fakeEnrollmentRepo struct {
	createFunc     func(ctx context.Context, e *domain.LeadEnrollment) error
	transitionFunc func(ctx context.Context, id string, from, to domain.EnrollmentStatus) (bool, error)
}

func (f *fakeEnrollmentRepo) Create(ctx context.Context, e *domain.LeadEnrollment) error {
	if f.createFunc != nil {
		return f.createFunc(ctx, e)
	}
	return nil
}

func (f *fakeEnrollmentRepo) GetByID(context.Context, string) (*domain.LeadEnrollment, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeEnrollmentRepo) Transition(ctx context.Context, id string, from, to domain.EnrollmentStatus) (bool, error) {
	if f.transitionFunc != nil {
		return f.transitionFunc(ctx, id, from, to)
	}
	return true, nil
}

func (f *fakeEnrollmentRepo) MarkStarted(context.Context, string, time.Time) error { return nil }
func (f *fakeEnrollmentRepo) SetScheduled(context.Context, string, time.Time) error {
	return nil
}
func (f *fakeEnrollmentRepo) Advance(context.Context, string, int) (bool, error) { return true, nil }
func (f *fakeEnrollmentRepo) Finalize(context.Context, string, domain.EnrollmentStatus, *domain.StopReason, time.Time) (bool, error) {
	return true, nil
}
func (f *fakeEnrollmentRepo) ListNonTerminalByLead(context.Context, string) ([]domain.LeadEnrollment, error) {
	return nil, nil
}

type fakeQueueRepo struct {
	createFunc  func(ctx context.Context, item *domain.ScheduleQueueItem) error
	pauseFunc   func(ctx context.Context, campaignID string) (int64, error)
	resumeFunc  func(ctx context.Context, campaignID string) (int64, error)
	cancelCFunc func(ctx context.Context, campaignID string) (int64, error)
}

func (f *fakeQueueRepo) Create(ctx context.Context, item *domain.ScheduleQueueItem) error {
	if f.createFunc != nil {
		return f.createFunc(ctx, item)
	}
	return nil
}

func (f *fakeQueueRepo) GetByID(context.Context, string) (*domain.ScheduleQueueItem, error) {
	return nil, domain.ErrNotFound
}
func (f *fakeQueueRepo) GetDue(context.Context, time.Time, int) ([]domain.ScheduleQueueItem, error) {
	return nil, nil
}
func (f *fakeQueueRepo) Claim(context.Context, string) (bool, error) { return false, nil }
func (f *fakeQueueRepo) MarkSentWithEvent(context.Context, string, *domain.EngagementEvent) (bool, error) {
	return false, nil
}
func (f *fakeQueueRepo) Reschedule(context.Context, string, time.Time) error { return nil }
func (f *fakeQueueRepo) RescheduleRetry(context.Context, string, time.Time, string) error {
	return nil
}
func (f *fakeQueueRepo) MarkFailed(context.Context, string, string) error { return nil }
func (f *fakeQueueRepo) MarkCancelled(context.Context, string) error      { return nil }
func (f *fakeQueueRepo) MarkPaused(context.Context, string) error         { return nil }
func (f *fakeQueueRepo) CancelForEnrollment(context.Context, string) (int64, error) {
	return 0, nil
}

func (f *fakeQueueRepo) PauseForCampaign(ctx context.Context, campaignID string) (int64, error) {
	if f.pauseFunc != nil {
		return f.pauseFunc(ctx, campaignID)
	}
	return 0, nil
}

func (f *fakeQueueRepo) ResumeForCampaign(ctx context.Context, campaignID string) (int64, error) {
	if f.resumeFunc != nil {
		return f.resumeFunc(ctx, campaignID)
	}
	return 0, nil
}

func (f *fakeQueueRepo) CancelForCampaign(ctx context.Context, campaignID string) (int64, error) {
	if f.cancelCFunc != nil {
		return f.cancelCFunc(ctx, campaignID)
	}
	return 0, nil
}

type fakeSuppressionRepo struct {
	isSuppressedFunc func(ctx context.Context, email string) (bool, error)
}

func (f *fakeSuppressionRepo) Insert(context.Context, *domain.SuppressionEntry) error { return nil }

func (f *fakeSuppressionRepo) IsSuppressed(ctx context.Context, email string) (bool, error) {
	if f.isSuppressedFunc != nil {
		return f.isSuppressedFunc(ctx, email)
	}
	return false, nil
}

func (f *fakeSuppressionRepo) GetByEmail(context.Context, string) (*domain.SuppressionEntry, error) {
	return nil, domain.ErrNotFound
}

func newService(campaigns *fakeCampaignRepo, leads *fakeLeadRepo, enrollments *fakeEnrollmentRepo, queue *fakeQueueRepo, suppressions *fakeSuppressionRepo) *CampaignService {
	if campaigns == nil {
		campaigns = &fakeCampaignRepo{}
	}
	if leads == nil {
		leads = &fakeLeadRepo{}
	}
	if enrollments == nil {
		enrollments = &fakeEnrollmentRepo{}
	}
	if queue == nil {
		queue = &fakeQueueRepo{}
	}
	if suppressions == nil {
		suppressions = &fakeSuppressionRepo{}
	}
	return NewCampaignService(campaigns, leads, enrollments, queue, suppressions, nil)
}

func validCampaign() *domain.Campaign {
	return &domain.Campaign{
		Name:        "Launch outreach",
		FromAddress: "sales@acme.io",
	}
}

func validSteps() []domain.SequenceStep {
	return []domain.SequenceStep{
		{SequenceNumber: 1, SubjectTemplate: "Hi", BodyTemplate: "<p>one</p>"},
		{SequenceNumber: 2, SubjectTemplate: "Again", BodyTemplate: "<p>two</p>", DelayDays: 3},
	}
}

func TestCreateCampaign(t *testing.T) {
	t.Parallel()

	t.Run("creates campaign and steps in draft status", func(t *testing.T) {
		t.Parallel()

		var createdSteps []domain.SequenceStep
		campaigns := &fakeCampaignRepo{
			createStepFunc: func(_ context.Context, s *domain.SequenceStep) error {
				createdSteps = append(createdSteps, *s)
				return nil
			},
		}
		svc := newService(campaigns, nil, nil, nil, nil)

		created, err := svc.CreateCampaign(context.Background(), validCampaign(), validSteps())
		if err != nil {
			t.Fatalf("CreateCampaign() error = %v", err)
		}

		if created.Status != domain.CampaignStatusDraft {
			t.Fatalf("status = %s, want draft", created.Status)
		}
		if len(createdSteps) != 2 {
			t.Fatalf("created %d steps, want 2", len(createdSteps))
		}
		if createdSteps[0].Condition != domain.ConditionAlways {
			t.Fatalf("step condition defaulted to %s, want always", createdSteps[0].Condition)
		}
		if createdSteps[1].CampaignID != created.ID {
			t.Fatal("steps not bound to the campaign")
		}
	})

	t.Run("rejects non-contiguous step numbers", func(t *testing.T) {
		t.Parallel()

		svc := newService(nil, nil, nil, nil, nil)
		steps := validSteps()
		steps[1].SequenceNumber = 5

		_, err := svc.CreateCampaign(context.Background(), validCampaign(), steps)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("error = %v, want validation error", err)
		}
	})

	t.Run("rejects empty sequence", func(t *testing.T) {
		t.Parallel()

		svc := newService(nil, nil, nil, nil, nil)
		_, err := svc.CreateCampaign(context.Background(), validCampaign(), nil)
		if !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("error = %v, want validation error", err)
		}
	})
}

func TestCampaignLifecycle(t *testing.T) {
	t.Parallel()

	t.Run("start moves draft to active", func(t *testing.T) {
		t.Parallel()

		var gotFrom, gotTo domain.CampaignStatus
		campaigns := &fakeCampaignRepo{
			updateStatusFunc: func(_ context.Context, _ string, from, to domain.CampaignStatus) (bool, error) {
				gotFrom, gotTo = from, to
				return true, nil
			},
		}
		svc := newService(campaigns, nil, nil, nil, nil)

		if err := svc.StartCampaign(context.Background(), "camp-1"); err != nil {
			t.Fatalf("StartCampaign() error = %v", err)
		}
		if gotFrom != domain.CampaignStatusDraft || gotTo != domain.CampaignStatusActive {
			t.Fatalf("transition %s -> %s, want draft -> active", gotFrom, gotTo)
		}
	})

	t.Run("start rejects non-draft campaign", func(t *testing.T) {
		t.Parallel()

		campaigns := &fakeCampaignRepo{
			updateStatusFunc: func(context.Context, string, domain.CampaignStatus, domain.CampaignStatus) (bool, error) {
				return false, nil
			},
		}
		svc := newService(campaigns, nil, nil, nil, nil)

		err := svc.StartCampaign(context.Background(), "camp-1")
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("error = %v, want conflict", err)
		}
	})

	t.Run("pause freezes queue items", func(t *testing.T) {
		t.Parallel()

		var pausedCampaign string
		campaigns := &fakeCampaignRepo{
			updateStatusFunc: func(context.Context, string, domain.CampaignStatus, domain.CampaignStatus) (bool, error) {
				return true, nil
			},
		}
		queue := &fakeQueueRepo{
			pauseFunc: func(_ context.Context, campaignID string) (int64, error) {
				pausedCampaign = campaignID
				return 3, nil
			},
		}
		svc := newService(campaigns, nil, nil, queue, nil)

		if err := svc.PauseCampaign(context.Background(), "camp-1"); err != nil {
			t.Fatalf("PauseCampaign() error = %v", err)
		}
		if pausedCampaign != "camp-1" {
			t.Fatal("queue items not paused")
		}
	})

	t.Run("resume thaws queue items", func(t *testing.T) {
		t.Parallel()

		var resumedCampaign string
		campaigns := &fakeCampaignRepo{
			updateStatusFunc: func(context.Context, string, domain.CampaignStatus, domain.CampaignStatus) (bool, error) {
				return true, nil
			},
		}
		queue := &fakeQueueRepo{
			resumeFunc: func(_ context.Context, campaignID string) (int64, error) {
				resumedCampaign = campaignID
				return 3, nil
			},
		}
		svc := newService(campaigns, nil, nil, queue, nil)

		if err := svc.ResumeCampaign(context.Background(), "camp-1"); err != nil {
			t.Fatalf("ResumeCampaign() error = %v", err)
		}
		if resumedCampaign != "camp-1" {
			t.Fatal("queue items not resumed")
		}
	})

	t.Run("archive cancels open items", func(t *testing.T) {
		t.Parallel()

		var cancelled bool
		campaigns := &fakeCampaignRepo{
			updateStatusFunc: func(_ context.Context, _ string, from, _ domain.CampaignStatus) (bool, error) {
				return from == domain.CampaignStatusActive, nil
			},
		}
		queue := &fakeQueueRepo{
			cancelCFunc: func(context.Context, string) (int64, error) {
				cancelled = true
				return 2, nil
			},
		}
		svc := newService(campaigns, nil, nil, queue, nil)

		if err := svc.ArchiveCampaign(context.Background(), "camp-1"); err != nil {
			t.Fatalf("ArchiveCampaign() error = %v", err)
		}
		if !cancelled {
			t.Fatal("open items not cancelled on archive")
		}
	})
}

func TestEnrollLeads(t *testing.T) {
	t.Parallel()

	activeCampaign := &domain.Campaign{
		ID:          "camp-1",
		Name:        "Launch",
		Status:      domain.CampaignStatusActive,
		FromAddress: "sales@acme.io",
	}
	firstStep := &domain.SequenceStep{
		ID:             "step-1",
		CampaignID:     "camp-1",
		SequenceNumber: 1,
	}

	campaignsFor := func() *fakeCampaignRepo {
		return &fakeCampaignRepo{
			getByIDFunc: func(context.Context, string) (*domain.Campaign, error) {
				return activeCampaign, nil
			},
			getStepByNumberFunc: func(context.Context, string, int) (*domain.SequenceStep, error) {
				return firstStep, nil
			},
		}
	}
	leadsFor := func(emails map[string]string) *fakeLeadRepo {
		return &fakeLeadRepo{
			getByIDFunc: func(_ context.Context, id string) (*domain.Lead, error) {
				email, ok := emails[id]
				if !ok {
					return nil, domain.ErrNotFound
				}
				return &domain.Lead{ID: id, Email: email}, nil
			},
		}
	}

	t.Run("enrolls leads and queues first step immediately", func(t *testing.T) {
		t.Parallel()

		var items []domain.ScheduleQueueItem
		queue := &fakeQueueRepo{
			createFunc: func(_ context.Context, item *domain.ScheduleQueueItem) error {
				items = append(items, *item)
				return nil
			},
		}
		svc := newService(campaignsFor(), leadsFor(map[string]string{
			"lead-1": "a@x.io",
			"lead-2": "b@x.io",
		}), nil, queue, nil)

		result, err := svc.EnrollLeads(context.Background(), "camp-1", []string{"lead-1", "lead-2"})
		if err != nil {
			t.Fatalf("EnrollLeads() error = %v", err)
		}
		if result.Enrolled != 2 || result.Skipped != 0 {
			t.Fatalf("result = %+v, want 2 enrolled", result)
		}
		if len(items) != 2 {
			t.Fatalf("queued %d items, want 2", len(items))
		}
		for _, item := range items {
			if item.StepID != firstStep.ID {
				t.Fatalf("item step = %s, want first step", item.StepID)
			}
			if item.Status != domain.QueueItemStatusPending {
				t.Fatalf("item status = %s, want pending", item.Status)
			}
		}
	})

	t.Run("skips suppressed leads", func(t *testing.T) {
		t.Parallel()

		suppressions := &fakeSuppressionRepo{
			isSuppressedFunc: func(_ context.Context, email string) (bool, error) {
				return email == "blocked@x.io", nil
			},
		}
		svc := newService(campaignsFor(), leadsFor(map[string]string{
			"lead-1": "ok@x.io",
			"lead-2": "blocked@x.io",
		}), nil, nil, suppressions)

		result, err := svc.EnrollLeads(context.Background(), "camp-1", []string{"lead-1", "lead-2"})
		if err != nil {
			t.Fatalf("EnrollLeads() error = %v", err)
		}
		if result.Enrolled != 1 || result.Skipped != 1 {
			t.Fatalf("result = %+v, want 1 enrolled 1 skipped", result)
		}
	})

	t.Run("skips leads already enrolled", func(t *testing.T) {
		t.Parallel()

		enrollments := &fakeEnrollmentRepo{
			createFunc: func(context.Context, *domain.LeadEnrollment) error {
				return domain.ErrConflict
			},
		}
		svc := newService(campaignsFor(), leadsFor(map[string]string{"lead-1": "dup@x.io"}), enrollments, nil, nil)

		result, err := svc.EnrollLeads(context.Background(), "camp-1", []string{"lead-1"})
		if err != nil {
			t.Fatalf("EnrollLeads() error = %v", err)
		}
		if result.Enrolled != 0 || result.Skipped != 1 {
			t.Fatalf("result = %+v, want duplicate skipped", result)
		}
	})

	t.Run("rejects inactive campaign", func(t *testing.T) {
		t.Parallel()

		campaigns := &fakeCampaignRepo{
			getByIDFunc: func(context.Context, string) (*domain.Campaign, error) {
				return &domain.Campaign{ID: "camp-1", Status: domain.CampaignStatusDraft}, nil
			},
		}
		svc := newService(campaigns, nil, nil, nil, nil)

		_, err := svc.EnrollLeads(context.Background(), "camp-1", []string{"lead-1"})
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("error = %v, want conflict", err)
		}
	})
}
