package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/outboundlab/sequencer/internal/domain"
	"github.com/outboundlab/sequencer/internal/repository"
	"github.com/outboundlab/sequencer/internal/sender"
)

// memStore backs the in-memory repository fakes used by the engine tests.
// The fakes mirror the conditional-update semantics of the real Gorm
// repositories so claim races and idempotent stops behave the same way.
type memStore struct {
	mu           sync.Mutex
	campaigns    map[string]domain.Campaign
	steps        map[string]domain.SequenceStep
	leads        map[string]domain.Lead
	enrollments  map[string]domain.LeadEnrollment
	items        map[string]domain.ScheduleQueueItem
	events       []domain.EngagementEvent
	suppressions map[string]domain.SuppressionEntry
}

func newMemStore() *memStore {
	return &memStore{
		campaigns:    make(map[string]domain.Campaign),
		steps:        make(map[string]domain.SequenceStep),
		leads:        make(map[string]domain.Lead),
		enrollments:  make(map[string]domain.LeadEnrollment),
		items:        make(map[string]domain.ScheduleQueueItem),
		suppressions: make(map[string]domain.SuppressionEntry),
	}
}

type memCampaignRepo struct{ s *memStore }

func (r *memCampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.campaigns[c.ID] = *c
	return nil
}

func (r *memCampaignRepo) GetByID(_ context.Context, id string) (*domain.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (r *memCampaignRepo) UpdateStatus(_ context.Context, id string, from, to domain.CampaignStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	r.s.campaigns[id] = c
	return true, nil
}

func (r *memCampaignRepo) MarkStarted(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if ok && c.StartedAt == nil {
		c.StartedAt = &at
		r.s.campaigns[id] = c
	}
	return nil
}

func (r *memCampaignRepo) CreateStep(_ context.Context, s *domain.SequenceStep) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.steps[s.ID] = *s
	return nil
}

func (r *memCampaignRepo) GetStep(_ context.Context, stepID string) (*domain.SequenceStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s, ok := r.s.steps[stepID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (r *memCampaignRepo) GetStepByNumber(_ context.Context, campaignID string, sequenceNumber int) (*domain.SequenceStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, s := range r.s.steps {
		if s.CampaignID == campaignID && s.SequenceNumber == sequenceNumber {
			step := s
			return &step, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memCampaignRepo) ListSteps(_ context.Context, campaignID string) ([]domain.SequenceStep, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var steps []domain.SequenceStep
	for _, s := range r.s.steps {
		if s.CampaignID == campaignID {
			steps = append(steps, s)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].SequenceNumber < steps[j].SequenceNumber })
	return steps, nil
}

type memLeadRepo struct{ s *memStore }

func (r *memLeadRepo) Create(_ context.Context, l *domain.Lead) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.leads[l.ID] = *l
	return nil
}

func (r *memLeadRepo) GetByID(_ context.Context, id string) (*domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	l, ok := r.s.leads[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &l, nil
}

func (r *memLeadRepo) GetByEmail(_ context.Context, email string) (*domain.Lead, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	normalized := domain.NormalizeEmail(email)
	for _, l := range r.s.leads {
		if domain.NormalizeEmail(l.Email) == normalized {
			lead := l
			return &lead, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memEnrollmentRepo struct{ s *memStore }

func (r *memEnrollmentRepo) Create(_ context.Context, e *domain.LeadEnrollment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.enrollments {
		if existing.CampaignID == e.CampaignID && existing.LeadID == e.LeadID {
			return domain.ErrConflict
		}
	}
	r.s.enrollments[e.ID] = *e
	return nil
}

func (r *memEnrollmentRepo) GetByID(_ context.Context, id string) (*domain.LeadEnrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &e, nil
}

func (r *memEnrollmentRepo) Transition(_ context.Context, id string, from, to domain.EnrollmentStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, domain.ErrConflict
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok || e.Status != from {
		return false, nil
	}
	e.Status = to
	r.s.enrollments[id] = e
	return true, nil
}

func (r *memEnrollmentRepo) MarkStarted(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if ok && e.StartedAt == nil {
		e.StartedAt = &at
		r.s.enrollments[id] = e
	}
	return nil
}

func (r *memEnrollmentRepo) SetScheduled(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if ok {
		e.ScheduledAt = &at
		r.s.enrollments[id] = e
	}
	return nil
}

func (r *memEnrollmentRepo) Advance(_ context.Context, id string, fromSequence int) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok || e.CurrentSequence != fromSequence {
		return false, nil
	}
	e.CurrentSequence = fromSequence + 1
	r.s.enrollments[id] = e
	return true, nil
}

func (r *memEnrollmentRepo) Finalize(_ context.Context, id string, status domain.EnrollmentStatus, reason *domain.StopReason, at time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, domain.ErrConflict
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.enrollments[id]
	if !ok || e.Status.IsTerminal() {
		return false, nil
	}
	e.Status = status
	e.StoppedReason = reason
	e.CompletedAt = &at
	r.s.enrollments[id] = e
	return true, nil
}

func (r *memEnrollmentRepo) ListNonTerminalByLead(_ context.Context, leadID string) ([]domain.LeadEnrollment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.LeadEnrollment
	for _, e := range r.s.enrollments {
		if e.LeadID == leadID && !e.Status.IsTerminal() {
			out = append(out, e)
		}
	}
	return out, nil
}

type memQueueRepo struct{ s *memStore }

func (r *memQueueRepo) Create(_ context.Context, item *domain.ScheduleQueueItem) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.items {
		open := existing.Status == domain.QueueItemStatusPending || existing.Status == domain.QueueItemStatusScheduled
		if existing.EnrollmentID == item.EnrollmentID && open {
			return domain.ErrConflict
		}
	}
	item.CreatedAt = time.Now()
	r.s.items[item.ID] = *item
	return nil
}

func (r *memQueueRepo) GetByID(_ context.Context, id string) (*domain.ScheduleQueueItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &item, nil
}

func (r *memQueueRepo) GetDue(_ context.Context, now time.Time, limit int) ([]domain.ScheduleQueueItem, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var due []domain.ScheduleQueueItem
	for _, item := range r.s.items {
		if item.Status == domain.QueueItemStatusPending && !item.ScheduledFor.After(now) {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ScheduledFor.Before(due[j].ScheduledFor)
		}
		return due[i].CreatedAt.Before(due[j].CreatedAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *memQueueRepo) Claim(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.items[id]
	if !ok || item.Status != domain.QueueItemStatusPending {
		return false, nil
	}
	item.Status = domain.QueueItemStatusScheduled
	r.s.items[id] = item
	return true, nil
}

func (r *memQueueRepo) MarkSentWithEvent(_ context.Context, id string, event *domain.EngagementEvent) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.items[id]
	if !ok || item.Status != domain.QueueItemStatusScheduled {
		return false, nil
	}
	item.Status = domain.QueueItemStatusSent
	r.s.items[id] = item
	r.s.events = append(r.s.events, *event)
	return true, nil
}

func (r *memQueueRepo) Reschedule(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.Status = domain.QueueItemStatusPending
	item.ScheduledFor = at
	r.s.items[id] = item
	return nil
}

func (r *memQueueRepo) RescheduleRetry(_ context.Context, id string, at time.Time, lastError string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.Status = domain.QueueItemStatusPending
	item.ScheduledFor = at
	item.Attempts++
	item.LastError = &lastError
	r.s.items[id] = item
	return nil
}

func (r *memQueueRepo) MarkFailed(_ context.Context, id string, lastError string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	item.Status = domain.QueueItemStatusFailed
	item.Attempts++
	item.LastError = &lastError
	r.s.items[id] = item
	return nil
}

func (r *memQueueRepo) MarkCancelled(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.items[id]
	if ok && !item.Status.IsTerminal() {
		item.Status = domain.QueueItemStatusCancelled
		r.s.items[id] = item
	}
	return nil
}

func (r *memQueueRepo) MarkPaused(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	item, ok := r.s.items[id]
	if ok && (item.Status == domain.QueueItemStatusPending || item.Status == domain.QueueItemStatusScheduled) {
		item.Status = domain.QueueItemStatusPaused
		r.s.items[id] = item
	}
	return nil
}

func (r *memQueueRepo) CancelForEnrollment(_ context.Context, enrollmentID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, item := range r.s.items {
		open := item.Status == domain.QueueItemStatusPending ||
			item.Status == domain.QueueItemStatusScheduled ||
			item.Status == domain.QueueItemStatusPaused
		if item.EnrollmentID == enrollmentID && open {
			item.Status = domain.QueueItemStatusCancelled
			r.s.items[id] = item
			n++
		}
	}
	return n, nil
}

func (r *memQueueRepo) PauseForCampaign(_ context.Context, campaignID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, item := range r.s.items {
		open := item.Status == domain.QueueItemStatusPending || item.Status == domain.QueueItemStatusScheduled
		if item.CampaignID == campaignID && open {
			item.Status = domain.QueueItemStatusPaused
			r.s.items[id] = item
			n++
		}
	}
	return n, nil
}

func (r *memQueueRepo) ResumeForCampaign(_ context.Context, campaignID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, item := range r.s.items {
		if item.CampaignID == campaignID && item.Status == domain.QueueItemStatusPaused {
			item.Status = domain.QueueItemStatusPending
			r.s.items[id] = item
			n++
		}
	}
	return n, nil
}

func (r *memQueueRepo) CancelForCampaign(_ context.Context, campaignID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, item := range r.s.items {
		if item.CampaignID == campaignID && !item.Status.IsTerminal() {
			item.Status = domain.QueueItemStatusCancelled
			r.s.items[id] = item
			n++
		}
	}
	return n, nil
}

type memEventRepo struct{ s *memStore }

func (r *memEventRepo) Append(_ context.Context, e *domain.EngagementEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.events = append(r.s.events, *e)
	return nil
}

func (r *memEventRepo) ExistsForStep(_ context.Context, enrollmentID, stepID string, eventType domain.EventType) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.events {
		if e.EnrollmentID == enrollmentID && e.StepID == stepID && e.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

func (r *memEventRepo) ExistsSince(_ context.Context, campaignID, leadID string, eventType domain.EventType, since *time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.events {
		if e.CampaignID != campaignID || e.LeadID != leadID || e.Type != eventType {
			continue
		}
		if since != nil && e.CreatedAt.Before(*since) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (r *memEventRepo) LastSent(_ context.Context, enrollmentID string) (*domain.EngagementEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var last *domain.EngagementEvent
	for i := range r.s.events {
		e := r.s.events[i]
		if e.EnrollmentID != enrollmentID || e.Type != domain.EventSent {
			continue
		}
		if last == nil || e.CreatedAt.After(last.CreatedAt) {
			last = &e
		}
	}
	return last, nil
}

func (r *memEventRepo) CountByType(_ context.Context, campaignID string) ([]repository.EventCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := make(map[domain.EventType]int)
	for _, e := range r.s.events {
		if e.CampaignID == campaignID {
			counts[e.Type]++
		}
	}
	out := make([]repository.EventCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, repository.EventCount{Type: t, Count: n})
	}
	return out, nil
}

func (r *memEventRepo) ListByCampaign(_ context.Context, campaignID string) ([]domain.EngagementEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.EngagementEvent
	for _, e := range r.s.events {
		if e.CampaignID == campaignID {
			out = append(out, e)
		}
	}
	return out, nil
}

type memSuppressionRepo struct{ s *memStore }

func (r *memSuppressionRepo) Insert(_ context.Context, entry *domain.SuppressionEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := domain.NormalizeEmail(entry.Email)
	if _, exists := r.s.suppressions[key]; !exists {
		r.s.suppressions[key] = *entry
	}
	return nil
}

func (r *memSuppressionRepo) IsSuppressed(_ context.Context, email string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.suppressions[domain.NormalizeEmail(email)]
	return ok, nil
}

func (r *memSuppressionRepo) GetByEmail(_ context.Context, email string) (*domain.SuppressionEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entry, ok := r.s.suppressions[domain.NormalizeEmail(email)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &entry, nil
}

// fakeSender captures sent messages; sendFunc overrides the default success.
type fakeSender struct {
	mu       sync.Mutex
	sent     []sender.Message
	sendFunc func(ctx context.Context, msg sender.Message) (*sender.Response, error)
}

func (f *fakeSender) Send(ctx context.Context, msg sender.Message) (*sender.Response, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.sendFunc != nil {
		return f.sendFunc(ctx, msg)
	}
	return &sender.Response{MessageID: "msg-" + uuid.NewString()}, nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeLimiter grants permits up to grant per (campaign, day).
type fakeLimiter struct {
	mu    sync.Mutex
	used  map[string]int
	grant int
}

func newFakeLimiter(grant int) *fakeLimiter {
	return &fakeLimiter{used: make(map[string]int), grant: grant}
}

func (f *fakeLimiter) TryAcquire(_ context.Context, campaignID, day string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if f.grant > 0 && f.grant < limit {
		limit = f.grant
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := campaignID + "|" + day
	if f.used[key] >= limit {
		return false, nil
	}
	f.used[key]++
	return true, nil
}

// testHarness bundles a fully wired engine over the in-memory store.
type testHarness struct {
	store   *memStore
	engine  *Engine
	sender  *fakeSender
	limiter *fakeLimiter
	now     time.Time
}

func newHarness(opts Options) *testHarness {
	store := newMemStore()
	snd := &fakeSender{}
	limiter := newFakeLimiter(0)

	h := &testHarness{
		store:   store,
		sender:  snd,
		limiter: limiter,
		now:     time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC),
	}

	eng := New(
		&memCampaignRepo{s: store},
		&memLeadRepo{s: store},
		&memEnrollmentRepo{s: store},
		&memQueueRepo{s: store},
		&memEventRepo{s: store},
		&memSuppressionRepo{s: store},
		snd,
		limiter,
		opts,
		nil,
	)
	eng.now = func() time.Time { return h.now }
	h.engine = eng
	return h
}

func (h *testHarness) advanceTime(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *testHarness) addCampaign(c domain.Campaign) domain.Campaign {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = domain.CampaignStatusActive
	}
	if c.FromAddress == "" {
		c.FromAddress = "sales@acme.io"
	}
	if c.Name == "" {
		c.Name = "Test Campaign"
	}
	h.store.campaigns[c.ID] = c
	return c
}

func (h *testHarness) addStep(campaignID string, number int, condition domain.ConditionType, delay time.Duration) domain.SequenceStep {
	step := domain.SequenceStep{
		ID:              uuid.NewString(),
		CampaignID:      campaignID,
		SequenceNumber:  number,
		SubjectTemplate: "Subject {{first_name}}",
		BodyTemplate:    "<p>Hi {{first_name}}</p>",
		DelayHours:      int(delay / time.Hour),
		Condition:       condition,
	}
	h.store.steps[step.ID] = step
	return step
}

func (h *testHarness) addLead(email string) domain.Lead {
	lead := domain.Lead{
		ID:         uuid.NewString(),
		Email:      email,
		Attributes: map[string]string{"first_name": "Sam"},
	}
	h.store.leads[lead.ID] = lead
	return lead
}

// enroll creates a scheduled enrollment with a pending step-1 item due now.
func (h *testHarness) enroll(campaignID, leadID, firstStepID string) (domain.LeadEnrollment, domain.ScheduleQueueItem) {
	enrollment := domain.LeadEnrollment{
		ID:         uuid.NewString(),
		CampaignID: campaignID,
		LeadID:     leadID,
		Status:     domain.EnrollmentStatusScheduled,
	}
	h.store.enrollments[enrollment.ID] = enrollment

	item := domain.ScheduleQueueItem{
		ID:           uuid.NewString(),
		EnrollmentID: enrollment.ID,
		CampaignID:   campaignID,
		LeadID:       leadID,
		StepID:       firstStepID,
		ScheduledFor: h.now,
		Status:       domain.QueueItemStatusPending,
		CreatedAt:    h.now,
	}
	h.store.items[item.ID] = item
	return enrollment, item
}

func (h *testHarness) enrollment(id string) domain.LeadEnrollment {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return h.store.enrollments[id]
}

func (h *testHarness) item(id string) domain.ScheduleQueueItem {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return h.store.items[id]
}

func (h *testHarness) eventsOfType(t domain.EventType) []domain.EngagementEvent {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	var out []domain.EngagementEvent
	for _, e := range h.store.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (h *testHarness) openItems() []domain.ScheduleQueueItem {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	var out []domain.ScheduleQueueItem
	for _, item := range h.store.items {
		if item.Status == domain.QueueItemStatusPending || item.Status == domain.QueueItemStatusScheduled {
			out = append(out, item)
		}
	}
	return out
}
